// Package crdt implements the replicated text type behind document sessions:
// an RGA (replicated growable array) of characters. Concurrent inserts and
// deletes from any number of sites merge to the same string regardless of
// arrival order; deletes leave tombstones so late inserts still find their
// origin.
package crdt

import (
	"fmt"
	"strings"
)

// ID identifies one character. The zero ID is the document head sentinel.
type ID struct {
	Site  string `json:"site"`
	Clock uint64 `json:"clock"`
}

func (a ID) IsHead() bool { return a.Site == "" && a.Clock == 0 }

// Less orders IDs by clock, site. Used to break ties between concurrent
// inserts at the same origin.
func (a ID) Less(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	return a.Site < b.Site
}

const (
	ActionInsert = "insert"
	ActionDelete = "delete"
)

// Op is one replicated edit. Insert carries Value and Origin (the ID of the
// character it was typed after); delete targets an existing ID.
type Op struct {
	Action string `json:"action"`
	ID     ID     `json:"id"`
	Origin ID     `json:"origin"`
	Value  string `json:"value,omitempty"`
}

// Char is one element of the sequence, tombstoned on delete.
type Char struct {
	ID      ID     `json:"id"`
	Origin  ID     `json:"origin"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Doc is one site's replica. Not safe for concurrent use; the document
// session serializes all access.
type Doc struct {
	site  string
	clock uint64
	chars []Char
	seen  map[ID]bool
	// ops whose origin or target has not arrived yet, keyed by the missing ID
	pending map[ID][]Op
}

func New(site string) *Doc {
	return &Doc{
		site:    site,
		seen:    map[ID]bool{},
		pending: map[ID][]Op{},
	}
}

// Empty reports whether the replica has never integrated an insert.
// Tombstones count: a document that had text and lost it is not empty.
func (d *Doc) Empty() bool {
	return len(d.chars) == 0
}

// Text returns the visible string.
func (d *Doc) Text() string {
	var b strings.Builder
	for _, c := range d.chars {
		if !c.Deleted {
			b.WriteString(c.Value)
		}
	}
	return b.String()
}

// Snapshot returns the full character sequence, tombstones included, for
// bootstrapping a new replica.
func (d *Doc) Snapshot() []Char {
	out := make([]Char, len(d.chars))
	copy(out, d.chars)
	return out
}

// SeedIfEmpty inserts text as a chain of local characters, but only when the
// replica is still empty. Returns whether the seed happened. The emptiness
// guard protects against a concurrent editor racing the initial load.
func (d *Doc) SeedIfEmpty(text string) bool {
	if !d.Empty() {
		return false
	}
	origin := ID{}
	for _, r := range text {
		op := d.nextInsert(origin, string(r))
		d.integrateInsert(op)
		origin = op.ID
	}
	return true
}

// LocalInsert creates and applies an insert of value at the visible position
// pos (0 = before the first visible character) and returns the op for
// broadcast.
func (d *Doc) LocalInsert(pos int, value string) Op {
	op := d.nextInsert(d.visibleOrigin(pos), value)
	d.integrateInsert(op)
	return op
}

// LocalDelete tombstones the visible character at pos. Returns false when
// pos is out of range.
func (d *Doc) LocalDelete(pos int) (Op, bool) {
	idx := d.visibleIndex(pos)
	if idx < 0 {
		return Op{}, false
	}
	op := Op{Action: ActionDelete, ID: d.chars[idx].ID}
	d.chars[idx].Deleted = true
	return op, true
}

// Integrate applies a remote op. Idempotent by ID; ops referencing characters
// that have not arrived yet are buffered and replayed once they do. Returns
// whether the op changed the replica now (buffered ops return true, malformed
// ops an error).
func (d *Doc) Integrate(op Op) (bool, error) {
	switch op.Action {
	case ActionInsert:
		if op.ID.IsHead() {
			return false, fmt.Errorf("insert with head id")
		}
		if d.seen[op.ID] {
			return false, nil
		}
		if !op.Origin.IsHead() && !d.seen[op.Origin] {
			d.pending[op.Origin] = append(d.pending[op.Origin], op)
			return true, nil
		}
		d.integrateInsert(op)
		d.flushPending(op.ID)
		return true, nil
	case ActionDelete:
		if !d.seen[op.ID] {
			d.pending[op.ID] = append(d.pending[op.ID], op)
			return true, nil
		}
		for i := range d.chars {
			if d.chars[i].ID == op.ID {
				d.chars[i].Deleted = true
				break
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown action %q", op.Action)
	}
}

func (d *Doc) nextInsert(origin ID, value string) Op {
	d.clock++
	return Op{
		Action: ActionInsert,
		ID:     ID{Site: d.site, Clock: d.clock},
		Origin: origin,
		Value:  value,
	}
}

// integrateInsert places op among its siblings: after its origin, before any
// concurrently inserted sibling with a smaller ID. This ordering is what
// makes integration commutative.
func (d *Doc) integrateInsert(op Op) {
	originIdx := -1
	if !op.Origin.IsHead() {
		originIdx = d.indexOf(op.Origin)
		if originIdx < 0 {
			// Origin vanished from the sequence; should not happen because
			// deletes only tombstone. Append as a last resort.
			originIdx = len(d.chars) - 1
		}
	}

	i := originIdx + 1
	for i < len(d.chars) {
		c := d.chars[i]
		cOriginIdx := -1
		if !c.Origin.IsHead() {
			cOriginIdx = d.indexOf(c.Origin)
		}
		if cOriginIdx < originIdx {
			break
		}
		if cOriginIdx == originIdx && c.ID.Less(op.ID) {
			break
		}
		i++
	}

	d.chars = append(d.chars, Char{})
	copy(d.chars[i+1:], d.chars[i:])
	d.chars[i] = Char{ID: op.ID, Origin: op.Origin, Value: op.Value}
	d.seen[op.ID] = true
	if op.ID.Site == d.site && op.ID.Clock > d.clock {
		d.clock = op.ID.Clock
	}
}

func (d *Doc) flushPending(arrived ID) {
	ops := d.pending[arrived]
	if len(ops) == 0 {
		return
	}
	delete(d.pending, arrived)
	for _, op := range ops {
		_, _ = d.Integrate(op)
	}
}

func (d *Doc) indexOf(id ID) int {
	for i, c := range d.chars {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (d *Doc) visibleOrigin(pos int) ID {
	idx := d.visibleIndex(pos - 1)
	if idx < 0 {
		return ID{}
	}
	return d.chars[idx].ID
}

// visibleIndex maps a visible position to an index in chars, -1 when out of
// range.
func (d *Doc) visibleIndex(pos int) int {
	if pos < 0 {
		return -1
	}
	n := 0
	for i, c := range d.chars {
		if c.Deleted {
			continue
		}
		if n == pos {
			return i
		}
		n++
	}
	return -1
}
