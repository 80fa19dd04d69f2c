package crdt

import (
	"strings"
	"testing"
)

// typeString inserts text at the end of the doc and returns the ops.
func typeString(d *Doc, text string) []Op {
	var ops []Op
	for _, r := range text {
		ops = append(ops, d.LocalInsert(len([]rune(d.Text())), string(r)))
	}
	return ops
}

func applyAll(t *testing.T, d *Doc, ops []Op) {
	t.Helper()
	for _, op := range ops {
		if _, err := d.Integrate(op); err != nil {
			t.Fatalf("Integrate(%+v): %v", op, err)
		}
	}
}

func TestSeedIfEmpty(t *testing.T) {
	d := New("server")
	if !d.SeedIfEmpty("hello") {
		t.Fatal("seed of empty doc should succeed")
	}
	if d.Text() != "hello" {
		t.Fatalf("Text() = %q, want %q", d.Text(), "hello")
	}
	if d.SeedIfEmpty("stale loaded content") {
		t.Fatal("second seed must be refused")
	}
	if d.Text() != "hello" {
		t.Fatalf("seed guard failed, Text() = %q", d.Text())
	}
}

func TestSeedGuardCountsTombstones(t *testing.T) {
	d := New("server")
	typeString(d, "x")
	if _, ok := d.LocalDelete(0); !ok {
		t.Fatal("LocalDelete failed")
	}
	if d.Text() != "" {
		t.Fatalf("Text() = %q, want empty", d.Text())
	}
	// Had text once; a late load must not resurrect anything.
	if d.SeedIfEmpty("loaded") {
		t.Fatal("doc with tombstones is not empty")
	}
}

func TestLocalInsertAndDelete(t *testing.T) {
	d := New("a")
	typeString(d, "helo")
	d.LocalInsert(3, "l")
	if d.Text() != "hello" {
		t.Fatalf("Text() = %q, want %q", d.Text(), "hello")
	}
	op, ok := d.LocalDelete(0)
	if !ok || op.Action != ActionDelete {
		t.Fatalf("LocalDelete returned %+v, %v", op, ok)
	}
	if d.Text() != "ello" {
		t.Fatalf("Text() = %q, want %q", d.Text(), "ello")
	}
}

func TestIntegrateIsIdempotent(t *testing.T) {
	a := New("a")
	b := New("b")
	ops := typeString(a, "hi")
	applyAll(t, b, ops)
	applyAll(t, b, ops)
	if b.Text() != "hi" {
		t.Fatalf("Text() = %q, want %q", b.Text(), "hi")
	}
}

func TestConcurrentInsertsConverge(t *testing.T) {
	a := New("a")
	b := New("b")
	base := typeString(a, "hello")
	applyAll(t, b, base)

	// Both sites insert concurrently at the end.
	opA := a.LocalInsert(5, "!")
	opB := b.LocalInsert(5, "?")

	applyAll(t, a, []Op{opB})
	applyAll(t, b, []Op{opA})

	if a.Text() != b.Text() {
		t.Fatalf("replicas diverged: %q vs %q", a.Text(), b.Text())
	}
	if len(a.Text()) != 7 {
		t.Fatalf("lost an insert: %q", a.Text())
	}
}

func TestConcurrentEditSequencesConverge(t *testing.T) {
	a := New("a")
	b := New("b")
	base := typeString(a, "hello")
	applyAll(t, b, base)

	var opsA []Op
	for i, r := range " world" {
		opsA = append(opsA, a.LocalInsert(5+i, string(r)))
	}
	var opsB []Op
	for i, r := range "Oh, " {
		opsB = append(opsB, b.LocalInsert(i, string(r)))
	}
	delOp, ok := b.LocalDelete(4)
	if !ok {
		t.Fatal("LocalDelete failed")
	}
	opsB = append(opsB, delOp)

	// Deliver in opposite orders.
	applyAll(t, a, opsB)
	applyAll(t, b, opsA)

	if a.Text() != b.Text() {
		t.Fatalf("replicas diverged: %q vs %q", a.Text(), b.Text())
	}
	if !strings.Contains(a.Text(), "world") || !strings.Contains(a.Text(), "Oh, ") {
		t.Fatalf("merge lost edits: %q", a.Text())
	}
}

func TestPendingOpsApplyOnArrival(t *testing.T) {
	a := New("a")
	b := New("b")

	op1 := a.LocalInsert(0, "x")
	op2 := a.LocalInsert(1, "y")

	// Deliver out of order: op2's origin (op1) has not arrived yet.
	applyAll(t, b, []Op{op2, op1})
	if b.Text() != "xy" {
		t.Fatalf("Text() = %q, want %q", b.Text(), "xy")
	}
}

func TestDeleteBeforeInsertArrives(t *testing.T) {
	a := New("a")
	b := New("b")

	ins := a.LocalInsert(0, "x")
	del, ok := a.LocalDelete(0)
	if !ok {
		t.Fatal("LocalDelete failed")
	}

	applyAll(t, b, []Op{del, ins})
	if b.Text() != "" {
		t.Fatalf("Text() = %q, want empty", b.Text())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	d := New("server")
	typeString(d, "abc")
	d.LocalDelete(1)
	snap := d.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot should include tombstones, got %d chars", len(snap))
	}
	visible := 0
	for _, c := range snap {
		if !c.Deleted {
			visible++
		}
	}
	if visible != 2 {
		t.Fatalf("expected 2 visible chars, got %d", visible)
	}
}
