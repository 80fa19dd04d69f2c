package collab

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"inkvault/api/internal/crdt"
	"inkvault/api/internal/store"
)

const storageTimeout = 10 * time.Second

// DocumentStore is the storage collaborator for document text. Load and
// save failures are logged here and never surfaced to clients.
type DocumentStore interface {
	LoadDocumentText(ctx context.Context, fileID string) (string, error)
	SaveDocumentText(ctx context.Context, fileID, text string) error
}

// PersistHook runs after every successful durable write, off the edit path.
// Used for search indexing and git snapshots.
type PersistHook func(fileID, text string, editor UserPayload)

// SessionManager owns at most one live replica per open document. Sessions
// are created lazily on first attach and torn down, after a final flush,
// when the last subscriber detaches.
type SessionManager struct {
	store    DocumentStore
	debounce *Debouncer
	hooks    []PersistHook
	missing  []func(fileID string)

	mu       sync.Mutex
	sessions map[string]*DocSession
}

// DocSession is the in-memory, single-writer-of-record state for one open
// document. All replica access is serialized through mu.
type DocSession struct {
	docID  string
	fileID string
	mgr    *SessionManager
	room   *Room

	loadOnce sync.Once

	mu         sync.Mutex
	doc        *crdt.Doc
	attached   map[*Client]struct{}
	loadFailed bool
	lastEditor UserPayload

	// closing is set by the last Detach before the terminal flush; done is
	// closed once the flush has landed and the session left the registry.
	closing bool
	done    chan struct{}
}

func NewSessionManager(docs DocumentStore, debounce *Debouncer, hooks ...PersistHook) *SessionManager {
	return &SessionManager{
		store:    docs,
		debounce: debounce,
		hooks:    hooks,
		sessions: make(map[string]*DocSession),
	}
}

// OnMissing registers fn to run when a flush finds the file row gone, which
// happens when the file is deleted through the vault API while a session is
// still open. Callers use it to purge derived state such as search entries.
func (m *SessionManager) OnMissing(fn func(fileID string)) {
	m.missing = append(m.missing, fn)
}

// DocRoomName namespaces document rooms away from presence rooms.
func DocRoomName(fileID string) string { return "file-" + fileID }

// Attach subscribes c to the document, creating and loading the session if
// this is the first subscriber. The returned session has already sent the
// doc:load snapshot to c.
func (m *SessionManager) Attach(fileID string, c *Client) *DocSession {
	docID := DocRoomName(fileID)

	for {
		m.mu.Lock()
		s, ok := m.sessions[docID]
		if !ok {
			s = &DocSession{
				docID:    docID,
				fileID:   fileID,
				mgr:      m,
				room:     NewRoom(docID),
				doc:      crdt.New("origin"),
				attached: make(map[*Client]struct{}),
				done:     make(chan struct{}),
			}
			m.sessions[docID] = s
		}
		m.mu.Unlock()

		// Concurrent first attaches block here until the one load finishes, so
		// every subscriber sees the loaded text.
		s.loadOnce.Do(s.load)

		s.mu.Lock()
		if s.closing {
			// The session is mid terminal flush. Wait for it to land so the
			// fresh session loads the flushed text, then start over.
			s.mu.Unlock()
			<-s.done
			continue
		}
		s.attached[c] = struct{}{}
		s.room.Add(c)
		payload := DocLoadPayload{
			FileID:   fileID,
			Text:     s.doc.Text(),
			Chars:    s.doc.Snapshot(),
			Degraded: s.loadFailed,
		}
		s.mu.Unlock()

		c.Send(mustFrame(EventDocLoad, payload))
		return s
	}
}

// Session returns the live session for fileID, if any. Exposed for tests
// and diagnostics.
func (m *SessionManager) Session(fileID string) (*DocSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[DocRoomName(fileID)]
	return s, ok
}

// OpenSessions reports how many documents are currently held in memory.
func (m *SessionManager) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (s *DocSession) load() {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	text, err := s.mgr.store.LoadDocumentText(ctx, s.fileID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// Degrade to an empty document rather than refusing the session,
			// but tell subscribers the load failed.
			log.Printf("collab: load document %s: %v", s.fileID, err)
			s.mu.Lock()
			s.loadFailed = true
			s.mu.Unlock()
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// An editor may have raced the load; never clobber their text.
	s.doc.SeedIfEmpty(text)
}

// ApplyEdit integrates ops from c, relays them to the other subscribers and
// schedules a debounced durable write. View-only connections get an explicit
// doc:error instead of a silent drop.
func (s *DocSession) ApplyEdit(c *Client, ops []crdt.Op) {
	if !c.Cap.CanEdit {
		c.Send(mustFrame(EventDocError, DocErrorPayload{
			FileID:  s.fileID,
			Code:    DocErrReadOnly,
			Message: "this vault is shared read-only",
		}))
		return
	}

	s.mu.Lock()
	applied := make([]crdt.Op, 0, len(ops))
	for _, op := range ops {
		ok, err := s.doc.Integrate(op)
		if err != nil {
			s.mu.Unlock()
			log.Printf("collab: reject op from %s on %s: %v", c.Cap.UserID, s.docID, err)
			c.Send(mustFrame(EventDocError, DocErrorPayload{
				FileID:  s.fileID,
				Code:    DocErrBadOp,
				Message: err.Error(),
			}))
			return
		}
		if ok {
			applied = append(applied, op)
		}
	}
	s.lastEditor = c.Cap.User()
	s.mu.Unlock()

	if len(applied) == 0 {
		return
	}

	s.room.Broadcast(mustFrame(EventDocUpdate, DocUpdatePayload{FileID: s.fileID, Ops: applied}), c)
	s.mgr.debounce.Schedule(s.docID, s.flush)
}

// Detach unsubscribes c. When the last subscriber leaves, the session is
// flushed synchronously and discarded; the flush is unconditional so a
// failed debounced write cannot lose the final state. The session stays in
// the registry, marked closing, until the flush lands: an Attach racing the
// teardown waits for it instead of loading text the flush has not written.
func (s *DocSession) Detach(c *Client) {
	s.mu.Lock()
	delete(s.attached, c)
	s.room.Remove(c)
	if len(s.attached) != 0 || s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.mu.Unlock()

	s.mgr.debounce.Cancel(s.docID)
	s.flush()

	s.mgr.mu.Lock()
	// Only the registered instance may retire itself.
	if s.mgr.sessions[s.docID] == s {
		delete(s.mgr.sessions, s.docID)
	}
	s.mgr.mu.Unlock()
	close(s.done)
}

// flush writes the current text durably. Failures are logged, not retried:
// the next edit reschedules, and the terminal flush tries once more.
func (s *DocSession) flush() {
	s.mu.Lock()
	text := s.doc.Text()
	editor := s.lastEditor
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	if err := s.mgr.store.SaveDocumentText(ctx, s.fileID, text); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The file was deleted out from under the session.
			log.Printf("collab: document %s deleted, dropping flush", s.fileID)
			for _, fn := range s.mgr.missing {
				fn(s.fileID)
			}
			return
		}
		log.Printf("collab: save document %s: %v", s.fileID, err)
		return
	}

	for _, hook := range s.mgr.hooks {
		hook(s.fileID, text, editor)
	}
}

// Text returns the session's current visible text.
func (s *DocSession) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Text()
}
