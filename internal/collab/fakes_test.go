package collab

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"inkvault/api/internal/crdt"
)

// fakeScheduler records scheduled tasks and fires them on demand, so timer
// behavior is deterministic under test.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*fakeTask
}

type fakeTask struct {
	d         time.Duration
	fn        func()
	fired     bool
	cancelled bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) After(d time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &fakeTask{d: d, fn: fn}
	s.tasks = append(s.tasks, task)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if task.fired {
			return false
		}
		task.cancelled = true
		return true
	}
}

// fire runs every armed task exactly once, in schedule order.
func (s *fakeScheduler) fire() {
	s.mu.Lock()
	var runnable []*fakeTask
	for _, task := range s.tasks {
		if !task.fired && !task.cancelled {
			task.fired = true
			runnable = append(runnable, task)
		}
	}
	s.mu.Unlock()

	for _, task := range runnable {
		task.fn()
	}
}

func (s *fakeScheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, task := range s.tasks {
		if !task.fired && !task.cancelled {
			n++
		}
	}
	return n
}

// fakeDocs is an in-memory DocumentStore with fault injection.
type fakeDocs struct {
	mu      sync.Mutex
	texts   map[string]string
	loads   int
	saves   int
	loadErr error
	saveErr error
	// when non-nil, LoadDocumentText blocks until the channel closes
	loadGate chan struct{}
	// when non-nil, SaveDocumentText signals saveStarted and then blocks
	// until the channel closes
	saveGate    chan struct{}
	saveStarted chan struct{}
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{texts: make(map[string]string)}
}

func (f *fakeDocs) LoadDocumentText(ctx context.Context, fileID string) (string, error) {
	f.mu.Lock()
	gate := f.loadGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return "", f.loadErr
	}
	return f.texts[fileID], nil
}

func (f *fakeDocs) SaveDocumentText(ctx context.Context, fileID, text string) error {
	f.mu.Lock()
	gate, started := f.saveGate, f.saveStarted
	f.mu.Unlock()
	if gate != nil {
		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.texts[fileID] = text
	return nil
}

func (f *fakeDocs) saved(fileID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[fileID]
}

func (f *fakeDocs) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeDocs) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// testClient builds a client without a websocket connection; frames pile up
// in its send buffer for inspection.
func testClient(userID string, canEdit bool) *Client {
	return NewClient(nil, "vault-1", Capability{
		UserID:      userID,
		DisplayName: "User " + userID,
		CanEdit:     canEdit,
	})
}

// drainFrames empties the client's send buffer and decodes each frame.
func drainFrames(t *testing.T, c *Client) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case msg := <-c.send:
			var frame Frame
			if err := json.Unmarshal(msg, &frame); err != nil {
				t.Fatalf("malformed frame %q: %v", msg, err)
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func framesByEvent(frames []Frame, event string) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// makeOps generates insert ops for text from an independent client replica.
func makeOps(site, text string) []crdt.Op {
	rep := crdt.New(site)
	var ops []crdt.Op
	pos := 0
	for _, r := range text {
		ops = append(ops, rep.LocalInsert(pos, string(r)))
		pos++
	}
	return ops
}
