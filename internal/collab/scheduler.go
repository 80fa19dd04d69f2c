package collab

import "time"

// CancelFunc cancels a scheduled task. It reports whether the task was
// stopped before running, with time.Timer.Stop semantics.
type CancelFunc func() bool

// Scheduler is the timer capability injected into the presence registry and
// the persistence debouncer so both can be driven by a fake in tests.
type Scheduler interface {
	After(d time.Duration, fn func()) CancelFunc
}

type realScheduler struct{}

func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) After(d time.Duration, fn func()) CancelFunc {
	timer := time.AfterFunc(d, fn)
	return timer.Stop
}
