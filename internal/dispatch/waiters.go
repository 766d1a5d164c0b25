package dispatch

import (
	"sync"
	"time"
)

// Outcome is the terminal result of a remotely executed job.
type Outcome struct {
	PostURL string
	Err     error
}

// waiters is an expiring map of pending-completion channels keyed by job ID.
// A result arriving for an unknown or already-expired job ID is a no-op; the
// remote side may answer after the dispatcher gave up, and that late answer
// must be dropped silently.
type waiters struct {
	mu      sync.Mutex
	pending map[string]*waiter
	stop    chan struct{}
	once    sync.Once
}

type waiter struct {
	ch       chan Outcome
	deadline time.Time
}

func newWaiters(sweepInterval time.Duration) *waiters {
	w := &waiters{
		pending: make(map[string]*waiter),
		stop:    make(chan struct{}),
	}
	go w.janitor(sweepInterval)
	return w
}

// Register creates a waiter for jobID that auto-evicts after ttl. The
// returned channel receives at most one outcome.
func (w *waiters) Register(jobID string, ttl time.Duration) <-chan Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	wt := &waiter{
		ch:       make(chan Outcome, 1),
		deadline: time.Now().Add(ttl),
	}
	w.pending[jobID] = wt
	return wt.ch
}

// Resolve delivers an outcome to the waiter for jobID. Returns false when no
// waiter exists (unknown job or already timed out).
func (w *waiters) Resolve(jobID string, outcome Outcome) bool {
	w.mu.Lock()
	wt, ok := w.pending[jobID]
	if ok {
		delete(w.pending, jobID)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}
	wt.ch <- outcome
	return true
}

// Remove drops a waiter without resolving it, used when the dispatcher's own
// timeout fires first.
func (w *waiters) Remove(jobID string) {
	w.mu.Lock()
	delete(w.pending, jobID)
	w.mu.Unlock()
}

// Len returns the number of pending waiters.
func (w *waiters) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close stops the janitor.
func (w *waiters) Close() {
	w.once.Do(func() { close(w.stop) })
}

// janitor evicts expired waiters so abandoned entries cannot accumulate even
// when the registering goroutine is gone.
func (w *waiters) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case now := <-ticker.C:
			w.mu.Lock()
			for jobID, wt := range w.pending {
				if now.After(wt.deadline) {
					delete(w.pending, jobID)
				}
			}
			w.mu.Unlock()
		}
	}
}
