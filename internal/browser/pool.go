// Package browser manages a bounded pool of browser instances with exclusive
// leases and age-based recycling.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// entry tracks one pooled instance. inst is nil while a launch reserved the
// slot but has not completed yet.
type entry struct {
	inst      Instance
	inUse     bool
	createdAt time.Time
}

// Pool hands out exclusive browser leases. At most maxSize instances exist at
// once; free instances older than maxAge are destroyed on the next Acquire.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	launcher Launcher
	maxSize  int
	maxAge   time.Duration
	entries  []*entry
	closed   bool
	log      *zap.SugaredLogger
}

// NewPool creates a pool over the given launcher.
func NewPool(launcher Launcher, maxSize int, maxAge time.Duration, log *zap.SugaredLogger) *Pool {
	p := &Pool{
		launcher: launcher,
		maxSize:  maxSize,
		maxAge:   maxAge,
		log:      log,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Lease is an exclusive checkout of one instance. Release is idempotent and
// must run on every code path; callers defer it immediately after Acquire.
type Lease struct {
	pool  *Pool
	entry *entry
	once  sync.Once
}

// Instance returns the leased browser instance.
func (l *Lease) Instance() Instance { return l.entry.inst }

// Release returns the instance to the pool. It never destroys the instance;
// age-based cleanup on a later Acquire does that.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.mu.Lock()
		l.entry.inUse = false
		l.pool.cond.Broadcast()
		l.pool.mu.Unlock()
	})
}

// Acquire returns a free instance, launching a new one if the pool has room.
// When the pool is full it waits until an instance is released (first-free-
// wins, no queueing) or ctx is cancelled. A cleanup pass runs first: any free
// instance past maxAge is destroyed.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cleanupLocked()

	for {
		if p.closed {
			return nil, errors.New("pool is closed")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, e := range p.entries {
			if !e.inUse && e.inst != nil {
				e.inUse = true
				return &Lease{pool: p, entry: e}, nil
			}
		}

		if len(p.entries) < p.maxSize {
			return p.launchLocked(ctx)
		}

		p.waitLocked(ctx)
	}
}

// launchLocked reserves a slot, launches outside the lock, and claims the new
// instance for the caller. Launch failure propagates; the pool does not
// retry.
func (p *Pool) launchLocked(ctx context.Context) (*Lease, error) {
	e := &entry{inUse: true, createdAt: time.Now()}
	p.entries = append(p.entries, e)

	p.mu.Unlock()
	inst, err := p.launcher.Launch(ctx)
	p.mu.Lock()

	if err != nil {
		p.removeLocked(e)
		p.cond.Broadcast()
		return nil, errors.Wrap(err, "launch instance")
	}
	if p.closed {
		p.removeLocked(e)
		p.mu.Unlock()
		inst.Close()
		p.mu.Lock()
		return nil, errors.New("pool is closed")
	}

	e.inst = inst
	p.log.Infow("launched browser instance", "pool_size", len(p.entries))
	return &Lease{pool: p, entry: e}, nil
}

// waitLocked blocks on the condition variable until another caller releases
// an instance, the pool closes, or ctx is cancelled.
func (p *Pool) waitLocked(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// keep nudging until the waiter observes cancellation; a single
		// Broadcast can fire before Wait has parked
		for {
			select {
			case <-done:
				return
			default:
				p.cond.Broadcast()
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()
	p.cond.Wait()
	close(done)
}

// cleanupLocked destroys free instances past maxAge. An in-use instance is
// never destroyed regardless of age.
func (p *Pool) cleanupLocked() {
	now := time.Now()
	kept := p.entries[:0]
	for _, e := range p.entries {
		if !e.inUse && e.inst != nil && now.Sub(e.createdAt) > p.maxAge {
			p.log.Infow("recycling aged browser instance", "age", now.Sub(e.createdAt))
			go e.inst.Close()
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
}

func (p *Pool) removeLocked(target *entry) {
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e != target {
			kept = append(kept, e)
		}
	}
	p.entries = kept
}

// Size returns the current number of pooled instances (including reserved
// slots still launching).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// InUse returns how many instances are currently leased.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.inUse {
			n++
		}
	}
	return n
}

// CloseAll destroys every instance and shuts down the launcher. Subsequent
// Acquire calls fail.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	p.closed = true
	instances := make([]Instance, 0, len(p.entries))
	for _, e := range p.entries {
		if e.inst != nil {
			instances = append(instances, e.inst)
		}
	}
	p.entries = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	var firstErr error
	for _, inst := range instances {
		if err := inst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.launcher.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
