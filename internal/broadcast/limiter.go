package broadcast

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"offerbot/internal/metrics"
)

// DefaultPermits keeps concurrent sends just under the platform's ~30 msg/s ceiling.
const DefaultPermits = 29

// Limiter is a counting gate shared by the relay and every send of a run.
//
// Resize swaps the underlying pool; permits already held are returned to the
// pool they were taken from, so a resize only affects later acquisitions.
type Limiter struct {
	mu  sync.Mutex
	sem *semaphore.Weighted
	n   int
}

func NewLimiter(permits int) *Limiter {
	if permits < 1 {
		permits = DefaultPermits
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(permits)), n: permits}
}

// Acquire blocks until a permit is free or ctx is done. The returned release
// must be called exactly once; extra calls are ignored.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	l.mu.Lock()
	sem := l.sem
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.BroadcastInFlight.Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			metrics.BroadcastInFlight.Dec()
			sem.Release(1)
		})
	}, nil
}

// Do runs fn while holding a permit.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (l *Limiter) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Resize sets the permit count for subsequent acquisitions.
func (l *Limiter) Resize(permits int) {
	if permits < 1 {
		permits = DefaultPermits
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if permits == l.n {
		return
	}
	l.sem = semaphore.NewWeighted(int64(permits))
	l.n = permits
}
