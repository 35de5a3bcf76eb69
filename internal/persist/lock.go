package persist

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// WriteLock is the single-writer lock over the durable store.
type WriteLock struct {
	sem *semaphore.Weighted
}

func NewWriteLock() *WriteLock {
	return &WriteLock{sem: semaphore.NewWeighted(1)}
}

func (l *WriteLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *WriteLock) Unlock() {
	l.sem.Release(1)
}

// With runs fn holding the lock. The lock is released even if fn fails or
// panics.
func (l *WriteLock) With(ctx context.Context, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
