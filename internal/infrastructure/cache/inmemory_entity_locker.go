package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campus/lmssync/internal/domain/lms"
)

// lockEntry is the semaphore of one key. refs counts holders and waiters so
// the entry can be dropped once nobody references it.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// InMemoryEntityLocker implements EntityLocker with one channel semaphore per key.
// It is suitable for single-instance deployments and testing.
type InMemoryEntityLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	maxWait time.Duration
}

// NewInMemoryEntityLocker creates an in-memory locker. A positive maxWait
// bounds how long Lock waits before failing with ErrLockTimeout.
func NewInMemoryEntityLocker(maxWait time.Duration) *InMemoryEntityLocker {
	return &InMemoryEntityLocker{
		entries: make(map[string]*lockEntry),
		maxWait: maxWait,
	}
}

// Lock blocks until key is free, ctx is done or maxWait elapses
func (l *InMemoryEntityLocker) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquireEntry(key)

	waitCtx, cancel := withMaxWait(ctx, l.maxWait)
	defer cancel()

	select {
	case e.sem <- struct{}{}:
	case <-waitCtx.Done():
		l.releaseEntry(key, e)
		return nil, waitError(ctx, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.releaseEntry(key, e)
		})
	}, nil
}

func (l *InMemoryEntityLocker) acquireEntry(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *InMemoryEntityLocker) releaseEntry(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Size returns the number of keys currently held or awaited (for testing/monitoring)
func (l *InMemoryEntityLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// withMaxWait derives the context bounding one acquisition
func withMaxWait(ctx context.Context, maxWait time.Duration) (context.Context, context.CancelFunc) {
	if maxWait <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, maxWait)
}

// waitError tells a caller cancellation apart from the locker's own deadline
func waitError(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", lms.ErrLockTimeout, key)
}

// Ensure InMemoryEntityLocker implements EntityLocker
var _ lms.EntityLocker = (*InMemoryEntityLocker)(nil)
