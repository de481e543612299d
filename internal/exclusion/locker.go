// Package exclusion provides short-lived named locks with a TTL, used to
// serialize background AI work per case across worker processes. The TTL is
// a safety net against a crashed holder, not a lease to be refreshed: it
// must exceed the worst-case provider round trip plus dispatch time or
// legitimate jobs get dropped as already-locked.
package exclusion

import (
	"context"
	"sync"
	"time"
)

// ReleaseFunc releases a held lock. Safe to call more than once.
type ReleaseFunc func()

// Locker hands out named TTL locks. Acquire never blocks: a held, unexpired
// lock yields acquired=false and the caller is expected to drop its work.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release ReleaseFunc, acquired bool, err error)
}

// InMemoryLocker is a single-process Locker for tests.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time // name -> expiry
	now   func() time.Time
}

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (l *InMemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, held := l.locks[name]; held && l.now().Before(expiry) {
		return nil, false, nil
	}
	l.locks[name] = l.now().Add(ttl)

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.locks, name)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}

// SetClock overrides the time source for TTL-expiry tests.
func (l *InMemoryLocker) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}
