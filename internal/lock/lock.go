// Package lock provides per-key mutual exclusion for read-decide-write
// sequences on a single aggregate.
package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrLockTimeout = errors.New("lock: timed out waiting for lock")

// Locker serializes work per key. The returned release func must be called
// exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

type keyedMutex struct {
	mu   chan struct{}
	refs int
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedMutex)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	km, ok := l.locks[key]
	if !ok {
		km = &keyedMutex{mu: make(chan struct{}, 1)}
		l.locks[key] = km
	}
	km.refs++
	l.mu.Unlock()

	select {
	case km.mu <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, km)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-km.mu
			l.unref(key, km)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, km *keyedMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	km.refs--
	if km.refs == 0 {
		delete(l.locks, key)
	}
}

// Held reports how many keys currently have holders or waiters.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
