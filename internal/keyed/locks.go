package keyed

import (
	"context"
	"sync"
)

type keyLock struct {
	sem  chan struct{}
	refs int
}

// lockTable hands out one lock per key and forgets keys nobody holds or waits on.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

func (t *lockTable) acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &keyLock{sem: make(chan struct{}, 1)}
		t.locks[key] = lock
	}
	lock.refs++
	t.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		t.drop(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			t.drop(key, lock)
		})
	}, nil
}

func (t *lockTable) drop(key string, lock *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(t.locks, key)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
