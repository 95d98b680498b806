package query

import (
	"context"
	"sync"

	"github.com/jackc/puddle/v2"

	"github.com/justjake/querylink/pkg/registry"
)

type ticket struct{}

// keyLocks serializes the ensure-then-checkout step per key, so concurrent
// first callers for a key wait on one connect instead of racing to make
// duplicates. Each key gets a one-ticket puddle pool, which gives a lock
// that honors context cancellation.
//
// Only ensure and checkout run under a key's lock. Executing does not.
type keyLocks struct {
	mu    sync.Mutex
	locks map[registry.Key]*keyLock
}

type keyLock struct {
	pool *puddle.Pool[ticket]
	// refs counts callers holding or waiting on pool. Guarded by keyLocks.mu.
	refs int
}

func (l *keyLocks) ref(key registry.Key) (*keyLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if kl, ok := l.locks[key]; ok {
		kl.refs++
		return kl, nil
	}
	p, err := puddle.NewPool(&puddle.Config[ticket]{
		Constructor: func(context.Context) (ticket, error) { return ticket{}, nil },
		Destructor:  func(ticket) {},
		MaxSize:     1,
	})
	if err != nil {
		return nil, err
	}
	if l.locks == nil {
		l.locks = make(map[registry.Key]*keyLock)
	}
	kl := &keyLock{pool: p, refs: 1}
	l.locks[key] = kl
	return kl, nil
}

func (l *keyLocks) unref(kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	l.mu.Unlock()
}

// acquire blocks until key's lock is free or ctx ends. The returned func
// releases it.
func (l *keyLocks) acquire(ctx context.Context, key registry.Key) (func(), error) {
	kl, err := l.ref(key)
	if err != nil {
		return nil, err
	}
	res, err := kl.pool.Acquire(ctx)
	if err != nil {
		l.unref(kl)
		return nil, err
	}
	return func() {
		res.Release()
		l.unref(kl)
	}, nil
}

// forget drops the locks of keys matching fn that nobody holds or waits
// on. It returns how many were dropped.
func (l *keyLocks) forget(fn func(registry.Key) bool) int {
	l.mu.Lock()
	var idle []*puddle.Pool[ticket]
	for key, kl := range l.locks {
		if kl.refs == 0 && fn(key) {
			idle = append(idle, kl.pool)
			delete(l.locks, key)
		}
	}
	l.mu.Unlock()
	for _, p := range idle {
		p.Close()
	}
	return len(idle)
}

func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *keyLocks) close() {
	l.mu.Lock()
	locks := l.locks
	l.locks = nil
	l.mu.Unlock()
	for _, kl := range locks {
		kl.pool.Close()
	}
}
