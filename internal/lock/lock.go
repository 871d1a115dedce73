// Package lock serialises ledger sections that read a collection and then write
// based on what they saw (duplicate scan, FIFO take, reconcile).
package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// Acquire blocks until the key is held or ctx is done. The returned func
	// releases the lock.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PoolKey guards the token collection together with the user aggregates
// derived from it.
const PoolKey = "tokens:pool"

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		}
	}
}
