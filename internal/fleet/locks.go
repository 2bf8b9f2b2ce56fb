package fleet

import (
	"context"
	"sync"
)

// lockRegistry hands out one mutual-exclusion handle per vehicle id.
//
// Handles are created on first use and kept for the process lifetime;
// the registry grows with fleet size only. Each handle is a one-slot
// channel so that waiters can give up when their context ends.
type lockRegistry struct {
	locks sync.Map // vehicle id -> chan struct{}
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{}
}

func (r *lockRegistry) handle(id string) chan struct{} {
	if l, ok := r.locks.Load(id); ok {
		return l.(chan struct{})
	}
	l, _ := r.locks.LoadOrStore(id, make(chan struct{}, 1))
	return l.(chan struct{})
}

// acquire blocks until the lock for id is held or ctx is done.
// The returned release func must be called exactly once.
func (r *lockRegistry) acquire(ctx context.Context, id string) (release func(), err error) {
	l := r.handle(id)
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// size returns the number of ids that have ever been locked.
func (r *lockRegistry) size() int {
	n := 0
	r.locks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
