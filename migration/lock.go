package migration

import (
	"context"
	"fmt"
	"sync"
)

// PoolLock provides mutual exclusion between the uptime and event-driven
// migration workers operating on the same cluster/pool: only one of them
// may be actively draining nodes in a given pool at a time.
type PoolLock struct {
	Cluster string
	Pool    string

	registry *LockRegistry
}

// Lock blocks until the lock is acquired or ctx is done, returning a
// release function the caller must invoke exactly once (typically via
// defer) to hand the lock back.
func (l *PoolLock) Lock(ctx context.Context) (func(), error) {
	mu := l.registry.mutexFor(l.Cluster, l.Pool)

	acquired := make(chan struct{})
	go func() {
		mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return mu.Unlock, nil
	case <-ctx.Done():
		// The acquiring goroutine may still win the mutex later; hand it
		// straight back so an abandoned acquire never leaves the pool locked.
		go func() {
			<-acquired
			mu.Unlock()
		}()
		return nil, fmt.Errorf("pool lock: %s/%s: %w", l.Cluster, l.Pool, ctx.Err())
	}
}

// LockRegistry hands out one *sync.Mutex per (cluster, pool) pair, created
// lazily and kept for the lifetime of the process so unrelated pools never
// contend with each other.
type LockRegistry struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

// NewLockRegistry builds an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{mutexes: make(map[string]*sync.Mutex)}
}

// For returns the PoolLock for the given cluster/pool.
func (r *LockRegistry) For(cluster, pool string) *PoolLock {
	return &PoolLock{Cluster: cluster, Pool: pool, registry: r}
}

func (r *LockRegistry) mutexFor(cluster, pool string) *sync.Mutex {
	key := cluster + "/" + pool

	r.mu.Lock()
	defer r.mu.Unlock()

	if mu, ok := r.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	r.mutexes[key] = mu
	return mu
}
