/**
 * @description
 * Cluster-wide mutual exclusion for jobs that must run on exactly one replica
 * at a time. Redis leases are preferred; a PostgreSQL session advisory lock
 * covers deployments without Redis, and an in-process lock covers the memory
 * store.
 */
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock held by another owner")

// Locker hands out exclusive leases keyed by name. Acquire never blocks
// waiting for the current holder.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Release is safe to call once the lease has expired.
type Lease interface {
	Release(ctx context.Context) error
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.held[key]; ok && (ttl <= 0 || now.Before(expires)) {
		return nil, ErrNotAcquired
	}
	expires := now.Add(ttl)
	l.held[key] = expires
	return &localLease{locker: l, key: key, expires: expires}, nil
}

type localLease struct {
	locker  *LocalLocker
	key     string
	expires time.Time
}

func (l *localLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	// Only drop the entry we created; a later holder may own it now.
	if current, ok := l.locker.held[l.key]; ok && current.Equal(l.expires) {
		delete(l.locker.held, l.key)
	}
	return nil
}
