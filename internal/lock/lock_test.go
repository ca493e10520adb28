package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockerIsExclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	lease, err := locker.Acquire(ctx, "penalty-sweep", time.Minute)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := locker.Acquire(ctx, "penalty-sweep", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if _, err := locker.Acquire(ctx, "other", time.Minute); err != nil {
		t.Fatalf("independent key should be free: %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := locker.Acquire(ctx, "penalty-sweep", time.Minute); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestLocalLockerLeaseExpires(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	now := time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	stale, err := locker.Acquire(ctx, "penalty-sweep", time.Minute)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := locker.Acquire(ctx, "penalty-sweep", time.Minute); err != nil {
		t.Fatalf("expired lease should be reclaimable: %v", err)
	}

	// The stale holder must not release the new lease.
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release failed: %v", err)
	}
	if _, err := locker.Acquire(ctx, "penalty-sweep", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected new lease to survive stale release, got %v", err)
	}
}
