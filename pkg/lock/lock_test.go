package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "transition:execute", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "transition:execute", time.Minute)
	require.True(t, errors.Is(err, ErrLockHeld))

	other, err := locker.Acquire(ctx, "archive:2024-2025", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := locker.Acquire(ctx, "transition:execute", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLockerExpiry(t *testing.T) {
	now := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// the stale lease must not release the new holder
	require.NoError(t, stale.Release(ctx))
	_, err = locker.Acquire(ctx, "k", time.Second)
	require.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, fresh.Release(ctx))
}

func TestLocalLockerConcurrentAcquire(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.Acquire(ctx, "transition:execute", time.Minute); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}

func TestLocalLeaseExtend(t *testing.T) {
	now := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "transition:execute", time.Second)
	require.NoError(t, err)

	now = now.Add(800 * time.Millisecond)
	require.NoError(t, lease.Extend(ctx, time.Second))

	now = now.Add(800 * time.Millisecond)
	_, err = locker.Acquire(ctx, "transition:execute", time.Second)
	require.ErrorIs(t, err, ErrLockHeld)

	now = now.Add(time.Second)
	require.ErrorIs(t, lease.Extend(ctx, time.Second), ErrLeaseLost)

	other, err := locker.Acquire(ctx, "transition:execute", time.Second)
	require.NoError(t, err)
	require.ErrorIs(t, lease.Extend(ctx, time.Second), ErrLeaseLost)
	require.NoError(t, other.Extend(ctx, time.Minute))

	require.NoError(t, lease.Release(ctx))
	_, err = locker.Acquire(ctx, "transition:execute", time.Second)
	require.ErrorIs(t, err, ErrLockHeld)
}
