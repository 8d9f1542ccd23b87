package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClaimLocksSingleFlight(t *testing.T) {
	locks := NewClaimLocks(5*time.Minute, nil)

	release, ok := locks.TryAcquire("u1")
	require.True(t, ok)

	_, ok = locks.TryAcquire("u1")
	require.False(t, ok)

	_, ok = locks.TryAcquire("u2")
	require.True(t, ok)

	release()
	release2, ok := locks.TryAcquire("u1")
	require.True(t, ok)
	release2()
}

func TestClaimLocksConcurrentAcquire(t *testing.T) {
	locks := NewClaimLocks(5*time.Minute, nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := locks.TryAcquire("u1"); ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
}

func TestClaimLocksStaleTakeover(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	locks := NewClaimLocks(5*time.Minute, func() time.Time { return now })

	staleRelease, ok := locks.TryAcquire("u1")
	require.True(t, ok)

	now = now.Add(5 * time.Minute)
	release, ok := locks.TryAcquire("u1")
	require.True(t, ok)

	// the stale holder must not clear the new entry
	staleRelease()
	_, ok = locks.TryAcquire("u1")
	require.False(t, ok)

	release()
	require.Equal(t, 0, locks.Len())
}

func TestClaimLocksSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	locks := NewClaimLocks(5*time.Minute, func() time.Time { return now })

	_, _ = locks.TryAcquire("old")
	now = now.Add(4 * time.Minute)
	_, _ = locks.TryAcquire("fresh")
	now = now.Add(time.Minute)

	require.Equal(t, 1, locks.Sweep())
	require.Equal(t, 1, locks.Len())
}
