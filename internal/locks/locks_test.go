package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"automation-engine/internal/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "automation:a1", AutomationKey("a1"))
	assert.Equal(t, "task:t1", TaskKey("t1"))
	assert.Equal(t, "webhook:w1", WebhookKey("w1"))
}

func TestLocalManager(t *testing.T) {
	ctx := context.Background()

	t.Run("exclusive until released", func(t *testing.T) {
		m := NewLocalManager()
		lock, ok, err := m.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, lock.IsHeld())
		assert.Equal(t, "k", lock.Key())

		_, ok, err = m.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, lock.Release(ctx))
		assert.False(t, lock.IsHeld())

		_, ok, err = m.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expires after ttl", func(t *testing.T) {
		m := NewLocalManager()
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return now }

		first, ok, _ := m.TryAcquire(ctx, "k", time.Second)
		require.True(t, ok)

		now = now.Add(2 * time.Second)
		assert.False(t, first.IsHeld())

		second, ok, _ := m.TryAcquire(ctx, "k", time.Second)
		require.True(t, ok)

		require.NoError(t, first.Release(ctx))
		assert.True(t, second.IsHeld(), "a stale holder must not release the new holder")
	})

	t.Run("cancelled context", func(t *testing.T) {
		m := NewLocalManager()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, ok, err := m.TryAcquire(cctx, "k", time.Second)
		assert.False(t, ok)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("single winner under contention", func(t *testing.T) {
		m := NewLocalManager()
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, _ := m.TryAcquire(ctx, "k", time.Minute); ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})
}

func newRedsyncManager(t *testing.T) (*RedsyncManager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(context.Background(), &redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	manager, err := NewRedsyncManager(client)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager, mr
}

func TestRedsyncManager(t *testing.T) {
	ctx := context.Background()

	t.Run("requires client", func(t *testing.T) {
		_, err := NewRedsyncManager(nil)
		assert.Error(t, err)
	})

	t.Run("acquire and release", func(t *testing.T) {
		manager, mr := newRedsyncManager(t)

		lock, ok, err := manager.TryAcquire(ctx, AutomationKey("a1"), 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, lock.IsHeld())
		assert.True(t, mr.Exists("lock:automation:a1"))

		require.NoError(t, lock.Release(ctx))
		assert.False(t, lock.IsHeld())
		assert.False(t, mr.Exists("lock:automation:a1"))
		assert.NoError(t, lock.Release(ctx))
	})

	t.Run("contention reports not acquired", func(t *testing.T) {
		manager, _ := newRedsyncManager(t)

		first, ok, err := manager.TryAcquire(ctx, "contended", 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		defer first.Release(ctx)

		second, ok, err := manager.TryAcquire(ctx, "contended", 30*time.Second)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, second)
	})

	t.Run("close releases held locks", func(t *testing.T) {
		manager, mr := newRedsyncManager(t)

		lock, ok, err := manager.TryAcquire(ctx, "closing", 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, manager.Close())
		assert.False(t, lock.IsHeld())
		assert.False(t, mr.Exists("lock:closing"))
	})
}
