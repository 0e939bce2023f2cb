package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryLockExclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "M1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = s.AcquireLock(ctx, "M1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must be rejected")

	// 不同地图互不影响
	_, ok, err = s.AcquireLock(ctx, "M2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, "M1", token))
	held, err := s.LockHeld(ctx, "M1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestMemoryLockConcurrentAcquire(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.AcquireLock(ctx, "M1", time.Minute)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for ok := range results {
		if ok {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestMemoryLockExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := NewMemoryStore()
	s.SetClock(clock.Now)
	ctx := context.Background()

	oldToken, ok, _ := s.AcquireLock(ctx, "M1", 60*time.Second)
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	refreshed, err := s.RefreshLock(ctx, "M1", oldToken, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, refreshed)

	clock.Advance(59 * time.Second)
	held, _ := s.LockHeld(ctx, "M1")
	assert.True(t, held, "refresh should have extended the lock")

	clock.Advance(2 * time.Second)
	held, _ = s.LockHeld(ctx, "M1")
	assert.False(t, held, "lock should self-clear after ttl")

	newToken, ok, _ := s.AcquireLock(ctx, "M1", 60*time.Second)
	require.True(t, ok)

	// 过期的旧持有者不能释放或续期新锁
	require.NoError(t, s.ReleaseLock(ctx, "M1", oldToken))
	held, _ = s.LockHeld(ctx, "M1")
	assert.True(t, held)
	refreshed, _ = s.RefreshLock(ctx, "M1", oldToken, time.Minute)
	assert.False(t, refreshed)

	require.NoError(t, s.ReleaseLock(ctx, "M1", newToken))
	held, _ = s.LockHeld(ctx, "M1")
	assert.False(t, held)
}

func TestMemoryCancelConsume(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := NewMemoryStore()
	s.SetClock(clock.Now)
	ctx := context.Background()

	got, err := s.ConsumeCancel(ctx, "M1")
	require.NoError(t, err)
	assert.False(t, got)

	require.NoError(t, s.RequestCancel(ctx, "M1", time.Minute))
	require.NoError(t, s.RequestCancel(ctx, "M1", time.Minute))

	got, _ = s.ConsumeCancel(ctx, "M1")
	assert.True(t, got)
	got, _ = s.ConsumeCancel(ctx, "M1")
	assert.False(t, got, "consume must clear the flag")

	require.NoError(t, s.RequestCancel(ctx, "M1", time.Minute))
	clock.Advance(2 * time.Minute)
	got, _ = s.ConsumeCancel(ctx, "M1")
	assert.False(t, got, "expired flag must read as absent")

	require.NoError(t, s.RequestCancel(ctx, "M1", time.Minute))
	require.NoError(t, s.ClearCancel(ctx, "M1"))
	got, _ = s.ConsumeCancel(ctx, "M1")
	assert.False(t, got)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "map_lock:M1", LockKey("M1"))
	assert.Equal(t, "messages:M1:cancelled", CancelKey("M1"))
}
