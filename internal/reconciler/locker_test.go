package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "7:2025-01-15")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			assert.NoError(t, unlock())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Empty(t, locker.slots, "released keys should be forgotten")
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "1:2025-01-15")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "2:2025-01-15")
	require.NoError(t, err)
	assert.NoError(t, unlockB())
}

func TestLocalLocker_RespectsContext(t *testing.T) {
	locker := NewLocalLocker()

	unlock, err := locker.Lock(context.Background(), "key")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "key")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NoError(t, unlock())
	// a second unlock is a no-op
	assert.NoError(t, unlock())

	again, err := locker.Lock(context.Background(), "key")
	require.NoError(t, err)
	assert.NoError(t, again())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker_LockAndUnlock(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, "recon:lock:", time.Minute)

	unlock, err := locker.Lock(context.Background(), "7:2025-01-15")
	require.NoError(t, err)
	assert.True(t, mr.Exists("recon:lock:7:2025-01-15"))
	assert.Equal(t, time.Minute, mr.TTL("recon:lock:7:2025-01-15"))

	require.NoError(t, unlock())
	assert.False(t, mr.Exists("recon:lock:7:2025-01-15"))
}

func TestRedisLocker_WaitsForHolder(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRedisLocker(client, "recon:lock:", time.Minute)
	locker.backoff = 5 * time.Millisecond

	unlock, err := locker.Lock(context.Background(), "key")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "key")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		second, err := locker.Lock(context.Background(), "key")
		if assert.NoError(t, err) {
			assert.NoError(t, second())
		}
		close(acquired)
	}()

	require.NoError(t, unlock())
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestRedisLocker_ExpiredLock(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, "recon:lock:", time.Second)

	unlock, err := locker.Lock(context.Background(), "key")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	// another process takes over the expired key
	require.NoError(t, mr.Set("recon:lock:key", "someone-else"))

	err = unlock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired or is held by another process")

	value, err := mr.Get("recon:lock:key")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedisLocker_DefaultTTL(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRedisLocker(client, "", 0)
	assert.Equal(t, 30*time.Second, locker.ttl)
}
