package reconciler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyLocker serializes work on a plant day key. Lock blocks until the key is
// free or ctx is done and returns the function releasing it.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (func() error, error)
}

// LocalLocker is an in-process keyed mutex
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process keyed mutex
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

// Lock acquires the key, waiting for the current holder if any
func (l *LocalLocker) Lock(ctx context.Context, key string) (func() error, error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() error {
		once.Do(func() { l.release(key, slot, true) })
		return nil
	}, nil
}

func (l *LocalLocker) release(key string, slot *lockSlot, held bool) {
	if held {
		<-slot.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// DefaultLockTTL is how long a Redis plant-day lock lives without release
const DefaultLockTTL = 30 * time.Second

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// RedisLocker holds plant day keys in Redis so several reconciler processes
// can share a database.
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	backoff time.Duration
}

// NewRedisLocker creates a Redis-backed locker. Keys expire after ttl so a
// crashed holder does not block a plant day forever.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		backoff: 50 * time.Millisecond,
	}
}

// Lock polls SETNX until the key is acquired or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func() error, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}

		wait := l.backoff + time.Duration(rand.Int63n(int64(l.backoff)))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s is held: %w", redisKey, ctx.Err())
		case <-time.After(wait):
		}
	}

	return func() error {
		// the caller's context may already be cancelled
		result, err := l.client.Eval(context.Background(), unlockScript, []string{redisKey}, token).Result()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", redisKey, err)
		}
		if result == int64(0) {
			return fmt.Errorf("unlock failed, lock %s expired or is held by another process", redisKey)
		}
		return nil
	}, nil
}
