// Package lock provides named, expiring mutual-exclusion locks used to
// serialise system-wide operations such as the academic year rollover.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockHeld is returned when another holder owns the lock.
	ErrLockHeld = errors.New("lock already held")
	// ErrLeaseLost is returned by Extend once the lock expired or changed hands.
	ErrLeaseLost = errors.New("lock lease lost")
)

// Lease is an acquired lock. Extend pushes the expiry ttl into the future
// while the holder still owns it. Releasing twice is a no-op.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker acquires named locks without blocking.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript renews the expiry only when the caller still owns the key.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker implements Locker with SET NX PX, shared by every API replica.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker builds a Redis backed locker. Keys are namespaced with prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire takes key for ttl or returns ErrLockHeld.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	fullKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLease{client: l.client, key: fullKey, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
	once   sync.Once
}

func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	renewed, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if renewed == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		err = releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	})
	return err
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock func() time.Time
}

type localEntry struct {
	token     string
	expiresAt time.Time
}

// NewLocalLocker constructs an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), clock: time.Now}
}

// Acquire takes key for ttl or returns ErrLockHeld. Expired entries are reclaimed.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if entry, ok := l.held[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrLockHeld
	}
	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return &localLease{locker: l, key: key, token: token}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  string
}

func (l *localLease) Extend(_ context.Context, ttl time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	now := l.locker.clock()
	entry, ok := l.locker.held[l.key]
	if !ok || entry.token != l.token || !now.Before(entry.expiresAt) {
		return ErrLeaseLost
	}
	entry.expiresAt = now.Add(ttl)
	l.locker.held[l.key] = entry
	return nil
}

func (l *localLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if entry, ok := l.locker.held[l.key]; ok && entry.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
