package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

const (
	cacheKeyPrefix = "memoire:cache:"
	cacheTagPrefix = "memoire:tag:"
)

// CacheRepository keeps JSON payloads in Redis under a private namespace.
// Entries may carry tags so that everything derived from one academic year can
// be evicted together. A nil client turns reads into misses and writes into no-ops.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Get decodes the entry stored under key into dest, or returns ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return appErrors.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A payload written by an older release is as good as absent.
		r.logger.Debug("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return appErrors.ErrCacheMiss
	}
	return nil
}

// Set stores value under key and registers it with every tag in one transaction.
// Tag sets live as long as their longest member.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, cacheKeyPrefix+key, payload, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, cacheTagPrefix+tag, key)
			pipe.ExpireGT(ctx, cacheTagPrefix+tag, ttl)
			pipe.ExpireNX(ctx, cacheTagPrefix+tag, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, namespaced(keys)...).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// InvalidateTag removes every entry registered under tag and the tag itself.
// It returns how many entries were evicted.
func (r *CacheRepository) InvalidateTag(ctx context.Context, tag string) (int, error) {
	if r.client == nil {
		return 0, nil
	}
	members, err := r.client.SMembers(ctx, cacheTagPrefix+tag).Result()
	if err != nil {
		return 0, fmt.Errorf("redis members of tag %s: %w", tag, err)
	}
	keys := append(namespaced(members), cacheTagPrefix+tag)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("redis invalidate tag %s: %w", tag, err)
	}
	return len(members), nil
}

func namespaced(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = cacheKeyPrefix + key
	}
	return out
}
