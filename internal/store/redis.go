package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates and pings a Redis client with optional password auth.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

// FingerprintCache maps statement fingerprints to the id of the first
// result stored for them.
type FingerprintCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewFingerprintCache(rdb *redis.Client, ttl time.Duration) *FingerprintCache {
	return &FingerprintCache{rdb: rdb, ttl: ttl}
}

func fingerprintKey(fp string) string { return "fingerprint:" + fp }

// Lookup returns the cached result id, or "" when absent.
func (c *FingerprintCache) Lookup(ctx context.Context, fingerprint string) (string, error) {
	val, err := c.rdb.Get(ctx, fingerprintKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Remember stores the mapping unless one already exists, so the oldest id wins.
func (c *FingerprintCache) Remember(ctx context.Context, fingerprint, researchID string) error {
	return c.rdb.SetNX(ctx, fingerprintKey(fingerprint), researchID, c.ttl).Err()
}
