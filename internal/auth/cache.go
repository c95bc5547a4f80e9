package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyCacheTTL = 5 * time.Minute

// KeyCache wraps Redis to remember recently verified tokens.
type KeyCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewKeyCache(rdb *redis.Client, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyCacheTTL
	}
	return &KeyCache{rdb: rdb, ttl: ttl}
}

// Tokens are stored hashed.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "apikey:" + hex.EncodeToString(sum[:])
}

// Put stores a verified token -> key id mapping.
func (c *KeyCache) Put(ctx context.Context, token, keyID string) error {
	return c.rdb.Set(ctx, cacheKey(token), keyID, c.ttl).Err()
}

// Get returns the key id for a token, or "" if not found / expired.
func (c *KeyCache) Get(ctx context.Context, token string) (string, error) {
	val, err := c.rdb.Get(ctx, cacheKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}
