package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ayush/factcheck-agent/internal/models"
)

// TokenPrefix starts every API key token: fck_<id>_<secret>.
const TokenPrefix = "fck"

// ErrInvalidKey covers malformed, unknown, revoked and mismatched keys.
var ErrInvalidKey = errors.New("invalid api key")

// Mint generates a new key id and token plus the bcrypt hash to store.
// The token is shown once and never persisted.
func Mint() (id, token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("mint api key: %w", err)
	}
	id = uuid.NewString()
	secret := hex.EncodeToString(buf)
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("mint api key: %w", err)
	}
	return id, TokenPrefix + "_" + id + "_" + secret, string(hashed), nil
}

// ParseToken splits a token into its key id and secret.
func ParseToken(token string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(token), "_")
	if len(parts) != 3 || parts[0] != TokenPrefix || parts[2] == "" {
		return "", "", ErrInvalidKey
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return "", "", ErrInvalidKey
	}
	return parts[1], parts[2], nil
}

// KeyStore defines the interface for API key persistence.
type KeyStore interface {
	GetAPIKey(ctx context.Context, id string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id string) error
}

// Verifier checks bearer tokens against stored keys.
type Verifier struct {
	keys  KeyStore
	cache *KeyCache
	log   *zap.Logger
}

// NewVerifier builds a Verifier; cache may be nil.
func NewVerifier(keys KeyStore, cache *KeyCache, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{keys: keys, cache: cache, log: log}
}

// Verify resolves a token to its key. The stored row is always loaded so
// revocation applies immediately; the cache only skips the bcrypt compare.
func (v *Verifier) Verify(ctx context.Context, token string) (*models.APIKey, error) {
	id, secret, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	key, err := v.keys.GetAPIKey(ctx, id)
	if err != nil {
		v.log.Debug("api key lookup failed", zap.String("key_id", id), zap.Error(err))
		return nil, ErrInvalidKey
	}
	if key.Revoked() {
		return nil, ErrInvalidKey
	}

	if !v.cachedValid(ctx, token, id) {
		if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)); err != nil {
			return nil, ErrInvalidKey
		}
		if v.cache != nil {
			if err := v.cache.Put(ctx, token, id); err != nil {
				v.log.Warn("api key cache write failed", zap.Error(err))
			}
		}
	}

	if err := v.keys.TouchAPIKey(ctx, id); err != nil {
		v.log.Warn("api key touch failed", zap.String("key_id", id), zap.Error(err))
	}
	return key, nil
}

func (v *Verifier) cachedValid(ctx context.Context, token, id string) bool {
	if v.cache == nil {
		return false
	}
	cached, err := v.cache.Get(ctx, token)
	if err != nil {
		v.log.Warn("api key cache read failed", zap.Error(err))
		return false
	}
	return cached == id
}

type ctxKey struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, ctxKey{}, key)
}

// KeyFrom returns the authenticated key, or nil.
func KeyFrom(ctx context.Context) *models.APIKey {
	key, _ := ctx.Value(ctxKey{}).(*models.APIKey)
	return key
}
