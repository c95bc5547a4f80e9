package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
)

// NormalizeStatement case-folds and collapses whitespace.
func NormalizeStatement(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Fingerprint is the hex SHA-256 of the normalized statement.
func Fingerprint(statement string) string {
	sum := sha256.Sum256([]byte(NormalizeStatement(statement)))
	return hex.EncodeToString(sum[:])
}

// FingerprintIndex finds the oldest stored result for a fingerprint.
type FingerprintIndex interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (string, bool, error)
}

// FingerprintCache is a fast path in front of the index.
type FingerprintCache interface {
	Lookup(ctx context.Context, fingerprint string) (string, error)
	Remember(ctx context.Context, fingerprint, researchID string) error
}

// DedupResult is the outcome of a duplicate check.
type DedupResult struct {
	Fingerprint string
	Duplicate   bool
	PriorID     string
}

// Deduplicator detects statements that were already researched.
type Deduplicator struct {
	index FingerprintIndex
	cache FingerprintCache
	log   *zap.Logger
}

// NewDeduplicator builds a Deduplicator; cache may be nil.
func NewDeduplicator(index FingerprintIndex, cache FingerprintCache, log *zap.Logger) *Deduplicator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Deduplicator{index: index, cache: cache, log: log}
}

// Check looks the statement up. It fails open: on a storage error the
// statement is reported as new together with the error.
func (d *Deduplicator) Check(ctx context.Context, statement string) (DedupResult, error) {
	res := DedupResult{Fingerprint: Fingerprint(statement)}

	if d.cache != nil {
		id, err := d.cache.Lookup(ctx, res.Fingerprint)
		if err != nil {
			d.log.Warn("fingerprint cache lookup failed", zap.Error(err))
		} else if id != "" {
			res.Duplicate, res.PriorID = true, id
			return res, nil
		}
	}

	id, found, err := d.index.FindByFingerprint(ctx, res.Fingerprint)
	if err != nil {
		return res, err
	}
	if found {
		res.Duplicate, res.PriorID = true, id
		d.remember(ctx, res.Fingerprint, id)
	}
	return res, nil
}

// Remember records a freshly persisted result in the cache.
func (d *Deduplicator) Remember(ctx context.Context, fingerprint, researchID string) {
	d.remember(ctx, fingerprint, researchID)
}

func (d *Deduplicator) remember(ctx context.Context, fingerprint, researchID string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Remember(ctx, fingerprint, researchID); err != nil {
		d.log.Warn("fingerprint cache write failed", zap.String("research_id", researchID), zap.Error(err))
	}
}
