package research

import (
	"context"
	"regexp"
	"strings"

	"github.com/ayush/factcheck-agent/internal/models"
)

var profileJunkRe = regexp.MustCompile(`[^\p{L}\p{N}_\s\-']`)

// NormalizeProfileName lowercases, trims, collapses whitespace and drops
// punctuation other than hyphens and apostrophes.
func NormalizeProfileName(name string) string {
	name = profileJunkRe.ReplaceAllString(strings.ToLower(name), "")
	return strings.Join(strings.Fields(name), " ")
}

// ProfileStore persists speaker profiles under a unique normalized name.
type ProfileStore interface {
	GetOrCreateProfile(ctx context.Context, name, normalized string) (*models.SpeakerProfile, error)
}

// ProfileResolver maps a free-text source onto a stable speaker profile.
type ProfileResolver struct {
	store ProfileStore
}

func NewProfileResolver(store ProfileStore) *ProfileResolver {
	return &ProfileResolver{store: store}
}

// Resolve returns nil for an empty source.
func (r *ProfileResolver) Resolve(ctx context.Context, source string) (*models.SpeakerProfile, error) {
	normalized := NormalizeProfileName(source)
	if normalized == "" {
		return nil, nil
	}
	display := strings.Join(strings.Fields(source), " ")
	return r.store.GetOrCreateProfile(ctx, display, normalized)
}
