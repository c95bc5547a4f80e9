package models

import "time"

// ProfileType classifies a speaker.
type ProfileType string

const (
	ProfilePerson       ProfileType = "person"
	ProfileMedia        ProfileType = "media"
	ProfileOrganization ProfileType = "organization"
)

// SpeakerProfile represents a row in the speaker_profiles table.
type SpeakerProfile struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	NameNormalized   string      `json:"name_normalized"`
	Type             ProfileType `json:"type"`
	Country          string      `json:"country,omitempty"`
	Party            string      `json:"party,omitempty"`
	Position         string      `json:"position,omitempty"`
	CredibilityScore int         `json:"credibility_score"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ProfileUpdate is a partial edit of a profile. Nil fields keep their
// stored value.
type ProfileUpdate struct {
	Name             *string      `json:"name,omitempty"              validate:"omitempty,notblank,max=255"`
	Type             *ProfileType `json:"type,omitempty"              validate:"omitempty,oneof=person media organization"`
	Country          *string      `json:"country,omitempty"           validate:"omitempty,len=2,alpha"`
	Party            *string      `json:"party,omitempty"             validate:"omitempty,max=255"`
	Position         *string      `json:"position,omitempty"          validate:"omitempty,max=255"`
	CredibilityScore *int         `json:"credibility_score,omitempty" validate:"omitempty,min=0,max=100"`

	// NameNormalized is derived from Name by the handler.
	NameNormalized *string `json:"-"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Type == nil && u.Country == nil &&
		u.Party == nil && u.Position == nil && u.CredibilityScore == nil
}

// ProfileStatement summarizes one research result attributed to a profile.
type ProfileStatement struct {
	ID         string    `json:"id"`
	Statement  string    `json:"statement"`
	Verdict    string    `json:"verdict"`
	Status     Status    `json:"status"`
	Correction *string   `json:"correction"`
	Country    string    `json:"country,omitempty"`
	Category   Category  `json:"category,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CategoryCount is one row of a per-category breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// StatementStats aggregates every result attributed to a profile.
type StatementStats struct {
	TotalStatements int             `json:"total_statements"`
	Categories      []CategoryCount `json:"categories"`
	StatusBreakdown map[string]int  `json:"status_breakdown"`
}

// ProfileStats is the response of the profile stats endpoint.
type ProfileStats struct {
	ProfileID        string             `json:"profile_id"`
	RecentStatements []ProfileStatement `json:"recent_statements"`
	Stats            StatementStats     `json:"stats"`
}
