package models

import "time"

// APIKey represents a row in the PostgreSQL api_keys table.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Hash       string     `json:"-"` // never serialize
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func (k *APIKey) Revoked() bool { return k.RevokedAt != nil }
