package db

import (
	"time"
)

// Token represents the persisted OAuth token data for one provider.
// ExpiresAt is an absolute point in time in RFC3339 format, computed when
// the token response was received, never a relative "seconds remaining".
type Token struct {
	ProviderKey  string `gorm:"primaryKey" json:"provider_key"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`

	// TTLSeconds is a housekeeping hint for external cache cleanup. It does
	// not by itself invalidate the token; validity is judged by ExpiresAt.
	TTLSeconds int64 `json:"ttl,omitempty"`
}

// ExpiresAtTime parses the stored expiry timestamp.
func (t *Token) ExpiresAtTime() (time.Time, error) {
	return time.Parse(time.RFC3339, t.ExpiresAt)
}

// AuthState holds the short-lived CSRF state for one pending authorization
// attempt. It is created when an authorization URL is generated and consumed
// exactly once when the matching callback arrives.
type AuthState struct {
	ProviderKey string `gorm:"primaryKey" json:"provider_key"`
	State       string `json:"state"`
	IssuedAt    string `json:"created_at"`
}

// IssuedAtTime parses the stored creation timestamp.
func (s *AuthState) IssuedAtTime() (time.Time, error) {
	return time.Parse(time.RFC3339, s.IssuedAt)
}
