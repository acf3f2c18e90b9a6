package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccessToken is the persisted half of a capability token: only the keyed
// one-way hash of the bearer value is stored, never the value itself. A token
// authorizes exactly one artifact and is write-once.
type AccessToken struct {
	ID         string
	ArtifactID string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

func NewAccessToken(artifactID, tokenHash string, expiresAt time.Time) *AccessToken {
	return &AccessToken{
		ID:         uuid.NewString(),
		ArtifactID: artifactID,
		TokenHash:  tokenHash,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC(),
	}
}

// Expired reports whether the token is no longer valid at the given instant.
func (t *AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IssuedToken pairs the raw bearer value with its expiry for the one response
// that ever carries it.
type IssuedToken struct {
	ArtifactID string    `json:"assetId"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
