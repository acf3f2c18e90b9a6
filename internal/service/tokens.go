package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"clipmill/internal/domain"
	"clipmill/internal/port"
)

// tokenBytes is the amount of randomness behind each issued token.
const tokenBytes = 24

const minTokenTTL = 60 * time.Second

// TokenService issues and validates single-artifact capability tokens. Only a
// keyed one-way hash of the bearer value is persisted; the raw value leaves
// the process exactly once, in the issue response.
type TokenService struct {
	store port.TokenStore
	key   []byte
	ttl   time.Duration
}

func NewTokenService(store port.TokenStore, secret string, ttl time.Duration) *TokenService {
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	return &TokenService{store: store, key: key, ttl: ttl}
}

func (s *TokenService) hash(raw string) (string, error) {
	h, err := blake2b.New256(s.key)
	if err != nil {
		return "", fmt.Errorf("init token hash: %w", err)
	}
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Issue mints a fresh token scoped to one artifact. Tokens are non-renewable;
// callers wanting continued access request a new one.
func (s *TokenService) Issue(ctx context.Context, artifactID string) (*domain.IssuedToken, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)

	tokenHash, err := s.hash(raw)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(s.ttl)
	if err := s.store.SaveToken(ctx, domain.NewAccessToken(artifactID, tokenHash, expiresAt)); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	return &domain.IssuedToken{
		ArtifactID: artifactID,
		Token:      raw,
		ExpiresAt:  expiresAt,
	}, nil
}

// Validate checks a presented raw value against the given artifact. A token
// that was never issued for this artifact and an expired one are both
// rejected; they differ only in the returned sentinel.
func (s *TokenService) Validate(ctx context.Context, artifactID, raw string) error {
	if raw == "" {
		return domain.ErrInvalidToken
	}

	tokenHash, err := s.hash(raw)
	if err != nil {
		return err
	}

	record, err := s.store.FindToken(ctx, artifactID, tokenHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidToken
		}
		return err
	}
	if record.Expired(time.Now()) {
		return domain.ErrExpiredToken
	}
	return nil
}
