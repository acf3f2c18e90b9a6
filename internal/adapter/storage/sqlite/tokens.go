package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clipmill/internal/domain"
)

func (s *Store) SaveToken(ctx context.Context, t *domain.AccessToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_tokens (id, artifact_id, token_hash, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID,
		t.ArtifactID,
		t.TokenHash,
		formatTime(t.ExpiresAt),
		formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// FindToken looks a token up by its artifact scope and hash. Tokens are
// write-once; there is no update path.
func (s *Store) FindToken(ctx context.Context, artifactID, tokenHash string) (*domain.AccessToken, error) {
	var (
		t         domain.AccessToken
		expiresAt string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, artifact_id, token_hash, expires_at, created_at
		 FROM access_tokens WHERE artifact_id = ? AND token_hash = ? LIMIT 1`,
		artifactID, tokenHash,
	).Scan(&t.ID, &t.ArtifactID, &t.TokenHash, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}

	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}
