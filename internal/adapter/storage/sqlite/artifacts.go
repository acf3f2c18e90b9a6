package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clipmill/internal/domain"
)

const artifactColumns = `id, item_id, kind, format, storage_key, data,
	byte_size, is_default, time_offset_ms, created_at`

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertArtifact(ctx context.Context, ex execContexter, a *domain.Artifact) error {
	var offset any
	if a.TimeOffsetMs != nil {
		offset = *a.TimeOffsetMs
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO artifacts (`+artifactColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.ItemID,
		string(a.Kind),
		string(a.Format),
		a.Key,
		a.Data,
		a.ByteSize,
		boolToInt(a.IsDefault),
		offset,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *Store) SaveArtifact(ctx context.Context, a *domain.Artifact) error {
	return insertArtifact(ctx, s.db, a)
}

func (s *Store) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

func (s *Store) ListArtifactsByItem(ctx context.Context, itemID string) ([]*domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE item_id = ? ORDER BY created_at, id`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// DefaultPosterID returns the id of the item's default poster, or empty when
// none exists yet.
func (s *Store) DefaultPosterID(ctx context.Context, itemID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM artifacts WHERE item_id = ? AND kind = ? AND is_default = 1 LIMIT 1`,
		itemID, string(domain.ArtifactPoster),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("default poster: %w", err)
	}
	return id, nil
}

// DeleteDerivedArtifacts removes every non-ORIGINAL artifact of the item and
// returns the removed records. Retries use this to re-run the pipeline
// without accumulating duplicate rows across attempts.
func (s *Store) DeleteDerivedArtifacts(ctx context.Context, itemID string) ([]*domain.Artifact, error) {
	derived, err := s.ListArtifactsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var removed []*domain.Artifact
	for _, a := range derived {
		if a.Kind == domain.ArtifactOriginal {
			continue
		}
		removed = append(removed, a)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE item_id = ? AND kind != ?`,
		itemID, string(domain.ArtifactOriginal))
	if err != nil {
		return nil, fmt.Errorf("delete derived artifacts: %w", err)
	}
	return removed, nil
}

// SwapPoster clears the default flag on every existing POSTER of the item and
// inserts the new default poster in one transaction, keeping the at-most-one-
// default invariant visible at every instant.
func (s *Store) SwapPoster(ctx context.Context, itemID string, poster *domain.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin poster tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE artifacts SET is_default = 0 WHERE item_id = ? AND kind = ?`,
		itemID, string(domain.ArtifactPoster),
	); err != nil {
		return fmt.Errorf("clear default posters: %w", err)
	}

	poster.IsDefault = true
	if err := insertArtifact(ctx, tx, poster); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit poster tx: %w", err)
	}
	return nil
}

func scanArtifact(row rowScanner) (*domain.Artifact, error) {
	var (
		a         domain.Artifact
		kind      string
		format    string
		offset    sql.NullInt64
		isDefault int64
		createdAt string
	)
	if err := row.Scan(
		&a.ID,
		&a.ItemID,
		&kind,
		&format,
		&a.Key,
		&a.Data,
		&a.ByteSize,
		&isDefault,
		&offset,
		&createdAt,
	); err != nil {
		return nil, err
	}

	a.Kind = domain.ArtifactKind(kind)
	a.Format = domain.Format(format)
	a.IsDefault = isDefault != 0
	if offset.Valid {
		v := offset.Int64
		a.TimeOffsetMs = &v
	}

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}
