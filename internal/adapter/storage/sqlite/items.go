package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clipmill/internal/domain"
)

const itemColumns = `id, title, original_name, mime_type, status, retry_count,
	max_retries, error_message, error_code, last_failed_at, byte_size,
	duration_sec, width, height, created_at, updated_at`

func (s *Store) SaveItem(ctx context.Context, item *domain.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Title,
		item.OriginalName,
		item.MimeType,
		string(item.Status),
		item.RetryCount,
		item.MaxRetries,
		item.ErrorMessage,
		item.ErrorCode,
		nullableTime(item.LastFailedAt),
		item.ByteSize,
		item.DurationSec,
		item.Width,
		item.Height,
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *Store) ListRecentItems(ctx context.Context, limit int) ([]*domain.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItem persists every mutable field of the item.
func (s *Store) UpdateItem(ctx context.Context, item *domain.Item) error {
	item.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE items
		 SET title = ?, status = ?, retry_count = ?, max_retries = ?,
		     error_message = ?, error_code = ?, last_failed_at = ?,
		     byte_size = ?, duration_sec = ?, width = ?, height = ?,
		     updated_at = ?
		 WHERE id = ?`,
		item.Title,
		string(item.Status),
		item.RetryCount,
		item.MaxRetries,
		item.ErrorMessage,
		item.ErrorCode,
		nullableTime(item.LastFailedAt),
		item.ByteSize,
		item.DurationSec,
		item.Width,
		item.Height,
		formatTime(item.UpdatedAt),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FinishUpload flips the item to QUEUED with its final byte size and inserts
// the ORIGINAL artifact in one transaction, so an item is never observable as
// QUEUED before its bytes are durable.
func (s *Store) FinishUpload(ctx context.Context, itemID string, byteSize int64, original *domain.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upload tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET byte_size = ?, status = ?, updated_at = ? WHERE id = ?`,
		byteSize, string(domain.ItemStatusQueued), formatTime(time.Now()), itemID,
	); err != nil {
		return fmt.Errorf("queue item: %w", err)
	}

	if err := insertArtifact(ctx, tx, original); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upload tx: %w", err)
	}
	return nil
}

// ClaimNextQueued selects the oldest QUEUED item and claims it with a single
// conditional update. The conditional update is the sole concurrency
// primitive: a zero-row result means another claimer won and the caller moves
// on empty-handed.
func (s *Store) ClaimNextQueued(ctx context.Context) (*domain.Item, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM items WHERE status = ? ORDER BY created_at LIMIT 1`,
		string(domain.ItemStatusQueued),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select queued item: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(domain.ItemStatusProcessing), formatTime(time.Now()), id, string(domain.ItemStatusQueued),
	)
	if err != nil {
		return nil, fmt.Errorf("claim item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected != 1 {
		return nil, nil
	}

	return s.GetItem(ctx, id)
}

// ResetStalled flips every PROCESSING item back to QUEUED. Nothing reclaims
// PROCESSING rows otherwise, so a worker that died mid-job would strand its
// item forever; callers run this before any claims happen.
func (s *Store) ResetStalled(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ? WHERE status = ?`,
		string(domain.ItemStatusQueued), formatTime(time.Now()), string(domain.ItemStatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("reset stalled items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	var (
		item         domain.Item
		status       string
		lastFailedAt sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.OriginalName,
		&item.MimeType,
		&status,
		&item.RetryCount,
		&item.MaxRetries,
		&item.ErrorMessage,
		&item.ErrorCode,
		&lastFailedAt,
		&item.ByteSize,
		&item.DurationSec,
		&item.Width,
		&item.Height,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	item.Status = domain.ItemStatus(status)

	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if lastFailedAt.Valid {
		t, err := parseTime(lastFailedAt.String)
		if err != nil {
			return nil, err
		}
		item.LastFailedAt = &t
	}
	return &item, nil
}
