package port

import (
	"context"

	"clipmill/internal/domain"
)

// ItemStore is the authoritative record store for items. Claim is the only
// concurrency primitive the dispatcher relies on: it must perform a
// conditional QUEUED→PROCESSING update that succeeds for exactly one caller.
type ItemStore interface {
	SaveItem(ctx context.Context, item *domain.Item) error
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	ListRecentItems(ctx context.Context, limit int) ([]*domain.Item, error)
	DeleteItem(ctx context.Context, id string) error
	UpdateItem(ctx context.Context, item *domain.Item) error

	// FinishUpload marks the item QUEUED with its final byte size and inserts
	// the ORIGINAL artifact in a single transaction.
	FinishUpload(ctx context.Context, itemID string, byteSize int64, original *domain.Artifact) (err error)

	// ClaimNextQueued atomically claims the oldest QUEUED item, returning nil
	// when the queue is empty or another claimer won the race.
	ClaimNextQueued(ctx context.Context) (*domain.Item, error)

	// ResetStalled requeues items left PROCESSING by a worker that died
	// before settling them, returning how many were reset.
	ResetStalled(ctx context.Context) (int64, error)
}

// ArtifactStore persists artifact records and the authoritative byte copies
// of dual-stored kinds.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a *domain.Artifact) error
	GetArtifact(ctx context.Context, id string) (*domain.Artifact, error)
	ListArtifactsByItem(ctx context.Context, itemID string) ([]*domain.Artifact, error)
	DefaultPosterID(ctx context.Context, itemID string) (string, error)

	// DeleteDerivedArtifacts removes all non-ORIGINAL artifact rows of the
	// item, returning the deleted records so callers can clean their bytes.
	DeleteDerivedArtifacts(ctx context.Context, itemID string) ([]*domain.Artifact, error)

	// SwapPoster clears isDefault on every POSTER of the item and inserts the
	// new default poster; both effects commit together or not at all.
	SwapPoster(ctx context.Context, itemID string, poster *domain.Artifact) error
}

// TokenStore persists hashed capability tokens.
type TokenStore interface {
	SaveToken(ctx context.Context, t *domain.AccessToken) error
	FindToken(ctx context.Context, artifactID, tokenHash string) (*domain.AccessToken, error)
}
