package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"clipmill/internal/domain"
	"clipmill/internal/infrastructure/logger"
	"clipmill/internal/port"
)

const recentItemsLimit = 100

// Trigger wakes the processing loop. Satisfied by the dispatcher; nil means
// processing waits for the next poll tick.
type Trigger interface {
	Kick()
}

// Summary is one row of the listing: item state plus the default poster to
// render, when one exists.
type Summary struct {
	Item          *domain.Item `json:"item"`
	PosterAssetID string       `json:"posterAssetId,omitempty"`
}

// Detail is a single item with every artifact record attached.
type Detail struct {
	Item      *domain.Item       `json:"item"`
	Artifacts []*domain.Artifact `json:"artifacts"`
}

// Library is the item-facing service: uploads, listing, deletion, retries and
// poster selection.
type Library struct {
	items      port.ItemStore
	artifacts  port.ArtifactStore
	blob       port.BlobStore
	pipeline   *Pipeline
	trigger    Trigger
	maxRetries int
}

func NewLibrary(items port.ItemStore, artifacts port.ArtifactStore, blob port.BlobStore, pipeline *Pipeline, trigger Trigger, maxRetries int) *Library {
	return &Library{
		items:      items,
		artifacts:  artifacts,
		blob:       blob,
		pipeline:   pipeline,
		trigger:    trigger,
		maxRetries: maxRetries,
	}
}

func originalKey(itemID, filename string) string {
	return fmt.Sprintf("videos/%s/original/%s", itemID, filename)
}

func titleFromFilename(filename string) string {
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	title = strings.TrimSpace(title)
	if title == "" {
		return "Video"
	}
	return title
}

// Upload streams one video into the cache tier and enqueues it. The item row,
// its final byte size, the QUEUED status and the ORIGINAL artifact record
// commit together; any failure along the way unwinds the partial state.
func (l *Library) Upload(ctx context.Context, filename, mimeType string, r io.Reader) (*domain.Item, error) {
	item := domain.NewItem(titleFromFilename(filename), filename, mimeType, l.maxRetries)
	if err := l.items.SaveItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	key := originalKey(item.ID, filename)
	size, err := l.blob.Put(key, r)
	if err != nil {
		l.unwindUpload(ctx, item.ID, key)
		return nil, fmt.Errorf("store upload: %w", err)
	}

	original := domain.NewArtifact(item.ID, domain.ArtifactOriginal, key)
	original.ByteSize = size
	if err := l.items.FinishUpload(ctx, item.ID, size, original); err != nil {
		l.unwindUpload(ctx, item.ID, key)
		return nil, fmt.Errorf("finish upload: %w", err)
	}
	item.Status = domain.ItemStatusQueued
	item.ByteSize = size

	logger.Info.Printf("item uploaded: id=%s, filename=%s, size=%d", item.ID, logger.SanitizeForLog(filename), size)
	if l.trigger != nil {
		l.trigger.Kick()
	}
	return item, nil
}

func (l *Library) unwindUpload(ctx context.Context, itemID, key string) {
	if err := l.blob.Delete(key); err != nil {
		logger.Warn.Printf("unwind upload bytes %s: %v", key, err)
	}
	if err := l.items.DeleteItem(ctx, itemID); err != nil {
		logger.Warn.Printf("unwind upload item %s: %v", itemID, err)
	}
}

// List returns the most recent items newest first, each annotated with its
// default poster artifact when processing has produced one.
func (l *Library) List(ctx context.Context) ([]*Summary, error) {
	items, err := l.items.ListRecentItems(ctx, recentItemsLimit)
	if err != nil {
		return nil, err
	}
	summaries := make([]*Summary, 0, len(items))
	for _, item := range items {
		posterID, err := l.artifacts.DefaultPosterID(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &Summary{Item: item, PosterAssetID: posterID})
	}
	return summaries, nil
}

func (l *Library) Get(ctx context.Context, itemID string) (*Detail, error) {
	item, err := l.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	artifacts, err := l.artifacts.ListArtifactsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return &Detail{Item: item, Artifacts: artifacts}, nil
}

// Delete removes the item, its records and its cached files. File removal is
// best effort; the row delete cascades to artifacts and tokens.
func (l *Library) Delete(ctx context.Context, itemID string) error {
	artifacts, err := l.artifacts.ListArtifactsByItem(ctx, itemID)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if err := l.blob.Delete(a.Key); err != nil {
			logger.Warn.Printf("delete %s: %v", a.Key, err)
		}
	}
	if err := l.items.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	logger.Info.Printf("item deleted: id=%s", itemID)
	return nil
}

// Retry requeues an item. Without force the item must be FAILED with retry
// budget left; force requeues any non-processing item regardless of count.
func (l *Library) Retry(ctx context.Context, itemID string, force bool) (*domain.Item, error) {
	item, err := l.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.ItemStatusProcessing {
		return nil, domain.ErrNotRetriable
	}
	if !force {
		if item.Status != domain.ItemStatusFailed || !item.RetriesRemaining() {
			return nil, domain.ErrNotRetriable
		}
	}

	// A manual retry consumes an attempt like any other.
	item.Status = domain.ItemStatusQueued
	item.RetryCount++
	item.ErrorMessage = ""
	item.ErrorCode = ""
	item.LastFailedAt = nil
	if err := l.items.UpdateItem(ctx, item); err != nil {
		return nil, err
	}

	logger.Info.Printf("item requeued: id=%s, force=%v", itemID, force)
	if l.trigger != nil {
		l.trigger.Kick()
	}
	return item, nil
}

// SetPoster promotes one of the item's sampled frames to the default poster.
// The chosen frame is rescaled into the poster slot and swapped in
// atomically, so the item never observably lacks a poster mid-change.
func (l *Library) SetPoster(ctx context.Context, itemID, frameArtifactID string) (*domain.Artifact, error) {
	frame, err := l.artifacts.GetArtifact(ctx, frameArtifactID)
	if err != nil {
		return nil, err
	}
	if frame.ItemID != itemID || frame.Kind != domain.ArtifactFrame {
		return nil, domain.ErrWrongArtifactKind
	}

	poster, err := l.pipeline.RenderPoster(ctx, itemID, frame.Key)
	if err != nil {
		return nil, err
	}
	if err := l.artifacts.SwapPoster(ctx, itemID, poster); err != nil {
		return nil, err
	}
	logger.Info.Printf("poster updated: item=%s, source frame=%s", itemID, frameArtifactID)
	return poster, nil
}

// Process asks the pool to pick up queued work now instead of at the next
// poll tick.
func (l *Library) Process(ctx context.Context, itemID string) error {
	if itemID != "" {
		if _, err := l.items.GetItem(ctx, itemID); err != nil {
			return err
		}
	}
	if l.trigger != nil {
		l.trigger.Kick()
	}
	return nil
}
