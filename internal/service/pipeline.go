package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"clipmill/internal/domain"
	"clipmill/internal/infrastructure/logger"
	"clipmill/internal/port"
)

const (
	previewSeconds = 10
	boundingBoxPx  = 400
	frameCount     = 10
	frameStepMs    = 1000
)

// Pipeline runs the full derivation chain for one claimed item: transcodes in
// every configured output format, a preview clip, sampled frames and a poster.
// Any stage error aborts the run; the dispatcher owns the retry decision.
type Pipeline struct {
	items      port.ItemStore
	artifacts  port.ArtifactStore
	blob       port.BlobStore
	transcoder port.Transcoder
	formats    []domain.Format
}

func NewPipeline(items port.ItemStore, artifacts port.ArtifactStore, blob port.BlobStore, transcoder port.Transcoder, formats []domain.Format) *Pipeline {
	return &Pipeline{
		items:      items,
		artifacts:  artifacts,
		blob:       blob,
		transcoder: transcoder,
		formats:    formats,
	}
}

func transcodedKey(itemID, originalName string, format domain.Format) string {
	base := originalName
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return fmt.Sprintf("videos/%s/transcoded/%s.%s", itemID, base, format.Ext())
}

func previewKey(itemID string) string {
	return fmt.Sprintf("videos/%s/preview/clip-%ds.mp4", itemID, previewSeconds)
}

func frameKey(itemID string, index int) string {
	return fmt.Sprintf("videos/%s/frames/frame-%d.jpg", itemID, index)
}

func posterKey(itemID string) string {
	return fmt.Sprintf("videos/%s/poster/poster.jpg", itemID)
}

// Run executes every stage for the item. The item must already hold an
// ORIGINAL artifact with bytes in the cache tier.
func (p *Pipeline) Run(ctx context.Context, item *domain.Item) error {
	original, err := p.originalArtifact(ctx, item.ID)
	if err != nil {
		return err
	}

	p.removeStaleDerived(ctx, item.ID)

	inputPath, err := p.blob.Resolve(original.Key)
	if err != nil {
		return fmt.Errorf("resolve original: %w", err)
	}

	p.probeStage(ctx, item, inputPath)

	if err := p.transcodeStage(ctx, item, inputPath); err != nil {
		return err
	}
	if err := p.previewStage(ctx, item.ID, inputPath); err != nil {
		return err
	}
	firstFrame, err := p.frameStage(ctx, item.ID, inputPath)
	if err != nil {
		return err
	}
	poster, err := p.RenderPoster(ctx, item.ID, firstFrame)
	if err != nil {
		return err
	}
	if err := p.artifacts.SaveArtifact(ctx, poster); err != nil {
		return fmt.Errorf("record poster: %w", err)
	}
	return nil
}

func (p *Pipeline) originalArtifact(ctx context.Context, itemID string) (*domain.Artifact, error) {
	all, err := p.artifacts.ListArtifactsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		if a.Kind == domain.ArtifactOriginal {
			return a, nil
		}
	}
	return nil, fmt.Errorf("item %s has no original artifact: %w", itemID, domain.ErrNotFound)
}

// removeStaleDerived drops leftovers of earlier attempts so a retry starts
// from a clean slate. Cleanup failures are logged and ignored; a fresh run
// overwrites whatever it can.
func (p *Pipeline) removeStaleDerived(ctx context.Context, itemID string) {
	removed, err := p.artifacts.DeleteDerivedArtifacts(ctx, itemID)
	if err != nil {
		logger.Warn.Printf("stale artifact cleanup for item %s: %v", itemID, err)
		return
	}
	for _, a := range removed {
		if err := p.blob.Delete(a.Key); err != nil {
			logger.Warn.Printf("stale file cleanup %s: %v", a.Key, err)
		}
	}
}

// probeStage fills in duration and dimensions. Probing is best effort; a
// broken ffprobe never fails the run.
func (p *Pipeline) probeStage(ctx context.Context, item *domain.Item, inputPath string) {
	result, err := p.transcoder.Probe(ctx, inputPath)
	if err != nil {
		logger.Warn.Printf("probe item %s: %v", item.ID, err)
		return
	}
	item.DurationSec = result.DurationSec()
	item.Width, item.Height = result.Dimensions()
	if err := p.items.UpdateItem(ctx, item); err != nil {
		logger.Warn.Printf("save probe metadata for item %s: %v", item.ID, err)
	}
}

func (p *Pipeline) transcodeStage(ctx context.Context, item *domain.Item, inputPath string) error {
	for i, format := range p.formats {
		key := transcodedKey(item.ID, item.OriginalName, format)
		outputPath, err := p.resolveForWrite(key)
		if err != nil {
			return err
		}
		if err := p.transcoder.Transcode(ctx, inputPath, outputPath, format); err != nil {
			return fmt.Errorf("transcode %s: %w", format, err)
		}
		size, err := p.blob.Size(key)
		if err != nil {
			return fmt.Errorf("stat transcode %s: %w", key, err)
		}

		artifact := domain.NewArtifact(item.ID, domain.ArtifactTranscoded, key)
		artifact.Format = format
		artifact.ByteSize = size
		artifact.IsDefault = i == 0
		if err := p.artifacts.SaveArtifact(ctx, artifact); err != nil {
			return fmt.Errorf("record transcode %s: %w", format, err)
		}
	}
	return nil
}

// previewStage cuts the short clip and stores its bytes in both tiers before
// the record becomes visible.
func (p *Pipeline) previewStage(ctx context.Context, itemID, inputPath string) error {
	key := previewKey(itemID)
	outputPath, err := p.resolveForWrite(key)
	if err != nil {
		return err
	}
	if err := p.transcoder.PreviewClip(ctx, inputPath, outputPath, previewSeconds, boundingBoxPx); err != nil {
		return fmt.Errorf("preview clip: %w", err)
	}
	data, err := p.readBack(key)
	if err != nil {
		return err
	}

	artifact := domain.NewArtifact(itemID, domain.ArtifactPreviewClip, key)
	artifact.Format = domain.FormatMP4
	artifact.Data = data
	artifact.ByteSize = int64(len(data))
	if err := p.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("record preview clip: %w", err)
	}
	return nil
}

// frameStage samples stills at one second intervals from the start of the
// video and returns the key of the first frame, the poster source.
func (p *Pipeline) frameStage(ctx context.Context, itemID, inputPath string) (string, error) {
	var firstKey string
	for i := 0; i < frameCount; i++ {
		key := frameKey(itemID, i)
		outputPath, err := p.resolveForWrite(key)
		if err != nil {
			return "", err
		}
		if err := p.transcoder.ExtractFrame(ctx, inputPath, outputPath, i); err != nil {
			return "", fmt.Errorf("extract frame %d: %w", i, err)
		}
		size, err := p.blob.Size(key)
		if err != nil {
			return "", fmt.Errorf("stat frame %s: %w", key, err)
		}

		offset := int64(i * frameStepMs)
		artifact := domain.NewArtifact(itemID, domain.ArtifactFrame, key)
		artifact.ByteSize = size
		artifact.TimeOffsetMs = &offset
		if err := p.artifacts.SaveArtifact(ctx, artifact); err != nil {
			return "", fmt.Errorf("record frame %d: %w", i, err)
		}
		if i == 0 {
			firstKey = key
		}
	}
	return firstKey, nil
}

// RenderPoster scales a frame into the poster slot and returns the unsaved
// artifact, bytes attached, flagged as default. The caller decides whether it
// is inserted fresh or swapped in for an existing default.
func (p *Pipeline) RenderPoster(ctx context.Context, itemID, sourceFrameKey string) (*domain.Artifact, error) {
	sourcePath, err := p.blob.Resolve(sourceFrameKey)
	if err != nil {
		return nil, fmt.Errorf("resolve poster source: %w", err)
	}
	key := posterKey(itemID)
	outputPath, err := p.resolveForWrite(key)
	if err != nil {
		return nil, err
	}
	if err := p.transcoder.ScaleImage(ctx, sourcePath, outputPath, boundingBoxPx); err != nil {
		return nil, fmt.Errorf("scale poster: %w", err)
	}
	data, err := p.readBack(key)
	if err != nil {
		return nil, err
	}

	poster := domain.NewArtifact(itemID, domain.ArtifactPoster, key)
	poster.Data = data
	poster.ByteSize = int64(len(data))
	poster.IsDefault = true
	return poster, nil
}

// resolveForWrite maps a key to an absolute path and makes sure its parent
// directory exists, so the external command can write straight to it.
func (p *Pipeline) resolveForWrite(key string) (string, error) {
	abs, err := p.blob.Resolve(key)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("prepare output dir for %s: %w", key, err)
	}
	return abs, nil
}

func (p *Pipeline) readBack(key string) ([]byte, error) {
	rc, err := p.blob.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}
