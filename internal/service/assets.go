package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"clipmill/internal/domain"
	"clipmill/internal/infrastructure/logger"
	"clipmill/internal/port"
)

// Asset is an opened artifact ready to stream to a client.
type Asset struct {
	Reader      io.ReadCloser
	Size        int64
	ContentType string
	Filename    string
}

// AssetServer resolves artifact bytes across the two storage tiers. Originals
// and transcodes live only in the cache tier; preview clips and posters fall
// back to their authoritative database copy when the cache was wiped, and are
// re-warmed opportunistically on the way out.
type AssetServer struct {
	artifacts port.ArtifactStore
	blob      port.BlobStore
}

func NewAssetServer(artifacts port.ArtifactStore, blob port.BlobStore) *AssetServer {
	return &AssetServer{artifacts: artifacts, blob: blob}
}

// Get returns the artifact record without touching any bytes.
func (s *AssetServer) Get(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	return s.artifacts.GetArtifact(ctx, artifactID)
}

// Open returns a stream for the artifact's bytes, or domain.ErrNotFound when
// no copy survives in either tier.
func (s *AssetServer) Open(ctx context.Context, artifactID string) (*Asset, error) {
	artifact, err := s.artifacts.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	if !artifact.DualStored() {
		return s.openCached(artifact)
	}

	exists, err := s.blob.Exists(artifact.Key)
	if err != nil {
		return nil, fmt.Errorf("check cache for %s: %w", artifact.Key, err)
	}
	if exists {
		return s.openCached(artifact)
	}

	if len(artifact.Data) == 0 {
		return nil, domain.ErrNotFound
	}

	// Cache miss with a durable copy: try to re-warm the cache, but never let
	// a cache write failure block the response.
	if _, err := s.blob.Put(artifact.Key, bytes.NewReader(artifact.Data)); err != nil {
		logger.Warn.Printf("cache re-warm failed for %s: %v", artifact.Key, err)
		return &Asset{
			Reader:      io.NopCloser(bytes.NewReader(artifact.Data)),
			Size:        int64(len(artifact.Data)),
			ContentType: domain.ContentTypeForKey(artifact.Key),
			Filename:    path.Base(artifact.Key),
		}, nil
	}
	return s.openCached(artifact)
}

func (s *AssetServer) openCached(artifact *domain.Artifact) (*Asset, error) {
	size, err := s.blob.Size(artifact.Key)
	if err != nil {
		return nil, err
	}
	rc, err := s.blob.Open(artifact.Key)
	if err != nil {
		return nil, err
	}
	return &Asset{
		Reader:      rc,
		Size:        size,
		ContentType: domain.ContentTypeForKey(artifact.Key),
		Filename:    path.Base(artifact.Key),
	}, nil
}
