package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ArtifactKind string

const (
	ArtifactOriginal    ArtifactKind = "ORIGINAL"
	ArtifactTranscoded  ArtifactKind = "TRANSCODED"
	ArtifactPreviewClip ArtifactKind = "PREVIEW_CLIP"
	ArtifactPoster      ArtifactKind = "POSTER"
	ArtifactFrame       ArtifactKind = "FRAME"
)

type Format string

const (
	FormatMP4  Format = "MP4"
	FormatWEBM Format = "WEBM"
	FormatAV1  Format = "AV1"
)

// ParseFormat normalizes a user-supplied output format name.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "mp4":
		return FormatMP4, nil
	case "webm":
		return FormatWEBM, nil
	case "av1":
		return FormatAV1, nil
	default:
		return "", fmt.Errorf("unknown output format %q", value)
	}
}

// Ext returns the file extension used for a transcoded output of this
// format. AV1 streams are muxed into a WebM container; the trailing .webm
// selects the muxer while the format name keeps the key distinct from a
// VP9 output of the same source.
func (f Format) Ext() string {
	if f == FormatAV1 {
		return "av1.webm"
	}
	return strings.ToLower(string(f))
}

// Artifact is one derived (or original) file belonging to an item. Key is a
// logical storage key resolved by the blob store; Data carries the
// authoritative copy for the dual-stored kinds (preview clip, poster).
type Artifact struct {
	ID           string       `json:"id"`
	ItemID       string       `json:"item_id"`
	Kind         ArtifactKind `json:"kind"`
	Format       Format       `json:"format,omitempty"`
	Key          string       `json:"key"`
	Data         []byte       `json:"-"`
	ByteSize     int64        `json:"byte_size"`
	IsDefault    bool         `json:"is_default"`
	TimeOffsetMs *int64       `json:"time_offset_ms,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func NewArtifact(itemID string, kind ArtifactKind, key string) *Artifact {
	return &Artifact{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Kind:      kind,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
}

// DualStored reports whether the artifact kind keeps bytes in both the cache
// tier and the authoritative store.
func (a *Artifact) DualStored() bool {
	return a.Kind == ArtifactPreviewClip || a.Kind == ArtifactPoster
}

// ContentTypeForKey maps a storage key to a download content type by
// extension.
func ContentTypeForKey(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(lower, ".webm"):
		return "video/webm"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
