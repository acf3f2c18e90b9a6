package port

import (
	"context"

	"clipmill/internal/domain"
)

// Transcoder is the external command boundary. Every method blocks until the
// process exits; a non-zero exit status is returned as an error and treated
// by the pipeline as a hard stage failure.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string, format domain.Format) error
	// PreviewClip cuts a clip of the given length from offset 0, scaled into
	// a boxPx square bounding box with even dimensions.
	PreviewClip(ctx context.Context, inputPath, outputPath string, seconds, boxPx int) error
	// ExtractFrame writes a single still taken offsetSec seconds in.
	ExtractFrame(ctx context.Context, inputPath, outputPath string, offsetSec int) error
	// ScaleImage fits an image into a boxPx square bounding box, preserving
	// aspect ratio.
	ScaleImage(ctx context.Context, inputPath, outputPath string, boxPx int) error
	Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error)
}
