// Package ffmpeg drives the external transcoding commands. Every invocation
// is synchronous; a non-zero exit status surfaces as an error carrying the
// tail of stderr.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"clipmill/internal/domain"
	"clipmill/internal/port"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains invalid characters")
)

const stderrTailBytes = 512

type Transcoder struct{}

func NewTranscoder() *Transcoder {
	return &Transcoder{}
}

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

func run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := stderr.String()
		if len(detail) > stderrTailBytes {
			detail = detail[len(detail)-stderrTailBytes:]
		}
		detail = strings.TrimSpace(detail)
		if detail != "" {
			return fmt.Errorf("%s %s: %w: %s", name, args[0], err, detail)
		}
		return fmt.Errorf("%s %s: %w", name, args[0], err)
	}
	return nil
}

// boxFilter fits video into a boxPx square preserving aspect ratio and rounds
// both dimensions down to even values, which the encoders require.
func boxFilter(boxPx int) string {
	return fmt.Sprintf(
		"scale=w=%d:h=%d:force_original_aspect_ratio=decrease:flags=lanczos,scale=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p,setsar=1",
		boxPx, boxPx)
}

func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string, format domain.Format) error {
	if err := validatePath(inputPath); err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(outputPath); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	args, err := transcodeArgs(inputPath, outputPath, format)
	if err != nil {
		return err
	}
	return run(ctx, "ffmpeg", args)
}

func transcodeArgs(inputPath, outputPath string, format domain.Format) ([]string, error) {
	args := []string{"-y", "-i", inputPath}
	switch format {
	case domain.FormatMP4:
		args = append(args,
			"-c:v", "libx264",
			"-crf", "23",
			"-preset", "medium",
			"-c:a", "aac",
			"-b:a", "128k",
			"-movflags", "+faststart",
		)
	case domain.FormatWEBM:
		args = append(args,
			"-c:v", "libvpx-vp9",
			"-crf", "31",
			"-b:v", "0",
			"-row-mt", "1",
			"-c:a", "libopus",
			"-b:a", "128k",
		)
	case domain.FormatAV1:
		// No muxer exists for a bare .av1 extension; force the WebM
		// container, which carries both AV1 video and Opus audio.
		args = append(args,
			"-c:v", "libaom-av1",
			"-crf", "30",
			"-b:v", "0",
			"-cpu-used", "4",
			"-row-mt", "1",
			"-c:a", "libopus",
			"-b:a", "128k",
			"-f", "webm",
		)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	return append(args, outputPath), nil
}

func (t *Transcoder) PreviewClip(ctx context.Context, inputPath, outputPath string, seconds, boxPx int) error {
	if err := validatePath(inputPath); err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(outputPath); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	args := []string{
		"-y",
		"-ss", "0",
		"-i", inputPath,
		"-t", strconv.Itoa(seconds),
		"-vf", boxFilter(boxPx),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "24",
		"-movflags", "+faststart",
		"-c:a", "aac",
		"-b:a", "96k",
		outputPath,
	}
	return run(ctx, "ffmpeg", args)
}

func (t *Transcoder) ExtractFrame(ctx context.Context, inputPath, outputPath string, offsetSec int) error {
	if err := validatePath(inputPath); err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(outputPath); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	args := []string{
		"-y",
		"-ss", strconv.Itoa(offsetSec),
		"-i", inputPath,
		"-frames:v", "1",
		outputPath,
	}
	return run(ctx, "ffmpeg", args)
}

func (t *Transcoder) ScaleImage(ctx context.Context, inputPath, outputPath string, boxPx int) error {
	if err := validatePath(inputPath); err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(outputPath); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease:flags=lanczos", boxPx, boxPx),
		"-frames:v", "1",
		"-q:v", "2",
		"-update", "1",
		outputPath,
	}
	return run(ctx, "ffmpeg", args)
}

func (t *Transcoder) Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error) {
	if err := validatePath(inputPath); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result domain.ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &result, nil
}

var _ port.Transcoder = (*Transcoder)(nil)
