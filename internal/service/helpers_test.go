package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"clipmill/internal/adapter/storage/blob"
	"clipmill/internal/adapter/storage/sqlite"
	"clipmill/internal/domain"
)

type testEnv struct {
	store      *sqlite.Store
	blob       *blob.Store
	transcoder *fakeTranscoder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := sqlite.NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobStore, err := blob.NewStore(dir + "/cache")
	require.NoError(t, err)

	return &testEnv{
		store:      store,
		blob:       blobStore,
		transcoder: &fakeTranscoder{},
	}
}

func (e *testEnv) pipeline(formats ...domain.Format) *Pipeline {
	if len(formats) == 0 {
		formats = []domain.Format{domain.FormatMP4}
	}
	return NewPipeline(e.store, e.store, e.blob, e.transcoder, formats)
}

// seedQueuedItem creates an item with its original bytes in the cache and the
// ORIGINAL artifact recorded, exactly the state a finished upload leaves.
func (e *testEnv) seedQueuedItem(t *testing.T, name string) *domain.Item {
	t.Helper()
	ctx := context.Background()

	item := domain.NewItem("clip", name, "video/mp4", 3)
	require.NoError(t, e.store.SaveItem(ctx, item))

	key := originalKey(item.ID, name)
	size, err := e.blob.Put(key, strings.NewReader("original bytes"))
	require.NoError(t, err)

	original := domain.NewArtifact(item.ID, domain.ArtifactOriginal, key)
	original.ByteSize = size
	require.NoError(t, e.store.FinishUpload(ctx, item.ID, size, original))

	item.Status = domain.ItemStatusQueued
	item.ByteSize = size
	return item
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("stream interrupted")
}

// fakeTranscoder writes small marker files where ffmpeg would write real
// output. Setting failStage makes the named stage return an error.
type fakeTranscoder struct {
	mu        sync.Mutex
	calls     []string
	failStage string
	probeErr  error
}

func (f *fakeTranscoder) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTranscoder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTranscoder) emit(outputPath, content string) error {
	return os.WriteFile(outputPath, []byte(content), 0o644)
}

func (f *fakeTranscoder) Transcode(_ context.Context, _, outputPath string, format domain.Format) error {
	f.record("transcode:" + string(format))
	if f.failStage == "transcode" {
		return errors.New("transcode exploded")
	}
	return f.emit(outputPath, "transcoded "+string(format))
}

func (f *fakeTranscoder) PreviewClip(_ context.Context, _, outputPath string, seconds, boxPx int) error {
	f.record(fmt.Sprintf("preview:%ds:%dpx", seconds, boxPx))
	if f.failStage == "preview" {
		return errors.New("preview exploded")
	}
	return f.emit(outputPath, "preview clip")
}

func (f *fakeTranscoder) ExtractFrame(_ context.Context, _, outputPath string, offsetSec int) error {
	f.record(fmt.Sprintf("frame:%d", offsetSec))
	if f.failStage == "frame" {
		return errors.New("frame exploded")
	}
	return f.emit(outputPath, fmt.Sprintf("frame at %ds", offsetSec))
}

func (f *fakeTranscoder) ScaleImage(_ context.Context, inputPath, outputPath string, boxPx int) error {
	f.record(fmt.Sprintf("scale:%dpx", boxPx))
	if f.failStage == "scale" {
		return errors.New("scale exploded")
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return f.emit(outputPath, "poster from "+string(data))
}

func (f *fakeTranscoder) Probe(_ context.Context, _ string) (*domain.ProbeResult, error) {
	f.record("probe")
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &domain.ProbeResult{
		Format: domain.ProbeFormat{Duration: "42.5"},
		Streams: []domain.ProbeStream{
			{CodecType: "video", Width: 1920, Height: 1080},
		},
	}, nil
}
