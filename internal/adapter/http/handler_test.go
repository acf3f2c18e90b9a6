package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipmill/internal/domain"
	"clipmill/internal/service"
)

type stubLibrary struct {
	uploadFn    func(ctx context.Context, filename, mimeType string, r io.Reader) (*domain.Item, error)
	listFn      func(ctx context.Context) ([]*service.Summary, error)
	getFn       func(ctx context.Context, itemID string) (*service.Detail, error)
	deleteFn    func(ctx context.Context, itemID string) error
	retryFn     func(ctx context.Context, itemID string, force bool) (*domain.Item, error)
	setPosterFn func(ctx context.Context, itemID, frameArtifactID string) (*domain.Artifact, error)
	processFn   func(ctx context.Context, itemID string) error
}

func (s *stubLibrary) Upload(ctx context.Context, filename, mimeType string, r io.Reader) (*domain.Item, error) {
	return s.uploadFn(ctx, filename, mimeType, r)
}
func (s *stubLibrary) List(ctx context.Context) ([]*service.Summary, error) { return s.listFn(ctx) }
func (s *stubLibrary) Get(ctx context.Context, itemID string) (*service.Detail, error) {
	return s.getFn(ctx, itemID)
}
func (s *stubLibrary) Delete(ctx context.Context, itemID string) error { return s.deleteFn(ctx, itemID) }
func (s *stubLibrary) Retry(ctx context.Context, itemID string, force bool) (*domain.Item, error) {
	return s.retryFn(ctx, itemID, force)
}
func (s *stubLibrary) SetPoster(ctx context.Context, itemID, frameArtifactID string) (*domain.Artifact, error) {
	return s.setPosterFn(ctx, itemID, frameArtifactID)
}
func (s *stubLibrary) Process(ctx context.Context, itemID string) error {
	return s.processFn(ctx, itemID)
}

type stubTokens struct {
	issueFn    func(ctx context.Context, artifactID string) (*domain.IssuedToken, error)
	validateFn func(ctx context.Context, artifactID, raw string) error
}

func (s *stubTokens) Issue(ctx context.Context, artifactID string) (*domain.IssuedToken, error) {
	return s.issueFn(ctx, artifactID)
}
func (s *stubTokens) Validate(ctx context.Context, artifactID, raw string) error {
	return s.validateFn(ctx, artifactID, raw)
}

type stubAssets struct {
	openFn func(ctx context.Context, artifactID string) (*service.Asset, error)
}

func (s *stubAssets) Open(ctx context.Context, artifactID string) (*service.Asset, error) {
	return s.openFn(ctx, artifactID)
}

func newTestServer(lib *stubLibrary, tokens *stubTokens, assets *stubAssets) *Server {
	if lib == nil {
		lib = &stubLibrary{}
	}
	if tokens == nil {
		tokens = &stubTokens{}
	}
	if assets == nil {
		assets = &stubAssets{}
	}
	return NewServer(lib, tokens, assets, 1, "test")
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload_Success(t *testing.T) {
	var gotFilename string
	lib := &stubLibrary{
		uploadFn: func(_ context.Context, filename, mimeType string, r io.Reader) (*domain.Item, error) {
			gotFilename = filename
			_, _ = io.Copy(io.Discard, r)
			item := domain.NewItem("clip", filename, mimeType, 3)
			item.Status = domain.ItemStatusQueued
			return item, nil
		},
	}
	srv := newTestServer(lib, nil, nil)

	body, contentType := multipartBody(t, "file", "clip.mp4", "movie bytes")
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "clip.mp4", gotFilename)

	var item domain.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, domain.ItemStatusQueued, item.Status)
}

func TestUpload_SanitizesFilename(t *testing.T) {
	var gotFilename string
	lib := &stubLibrary{
		uploadFn: func(_ context.Context, filename, _ string, r io.Reader) (*domain.Item, error) {
			gotFilename = filename
			_, _ = io.Copy(io.Discard, r)
			return domain.NewItem("clip", filename, "", 3), nil
		},
	}
	srv := newTestServer(lib, nil, nil)

	body, contentType := multipartBody(t, "file", `../evil".mp4`, "x")
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, gotFilename, "/")
	assert.NotContains(t, gotFilename, `"`)
}

func TestUpload_MissingFileField(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	body, contentType := multipartBody(t, "wrong", "clip.mp4", "x")
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_WrongContentType(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	lib := &stubLibrary{
		uploadFn: func(_ context.Context, filename, _ string, r io.Reader) (*domain.Item, error) {
			if _, err := io.Copy(io.Discard, r); err != nil {
				return nil, err
			}
			return domain.NewItem("clip", filename, "", 3), nil
		},
	}
	srv := newTestServer(lib, nil, nil) // 1 MB cap

	body, contentType := multipartBody(t, "file", "big.mp4", strings.Repeat("x", 2*1024*1024))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDetail_NotFound(t *testing.T) {
	lib := &stubLibrary{
		getFn: func(context.Context, string) (*service.Detail, error) {
			return nil, domain.ErrNotFound
		},
	}
	srv := newTestServer(lib, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/videos/nope", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssets_IssuesTokenPerArtifact(t *testing.T) {
	item := domain.NewItem("clip", "clip.mp4", "video/mp4", 3)
	artifacts := []*domain.Artifact{
		domain.NewArtifact(item.ID, domain.ArtifactOriginal, "k1"),
		domain.NewArtifact(item.ID, domain.ArtifactPoster, "k2"),
	}
	lib := &stubLibrary{
		getFn: func(context.Context, string) (*service.Detail, error) {
			return &service.Detail{Item: item, Artifacts: artifacts}, nil
		},
	}
	tokens := &stubTokens{
		issueFn: func(_ context.Context, artifactID string) (*domain.IssuedToken, error) {
			return &domain.IssuedToken{
				ArtifactID: artifactID,
				Token:      "tok-" + artifactID,
				ExpiresAt:  time.Now().Add(time.Minute),
			}, nil
		},
	}
	srv := newTestServer(lib, tokens, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+item.ID+"/assets", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Assets []*domain.IssuedToken `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Assets, 2)
	assert.Equal(t, artifacts[0].ID, resp.Assets[0].ArtifactID)
	assert.NotEmpty(t, resp.Assets[0].Token)
}

func TestRetry_Conflict(t *testing.T) {
	lib := &stubLibrary{
		retryFn: func(context.Context, string, bool) (*domain.Item, error) {
			return nil, domain.ErrNotRetriable
		},
	}
	srv := newTestServer(lib, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/abc/retry", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetry_ForceFlagForwarded(t *testing.T) {
	var gotForce bool
	lib := &stubLibrary{
		retryFn: func(_ context.Context, _ string, force bool) (*domain.Item, error) {
			gotForce = force
			return domain.NewItem("clip", "clip.mp4", "", 3), nil
		},
	}
	srv := newTestServer(lib, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/abc/retry?force=true", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotForce)
}

func TestSetPoster_MissingBody(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/abc/poster", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetPoster_WrongKind(t *testing.T) {
	lib := &stubLibrary{
		setPosterFn: func(context.Context, string, string) (*domain.Artifact, error) {
			return nil, domain.ErrWrongArtifactKind
		},
	}
	srv := newTestServer(lib, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/abc/poster",
		strings.NewReader(`{"assetId":"f1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownload_MissingToken(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/assets/a1/download", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDownload_InvalidToken(t *testing.T) {
	tokens := &stubTokens{
		validateFn: func(context.Context, string, string) error {
			return domain.ErrInvalidToken
		},
	}
	srv := newTestServer(nil, tokens, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/assets/a1/download?token=bad", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDownload_ExpiredToken(t *testing.T) {
	tokens := &stubTokens{
		validateFn: func(context.Context, string, string) error {
			return domain.ErrExpiredToken
		},
	}
	srv := newTestServer(nil, tokens, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/assets/a1/download?token=old", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDownload_StreamsWithHeaders(t *testing.T) {
	tokens := &stubTokens{
		validateFn: func(context.Context, string, string) error { return nil },
	}
	assets := &stubAssets{
		openFn: func(_ context.Context, artifactID string) (*service.Asset, error) {
			content := "poster bytes"
			return &service.Asset{
				Reader:      io.NopCloser(strings.NewReader(content)),
				Size:        int64(len(content)),
				ContentType: "image/jpeg",
				Filename:    "poster.jpg",
			}, nil
		},
	}
	srv := newTestServer(nil, tokens, assets)

	req := httptest.NewRequest(http.MethodGet, "/api/assets/a1/download?token=good", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "poster bytes", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "12", rec.Header().Get("Content-Length"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")
	assert.Equal(t, "private, max-age=0, must-revalidate", rec.Header().Get("Cache-Control"))
}

func TestDownload_ArtifactGone(t *testing.T) {
	tokens := &stubTokens{
		validateFn: func(context.Context, string, string) error { return nil },
	}
	assets := &stubAssets{
		openFn: func(context.Context, string) (*service.Asset, error) {
			return nil, domain.ErrNotFound
		},
	}
	srv := newTestServer(nil, tokens, assets)

	req := httptest.NewRequest(http.MethodGet, "/api/assets/a1/download?token=good", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcess_Triggers(t *testing.T) {
	var gotID string
	lib := &stubLibrary{
		processFn: func(_ context.Context, itemID string) error {
			gotID = itemID
			return nil
		},
	}
	srv := newTestServer(lib, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/process",
		strings.NewReader(`{"videoId":"v1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "v1", gotID)
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test")
}

func TestList_ReturnsSummaries(t *testing.T) {
	item := domain.NewItem("clip", "clip.mp4", "video/mp4", 3)
	lib := &stubLibrary{
		listFn: func(context.Context) ([]*service.Summary, error) {
			return []*service.Summary{{Item: item, PosterAssetID: "p1"}}, nil
		},
	}
	srv := newTestServer(lib, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), item.ID)
	assert.Contains(t, rec.Body.String(), "p1")
}
