package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"clipmill/internal/adapter/http/validation"
	"clipmill/internal/domain"
	"clipmill/internal/infrastructure/logger"
	"clipmill/internal/service"
)

type LibraryService interface {
	Upload(ctx context.Context, filename, mimeType string, r io.Reader) (*domain.Item, error)
	List(ctx context.Context) ([]*service.Summary, error)
	Get(ctx context.Context, itemID string) (*service.Detail, error)
	Delete(ctx context.Context, itemID string) error
	Retry(ctx context.Context, itemID string, force bool) (*domain.Item, error)
	SetPoster(ctx context.Context, itemID, frameArtifactID string) (*domain.Artifact, error)
	Process(ctx context.Context, itemID string) error
}

type TokenService interface {
	Issue(ctx context.Context, artifactID string) (*domain.IssuedToken, error)
	Validate(ctx context.Context, artifactID, raw string) error
}

type AssetService interface {
	Open(ctx context.Context, artifactID string) (*service.Asset, error)
}

type Handlers struct {
	library   LibraryService
	tokens    TokenService
	assets    AssetService
	maxUpload int64
	version   string
}

func NewHandlers(library LibraryService, tokens TokenService, assets AssetService, maxUploadMB int, version string) *Handlers {
	return &Handlers{
		library:   library,
		tokens:    tokens,
		assets:    assets,
		maxUpload: int64(maxUploadMB) * 1024 * 1024,
		version:   version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service sentinels to status codes; anything
// unrecognized is a 500 with the detail kept out of the response body.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, domain.ErrWrongArtifactKind):
		writeError(w, http.StatusBadRequest, "artifact cannot be used here")
	case errors.Is(err, domain.ErrNotRetriable):
		writeError(w, http.StatusConflict, "item is not retriable")
	default:
		logger.Error.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Upload streams a multipart video body straight into storage without
// buffering the file in memory.
func (h *Handlers) Upload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			writeError(w, http.StatusBadRequest, "expected multipart/form-data")
			return
		}

		mr, err := r.MultipartReader()
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}

		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeError(w, http.StatusRequestEntityTooLarge, "file too large")
					return
				}
				writeError(w, http.StatusBadRequest, "malformed multipart body")
				return
			}
			if part.FormName() != "file" {
				continue
			}

			filename := validation.SanitizeFilename(part.FileName())
			item, err := h.library.Upload(r.Context(), filename, part.Header.Get("Content-Type"), part)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeError(w, http.StatusRequestEntityTooLarge, "file too large")
					return
				}
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, item)
			return
		}

		writeError(w, http.StatusBadRequest, "missing file field")
	}
}

func (h *Handlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := h.library.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"videos": summaries})
	}
}

func (h *Handlers) Detail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := h.library.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func (h *Handlers) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.library.Delete(r.Context(), r.PathValue("id")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}

// Assets mints one fresh short-lived token per artifact of the item. A new
// call issues a new batch; earlier tokens stay valid until they expire.
func (h *Handlers) Assets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := h.library.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		issued := make([]*domain.IssuedToken, 0, len(detail.Artifacts))
		for _, a := range detail.Artifacts {
			tok, err := h.tokens.Issue(r.Context(), a.ID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			issued = append(issued, tok)
		}
		writeJSON(w, http.StatusOK, map[string]any{"assets": issued})
	}
}

func (h *Handlers) SetPoster() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AssetID string `json:"assetId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AssetID == "" {
			writeError(w, http.StatusBadRequest, "missing assetId")
			return
		}

		poster, err := h.library.SetPoster(r.Context(), r.PathValue("id"), body.AssetID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, poster)
	}
}

func (h *Handlers) Retry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

		item, err := h.library.Retry(r.Context(), r.PathValue("id"), force)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (h *Handlers) Process() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			VideoID string `json:"videoId"`
		}
		// An empty or absent body is fine, it just wakes the pool.
		_ = json.NewDecoder(r.Body).Decode(&body)

		if err := h.library.Process(r.Context(), body.VideoID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	}
}

// Download streams artifact bytes after the presented token clears. Responses
// are never cacheable by shared caches; the token in the URL is the only
// access control.
func (h *Handlers) Download() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifactID := r.PathValue("assetId")
		token := r.URL.Query().Get("token")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		if err := h.tokens.Validate(r.Context(), artifactID, token); err != nil {
			writeServiceError(w, err)
			return
		}

		asset, err := h.assets.Open(r.Context(), artifactID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		defer asset.Reader.Close()

		w.Header().Set("Content-Type", asset.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(asset.Size, 10))
		w.Header().Set("Content-Disposition", validation.ContentDisposition(asset.Filename, true))
		w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")
		if _, err := io.Copy(w, asset.Reader); err != nil {
			logger.Debug.Printf("stream %s aborted: %v", artifactID, err)
		}
	}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handlers) Version() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": strings.TrimSpace(h.version)})
	}
}
