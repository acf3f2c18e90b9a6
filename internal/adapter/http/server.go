// Package http exposes the JSON API: uploads, the video library, processing
// triggers and tokened artifact downloads.
package http

import (
	"net/http"

	"clipmill/internal/adapter/http/middleware"
)

type Server struct {
	mux      *http.ServeMux
	handlers *Handlers
}

func NewServer(library LibraryService, tokens TokenService, assets AssetService, maxUploadMB int, version string) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		handlers: NewHandlers(library, tokens, assets, maxUploadMB, version),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/videos", s.handlers.Upload())
	s.mux.HandleFunc("GET /api/videos", s.handlers.List())
	s.mux.HandleFunc("GET /api/videos/{id}", s.handlers.Detail())
	s.mux.HandleFunc("DELETE /api/videos/{id}", s.handlers.Delete())
	s.mux.HandleFunc("GET /api/videos/{id}/assets", s.handlers.Assets())
	s.mux.HandleFunc("POST /api/videos/{id}/poster", s.handlers.SetPoster())
	s.mux.HandleFunc("POST /api/videos/{id}/retry", s.handlers.Retry())

	s.mux.HandleFunc("POST /api/process", s.handlers.Process())

	s.mux.HandleFunc("GET /api/assets/{assetId}/download", s.handlers.Download())

	s.mux.HandleFunc("GET /healthz", s.handlers.Health())
	s.mux.HandleFunc("GET /api/version", s.handlers.Version())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.SecurityHeaders(s.mux).ServeHTTP(w, r)
}
