package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clipmill/config"
	HTTPAdapter "clipmill/internal/adapter/http"
	blobstore "clipmill/internal/adapter/storage/blob"
	sqlitestore "clipmill/internal/adapter/storage/sqlite"
	"clipmill/internal/adapter/transcoder/ffmpeg"
	"clipmill/internal/infrastructure/logger"
	"clipmill/internal/service"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger.Info.Printf("starting clipmill %s on port %d", version, cfg.Port)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error.Printf("failed to create data directory: %v", err)
		os.Exit(1)
	}

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error.Printf("failed to create store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	blob, err := blobstore.NewStore(cfg.StorageRoot)
	if err != nil {
		logger.Error.Printf("failed to create storage root: %v", err)
		os.Exit(1)
	}

	transcoder := ffmpeg.NewTranscoder()
	pipeline := service.NewPipeline(store, store, blob, transcoder, cfg.Formats())

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dispatcher := service.NewDispatcher(
		store, store, blob, pipeline,
		time.Duration(cfg.PollIntervalMs)*time.Millisecond,
		cfg.Workers,
		cfg.DeleteOnFail,
	)
	dispatcher.Start(workerCtx)

	library := service.NewLibrary(store, store, blob, pipeline, dispatcher, cfg.MaxRetries)
	tokens := service.NewTokenService(store, cfg.TokenSecret, time.Duration(cfg.TokenTTLSec)*time.Second)
	assets := service.NewAssetServer(store, blob)

	server := HTTPAdapter.NewServer(library, tokens, assets, cfg.MaxUploadSizeMB, version)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()
	logger.Info.Printf("server listening on %s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error.Printf("server failed: %v", err)
		os.Exit(1)
	case sig := <-sigChan:
		logger.Info.Printf("received %s, shutting down", sig)
	}

	// Drain HTTP first, then stop the workers and let in-flight items
	// settle before the process exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("http shutdown error: %v", err)
	}

	workerCancel()
	dispatcher.Wait()

	logger.Info.Printf("shutdown complete")
}
