package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choirstage/worker/internal/api"
	"github.com/choirstage/worker/internal/config"
	"github.com/choirstage/worker/internal/services"
	"github.com/choirstage/worker/internal/storage"
	"github.com/choirstage/worker/internal/worker"
)

func main() {
	log.Println("Starting choir worker...")

	// Load configuration — missing store credentials fail here, not per job
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Collaborators are stateless and shared across all in-flight jobs
	fetcher := services.NewFetcher(cfg.FetchTimeout)
	engine := services.NewFFmpegService()
	publisher := storage.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.UploadTimeout)
	log.Printf("Initialized Cloudinary publisher (cloud: %s, folder: %s)", cfg.CloudinaryCloudName, cfg.UploadFolder)

	w := worker.New(cfg, fetcher, engine, publisher)

	handler := api.NewHandler(w)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("Worker listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
