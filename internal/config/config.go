package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the immutable process configuration. It is built once at startup
// and passed down explicitly — hot-path code never reads the environment.
type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Cloudinary (result publisher)
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	UploadFolder        string

	// Workspace
	WorkDir string

	// Render defaults
	RenderWidth      int
	RenderHeight     int
	MaxTiles         int
	MaxOutputSeconds int

	// Alignment
	SampleRate int

	// Stage timeouts
	FetchTimeout     time.Duration
	TranscodeTimeout time.Duration
	UploadTimeout    time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:             getEnv("PORT", "8080"),
		BackendAPIKey:       getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:  getEnv("CORS_ALLOWED_ORIGINS", ""),
		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		UploadFolder:        getEnv("UPLOAD_FOLDER", "choir_contributions"),
		WorkDir:             getEnv("WORK_DIR", "/tmp/choir-worker"),
		RenderWidth:         getEnvInt("RENDER_WIDTH", 1920),
		RenderHeight:        getEnvInt("RENDER_HEIGHT", 1080),
		MaxTiles:            getEnvInt("MAX_TILES", 16),
		MaxOutputSeconds:    getEnvInt("MAX_OUTPUT_SECONDS", 60),
		SampleRate:          getEnvInt("SAMPLE_RATE", 16000),
		FetchTimeout:        getEnvDuration("FETCH_TIMEOUT_SECONDS", 60*time.Second),
		TranscodeTimeout:    getEnvDuration("TRANSCODE_TIMEOUT_SECONDS", 300*time.Second),
		UploadTimeout:       getEnvDuration("UPLOAD_TIMEOUT_SECONDS", 180*time.Second),
	}

	// Validate required fields — missing store credentials fail fast at
	// startup, not per request.
	if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
		return nil, fmt.Errorf("CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET are required")
	}

	if cfg.RenderWidth < 2 || cfg.RenderHeight < 2 {
		return nil, fmt.Errorf("RENDER_WIDTH and RENDER_HEIGHT must be at least 2")
	}

	if cfg.MaxTiles < 1 {
		return nil, fmt.Errorf("MAX_TILES must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		secs, err := strconv.Atoi(value)
		if err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
