package config

import (
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so host values cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "BACKEND_API_KEY", "CORS_ALLOWED_ORIGINS",
		"CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET",
		"UPLOAD_FOLDER", "WORK_DIR",
		"RENDER_WIDTH", "RENDER_HEIGHT", "MAX_TILES", "MAX_OUTPUT_SECONDS",
		"SAMPLE_RATE",
		"FETCH_TIMEOUT_SECONDS", "TRANSCODE_TIMEOUT_SECONDS", "UPLOAD_TIMEOUT_SECONDS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func setCloudinary(t *testing.T) {
	t.Helper()
	t.Setenv("CLOUDINARY_CLOUD_NAME", "demo")
	t.Setenv("CLOUDINARY_API_KEY", "key")
	t.Setenv("CLOUDINARY_API_SECRET", "secret")
}

func TestLoadRequiresCloudinaryCredentials(t *testing.T) {
	clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected error when Cloudinary credentials are missing")
	}

	t.Setenv("CLOUDINARY_CLOUD_NAME", "demo")
	t.Setenv("CLOUDINARY_API_KEY", "key")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when the API secret is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setCloudinary(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.APIPort != "8080" {
		t.Errorf("port = %q, want 8080", cfg.APIPort)
	}
	if cfg.UploadFolder != "choir_contributions" {
		t.Errorf("upload folder = %q", cfg.UploadFolder)
	}
	if cfg.RenderWidth != 1920 || cfg.RenderHeight != 1080 {
		t.Errorf("render size = %dx%d", cfg.RenderWidth, cfg.RenderHeight)
	}
	if cfg.MaxTiles != 16 {
		t.Errorf("max tiles = %d", cfg.MaxTiles)
	}
	if cfg.MaxOutputSeconds != 60 {
		t.Errorf("max output seconds = %d", cfg.MaxOutputSeconds)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("sample rate = %d", cfg.SampleRate)
	}
	if cfg.FetchTimeout != 60*time.Second {
		t.Errorf("fetch timeout = %v", cfg.FetchTimeout)
	}
	if cfg.TranscodeTimeout != 300*time.Second {
		t.Errorf("transcode timeout = %v", cfg.TranscodeTimeout)
	}
	if cfg.UploadTimeout != 180*time.Second {
		t.Errorf("upload timeout = %v", cfg.UploadTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	setCloudinary(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_TILES", "9")
	t.Setenv("SAMPLE_RATE", "22050")
	t.Setenv("FETCH_TIMEOUT_SECONDS", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.APIPort != "9090" {
		t.Errorf("port = %q", cfg.APIPort)
	}
	if cfg.MaxTiles != 9 {
		t.Errorf("max tiles = %d", cfg.MaxTiles)
	}
	if cfg.SampleRate != 22050 {
		t.Errorf("sample rate = %d", cfg.SampleRate)
	}
	if cfg.FetchTimeout != 15*time.Second {
		t.Errorf("fetch timeout = %v", cfg.FetchTimeout)
	}
}

func TestLoadMalformedIntFallsBack(t *testing.T) {
	clearEnv(t)
	setCloudinary(t)
	t.Setenv("MAX_TILES", "many")
	t.Setenv("FETCH_TIMEOUT_SECONDS", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxTiles != 16 {
		t.Errorf("max tiles = %d, want default 16", cfg.MaxTiles)
	}
	if cfg.FetchTimeout != 60*time.Second {
		t.Errorf("fetch timeout = %v, want default 60s", cfg.FetchTimeout)
	}
}

func TestLoadRejectsDegenerateGeometry(t *testing.T) {
	clearEnv(t)
	setCloudinary(t)
	t.Setenv("RENDER_WIDTH", "1")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for sub-pixel render width")
	}

	t.Setenv("RENDER_WIDTH", "1920")
	t.Setenv("MAX_TILES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for MAX_TILES=0")
	}
}
