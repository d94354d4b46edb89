package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// One retry beyond the initial attempt: a failed upload may be retried
	// once, but the caller must never re-render to recover from it.
	maxRetries     = 1
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 10 * time.Second
)

// Storage publishes rendered artifacts to Cloudinary and returns their
// durable public URLs. Stateless and safe to share across jobs.
type Storage struct {
	cloudName string
	apiKey    string
	apiSecret string
	client    *http.Client

	// BaseURL is the Cloudinary API root, overridable in tests.
	BaseURL string
}

func New(cloudName, apiKey, apiSecret string, timeout time.Duration) *Storage {
	return &Storage{
		cloudName: cloudName,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		BaseURL:   "https://api.cloudinary.com/v1_1",
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Upload sends a local video file to Cloudinary's signed upload endpoint and
// returns the secure URL of the stored asset.
func (s *Storage) Upload(ctx context.Context, localPath, folder string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[Storage] Upload retry %d/%d for %s (waiting %v)...", attempt, maxRetries, localPath, delay)

			select {
			case <-ctx.Done():
				return "", fmt.Errorf("upload cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		url, retryable, err := s.uploadOnce(ctx, filepath.Base(localPath), data, folder)
		if err == nil {
			if attempt > 0 {
				log.Printf("[Storage] Upload succeeded on attempt %d for %s", attempt+1, localPath)
			}
			return url, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
		log.Printf("[Storage] Upload attempt %d failed (retryable): %v", attempt+1, err)
	}

	return "", fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *Storage) uploadOnce(ctx context.Context, filename string, data []byte, folder string) (url string, retryable bool, err error) {
	timestamp := time.Now().Unix()
	signature := s.sign(folder, timestamp)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"api_key":   s.apiKey,
		"timestamp": fmt.Sprintf("%d", timestamp),
		"folder":    folder,
		"signature": signature,
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return "", false, fmt.Errorf("failed to write form field: %w", err)
		}
	}

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", false, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", false, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", false, fmt.Errorf("failed to finalize form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/video/upload", s.BaseURL, s.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", isRetryableNetErr(err), fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", isRetryableStatus(resp.StatusCode),
			fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var result struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", false, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if result.SecureURL == "" {
		if result.URL == "" {
			return "", false, fmt.Errorf("upload response carried no URL")
		}
		return result.URL, false, nil
	}
	return result.SecureURL, false, nil
}

// sign produces the SHA-1 request signature over the sorted upload
// parameters, as Cloudinary's signed upload API requires.
func (s *Storage) sign(folder string, timestamp int64) string {
	toSign := fmt.Sprintf("folder=%s&timestamp=%d%s", folder, timestamp, s.apiSecret)
	sum := sha1.Sum([]byte(toSign))
	return hex.EncodeToString(sum[:])
}

// retryDelay calculates exponential backoff with jitter.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
