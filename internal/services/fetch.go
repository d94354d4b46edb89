package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/choirstage/worker/internal/models"
)

const (
	fetchMaxRetries     = 2
	fetchBaseRetryDelay = 1 * time.Second
	fetchMaxRetryDelay  = 10 * time.Second
)

// Fetcher pulls remote media into local scratch storage. It is stateless and
// safe to share across concurrent jobs.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
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

// Fetch streams the resource at url into dest. Non-2xx responses and
// transport failures become FetchErrors; transient failures are retried with
// exponential backoff.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) error {
	var lastErr error
	for attempt := 0; attempt <= fetchMaxRetries; attempt++ {
		if attempt > 0 {
			delay := fetchRetryDelay(attempt)
			log.Printf("[Fetch] Retry %d/%d for %s (waiting %v)...", attempt, fetchMaxRetries, url, delay)

			select {
			case <-ctx.Done():
				return &models.FetchError{URL: url, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		retryable, err := f.fetchOnce(ctx, url, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return &models.FetchError{URL: url, Err: err}
		}
		log.Printf("[Fetch] Attempt %d for %s failed (retryable): %v", attempt+1, url, err)
	}

	return &models.FetchError{URL: url, Err: fmt.Errorf("after %d attempts: %w", fetchMaxRetries+1, lastErr)}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url, dest string) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return isRetryableNetErr(err), err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return isRetryableStatus(resp.StatusCode), fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return true, fmt.Errorf("failed to stream body: %w", err)
	}

	if err := out.Close(); err != nil {
		return false, fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return false, nil
}

// fetchRetryDelay calculates exponential backoff with jitter.
func fetchRetryDelay(attempt int) time.Duration {
	delay := float64(fetchBaseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(fetchMaxRetryDelay) {
		delay = float64(fetchMaxRetryDelay)
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
