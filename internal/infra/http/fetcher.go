// internal/infra/http/fetcher.go
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"resty.dev/v3"
)

// FetcherConfig tunes the download client.
type FetcherConfig struct {
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
}

// DefaultFetcherConfig mirrors what a getprices endpoint tolerates.
var DefaultFetcherConfig = FetcherConfig{
	Timeout:      15 * time.Second,
	RetryCount:   3,
	RetryWait:    1 * time.Second,
	RetryMaxWait: 10 * time.Second,
	UserAgent:    "minutebars-downloader/1.0",
}

// Fetcher downloads fetch URLs with resty, retrying transient failures.
type Fetcher struct {
	client *resty.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	logger = logger.With("component", "http-fetcher")
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "text/plain, */*").
		SetHeader("User-Agent", cfg.UserAgent).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryConditions(retryCondition).
		AddRetryHooks(func(r *resty.Response, err error) {
			if err != nil {
				logger.Debug("retrying request due to error", "url", r.Request.URL, "attempt", r.Request.Attempt, "error", err.Error())
				return
			}
			logger.Debug("retrying request due to status code", "url", r.Request.URL, "attempt", r.Request.Attempt, "status_code", r.StatusCode())
		})

	return &Fetcher{client: client, logger: logger}
}

// retryCondition retries network errors, timeouts, throttling and 5xx.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	switch code := r.StatusCode(); {
	case code >= http.StatusInternalServerError:
		return true
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// Fetch returns the body behind url. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("http request returned status %d", resp.StatusCode())
	}
	return string(resp.Bytes()), nil
}

// Close releases the client's idle connections.
func (f *Fetcher) Close() error {
	return f.client.Close()
}
