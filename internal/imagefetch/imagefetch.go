// Package imagefetch downloads media bytes with the shared bounded-retry
// backoff schedule described in spec §4.2 step 3.
package imagefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediapipeline/internal/config"
)

// Fetcher downloads image bytes over HTTP, retrying transient failures
// (transport errors, timeouts, 5xx responses) using the same backoff
// envelope as the provider-call retry loop.
type Fetcher struct {
	client *http.Client
	retry  config.RetryConfig
}

// New builds a Fetcher with the given per-request timeout and retry
// envelope. The client's transport is wrapped with otelhttp so a download
// made inside a handler's span shows up as a child span and carries the
// trace context to the media host.
func New(timeout time.Duration, retry config.RetryConfig) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry: retry,
	}
}

// Fetch downloads rawURL, retrying per f.retry on transient failure. A 4xx
// response (e.g. 404) is treated as permanent and returned immediately
// without retrying; any status below 400 is read as a successful body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	delay := f.retry.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= f.retry.MaxRetries; attempt++ {
		body, retryable, err := f.attempt(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == f.retry.MaxRetries {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Str("url", rawURL).Msg("imagefetch_retry")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay, f.retry.BackoffMultiplier, f.retry.MaxDelay)
	}
	return nil, fmt.Errorf("imagefetch: fetch %s: %w", rawURL, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

func nextDelay(cur time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * multiplier)
	if next > max {
		return max
	}
	return next
}
