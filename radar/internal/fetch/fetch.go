// Package fetch implements rate-limited, bounded-concurrency HTTP retrieval
// with retry, backoff, and explicit 429 cooperation.
//
// Concurrency model: a fixed-size permit pool caps in-flight requests; the
// HTTP transport keeps fewer keep-alive slots per host than the pool size to
// encourage connection reuse. A cooperative per-origin delay keeps request
// pacing polite. The retry loop runs while the permit is held, so a
// rate-limit delay naturally throttles sibling requests.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"painradar/retry"
)

// RateLimitError reports a 429 response. RetryAfter carries the
// server-provided hint (zero when absent).
type RateLimitError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.URL, e.RetryAfter)
}

// StatusError is a permanent HTTP failure: a 4xx other than 429.
// The item is skipped; siblings continue.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.URL)
}

// Config configures the fetcher.
type Config struct {
	// MaxConcurrent caps in-flight requests across all origins. Default: 8.
	MaxConcurrent int
	// MaxConnsPerHost caps keep-alive connections per origin. Kept below
	// MaxConcurrent so connections are reused. Default: 4.
	MaxConnsPerHost int
	// Timeout applies per attempt. Default: 30s.
	Timeout time.Duration
	// MaxBytes caps the response body size. Default: 10MB.
	MaxBytes int64
	// UserAgent sent with every request.
	UserAgent string
	// PerOriginDelay is the minimum gap between requests to one origin.
	// Default: 500ms.
	PerOriginDelay time.Duration
	// Retry bounds the per-request retry loop.
	Retry retry.Policy
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "painradar/1.0"
	}
	if c.PerOriginDelay <= 0 {
		c.PerOriginDelay = 500 * time.Millisecond
	}
}

// Client is the rate-limited fetcher shared by all source adapters.
type Client struct {
	http    *http.Client
	config  Config
	permits chan struct{}
	logger  *slog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time // origin → last request time
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     cfg.MaxConnsPerHost,
				MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
			},
		},
		config:   cfg,
		permits:  make(chan struct{}, cfg.MaxConcurrent),
		logger:   logger,
		lastSeen: make(map[string]time.Time),
	}
}

// Get fetches rawURL and returns the body. Transient failures (network,
// 5xx) are retried with exponential backoff and jitter; 429 responses are
// retried after the server-directed delay while the concurrency permit is
// still held. Permanent 4xx failures return a *StatusError immediately.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	select {
	case c.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.permits }()

	var body []byte
	err := retry.Do(ctx, c.config.Retry, c.logger, "fetch "+rawURL, func(ctx context.Context) error {
		var err error
		body, err = c.doOnce(ctx, rawURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("fetch: decode %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.politeWait(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json, application/xml, text/xml, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// Network errors and per-attempt timeouts are transient.
		return nil, retry.Mark(fmt.Errorf("fetch: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		hint := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &retry.Transient{
			Err:        &RateLimitError{URL: rawURL, RetryAfter: hint},
			RetryAfter: hint,
		}
	case resp.StatusCode >= 500:
		return nil, retry.Mark(fmt.Errorf("fetch: server error: %w",
			&StatusError{URL: rawURL, Code: resp.StatusCode}))
	case resp.StatusCode >= 400:
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBytes))
	if err != nil {
		return nil, retry.Mark(fmt.Errorf("fetch: read body: %w", err))
	}
	return body, nil
}

// politeWait enforces the per-origin gap, sleeping if the previous request
// to this origin was too recent.
func (c *Client) politeWait(ctx context.Context, rawURL string) error {
	origin := originOf(rawURL)

	c.mu.Lock()
	now := time.Now()
	wait := c.config.PerOriginDelay - now.Sub(c.lastSeen[origin])
	if wait < 0 {
		wait = 0
	}
	// Reserve the slot before sleeping so concurrent callers to the same
	// origin queue behind each other instead of dog-piling.
	c.lastSeen[origin] = now.Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
