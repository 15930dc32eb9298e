package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"newsdigest/internal/ratelimit"
)

const userAgent = "newsdigest/1.0"

// TransientError marks a failure that was retried and may succeed later:
// network errors, timeouts, 5xx and 429 responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient fetch error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix (4xx other
// than 429); the current fetch for that source gives up immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent fetch error: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ClientConfig tunes the retry and timing behavior of a source client.
type ClientConfig struct {
	MaxRetries     int
	RequestTimeout time.Duration
	WaitBudget     time.Duration
	MaxBody        int64
}

// Client is the rate-limited, breaker-guarded HTTP client every network
// call of a source fetcher goes through. Each source owns its own client
// so a degraded source cannot throttle the others.
type Client struct {
	http    *http.Client
	limiter *ratelimit.Limiter
	breaker *ratelimit.Breaker
	cfg     ClientConfig
	logger  *slog.Logger
}

// NewClient wires a client around one source's limiter and breaker.
func NewClient(httpClient *http.Client, limiter *ratelimit.Limiter, breaker *ratelimit.Breaker, cfg ClientConfig, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.WaitBudget <= 0 {
		cfg.WaitBudget = 30 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 4 << 20
	}
	return &Client{http: httpClient, limiter: limiter, breaker: breaker, cfg: cfg, logger: logger}
}

// Get fetches the URL with rate limiting, breaker checks, and bounded
// retries with exponential backoff plus jitter.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, lastErr)
			c.debug("retrying request", "url", url, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				c.breaker.Failure()
				return nil, &TransientError{Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		if err := c.limiter.WaitIfNeeded(ctx, 1, c.cfg.WaitBudget); err != nil {
			// The attempt is abandoned, not retried: a wait budget this
			// exhausted will not recover within the same fetch.
			c.breaker.Failure()
			return nil, err
		}

		body, err := c.doOnce(ctx, url)
		if err == nil {
			c.breaker.Success()
			return body, nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			c.breaker.Failure()
			return nil, err
		}

		lastErr = err
	}

	c.breaker.Failure()
	return nil, &TransientError{Err: fmt.Errorf("gave up after %d retries: %w", c.cfg.MaxRetries, lastErr)}
}

func (c *Client) doOnce(ctx context.Context, url string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBody))
		if readErr != nil {
			return nil, &TransientError{Err: fmt.Errorf("read body: %w", readErr)}
		}
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &rateLimitedError{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("upstream returned %s", resp.Status)}
	default:
		return nil, &PermanentError{Err: fmt.Errorf("upstream returned %s", resp.Status)}
	}
}

// rateLimitedError is a transient error that carries the server's
// Retry-After hint into the backoff calculation.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string { return "transient fetch error: upstream rate limited" }

func backoffDelay(attempt int, lastErr error) time.Duration {
	var limited *rateLimitedError
	if errors.As(lastErr, &limited) && limited.retryAfter > 0 {
		return limited.retryAfter
	}
	base := time.Duration(1<<uint(attempt-1)) * time.Second
	jitter := time.Duration(rand.Int63n(int64(300 * time.Millisecond)))
	return base + jitter
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
