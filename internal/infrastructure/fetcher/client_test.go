package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"newsdigest/internal/ratelimit"
)

func newClientWithBreaker(t *testing.T, threshold int, maxRetries int) *Client {
	t.Helper()
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000})
	breaker := ratelimit.NewBreaker(threshold, time.Minute)
	return NewClient(nil, limiter, breaker, ClientConfig{MaxRetries: maxRetries, WaitBudget: time.Second}, nil)
}

func TestClientRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := newClientWithBreaker(t, 100, 2)
	body, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("unexpected body: %q", body)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestClientDoesNotRetryPermanentFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	client := newClientWithBreaker(t, 100, 3)
	_, err := client.Get(context.Background(), server.URL)

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent failures must not be retried, got %d calls", calls.Load())
	}
}

func TestClientOpensBreakerAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	client := newClientWithBreaker(t, 2, 1)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, server.URL); err == nil {
			t.Fatalf("request %d should fail", i)
		}
	}

	_, err := client.Get(ctx, server.URL)
	if !errors.Is(err, ratelimit.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

func TestClientHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var firstRetryAt atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		firstRetryAt.Store(time.Now().UnixNano())
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := newClientWithBreaker(t, 100, 2)
	start := time.Now()
	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("get: %v", err)
	}

	elapsed := time.Duration(firstRetryAt.Load() - start.UnixNano())
	if elapsed < 900*time.Millisecond {
		t.Fatalf("retry arrived before the Retry-After hint: %s", elapsed)
	}
}

func TestClientStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := newClientWithBreaker(t, 100, 5)
	_, err := client.Get(ctx, server.URL)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("cancellation should surface as transient, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Fatalf("seconds form: got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("empty form: got %s", got)
	}
	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got < 8*time.Second || got > 10*time.Second {
		t.Fatalf("http date form: got %s", got)
	}
}
