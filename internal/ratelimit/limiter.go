package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when tokens do not become available within the
// caller's wait budget.
var ErrTimeout = errors.New("rate limit wait timed out")

// maxIterationWait caps a single wait so timeout and cancellation checks
// stay responsive even with very low refill rates.
const maxIterationWait = time.Second

// Config describes one token bucket.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Cooldown          time.Duration
}

// Limiter is a token bucket. The bucket starts full and refills at
// RequestsPerSecond up to Burst.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	tokens float64
	last   time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter builds a limiter from config, clamping nonsensical values.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	l := &Limiter{
		cfg:    cfg,
		tokens: float64(cfg.Burst),
		now:    time.Now,
		sleep:  sleepContext,
	}
	l.last = l.now()
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire consumes n tokens if available and reports whether it did.
func (l *Limiter) Acquire(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// WaitIfNeeded blocks until n tokens are acquired, the timeout elapses,
// or ctx is cancelled. It never blocks unboundedly: each iteration waits
// deficit/rate, clamped to the cooldown and to one second.
func (l *Limiter) WaitIfNeeded(ctx context.Context, n int, timeout time.Duration) error {
	deadline := l.now().Add(timeout)

	for {
		if l.Acquire(n) {
			return nil
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return ErrTimeout
		}

		wait := l.deficitWait(n)
		if wait > l.cfg.Cooldown {
			wait = l.cfg.Cooldown
		}
		if wait > maxIterationWait {
			wait = maxIterationWait
		}
		if wait > remaining {
			wait = remaining
		}

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Available reports the current token count, refilling first.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

func (l *Limiter) deficitWait(n int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	deficit := float64(n) - l.tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / l.cfg.RequestsPerSecond * float64(time.Second))
}

// refill credits tokens for elapsed time; callers hold l.mu.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.cfg.RequestsPerSecond
		if l.tokens > float64(l.cfg.Burst) {
			l.tokens = float64(l.cfg.Burst)
		}
	}
	l.last = now
}
