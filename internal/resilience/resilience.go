// Package resilience wraps outbound HTTP with bounded retries, exponential
// backoff and a small consecutive-failure circuit breaker. The checkout core
// routes every backend call through it; a user stuck at a payment form should
// not wait on an unbounded retry loop.
package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpenCircuit is returned when the breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// Breaker opens after a run of consecutive failures and closes again after a
// cool-off probe succeeds.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	openFor     time.Duration
	openedAt    time.Time
	halfOpen    bool
	target      string
	logger      zerolog.Logger
}

// NewBreaker builds a breaker that opens once maxFailures consecutive
// failures are observed and stays open for openFor.
func NewBreaker(maxFailures int, openFor time.Duration, target string, logger zerolog.Logger) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{maxFailures: maxFailures, openFor: openFor, target: target, logger: logger}
}

// Allow reports whether a request may proceed. An open breaker lets a single
// probe through once the cool-off period expired.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.maxFailures {
		return true
	}
	if time.Since(b.openedAt) >= b.openFor && !b.halfOpen {
		b.halfOpen = true
		return true
	}
	return false
}

// Report records the outcome of a request.
func (b *Breaker) Report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		if b.failures >= b.maxFailures {
			b.logger.Info().Str("target", b.target).Msg("circuit closed")
		}
		b.failures = 0
		b.halfOpen = false
		return
	}
	b.failures++
	b.halfOpen = false
	if b.failures == b.maxFailures {
		b.openedAt = time.Now()
		b.logger.Warn().Str("target", b.target).Msg("circuit opened")
	}
}

// Backoff returns the exponential backoff delay for an attempt, with optional
// jitter expressed as a fraction.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if jitter <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * jitter
	return d + time.Duration(delta)
}

// HTTPClient retries idempotent-safe requests with backoff behind a breaker.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
}

// Do executes the request, buffering the body so attempts can be replayed.
// Responses with a 5xx status count as failures and are retried; anything
// below 500 is returned as-is.
func (c HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base := c.BaseBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.Breaker != nil && !c.Breaker.Allow() {
			return nil, ErrOpenCircuit
		}
		resp, err := client.Do(cloneRequest(ctx, req, body))
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			c.report(true)
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.New(resp.Status)
			_ = resp.Body.Close()
		}
		c.report(false)
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(Backoff(base, attempt, c.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c HTTPClient) report(success bool) {
	if c.Breaker != nil {
		c.Breaker.Report(success)
	}
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	return data, nil
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}
