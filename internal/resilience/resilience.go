// Package resilience wraps the Inventory and PSP collaborator calls with a
// circuit breaker and retry-with-backoff, the same combination the pack's
// order service applies to its payment-service client. The checkout core
// depends only on the collaborator interfaces; these decorators let a real
// deployment wrap its HTTP-backed collaborators without touching the
// orchestrator.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"

	"github.com/agentic-commerce/checkout-server/internal/model"
)

// RetryConfig controls exponential backoff with jitter around a
// collaborator call. Defaults match spec.md §7's "max 3 attempts" policy
// for idempotent collaborator operations.
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
	JitterFraction  float64
}

// DefaultRetryConfig returns the §7-mandated retry budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialBackoff:  50 * time.Millisecond,
		MaxBackoff:      time.Second,
		BackoffMultiple: 2.0,
		JitterFraction:  0.3,
	}
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff and
// jitter, stopping early on context cancellation.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-time.After(backoff(cfg, attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	b := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiple, float64(attempt))
	if b > float64(cfg.MaxBackoff) {
		b = float64(cfg.MaxBackoff)
	}
	jitterRange := b * cfg.JitterFraction
	b += (rand.Float64() * 2 * jitterRange) - jitterRange
	if b < 0 {
		b = 0
	}
	return time.Duration(b)
}

// Breaker wraps gobreaker to fail fast once a collaborator is consistently
// failing, mapping the open-circuit condition onto a service_unavailable
// APIError instead of exhausting the caller's own timeout budget.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	service string
}

// NewBreaker builds a circuit breaker named for the collaborator it
// protects, using the same trip thresholds as the pack's payment-service
// breaker (5 consecutive failures, or 60% failure rate over 10+ requests).
func NewBreaker(service string) *Breaker {
	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 || (counts.Requests >= 10 && failureRatio >= 0.6)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), service: service}
}

// Execute runs fn through the breaker, translating an open circuit into a
// 503 service_unavailable error.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return model.NewServiceUnavailableError(b.service, err)
		}
		return err
	}
	return nil
}

// State reports the breaker's current state, for readiness checks.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
