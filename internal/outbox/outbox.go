// Package outbox implements the compensation outbox (§9): rather than
// running a completion's compensating action (release inventory, void a
// payment) inline, the orchestrator enqueues it here, so nothing is retried
// past the response boundary. A background worker drains the queue with
// exponential backoff, the same shape the pack's retry helper uses for
// collaborator calls.
package outbox

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Action identifies a compensating operation.
type Action string

const (
	ActionReleaseInventory Action = "release_inventory"
	ActionVoidPayment      Action = "void_payment"
)

// Entry is one pending compensation.
type Entry struct {
	Action     Action
	TargetID   string // reservation id for a release; psp ref for a void, or the delegated token when the PSP call errored without one
	SessionID  string
	Attempts   int
	EnqueuedAt time.Time
	LastError  string
}

// Handler performs one compensation attempt. Returning nil marks the
// entry done; returning an error requeues it with backoff.
type Handler func(ctx context.Context, e Entry) error

// RetryConfig mirrors the exponential-backoff-with-jitter shape used for
// collaborator retries, applied here to outbox drain attempts instead.
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
	JitterFraction  float64
}

// DefaultRetryConfig gives outbox draining a slower cadence than
// inline collaborator retries, since these are best-effort background
// reconciliations, not request-path calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     8,
		InitialBackoff:  time.Second,
		MaxBackoff:      time.Minute,
		BackoffMultiple: 2.0,
		JitterFraction:  0.3,
	}
}

// Queue holds pending compensations and drains them on a background
// goroutine. The core never retries a compensation inline; it only calls
// Enqueue and returns the response it already determined.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	retry   RetryConfig
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithRetryConfig overrides the default backoff policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(q *Queue) { q.retry = cfg }
}

// WithLogger attaches a logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// New builds a Queue and starts its background worker against handler,
// which is dispatched on Action.
func New(handler Handler, opts ...Option) *Queue {
	q := &Queue{
		retry:  DefaultRetryConfig(),
		logger: slog.Default(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.drainLoop(handler)
	return q
}

// Close stops the background worker. Entries still pending are dropped;
// callers that need durability across restarts must back this with a
// persistent queue, which this in-process implementation deliberately
// does not attempt (matching the in-memory store's single-process scope).
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done
}

// Enqueue records a compensation to retry in the background.
func (q *Queue) Enqueue(action Action, targetID, sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, &Entry{
		Action:     action,
		TargetID:   targetID,
		SessionID:  sessionID,
		EnqueuedAt: time.Now(),
	})
}

// Pending returns a snapshot of the queue, for tests and readiness checks.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

func (q *Queue) drainLoop(handler Handler) {
	defer close(q.done)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.drainOnce(handler)
		}
	}
}

func (q *Queue) drainOnce(handler Handler) {
	q.mu.Lock()
	due := q.entries[:0:0]
	remaining := q.entries[:0]
	now := time.Now()
	for _, e := range q.entries {
		if now.Sub(e.EnqueuedAt) >= backoffFor(q.retry, e.Attempts) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.entries = remaining
	q.mu.Unlock()

	for _, e := range due {
		err := handler(context.Background(), *e)
		if err == nil {
			q.logger.Info("compensation completed",
				slog.String("action", string(e.Action)),
				slog.String("target_id", e.TargetID),
				slog.Int("attempts", e.Attempts+1),
			)
			continue
		}
		e.Attempts++
		e.LastError = err.Error()
		e.EnqueuedAt = time.Now()
		if e.Attempts >= q.retry.MaxAttempts {
			q.logger.Error("compensation exhausted retries, abandoning",
				slog.String("action", string(e.Action)),
				slog.String("target_id", e.TargetID),
				slog.String("error", err.Error()),
			)
			continue
		}
		q.logger.Warn("compensation attempt failed, requeuing",
			slog.String("action", string(e.Action)),
			slog.String("target_id", e.TargetID),
			slog.Int("attempt", e.Attempts),
			slog.String("error", err.Error()),
		)
		q.mu.Lock()
		q.entries = append(q.entries, e)
		q.mu.Unlock()
	}
}

func backoffFor(cfg RetryConfig, attempt int) time.Duration {
	if attempt == 0 {
		return 0
	}
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiple, float64(attempt-1))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	jitterRange := backoff * cfg.JitterFraction
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	backoff += jitter
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}
