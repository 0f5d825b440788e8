// Package idempotency implements the idempotency store: component B of
// the checkout core. An in-memory map guarded by a mutex backs the
// default memory store_backend (§6.5); records live only in process
// memory and do not survive a restart. A background goroutine evicts
// expired records the way the teacher's reliability.IdempotencyStore does,
// generalized here to the full begin/complete/abort contract of §4.B.
package idempotency

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

// DefaultTTL is the retention window for a completed record (§4.B).
const DefaultTTL = 24 * time.Hour

// DefaultPendingTimeout bounds how long a pending record is trusted before
// it is considered the product of a crashed writer (§9) and reclaimed by
// the next caller.
const DefaultPendingTimeout = 30 * time.Second

type entry struct {
	record   model.IdempotencyRecord
	response *model.StoredResponse
	done     chan struct{}
}

// Store is the in-memory idempotency backend.
type Store struct {
	mu             sync.Mutex
	entries        map[string]*entry
	clock          idgen.Clock
	ttl            time.Duration
	pendingTimeout time.Duration

	// sf collapses concurrent Begin calls that race on the same
	// (scope, key, fingerprint) triple onto a single evaluation of
	// beginLocked, so a burst of simultaneous duplicate requests shares
	// one outcome instead of each fighting over s.mu in turn.
	sf singleflight.Group

	stopCleanup chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for TTL and staleness checks.
func WithClock(c idgen.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithTTL overrides the retention window for completed records.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPendingTimeout overrides the staleness window for in-flight records.
func WithPendingTimeout(d time.Duration) Option {
	return func(s *Store) { s.pendingTimeout = d }
}

// New constructs a Store and starts its background eviction loop.
func New(opts ...Option) *Store {
	s := &Store{
		entries:        make(map[string]*entry),
		clock:          idgen.SystemClock{},
		ttl:            DefaultTTL,
		pendingTimeout: DefaultPendingTimeout,
		stopCleanup:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background eviction loop.
func (s *Store) Close() {
	close(s.stopCleanup)
}

func scopeKey(scope, key string) string { return scope + "||" + key }

// Begin attempts to claim (scope, key) for a fresh handler execution.
// It never produces two Fresh outcomes concurrently for the same pair.
// Concurrent calls racing on the same pair and fingerprint are
// deduplicated through a singleflight.Group: only one of them evaluates
// beginLocked, and the others share its result, except that a shared
// Fresh claim belongs to the caller that made it and every other racer
// sees InFlight instead.
func (s *Store) Begin(scope, key, fingerprint string) model.BeginResult {
	sk := scopeKey(scope, key)
	claimed := false
	v, _, _ := s.sf.Do(sk+"||"+fingerprint, func() (interface{}, error) {
		claimed = true
		return s.beginLocked(scope, key, fingerprint), nil
	})
	result := v.(model.BeginResult)
	if result.Outcome == model.BeginFresh && !claimed {
		return model.BeginResult{Outcome: model.BeginInFlight}
	}
	return result
}

func (s *Store) beginLocked(scope, key, fingerprint string) model.BeginResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := scopeKey(scope, key)
	e, ok := s.entries[sk]
	now := s.clock.Now()

	if ok && e.record.Status == model.IdempotencyPending && now.Sub(e.record.CreatedAt) > s.pendingTimeout {
		// Crashed writer: the pending record outlived any plausible handler
		// execution. Reclaim it as if it never existed.
		delete(s.entries, sk)
		ok = false
	}

	if !ok {
		e = &entry{
			record: model.IdempotencyRecord{
				Key:                key,
				Scope:              scope,
				RequestFingerprint: fingerprint,
				Status:             model.IdempotencyPending,
				CreatedAt:          now,
				TTL:                s.ttl,
			},
			done: make(chan struct{}),
		}
		s.entries[sk] = e
		return model.BeginResult{Outcome: model.BeginFresh}
	}

	if e.record.Status == model.IdempotencyPending {
		return model.BeginResult{Outcome: model.BeginInFlight}
	}

	// Done: either a byte-identical replay or a fingerprint conflict.
	if e.record.RequestFingerprint != fingerprint {
		return model.BeginResult{Outcome: model.BeginFingerprintConflict}
	}
	return model.BeginResult{Outcome: model.BeginReplay, Response: e.response}
}

// Complete persists the handler's response under the store's TTL and wakes
// any callers blocked in AwaitCompletion.
func (s *Store) Complete(scope, key string, resp model.StoredResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := scopeKey(scope, key)
	e, ok := s.entries[sk]
	if !ok {
		return
	}
	e.record.Status = model.IdempotencyDone
	e.record.CreatedAt = s.clock.Now()
	r := resp
	e.response = &r
	close(e.done)
}

// Abort releases the in-flight marker so the (scope, key) pair can be
// retried, e.g. after a handler panic or an infrastructure error.
func (s *Store) Abort(scope, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := scopeKey(scope, key)
	e, ok := s.entries[sk]
	if !ok {
		return
	}
	delete(s.entries, sk)
	close(e.done)
}

// AwaitCompletion blocks until the pending (scope, key) record completes,
// the context is canceled, or timeout elapses, then re-evaluates Begin's
// outcome. Used by the request pipeline's idempotency middleware to
// implement the "poll-and-wait" behavior of §4.F.5.
func (s *Store) AwaitCompletion(ctx context.Context, scope, key, fingerprint string, timeout time.Duration) model.BeginResult {
	s.mu.Lock()
	e, ok := s.entries[scopeKey(scope, key)]
	s.mu.Unlock()
	if !ok {
		return s.Begin(scope, key, fingerprint)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return s.Begin(scope, key, fingerprint)
	case <-timer.C:
		return model.BeginResult{Outcome: model.BeginInFlight}
	case <-ctx.Done():
		return model.BeginResult{Outcome: model.BeginInFlight}
	}
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for sk, e := range s.entries {
		if e.record.Status != model.IdempotencyDone {
			continue
		}
		ttl := e.record.TTL
		if ttl <= 0 {
			ttl = s.ttl
		}
		if now.Sub(e.record.CreatedAt) > ttl {
			delete(s.entries, sk)
		}
	}
}
