// Package vault implements the vault-token store: component D of the
// checkout core. The mutex-guarded map plus idempotent-by-key issuance
// pattern follows the pack's delegated-payment memory service, generalized
// to the full store/peek/consume contract and allowance enforcement of
// §4.D.
package vault

import (
	"sync"
	"time"

	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

// Store is the in-memory vault-token backend for store_backend=memory.
type Store struct {
	mu     sync.Mutex
	tokens map[string]*model.VaultToken
	clock  idgen.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(c idgen.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tokens: make(map[string]*model.VaultToken),
		clock:  idgen.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store persists a newly issued token.
func (s *Store) Store(token *model.VaultToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token.Clone()
}

// Peek returns a non-consuming snapshot of a token, or false if unknown.
func (s *Store) Peek(id string) (*model.VaultToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Consume atomically validates and spends a token. It is idempotent per
// (token_id, consuming_session_id): a second consume call from the same
// session that already succeeded returns Ok again with the same snapshot,
// rather than AlreadyConsumed, so a retried complete() does not fail.
func (s *Store) Consume(id, sessionID string, amount int64, currency string) (model.ConsumeOutcome, *model.VaultToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return model.ConsumeNotFound, nil
	}

	now := s.clock.Now()

	if t.Status == model.VaultTokenConsumed {
		if t.ConsumedBySessionID == sessionID {
			return model.ConsumeOk, t.Clone()
		}
		return model.ConsumeAlreadyConsumed, nil
	}
	if t.Status == model.VaultTokenRevoked {
		return model.ConsumeRevoked, nil
	}
	if t.Status != model.VaultTokenActive || now.After(t.Allowance.ExpiresAt) {
		t.Status = model.VaultTokenExpired
		return model.ConsumeExpired, nil
	}
	if t.Allowance.CheckoutSessionID != "" && t.Allowance.CheckoutSessionID != sessionID {
		return model.ConsumeSessionBindingViolation, nil
	}
	if amount > t.Allowance.MaxAmount {
		return model.ConsumeAllowanceExceeded, nil
	}
	if t.Allowance.Currency != currency {
		return model.ConsumeCurrencyMismatch, nil
	}

	t.Status = model.VaultTokenConsumed
	t.ConsumedBySessionID = sessionID
	return model.ConsumeOk, t.Clone()
}

// Revoke marks a token unusable regardless of its current state.
func (s *Store) Revoke(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[id]; ok {
		t.Status = model.VaultTokenRevoked
	}
}

// ExpirySeconds computes the TTL to apply when persisting a token, derived
// from its allowance expiry relative to now.
func ExpirySeconds(allowance model.Allowance, now time.Time) time.Duration {
	d := allowance.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
