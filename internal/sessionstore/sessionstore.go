// Package sessionstore implements the session store: component C of the
// checkout core. It owns the CheckoutSession aggregate and enforces
// single-writer-per-session serialization while allowing concurrent reads,
// following the sync.RWMutex-guarded in-memory map pattern the pack's
// delegated-payment and checkout examples use for their memory services.
package sessionstore

import (
	"sync"
	"time"

	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

// DefaultTTL is how long a session survives after its last mutation before
// background eviction purges it (§3.1, §6.5 session_ttl_seconds).
const DefaultTTL = time.Hour

type record struct {
	writeMu sync.Mutex // serializes mutators for this session id
	session *model.CheckoutSession
}

// Store is the in-memory session backend for store_backend=memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
	clock    idgen.Clock
	ttl      time.Duration

	stopCleanup chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and TTL eviction.
func WithClock(c idgen.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithTTL overrides the post-mutation retention window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New constructs a Store and starts its background eviction loop.
func New(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*record),
		clock:       idgen.SystemClock{},
		ttl:         DefaultTTL,
		stopCleanup: make(chan struct{}),
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

// Create inserts a new session and returns its id. The caller is expected
// to have already assigned session.ID, CreatedAt, and UpdatedAt.
func (s *Store) Create(session *model.CheckoutSession) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = &record{session: session.Clone()}
	return session.ID
}

// Get returns a deep copy of the current session, or false if it does not
// exist. It holds the session's write lock while cloning, so it waits for
// any mutator in progress on the same session.
func (s *Store) Get(id string) (*model.CheckoutSession, bool) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	rec.writeMu.Lock()
	snapshot := rec.session.Clone()
	rec.writeMu.Unlock()
	return snapshot, true
}

// Mutator transforms a session in place and returns an error to abort the
// mutation (the store is left unchanged).
type Mutator func(*model.CheckoutSession) error

// Update serializes concurrent mutators for the same session id: it locks
// the record's write mutex, hands the mutator a private clone, and only
// commits if the mutator succeeds. UpdatedAt is refreshed on success.
func (s *Store) Update(id string, mutate Mutator) (*model.CheckoutSession, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, model.NewNotFoundError("checkout session")
	}

	rec.writeMu.Lock()
	defer rec.writeMu.Unlock()

	working := rec.session.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = s.clock.Now()
	rec.session = working
	return working.Clone(), nil
}

// Delete removes a session outright (used by tests; TTL eviction removes
// expired entries itself, and the orchestrator never deletes a session).
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
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
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.sessions {
		rec.writeMu.Lock()
		expired := now.Sub(rec.session.UpdatedAt) > s.ttl
		rec.writeMu.Unlock()
		if expired {
			delete(s.sessions, id)
		}
	}
}
