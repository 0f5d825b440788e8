// Package idgen provides the server's clock and identifier generation:
// component A of the checkout core. now() is exposed as an interface so
// tests can supply a fixed clock for deterministic expiry assertions.
package idgen

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Production code uses SystemClock; tests
// substitute a fixed or stepped clock.
type Clock interface {
	Now() time.Time
}

// SystemClock wraps time.Now. Go's monotonic clock reading on time.Time
// already gives us the monotonically non-decreasing instant §4.A asks for.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Generator produces session, vault-token, order, and request identifiers.
type Generator struct {
	clock Clock
}

// New builds a Generator backed by SystemClock.
func New() *Generator {
	return &Generator{clock: SystemClock{}}
}

// NewWithClock builds a Generator backed by a caller-supplied clock, for
// tests that need to control expiry boundaries.
func NewWithClock(clock Clock) *Generator {
	return &Generator{clock: clock}
}

func (g *Generator) Now() time.Time {
	return g.clock.Now()
}

// NewID returns a universally unique identifier with the given entity
// prefix, e.g. NewID("cs") → "cs_3f9c2e1a...".
func (g *Generator) NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}

// NewSessionID returns a new checkout-session identifier.
func (g *Generator) NewSessionID() string { return g.NewID("cs") }

// NewVaultTokenID returns a new vault-token identifier, prefixed vt_ per
// spec's literal scenario expectations.
func (g *Generator) NewVaultTokenID() string { return g.NewID("vt") }

// NewOrderID returns a new order identifier.
func (g *Generator) NewOrderID() string { return g.NewID("ord") }

// NewReservationID returns a new inventory reservation identifier.
func (g *Generator) NewReservationID() string { return g.NewID("rsv") }

// NewRequestID returns a short, human-readable correlation id for request
// tracing, distinct in format from entity ids so logs are easy to scan.
func (g *Generator) NewRequestID() string {
	return "req_" + uuid.NewString()[:8]
}
