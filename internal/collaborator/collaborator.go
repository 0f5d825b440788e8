// Package collaborator defines the interfaces the checkout core consumes
// for catalog pricing, tax, shipping, inventory, and payment — the pieces
// spec.md places out of scope as external systems (§1, §6.3). In-memory
// reference implementations live alongside the interfaces for tests and
// for a single-process demo deployment; a real deployment supplies HTTP
// clients for the same interfaces.
package collaborator

import (
	"context"

	"github.com/agentic-commerce/checkout-server/internal/model"
)

// CatalogEntry is what Catalog.Lookup returns for a single product.
type CatalogEntry struct {
	ProductID         string
	UnitPrice         int64
	Currency          string
	AvailableQuantity int
	Taxable           bool
	Name              string
	SKU               string
}

// Catalog resolves product ids to price and stock information.
type Catalog interface {
	Lookup(ctx context.Context, productID string) (CatalogEntry, error)
}

// TaxQuote is the per-line tax amount and the rate it was derived from.
type TaxQuote struct {
	PerLineTax []int64
	RateFixedPoint int64 // fixed-point, see model.RateScale
}

// TaxLineInput describes one cart line for a tax quote request.
type TaxLineInput struct {
	ProductID  string
	UnitPrice  int64
	Quantity   int
	Taxable    bool
}

// Tax computes per-line tax for a cart against an address. Implementations
// should be side-effect free within a request; caching across requests is
// permitted.
type Tax interface {
	Quote(ctx context.Context, lines []TaxLineInput, address *model.PostalAddress) (TaxQuote, error)
}

// Shipping returns the fulfillment options available for an address.
type Shipping interface {
	Options(ctx context.Context, address *model.PostalAddress, cartWeight float64) ([]model.FulfillmentOption, error)
}

// ReservationLine is a product/quantity pair passed to Inventory calls.
type ReservationLine struct {
	ProductID string
	Quantity  int
}

// ReserveOutcome distinguishes the result of a reservation attempt.
type ReserveOutcome int

const (
	ReserveOk ReserveOutcome = iota
	ReserveOutOfStock
)

// CommitOutcome distinguishes the result of a commit attempt.
type CommitOutcome int

const (
	CommitOk CommitOutcome = iota
	CommitOutOfStock
)

// Inventory manages soft reservations tied to a session's lifecycle. All
// operations must be idempotent per session id.
type Inventory interface {
	Reserve(ctx context.Context, sessionID string, lines []ReservationLine) (reservationID string, outcome ReserveOutcome, err error)
	Adjust(ctx context.Context, reservationID string, lines []ReservationLine) error
	Commit(ctx context.Context, reservationID string) (CommitOutcome, error)
	Release(ctx context.Context, reservationID string) error
}

// PSPResult distinguishes the outcome of an authorize+capture call.
type PSPResult int

const (
	PSPOk PSPResult = iota
	PSPDeclined
	PSPFailed
)

// PSP authorizes and captures payment against a consumed vault-token
// snapshot. Idempotent per session id.
type PSP interface {
	AuthorizeCapture(ctx context.Context, tokenSnapshot *model.VaultToken, amount int64, currency, sessionID string) (PSPResult, pspRef string, err error)
}
