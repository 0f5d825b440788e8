package collaborator

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

// product is a catalog entry for the in-memory reference Catalog, the same
// shape the pack's checkout sample keeps for its demo storefront. Held
// tracks soft reservations against Available separately from on-hand
// stock, so AvailableQuantity reflects Available-Held the instant a
// reservation is placed, before any commit ever touches on-hand stock.
type product struct {
	UnitPrice int64
	Currency  string
	Available int
	Held      int
	Taxable   bool
	Name      string
	SKU       string
}

// MemoryCatalog is a fixed, in-process product catalog used for tests and
// single-process demo deployments.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]product
}

// NewMemoryCatalog builds an empty catalog; Seed adds products to it.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[string]product)}
}

// Seed adds or replaces a product entry.
func (c *MemoryCatalog) Seed(productID string, unitPrice int64, currency string, available int, taxable bool, name, sku string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[productID] = product{UnitPrice: unitPrice, Currency: currency, Available: available, Taxable: taxable, Name: name, SKU: sku}
}

func (c *MemoryCatalog) Lookup(_ context.Context, productID string) (CatalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return CatalogEntry{}, model.NewInvalidRequestError(fmt.Sprintf("unknown product %q", productID), "")
	}
	return CatalogEntry{
		ProductID:         productID,
		UnitPrice:         p.UnitPrice,
		Currency:          p.Currency,
		AvailableQuantity: p.Available - p.Held,
		Taxable:           p.Taxable,
		Name:              p.Name,
		SKU:               p.SKU,
	}, nil
}

// DecrementAvailable reduces on-hand stock, used by the reference Inventory
// implementation when committing a reservation.
func (c *MemoryCatalog) DecrementAvailable(productID string, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.products[productID]
	p.Available -= quantity
	c.products[productID] = p
}

// IncrementAvailable restores on-hand stock, used when releasing a
// reservation that was already committed.
func (c *MemoryCatalog) IncrementAvailable(productID string, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.products[productID]
	p.Available += quantity
	c.products[productID] = p
}

// TryHold atomically checks Available-Held against quantity and, if
// sufficient, adds quantity to Held. It reports whether the hold was
// placed, so two concurrent reservations for the last units of a product
// cannot both succeed.
func (c *MemoryCatalog) TryHold(productID string, quantity int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok || p.Available-p.Held < quantity {
		return false
	}
	p.Held += quantity
	c.products[productID] = p
	return true
}

// ReleaseHold returns a previously held quantity to Available without
// touching on-hand stock, used when a reservation is adjusted or released
// before it is ever committed.
func (c *MemoryCatalog) ReleaseHold(productID string, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return
	}
	p.Held -= quantity
	if p.Held < 0 {
		p.Held = 0
	}
	c.products[productID] = p
}

// MemoryTax applies a single flat rate to every taxable line, expressed as
// a fixed-point value in model.RateScale units (e.g. 7250 for 7.25%).
type MemoryTax struct {
	RateFixedPoint int64
}

func (t *MemoryTax) Quote(_ context.Context, lines []TaxLineInput, address *model.PostalAddress) (TaxQuote, error) {
	if address == nil {
		return TaxQuote{PerLineTax: make([]int64, len(lines))}, nil
	}
	rate := t.RateFixedPoint
	perLine := make([]int64, len(lines))
	for i, l := range lines {
		if !l.Taxable {
			continue
		}
		perLine[i] = model.LineTax(l.UnitPrice, l.Quantity, rate)
	}
	return TaxQuote{PerLineTax: perLine, RateFixedPoint: rate}, nil
}

// MemoryShipping offers a fixed standard/express pair whenever an address
// is present, matching the stable-id convention §4.E requires.
type MemoryShipping struct {
	StandardSubtotal int64
	ExpressSubtotal  int64
	Currency         string
}

func (s *MemoryShipping) Options(_ context.Context, address *model.PostalAddress, _ float64) ([]model.FulfillmentOption, error) {
	if address == nil {
		return nil, nil
	}
	return []model.FulfillmentOption{
		{
			ID:       "standard_shipping",
			Type:     "shipping",
			Title:    "Standard Shipping",
			SubTitle: "Arrives in 5-7 business days",
			Subtotal: s.StandardSubtotal,
			Total:    s.StandardSubtotal,
		},
		{
			ID:       "express_shipping",
			Type:     "shipping",
			Title:    "Express Shipping",
			SubTitle: "Arrives in 1-2 business days",
			Subtotal: s.ExpressSubtotal,
			Total:    s.ExpressSubtotal,
		},
	}, nil
}

type reservation struct {
	sessionID string
	lines     []ReservationLine
	committed bool
	released  bool
}

// MemoryInventory is a reference Inventory collaborator backed by a
// MemoryCatalog, keyed idempotently by session id the way §6.3 requires.
type MemoryInventory struct {
	mu           sync.Mutex
	catalog      *MemoryCatalog
	gen          *idgen.Generator
	reservations map[string]*reservation
	bySession    map[string]string // sessionID -> reservationID, for idempotent re-reserve
}

// NewMemoryInventory builds an Inventory collaborator over the given
// catalog, sharing its stock counters.
func NewMemoryInventory(catalog *MemoryCatalog, gen *idgen.Generator) *MemoryInventory {
	return &MemoryInventory{
		catalog:      catalog,
		gen:          gen,
		reservations: make(map[string]*reservation),
		bySession:    make(map[string]string),
	}
}

// Reserve places a soft hold on each line's quantity, atomically checking
// and decrementing Available-Held per product so two concurrent sessions
// can never both reserve the last units of a product. A hold does not
// touch on-hand stock; that only happens at Commit.
func (inv *MemoryInventory) Reserve(_ context.Context, sessionID string, lines []ReservationLine) (string, ReserveOutcome, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if id, ok := inv.bySession[sessionID]; ok {
		return id, ReserveOk, nil
	}

	held := make([]ReservationLine, 0, len(lines))
	for _, l := range lines {
		if !inv.catalog.TryHold(l.ProductID, l.Quantity) {
			for _, h := range held {
				inv.catalog.ReleaseHold(h.ProductID, h.Quantity)
			}
			return "", ReserveOutOfStock, nil
		}
		held = append(held, l)
	}

	id := inv.gen.NewReservationID()
	inv.reservations[id] = &reservation{sessionID: sessionID, lines: lines}
	inv.bySession[sessionID] = id
	return id, ReserveOk, nil
}

// Adjust replaces a reservation's held lines with a new set: it releases
// every old hold, then tries to place the new ones, rolling back to the
// old holds if the new set cannot be fully satisfied.
func (inv *MemoryInventory) Adjust(_ context.Context, reservationID string, lines []ReservationLine) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	r, ok := inv.reservations[reservationID]
	if !ok {
		return model.NewNotFoundError("inventory reservation")
	}
	if r.committed {
		return model.NewInvalidRequestError("cannot adjust a committed reservation", "")
	}

	for _, l := range r.lines {
		inv.catalog.ReleaseHold(l.ProductID, l.Quantity)
	}

	held := make([]ReservationLine, 0, len(lines))
	for _, l := range lines {
		if !inv.catalog.TryHold(l.ProductID, l.Quantity) {
			for _, h := range held {
				inv.catalog.ReleaseHold(h.ProductID, h.Quantity)
			}
			for _, old := range r.lines {
				inv.catalog.TryHold(old.ProductID, old.Quantity)
			}
			return model.NewOutOfStockError(fmt.Sprintf("insufficient stock for %q", l.ProductID), "")
		}
		held = append(held, l)
	}

	r.lines = lines
	return nil
}

// Commit turns a reservation's held quantity into an actual on-hand
// decrement. The hold is released as part of committing, since the
// quantity it represented is now reflected directly in Available.
func (inv *MemoryInventory) Commit(_ context.Context, reservationID string) (CommitOutcome, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	r, ok := inv.reservations[reservationID]
	if !ok {
		return CommitOutOfStock, model.NewNotFoundError("inventory reservation")
	}
	if r.committed {
		return CommitOk, nil
	}
	for _, l := range r.lines {
		inv.catalog.DecrementAvailable(l.ProductID, l.Quantity)
		inv.catalog.ReleaseHold(l.ProductID, l.Quantity)
	}
	r.committed = true
	return CommitOk, nil
}

// Release always returns the reservation's held quantity, regardless of
// whether it was ever committed: an uncommitted reservation releases its
// soft hold, a committed one restores the on-hand stock the commit
// decremented. Either way, something was held and this undoes it.
func (inv *MemoryInventory) Release(_ context.Context, reservationID string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	r, ok := inv.reservations[reservationID]
	if !ok || r.released {
		return nil
	}
	if r.committed {
		for _, l := range r.lines {
			inv.catalog.IncrementAvailable(l.ProductID, l.Quantity)
		}
	} else {
		for _, l := range r.lines {
			inv.catalog.ReleaseHold(l.ProductID, l.Quantity)
		}
	}
	r.released = true
	delete(inv.bySession, r.sessionID)
	return nil
}

// MemoryPSP always approves, for tests and local demos. DeclineSessionIDs
// lets tests force a decline by session id.
type MemoryPSP struct {
	mu                sync.Mutex
	gen               *idgen.Generator
	DeclineSessionIDs map[string]bool
}

func NewMemoryPSP(gen *idgen.Generator) *MemoryPSP {
	return &MemoryPSP{gen: gen, DeclineSessionIDs: make(map[string]bool)}
}

func (p *MemoryPSP) AuthorizeCapture(_ context.Context, _ *model.VaultToken, _ int64, _ string, sessionID string) (PSPResult, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DeclineSessionIDs[sessionID] {
		return PSPDeclined, "", nil
	}
	return PSPOk, p.gen.NewID("psp"), nil
}
