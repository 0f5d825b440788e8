package collaborator

import (
	"context"
	"testing"

	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

var addressStub = model.PostalAddress{
	Name:       "Ada Lovelace",
	Line1:      "1 Infinite Loop",
	City:       "San Jose",
	Region:     "CA",
	Country:    "US",
	PostalCode: "95014",
}

func TestMemoryCatalog_LookupUnknown(t *testing.T) {
	c := NewMemoryCatalog()
	_, err := c.Lookup(context.Background(), "nope")
	if err == nil {
		t.Fatal("Lookup(unknown) err = nil, want error")
	}
}

func TestMemoryCatalog_LookupSeeded(t *testing.T) {
	c := NewMemoryCatalog()
	c.Seed("laptop_pro_16_inch", 249900, "usd", 5, true, "Laptop Pro 16", "LP16")

	entry, err := c.Lookup(context.Background(), "laptop_pro_16_inch")
	if err != nil {
		t.Fatal(err)
	}
	if entry.UnitPrice != 249900 || entry.AvailableQuantity != 5 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestMemoryInventory_ReserveCommitRelease(t *testing.T) {
	catalog := NewMemoryCatalog()
	catalog.Seed("p1", 1000, "usd", 3, true, "Widget", "")
	inv := NewMemoryInventory(catalog, idgen.New())

	id, outcome, err := inv.Reserve(context.Background(), "cs_1", []ReservationLine{{ProductID: "p1", Quantity: 2}})
	if err != nil || outcome != ReserveOk {
		t.Fatalf("Reserve() outcome=%v err=%v", outcome, err)
	}

	commitOutcome, err := inv.Commit(context.Background(), id)
	if err != nil || commitOutcome != CommitOk {
		t.Fatalf("Commit() outcome=%v err=%v", commitOutcome, err)
	}

	entry, _ := catalog.Lookup(context.Background(), "p1")
	if entry.AvailableQuantity != 1 {
		t.Errorf("available after commit = %d, want 1", entry.AvailableQuantity)
	}

	if err := inv.Release(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	entry, _ = catalog.Lookup(context.Background(), "p1")
	if entry.AvailableQuantity != 3 {
		t.Errorf("available after release = %d, want 3", entry.AvailableQuantity)
	}
}

func TestMemoryInventory_ReserveIdempotentPerSession(t *testing.T) {
	catalog := NewMemoryCatalog()
	catalog.Seed("p1", 1000, "usd", 3, true, "Widget", "")
	inv := NewMemoryInventory(catalog, idgen.New())

	id1, _, _ := inv.Reserve(context.Background(), "cs_1", []ReservationLine{{ProductID: "p1", Quantity: 1}})
	id2, _, _ := inv.Reserve(context.Background(), "cs_1", []ReservationLine{{ProductID: "p1", Quantity: 1}})
	if id1 != id2 {
		t.Errorf("Reserve not idempotent per session: %s vs %s", id1, id2)
	}
}

func TestMemoryInventory_ReserveHoldsImmediately(t *testing.T) {
	catalog := NewMemoryCatalog()
	catalog.Seed("p1", 1000, "usd", 5, true, "Widget", "")
	inv := NewMemoryInventory(catalog, idgen.New())

	if _, outcome, err := inv.Reserve(context.Background(), "cs_1", []ReservationLine{{ProductID: "p1", Quantity: 3}}); err != nil || outcome != ReserveOk {
		t.Fatalf("Reserve() outcome=%v err=%v", outcome, err)
	}

	entry, _ := catalog.Lookup(context.Background(), "p1")
	if entry.AvailableQuantity != 2 {
		t.Errorf("available after reserve (before commit) = %d, want 2", entry.AvailableQuantity)
	}
}

func TestMemoryInventory_ConcurrentReservesCannotOversell(t *testing.T) {
	catalog := NewMemoryCatalog()
	catalog.Seed("p1", 1000, "usd", 3, true, "Widget", "")
	inv := NewMemoryInventory(catalog, idgen.New())

	if _, outcome, err := inv.Reserve(context.Background(), "cs_1", []ReservationLine{{ProductID: "p1", Quantity: 3}}); err != nil || outcome != ReserveOk {
		t.Fatalf("first Reserve() outcome=%v err=%v", outcome, err)
	}

	_, outcome, err := inv.Reserve(context.Background(), "cs_2", []ReservationLine{{ProductID: "p1", Quantity: 3}})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != ReserveOutOfStock {
		t.Errorf("second Reserve() outcome = %v, want ReserveOutOfStock (the hold from cs_1 must block it)", outcome)
	}
}

func TestMemoryInventory_ReleaseUncommittedReturnsHold(t *testing.T) {
	catalog := NewMemoryCatalog()
	catalog.Seed("p1", 1000, "usd", 3, true, "Widget", "")
	inv := NewMemoryInventory(catalog, idgen.New())

	id, _, err := inv.Reserve(context.Background(), "cs_1", []ReservationLine{{ProductID: "p1", Quantity: 3}})
	if err != nil {
		t.Fatal(err)
	}

	if err := inv.Release(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	entry, _ := catalog.Lookup(context.Background(), "p1")
	if entry.AvailableQuantity != 3 {
		t.Errorf("available after releasing an uncommitted reservation = %d, want 3", entry.AvailableQuantity)
	}
}

func TestMemoryInventory_ReserveOutOfStock(t *testing.T) {
	catalog := NewMemoryCatalog()
	catalog.Seed("p1", 1000, "usd", 1, true, "Widget", "")
	inv := NewMemoryInventory(catalog, idgen.New())

	_, outcome, _ := inv.Reserve(context.Background(), "cs_1", []ReservationLine{{ProductID: "p1", Quantity: 5}})
	if outcome != ReserveOutOfStock {
		t.Errorf("Reserve(over stock) outcome = %v, want OutOfStock", outcome)
	}
}

func TestMemoryPSP_DeclineBySession(t *testing.T) {
	psp := NewMemoryPSP(idgen.New())
	psp.DeclineSessionIDs["cs_bad"] = true

	result, ref, err := psp.AuthorizeCapture(context.Background(), nil, 100, "usd", "cs_bad")
	if err != nil || result != PSPDeclined || ref != "" {
		t.Fatalf("AuthorizeCapture(declined session) = %v, %q, %v", result, ref, err)
	}

	result, ref, err = psp.AuthorizeCapture(context.Background(), nil, 100, "usd", "cs_good")
	if err != nil || result != PSPOk || ref == "" {
		t.Fatalf("AuthorizeCapture(ok session) = %v, %q, %v", result, ref, err)
	}
}

func TestMemoryTax_SkipsNonTaxableLines(t *testing.T) {
	tax := &MemoryTax{RateFixedPoint: 7250}
	quote, err := tax.Quote(context.Background(), []TaxLineInput{
		{ProductID: "p1", UnitPrice: 1000, Quantity: 1, Taxable: true},
		{ProductID: "p2", UnitPrice: 1000, Quantity: 1, Taxable: false},
	}, &addressStub)
	if err != nil {
		t.Fatal(err)
	}
	if quote.PerLineTax[0] == 0 {
		t.Error("taxable line got zero tax")
	}
	if quote.PerLineTax[1] != 0 {
		t.Error("non-taxable line got nonzero tax")
	}
}

func TestMemoryTax_NoAddressMeansNoTax(t *testing.T) {
	tax := &MemoryTax{RateFixedPoint: 7250}
	quote, err := tax.Quote(context.Background(), []TaxLineInput{
		{ProductID: "p1", UnitPrice: 1000, Quantity: 1, Taxable: true},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if quote.PerLineTax[0] != 0 {
		t.Error("tax computed without an address")
	}
}

func TestMemoryShipping_NoAddressMeansNoOptions(t *testing.T) {
	s := &MemoryShipping{StandardSubtotal: 500, ExpressSubtotal: 1500}
	opts, err := s.Options(context.Background(), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if opts != nil {
		t.Errorf("Options(nil address) = %+v, want nil", opts)
	}
}

func TestMemoryShipping_StableIDs(t *testing.T) {
	s := &MemoryShipping{StandardSubtotal: 500, ExpressSubtotal: 1500}
	opts, _ := s.Options(context.Background(), &addressStub, 0)
	if len(opts) != 2 || opts[0].ID != "standard_shipping" || opts[1].ID != "express_shipping" {
		t.Errorf("Options() = %+v", opts)
	}
}
