package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/agentic-commerce/checkout-server/internal/collaborator"
	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

func TestResilientInventory_RetriesTransientReserveFailure(t *testing.T) {
	catalog := collaborator.NewMemoryCatalog()
	catalog.Seed("p1", 1000, "usd", 10, true, "Widget", "SKU-1")
	inner := collaborator.NewMemoryInventory(catalog, idgen.New())

	failing := &flakyInventory{Inventory: inner, failuresLeft: 2}
	r := &ResilientInventory{Inner: failing, Retry: fastRetryConfig(), Breaker: NewBreaker("test-inventory")}

	_, outcome, err := r.Reserve(context.Background(), "cs_1", []collaborator.ReservationLine{{ProductID: "p1", Quantity: 1}})
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if outcome != collaborator.ReserveOk {
		t.Errorf("outcome = %v, want ReserveOk", outcome)
	}
	if failing.failuresLeft != 0 {
		t.Errorf("failuresLeft = %d, want 0 (retry should have exhausted them)", failing.failuresLeft)
	}
}

func TestResilientPSP_DoesNotRetryABusinessDecline(t *testing.T) {
	gen := idgen.New()
	inner := collaborator.NewMemoryPSP(gen)
	inner.DeclineSessionIDs["cs_1"] = true

	calls := 0
	counting := pspCallCounter{PSP: inner, calls: &calls}
	r := &ResilientPSP{Inner: counting, Retry: fastRetryConfig(), Breaker: NewBreaker("test-psp")}

	token := &model.VaultToken{ID: "vt_1", Allowance: model.Allowance{MaxAmount: 1000, Currency: "usd"}}
	result, _, err := r.AuthorizeCapture(context.Background(), token, 500, "usd", "cs_1")
	if err != nil {
		t.Fatalf("AuthorizeCapture() error = %v", err)
	}
	if result != collaborator.PSPDeclined {
		t.Fatalf("result = %v, want PSPDeclined", result)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (a decline is not a transient fault)", calls)
	}
}

// flakyInventory fails Reserve a fixed number of times before delegating,
// simulating a transient transport error a real HTTP-backed client would
// surface as a network error rather than a collaborator outcome.
type flakyInventory struct {
	collaborator.Inventory
	failuresLeft int
}

func (f *flakyInventory) Reserve(ctx context.Context, sessionID string, lines []collaborator.ReservationLine) (string, collaborator.ReserveOutcome, error) {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return "", collaborator.ReserveOutOfStock, errors.New("simulated transport error")
	}
	return f.Inventory.Reserve(ctx, sessionID, lines)
}

type pspCallCounter struct {
	collaborator.PSP
	calls *int
}

func (p pspCallCounter) AuthorizeCapture(ctx context.Context, tokenSnapshot *model.VaultToken, amount int64, currency, sessionID string) (collaborator.PSPResult, string, error) {
	*p.calls++
	return p.PSP.AuthorizeCapture(ctx, tokenSnapshot, amount, currency, sessionID)
}
