package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/agentic-commerce/checkout-server/internal/collaborator"
	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
	"github.com/agentic-commerce/checkout-server/internal/outbox"
	"github.com/agentic-commerce/checkout-server/internal/pricing"
	"github.com/agentic-commerce/checkout-server/internal/sessionstore"
	"github.com/agentic-commerce/checkout-server/internal/vault"
)

type fixture struct {
	orch     *Orchestrator
	catalog  *collaborator.MemoryCatalog
	inv      *collaborator.MemoryInventory
	psp      *collaborator.MemoryPSP
	sessions *sessionstore.Store
	vaultStr *vault.Store
	gen      *idgen.Generator
	ob       *outbox.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gen := idgen.New()
	catalog := collaborator.NewMemoryCatalog()
	catalog.Seed("p1", 1000, "usd", 10, true, "Widget", "SKU-1")
	inv := collaborator.NewMemoryInventory(catalog, gen)
	psp := collaborator.NewMemoryPSP(gen)
	sessions := sessionstore.New()
	vaultStr := vault.New()
	ob := outbox.New(func(ctx context.Context, e outbox.Entry) error {
		switch e.Action {
		case outbox.ActionReleaseInventory:
			return inv.Release(ctx, e.TargetID)
		default:
			return nil
		}
	})
	t.Cleanup(func() {
		sessions.Close()
		ob.Close()
	})

	engine := &pricing.Engine{Catalog: catalog, Tax: &collaborator.MemoryTax{}, Shipping: &collaborator.MemoryShipping{StandardSubtotal: 500, ExpressSubtotal: 1500}}

	orch := &Orchestrator{
		Sessions:        sessions,
		Vault:           vaultStr,
		Pricing:         engine,
		Inventory:       inv,
		PSP:             psp,
		IDGen:           gen,
		Outbox:          ob,
		DefaultCurrency: "usd",
		PermalinkBase:   "https://shop.example/checkout",
	}
	return &fixture{orch: orch, catalog: catalog, inv: inv, psp: psp, sessions: sessions, vaultStr: vaultStr, gen: gen, ob: ob}
}

func validBuyer() *model.Buyer {
	return &model.Buyer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
}

func validAddress() *model.PostalAddress {
	return &model.PostalAddress{Name: "Ada Lovelace", Line1: "1 Infinite Loop", City: "Cupertino", Region: "CA", Country: "US", PostalCode: "95014"}
}

func TestCreate_ReservesInventoryAndPrices(t *testing.T) {
	f := newFixture(t)
	session, err := f.orch.Create(context.Background(), CreateRequest{
		Items: []model.RequestedItem{{ProductID: "p1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if session.InventoryReservationID == "" {
		t.Error("Create() did not place an inventory reservation")
	}
	if len(session.LineItems) != 1 {
		t.Fatalf("LineItems = %v, want 1 entry", session.LineItems)
	}
}

func TestCreate_OutOfStockStillCreatesSession(t *testing.T) {
	f := newFixture(t)
	session, err := f.orch.Create(context.Background(), CreateRequest{
		Items: []model.RequestedItem{{ProductID: "p1", Quantity: 100}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if session.InventoryReservationID != "" {
		t.Error("Create() placed a reservation despite insufficient stock")
	}
	if session.Status != model.StatusNotReadyForPayment {
		t.Errorf("Status = %v, want not_ready_for_payment", session.Status)
	}
	foundOutOfStock := false
	for _, m := range session.Messages {
		if m.Code == string(model.CodeOutOfStock) {
			foundOutOfStock = true
		}
	}
	if !foundOutOfStock {
		t.Error("expected an out_of_stock message")
	}
}

func TestUpdate_RejectsTerminalSession(t *testing.T) {
	f := newFixture(t)
	session, err := f.orch.Create(context.Background(), CreateRequest{Items: []model.RequestedItem{{ProductID: "p1", Quantity: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.Cancel(context.Background(), session.ID); err != nil {
		t.Fatal(err)
	}
	_, err = f.orch.Update(context.Background(), session.ID, UpdatePatch{Buyer: validBuyer()})
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.StatusCode != 405 {
		t.Fatalf("Update() on canceled session error = %v, want 405", err)
	}
}

func TestUpdate_ReconcilesReservationOnQuantityChange(t *testing.T) {
	f := newFixture(t)
	session, err := f.orch.Create(context.Background(), CreateRequest{Items: []model.RequestedItem{{ProductID: "p1", Quantity: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	updated, err := f.orch.Update(context.Background(), session.ID, UpdatePatch{
		Items: []model.RequestedItem{{ProductID: "p1", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.LineItems[0].Quantity != 3 {
		t.Errorf("LineItems[0].Quantity = %d, want 3", updated.LineItems[0].Quantity)
	}
}

func completeReadySession(t *testing.T, f *fixture) (*model.CheckoutSession, string) {
	t.Helper()
	session, err := f.orch.Create(context.Background(), CreateRequest{
		Items:           []model.RequestedItem{{ProductID: "p1", Quantity: 1}},
		Buyer:           validBuyer(),
		ShippingAddress: validAddress(),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	session, err = f.orch.Update(context.Background(), session.ID, UpdatePatch{Fulfillment: &FulfillmentPatch{SelectedID: "standard_shipping"}})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if session.Status != model.StatusReadyForPayment {
		t.Fatalf("Status = %v, want ready_for_payment, messages=%v", session.Status, session.Messages)
	}

	token, err := f.orch.DelegatePayment(context.Background(), DelegatePaymentRequest{
		Card:      vault.Card{Number: "4242424242424242", ExpMonth: 12, ExpYear: time.Now().Year() + 2, CVC: "123"},
		Allowance: model.Allowance{MaxAmount: 1_000_000, Currency: "usd", ExpiresAt: time.Now().Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("DelegatePayment() error = %v", err)
	}
	return session, token.ID
}

func TestComplete_HappyPathMintsOrder(t *testing.T) {
	f := newFixture(t)
	session, tokenID := completeReadySession(t, f)

	completed, err := f.orch.Complete(context.Background(), session.ID, tokenID)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completed.Status != model.StatusCompleted {
		t.Fatalf("Status = %v, want completed", completed.Status)
	}
	if completed.Order == nil || completed.Order.ID == "" {
		t.Fatal("Order was not minted")
	}
}

func TestComplete_PSPDeclineReleasesReservationViaOutbox(t *testing.T) {
	f := newFixture(t)
	session, tokenID := completeReadySession(t, f)
	f.psp.DeclineSessionIDs[session.ID] = true

	_, err := f.orch.Complete(context.Background(), session.ID, tokenID)
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.CodePaymentDeclined {
		t.Fatalf("Complete() error = %v, want payment_declined", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(f.ob.Pending()) > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	entry, _ := f.catalog.Lookup(context.Background(), "p1")
	if entry.AvailableQuantity != 10 {
		t.Errorf("AvailableQuantity = %d, want 10 (released back after decline)", entry.AvailableQuantity)
	}
}

func TestComplete_RejectsTokenReuse(t *testing.T) {
	f := newFixture(t)
	session, tokenID := completeReadySession(t, f)
	if _, err := f.orch.Complete(context.Background(), session.ID, tokenID); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}

	second, err := f.orch.Create(context.Background(), CreateRequest{
		Items:           []model.RequestedItem{{ProductID: "p1", Quantity: 1}},
		Buyer:           validBuyer(),
		ShippingAddress: validAddress(),
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err = f.orch.Update(context.Background(), second.ID, UpdatePatch{Fulfillment: &FulfillmentPatch{SelectedID: "standard_shipping"}})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.orch.Complete(context.Background(), second.ID, tokenID)
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.StatusCode != 400 {
		t.Fatalf("Complete() with reused token error = %v, want 400 invalid", err)
	}
}

func TestCancel_ReleasesReservation(t *testing.T) {
	f := newFixture(t)
	session, err := f.orch.Create(context.Background(), CreateRequest{Items: []model.RequestedItem{{ProductID: "p1", Quantity: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	canceled, err := f.orch.Cancel(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if canceled.Status != model.StatusCanceled {
		t.Errorf("Status = %v, want canceled", canceled.Status)
	}
	if canceled.InventoryReservationID != "" {
		t.Error("InventoryReservationID should be cleared after cancel")
	}
}

func TestDelegatePayment_RejectsInvalidCard(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.DelegatePayment(context.Background(), DelegatePaymentRequest{
		Card:      vault.Card{Number: "1234", ExpMonth: 1, ExpYear: time.Now().Year() + 1, CVC: "123"},
		Allowance: model.Allowance{MaxAmount: 1000, Currency: "usd", ExpiresAt: time.Now().Add(time.Hour)},
	})
	if err == nil {
		t.Fatal("DelegatePayment() with invalid card = nil error, want error")
	}
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Get(context.Background(), "cs_missing")
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.StatusCode != 404 {
		t.Fatalf("Get() missing session error = %v, want 404", err)
	}
}
