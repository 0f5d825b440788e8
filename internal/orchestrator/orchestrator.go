// Package orchestrator implements the session state machine (§4.G):
// create, get, update, complete, cancel, and delegate_payment. It is the
// only writer of the session aggregate and the sole caller of the vault
// store's consume and the Inventory/PSP collaborators on the request
// path; compensation after partial completion is handed to the outbox
// instead of retried inline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentic-commerce/checkout-server/internal/collaborator"
	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
	"github.com/agentic-commerce/checkout-server/internal/outbox"
	"github.com/agentic-commerce/checkout-server/internal/pricing"
	"github.com/agentic-commerce/checkout-server/internal/reconcile"
	"github.com/agentic-commerce/checkout-server/internal/sessionstore"
	"github.com/agentic-commerce/checkout-server/internal/vault"
)

// FulfillmentPatch selects a fulfillment option on update.
type FulfillmentPatch struct {
	SelectedID string
}

// UpdatePatch is the subset of session fields an update may change (§4.G.3).
type UpdatePatch struct {
	Buyer           *model.Buyer
	Items           []model.RequestedItem
	ShippingAddress *model.PostalAddress
	Fulfillment     *FulfillmentPatch
}

// CreateRequest is the input to Create (§4.G.1).
type CreateRequest struct {
	Items           []model.RequestedItem
	Buyer           *model.Buyer
	ShippingAddress *model.PostalAddress
	Currency        string
}

// DelegatePaymentRequest is the input to DelegatePayment (§4.G.6).
type DelegatePaymentRequest struct {
	Card           vault.Card
	Allowance      model.Allowance
	BillingAddress *model.PostalAddress
	Metadata       map[string]any
}

// Orchestrator wires the session store, vault store, pricing engine, and
// collaborators into the operations spec.md §4.G names.
type Orchestrator struct {
	Sessions        *sessionstore.Store
	Vault           *vault.Store
	Pricing         *pricing.Engine
	Inventory       collaborator.Inventory
	PSP             collaborator.PSP
	IDGen           *idgen.Generator
	Outbox          *outbox.Queue
	Logger          *slog.Logger
	Tracer          trace.Tracer
	DefaultCurrency string
	PermalinkBase   string
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) tracer() trace.Tracer {
	if o.Tracer != nil {
		return o.Tracer
	}
	return trace.NewNoopTracerProvider().Tracer("orchestrator")
}

// Create allocates a session, prices the cart, places a soft inventory
// reservation, and persists the result (§4.G.1).
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*model.CheckoutSession, error) {
	ctx, span := o.tracer().Start(ctx, "orchestrator.Create")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, model.NewInvalidRequestError("items must contain at least one entry", "$.items")
	}
	currency := req.Currency
	if currency == "" {
		currency = o.DefaultCurrency
	}

	now := o.IDGen.Now()
	session := &model.CheckoutSession{
		ID:              o.IDGen.NewSessionID(),
		Status:          model.StatusNotReadyForPayment,
		Currency:        currency,
		Items:           req.Items,
		Buyer:           req.Buyer,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := o.reprice(ctx, session, ""); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	lines := reservationLinesFor(session)
	if len(lines) > 0 {
		reservationID, outcome, err := o.Inventory.Reserve(ctx, session.ID, lines)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, model.NewServiceUnavailableError("inventory", err)
		}
		if outcome == collaborator.ReserveOk {
			session.InventoryReservationID = reservationID
		}
		// outcome == ReserveOutOfStock: the pricing pass above already
		// attached out_of_stock messages; the session is still created,
		// just without a reservation, per §4.G.1.
	}

	o.Sessions.Create(session)
	span.SetAttributes(attribute.String("session.id", session.ID), attribute.String("session.status", string(session.Status)))
	span.SetStatus(codes.Ok, "")
	return session.Clone(), nil
}

// Get returns the session verbatim (§4.G.2).
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.CheckoutSession, error) {
	session, ok := o.Sessions.Get(id)
	if !ok {
		return nil, model.NewNotFoundError("checkout session")
	}
	return session, nil
}

// Update applies a merge patch, reprices, reconciles the inventory
// reservation, and persists (§4.G.3).
func (o *Orchestrator) Update(ctx context.Context, id string, patch UpdatePatch) (*model.CheckoutSession, error) {
	ctx, span := o.tracer().Start(ctx, "orchestrator.Update", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	updated, err := o.Sessions.Update(id, func(session *model.CheckoutSession) error {
		if session.Status.IsTerminal() {
			return model.NewMethodNotAllowedError("cannot update a session in a terminal state")
		}

		previousLines := reservationLinesFor(session)

		if patch.Buyer != nil {
			session.Buyer = patch.Buyer
		}
		if patch.Items != nil {
			session.Items = patch.Items
		}
		if patch.ShippingAddress != nil {
			session.ShippingAddress = patch.ShippingAddress
		}
		selectedFulfillmentID := session.SelectedFulfillmentID
		if patch.Fulfillment != nil {
			selectedFulfillmentID = patch.Fulfillment.SelectedID
		}

		if err := o.reprice(ctx, session, selectedFulfillmentID); err != nil {
			return err
		}

		return o.reconcileReservation(ctx, session, previousLines)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return updated, nil
}

// reconcileReservation diffs the session's new cart against the existing
// reservation and issues the minimal Reserve/Adjust/Release call, per
// §4.G.3's "reconcile inventory reservation (add/remove/adjust quantities)".
func (o *Orchestrator) reconcileReservation(ctx context.Context, session *model.CheckoutSession, previousLines []collaborator.ReservationLine) error {
	desiredLines := reservationLinesFor(session)

	switch {
	case session.InventoryReservationID == "" && len(desiredLines) > 0:
		reservationID, outcome, err := o.Inventory.Reserve(ctx, session.ID, desiredLines)
		if err != nil {
			return model.NewServiceUnavailableError("inventory", err)
		}
		if outcome == collaborator.ReserveOk {
			session.InventoryReservationID = reservationID
		}
	case session.InventoryReservationID != "" && len(desiredLines) == 0:
		if err := o.Inventory.Release(ctx, session.InventoryReservationID); err != nil {
			return model.NewServiceUnavailableError("inventory", err)
		}
		session.InventoryReservationID = ""
	case session.InventoryReservationID != "":
		diff := reconcile.DiffItems(previousLines, desiredLines)
		if diff.IsEmpty() {
			return nil
		}
		merged := reconcile.ReservationLinesFromQuantities(previousLines, diff)
		if err := o.Inventory.Adjust(ctx, session.InventoryReservationID, merged); err != nil {
			return model.NewServiceUnavailableError("inventory", err)
		}
	}
	return nil
}

// Complete validates readiness, commits inventory, consumes the vault
// token, authorizes+captures payment, and mints an order (§4.G.4). Steps
// are ordered so PSP capture never precedes a successful inventory
// commit; compensating actions are handed to the outbox rather than
// run inline.
func (o *Orchestrator) Complete(ctx context.Context, id, delegatedToken string) (*model.CheckoutSession, error) {
	ctx, span := o.tracer().Start(ctx, "orchestrator.Complete", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	if delegatedToken == "" {
		return nil, model.NewMissingFieldError("payment.delegated_token", "$.payment.delegated_token")
	}

	updated, err := o.Sessions.Update(id, func(session *model.CheckoutSession) error {
		if session.Status.IsTerminal() {
			return model.NewMethodNotAllowedError("cannot complete a session in a terminal state")
		}
		if session.Status != model.StatusReadyForPayment {
			return model.NewInvalidRequestError("session is not ready for payment", "$.status")
		}

		if session.InventoryReservationID == "" {
			return model.NewOutOfStockError("no inventory reservation to commit", "")
		}
		commitOutcome, err := o.Inventory.Commit(ctx, session.InventoryReservationID)
		if err != nil {
			return model.NewServiceUnavailableError("inventory", err)
		}
		if commitOutcome != collaborator.CommitOk {
			return model.NewOutOfStockError("inventory no longer available", "")
		}

		total := totalAmount(session)
		outcome, tokenSnapshot := o.Vault.Consume(delegatedToken, session.ID, total, session.Currency)
		if outcome != model.ConsumeOk {
			o.enqueueRelease(session)
			return mapConsumeOutcome(outcome)
		}

		pspResult, pspRef, err := o.PSP.AuthorizeCapture(ctx, tokenSnapshot, total, session.Currency, session.ID)
		if err != nil {
			o.enqueueRelease(session)
			o.Outbox.Enqueue(outbox.ActionVoidPayment, delegatedToken, session.ID)
			return model.NewServiceUnavailableError("psp", err)
		}
		switch pspResult {
		case collaborator.PSPDeclined:
			o.enqueueRelease(session)
			return model.NewPaymentDeclinedError("payment was declined")
		case collaborator.PSPFailed:
			o.enqueueRelease(session)
			o.Outbox.Enqueue(outbox.ActionVoidPayment, pspRef, session.ID)
			return model.NewServiceUnavailableError("psp", fmt.Errorf("authorize_capture failed"))
		}

		session.Status = model.StatusCompleted
		session.Order = &model.Order{
			ID:                o.IDGen.NewOrderID(),
			CheckoutSessionID: session.ID,
			PermalinkURL:      fmt.Sprintf("%s/orders/%s", o.PermalinkBase, session.ID),
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return updated, nil
}

// enqueueRelease hands the committed reservation to the outbox rather than
// releasing it inline, since a consume/PSP failure already determined the
// response this call will return.
func (o *Orchestrator) enqueueRelease(session *model.CheckoutSession) {
	if session.InventoryReservationID == "" {
		return
	}
	o.Outbox.Enqueue(outbox.ActionReleaseInventory, session.InventoryReservationID, session.ID)
}

func mapConsumeOutcome(outcome model.ConsumeOutcome) error {
	switch outcome {
	case model.ConsumeNotFound, model.ConsumeAlreadyConsumed, model.ConsumeExpired, model.ConsumeRevoked,
		model.ConsumeSessionBindingViolation, model.ConsumeAllowanceExceeded, model.ConsumeCurrencyMismatch:
		return model.NewInvalidRequestError("vault token not found or already used", "$.payment.delegated_token")
	default:
		return model.NewInternalError(fmt.Errorf("unexpected consume outcome %v", outcome))
	}
}

// Cancel releases any reservation and marks the session canceled (§4.G.5).
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*model.CheckoutSession, error) {
	ctx, span := o.tracer().Start(ctx, "orchestrator.Cancel", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	updated, err := o.Sessions.Update(id, func(session *model.CheckoutSession) error {
		if session.Status.IsTerminal() {
			return model.NewMethodNotAllowedError("session is already in a terminal state")
		}
		if session.InventoryReservationID != "" {
			if err := o.Inventory.Release(ctx, session.InventoryReservationID); err != nil {
				return model.NewServiceUnavailableError("inventory", err)
			}
			session.InventoryReservationID = ""
		}
		session.Status = model.StatusCanceled
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return updated, nil
}

// DelegatePayment validates card and allowance, stores a single-use vault
// token, and returns its public shape (§4.G.6). Raw card fields are never
// retained beyond ValidateCard's derivation of the masked PAN.
func (o *Orchestrator) DelegatePayment(ctx context.Context, req DelegatePaymentRequest) (*model.VaultToken, error) {
	_, span := o.tracer().Start(ctx, "orchestrator.DelegatePayment")
	defer span.End()

	now := o.IDGen.Now()
	maskedPAN, err := vault.ValidateCard(req.Card, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := vault.ValidateAllowance(req.Allowance, now); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	token := &model.VaultToken{
		ID:        o.IDGen.NewVaultTokenID(),
		CreatedAt: now,
		Allowance: req.Allowance,
		Metadata:  req.Metadata,
		MaskedPAN: maskedPAN,
		Status:    model.VaultTokenActive,
	}
	o.Vault.Store(token)
	span.SetAttributes(attribute.String("vault_token.id", token.ID))
	span.SetStatus(codes.Ok, "")
	return token, nil
}

func (o *Orchestrator) reprice(ctx context.Context, session *model.CheckoutSession, selectedFulfillmentID string) error {
	result, err := o.Pricing.Compute(ctx, session.Items, session.Buyer, session.ShippingAddress, selectedFulfillmentID, session.Currency)
	if err != nil {
		return err
	}
	session.LineItems = result.LineItems
	session.FulfillmentOptions = result.FulfillmentOptions
	session.SelectedFulfillmentID = selectedFulfillmentID
	session.Totals = result.Totals
	session.Messages = result.Messages
	session.Status = result.Readiness
	session.UpdatedAt = o.IDGen.Now()
	return nil
}

func reservationLinesFor(session *model.CheckoutSession) []collaborator.ReservationLine {
	lines := make([]collaborator.ReservationLine, 0, len(session.Items))
	for _, item := range session.Items {
		lines = append(lines, collaborator.ReservationLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func totalAmount(session *model.CheckoutSession) int64 {
	for _, t := range session.Totals {
		if t.Type == model.TotalTypeTotal {
			return t.Amount
		}
	}
	return 0
}
