package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/agentic-commerce/checkout-server/internal/model"
	"github.com/agentic-commerce/checkout-server/internal/orchestrator"
)

// createCheckoutRequest is the wire shape for POST /checkout_sessions.
type createCheckoutRequest struct {
	Items           []model.RequestedItem `json:"items"`
	Buyer           *model.Buyer          `json:"buyer,omitempty"`
	ShippingAddress *model.PostalAddress  `json:"shipping_address,omitempty"`
	Currency        string                `json:"currency,omitempty"`
}

// handleCreate creates a new checkout session (§4.G.1).
// POST /checkout_sessions
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.Items) == 0 {
		h.writeError(w, model.NewMissingFieldError("items", "$.items"))
		return
	}
	if req.ShippingAddress != nil {
		if verr := h.validateStruct(req.ShippingAddress); verr != nil {
			h.writeError(w, verr)
			return
		}
	}

	h.logger.InfoContext(ctx, "creating checkout session", slog.Int("items", len(req.Items)))

	session, err := h.orch.Create(ctx, orchestrator.CreateRequest{
		Items:           req.Items,
		Buyer:           req.Buyer,
		ShippingAddress: req.ShippingAddress,
		Currency:        req.Currency,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, session)
}

// handleGet retrieves an existing checkout session (§4.G.2).
// GET /checkout_sessions/{id}
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := h.orch.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session)
}

// updateCheckoutRequest is the wire shape for POST /checkout_sessions/{id},
// a merge patch: only fields present in the JSON body are applied.
type updateCheckoutRequest struct {
	Buyer                 *model.Buyer          `json:"buyer,omitempty"`
	Items                 []model.RequestedItem `json:"items,omitempty"`
	ShippingAddress       *model.PostalAddress  `json:"shipping_address,omitempty"`
	SelectedFulfillmentID *string               `json:"selected_fulfillment_id,omitempty"`
}

// handleUpdate applies a merge patch, reprices, and reconciles the
// inventory reservation (§4.G.3). The spec's surface uses POST here, not
// PUT, so a retried update can be intercepted by the idempotency stage.
// POST /checkout_sessions/{id}
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req updateCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.ShippingAddress != nil {
		if verr := h.validateStruct(req.ShippingAddress); verr != nil {
			h.writeError(w, verr)
			return
		}
	}

	patch := orchestrator.UpdatePatch{
		Buyer:           req.Buyer,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
	}
	if req.SelectedFulfillmentID != nil {
		patch.Fulfillment = &orchestrator.FulfillmentPatch{SelectedID: *req.SelectedFulfillmentID}
	}

	h.logger.InfoContext(ctx, "updating checkout session", slog.String("session_id", id))

	session, err := h.orch.Update(ctx, id, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session)
}

// completeCheckoutRequest is the wire shape for completing a session: the
// delegated-payment vault token minted by delegate_payment.
type completeCheckoutRequest struct {
	Payment struct {
		DelegatedToken string `json:"delegated_token"`
	} `json:"payment"`
}

// handleComplete finalizes payment and mints an order (§4.G.4).
// POST /checkout_sessions/{id}/complete
func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req completeCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "completing checkout session", slog.String("session_id", id))

	session, err := h.orch.Complete(ctx, id, req.Payment.DelegatedToken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session)
}

// handleCancel cancels a checkout session and releases its reservation
// (§4.G.5).
// POST /checkout_sessions/{id}/cancel
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	h.logger.InfoContext(ctx, "canceling checkout session", slog.String("session_id", id))

	session, err := h.orch.Cancel(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session)
}
