package httpapi

import (
	"net/http"

	"github.com/agentic-commerce/checkout-server/internal/model"
	"github.com/agentic-commerce/checkout-server/internal/orchestrator"
	"github.com/agentic-commerce/checkout-server/internal/vault"
)

// delegatePaymentRequest is the wire shape for
// POST /agentic_commerce/delegate_payment.
type delegatePaymentRequest struct {
	PaymentMethod struct {
		Card struct {
			Number   string `json:"number"`
			ExpMonth int    `json:"exp_month"`
			ExpYear  int    `json:"exp_year"`
			CVC      string `json:"cvc"`
		} `json:"card"`
	} `json:"payment_method"`
	Allowance struct {
		Reason            string `json:"reason,omitempty"`
		MaxAmount         int64  `json:"max_amount"`
		Currency          string `json:"currency"`
		CheckoutSessionID string `json:"checkout_session_id,omitempty"`
		ExpiresAt         string `json:"expires_at"`
	} `json:"allowance"`
	BillingAddress *model.PostalAddress `json:"billing_address,omitempty"`
	Metadata       map[string]any       `json:"metadata,omitempty"`
}

// delegatePaymentResponse is the §6.1 response shape: {id, created, metadata}.
type delegatePaymentResponse struct {
	ID       string         `json:"id"`
	Created  string         `json:"created"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleDelegatePayment validates the card and allowance and mints a
// single-use vault token (§4.G.6). This endpoint sits outside the
// checkout-session resource family: it is the vault's own creation
// surface, shared by every session that later calls complete.
// POST /agentic_commerce/delegate_payment
func (h *Handler) handleDelegatePayment(w http.ResponseWriter, r *http.Request) {
	var req delegatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Allowance.MaxAmount <= 0 {
		h.writeError(w, model.NewMissingFieldError("allowance.max_amount", "$.allowance.max_amount"))
		return
	}
	expiresAt, err := parseTimestamp(req.Allowance.ExpiresAt)
	if err != nil {
		h.writeError(w, model.NewInvalidRequestError("allowance.expires_at must be RFC3339", "$.allowance.expires_at"))
		return
	}

	token, apiErr := h.orch.DelegatePayment(r.Context(), orchestrator.DelegatePaymentRequest{
		Card: vault.Card{
			Number:   req.PaymentMethod.Card.Number,
			ExpMonth: req.PaymentMethod.Card.ExpMonth,
			ExpYear:  req.PaymentMethod.Card.ExpYear,
			CVC:      req.PaymentMethod.Card.CVC,
		},
		Allowance: model.Allowance{
			Reason:            req.Allowance.Reason,
			MaxAmount:         req.Allowance.MaxAmount,
			Currency:          req.Allowance.Currency,
			CheckoutSessionID: req.Allowance.CheckoutSessionID,
			ExpiresAt:         expiresAt,
		},
		BillingAddress: req.BillingAddress,
		Metadata:       req.Metadata,
	})
	if apiErr != nil {
		h.writeError(w, apiErr)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, delegatePaymentResponse{
		ID:       token.ID,
		Created:  token.CreatedAt.UTC().Format(timeLayout),
		Metadata: token.Metadata,
	})
}
