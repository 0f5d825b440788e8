// Secondary MCP transport: the same five checkout operations plus
// delegate_payment exposed as MCP tools instead of REST routes, so an
// agent speaking the Model Context Protocol reaches the same orchestrator
// a REST client does. Grounded on the teacher's own MCP handler, stripped
// of UCP capability negotiation (this surface has no remote-profile
// concept) and remapped onto orchestrator.Orchestrator instead of
// adapter.Adapter.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentic-commerce/checkout-server/internal/model"
	"github.com/agentic-commerce/checkout-server/internal/orchestrator"
	"github.com/agentic-commerce/checkout-server/internal/vault"
)

// CreateCheckoutInput is the input schema for the create_checkout tool.
type CreateCheckoutInput struct {
	Items           []model.RequestedItem `json:"items" jsonschema:"cart line items,required"`
	Buyer           *model.Buyer          `json:"buyer,omitempty" jsonschema:"buyer information"`
	ShippingAddress *model.PostalAddress  `json:"shipping_address,omitempty" jsonschema:"shipping address"`
	Currency        string                `json:"currency,omitempty" jsonschema:"ISO 4217 currency code"`
}

// GetCheckoutInput is the input schema for the get_checkout tool.
type GetCheckoutInput struct {
	ID string `json:"id" jsonschema:"checkout session ID,required"`
}

// UpdateCheckoutInput is the input schema for the update_checkout tool; a
// merge patch like the REST surface's POST /checkout_sessions/{id}.
type UpdateCheckoutInput struct {
	ID                    string                `json:"id" jsonschema:"checkout session ID,required"`
	Buyer                 *model.Buyer          `json:"buyer,omitempty" jsonschema:"buyer information"`
	Items                 []model.RequestedItem `json:"items,omitempty" jsonschema:"replacement cart line items"`
	ShippingAddress       *model.PostalAddress  `json:"shipping_address,omitempty" jsonschema:"shipping address"`
	SelectedFulfillmentID string                `json:"selected_fulfillment_id,omitempty" jsonschema:"selected fulfillment option ID"`
}

// CompleteCheckoutInput is the input schema for the complete_checkout tool.
type CompleteCheckoutInput struct {
	ID             string `json:"id" jsonschema:"checkout session ID,required"`
	DelegatedToken string `json:"delegated_token" jsonschema:"vault token minted by delegate_payment,required"`
}

// CancelCheckoutInput is the input schema for the cancel_checkout tool.
type CancelCheckoutInput struct {
	ID string `json:"id" jsonschema:"checkout session ID,required"`
}

// DelegatePaymentInput is the input schema for the delegate_payment tool.
type DelegatePaymentInput struct {
	CardNumber string         `json:"card_number" jsonschema:"card number,required"`
	ExpMonth   int            `json:"exp_month" jsonschema:"card expiry month,required"`
	ExpYear    int            `json:"exp_year" jsonschema:"card expiry year,required"`
	CVC        string         `json:"cvc" jsonschema:"card security code,required"`
	MaxAmount  int64          `json:"max_amount" jsonschema:"maximum spend in minor units,required"`
	Currency   string         `json:"currency" jsonschema:"ISO 4217 currency code,required"`
	ExpiresAt  string         `json:"expires_at" jsonschema:"RFC3339 allowance expiry,required"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"opaque metadata carried on the token"`
}

// NewMCPServer builds an MCP server exposing the checkout lifecycle as
// tools, mirroring the REST surface's five operations plus delegate_payment.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "agentic-commerce-checkout", Version: "1.0.0"},
		&mcp.ServerOptions{
			Instructions: "Agentic commerce checkout tools: create, inspect, update, " +
				"complete, and cancel a checkout session, and mint a delegated-payment token.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_checkout",
		Description: "Create a new checkout session from cart line items.",
	}, h.mcpCreateCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_checkout",
		Description: "Get the current state of a checkout session.",
	}, h.mcpGetCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_checkout",
		Description: "Apply a merge patch to a checkout session: buyer, items, shipping address, or fulfillment selection.",
	}, h.mcpUpdateCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "complete_checkout",
		Description: "Complete a checkout session using a delegated-payment token and place the order.",
	}, h.mcpCompleteCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_checkout",
		Description: "Cancel a checkout session and release its inventory reservation.",
	}, h.mcpCancelCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delegate_payment",
		Description: "Validate card and spend allowance and mint a single-use delegated-payment token.",
	}, h.mcpDelegatePayment)

	return server
}

// MCPHandler returns an HTTP handler for the MCP endpoint; mount it at
// /mcp alongside the REST routes registered by RegisterRoutes.
func (h *Handler) MCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server { return server }, nil)
}

func (h *Handler) mcpCreateCheckout(ctx context.Context, req *mcp.CallToolRequest, input CreateCheckoutInput) (*mcp.CallToolResult, *model.CheckoutSession, error) {
	session, err := h.orch.Create(ctx, orchestrator.CreateRequest{
		Items:           input.Items,
		Buyer:           input.Buyer,
		ShippingAddress: input.ShippingAddress,
		Currency:        input.Currency,
	})
	if err != nil {
		return nil, nil, mcpError(h, err)
	}
	return nil, session, nil
}

func (h *Handler) mcpGetCheckout(ctx context.Context, req *mcp.CallToolRequest, input GetCheckoutInput) (*mcp.CallToolResult, *model.CheckoutSession, error) {
	session, err := h.orch.Get(ctx, input.ID)
	if err != nil {
		return nil, nil, mcpError(h, err)
	}
	return nil, session, nil
}

func (h *Handler) mcpUpdateCheckout(ctx context.Context, req *mcp.CallToolRequest, input UpdateCheckoutInput) (*mcp.CallToolResult, *model.CheckoutSession, error) {
	patch := orchestrator.UpdatePatch{
		Buyer:           input.Buyer,
		Items:           input.Items,
		ShippingAddress: input.ShippingAddress,
	}
	if input.SelectedFulfillmentID != "" {
		patch.Fulfillment = &orchestrator.FulfillmentPatch{SelectedID: input.SelectedFulfillmentID}
	}
	session, err := h.orch.Update(ctx, input.ID, patch)
	if err != nil {
		return nil, nil, mcpError(h, err)
	}
	return nil, session, nil
}

func (h *Handler) mcpCompleteCheckout(ctx context.Context, req *mcp.CallToolRequest, input CompleteCheckoutInput) (*mcp.CallToolResult, *model.CheckoutSession, error) {
	session, err := h.orch.Complete(ctx, input.ID, input.DelegatedToken)
	if err != nil {
		return nil, nil, mcpError(h, err)
	}
	return nil, session, nil
}

func (h *Handler) mcpCancelCheckout(ctx context.Context, req *mcp.CallToolRequest, input CancelCheckoutInput) (*mcp.CallToolResult, *model.CheckoutSession, error) {
	session, err := h.orch.Cancel(ctx, input.ID)
	if err != nil {
		return nil, nil, mcpError(h, err)
	}
	return nil, session, nil
}

func (h *Handler) mcpDelegatePayment(ctx context.Context, req *mcp.CallToolRequest, input DelegatePaymentInput) (*mcp.CallToolResult, *delegatePaymentResponse, error) {
	expiresAt, err := parseTimestamp(input.ExpiresAt)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid: expires_at must be RFC3339")
	}
	token, apiErr := h.orch.DelegatePayment(ctx, orchestrator.DelegatePaymentRequest{
		Card: vault.Card{
			Number:   input.CardNumber,
			ExpMonth: input.ExpMonth,
			ExpYear:  input.ExpYear,
			CVC:      input.CVC,
		},
		Allowance: model.Allowance{
			MaxAmount: input.MaxAmount,
			Currency:  input.Currency,
			ExpiresAt: expiresAt,
		},
		Metadata: input.Metadata,
	})
	if apiErr != nil {
		return nil, nil, mcpError(h, apiErr)
	}
	return nil, &delegatePaymentResponse{ID: token.ID, Created: token.CreatedAt.UTC().Format(timeLayout), Metadata: token.Metadata}, nil
}

// mcpError renders an *model.APIError as a terse "code: message" string;
// MCP tool errors are plain Go errors, not the §6.2 JSON envelope, so the
// caller sees the reason code without the full structured body.
func mcpError(h *Handler, err error) error {
	if apiErr, ok := err.(*model.APIError); ok {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
