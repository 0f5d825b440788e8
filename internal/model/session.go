// Package model defines the data structures shared by the checkout core:
// sessions, vault tokens, idempotency records, and their error envelope.
package model

import "time"

// CheckoutSession is the aggregate owned by the session store. Create and
// Update recompute LineItems, FulfillmentOptions, Totals, and Messages via
// the pricing engine; Complete and Cancel set status, order and reservation
// fields directly without repricing.
type CheckoutSession struct {
	ID                      string             `json:"id"`
	Status                  CheckoutStatus     `json:"status"`
	Currency                string             `json:"currency"`
	Items                   []RequestedItem    `json:"items"`
	LineItems               []LineItem         `json:"line_items"`
	Buyer                   *Buyer             `json:"buyer,omitempty"`
	ShippingAddress         *PostalAddress     `json:"shipping_address,omitempty"`
	FulfillmentOptions      []FulfillmentOption `json:"fulfillment_options,omitempty"`
	SelectedFulfillmentID   string             `json:"selected_fulfillment_id,omitempty"`
	Totals                  []Total            `json:"totals"`
	Messages                []Message          `json:"messages,omitempty"`
	Links                    []Link             `json:"links,omitempty"`
	Order                    *Order             `json:"order,omitempty"`
	InventoryReservationID   string             `json:"-"`
	CreatedAt                time.Time          `json:"created_at"`
	UpdatedAt                time.Time          `json:"updated_at"`
}

// RequestedItem is the client-supplied cart line: a product reference and
// a quantity. Everything else about the line (price, tax, title) is
// derived by the pricing engine from the catalog collaborator.
type RequestedItem struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
}

// CheckoutStatus is the session's lifecycle state (§3.1).
type CheckoutStatus string

const (
	StatusNotReadyForPayment CheckoutStatus = "not_ready_for_payment"
	StatusReadyForPayment    CheckoutStatus = "ready_for_payment"
	StatusCompleted          CheckoutStatus = "completed"
	StatusCanceled           CheckoutStatus = "canceled"
)

// IsTerminal reports whether no further mutation is permitted.
func (s CheckoutStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// LineItem is a derived, priced cart line. Amounts are integer minor units.
type LineItem struct {
	ID         string `json:"id"`
	Item       Item   `json:"item"`
	Quantity   int    `json:"quantity"`
	BaseAmount int64  `json:"base_amount"`
	Discount   int64  `json:"discount,omitempty"`
	Subtotal   int64  `json:"subtotal"`
	Tax        int64  `json:"tax"`
	Total      int64  `json:"total"`
}

// Item carries the catalog-derived display fields for a line item.
type Item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	SKU   string `json:"sku,omitempty"`
	Price int64  `json:"price"`
}

// FulfillmentOption is a derived shipping/digital choice. IDs are stable
// across recomputations of the same session.
type FulfillmentOption struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "shipping" | "digital"
	Title     string `json:"title"`
	SubTitle  string `json:"subtitle,omitempty"`
	Carrier   string `json:"carrier,omitempty"`
	Subtotal  int64  `json:"subtotal"`
	Tax       int64  `json:"tax"`
	Total     int64  `json:"total"`
	Earliest  string `json:"earliest,omitempty"`
	Latest    string `json:"latest,omitempty"`
}

// TotalType categorizes a pricing component (§3.1 invariant 3).
type TotalType string

const (
	TotalTypeItemsBaseAmount TotalType = "items_base_amount"
	TotalTypeItemsDiscount   TotalType = "items_discount"
	TotalTypeSubtotal        TotalType = "subtotal"
	TotalTypeDiscount        TotalType = "discount"
	TotalTypeFulfillment     TotalType = "fulfillment"
	TotalTypeTax             TotalType = "tax"
	TotalTypeFee             TotalType = "fee"
	TotalTypeTotal           TotalType = "total"
)

// Total is one line of the session's total breakdown.
type Total struct {
	Type        TotalType `json:"type"`
	DisplayText string    `json:"display_text"`
	Amount      int64     `json:"amount"`
}

// MessageSeverity distinguishes informational from blocking feedback.
type MessageSeverity string

const (
	SeverityInfo    MessageSeverity = "info"
	SeverityWarning MessageSeverity = "warning"
	SeverityError   MessageSeverity = "error"
)

// Message is agent-facing feedback about the session, optionally pointing
// at a field via a JSONPath param.
type Message struct {
	Severity MessageSeverity `json:"severity"`
	Code     string          `json:"code,omitempty"`
	Content  string          `json:"content"`
	Param    string          `json:"param,omitempty"`
}

// NewErrorMessage builds a blocking error message addressed at a field.
func NewErrorMessage(code, content, param string) Message {
	return Message{Severity: SeverityError, Code: code, Content: content, Param: param}
}

// NewInfoMessage builds a non-blocking informational message.
func NewInfoMessage(code, content string) Message {
	return Message{Severity: SeverityInfo, Code: code, Content: content}
}

// NewWarningMessage builds a non-blocking warning message.
func NewWarningMessage(code, content string) Message {
	return Message{Severity: SeverityWarning, Code: code, Content: content}
}

// LinkType categorizes a merchant policy link.
type LinkType string

const (
	LinkTypePrivacyPolicy  LinkType = "privacy_policy"
	LinkTypeTermsOfService LinkType = "terms_of_service"
	LinkTypeRefundPolicy   LinkType = "refund_policy"
)

// Link is a merchant-configured policy URL surfaced on every session.
type Link struct {
	Type  LinkType `json:"type"`
	URL   string   `json:"url"`
	Title string   `json:"title,omitempty"`
}

// Buyer identifies the purchasing customer.
type Buyer struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,e164"`
}

// PostalAddress is the shipping/billing address shape (§6.4).
type PostalAddress struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region" validate:"required"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
	PostalCode string `json:"postal_code" validate:"required"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,e164"`
}

// Order is minted on completion and is present iff Status == completed.
type Order struct {
	ID                string `json:"id"`
	CheckoutSessionID string `json:"checkout_session_id"`
	PermalinkURL      string `json:"permalink_url"`
}

// Clone deep-copies a session so callers holding a reference under the
// per-session lock cannot observe or corrupt another goroutine's view.
func (s *CheckoutSession) Clone() *CheckoutSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Items = append([]RequestedItem(nil), s.Items...)
	c.LineItems = append([]LineItem(nil), s.LineItems...)
	c.FulfillmentOptions = append([]FulfillmentOption(nil), s.FulfillmentOptions...)
	c.Totals = append([]Total(nil), s.Totals...)
	c.Messages = append([]Message(nil), s.Messages...)
	c.Links = append([]Link(nil), s.Links...)
	if s.Buyer != nil {
		b := *s.Buyer
		c.Buyer = &b
	}
	if s.ShippingAddress != nil {
		a := *s.ShippingAddress
		c.ShippingAddress = &a
	}
	if s.Order != nil {
		o := *s.Order
		c.Order = &o
	}
	return &c
}
