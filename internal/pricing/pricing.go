// Package pricing implements the pricing/fulfillment engine: component E
// of the checkout core. Compute is a pure function of its inputs plus the
// catalog/tax/shipping collaborators, which must themselves be
// deterministic within a single call — no state is kept here across
// calls. Line pricing and totals aggregation follow the pack's checkout
// sample's rebuildFinancials/buildLineItems/buildTotals shape, generalized
// to real collaborator calls and bankers'-rounding tax math.
package pricing

import (
	"context"
	"fmt"

	"github.com/agentic-commerce/checkout-server/internal/collaborator"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

// Engine wires the three pricing collaborators together.
type Engine struct {
	Catalog  collaborator.Catalog
	Tax      collaborator.Tax
	Shipping collaborator.Shipping
}

// Result is the pure output of Compute.
type Result struct {
	LineItems          []model.LineItem
	FulfillmentOptions []model.FulfillmentOption
	Totals             []model.Total
	Messages           []model.Message
	Readiness          model.CheckoutStatus
}

// Compute derives line items, fulfillment options, totals, messages, and
// readiness from a cart, an optional address, and an optional fulfillment
// selection (§4.E).
func (e *Engine) Compute(
	ctx context.Context,
	items []model.RequestedItem,
	buyer *model.Buyer,
	address *model.PostalAddress,
	selectedFulfillmentID string,
	currency string,
) (Result, error) {
	var messages []model.Message

	lineItems, lineMessages, taxableLines, err := e.buildLineItems(ctx, items)
	if err != nil {
		return Result{}, err
	}
	messages = append(messages, lineMessages...)

	if err := e.applyTax(ctx, lineItems, taxableLines, address); err != nil {
		return Result{}, err
	}

	var fulfillmentOptions []model.FulfillmentOption
	if address != nil {
		fulfillmentOptions, err = e.Shipping.Options(ctx, address, 0)
		if err != nil {
			return Result{}, err
		}
	}

	var selected *model.FulfillmentOption
	for i := range fulfillmentOptions {
		if fulfillmentOptions[i].ID == selectedFulfillmentID {
			selected = &fulfillmentOptions[i]
			break
		}
	}
	if selectedFulfillmentID != "" && selected == nil {
		messages = append(messages, model.NewErrorMessage(string(model.CodeInvalid), "selected fulfillment option not found", "$.fulfillment.selected_id"))
	}

	totals := buildTotals(lineItems, selected, currency)

	readiness := deriveReadiness(buyer, address, selectedFulfillmentID, selected, lineItems, messages)

	return Result{
		LineItems:          lineItems,
		FulfillmentOptions: fulfillmentOptions,
		Totals:             totals,
		Messages:           messages,
		Readiness:          readiness,
	}, nil
}

func (e *Engine) buildLineItems(ctx context.Context, items []model.RequestedItem) ([]model.LineItem, []model.Message, []bool, error) {
	lines := make([]model.LineItem, 0, len(items))
	var messages []model.Message
	taxable := make([]bool, 0, len(items))

	for i, item := range items {
		param := fmt.Sprintf("$.items[%d]", i)
		if item.Quantity <= 0 {
			return nil, nil, nil, model.NewInvalidRequestError("quantity must be at least 1", param+".quantity")
		}

		entry, err := e.Catalog.Lookup(ctx, item.ProductID)
		if err != nil {
			return nil, nil, nil, model.NewInvalidRequestError(fmt.Sprintf("unknown product %q", item.ProductID), param+".id")
		}

		base := entry.UnitPrice * int64(item.Quantity)
		line := model.LineItem{
			ID: fmt.Sprintf("li_%s_%d", item.ProductID, i),
			Item: model.Item{
				ID:    entry.ProductID,
				Name:  entry.Name,
				SKU:   entry.SKU,
				Price: entry.UnitPrice,
			},
			Quantity:   item.Quantity,
			BaseAmount: base,
			Subtotal:   base,
			Total:      base,
		}
		lines = append(lines, line)
		taxable = append(taxable, entry.Taxable)

		if item.Quantity > entry.AvailableQuantity {
			messages = append(messages, model.NewErrorMessage(string(model.CodeOutOfStock),
				fmt.Sprintf("only %d of %q available", entry.AvailableQuantity, item.ProductID), param))
		}
	}

	return lines, messages, taxable, nil
}

func (e *Engine) applyTax(ctx context.Context, lines []model.LineItem, taxable []bool, address *model.PostalAddress) error {
	if address == nil || len(lines) == 0 {
		return nil
	}

	taxInputs := make([]collaborator.TaxLineInput, len(lines))
	for i, l := range lines {
		taxInputs[i] = collaborator.TaxLineInput{
			ProductID: l.Item.ID,
			UnitPrice: l.Item.Price,
			Quantity:  l.Quantity,
			Taxable:   taxable[i],
		}
	}

	quote, err := e.Tax.Quote(ctx, taxInputs, address)
	if err != nil {
		return err
	}
	for i := range lines {
		if i >= len(quote.PerLineTax) {
			break
		}
		lines[i].Tax = quote.PerLineTax[i]
		lines[i].Total = lines[i].Subtotal + lines[i].Tax
	}
	return nil
}

func buildTotals(lines []model.LineItem, selected *model.FulfillmentOption, currency string) []model.Total {
	var itemsBase, subtotal, discount, tax int64
	for _, l := range lines {
		itemsBase += l.BaseAmount
		subtotal += l.Subtotal
		discount += l.Discount
		tax += l.Tax
	}

	var fulfillmentAmount int64
	if selected != nil {
		fulfillmentAmount = selected.Total
	}

	total := subtotal - discount + fulfillmentAmount + tax

	totals := []model.Total{
		{Type: model.TotalTypeItemsBaseAmount, Amount: itemsBase, DisplayText: displayText(currency, itemsBase)},
		{Type: model.TotalTypeSubtotal, Amount: subtotal, DisplayText: displayText(currency, subtotal)},
	}
	if discount > 0 {
		totals = append(totals, model.Total{Type: model.TotalTypeDiscount, Amount: discount, DisplayText: displayText(currency, discount)})
	}
	if selected != nil {
		totals = append(totals, model.Total{Type: model.TotalTypeFulfillment, Amount: fulfillmentAmount, DisplayText: displayText(currency, fulfillmentAmount)})
	}
	totals = append(totals,
		model.Total{Type: model.TotalTypeTax, Amount: tax, DisplayText: displayText(currency, tax)},
		model.Total{Type: model.TotalTypeTotal, Amount: total, DisplayText: displayText(currency, total)},
	)
	return totals
}

func displayText(currency string, minorUnits int64) string {
	major := minorUnits / 100
	fraction := minorUnits % 100
	if fraction < 0 {
		fraction = -fraction
	}
	return fmt.Sprintf("%s %d.%02d", currency, major, fraction)
}

func deriveReadiness(
	buyer *model.Buyer,
	address *model.PostalAddress,
	selectedFulfillmentID string,
	selected *model.FulfillmentOption,
	lines []model.LineItem,
	messages []model.Message,
) model.CheckoutStatus {
	if buyer == nil || buyer.Email == "" {
		return model.StatusNotReadyForPayment
	}
	if address == nil {
		return model.StatusNotReadyForPayment
	}
	if selectedFulfillmentID == "" || selected == nil {
		return model.StatusNotReadyForPayment
	}
	for _, m := range messages {
		if m.Severity == model.SeverityError {
			return model.StatusNotReadyForPayment
		}
	}
	if len(lines) == 0 {
		return model.StatusNotReadyForPayment
	}
	return model.StatusReadyForPayment
}
