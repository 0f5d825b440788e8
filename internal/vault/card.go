package vault

import (
	"time"

	"github.com/agentic-commerce/checkout-server/internal/model"
)

// Card carries the raw card fields submitted to delegate_payment. It is
// never stored or logged; ValidateCard derives MaskedPAN and discards the
// rest.
type Card struct {
	Number   string
	ExpMonth int
	ExpYear  int
	CVC      string
}

// ValidateCard enforces §4.D's card-validation rules and returns the
// masked PAN to persist on the token. Raw Number and CVC are not returned.
func ValidateCard(c Card, now time.Time) (maskedPAN string, err *model.APIError) {
	if len(c.Number) < 13 || len(c.Number) > 19 {
		return "", model.NewInvalidRequestError("card number must be 13-19 digits", "$.payment_method.card.number")
	}
	if !allDigits(c.Number) {
		return "", model.NewInvalidRequestError("card number must contain only digits", "$.payment_method.card.number")
	}
	if !luhnValid(c.Number) {
		return "", model.NewInvalidRequestError("card number failed Luhn check", "$.payment_method.card.number")
	}
	if c.ExpMonth < 1 || c.ExpMonth > 12 {
		return "", model.NewInvalidRequestError("expiry month must be 1-12", "$.payment_method.card.exp_month")
	}
	expiry := time.Date(c.ExpYear, time.Month(c.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
	if expiry.Before(now) {
		return "", model.NewInvalidRequestError("card has expired", "$.payment_method.card.exp_year")
	}
	if len(c.CVC) < 3 || len(c.CVC) > 4 || !allDigits(c.CVC) {
		return "", model.NewInvalidRequestError("cvc must be 3-4 digits", "$.payment_method.card.cvc")
	}
	return model.MaskPAN(c.Number), nil
}

// ValidateAllowance enforces §4.G.6's allowance-creation rules.
func ValidateAllowance(a model.Allowance, now time.Time) *model.APIError {
	if a.MaxAmount <= 0 {
		return model.NewInvalidRequestError("allowance.max_amount must be positive", "$.allowance.max_amount")
	}
	if len(a.Currency) != 3 {
		return model.NewInvalidRequestError("allowance.currency must be a 3-letter ISO 4217 code", "$.allowance.currency")
	}
	if !a.ExpiresAt.After(now) {
		return model.NewInvalidRequestError("allowance.expires_at must be in the future", "$.allowance.expires_at")
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// luhnValid implements the Luhn checksum algorithm over a digit string.
func luhnValid(number string) bool {
	sum := 0
	alt := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}
