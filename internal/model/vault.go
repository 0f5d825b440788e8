package model

import "time"

// VaultTokenStatus is the lifecycle state of a delegated-payment token.
type VaultTokenStatus string

const (
	VaultTokenActive   VaultTokenStatus = "active"
	VaultTokenConsumed VaultTokenStatus = "consumed"
	VaultTokenExpired  VaultTokenStatus = "expired"
	VaultTokenRevoked  VaultTokenStatus = "revoked"
)

// Allowance constrains how and when a vault token may be spent.
type Allowance struct {
	Reason            string    `json:"reason,omitempty"`
	MaxAmount         int64     `json:"max_amount"`
	Currency          string    `json:"currency"`
	CheckoutSessionID string    `json:"checkout_session_id,omitempty"`
	MerchantID        string    `json:"merchant_id,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// VaultToken is a single-use payment handle standing in for card credentials.
// Raw PAN/CVC are discarded after MaskedPAN is derived; they are never kept
// on this struct or logged.
type VaultToken struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created"`
	Allowance Allowance        `json:"allowance"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	MaskedPAN string           `json:"masked_pan,omitempty"`
	Status    VaultTokenStatus `json:"status"`

	// ConsumedBySessionID records the session whose consume succeeded, so a
	// repeat consume from that session is idempotent; empty until a
	// successful consume.
	ConsumedBySessionID string `json:"-"`
}

// Clone deep-copies a token so a caller cannot mutate the store's copy
// through a returned pointer.
func (t *VaultToken) Clone() *VaultToken {
	if t == nil {
		return nil
	}
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ConsumeOutcome distinguishes the reasons a consume attempt can resolve,
// per §4.D.
type ConsumeOutcome int

const (
	ConsumeOk ConsumeOutcome = iota
	ConsumeNotFound
	ConsumeAlreadyConsumed
	ConsumeExpired
	ConsumeRevoked
	ConsumeSessionBindingViolation
	ConsumeAllowanceExceeded
	ConsumeCurrencyMismatch
)

// String renders the outcome for logging.
func (o ConsumeOutcome) String() string {
	switch o {
	case ConsumeOk:
		return "ok"
	case ConsumeNotFound:
		return "not_found"
	case ConsumeAlreadyConsumed:
		return "already_consumed"
	case ConsumeExpired:
		return "expired"
	case ConsumeRevoked:
		return "revoked"
	case ConsumeSessionBindingViolation:
		return "session_binding_violation"
	case ConsumeAllowanceExceeded:
		return "allowance_exceeded"
	case ConsumeCurrencyMismatch:
		return "currency_mismatch"
	default:
		return "unknown"
	}
}

// MaskPAN replaces all but the first digit and last four of a card number
// with `…`, per the vault-token masking rule in §9.
func MaskPAN(pan string) string {
	if len(pan) <= 5 {
		return pan
	}
	return pan[:1] + "…" + pan[len(pan)-4:]
}

// MaskToken replaces all but a short prefix and the last four characters of
// an opaque token/key (such as a `vt_*` vault token) with `…`. Only the
// tests call it; the server's loggers do not pass values through it.
func MaskToken(token string) string {
	const prefixLen = 3
	if len(token) <= prefixLen+4 {
		return token
	}
	return token[:prefixLen] + "…" + token[len(token)-4:]
}
