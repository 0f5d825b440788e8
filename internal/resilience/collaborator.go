package resilience

import (
	"context"

	"github.com/agentic-commerce/checkout-server/internal/collaborator"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

// ResilientInventory wraps a collaborator.Inventory with a concurrency
// bulkhead, a circuit breaker, and retry-with-backoff, for wiring a real
// HTTP-backed inventory client without teaching the orchestrator anything
// about any of the three.
type ResilientInventory struct {
	Inner    collaborator.Inventory
	Retry    RetryConfig
	Breaker  *Breaker
	Bulkhead *Bulkhead
}

// NewResilientInventory builds a ResilientInventory with the §7 default
// retry budget, a breaker named for the "inventory" collaborator, and the
// default concurrency bulkhead.
func NewResilientInventory(inner collaborator.Inventory) *ResilientInventory {
	return &ResilientInventory{
		Inner:    inner,
		Retry:    DefaultRetryConfig(),
		Breaker:  NewBreaker("inventory"),
		Bulkhead: NewBulkhead(DefaultBulkheadLimit),
	}
}

func (r *ResilientInventory) Reserve(ctx context.Context, sessionID string, lines []collaborator.ReservationLine) (string, collaborator.ReserveOutcome, error) {
	var reservationID string
	var outcome collaborator.ReserveOutcome
	err := r.Bulkhead.Execute(ctx, func(ctx context.Context) error {
		return r.Breaker.Execute(func() error {
			return Retry(ctx, r.Retry, func(ctx context.Context) error {
				var err error
				reservationID, outcome, err = r.Inner.Reserve(ctx, sessionID, lines)
				return err
			})
		})
	})
	return reservationID, outcome, err
}

func (r *ResilientInventory) Adjust(ctx context.Context, reservationID string, lines []collaborator.ReservationLine) error {
	return r.Bulkhead.Execute(ctx, func(ctx context.Context) error {
		return r.Breaker.Execute(func() error {
			return Retry(ctx, r.Retry, func(ctx context.Context) error {
				return r.Inner.Adjust(ctx, reservationID, lines)
			})
		})
	})
}

func (r *ResilientInventory) Commit(ctx context.Context, reservationID string) (collaborator.CommitOutcome, error) {
	var outcome collaborator.CommitOutcome
	err := r.Bulkhead.Execute(ctx, func(ctx context.Context) error {
		return r.Breaker.Execute(func() error {
			return Retry(ctx, r.Retry, func(ctx context.Context) error {
				var err error
				outcome, err = r.Inner.Commit(ctx, reservationID)
				return err
			})
		})
	})
	return outcome, err
}

func (r *ResilientInventory) Release(ctx context.Context, reservationID string) error {
	return r.Bulkhead.Execute(ctx, func(ctx context.Context) error {
		return r.Breaker.Execute(func() error {
			return Retry(ctx, r.Retry, func(ctx context.Context) error {
				return r.Inner.Release(ctx, reservationID)
			})
		})
	})
}

// ResilientPSP wraps a collaborator.PSP the same way ResilientInventory
// wraps collaborator.Inventory. AuthorizeCapture is only retried on
// transport-level error; a PSPDeclined/PSPFailed outcome returned without
// an error is not retried, since a decline is a business outcome, not a
// transient fault.
type ResilientPSP struct {
	Inner    collaborator.PSP
	Retry    RetryConfig
	Breaker  *Breaker
	Bulkhead *Bulkhead
}

// NewResilientPSP builds a ResilientPSP with the §7 default retry budget, a
// breaker named for the "psp" collaborator, and the default concurrency
// bulkhead.
func NewResilientPSP(inner collaborator.PSP) *ResilientPSP {
	return &ResilientPSP{
		Inner:    inner,
		Retry:    DefaultRetryConfig(),
		Breaker:  NewBreaker("psp"),
		Bulkhead: NewBulkhead(DefaultBulkheadLimit),
	}
}

func (r *ResilientPSP) AuthorizeCapture(ctx context.Context, tokenSnapshot *model.VaultToken, amount int64, currency, sessionID string) (collaborator.PSPResult, string, error) {
	var result collaborator.PSPResult
	var pspRef string
	err := r.Bulkhead.Execute(ctx, func(ctx context.Context) error {
		return r.Breaker.Execute(func() error {
			return Retry(ctx, r.Retry, func(ctx context.Context) error {
				var err error
				result, pspRef, err = r.Inner.AuthorizeCapture(ctx, tokenSnapshot, amount, currency, sessionID)
				return err
			})
		})
	})
	return result, pspRef, err
}
