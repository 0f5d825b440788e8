package resilience

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// DefaultBulkheadLimit caps concurrent outbound calls to a single
// collaborator, the same isolation purpose as the pack's payment-service
// bulkhead: a slow or stuck collaborator should not starve the rest of the
// process of goroutines waiting on it.
const DefaultBulkheadLimit = 32

// Bulkhead limits concurrent outbound collaborator calls using a weighted
// semaphore. A nil *Bulkhead is treated as unbounded, so zero-value
// ResilientInventory/ResilientPSP decorators built without one still work.
type Bulkhead struct {
	sem *semaphore.Weighted
	max int64
}

// NewBulkhead builds a Bulkhead admitting at most maxConcurrent calls at once.
func NewBulkhead(maxConcurrent int64) *Bulkhead {
	return &Bulkhead{sem: semaphore.NewWeighted(maxConcurrent), max: maxConcurrent}
}

// Execute runs fn once a slot is available, blocking until one frees up or
// ctx is canceled.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}

	span := trace.SpanFromContext(ctx)
	if err := b.sem.Acquire(ctx, 1); err != nil {
		span.SetStatus(codes.Error, "bulkhead acquire failed")
		span.SetAttributes(attribute.Bool("bulkhead.rejected", true))
		return fmt.Errorf("bulkhead limit reached: %w", err)
	}
	defer b.sem.Release(1)

	span.SetAttributes(attribute.Int64("bulkhead.max", b.max))
	return fn(ctx)
}
