// Package reconcile diffs a checkout session's current cart against a
// requested patch so the orchestrator only issues the inventory
// reservation mutations a cart change actually needs, rather than
// releasing and re-reserving the whole cart on every update (§4.G.3).
package reconcile

import "github.com/agentic-commerce/checkout-server/internal/collaborator"

// ItemDiff describes the mutations needed to reconcile a reservation's
// lines with a new requested cart. Apply order: ToRemove, then ToUpdate,
// then ToAdd, matching the teacher's remove-before-add discipline to
// avoid transient over-reservation.
type ItemDiff struct {
	ToAdd    []collaborator.ReservationLine
	ToRemove []string // product ids present in current but absent from desired
	ToUpdate []collaborator.ReservationLine
}

// IsEmpty reports whether no reservation changes are needed.
func (d *ItemDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// DiffItems computes the delta between a reservation's current lines and
// a session's desired cart, matched by product id.
func DiffItems(current, desired []collaborator.ReservationLine) *ItemDiff {
	diff := &ItemDiff{}

	currentByID := make(map[string]int, len(current))
	for _, l := range current {
		currentByID[l.ProductID] = l.Quantity
	}
	desiredByID := make(map[string]int, len(desired))
	for _, l := range desired {
		desiredByID[l.ProductID] = l.Quantity
	}

	for id, qty := range desiredByID {
		if curQty, ok := currentByID[id]; ok {
			if curQty != qty {
				diff.ToUpdate = append(diff.ToUpdate, collaborator.ReservationLine{ProductID: id, Quantity: qty})
			}
		} else {
			diff.ToAdd = append(diff.ToAdd, collaborator.ReservationLine{ProductID: id, Quantity: qty})
		}
	}
	for id := range currentByID {
		if _, ok := desiredByID[id]; !ok {
			diff.ToRemove = append(diff.ToRemove, id)
		}
	}

	return diff
}

// ReservationLinesFromQuantities builds the full line list Inventory.Adjust
// expects, by applying the add/update/remove decisions onto the current
// lines. Kept separate from DiffItems so callers can log or skip a no-op
// diff without committing to the merged result.
func ReservationLinesFromQuantities(current []collaborator.ReservationLine, diff *ItemDiff) []collaborator.ReservationLine {
	if diff.IsEmpty() {
		return current
	}

	removed := make(map[string]bool, len(diff.ToRemove))
	for _, id := range diff.ToRemove {
		removed[id] = true
	}
	updated := make(map[string]int, len(diff.ToUpdate))
	for _, l := range diff.ToUpdate {
		updated[l.ProductID] = l.Quantity
	}

	merged := make([]collaborator.ReservationLine, 0, len(current)+len(diff.ToAdd))
	for _, l := range current {
		if removed[l.ProductID] {
			continue
		}
		if qty, ok := updated[l.ProductID]; ok {
			l.Quantity = qty
		}
		merged = append(merged, l)
	}
	merged = append(merged, diff.ToAdd...)
	return merged
}
