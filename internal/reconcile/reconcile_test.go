package reconcile

import (
	"testing"

	"github.com/agentic-commerce/checkout-server/internal/collaborator"
)

func TestDiffItems_EmptyToItems(t *testing.T) {
	diff := DiffItems(nil, []collaborator.ReservationLine{{ProductID: "p1", Quantity: 2}})
	if len(diff.ToAdd) != 1 || diff.ToAdd[0].ProductID != "p1" {
		t.Errorf("ToAdd = %+v, want one line for p1", diff.ToAdd)
	}
	if len(diff.ToRemove) != 0 || len(diff.ToUpdate) != 0 {
		t.Errorf("diff = %+v, want only adds", diff)
	}
}

func TestDiffItems_RemovesAbsentLines(t *testing.T) {
	current := []collaborator.ReservationLine{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 1}}
	desired := []collaborator.ReservationLine{{ProductID: "p1", Quantity: 1}}

	diff := DiffItems(current, desired)
	if len(diff.ToRemove) != 1 || diff.ToRemove[0] != "p2" {
		t.Errorf("ToRemove = %+v, want [p2]", diff.ToRemove)
	}
	if len(diff.ToAdd) != 0 || len(diff.ToUpdate) != 0 {
		t.Errorf("diff = %+v, want only a removal", diff)
	}
}

func TestDiffItems_UpdatesChangedQuantity(t *testing.T) {
	current := []collaborator.ReservationLine{{ProductID: "p1", Quantity: 1}}
	desired := []collaborator.ReservationLine{{ProductID: "p1", Quantity: 3}}

	diff := DiffItems(current, desired)
	if len(diff.ToUpdate) != 1 || diff.ToUpdate[0].Quantity != 3 {
		t.Errorf("ToUpdate = %+v, want quantity 3", diff.ToUpdate)
	}
}

func TestDiffItems_SameQuantityIsEmpty(t *testing.T) {
	current := []collaborator.ReservationLine{{ProductID: "p1", Quantity: 1}}
	desired := []collaborator.ReservationLine{{ProductID: "p1", Quantity: 1}}

	diff := DiffItems(current, desired)
	if !diff.IsEmpty() {
		t.Errorf("diff = %+v, want empty", diff)
	}
}

func TestReservationLinesFromQuantities_AppliesAllChanges(t *testing.T) {
	current := []collaborator.ReservationLine{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 2}}
	desired := []collaborator.ReservationLine{{ProductID: "p1", Quantity: 5}, {ProductID: "p3", Quantity: 1}}

	diff := DiffItems(current, desired)
	merged := ReservationLinesFromQuantities(current, diff)

	byID := make(map[string]int)
	for _, l := range merged {
		byID[l.ProductID] = l.Quantity
	}
	if byID["p1"] != 5 {
		t.Errorf("p1 quantity = %d, want 5", byID["p1"])
	}
	if _, ok := byID["p2"]; ok {
		t.Error("p2 should have been removed")
	}
	if byID["p3"] != 1 {
		t.Errorf("p3 quantity = %d, want 1", byID["p3"])
	}
}
