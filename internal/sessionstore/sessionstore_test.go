package sessionstore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentic-commerce/checkout-server/internal/model"
)

func newSession(id string) *model.CheckoutSession {
	return &model.CheckoutSession{
		ID:        id,
		Status:    model.StatusNotReadyForPayment,
		Currency:  "usd",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	defer s.Close()

	s.Create(newSession("cs_1"))

	got, ok := s.Get("cs_1")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.ID != "cs_1" {
		t.Errorf("ID = %s, want cs_1", got.ID)
	}
}

func TestGet_Missing(t *testing.T) {
	s := New()
	defer s.Close()

	if _, ok := s.Get("nope"); ok {
		t.Error("Get() on missing session ok = true, want false")
	}
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	s := New()
	defer s.Close()
	s.Create(newSession("cs_1"))

	got, _ := s.Get("cs_1")
	got.Status = model.StatusCompleted

	got2, _ := s.Get("cs_1")
	if got2.Status != model.StatusNotReadyForPayment {
		t.Errorf("mutating returned snapshot leaked into store: %v", got2.Status)
	}
}

func TestUpdate_AppliesMutationAndBumpsUpdatedAt(t *testing.T) {
	s := New()
	defer s.Close()
	original := newSession("cs_1")
	original.UpdatedAt = time.Now().Add(-time.Hour)
	s.Create(original)

	updated, err := s.Update("cs_1", func(sess *model.CheckoutSession) error {
		sess.Status = model.StatusReadyForPayment
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != model.StatusReadyForPayment {
		t.Errorf("Status = %v, want ready_for_payment", updated.Status)
	}
	if !updated.UpdatedAt.After(original.UpdatedAt) {
		t.Error("UpdatedAt was not bumped")
	}
}

func TestUpdate_MutatorErrorLeavesStoreUnchanged(t *testing.T) {
	s := New()
	defer s.Close()
	s.Create(newSession("cs_1"))

	wantErr := errors.New("boom")
	_, err := s.Update("cs_1", func(sess *model.CheckoutSession) error {
		sess.Status = model.StatusCompleted
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	got, _ := s.Get("cs_1")
	if got.Status != model.StatusNotReadyForPayment {
		t.Errorf("Status after failed mutation = %v, want unchanged", got.Status)
	}
}

func TestUpdate_Missing(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Update("nope", func(*model.CheckoutSession) error { return nil })
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdate_SerializesConcurrentWriters(t *testing.T) {
	s := New()
	defer s.Close()
	s.Create(newSession("cs_1"))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			s.Update("cs_1", func(sess *model.CheckoutSession) error {
				sess.Items = append(sess.Items, model.RequestedItem{ProductID: "p", Quantity: 1})
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get("cs_1")
	if len(got.Items) != n {
		t.Errorf("len(Items) = %d, want %d (lost updates under concurrent writers)", len(got.Items), n)
	}
}

func TestDelete(t *testing.T) {
	s := New()
	defer s.Close()
	s.Create(newSession("cs_1"))
	s.Delete("cs_1")

	if _, ok := s.Get("cs_1"); ok {
		t.Error("Get() after Delete ok = true, want false")
	}
}
