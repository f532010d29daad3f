package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

func seedMemoryItem(t *testing.T, m *MemoryStore, id string, stock int) {
	ctx := context.Background()
	err := m.Atomic(ctx, func(tx port.Tx) error {
		return tx.CreateMenuItem(ctx, domain.MenuItem{ID: id, Name: id, Available: stock, Active: true})
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}

func TestMemoryAtomic_RollsBackOnError(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedMemoryItem(t, m, "idli", 5)

	boom := errors.New("boom")
	err := m.Atomic(ctx, func(tx port.Tx) error {
		if err := tx.AdjustStock(ctx, "idli", -2, time.Now()); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, domain.Order{ID: "o1"}); err != nil {
			return err
		}
		if err := tx.CreateReservation(ctx, domain.Reservation{ID: "rsv-o1", OrderID: "o1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	item, _ := m.GetMenuItem(ctx, "idli")
	if item.Available != 5 {
		t.Errorf("expected stock 5, got %d", item.Available)
	}
	if _, err := m.GetOrder(ctx, "o1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("order survived rollback: %v", err)
	}
	if _, err := m.GetReservation(ctx, "rsv-o1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("reservation survived rollback: %v", err)
	}
}

func TestMemoryAdjustStock_NeverNegative(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedMemoryItem(t, m, "idli", 1)

	err := m.Atomic(ctx, func(tx port.Tx) error {
		return tx.AdjustStock(ctx, "idli", -2, time.Now())
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestMemoryInjectCommitFailure(t *testing.T) {
	ctx := context.Background()

	for _, applied := range []bool{true, false} {
		m := NewMemoryStore()
		seedMemoryItem(t, m, "idli", 5)
		m.InjectCommitFailure(errors.New("network"), applied)

		err := m.Atomic(ctx, func(tx port.Tx) error {
			return tx.AdjustStock(ctx, "idli", -1, time.Now())
		})
		if !errors.Is(err, domain.ErrStorageFailure) {
			t.Fatalf("expected ErrStorageFailure, got %v", err)
		}

		want := 5
		if applied {
			want = 4
		}
		item, _ := m.GetMenuItem(ctx, "idli")
		if item.Available != want {
			t.Errorf("applied=%v: expected stock %d, got %d", applied, want, item.Available)
		}

		if err := m.Atomic(ctx, func(tx port.Tx) error { return nil }); err != nil {
			t.Errorf("fault should fire once, got %v", err)
		}
	}
}

func TestMemoryReadsReturnCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	err := m.Atomic(ctx, func(tx port.Tx) error {
		return tx.SaveOrder(ctx, domain.Order{ID: "o1", Lines: []domain.OrderLine{{ItemID: "a", Quantity: 1}}})
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	o, _ := m.GetOrder(ctx, "o1")
	o.Lines[0].Quantity = 9

	again, _ := m.GetOrder(ctx, "o1")
	if again.Lines[0].Quantity != 1 {
		t.Error("caller mutation leaked into the store")
	}
}

func TestMemoryIdempotency(t *testing.T) {
	repo := NewMemoryIdempotency()
	ctx := context.Background()

	bound, claimed, _ := repo.Claim(ctx, "k", "o1")
	if !claimed || bound != "o1" {
		t.Fatalf("expected first claim to win, got %s %v", bound, claimed)
	}
	bound, claimed, _ = repo.Claim(ctx, "k", "o2")
	if claimed || bound != "o1" {
		t.Errorf("expected replay of o1, got %s %v", bound, claimed)
	}

	repo.Forget(ctx, "k")
	if _, claimed, _ := repo.Claim(ctx, "k", "o3"); !claimed {
		t.Error("expected claim after forget")
	}
}
