package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// ReserveHook runs inside the reservation transaction after stock has been
// decremented. items holds the reserved menu items in line order.
type ReserveHook func(tx port.Tx, items []domain.MenuItem) error

// TxHook runs inside a release or consume transaction.
type TxHook func(tx port.Tx) error

type ReservationEngine struct {
	catalog *Catalog
	store   port.Store
	now     func() time.Time
}

func NewReservationEngine(catalog *Catalog) *ReservationEngine {
	return &ReservationEngine{
		catalog: catalog,
		store:   catalog.store,
		now:     catalog.now,
	}
}

// Reserve holds stock for every line or for none. Item locks are taken in
// ascending id order and every line is checked before anything is written.
func (e *ReservationEngine) Reserve(ctx context.Context, orderID string, lines []domain.OrderLine, within ReserveHook) (domain.Reservation, error) {
	sorted := append([]domain.OrderLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

	ids := make([]string, len(sorted))
	for i, l := range sorted {
		ids[i] = l.ItemID
	}

	unlock := e.catalog.lockItems(ids)
	defer unlock()

	reservation := domain.Reservation{
		ID:        domain.ReservationIDFor(orderID),
		OrderID:   orderID,
		Lines:     sorted,
		CreatedAt: e.now(),
	}

	err := e.store.Atomic(ctx, func(tx port.Tx) error {
		_, err := tx.GetReservation(ctx, reservation.ID)
		if err == nil {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrAlreadyReserved)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		items := make([]domain.MenuItem, len(sorted))
		var shortages []domain.StockShortage
		for i, l := range sorted {
			item, err := tx.GetMenuItem(ctx, l.ItemID)
			if err != nil {
				return err
			}
			if !item.Active {
				return fmt.Errorf("menu item %s: %w", l.ItemID, domain.ErrItemInactive)
			}
			if item.Available < l.Quantity {
				shortages = append(shortages, domain.StockShortage{
					ItemID:    l.ItemID,
					Requested: l.Quantity,
					Available: item.Available,
				})
			}
			items[i] = item
		}
		if len(shortages) > 0 {
			return &domain.InsufficientStockError{Shortages: shortages}
		}

		at := e.now()
		for _, l := range sorted {
			if err := tx.AdjustStock(ctx, l.ItemID, -l.Quantity, at); err != nil {
				return err
			}
		}
		if err := tx.CreateReservation(ctx, reservation); err != nil {
			return err
		}
		if within != nil {
			return within(tx, inLineOrder(lines, items))
		}
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return reservation, nil
}

// Release returns the held stock. Releasing a reservation whose order exists
// but holds nothing is a no-op; within still runs.
func (e *ReservationEngine) Release(ctx context.Context, reservationID string, within TxHook) error {
	return e.settle(ctx, reservationID, true, within)
}

// Consume drops the reservation without returning stock: the decrement
// becomes permanent.
func (e *ReservationEngine) Consume(ctx context.Context, reservationID string, within TxHook) error {
	return e.settle(ctx, reservationID, false, within)
}

func (e *ReservationEngine) settle(ctx context.Context, reservationID string, restore bool, within TxHook) error {
	orderID, ok := domain.OrderIDFromReservation(reservationID)
	if !ok {
		return fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}

	held, err := readWithRetry(ctx, func() (domain.Reservation, error) {
		return e.store.GetReservation(ctx, reservationID)
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if _, err := readWithRetry(ctx, func() (domain.Order, error) {
			return e.store.GetOrder(ctx, orderID)
		}); err != nil {
			return fmt.Errorf("reservation %s: %w", reservationID, err)
		}
	case err != nil:
		return err
	}

	if restore && len(held.Lines) > 0 {
		ids := make([]string, len(held.Lines))
		for i, l := range held.Lines {
			ids[i] = l.ItemID
		}
		unlock := e.catalog.lockItems(ids)
		defer unlock()
	}

	return e.store.Atomic(ctx, func(tx port.Tx) error {
		current, err := tx.GetReservation(ctx, reservationID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// already settled
		case err != nil:
			return err
		default:
			if restore {
				at := e.now()
				for _, l := range current.Lines {
					if err := tx.AdjustStock(ctx, l.ItemID, l.Quantity, at); err != nil {
						return err
					}
				}
			}
			if err := tx.DeleteReservation(ctx, reservationID); err != nil {
				return err
			}
		}
		if within != nil {
			return within(tx)
		}
		return nil
	})
}

func inLineOrder(lines []domain.OrderLine, sortedItems []domain.MenuItem) []domain.MenuItem {
	byID := make(map[string]domain.MenuItem, len(sortedItems))
	for _, it := range sortedItems {
		byID[it.ID] = it
	}
	out := make([]domain.MenuItem, len(lines))
	for i, l := range lines {
		out[i] = byID[l.ItemID]
	}
	return out
}
