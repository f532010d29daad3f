package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// MemoryStore keeps every record in process. Transactions are serialized and
// rolled back through an undo log.
type MemoryStore struct {
	mu           sync.RWMutex
	items        map[string]domain.MenuItem
	orders       map[string]domain.Order
	reservations map[string]domain.Reservation
	tickets      map[string]domain.FulfillmentTicket

	fault *commitFault
}

type commitFault struct {
	err     error
	applied bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:        make(map[string]domain.MenuItem),
		orders:       make(map[string]domain.Order),
		reservations: make(map[string]domain.Reservation),
		tickets:      make(map[string]domain.FulfillmentTicket),
	}
}

// InjectCommitFailure makes the next Atomic call report err. With applied set
// the writes are kept, simulating a commit whose acknowledgement was lost.
func (m *MemoryStore) InjectCommitFailure(err error, applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = &commitFault{err: err, applied: applied}
}

func (m *MemoryStore) Atomic(ctx context.Context, fn func(tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w: %v", domain.ErrStorageFailure, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}

	if f := m.fault; f != nil {
		m.fault = nil
		if !f.applied {
			tx.rollback()
		}
		return fmt.Errorf("commit: %w: %v", domain.ErrStorageFailure, f.err)
	}
	return nil
}

func (m *MemoryStore) GetMenuItem(ctx context.Context, itemID string) (domain.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMenuItem(itemID)
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOrder(orderID)
}

func (m *MemoryStore) GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReservation(reservationID)
}

func (m *MemoryStore) ListMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]domain.MenuItem, 0, len(m.items))
	for _, it := range m.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryStore) ListOrders(ctx context.Context) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		orders = append(orders, o.Clone())
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (m *MemoryStore) ListTickets(ctx context.Context) ([]domain.FulfillmentTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tickets := make([]domain.FulfillmentTicket, 0, len(m.tickets))
	for _, t := range m.tickets {
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].EnqueuedAt.Before(tickets[j].EnqueuedAt) })
	return tickets, nil
}

func (m *MemoryStore) getMenuItem(itemID string) (domain.MenuItem, error) {
	it, ok := m.items[itemID]
	if !ok {
		return domain.MenuItem{}, fmt.Errorf("menu item %s: %w", itemID, domain.ErrNotFound)
	}
	return it, nil
}

func (m *MemoryStore) getOrder(orderID string) (domain.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return o.Clone(), nil
}

func (m *MemoryStore) getReservation(reservationID string) (domain.Reservation, error) {
	r, ok := m.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	r.Lines = append([]domain.OrderLine(nil), r.Lines...)
	return r, nil
}

type memoryTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) GetMenuItem(ctx context.Context, itemID string) (domain.MenuItem, error) {
	return t.store.getMenuItem(itemID)
}

func (t *memoryTx) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return t.store.getOrder(orderID)
}

func (t *memoryTx) GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	return t.store.getReservation(reservationID)
}

func (t *memoryTx) CreateMenuItem(ctx context.Context, item domain.MenuItem) error {
	if _, ok := t.store.items[item.ID]; ok {
		return &domain.ItemError{ItemID: item.ID, Reason: "id already exists"}
	}
	t.store.items[item.ID] = item
	t.undo = append(t.undo, func() { delete(t.store.items, item.ID) })
	return nil
}

func (t *memoryTx) SetMenuItemActive(ctx context.Context, itemID string, active bool, at time.Time) error {
	it, err := t.store.getMenuItem(itemID)
	if err != nil {
		return err
	}
	prev := it
	it.Active = active
	it.UpdatedAt = at
	t.store.items[itemID] = it
	t.undo = append(t.undo, func() { t.store.items[itemID] = prev })
	return nil
}

func (t *memoryTx) AdjustStock(ctx context.Context, itemID string, delta int, at time.Time) error {
	it, err := t.store.getMenuItem(itemID)
	if err != nil {
		return err
	}
	if it.Available+delta < 0 {
		return fmt.Errorf("menu item %s: %w", itemID, domain.ErrInsufficientStock)
	}
	prev := it
	it.Available += delta
	it.UpdatedAt = at
	t.store.items[itemID] = it
	t.undo = append(t.undo, func() { t.store.items[itemID] = prev })
	return nil
}

func (t *memoryTx) RaiseBaseline(ctx context.Context, itemID string, quantity int) error {
	it, err := t.store.getMenuItem(itemID)
	if err != nil {
		return err
	}
	prev := it
	it.Baseline += quantity
	t.store.items[itemID] = it
	t.undo = append(t.undo, func() { t.store.items[itemID] = prev })
	return nil
}

func (t *memoryTx) SaveOrder(ctx context.Context, order domain.Order) error {
	prev, existed := t.store.orders[order.ID]
	t.store.orders[order.ID] = order.Clone()
	t.undo = append(t.undo, func() {
		if existed {
			t.store.orders[order.ID] = prev
		} else {
			delete(t.store.orders, order.ID)
		}
	})
	return nil
}

func (t *memoryTx) CreateReservation(ctx context.Context, r domain.Reservation) error {
	if _, ok := t.store.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrAlreadyReserved)
	}
	r.Lines = append([]domain.OrderLine(nil), r.Lines...)
	t.store.reservations[r.ID] = r
	t.undo = append(t.undo, func() { delete(t.store.reservations, r.ID) })
	return nil
}

func (t *memoryTx) DeleteReservation(ctx context.Context, reservationID string) error {
	prev, ok := t.store.reservations[reservationID]
	if !ok {
		return fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	delete(t.store.reservations, reservationID)
	t.undo = append(t.undo, func() { t.store.reservations[reservationID] = prev })
	return nil
}

func (t *memoryTx) SaveTicket(ctx context.Context, ticket domain.FulfillmentTicket) error {
	prev, existed := t.store.tickets[ticket.OrderID]
	t.store.tickets[ticket.OrderID] = ticket
	t.undo = append(t.undo, func() {
		if existed {
			t.store.tickets[ticket.OrderID] = prev
		} else {
			delete(t.store.tickets, ticket.OrderID)
		}
	})
	return nil
}

func (t *memoryTx) DeleteTicket(ctx context.Context, orderID string) error {
	prev, ok := t.store.tickets[orderID]
	if !ok {
		return nil
	}
	delete(t.store.tickets, orderID)
	t.undo = append(t.undo, func() { t.store.tickets[orderID] = prev })
	return nil
}
