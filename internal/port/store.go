package port

import (
	"context"
	"time"

	"github.com/rl1809/canteen/internal/core/domain"
)

// Reader holds the lookups available both outside and inside a transaction.
// Missing records are reported as domain.ErrNotFound.
type Reader interface {
	GetMenuItem(ctx context.Context, itemID string) (domain.MenuItem, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error)
}

// Tx is a unit of work. Nothing written through it is visible until the
// surrounding Atomic call returns nil.
type Tx interface {
	Reader

	// CreateMenuItem inserts a new item
	CreateMenuItem(ctx context.Context, item domain.MenuItem) error

	// SetMenuItemActive toggles whether an item can be ordered
	SetMenuItemActive(ctx context.Context, itemID string, active bool, at time.Time) error

	// AdjustStock adds delta to available stock, failing with ErrInsufficientStock
	// if the result would be negative
	AdjustStock(ctx context.Context, itemID string, delta int, at time.Time) error

	// RaiseBaseline records newly supplied stock
	RaiseBaseline(ctx context.Context, itemID string, quantity int) error

	// SaveOrder inserts or replaces an order
	SaveOrder(ctx context.Context, order domain.Order) error

	// CreateReservation fails with ErrAlreadyReserved if the id exists
	CreateReservation(ctx context.Context, reservation domain.Reservation) error

	// DeleteReservation fails with ErrNotFound if the id does not exist
	DeleteReservation(ctx context.Context, reservationID string) error

	// SaveTicket inserts or replaces the ticket for an order
	SaveTicket(ctx context.Context, ticket domain.FulfillmentTicket) error

	// DeleteTicket removes the ticket for an order, if any
	DeleteTicket(ctx context.Context, orderID string) error
}

type Store interface {
	Reader

	// Atomic runs fn in a single transaction. A non-nil error from fn rolls back
	// every write made through tx.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	ListMenuItems(ctx context.Context) ([]domain.MenuItem, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	ListTickets(ctx context.Context) ([]domain.FulfillmentTicket, error)
}
