package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrBackpressure      = errors.New("fulfillment queue saturated")
	ErrStorageFailure    = errors.New("storage failure")
	ErrAlreadyReserved   = errors.New("already reserved")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrItemInactive      = errors.New("item not available")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidItem       = errors.New("invalid menu item")
)

type StockShortage struct {
	ItemID    string `json:"item_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError names every line of a reservation attempt that could
// not be satisfied.
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ItemID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ItemIDs returns the ids of the short items.
func (e *InsufficientStockError) ItemIDs() []string {
	ids := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		ids = append(ids, s.ItemID)
	}
	return ids
}

type TransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type ItemError struct {
	ItemID string
	Reason string
}

func (e *ItemError) Error() string {
	if e.ItemID == "" {
		return "invalid menu item: " + e.Reason
	}
	return fmt.Sprintf("invalid menu item %s: %s", e.ItemID, e.Reason)
}

func (e *ItemError) Is(target error) bool {
	return target == ErrInvalidItem
}
