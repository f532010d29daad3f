package domain

import "time"

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusReserved  OrderStatus = "reserved"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusFailed    OrderStatus = "failed"
)

// AllOrderStatuses lists every status in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusReserved,
	OrderStatusConfirmed,
	OrderStatusCancelled,
	OrderStatusFulfilled,
	OrderStatusFailed,
}

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusCreated:   {OrderStatusReserved: true, OrderStatusFailed: true},
	OrderStatusReserved:  {OrderStatusConfirmed: true, OrderStatusCancelled: true},
	OrderStatusConfirmed: {OrderStatusFulfilled: true, OrderStatusCancelled: true},
	OrderStatusCancelled: {},
	OrderStatusFulfilled: {},
	OrderStatusFailed:    {},
}

// CanTransition reports whether from -> to is an edge of the order state machine.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// HoldsReservation reports whether an order in this status owns stock.
func (s OrderStatus) HoldsReservation() bool {
	return s == OrderStatusReserved || s == OrderStatusConfirmed
}

type OrderLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type Order struct {
	ID             string
	IdempotencyKey string
	Lines          []OrderLine
	Status         OrderStatus
	Token          string
	TotalCents     int64
	StationID      string
	Shortages      []StockShortage
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transition moves the order to next, stamping UpdatedAt. The order is left
// untouched when the edge is not allowed.
func (o *Order) Transition(next OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, next) {
		return &TransitionError{OrderID: o.ID, From: o.Status, To: next}
	}
	o.Status = next
	o.UpdatedAt = at
	return nil
}

func (o Order) Clone() Order {
	c := o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	c.Shortages = append([]StockShortage(nil), o.Shortages...)
	return c
}
