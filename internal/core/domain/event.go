package domain

import "time"

type EventType string

const (
	EventOrderReserved  EventType = "OrderReserved"
	EventOrderFailed    EventType = "OrderFailed"
	EventOrderConfirmed EventType = "OrderConfirmed"
	EventOrderCancelled EventType = "OrderCancelled"
	EventOrderFulfilled EventType = "OrderFulfilled"
)

var statusEvents = map[OrderStatus]EventType{
	OrderStatusReserved:  EventOrderReserved,
	OrderStatusFailed:    EventOrderFailed,
	OrderStatusConfirmed: EventOrderConfirmed,
	OrderStatusCancelled: EventOrderCancelled,
	OrderStatusFulfilled: EventOrderFulfilled,
}

type Event struct {
	Type       EventType   `json:"type"`
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status"`
	Token      string      `json:"token"`
	StationID  string      `json:"station_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// EventFor builds the notification describing the order's current status.
func EventFor(o Order) (Event, bool) {
	t, ok := statusEvents[o.Status]
	if !ok {
		return Event{}, false
	}
	return Event{
		Type:       t,
		OrderID:    o.ID,
		Status:     o.Status,
		Token:      o.Token,
		StationID:  o.StationID,
		Reason:     o.FailureReason,
		OccurredAt: o.UpdatedAt,
	}, true
}
