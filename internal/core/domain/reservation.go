package domain

import (
	"strings"
	"time"
)

const reservationPrefix = "rsv-"

// Reservation is the stock an active order holds. It only exists while the
// order is Reserved or Confirmed.
type Reservation struct {
	ID        string
	OrderID   string
	Lines     []OrderLine
	CreatedAt time.Time
}

func ReservationIDFor(orderID string) string {
	return reservationPrefix + orderID
}

// OrderIDFromReservation recovers the order id encoded in a reservation id.
func OrderIDFromReservation(reservationID string) (string, bool) {
	if !strings.HasPrefix(reservationID, reservationPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(reservationID, reservationPrefix)
	return id, id != ""
}

type FulfillmentTicket struct {
	OrderID    string
	StationID  string
	Token      string
	EnqueuedAt time.Time
}
