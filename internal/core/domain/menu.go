package domain

import "time"

// DefaultStation receives tickets for items that name no station.
const DefaultStation = "counter"

type MenuItem struct {
	ID         string
	Name       string
	PriceCents int64
	Category   string
	Station    string
	Available  int
	Baseline   int // stock ever supplied: initial stock plus restocks
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (m MenuItem) StationOrDefault() string {
	if m.Station == "" {
		return DefaultStation
	}
	return m.Station
}

func (m MenuItem) Validate() error {
	if m.Name == "" {
		return &ItemError{ItemID: m.ID, Reason: "name is required"}
	}
	if m.PriceCents < 0 {
		return &ItemError{ItemID: m.ID, Reason: "price cannot be negative"}
	}
	if m.Available < 0 {
		return &ItemError{ItemID: m.ID, Reason: "stock cannot be negative"}
	}
	return nil
}
