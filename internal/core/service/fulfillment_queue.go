package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/canteen/internal/core/domain"
)

type QueueConfig struct {
	// Capacity bounds pending tickets per station; zero or less means unbounded.
	Capacity int
	// BlockOnFull makes Enqueue wait up to BlockTimeout for room instead of
	// failing at once.
	BlockOnFull  bool
	BlockTimeout time.Duration
}

// FulfillmentQueue is a FIFO of tickets per station. A dequeued ticket stays
// claimed until Remove is called for its order.
type FulfillmentQueue struct {
	cfg QueueConfig

	mu       sync.Mutex
	stations map[string]*stationQueue
	pending  map[string]string // order id -> station
	staged   map[string]bool
	claimed  map[string]domain.FulfillmentTicket
}

type stationQueue struct {
	tickets []domain.FulfillmentTicket
	arrived chan struct{}
	freed   chan struct{}
}

func NewFulfillmentQueue(cfg QueueConfig) *FulfillmentQueue {
	return &FulfillmentQueue{
		cfg:      cfg,
		stations: make(map[string]*stationQueue),
		pending:  make(map[string]string),
		staged:   make(map[string]bool),
		claimed:  make(map[string]domain.FulfillmentTicket),
	}
}

// Enqueue appends the ticket to its station. A ticket already queued or
// claimed for the same order is not added twice.
func (q *FulfillmentQueue) Enqueue(ctx context.Context, ticket domain.FulfillmentTicket) error {
	return q.enqueue(ctx, ticket, false)
}

// Stage takes a place in the station queue like Enqueue, but the ticket is
// skipped by DequeueNext until Commit is called. Remove abandons it.
func (q *FulfillmentQueue) Stage(ctx context.Context, ticket domain.FulfillmentTicket) error {
	return q.enqueue(ctx, ticket, true)
}

// Commit makes a staged ticket visible to its station.
func (q *FulfillmentQueue) Commit(orderID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.staged[orderID] {
		return
	}
	delete(q.staged, orderID)
	wake(&q.stationLocked(q.pending[orderID]).arrived)
}

func (q *FulfillmentQueue) enqueue(ctx context.Context, ticket domain.FulfillmentTicket, staged bool) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		q.mu.Lock()
		if q.holdsLocked(ticket.OrderID) {
			q.mu.Unlock()
			return nil
		}

		sq := q.stationLocked(ticket.StationID)
		if q.cfg.Capacity <= 0 || len(sq.tickets) < q.cfg.Capacity {
			sq.tickets = append(sq.tickets, ticket)
			q.pending[ticket.OrderID] = ticket.StationID
			if staged {
				q.staged[ticket.OrderID] = true
			} else {
				wake(&sq.arrived)
			}
			q.mu.Unlock()
			return nil
		}

		if !q.cfg.BlockOnFull {
			q.mu.Unlock()
			return fmt.Errorf("station %s: %w", ticket.StationID, domain.ErrBackpressure)
		}
		freed := sq.freed
		q.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(q.cfg.BlockTimeout)
		}
		select {
		case <-freed:
		case <-timer.C:
			return fmt.Errorf("station %s: waited %s: %w", ticket.StationID, q.cfg.BlockTimeout, domain.ErrBackpressure)
		case <-ctx.Done():
			return fmt.Errorf("station %s: %w: %v", ticket.StationID, domain.ErrBackpressure, ctx.Err())
		}
	}
}

// DequeueNext claims the oldest ticket of a station. With wait <= 0 it polls;
// otherwise it blocks up to wait for a ticket. ok is false when the station
// stayed empty.
func (q *FulfillmentQueue) DequeueNext(ctx context.Context, stationID string, wait time.Duration) (ticket domain.FulfillmentTicket, ok bool, err error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		q.mu.Lock()
		sq := q.stationLocked(stationID)
		if i := q.nextLocked(sq); i >= 0 {
			ticket = sq.tickets[i]
			sq.tickets = append(sq.tickets[:i], sq.tickets[i+1:]...)
			delete(q.pending, ticket.OrderID)
			q.claimed[ticket.OrderID] = ticket
			wake(&sq.freed)
			q.mu.Unlock()
			return ticket, true, nil
		}
		if wait <= 0 {
			q.mu.Unlock()
			return domain.FulfillmentTicket{}, false, nil
		}
		arrived := sq.arrived
		q.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(wait)
		}
		select {
		case <-arrived:
		case <-timer.C:
			return domain.FulfillmentTicket{}, false, nil
		case <-ctx.Done():
			return domain.FulfillmentTicket{}, false, ctx.Err()
		}
	}
}

// Remove drops the order's ticket whether it is pending or claimed.
func (q *FulfillmentQueue) Remove(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.claimed[orderID]; ok {
		delete(q.claimed, orderID)
		return true
	}

	stationID, ok := q.pending[orderID]
	if !ok {
		return false
	}
	delete(q.pending, orderID)
	delete(q.staged, orderID)

	sq := q.stationLocked(stationID)
	for i, t := range sq.tickets {
		if t.OrderID == orderID {
			sq.tickets = append(sq.tickets[:i], sq.tickets[i+1:]...)
			break
		}
	}
	wake(&sq.freed)
	return true
}

// Depth is the number of pending tickets at a station, staged ones included.
func (q *FulfillmentQueue) Depth(stationID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if sq, ok := q.stations[stationID]; ok {
		return len(sq.tickets)
	}
	return 0
}

func (q *FulfillmentQueue) Contains(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.holdsLocked(orderID)
}

// Restore reloads persisted tickets in enqueue order, ignoring capacity.
func (q *FulfillmentQueue) Restore(tickets []domain.FulfillmentTicket) {
	sorted := append([]domain.FulfillmentTicket(nil), tickets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EnqueuedAt.Before(sorted[j].EnqueuedAt) })

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range sorted {
		if q.holdsLocked(t.OrderID) {
			continue
		}
		sq := q.stationLocked(t.StationID)
		sq.tickets = append(sq.tickets, t)
		q.pending[t.OrderID] = t.StationID
		wake(&sq.arrived)
	}
}

// nextLocked is the index of the oldest committed ticket, or -1.
func (q *FulfillmentQueue) nextLocked(sq *stationQueue) int {
	for i, t := range sq.tickets {
		if !q.staged[t.OrderID] {
			return i
		}
	}
	return -1
}

func (q *FulfillmentQueue) holdsLocked(orderID string) bool {
	if _, ok := q.pending[orderID]; ok {
		return true
	}
	_, ok := q.claimed[orderID]
	return ok
}

func (q *FulfillmentQueue) stationLocked(stationID string) *stationQueue {
	sq, ok := q.stations[stationID]
	if !ok {
		sq = &stationQueue{
			arrived: make(chan struct{}),
			freed:   make(chan struct{}),
		}
		q.stations[stationID] = sq
	}
	return sq
}

// wake releases everyone waiting on ch and arms a fresh channel.
func wake(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}
