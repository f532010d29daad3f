package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

const (
	tracerName    = "github.com/rl1809/canteen/internal/core/service"
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 6
)

var errReservationHeld = errors.New("reservation held")

// Failure reasons recorded on Failed orders.
const (
	ReasonInsufficientStock = "insufficient_stock"
	ReasonItemNotFound      = "item_not_found"
	ReasonItemInactive      = "item_inactive"
	ReasonStorageFailure    = "storage_failure"
)

// OrderService runs the order lifecycle and is the entry point for every
// inbound operation. Transitions on one order are serialized; different
// orders only meet at the item locks.
type OrderService struct {
	store       port.Store
	catalog     *Catalog
	engine      *ReservationEngine
	queue       *FulfillmentQueue
	idempotency port.IdempotencyRepository
	events      *Dispatcher
	orderLocks  *keyLock
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
	newID       func() string
	stationWait time.Duration
}

type Option func(*OrderService)

func WithLogger(logger *zap.Logger) Option {
	return func(s *OrderService) { s.logger = logger }
}

func WithIdempotency(repo port.IdempotencyRepository) Option {
	return func(s *OrderService) { s.idempotency = repo }
}

func WithDispatcher(d *Dispatcher) Option {
	return func(s *OrderService) { s.events = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *OrderService) { s.newID = newID }
}

// WithStationWait sets how long StationDequeue waits for a ticket; zero polls.
func WithStationWait(wait time.Duration) Option {
	return func(s *OrderService) { s.stationWait = wait }
}

func NewOrderService(store port.Store, queue *FulfillmentQueue, opts ...Option) *OrderService {
	s := &OrderService{
		store:      store,
		queue:      queue,
		orderLocks: newKeyLock(),
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.catalog = NewCatalog(store, s.logger, s.now)
	s.engine = NewReservationEngine(s.catalog)
	return s
}

func (s *OrderService) Catalog() *Catalog { return s.catalog }

func (s *OrderService) Engine() *ReservationEngine { return s.engine }

// Recover reloads tickets of confirmed orders into the fulfillment queue.
func (s *OrderService) Recover(ctx context.Context) error {
	tickets, err := readWithRetry(ctx, func() ([]domain.FulfillmentTicket, error) {
		return s.store.ListTickets(ctx)
	})
	if err != nil {
		return fmt.Errorf("load tickets: %w", err)
	}

	live := tickets[:0]
	for _, t := range tickets {
		o, err := s.getOrder(ctx, t.OrderID)
		if err != nil || o.Status != domain.OrderStatusConfirmed {
			continue
		}
		live = append(live, t)
	}
	s.queue.Restore(live)

	s.logger.Info("fulfillment queue restored", zap.Int("tickets", len(live)))
	return nil
}

// SubmitOrder creates an order and reserves its stock in one step. The caller
// sees a Reserved order, or a Failed order with the reason as error. A
// non-empty idempotency key makes repeated submissions return the first order.
func (s *OrderService) SubmitOrder(ctx context.Context, idempotencyKey string, lines []domain.OrderLine) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.SubmitOrder")
	defer func() { endSpan(span, err) }()

	lines, err = normalizeLines(lines)
	if err != nil {
		return domain.Order{}, err
	}

	orderID := s.newID()
	if idempotencyKey != "" && s.idempotency != nil {
		bound, claimed, err := s.idempotency.Claim(ctx, idempotencyKey, orderID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("claim idempotency key: %w", err)
		}
		if !claimed {
			span.SetAttributes(attribute.Bool("order.replayed", true))
			return s.replay(ctx, bound)
		}
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	now := s.now()
	order = domain.Order{
		ID:             orderID,
		IdempotencyKey: idempotencyKey,
		Lines:          lines,
		Status:         domain.OrderStatusCreated,
		Token:          newToken(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	unlock := s.orderLocks.Lock(orderID)
	defer unlock()

	var reserved domain.Order
	_, err = s.engine.Reserve(ctx, orderID, lines, func(tx port.Tx, items []domain.MenuItem) error {
		reserved = order.Clone()
		reserved.TotalCents = orderTotal(lines, items)
		reserved.StationID = items[0].StationOrDefault()
		if err := reserved.Transition(domain.OrderStatusReserved, s.now()); err != nil {
			return err
		}
		return tx.SaveOrder(ctx, reserved)
	})

	if errors.Is(err, domain.ErrStorageFailure) {
		// Commit may have landed anyway: look before deciding.
		_, rerr := readWithRetry(ctx, func() (domain.Reservation, error) {
			return s.store.GetReservation(ctx, domain.ReservationIDFor(orderID))
		})
		switch {
		case rerr == nil && reserved.ID == orderID:
			s.logger.Warn("reservation committed despite storage error",
				zap.String("order_id", orderID), zap.Error(err))
			err = nil
		case !errors.Is(rerr, domain.ErrNotFound):
			s.logger.Error("reservation outcome unknown",
				zap.String("order_id", orderID), zap.Error(err), zap.NamedError("read_error", rerr))
			return domain.Order{}, fmt.Errorf("order %s outcome unknown: %w", orderID, err)
		}
	}
	if err == nil {
		s.logger.Info("order reserved",
			zap.String("order_id", orderID),
			zap.String("token", reserved.Token),
			zap.Int64("total_cents", reserved.TotalCents),
		)
		s.emit(reserved)
		return reserved, nil
	}

	return s.fail(ctx, order, err)
}

// fail records a submission that could not reserve stock.
func (s *OrderService) fail(ctx context.Context, order domain.Order, cause error) (domain.Order, error) {
	failed := order.Clone()
	failed.FailureReason = failureReason(cause)
	var short *domain.InsufficientStockError
	if errors.As(cause, &short) {
		failed.Shortages = append([]domain.StockShortage(nil), short.Shortages...)
	}
	if err := failed.Transition(domain.OrderStatusFailed, s.now()); err != nil {
		return domain.Order{}, err
	}

	err := s.store.Atomic(ctx, func(tx port.Tx) error {
		_, err := tx.GetReservation(ctx, domain.ReservationIDFor(order.ID))
		switch {
		case err == nil:
			return errReservationHeld
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		return tx.SaveOrder(ctx, failed)
	})
	if errors.Is(err, errReservationHeld) {
		s.logger.Error("refusing to fail order that holds a reservation",
			zap.String("order_id", order.ID), zap.Error(cause))
		return domain.Order{}, fmt.Errorf("order %s holds a reservation: %w", order.ID, domain.ErrStorageFailure)
	}
	if err != nil {
		s.logger.Error("failed to record failed order",
			zap.String("order_id", order.ID), zap.Error(err))
		if order.IdempotencyKey != "" && s.idempotency != nil {
			if ferr := s.idempotency.Forget(ctx, order.IdempotencyKey); ferr != nil {
				s.logger.Error("failed to forget idempotency key",
					zap.String("order_id", order.ID), zap.Error(ferr))
			}
		}
		return failed, errors.Join(cause, err)
	}

	s.logger.Info("order failed",
		zap.String("order_id", order.ID),
		zap.String("reason", failed.FailureReason),
		zap.Error(cause),
	)
	s.emit(failed)
	return failed, cause
}

func (s *OrderService) replay(ctx context.Context, orderID string) (domain.Order, error) {
	o, err := s.getOrder(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, fmt.Errorf("order %s still in progress: %w", orderID, domain.ErrDuplicateRequest)
	}
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status == domain.OrderStatusFailed {
		return o, failureError(o)
	}
	return o, nil
}

// ConfirmOrder moves a Reserved order to Confirmed and hands it to its station.
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID string) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ConfirmOrder",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	unlock := s.orderLocks.Lock(orderID)
	defer unlock()

	current, err := s.getOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	next := current.Clone()
	if err := next.Transition(domain.OrderStatusConfirmed, s.now()); err != nil {
		return current, err
	}

	ticket := domain.FulfillmentTicket{
		OrderID:    orderID,
		StationID:  stationOf(current),
		Token:      current.Token,
		EnqueuedAt: next.UpdatedAt,
	}
	if err := s.queue.Stage(ctx, ticket); err != nil {
		s.logger.Warn("confirm rejected by backpressure",
			zap.String("order_id", orderID),
			zap.String("station_id", ticket.StationID),
			zap.Error(err),
		)
		return current, err
	}

	err = s.store.Atomic(ctx, func(tx port.Tx) error {
		if err := tx.SaveOrder(ctx, next); err != nil {
			return err
		}
		return tx.SaveTicket(ctx, ticket)
	})
	if err != nil && !s.landed(ctx, orderID, domain.OrderStatusConfirmed, err) {
		s.queue.Remove(orderID)
		return current, err
	}
	s.queue.Commit(orderID)

	s.logger.Info("order confirmed", zap.String("order_id", orderID), zap.String("station_id", ticket.StationID))
	s.emit(next)
	return next, nil
}

// CancelOrder cancels a Reserved or Confirmed order and returns its stock once.
// A confirmed order's ticket leaves the station queue.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	unlock := s.orderLocks.Lock(orderID)
	defer unlock()

	current, err := s.getOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	next := current.Clone()
	if err := next.Transition(domain.OrderStatusCancelled, s.now()); err != nil {
		return current, err
	}

	confirmed := current.Status == domain.OrderStatusConfirmed
	err = s.engine.Release(ctx, domain.ReservationIDFor(orderID), func(tx port.Tx) error {
		if err := tx.SaveOrder(ctx, next); err != nil {
			return err
		}
		if confirmed {
			return tx.DeleteTicket(ctx, orderID)
		}
		return nil
	})
	if err != nil && !s.landed(ctx, orderID, domain.OrderStatusCancelled, err) {
		return current, err
	}
	if confirmed {
		s.queue.Remove(orderID)
	}

	s.logger.Info("order cancelled", zap.String("order_id", orderID), zap.Bool("late", confirmed))
	s.emit(next)
	return next, nil
}

// StationMarkFulfilled records that staff handed a Confirmed order over. The
// reserved stock becomes a permanent decrement and the ticket is consumed.
func (s *OrderService) StationMarkFulfilled(ctx context.Context, orderID string) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.StationMarkFulfilled",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	unlock := s.orderLocks.Lock(orderID)
	defer unlock()

	current, err := s.getOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	next := current.Clone()
	if err := next.Transition(domain.OrderStatusFulfilled, s.now()); err != nil {
		return current, err
	}

	err = s.engine.Consume(ctx, domain.ReservationIDFor(orderID), func(tx port.Tx) error {
		if err := tx.SaveOrder(ctx, next); err != nil {
			return err
		}
		return tx.DeleteTicket(ctx, orderID)
	})
	if err != nil && !s.landed(ctx, orderID, domain.OrderStatusFulfilled, err) {
		return current, err
	}
	s.queue.Remove(orderID)

	s.logger.Info("order fulfilled", zap.String("order_id", orderID))
	s.emit(next)
	return next, nil
}

// StationDequeue claims the next ticket of a station. ok is false when the
// station has nothing to hand out.
func (s *OrderService) StationDequeue(ctx context.Context, stationID string) (ticket domain.FulfillmentTicket, ok bool, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.StationDequeue",
		trace.WithAttributes(attribute.String("station.id", stationID)))
	defer func() { endSpan(span, err) }()

	return s.queue.DequeueNext(ctx, stationID, s.stationWait)
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.getOrder(ctx, orderID)
}

func (s *OrderService) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

// ListOrders returns orders newest first, optionally filtered by status.
func (s *OrderService) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	orders, err := readWithRetry(ctx, func() ([]domain.Order, error) {
		return s.store.ListOrders(ctx)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *OrderService) StatusCounts(ctx context.Context) (map[domain.OrderStatus]int, error) {
	orders, err := s.ListOrders(ctx, "")
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.OrderStatus]int, len(domain.AllOrderStatuses))
	for _, st := range domain.AllOrderStatuses {
		counts[st] = 0
	}
	for _, o := range orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (s *OrderService) ListMenu(ctx context.Context) ([]domain.MenuItem, error) {
	return s.catalog.ListActive(ctx)
}

func (s *OrderService) Restock(ctx context.Context, itemID string, quantity int) (domain.MenuItem, error) {
	return s.catalog.Restock(ctx, itemID, quantity)
}

func (s *OrderService) AddMenuItem(ctx context.Context, item domain.MenuItem) (domain.MenuItem, error) {
	return s.catalog.AddItem(ctx, item)
}

func (s *OrderService) SetItemActive(ctx context.Context, itemID string, active bool) (domain.MenuItem, error) {
	return s.catalog.SetActive(ctx, itemID, active)
}

func (s *OrderService) getOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return readWithRetry(ctx, func() (domain.Order, error) {
		return s.store.GetOrder(ctx, orderID)
	})
}

// landed reports whether a transaction that failed with a storage error was
// in fact committed, judged by the order's stored status.
func (s *OrderService) landed(ctx context.Context, orderID string, want domain.OrderStatus, err error) bool {
	if !errors.Is(err, domain.ErrStorageFailure) {
		return false
	}
	o, rerr := s.getOrder(ctx, orderID)
	if rerr != nil || o.Status != want {
		return false
	}
	s.logger.Warn("transition committed despite storage error",
		zap.String("order_id", orderID),
		zap.String("status", string(want)),
		zap.Error(err),
	)
	return true
}

func (s *OrderService) emit(o domain.Order) {
	if event, ok := domain.EventFor(o); ok {
		s.events.Emit(event)
	}
}

// normalizeLines validates lines and merges repeats of an item, keeping the
// order in which items first appear.
func normalizeLines(lines []domain.OrderLine) ([]domain.OrderLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("no lines: %w", domain.ErrInvalidOrder)
	}

	index := make(map[string]int, len(lines))
	out := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		if l.ItemID == "" {
			return nil, fmt.Errorf("line without item id: %w", domain.ErrInvalidOrder)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("item %s: quantity must be positive: %w", l.ItemID, domain.ErrInvalidOrder)
		}
		if i, ok := index[l.ItemID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ItemID] = len(out)
		out = append(out, l)
	}
	return out, nil
}

func orderTotal(lines []domain.OrderLine, items []domain.MenuItem) int64 {
	var total int64
	for i, l := range lines {
		total += items[i].PriceCents * int64(l.Quantity)
	}
	return total
}

func stationOf(o domain.Order) string {
	if o.StationID == "" {
		return domain.DefaultStation
	}
	return o.StationID
}

func newToken() string {
	b := make([]byte, tokenLength)
	for i := range b {
		b[i] = tokenAlphabet[rand.IntN(len(tokenAlphabet))]
	}
	return string(b)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, domain.ErrItemInactive):
		return ReasonItemInactive
	case errors.Is(err, domain.ErrNotFound):
		return ReasonItemNotFound
	default:
		return ReasonStorageFailure
	}
}

// failureError rebuilds the error a Failed order was rejected with.
func failureError(o domain.Order) error {
	switch o.FailureReason {
	case ReasonInsufficientStock:
		return &domain.InsufficientStockError{Shortages: append([]domain.StockShortage(nil), o.Shortages...)}
	case ReasonItemInactive:
		return fmt.Errorf("order %s: %w", o.ID, domain.ErrItemInactive)
	case ReasonItemNotFound:
		return fmt.Errorf("order %s: menu item: %w", o.ID, domain.ErrNotFound)
	default:
		return fmt.Errorf("order %s: %w", o.ID, domain.ErrStorageFailure)
	}
}

// endSpan records err unless it is an expected business outcome.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if isBusinessOutcome(err) {
			span.SetAttributes(attribute.String("outcome", err.Error()))
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func isBusinessOutcome(err error) bool {
	return errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrBackpressure) ||
		errors.Is(err, domain.ErrDuplicateRequest) ||
		errors.Is(err, domain.ErrItemInactive) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidOrder)
}
