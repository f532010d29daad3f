package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

const (
	publishTimeout = 5 * time.Second
	drainTimeout   = 5 * time.Second
)

// Dispatcher forwards order events to a publisher from a background loop.
// Emit never blocks: when the buffer is full the event is dropped.
type Dispatcher struct {
	events    chan domain.Event
	publisher port.EventPublisher
	logger    *zap.Logger
	dropped   atomic.Int64
}

func NewDispatcher(publisher port.EventPublisher, buffer int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{
		events:    make(chan domain.Event, buffer),
		publisher: publisher,
		logger:    logger,
	}
}

func (d *Dispatcher) Emit(event domain.Event) {
	if d == nil {
		return
	}
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event buffer full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("order_id", event.OrderID),
		)
	}
}

// Dropped is the number of events discarded because the buffer was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run publishes events until ctx is done, then drains what is buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case event := <-d.events:
			d.publish(context.Background(), event)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case event := <-d.events:
			d.publish(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(parent context.Context, event domain.Event) {
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Error("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
