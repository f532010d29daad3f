package port

import (
	"context"

	"github.com/rl1809/canteen/internal/core/domain"
)

type EventPublisher interface {
	// Publish delivers one order event to downstream consumers
	Publish(ctx context.Context, event domain.Event) error

	Close() error
}
