package realtime

import (
	"context"

	"github.com/fathima-sithara/order-messaging/internal/domain"
)

// Event tells other instances that a conversation changed.
type Event struct {
	Instance string                 `json:"instance"`
	Key      domain.ConversationKey `json:"key"`
}

// Bus carries change events between service instances.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers the handler for every event seen on the bus,
	// including the ones this instance published.
	Subscribe(handler func(Event)) error
	Close() error
}
