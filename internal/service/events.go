package service

import (
	"context"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"go.uber.org/zap"
)

const (
	EventMessageCreated   = "message.created"
	EventConversationRead = "conversation.read"
	CommandSendMessage    = "message.send"
)

// Event is published to the events topic, keyed by the conversation.
type Event struct {
	Type         string                 `json:"type"`
	Conversation domain.ConversationKey `json:"conversation"`
	Message      *domain.Message        `json:"message,omitempty"`
	ViewerRole   domain.Role            `json:"viewer_role,omitempty"`
	Marked       int64                  `json:"marked,omitempty"`
	At           time.Time              `json:"at"`
}

// changes propagates a committed mutation to live views and the event stream.
// The caller's context only contributes values: a request that ends right
// after the commit still notifies.
type changes struct {
	notifier Dispatcher
	events   EventPublisher
	log      *zap.SugaredLogger
	timeout  time.Duration
}

func (c changes) committed(ctx context.Context, key domain.ConversationKey, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if c.notifier != nil {
		c.notifier.Notify(ctx, key)
	}
	if c.events == nil {
		return
	}
	ev.Conversation = key
	if err := c.events.PublishMessage(ctx, key.String(), ev); err != nil {
		c.log.Warnw("event publish failed", "type", ev.Type, "conversation", key.String(), "err", err)
	}
}
