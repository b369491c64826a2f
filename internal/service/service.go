package service

import (
	"context"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/media"
	"github.com/fathima-sithara/order-messaging/internal/metrics"
	"github.com/fathima-sithara/order-messaging/internal/orders"
	"github.com/fathima-sithara/order-messaging/internal/profiles"
	"github.com/fathima-sithara/order-messaging/internal/realtime"
	"github.com/fathima-sithara/order-messaging/internal/repository"
	"go.uber.org/zap"
)

type AttachmentUploader interface {
	Upload(ctx context.Context, orderID string, f media.File) (*domain.Attachment, error)
	// Verify rejects a reference that was not uploaded for the order.
	Verify(ctx context.Context, orderID string, ref *domain.Attachment) error
}

// Dispatcher is the realtime side the services drive.
type Dispatcher interface {
	Notify(ctx context.Context, key domain.ConversationKey)
	Subscribe(ctx context.Context, key domain.ConversationKey) (*realtime.Subscription, error)
	WatchOrder(key domain.OrderKey) (*realtime.OrderWatch, error)
}

// EventPublisher is satisfied by the Kafka producer.
type EventPublisher interface {
	PublishMessage(ctx context.Context, key string, v interface{}) error
}

// Deps are the collaborators shared by the command and query services.
// Events and Metrics may be nil.
type Deps struct {
	Store      repository.MessageStore
	Orders     orders.Directory
	Uploader   AttachmentUploader
	Dispatcher Dispatcher
	Profiles   profiles.Resolver
	Events     EventPublisher
	Metrics    *metrics.Metrics
	Log        *zap.SugaredLogger
	Clock      func() time.Time

	// ProfileTimeout bounds each profile lookup in the list view.
	ProfileTimeout time.Duration
	// EventTimeout bounds notification and event publishing after a commit.
	EventTimeout time.Duration
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.ProfileTimeout <= 0 {
		d.ProfileTimeout = time.Second
	}
	if d.EventTimeout <= 0 {
		d.EventTimeout = 3 * time.Second
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
}
