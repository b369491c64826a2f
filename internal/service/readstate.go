package service

import (
	"context"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/metrics"
	"github.com/fathima-sithara/order-messaging/internal/repository"
)

// ReadStateTracker flips the viewer's read flags for a whole conversation.
type ReadStateTracker struct {
	store   repository.MessageStore
	changes changes
	metrics *metrics.Metrics
	now     func() time.Time
}

// MarkConversationRead marks every message the viewer did not send as read by
// the viewer and returns how many flags changed. Repeating it is a no-op.
// Subscribers and the event stream only hear about calls that changed something.
func (t *ReadStateTracker) MarkConversationRead(ctx context.Context, key domain.ConversationKey, viewer domain.Role) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	n, err := t.store.MarkRead(ctx, key, viewer, key.ParticipantOf(viewer))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	t.metrics.ReadMarked(n)
	t.changes.committed(ctx, key, Event{
		Type:       EventConversationRead,
		ViewerRole: viewer,
		Marked:     n,
		At:         t.now().UTC(),
	})
	return n, nil
}
