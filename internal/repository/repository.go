package repository

import (
	"context"
	"errors"

	"github.com/fathima-sithara/order-messaging/internal/domain"
)

var ErrNotFound = domain.ErrNotFound

// ErrIDConflict is returned when an idempotency id is reused for another conversation.
var ErrIDConflict = errors.New("message id already used in another conversation")

// MessageStore is the append-only message log. It is the only mutable shared
// state of the messaging core; everything else is derived from it.
type MessageStore interface {
	// Append stores m and assigns its Seq. Appending an id that already exists
	// returns the stored message untouched and created=false.
	Append(ctx context.Context, m *domain.Message) (stored *domain.Message, created bool, err error)
	// Get returns the message with the id, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Message, error)
	// ListByConversation returns the full history ordered by (CreatedAt, Seq).
	ListByConversation(ctx context.Context, key domain.ConversationKey) ([]*domain.Message, error)
	LastMessage(ctx context.Context, key domain.ConversationKey) (*domain.Message, error)
	// ListCouriers returns the distinct courier ids with at least one message
	// on the order for that client.
	ListCouriers(ctx context.Context, key domain.OrderKey) ([]string, error)
	// MarkRead flips the viewer's flag on every message in the conversation the
	// viewer did not author, returning how many flags changed.
	MarkRead(ctx context.Context, key domain.ConversationKey, viewer domain.Role, viewerID string) (int64, error)
	CountUnread(ctx context.Context, key domain.ConversationKey, viewer domain.Role, viewerID string) (int64, error)
	Close(ctx context.Context) error
}
