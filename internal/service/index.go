package service

import (
	"context"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/repository"
)

// ConversationIndex lists the couriers a client has conversations with on an
// order. A conversation exists once it holds at least one message.
type ConversationIndex struct {
	store repository.MessageStore
}

func NewConversationIndex(store repository.MessageStore) *ConversationIndex {
	return &ConversationIndex{store: store}
}

func (i *ConversationIndex) ListConversations(ctx context.Context, order domain.OrderKey) ([]string, error) {
	return i.store.ListCouriers(ctx, order)
}
