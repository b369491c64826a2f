package service

import (
	"context"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/repository"
)

// UnreadAggregator counts unread messages from a viewer's point of view.
type UnreadAggregator struct {
	store repository.MessageStore
	index *ConversationIndex
}

func (u *UnreadAggregator) UnreadCount(ctx context.Context, key domain.ConversationKey, viewer domain.Role) (int64, error) {
	return u.store.CountUnread(ctx, key, viewer, key.ParticipantOf(viewer))
}

// TotalUnread sums the client's unread count over every conversation on the order.
func (u *UnreadAggregator) TotalUnread(ctx context.Context, order domain.OrderKey) (int64, error) {
	couriers, err := u.index.ListConversations(ctx, order)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, courierID := range couriers {
		key := domain.ConversationKey{OrderID: order.OrderID, ClientID: order.ClientID, CourierID: courierID}
		n, err := u.UnreadCount(ctx, key, domain.RoleClient)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
