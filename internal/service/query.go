package service

import (
	"context"

	"github.com/fathima-sithara/order-messaging/internal/auth"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/realtime"
	"github.com/fathima-sithara/order-messaging/internal/repository"
)

type QueryService struct {
	store      repository.MessageStore
	access     access
	dispatcher Dispatcher
	list       *ConversationListView
	unread     *UnreadAggregator
}

func NewQueryService(d Deps) *QueryService {
	d.defaults()
	index := NewConversationIndex(d.Store)
	unread := &UnreadAggregator{store: d.Store, index: index}
	return &QueryService{
		store:      d.Store,
		access:     access{orders: d.Orders},
		dispatcher: d.Dispatcher,
		unread:     unread,
		list: &ConversationListView{
			store:          d.Store,
			index:          index,
			unread:         unread,
			profiles:       d.Profiles,
			watcher:        d.Dispatcher,
			log:            d.Log,
			profileTimeout: d.ProfileTimeout,
		},
	}
}

// History returns the full ordered conversation between the caller and peerID.
func (s *QueryService) History(ctx context.Context, caller auth.Identity, orderID, peerID string) ([]*domain.Message, error) {
	key, err := s.access.conversation(ctx, caller, orderID, peerID)
	if err != nil {
		return nil, err
	}
	return s.store.ListByConversation(ctx, key)
}

// Subscribe opens a live view of the conversation. The first update, already
// queued when it returns, is the current history.
func (s *QueryService) Subscribe(ctx context.Context, caller auth.Identity, orderID, peerID string) (*realtime.Subscription, error) {
	key, err := s.access.conversation(ctx, caller, orderID, peerID)
	if err != nil {
		return nil, classify(err, domain.ErrSubscription)
	}
	return s.dispatcher.Subscribe(ctx, key)
}

// ConversationList is listConversationsForOrder for the order's client.
func (s *QueryService) ConversationList(ctx context.Context, caller auth.Identity, orderID string) ([]domain.ConversationSummary, error) {
	order, err := s.access.owner(ctx, caller, orderID)
	if err != nil {
		return nil, err
	}
	return s.list.Build(ctx, order)
}

func (s *QueryService) WatchConversationList(ctx context.Context, caller auth.Identity, orderID string) (<-chan ListUpdate, error) {
	order, err := s.access.owner(ctx, caller, orderID)
	if err != nil {
		return nil, classify(err, domain.ErrSubscription)
	}
	return s.list.Watch(ctx, order)
}

// Unread is the caller's badge for the order: the total over every
// conversation for the client, the single conversation for a courier.
func (s *QueryService) Unread(ctx context.Context, caller auth.Identity, orderID string) (int64, error) {
	if caller.Role == domain.RoleClient {
		order, err := s.access.owner(ctx, caller, orderID)
		if err != nil {
			return 0, err
		}
		return s.unread.TotalUnread(ctx, order)
	}
	owner, err := s.access.member(ctx, caller, orderID)
	if err != nil {
		return 0, err
	}
	key := domain.ConversationKey{OrderID: orderID, ClientID: owner, CourierID: caller.UserID}
	if err := key.Validate(); err != nil {
		return 0, err
	}
	return s.unread.UnreadCount(ctx, key, domain.RoleCourier)
}
