package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/profiles"
	"github.com/fathima-sithara/order-messaging/internal/repository"
	"go.uber.org/zap"
)

// ConversationListView is the client's picker over every courier conversation
// on one order, most recent activity first.
type ConversationListView struct {
	store          repository.MessageStore
	index          *ConversationIndex
	unread         *UnreadAggregator
	profiles       profiles.Resolver
	watcher        Dispatcher
	log            *zap.SugaredLogger
	profileTimeout time.Duration
}

// ListUpdate is one recomputation of a watched list.
type ListUpdate struct {
	Conversations []domain.ConversationSummary
	Err           error
}

func (v *ConversationListView) Build(ctx context.Context, order domain.OrderKey) ([]domain.ConversationSummary, error) {
	couriers, err := v.index.ListConversations(ctx, order)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ConversationSummary, 0, len(couriers))
	for _, courierID := range couriers {
		key := domain.ConversationKey{OrderID: order.OrderID, ClientID: order.ClientID, CourierID: courierID}
		last, err := v.store.LastMessage(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		unread, err := v.unread.UnreadCount(ctx, key, domain.RoleClient)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ConversationSummary{
			CourierID:     courierID,
			DisplayName:   courierID,
			LastMessage:   last,
			LastMessageAt: last.CreatedAt,
			UnreadCount:   unread,
		})
	}

	v.decorate(ctx, out)
	domain.SortSummaries(out)
	return out, nil
}

// decorate fills in display names. A courier whose profile cannot be resolved
// keeps the raw id.
func (v *ConversationListView) decorate(ctx context.Context, list []domain.ConversationSummary) {
	if v.profiles == nil {
		return
	}
	var wg sync.WaitGroup
	for i := range list {
		wg.Add(1)
		go func(s *domain.ConversationSummary) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, v.profileTimeout)
			defer cancel()
			p, err := v.profiles.Resolve(pctx, s.CourierID)
			if err != nil {
				v.log.Debugw("profile lookup failed", "courier_id", s.CourierID, "err", err)
				p = profiles.Fallback(s.CourierID)
			}
			s.DisplayName = p.DisplayName
			s.AvatarURL = p.AvatarURL
		}(&list[i])
	}
	wg.Wait()
}

// Watch streams the list: the current one first, then a recomputation after
// every change under the order. Changes that land while a recomputation is
// unread collapse into the newest list. The channel closes when ctx ends.
func (v *ConversationListView) Watch(ctx context.Context, order domain.OrderKey) (<-chan ListUpdate, error) {
	w, err := v.watcher.WatchOrder(order)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSubscription, err)
	}
	first, err := v.Build(ctx, order)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrSubscription, err)
	}

	out := make(chan ListUpdate, 1)
	out <- ListUpdate{Conversations: first}
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.Done():
				return
			case <-w.C():
			}
			list, err := v.Build(ctx, order)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				v.log.Warnw("conversation list rebuild failed", "order", order.String(), "err", err)
				err = fmt.Errorf("%w: %v", domain.ErrSubscription, err)
			}
			u := ListUpdate{Conversations: list, Err: err}
			select {
			case out <- u:
			default:
				select {
				case <-out:
				default:
				}
				out <- u
			}
		}
	}()
	return out, nil
}
