package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fathima-sithara/order-messaging/internal/auth"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/orders"
)

// access decides which conversation a caller may touch. The order's owner is
// the only client; any courier may talk to that owner.
type access struct {
	orders orders.Directory
}

// conversation resolves the conversation the caller addresses through peerID,
// the other participant.
func (a access) conversation(ctx context.Context, caller auth.Identity, orderID, peerID string) (domain.ConversationKey, error) {
	if orderID == "" || peerID == "" {
		return domain.ConversationKey{}, fmt.Errorf("%w: order and counterparty required", domain.ErrInvalidMessage)
	}
	owner, err := a.member(ctx, caller, orderID)
	if err != nil {
		return domain.ConversationKey{}, err
	}

	key := domain.ConversationKey{OrderID: orderID, ClientID: owner}
	if caller.Role == domain.RoleClient {
		key.CourierID = peerID
	} else {
		if peerID != owner {
			return domain.ConversationKey{}, fmt.Errorf("%w: couriers only talk to the order's client", domain.ErrUnauthorized)
		}
		key.CourierID = caller.UserID
	}
	if err := key.Validate(); err != nil {
		return domain.ConversationKey{}, err
	}
	return key, nil
}

// member returns the order's owner once the caller is allowed on the order.
func (a access) member(ctx context.Context, caller auth.Identity, orderID string) (string, error) {
	if caller.UserID == "" || !caller.Role.Valid() {
		return "", domain.ErrUnauthorized
	}
	owner, err := a.orders.Owner(ctx, orderID)
	if err != nil {
		return "", err
	}
	if caller.Role == domain.RoleClient && caller.UserID != owner {
		return "", fmt.Errorf("%w: not the order's client", domain.ErrUnauthorized)
	}
	return owner, nil
}

// owner requires the caller to be the client who owns the order.
func (a access) owner(ctx context.Context, caller auth.Identity, orderID string) (domain.OrderKey, error) {
	if caller.Role != domain.RoleClient {
		return domain.OrderKey{}, fmt.Errorf("%w: client only", domain.ErrUnauthorized)
	}
	owner, err := a.member(ctx, caller, orderID)
	if err != nil {
		return domain.OrderKey{}, err
	}
	return domain.OrderKey{OrderID: orderID, ClientID: owner}, nil
}

// classify keeps caller mistakes as they are and files everything else
// (order lookup outages and the like) under the transient sentinel.
func classify(err, transient error) error {
	if err == nil {
		return nil
	}
	for _, e := range []error{domain.ErrInvalidMessage, domain.ErrInvalidAttachment, domain.ErrUnauthorized, domain.ErrNotFound, transient} {
		if errors.Is(err, e) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", transient, err)
}
