package domain

import (
	"fmt"
	"sort"
	"time"
)

// ConversationKey is the triple that partitions messages into conversations.
type ConversationKey struct {
	OrderID   string `json:"order_id"`
	ClientID  string `json:"client_id"`
	CourierID string `json:"courier_id"`
}

func (k ConversationKey) Validate() error {
	if k.OrderID == "" || k.ClientID == "" || k.CourierID == "" {
		return fmt.Errorf("%w: order_id, client_id and courier_id required", ErrInvalidMessage)
	}
	if k.ClientID == k.CourierID {
		return fmt.Errorf("%w: client and courier must differ", ErrInvalidMessage)
	}
	return nil
}

func (k ConversationKey) String() string {
	return k.OrderID + "/" + k.ClientID + "/" + k.CourierID
}

// Order scopes the key down to the client side of an order.
func (k ConversationKey) Order() OrderKey {
	return OrderKey{OrderID: k.OrderID, ClientID: k.ClientID}
}

// OrderKey identifies every conversation one client has on one order.
type OrderKey struct {
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id"`
}

func (k OrderKey) String() string { return k.OrderID + "/" + k.ClientID }

// ParticipantOf returns the id the role occupies in the conversation.
func (k ConversationKey) ParticipantOf(r Role) string {
	if r == RoleClient {
		return k.ClientID
	}
	return k.CourierID
}

type ConversationSummary struct {
	CourierID     string    `json:"courier_id"`
	DisplayName   string    `json:"display_name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int64     `json:"unread_count"`
}

// SortSummaries orders by latest activity first; ties fall back to courier id
// so the list is stable between recomputations.
func SortSummaries(s []ConversationSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].LastMessageAt.Equal(s[j].LastMessageAt) {
			return s[i].LastMessageAt.After(s[j].LastMessageAt)
		}
		return s[i].CourierID < s[j].CourierID
	})
}
