package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleClient  Role = "client"
	RoleCourier Role = "courier"
)

func (r Role) Valid() bool { return r == RoleClient || r == RoleCourier }

// Attachment is a durable reference to an uploaded object.
type Attachment struct {
	URL          string `bson:"url" json:"url"`
	Name         string `bson:"name" json:"name"`
	MimeType     string `bson:"mime_type" json:"mime_type"`
	Size         int64  `bson:"size,omitempty" json:"size,omitempty"`
	ThumbnailURL string `bson:"thumbnail_url,omitempty" json:"thumbnail_url,omitempty"`
}

// Message is immutable once appended, except for ReadByClient and ReadByCourier,
// which only ever move from false to true.
type Message struct {
	ID            string      `bson:"_id" json:"id"`
	OrderID       string      `bson:"order_id" json:"order_id"`
	ClientID      string      `bson:"client_id" json:"client_id"`
	CourierID     string      `bson:"courier_id" json:"courier_id"`
	SenderID      string      `bson:"sender_id" json:"sender_id"`
	SenderRole    Role        `bson:"sender_role" json:"sender_role"`
	Body          string      `bson:"body" json:"body"`
	Attachment    *Attachment `bson:"attachment,omitempty" json:"attachment,omitempty"`
	CreatedAt     time.Time   `bson:"created_at" json:"created_at"`
	Seq           int64       `bson:"seq" json:"seq"`
	ReadByClient  bool        `bson:"read_by_client" json:"read_by_client"`
	ReadByCourier bool        `bson:"read_by_courier" json:"read_by_courier"`
}

func (m *Message) Key() ConversationKey {
	return ConversationKey{OrderID: m.OrderID, ClientID: m.ClientID, CourierID: m.CourierID}
}

// Before reports whether m sorts before o in conversation order.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Seq < o.Seq
}

// ReadBy returns the read flag owned by the given viewer role.
func (m *Message) ReadBy(viewer Role) bool {
	if viewer == RoleClient {
		return m.ReadByClient
	}
	return m.ReadByCourier
}

// UnreadFor reports whether the message counts as unread for the viewer.
// A viewer's own messages are never unread for them.
func (m *Message) UnreadFor(viewer Role, viewerID string) bool {
	if m.SenderID == viewerID || m.SenderRole == viewer {
		return false
	}
	return !m.ReadBy(viewer)
}

// MarkReadFor sets the viewer's flag and reports whether it changed.
func (m *Message) MarkReadFor(viewer Role, viewerID string) bool {
	if !m.UnreadFor(viewer, viewerID) {
		return false
	}
	if viewer == RoleClient {
		m.ReadByClient = true
	} else {
		m.ReadByCourier = true
	}
	return true
}

func (m *Message) Clone() *Message {
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	return &c
}

// HasContent reports whether a message would carry anything worth sending.
func HasContent(body string, att *Attachment) bool {
	return strings.TrimSpace(body) != "" || att != nil
}
