package ws

import (
	"context"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/realtime"
	"github.com/fathima-sithara/order-messaging/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

type snapshotFrame struct {
	Type         string                 `json:"type"`
	State        string                 `json:"state"`
	Conversation domain.ConversationKey `json:"conversation"`
	Messages     []*domain.Message      `json:"messages"`
}

type listFrame struct {
	Type          string                       `json:"type"`
	Conversations []domain.ConversationSummary `json:"conversations"`
}

type Handlers struct {
	cmd   *service.CommandService
	query *service.QueryService
	cfg   Config
	log   *zap.SugaredLogger
}

func NewHandlers(cmd *service.CommandService, query *service.QueryService, cfg Config, log *zap.SugaredLogger) *Handlers {
	cfg.defaults()
	return &Handlers{cmd: cmd, query: query, cfg: cfg, log: log}
}

// Register mounts the views on an authenticated router.
func (h *Handlers) Register(r fiber.Router) {
	g := r.Group("/ws", upgradeRequired)
	g.Get("/orders/:order_id/conversations/:peer_id", websocket.New(h.conversation))
	g.Get("/orders/:order_id/conversations", websocket.New(h.conversationList))
}

func upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// conversation streams the full history on open and after every change. The
// client may send {"type":"read"} to mark its side read.
func (h *Handlers) conversation(conn *websocket.Conn) {
	s := newSession(conn, h.cfg, h.log)
	defer s.cancel()
	caller := s.identity()

	sub, err := h.query.Subscribe(s.ctx, caller, conn.Params("order_id"), conn.Params("peer_id"))
	if err != nil {
		s.fail(err)
		return
	}
	defer sub.Close()

	go s.readPump(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := h.cmd.MarkConversationRead(ctx, sub.Key(), caller.Role); err != nil {
			h.log.Warnw("ws mark read failed", "conversation", sub.Key().String(), "err", err)
		}
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if u.State == realtime.Error {
				s.fail(u.Err)
				return
			}
			if err := s.write(snapshotFrame{Type: "snapshot", State: u.State.String(), Conversation: u.Key, Messages: u.Messages}); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}

// conversationList streams the client's picker for an order.
func (h *Handlers) conversationList(conn *websocket.Conn) {
	s := newSession(conn, h.cfg, h.log)
	defer s.cancel()

	updates, err := h.query.WatchConversationList(s.ctx, s.identity(), conn.Params("order_id"))
	if err != nil {
		s.fail(err)
		return
	}
	go s.readPump(nil)

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			var frame interface{} = listFrame{Type: "conversations", Conversations: u.Conversations}
			if u.Err != nil {
				frame = s.errorFrame(u.Err)
			}
			if err := s.write(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}
