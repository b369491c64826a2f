package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/auth"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	PingInterval    time.Duration
	WriteDeadline   time.Duration
	MaxMessageSize  int64
	FramesPerSecond int
}

func (c *Config) defaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024
	}
	if c.FramesPerSecond <= 0 {
		c.FramesPerSecond = 5
	}
}

// inbound is the only frame a view sends: {"type":"read"}.
type inbound struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// session owns one connection. Reads run on their own goroutine; every write
// happens on the handler's goroutine.
type session struct {
	conn   *websocket.Conn
	cfg    Config
	log    *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(conn *websocket.Conn, cfg Config, log *zap.SugaredLogger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{conn: conn, cfg: cfg, log: log, ctx: ctx, cancel: cancel}
}

func (s *session) identity() auth.Identity {
	uid, _ := s.conn.Locals("user_id").(string)
	role, _ := s.conn.Locals("role").(string)
	return auth.Identity{UserID: uid, Role: domain.Role(role)}
}

// readPump cancels the session when the peer goes away. onRead handles
// {"type":"read"} frames; frames over the rate limit are dropped.
func (s *session) readPump(onRead func(ctx context.Context)) {
	defer s.cancel()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	wait := 2 * s.cfg.PingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})
	limiter := rate.NewLimiter(rate.Limit(s.cfg.FramesPerSecond), s.cfg.FramesPerSecond)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wait))
		if !limiter.Allow() {
			continue
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		if in.Type == "read" && onRead != nil {
			onRead(s.ctx)
		}
	}
}

func (s *session) write(v interface{}) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteDeadline))
	return s.conn.WriteJSON(v)
}

func (s *session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteDeadline))
}

func (s *session) errorFrame(err error) errorFrame {
	status, code := utils.ErrorStatus(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "internal error"
	}
	return errorFrame{Type: "error", Code: code, Message: msg, Retryable: domain.Retryable(err)}
}

// fail sends the error and closes the view.
func (s *session) fail(err error) {
	_ = s.write(s.errorFrame(err))
	code := websocket.CloseNormalClosure
	if status, _ := utils.ErrorStatus(err); status == fiber.StatusForbidden {
		code = websocket.ClosePolicyViolation
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(s.cfg.WriteDeadline))
}
