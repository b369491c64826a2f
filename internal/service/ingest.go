package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/order-messaging/internal/auth"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"go.uber.org/zap"
)

// SendRequest is a message.send command from a trusted internal producer.
type SendRequest struct {
	Type           string             `json:"type"`
	ID             string             `json:"id"`
	OrderID        string             `json:"order_id"`
	SenderID       string             `json:"sender_id"`
	SenderRole     domain.Role        `json:"sender_role"`
	CounterpartyID string             `json:"counterparty_id"`
	Body           string             `json:"body"`
	Attachment     *domain.Attachment `json:"attachment,omitempty"`
}

// Ingest runs send commands from the command topic through SendMessage.
// Commands carry their own id, so redelivery never double-posts.
type Ingest struct {
	cmd        *CommandService
	log        *zap.SugaredLogger
	maxElapsed time.Duration
}

func NewIngest(cmd *CommandService, log *zap.SugaredLogger) *Ingest {
	return &Ingest{cmd: cmd, log: log, maxElapsed: 10 * time.Second}
}

// Handle matches the Kafka consumer's handler signature. Transient send
// failures are retried with backoff; anything else is returned at once.
func (in *Ingest) Handle(ctx context.Context, key string, value []byte) error {
	var req SendRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return fmt.Errorf("%w: decode command: %v", domain.ErrInvalidMessage, err)
	}
	if req.Type != "" && req.Type != CommandSendMessage {
		in.log.Debugw("ignoring command", "type", req.Type, "key", key)
		return nil
	}
	if req.ID == "" {
		return fmt.Errorf("%w: command needs an id", domain.ErrInvalidMessage)
	}

	cmd := SendCommand{
		OrderID:        req.OrderID,
		Sender:         auth.Identity{UserID: req.SenderID, Role: req.SenderRole},
		CounterpartyID: req.CounterpartyID,
		Body:           req.Body,
		Attachment:     req.Attachment,
		MessageID:      req.ID,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = in.maxElapsed
	return backoff.Retry(func() error {
		_, err := in.cmd.SendMessage(ctx, cmd)
		if err != nil && !domain.Retryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			in.log.Warnw("send command failed, retrying", "message_id", req.ID, "err", err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
