package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/fathima-sithara/order-messaging/internal/auth"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/media"
	"github.com/fathima-sithara/order-messaging/internal/metrics"
	"github.com/fathima-sithara/order-messaging/internal/repository"
	"github.com/fathima-sithara/order-messaging/internal/utils"
	"go.uber.org/zap"
)

const MaxBodyRunes = 4000

// SendCommand is one sendMessage call. At most one of Attachment (a reference
// from an earlier upload) and File (uploaded as part of the send) is set.
type SendCommand struct {
	OrderID        string
	Sender         auth.Identity
	CounterpartyID string
	Body           string
	Attachment     *domain.Attachment
	File           *media.File
	// MessageID makes the send idempotent when set by the caller.
	MessageID string
}

// SendError is an ErrSendFailed raised after the attachment was stored. The
// caller can retry with Attachment instead of uploading again.
type SendError struct {
	Attachment *domain.Attachment
	err        error
}

func (e *SendError) Error() string { return e.err.Error() }
func (e *SendError) Unwrap() error { return e.err }

type CommandService struct {
	store    repository.MessageStore
	access   access
	uploader AttachmentUploader
	reads    *ReadStateTracker
	changes  changes
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewCommandService(d Deps) *CommandService {
	d.defaults()
	ch := changes{notifier: d.Dispatcher, events: d.Events, log: d.Log, timeout: d.EventTimeout}
	return &CommandService{
		store:    d.Store,
		access:   access{orders: d.Orders},
		uploader: d.Uploader,
		reads:    &ReadStateTracker{store: d.Store, changes: ch, metrics: d.Metrics, now: d.Clock},
		changes:  ch,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      d.Clock,
	}
}

// SendMessage appends a message to the conversation between the sender and
// the counterparty on the order. Nothing is stored when it fails with
// ErrInvalidMessage, ErrInvalidAttachment or ErrUploadFailed.
func (s *CommandService) SendMessage(ctx context.Context, cmd SendCommand) (*domain.Message, error) {
	if err := s.check(cmd); err != nil {
		return nil, err
	}
	key, err := s.access.conversation(ctx, cmd.Sender, cmd.OrderID, cmd.CounterpartyID)
	if err != nil {
		return nil, classify(err, domain.ErrSendFailed)
	}

	att := cmd.Attachment
	if att != nil {
		if err := s.uploader.Verify(ctx, key.OrderID, att); err != nil {
			return nil, err
		}
	}

	id := cmd.MessageID
	if cmd.File != nil {
		if id != "" {
			prev, err := s.previous(ctx, id, key, cmd.Sender.UserID)
			if err != nil || prev != nil {
				return prev, err
			}
		}
		if att, err = s.uploader.Upload(ctx, key.OrderID, *cmd.File); err != nil {
			return nil, err
		}
	}
	if id == "" {
		id = utils.NewID()
	}
	m := &domain.Message{
		ID:         id,
		OrderID:    key.OrderID,
		ClientID:   key.ClientID,
		CourierID:  key.CourierID,
		SenderID:   cmd.Sender.UserID,
		SenderRole: cmd.Sender.Role,
		Body:       cmd.Body,
		Attachment: att,
		CreatedAt:  s.now().UTC().Truncate(time.Millisecond),
	}

	stored, created, err := s.store.Append(ctx, m)
	if err != nil {
		if errors.Is(err, repository.ErrIDConflict) {
			return nil, fmt.Errorf("%w: message id already used", domain.ErrInvalidMessage)
		}
		s.log.Errorw("append failed", "conversation", key.String(), "message_id", id, "err", err)
		return nil, &SendError{Attachment: att, err: fmt.Errorf("%w: %v", domain.ErrSendFailed, err)}
	}
	if !created {
		if stored.SenderID != m.SenderID {
			return nil, fmt.Errorf("%w: message id already used", domain.ErrInvalidMessage)
		}
		return stored, nil
	}

	s.metrics.MessageSent(string(stored.SenderRole))
	s.changes.committed(ctx, key, Event{Type: EventMessageCreated, Message: stored, At: stored.CreatedAt})
	return stored, nil
}

// previous returns the message a retried send already stored under id, so the
// file is not uploaded a second time. It returns nil when id is unused.
func (s *CommandService) previous(ctx context.Context, id string, key domain.ConversationKey, senderID string) (*domain.Message, error) {
	m, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, nil
	case err != nil:
		s.log.Errorw("message lookup failed", "message_id", id, "err", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	case m.Key() != key || m.SenderID != senderID:
		return nil, fmt.Errorf("%w: message id already used", domain.ErrInvalidMessage)
	}
	return m, nil
}

func (s *CommandService) check(cmd SendCommand) error {
	if cmd.Sender.UserID == "" || !cmd.Sender.Role.Valid() {
		return domain.ErrUnauthorized
	}
	if cmd.File != nil && cmd.Attachment != nil {
		return fmt.Errorf("%w: either a file or an attachment reference, not both", domain.ErrInvalidMessage)
	}
	if !domain.HasContent(cmd.Body, cmd.Attachment) && cmd.File == nil {
		return fmt.Errorf("%w: body or attachment required", domain.ErrInvalidMessage)
	}
	if utf8.RuneCountInString(cmd.Body) > MaxBodyRunes {
		return fmt.Errorf("%w: body longer than %d characters", domain.ErrInvalidMessage, MaxBodyRunes)
	}
	if cmd.MessageID != "" && !utils.ValidID(cmd.MessageID) {
		return fmt.Errorf("%w: message id must be a uuid", domain.ErrInvalidMessage)
	}
	return nil
}

// UploadAttachment stores a file for a later send on the order.
func (s *CommandService) UploadAttachment(ctx context.Context, caller auth.Identity, orderID string, f media.File) (*domain.Attachment, error) {
	if _, err := s.access.member(ctx, caller, orderID); err != nil {
		return nil, classify(err, domain.ErrUploadFailed)
	}
	return s.uploader.Upload(ctx, orderID, f)
}

// MarkRead marks the caller's side of the conversation with peerID as read.
func (s *CommandService) MarkRead(ctx context.Context, caller auth.Identity, orderID, peerID string) (int64, error) {
	key, err := s.access.conversation(ctx, caller, orderID, peerID)
	if err != nil {
		return 0, err
	}
	return s.reads.MarkConversationRead(ctx, key, caller.Role)
}

// MarkConversationRead is MarkRead for a conversation the caller already
// holds a subscription on.
func (s *CommandService) MarkConversationRead(ctx context.Context, key domain.ConversationKey, viewer domain.Role) (int64, error) {
	return s.reads.MarkConversationRead(ctx, key, viewer)
}
