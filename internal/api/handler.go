package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/media"
	"github.com/fathima-sithara/order-messaging/internal/service"
	"github.com/fathima-sithara/order-messaging/internal/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Handlers struct {
	cmd     *service.CommandService
	query   *service.QueryService
	log     *zap.SugaredLogger
	timeout time.Duration
}

func NewHandlers(cmd *service.CommandService, query *service.QueryService, log *zap.SugaredLogger, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Handlers{cmd: cmd, query: query, log: log, timeout: timeout}
}

type sendMessageRequest struct {
	CounterpartyID string             `json:"counterparty_id" form:"counterparty_id" validate:"required,max=128"`
	Body           string             `json:"body" form:"body" validate:"max=4000"`
	MessageID      string             `json:"message_id" form:"message_id" validate:"omitempty,uuid"`
	Attachment     *domain.Attachment `json:"attachment" form:"-"`
}

func (h *Handlers) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.timeout)
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.JSONFailure(c, fiber.StatusBadRequest, "invalid_message", "invalid body", false, nil)
	}
	if err := utils.Validate(req); err != nil {
		return utils.JSONFailure(c, fiber.StatusBadRequest, "invalid_message", "validation failed", false,
			fiber.Map{"errors": utils.FormatValidationErrors(err)})
	}

	cmd := service.SendCommand{
		OrderID:        c.Params("order_id"),
		Sender:         identity(c),
		CounterpartyID: req.CounterpartyID,
		Body:           req.Body,
		Attachment:     req.Attachment,
		MessageID:      req.MessageID,
	}
	if isMultipart(c) {
		f, release, err := formFile(c, false)
		if err != nil {
			return writeError(c, h.log, err)
		}
		if f != nil {
			defer release()
			cmd.File = f
		}
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	m, err := h.cmd.SendMessage(ctx, cmd)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return utils.JSONSuccess(c, fiber.StatusCreated, m)
}

func (h *Handlers) uploadAttachment(c *fiber.Ctx) error {
	f, release, err := formFile(c, true)
	if err != nil {
		return writeError(c, h.log, err)
	}
	defer release()

	ctx, cancel := h.ctx(c)
	defer cancel()
	att, err := h.cmd.UploadAttachment(ctx, identity(c), c.Params("order_id"), *f)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return utils.JSONSuccess(c, fiber.StatusCreated, att)
}

func (h *Handlers) listMessages(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	msgs, err := h.query.History(ctx, identity(c), c.Params("order_id"), c.Params("peer_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, msgs)
}

func (h *Handlers) markRead(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	n, err := h.cmd.MarkRead(ctx, identity(c), c.Params("order_id"), c.Params("peer_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, fiber.Map{"marked": n})
}

func (h *Handlers) listConversations(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	list, err := h.query.ConversationList(ctx, identity(c), c.Params("order_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, list)
}

func (h *Handlers) unread(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	n, err := h.query.Unread(ctx, identity(c), c.Params("order_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, fiber.Map{"unread": n})
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}

// formFile opens the "file" part. A missing part is an error only when required.
func formFile(c *fiber.Ctx, required bool) (*media.File, func(), error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if required {
			return nil, nil, fmt.Errorf("%w: file part required", domain.ErrInvalidAttachment)
		}
		return nil, func() {}, nil
	}
	r, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open upload: %v", domain.ErrInvalidAttachment, err)
	}
	f := &media.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Size:        fh.Size,
		Body:        r,
	}
	return f, func() { _ = r.Close() }, nil
}
