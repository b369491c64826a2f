package api

import (
	"errors"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/service"
	"github.com/fathima-sithara/order-messaging/internal/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func writeError(c *fiber.Ctx, log *zap.SugaredLogger, err error) error {
	status, code := utils.ErrorStatus(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Errorw("request failed", "path", c.Path(), "err", err)
		msg = "internal error"
	}

	var extra fiber.Map
	var se *service.SendError
	if errors.As(err, &se) && se.Attachment != nil {
		extra = fiber.Map{"attachment": se.Attachment}
	}
	retryable := domain.Retryable(err) || status == fiber.StatusGatewayTimeout
	return utils.JSONFailure(c, status, code, msg, retryable, extra)
}

// errorHandler renders errors that escape a handler, such as fiber's own
// body limit rejection, in the same envelope.
func errorHandler(log *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			if fe.Code == fiber.StatusRequestEntityTooLarge {
				return utils.JSONFailure(c, fe.Code, "attachment_too_large", "request body too large", false, nil)
			}
			return utils.JSONFailure(c, fe.Code, "http_error", fe.Message, false, nil)
		}
		return writeError(c, log, err)
	}
}
