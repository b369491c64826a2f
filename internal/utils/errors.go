package utils

import (
	"context"
	"errors"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/gofiber/fiber/v2"
)

// ErrorStatus maps a domain error to its HTTP status and machine code.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAttachmentTooBig):
		return fiber.StatusRequestEntityTooLarge, "attachment_too_large"
	case errors.Is(err, domain.ErrInvalidAttachment):
		return fiber.StatusUnprocessableEntity, "invalid_attachment"
	case errors.Is(err, domain.ErrInvalidMessage):
		return fiber.StatusBadRequest, "invalid_message"
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUploadFailed):
		return fiber.StatusBadGateway, "upload_failed"
	case errors.Is(err, domain.ErrSendFailed):
		return fiber.StatusServiceUnavailable, "send_failed"
	case errors.Is(err, domain.ErrSubscription):
		return fiber.StatusServiceUnavailable, "subscription_error"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "timeout"
	}
	return fiber.StatusInternalServerError, "internal"
}
