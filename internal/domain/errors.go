package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidAttachment = errors.New("invalid attachment")
	ErrUploadFailed      = errors.New("upload failed")
	ErrSendFailed        = errors.New("send failed")
	ErrSubscription      = errors.New("subscription error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
)

// ErrAttachmentTooBig is an ErrInvalidAttachment the API reports as 413.
var ErrAttachmentTooBig = fmt.Errorf("%w: too large", ErrInvalidAttachment)

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrUploadFailed) ||
		errors.Is(err, ErrSendFailed) ||
		errors.Is(err, ErrSubscription)
}
