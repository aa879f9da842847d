package billing

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Class is the processor-visible result of one delivery.
type Class string

const (
	// ClassAck means processed or deliberately skipped; do not redeliver.
	ClassAck Class = "ack"
	// ClassRetryable asks the processor to redeliver later.
	ClassRetryable Class = "retryable"
	// ClassRejected means the delivery can never succeed as sent.
	ClassRejected Class = "rejected"
)

// Classify maps a processing result to its response class. Timeouts and
// cancellations are always retryable.
func Classify(out Outcome, err error) Class {
	if err == nil {
		return ClassAck
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ClassRetryable
	case IsAuthError(err), errors.Is(err, ErrMalformedPayload):
		return ClassRejected
	case errors.Is(err, ErrAccountNotFound):
		return ClassAck
	default:
		return ClassRetryable
	}
}

// StatusCode returns the HTTP status for a class.
func (c Class) StatusCode() int {
	switch c {
	case ClassAck:
		return fiber.StatusOK
	case ClassRejected:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
