/**
 * @description
 * Typed error taxonomy for the payment engine. These are always returned to the
 * caller synchronously; handlers and broker consumers map them with errors.As.
 */

package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError reports a caller-correctable rule violation on one field.
// It is never retried automatically.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports an operation that is not legal in the record's
// current lifecycle state, e.g. refunding a pending payment.
type InvalidTransitionError struct {
	PaymentID uuid.UUID
	From      PaymentStatus
	Operation string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("payment %s: %s not permitted from status %s", e.PaymentID, e.Operation, e.From)
}

// DuplicateReferenceError reports an idempotency collision: the (channel, reference)
// pair was admitted before with a differing payload.
type DuplicateReferenceError struct {
	Channel   Channel
	Reference string
}

func (e *DuplicateReferenceError) Error() string {
	return fmt.Sprintf("reference %s already admitted on channel %s with a different payload", e.Reference, e.Channel)
}

// RetryExhaustedError reports a terminal failure after the configured retries.
type RetryExhaustedError struct {
	PaymentID uuid.UUID
	Reference string
	Retries   int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("payment %s (reference %s) failed permanently after %d retries", e.PaymentID, e.Reference, e.Retries)
}
