/**
 * @description
 * Notification models for the payment-service. A Notification is an immutable record
 * of a lifecycle transition, keyed to a PaymentRecord; only the read flag ever changes.
 * Delivery (push/SMS/email) is a downstream collaborator consuming the published events.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind is the closed vocabulary of lifecycle transition notifications.
type NotificationKind string

const (
	NotificationInitiated NotificationKind = "initiated"
	NotificationSuccess   NotificationKind = "success"
	NotificationFailed    NotificationKind = "failed"
	NotificationReminder  NotificationKind = "reminder"
	NotificationRefund    NotificationKind = "refund"
	NotificationExpired   NotificationKind = "expired"
	NotificationRetry     NotificationKind = "retry"
	NotificationCancelled NotificationKind = "cancelled"
)

// NotificationPriority ranks delivery urgency for downstream senders.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Notification is an immutable record of one lifecycle transition.
type Notification struct {
	ID        uuid.UUID            `json:"id"`
	PaymentID uuid.UUID            `json:"payment_id"`
	Kind      NotificationKind     `json:"kind"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Priority  NotificationPriority `json:"priority"`
	Category  string               `json:"category,omitempty"`
	Read      bool                 `json:"read"`
	ReadAt    *time.Time           `json:"read_at,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// NotificationListOptions narrow a notification listing.
type NotificationListOptions struct {
	PaymentID  *uuid.UUID
	UnreadOnly bool
	Limit      int
	Offset     int
}
