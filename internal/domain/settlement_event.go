/**
 * @description
 * Event payloads exchanged with external collaborators over the message broker.
 *
 * @notes
 * - SettlementStatusEvent arrives from the settlement gateway's callback pipeline
 *   and drives ReportOutcome on the lifecycle engine.
 * - NotificationEvent is what the engine publishes for the delivery channel
 *   (push/SMS/email senders) on every emitted Notification.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SettlementStatusEvent is the gateway's asynchronous outcome report for a payment.
type SettlementStatusEvent struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"` // gateway vocabulary, normalized by the consumer
	Reason        string `json:"reason,omitempty"`
	GatewayRef    string `json:"gateway_ref,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// NotificationEvent is the broker payload mirroring an emitted Notification.
type NotificationEvent struct {
	NotificationID uuid.UUID            `json:"notification_id"`
	PaymentID      uuid.UUID            `json:"payment_id"`
	Kind           NotificationKind     `json:"kind"`
	Title          string               `json:"title"`
	Message        string               `json:"message"`
	Priority       NotificationPriority `json:"priority"`
	CustomerEmail  string               `json:"customer_email,omitempty"`
	CustomerPhone  string               `json:"customer_phone,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

// RecurringDispatchEvent is published when the scheduler admits the next cycle of a
// recurring payment, so reporting systems can correlate cycles to their parent.
type RecurringDispatchEvent struct {
	ParentPaymentID uuid.UUID `json:"parent_payment_id"`
	NewPaymentID    uuid.UUID `json:"new_payment_id"`
	Cycle           int       `json:"cycle"`
	Timestamp       time.Time `json:"timestamp"`
}
