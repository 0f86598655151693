/**
 * @description
 * The notification emitter. Emit is a pure mapping from (kind, payment record) to
 * a human-readable Notification; it performs no persistence and no delivery.
 * The lifecycle engine persists the result and publishes it for the delivery
 * collaborators (push/SMS/email senders) downstream of the broker.
 */

package app

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
)

// Notifier builds notifications for lifecycle transitions.
type Notifier struct{}

// NewNotifier creates a notification emitter.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// formatMinor renders a minor-unit amount as a two-decimal string, e.g. 5000 -> "50.00".
func formatMinor(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// Emit maps a lifecycle transition to its notification. Every transition the
// engine applies goes through here exactly once.
func (n *Notifier) Emit(kind domain.NotificationKind, record *domain.PaymentRecord) domain.Notification {
	amount := fmt.Sprintf("%s %s", record.Currency, formatMinor(record.Amount))

	var (
		title    string
		message  string
		priority = domain.PriorityNormal
	)

	switch kind {
	case domain.NotificationInitiated:
		title = "Payment initiated"
		message = fmt.Sprintf("Your payment of %s (ref %s) has been received and is awaiting settlement.", amount, record.Reference)
	case domain.NotificationSuccess:
		title = "Payment successful"
		message = fmt.Sprintf("Your payment of %s (ref %s) was completed successfully.", amount, record.Reference)
	case domain.NotificationFailed:
		title = "Payment failed"
		priority = domain.PriorityHigh
		reason := "the payment could not be settled"
		if record.FailureReason != nil && *record.FailureReason != "" {
			reason = *record.FailureReason
		}
		message = fmt.Sprintf("Your payment of %s (ref %s) failed: %s.", amount, record.Reference, reason)
	case domain.NotificationReminder:
		title = "Payment reminder"
		message = fmt.Sprintf("A payment of %s (ref %s) is coming up.", amount, record.Reference)
	case domain.NotificationRefund:
		title = "Refund processed"
		message = fmt.Sprintf("A refund of %s %s has been applied to payment %s.", record.Currency, formatMinor(record.RefundedAmount), record.Reference)
	case domain.NotificationExpired:
		title = "Payment expired"
		priority = domain.PriorityHigh
		message = fmt.Sprintf("Your payment of %s (ref %s) expired before settlement completed.", amount, record.Reference)
	case domain.NotificationRetry:
		title = "Payment retry scheduled"
		message = fmt.Sprintf("Your failed payment of %s (ref %s) is eligible for another attempt.", amount, record.Reference)
	case domain.NotificationCancelled:
		title = "Payment cancelled"
		message = fmt.Sprintf("Your payment of %s (ref %s) was cancelled.", amount, record.Reference)
	default:
		title = "Payment update"
		message = fmt.Sprintf("Payment %s was updated.", record.Reference)
	}

	// CreatedAt is stamped by the engine when the notification is recorded;
	// Emit itself reads no clock.
	return domain.Notification{
		ID:        uuid.New(),
		PaymentID: record.ID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Priority:  priority,
		Category:  "payments",
	}
}
