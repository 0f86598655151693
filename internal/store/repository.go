/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payment-service. By defining an interface,
 * we decouple the lifecycle engine from the specific database implementation
 * (PostgreSQL), making the code more modular and easier to test.
 *
 * @notes
 * - Status-changing methods are conditional: they only apply when the row is still in
 *   a state the transition is legal from, and return ErrStaleStatus otherwise. This is
 *   the durable half of the per-record serialization contract; the engine adds an
 *   in-process keyed lock on top.
 * - Transition methods take the transition's notification and persist it in the same
 *   transaction as the status change, so a transition is never durable without its
 *   audit record.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrRefundNotFound       = errors.New("refund not found")
	ErrScheduleNotFound     = errors.New("recurring schedule not found")

	// ErrStaleStatus reports a conditional status update that matched no row because
	// the payment moved to another state concurrently.
	ErrStaleStatus = errors.New("payment status changed concurrently")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment admission and lookup. CreatePayment persists the record, its schedule
	// (when present) and the initiated notification in one transaction.
	CreatePayment(ctx context.Context, record *domain.PaymentRecord, note domain.Notification) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	// FindLatestPaymentByReference returns the most recently admitted record for the
	// (channel, reference) idempotency pair, or ErrPaymentNotFound.
	FindLatestPaymentByReference(ctx context.Context, channel domain.Channel, reference string) (*domain.PaymentRecord, error)

	// History queries. Ordering is (created_at, id) so pagination is stable.
	ListPayments(ctx context.Context, filters domain.PaymentFilters, page, pageSize int) ([]domain.PaymentRecord, int64, error)

	// Lifecycle transitions (conditional on the current status). The processing move
	// carries no notification; every other transition persists one atomically.
	MarkPaymentProcessing(ctx context.Context, id uuid.UUID) error
	MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, gatewayRef string, note domain.Notification) error
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string, nextRetryAt *time.Time, note domain.Notification) error
	MarkPaymentCancelled(ctx context.Context, id uuid.UUID, note domain.Notification) error
	MarkPaymentExpired(ctx context.Context, id uuid.UUID, note domain.Notification) error
	// ClearPaymentRetry removes a pending retry marker and records the retry
	// notification in one transaction.
	ClearPaymentRetry(ctx context.Context, id uuid.UUID, note domain.Notification) error

	// Refunds
	FindRefund(ctx context.Context, paymentID uuid.UUID, refundID string) (*domain.Refund, error)
	// ApplyRefund records the refund, the status move and the refund notification
	// atomically.
	ApplyRefund(ctx context.Context, refund *domain.Refund, newStatus domain.PaymentStatus, note domain.Notification) error

	// Recurring schedules
	UpdateRecurringSchedule(ctx context.Context, schedule *domain.RecurringSchedule) error
	// FindDueRecurringSchedules returns active, unpaused schedules whose next payment
	// date is at or before now.
	FindDueRecurringSchedules(ctx context.Context, now time.Time) ([]domain.RecurringSchedule, error)

	// Scheduler sweeps
	FindExpiredPayments(ctx context.Context, now time.Time) ([]domain.PaymentRecord, error)
	FindPaymentsDueForRetry(ctx context.Context, now time.Time) ([]domain.PaymentRecord, error)

	// Notifications
	ListNotifications(ctx context.Context, opts domain.NotificationListOptions) ([]domain.Notification, error)
	// MarkNotificationRead is idempotent; re-reading an already-read notification is
	// a no-op. ErrNotificationNotFound when no such notification exists.
	MarkNotificationRead(ctx context.Context, notificationID uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, paymentID *uuid.UUID) (int64, error)
	CountUnreadNotifications(ctx context.Context) (int64, error)
}
