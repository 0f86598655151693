/**
 * @description
 * This file contains the payment lifecycle engine. The `Service` struct drives a
 * payment instruction from admission through settlement, cancellation, expiry and
 * refund, coordinating the validation rule set, the database repository and the
 * message broker producer.
 *
 * Key features:
 * - Admit validates an instruction, enforces (channel, reference) idempotency and
 *   creates the pending PaymentRecord with its transaction id.
 * - ReportOutcome applies settlement results delivered asynchronously by the
 *   gateway callback consumer; terminal states never transition again.
 * - Every applied transition emits exactly one Notification, persisted in the
 *   same transaction as the status change and then published for the delivery
 *   collaborators.
 * - Calls touching the same record serialize on an in-process keyed lock; the
 *   repository's conditional updates guard the durable state on top of that.
 *
 * @dependencies
 * - context, crypto/sha256, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For transaction id generation.
 * - internal/domain, internal/rules, internal/store, pkg/rabbitmq.
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
	"github.com/dir-sai/scale-r-pms-sub000/internal/rules"
	"github.com/dir-sai/scale-r-pms-sub000/internal/store"
	"github.com/dir-sai/scale-r-pms-sub000/pkg/rabbitmq"
)

// Outcome is a settlement result reported by the gateway collaborator.
type Outcome struct {
	Status     domain.PaymentStatus // processing, succeeded, failed or expired
	Reason     string
	GatewayRef string
}

// Service provides the core lifecycle logic for payments.
type Service struct {
	repo          store.Repository
	ruleset       *rules.Ruleset
	notifier      *Notifier
	eventProducer rabbitmq.Publisher
	maxRetries    int
	retryInterval time.Duration
	locks         *keyedMutex
	now           func() time.Time
}

// NewService creates a new payment lifecycle engine instance.
func NewService(repo store.Repository, ruleset *rules.Ruleset, notifier *Notifier, producer rabbitmq.Publisher, maxRetries int, retryInterval time.Duration) *Service {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryInterval <= 0 {
		retryInterval = 5 * time.Minute
	}
	return &Service{
		repo:          repo,
		ruleset:       ruleset,
		notifier:      notifier,
		eventProducer: producer,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		locks:         newKeyedMutex(),
		now:           time.Now,
	}
}

// payloadHash fingerprints the admitted payload for idempotency comparison.
func payloadHash(instr domain.PaymentInstruction) string {
	raw, _ := json.Marshal(instr)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func referenceKey(channel domain.Channel, reference string) string {
	return "ref:" + string(channel) + ":" + reference
}

func paymentKey(id uuid.UUID) string {
	return "tx:" + id.String()
}

// Admit validates an instruction and creates its pending PaymentRecord. Admission
// is idempotent on (channel, reference): an identical payload resolves to the
// existing record, a differing payload fails with DuplicateReferenceError, and a
// failed record with retries remaining yields a fresh admission.
func (s *Service) Admit(ctx context.Context, instr domain.PaymentInstruction) (*domain.PaymentRecord, error) {
	now := s.now().UTC()
	if err := s.ruleset.Validate(instr, now); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(referenceKey(instr.Channel, instr.Reference))
	defer unlock()

	hash := payloadHash(instr)
	retriesUsed := 0

	existing, err := s.repo.FindLatestPaymentByReference(ctx, instr.Channel, instr.Reference)
	if err != nil && !errors.Is(err, store.ErrPaymentNotFound) {
		return nil, fmt.Errorf("reference lookup failed: %w", err)
	}
	if existing != nil {
		if existing.PayloadHash != hash {
			return nil, &domain.DuplicateReferenceError{Channel: instr.Channel, Reference: instr.Reference}
		}
		if existing.Status != domain.StatusFailed {
			// Same logical payment, already admitted.
			return existing, nil
		}
		if existing.RetriesUsed >= existing.MaxRetries {
			return nil, &domain.RetryExhaustedError{PaymentID: existing.ID, Reference: instr.Reference, Retries: existing.RetriesUsed}
		}
		retriesUsed = existing.RetriesUsed + 1
	}

	amount, err := rules.ParseAmount(instr.Amount)
	if err != nil {
		return nil, &domain.ValidationError{Field: "amount", Reason: "amount is out of range"}
	}

	record := &domain.PaymentRecord{
		ID:            uuid.New(),
		Channel:       instr.Channel,
		Reference:     instr.Reference,
		Amount:        amount,
		Currency:      instr.Currency,
		Description:   strings.TrimSpace(instr.Description),
		Status:        domain.StatusPending,
		MobileMoney:   instr.MobileMoney,
		BankTransfer:  instr.BankTransfer,
		Card:          instr.Card,
		QRCode:        instr.QRCode,
		USSD:          instr.USSD,
		CustomerName:  instr.CustomerName,
		CustomerEmail: instr.CustomerEmail,
		CustomerPhone: instr.CustomerPhone,
		PayloadHash:   hash,
		RetriesUsed:   retriesUsed,
		MaxRetries:    s.maxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, split := range instr.Splits {
		minor, err := rules.ParseAmount(split.Amount)
		if err != nil {
			return nil, &domain.ValidationError{Field: "splits", Reason: "split amount is out of range"}
		}
		record.Splits = append(record.Splits, domain.Split{RecipientID: split.RecipientID, Amount: minor})
	}

	if window := settlementWindow(instr); window > 0 {
		expiresAt := now.Add(time.Duration(window) * time.Second)
		record.ExpiresAt = &expiresAt
	}

	if instr.Recurrence != nil {
		record.Schedule = buildSchedule(record.ID, instr.Recurrence, now)
	}

	note := s.notification(domain.NotificationInitiated, record)
	if err := s.repo.CreatePayment(ctx, record, note); err != nil {
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	s.publish(ctx, note, record)
	return record, nil
}

func settlementWindow(instr domain.PaymentInstruction) int {
	switch {
	case instr.QRCode != nil:
		return instr.QRCode.ExpiresIn
	case instr.USSD != nil:
		return instr.USSD.ExpiresIn
	default:
		return 0
	}
}

func buildSchedule(paymentID uuid.UUID, rec *domain.RecurrenceRequest, now time.Time) *domain.RecurringSchedule {
	next := nextPaymentDate(rec.Frequency, rec.CustomIntervalDays, now)
	if rec.StartDate != nil && rec.StartDate.After(now) {
		next = *rec.StartDate
	}
	return &domain.RecurringSchedule{
		ID:                 uuid.New(),
		PaymentID:          paymentID,
		Frequency:          rec.Frequency,
		CustomIntervalDays: rec.CustomIntervalDays,
		NextPaymentDate:    next,
		CompletedPayments:  0,
		TotalPayments:      rec.TotalPayments,
		EndDate:            rec.EndDate,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// ReportOutcome applies a settlement result to a payment. Reporting against an
// unknown transaction id returns store.ErrPaymentNotFound; reporting against a
// record the outcome is not legal from returns InvalidTransitionError. The two
// are deliberately distinct.
func (s *Service) ReportOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) (*domain.PaymentRecord, error) {
	unlock := s.locks.lock(paymentKey(id))
	defer unlock()

	record, err := s.repo.FindPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status != domain.StatusPending && record.Status != domain.StatusProcessing {
		return nil, &domain.InvalidTransitionError{PaymentID: id, From: record.Status, Operation: "report_outcome"}
	}

	now := s.now().UTC()
	from := record.Status

	switch outcome.Status {
	case domain.StatusProcessing:
		if record.Status == domain.StatusProcessing {
			return record, nil // duplicate gateway ack
		}
		if err := s.transition(s.repo.MarkPaymentProcessing(ctx, id), id, from, "report_outcome"); err != nil {
			return nil, err
		}
		record.Status = domain.StatusProcessing
		record.UpdatedAt = now
		return record, nil

	case domain.StatusSucceeded:
		record.Status = domain.StatusSucceeded
		record.UpdatedAt = now
		if outcome.GatewayRef != "" {
			ref := outcome.GatewayRef
			record.GatewayRef = &ref
		}
		note := s.notification(domain.NotificationSuccess, record)
		if err := s.transition(s.repo.MarkPaymentSucceeded(ctx, id, outcome.GatewayRef, note), id, from, "report_outcome"); err != nil {
			return nil, err
		}
		if err := s.advanceSchedule(ctx, record, now); err != nil {
			log.Printf("level=warn component=engine msg=\"schedule advancement failed\" payment_id=%s err=%v", id, err)
		}
		s.publish(ctx, note, record)
		return record, nil

	case domain.StatusFailed:
		var nextRetryAt *time.Time
		retriesRemain := record.RetriesUsed < record.MaxRetries
		if retriesRemain {
			at := now.Add(s.retryInterval)
			nextRetryAt = &at
		}
		record.Status = domain.StatusFailed
		record.UpdatedAt = now
		record.NextRetryAt = nextRetryAt
		if outcome.Reason != "" {
			reason := outcome.Reason
			record.FailureReason = &reason
		}
		note := s.notification(domain.NotificationFailed, record)
		if err := s.transition(s.repo.MarkPaymentFailed(ctx, id, outcome.Reason, nextRetryAt, note), id, from, "report_outcome"); err != nil {
			return nil, err
		}
		s.publish(ctx, note, record)
		if !retriesRemain {
			return record, &domain.RetryExhaustedError{PaymentID: id, Reference: record.Reference, Retries: record.RetriesUsed}
		}
		return record, nil

	case domain.StatusExpired:
		record.Status = domain.StatusExpired
		record.UpdatedAt = now
		note := s.notification(domain.NotificationExpired, record)
		if err := s.transition(s.repo.MarkPaymentExpired(ctx, id, note), id, from, "report_outcome"); err != nil {
			return nil, err
		}
		s.publish(ctx, note, record)
		return record, nil

	default:
		return nil, fmt.Errorf("unsupported settlement outcome %q", outcome.Status)
	}
}

// transition maps the repository's stale-status guard onto the typed error.
func (s *Service) transition(err error, id uuid.UUID, from domain.PaymentStatus, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrStaleStatus) {
		return &domain.InvalidTransitionError{PaymentID: id, From: from, Operation: op}
	}
	return err
}

// Cancel requests a logical cancellation of an in-flight payment. It is only
// permitted while the record is pending or processing.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	unlock := s.locks.lock(paymentKey(id))
	defer unlock()

	record, err := s.repo.FindPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.Status.IsCancellable() {
		return nil, &domain.InvalidTransitionError{PaymentID: id, From: record.Status, Operation: "cancel"}
	}
	from := record.Status
	record.Status = domain.StatusCancelled
	record.UpdatedAt = s.now().UTC()
	note := s.notification(domain.NotificationCancelled, record)
	if err := s.transition(s.repo.MarkPaymentCancelled(ctx, id, note), id, from, "cancel"); err != nil {
		return nil, err
	}
	s.publish(ctx, note, record)
	return record, nil
}

// Refund applies a refund to a succeeded payment. A nil amount refunds the full
// remaining balance. Refunds are idempotent per refundID, and the aggregate
// refunded amount can never exceed the original payment amount.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, refundID string, amount *string) (*domain.PaymentRecord, error) {
	if strings.TrimSpace(refundID) == "" {
		return nil, &domain.ValidationError{Field: "refundId", Reason: "refund id is required"}
	}

	unlock := s.locks.lock(paymentKey(id))
	defer unlock()

	record, err := s.repo.FindPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Replayed refund ids resolve to the current record without re-applying.
	if _, err := s.repo.FindRefund(ctx, id, refundID); err == nil {
		return record, nil
	} else if !errors.Is(err, store.ErrRefundNotFound) {
		return nil, err
	}

	if !record.Status.IsRefundable() {
		return nil, &domain.InvalidTransitionError{PaymentID: id, From: record.Status, Operation: "refund"}
	}

	remaining := record.RemainingRefundable()
	refundAmount := remaining
	if amount != nil {
		refundAmount, err = rules.ParseAmount(*amount)
		if err != nil || refundAmount <= 0 {
			return nil, &domain.ValidationError{Field: "amount", Reason: "refund amount must be a positive decimal with at most 2 fraction digits"}
		}
	}
	if refundAmount > remaining {
		return nil, &domain.ValidationError{Field: "amount", Reason: fmt.Sprintf("refund exceeds remaining refundable balance of %s", formatMinor(remaining))}
	}

	now := s.now().UTC()
	newStatus := domain.StatusPartiallyRefunded
	if record.RefundedAmount+refundAmount >= record.Amount {
		newStatus = domain.StatusRefunded
	}

	refund := &domain.Refund{
		RefundID:  refundID,
		PaymentID: id,
		Amount:    refundAmount,
		CreatedAt: now,
	}
	from := record.Status
	record.Status = newStatus
	record.RefundedAmount += refundAmount
	record.UpdatedAt = now
	note := s.notification(domain.NotificationRefund, record)
	if err := s.transition(s.repo.ApplyRefund(ctx, refund, newStatus, note), id, from, "refund"); err != nil {
		return nil, err
	}
	s.publish(ctx, note, record)
	return record, nil
}

// NotifyRetry emits the retry notification for a failed payment whose retry
// marker came due, then clears the marker so the sweep fires once per failure.
func (s *Service) NotifyRetry(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.lock(paymentKey(id))
	defer unlock()

	record, err := s.repo.FindPaymentByID(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != domain.StatusFailed || record.NextRetryAt == nil {
		return nil
	}
	note := s.notification(domain.NotificationRetry, record)
	if err := s.repo.ClearPaymentRetry(ctx, id, note); err != nil {
		return err
	}
	s.publish(ctx, note, record)
	return nil
}

// GetPayment retrieves one payment by transaction id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	return s.repo.FindPaymentByID(ctx, id)
}

// ListPayments returns a stable page of payment history.
func (s *Service) ListPayments(ctx context.Context, filters domain.PaymentFilters, page, pageSize int) ([]domain.PaymentRecord, int64, error) {
	return s.repo.ListPayments(ctx, filters, page, pageSize)
}

// ListNotifications returns notification history.
func (s *Service) ListNotifications(ctx context.Context, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	return s.repo.ListNotifications(ctx, opts)
}

// MarkNotificationRead flips one notification's read flag. Re-reading an
// already-read notification is a no-op.
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID uuid.UUID) error {
	return s.repo.MarkNotificationRead(ctx, notificationID)
}

// MarkAllNotificationsRead marks all (optionally per-payment) notifications read.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, paymentID *uuid.UUID) (int64, error) {
	return s.repo.MarkAllNotificationsRead(ctx, paymentID)
}

// CountUnreadNotifications returns the unread badge count.
func (s *Service) CountUnreadNotifications(ctx context.Context) (int64, error) {
	return s.repo.CountUnreadNotifications(ctx)
}

// notification builds the transition's audit notification. The repository
// persists it together with the status change; callers publish it afterwards.
func (s *Service) notification(kind domain.NotificationKind, record *domain.PaymentRecord) domain.Notification {
	item := s.notifier.Emit(kind, record)
	item.CreatedAt = s.now().UTC()
	return item
}

// publish hands a persisted notification to the broker for delivery. Publish
// failures are logged, since delivery is a downstream collaborator's concern.
func (s *Service) publish(ctx context.Context, item domain.Notification, record *domain.PaymentRecord) {
	if s.eventProducer == nil {
		return
	}
	event := domain.NotificationEvent{
		NotificationID: item.ID,
		PaymentID:      record.ID,
		Kind:           item.Kind,
		Title:          item.Title,
		Message:        item.Message,
		Priority:       item.Priority,
		CustomerEmail:  record.CustomerEmail,
		CustomerPhone:  record.CustomerPhone,
		Timestamp:      item.CreatedAt,
	}
	routingKey := "payment.notification." + string(item.Kind)
	if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=engine msg=\"notification publish failed\" payment_id=%s kind=%s err=%v", record.ID, item.Kind, err)
	}
}
