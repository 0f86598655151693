package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
	"github.com/dir-sai/scale-r-pms-sub000/internal/rules"
	"github.com/dir-sai/scale-r-pms-sub000/internal/store"
)

// engineRepoStub is an in-memory Repository for engine tests. It mirrors the
// conditional-transition contract of the Postgres implementation, including
// ErrStaleStatus on illegal transitions.
type engineRepoStub struct {
	store.Repository

	payments      map[uuid.UUID]*domain.PaymentRecord
	latestByRef   map[string]uuid.UUID
	refunds       map[string]*domain.Refund
	notifications []domain.Notification
	schedules     map[uuid.UUID]*domain.RecurringSchedule

	transitionErr error // injected store failure for transition methods
}

func newEngineRepoStub() *engineRepoStub {
	return &engineRepoStub{
		payments:    make(map[uuid.UUID]*domain.PaymentRecord),
		latestByRef: make(map[string]uuid.UUID),
		refunds:     make(map[string]*domain.Refund),
		schedules:   make(map[uuid.UUID]*domain.RecurringSchedule),
	}
}

func refKey(channel domain.Channel, reference string) string {
	return string(channel) + "/" + reference
}

func (s *engineRepoStub) CreatePayment(ctx context.Context, record *domain.PaymentRecord, note domain.Notification) error {
	copied := *record
	s.payments[record.ID] = &copied
	s.latestByRef[refKey(record.Channel, record.Reference)] = record.ID
	if record.Schedule != nil {
		sched := *record.Schedule
		s.schedules[sched.ID] = &sched
	}
	s.notifications = append(s.notifications, note)
	return nil
}

func (s *engineRepoStub) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	record, ok := s.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *engineRepoStub) FindLatestPaymentByReference(ctx context.Context, channel domain.Channel, reference string) (*domain.PaymentRecord, error) {
	id, ok := s.latestByRef[refKey(channel, reference)]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return s.FindPaymentByID(ctx, id)
}

// transition mimics the conditional update plus same-transaction notification
// insert: a rejected or failed transition persists nothing.
func (s *engineRepoStub) transition(id uuid.UUID, note *domain.Notification, allowed []domain.PaymentStatus, apply func(*domain.PaymentRecord)) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	record, ok := s.payments[id]
	if !ok {
		return store.ErrPaymentNotFound
	}
	for _, from := range allowed {
		if record.Status == from {
			apply(record)
			if note != nil {
				s.notifications = append(s.notifications, *note)
			}
			return nil
		}
	}
	return store.ErrStaleStatus
}

func (s *engineRepoStub) MarkPaymentProcessing(ctx context.Context, id uuid.UUID) error {
	return s.transition(id, nil, []domain.PaymentStatus{domain.StatusPending}, func(r *domain.PaymentRecord) {
		r.Status = domain.StatusProcessing
	})
}

func (s *engineRepoStub) MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, gatewayRef string, note domain.Notification) error {
	return s.transition(id, &note, []domain.PaymentStatus{domain.StatusPending, domain.StatusProcessing}, func(r *domain.PaymentRecord) {
		r.Status = domain.StatusSucceeded
		if gatewayRef != "" {
			ref := gatewayRef
			r.GatewayRef = &ref
		}
	})
}

func (s *engineRepoStub) MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string, nextRetryAt *time.Time, note domain.Notification) error {
	return s.transition(id, &note, []domain.PaymentStatus{domain.StatusPending, domain.StatusProcessing}, func(r *domain.PaymentRecord) {
		r.Status = domain.StatusFailed
		if reason != "" {
			failure := reason
			r.FailureReason = &failure
		}
		r.NextRetryAt = nextRetryAt
	})
}

func (s *engineRepoStub) MarkPaymentCancelled(ctx context.Context, id uuid.UUID, note domain.Notification) error {
	return s.transition(id, &note, []domain.PaymentStatus{domain.StatusPending, domain.StatusProcessing}, func(r *domain.PaymentRecord) {
		r.Status = domain.StatusCancelled
	})
}

func (s *engineRepoStub) MarkPaymentExpired(ctx context.Context, id uuid.UUID, note domain.Notification) error {
	return s.transition(id, &note, []domain.PaymentStatus{domain.StatusPending, domain.StatusProcessing}, func(r *domain.PaymentRecord) {
		r.Status = domain.StatusExpired
	})
}

func (s *engineRepoStub) ClearPaymentRetry(ctx context.Context, id uuid.UUID, note domain.Notification) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	record, ok := s.payments[id]
	if !ok {
		return store.ErrPaymentNotFound
	}
	record.NextRetryAt = nil
	s.notifications = append(s.notifications, note)
	return nil
}

func (s *engineRepoStub) FindRefund(ctx context.Context, paymentID uuid.UUID, refundID string) (*domain.Refund, error) {
	refund, ok := s.refunds[paymentID.String()+"/"+refundID]
	if !ok {
		return nil, store.ErrRefundNotFound
	}
	return refund, nil
}

func (s *engineRepoStub) ApplyRefund(ctx context.Context, refund *domain.Refund, newStatus domain.PaymentStatus, note domain.Notification) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	record, ok := s.payments[refund.PaymentID]
	if !ok {
		return store.ErrPaymentNotFound
	}
	if !record.Status.IsRefundable() {
		return store.ErrStaleStatus
	}
	copied := *refund
	s.refunds[refund.PaymentID.String()+"/"+refund.RefundID] = &copied
	record.RefundedAmount += refund.Amount
	record.Status = newStatus
	s.notifications = append(s.notifications, note)
	return nil
}

func (s *engineRepoStub) UpdateRecurringSchedule(ctx context.Context, schedule *domain.RecurringSchedule) error {
	copied := *schedule
	s.schedules[schedule.ID] = &copied
	return nil
}

func (s *engineRepoStub) MarkNotificationRead(ctx context.Context, notificationID uuid.UUID) error {
	for i := range s.notifications {
		if s.notifications[i].ID == notificationID {
			s.notifications[i].Read = true
			return nil
		}
	}
	return store.ErrNotificationNotFound
}

// ListPayments pages records in the same (created_at, id) order the Postgres
// implementation uses, with uuids compared bytewise.
func (s *engineRepoStub) ListPayments(ctx context.Context, filters domain.PaymentFilters, page, pageSize int) ([]domain.PaymentRecord, int64, error) {
	matched := make([]domain.PaymentRecord, 0, len(s.payments))
	for _, record := range s.payments {
		if filters.Status != nil && record.Status != *filters.Status {
			continue
		}
		if filters.Channel != nil && record.Channel != *filters.Channel {
			continue
		}
		if filters.From != nil && record.CreatedAt.Before(*filters.From) {
			continue
		}
		if filters.To != nil && record.CreatedAt.After(*filters.To) {
			continue
		}
		matched = append(matched, *record)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return bytes.Compare(matched[i].ID[:], matched[j].ID[:]) < 0
	})

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []domain.PaymentRecord{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *engineRepoStub) notificationKinds() []domain.NotificationKind {
	kinds := make([]domain.NotificationKind, 0, len(s.notifications))
	for _, n := range s.notifications {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// publisherStub records published events.
type publisherStub struct {
	routingKeys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func newTestService(repo *engineRepoStub) (*Service, *publisherStub) {
	producer := &publisherStub{}
	svc := NewService(repo, rules.NewDefaultRuleset(), NewNotifier(), producer, 2, 5*time.Minute)
	return svc, producer
}

func momoInstruction(reference string) domain.PaymentInstruction {
	return domain.PaymentInstruction{
		Amount:      "50.00",
		Currency:    "GHS",
		Description: "August rent",
		Reference:   reference,
		Channel:     domain.ChannelMobileMoney,
		MobileMoney: &domain.MobileMoneyDetails{
			Network:     "mtn",
			PhoneNumber: "0241234567",
			AccountName: "Ama Mensah",
		},
		CustomerPhone: "0241234567",
	}
}

func TestAdmit_CreatesPendingRecordAndEmitsInitiated(t *testing.T) {
	repo := newEngineRepoStub()
	svc, producer := newTestService(repo)

	record, err := svc.Admit(context.Background(), momoInstruction("RENT-2026-001"))
	if err != nil {
		t.Fatalf("expected admission to succeed, got %v", err)
	}
	if record.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %s", record.Status)
	}
	if record.Amount != 5000 {
		t.Fatalf("expected 5000 pesewas, got %d", record.Amount)
	}
	if record.ID == uuid.Nil {
		t.Fatal("expected a transaction id to be assigned")
	}
	if len(repo.notifications) != 1 || repo.notifications[0].Kind != domain.NotificationInitiated {
		t.Fatalf("expected one initiated notification, got %v", repo.notificationKinds())
	}
	if len(producer.routingKeys) != 1 || producer.routingKeys[0] != "payment.notification.initiated" {
		t.Fatalf("expected initiated event publish, got %v", producer.routingKeys)
	}
}

func TestAdmit_RejectsInvalidInstructionWithoutPersisting(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)

	instr := momoInstruction("RENT-2026-002")
	instr.Amount = "0"

	_, err := svc.Admit(context.Background(), instr)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(repo.payments) != 0 {
		t.Fatal("expected no record to be created for an invalid instruction")
	}
	if len(repo.notifications) != 0 {
		t.Fatal("expected no notification for a rejected instruction")
	}
}

func TestAdmit_IdenticalReplayReturnsExistingRecord(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)

	first, err := svc.Admit(context.Background(), momoInstruction("RENT-2026-003"))
	if err != nil {
		t.Fatalf("first admission failed: %v", err)
	}
	second, err := svc.Admit(context.Background(), momoInstruction("RENT-2026-003"))
	if err != nil {
		t.Fatalf("replay admission failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected replay to resolve to the original record, got %s and %s", first.ID, second.ID)
	}
	if len(repo.payments) != 1 {
		t.Fatalf("expected a single record, got %d", len(repo.payments))
	}
	if len(repo.notifications) != 1 {
		t.Fatalf("expected a single initiated notification, got %v", repo.notificationKinds())
	}
}

func TestAdmit_ReferenceReuseWithDifferentPayloadIsRejected(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)

	if _, err := svc.Admit(context.Background(), momoInstruction("RENT-2026-004")); err != nil {
		t.Fatalf("first admission failed: %v", err)
	}

	altered := momoInstruction("RENT-2026-004")
	altered.Amount = "75.00"

	_, err := svc.Admit(context.Background(), altered)
	var dupErr *domain.DuplicateReferenceError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateReferenceError, got %v", err)
	}
	if dupErr.Reference != "RENT-2026-004" {
		t.Fatalf("expected reference in error, got %q", dupErr.Reference)
	}
}

func TestAdmit_FailedPaymentRetriesWithFreshRecord(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Admit(ctx, momoInstruction("RENT-2026-005"))
	if err != nil {
		t.Fatalf("first admission failed: %v", err)
	}
	if _, err := svc.ReportOutcome(ctx, first.ID, Outcome{Status: domain.StatusFailed, Reason: "insufficient balance"}); err != nil {
		t.Fatalf("failure outcome failed: %v", err)
	}

	retry, err := svc.Admit(ctx, momoInstruction("RENT-2026-005"))
	if err != nil {
		t.Fatalf("retry admission failed: %v", err)
	}
	if retry.ID == first.ID {
		t.Fatal("expected a fresh record for the retry")
	}
	if retry.RetriesUsed != 1 {
		t.Fatalf("expected retry counter of 1, got %d", retry.RetriesUsed)
	}
	if retry.Status != domain.StatusPending {
		t.Fatalf("expected pending retry record, got %s", retry.Status)
	}

	// The failed record itself stays failed.
	original, err := repo.FindPaymentByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if original.Status != domain.StatusFailed {
		t.Fatalf("expected original record to remain failed, got %s", original.Status)
	}
}

func TestAdmit_RetryBudgetExhausted(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	reference := "RENT-2026-006"
	record, err := svc.Admit(ctx, momoInstruction(reference))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}

	// Burn through the retry budget of 2.
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusFailed, Reason: "declined"}); err != nil {
			t.Fatalf("failure outcome %d failed: %v", attempt, err)
		}
		record, err = svc.Admit(ctx, momoInstruction(reference))
		if err != nil {
			t.Fatalf("retry admission %d failed: %v", attempt, err)
		}
	}
	if record.RetriesUsed != 2 {
		t.Fatalf("expected retries used of 2, got %d", record.RetriesUsed)
	}

	// Final failure exhausts the budget.
	_, err = svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusFailed, Reason: "declined"})
	var exhausted *domain.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError from final failure, got %v", err)
	}

	_, err = svc.Admit(ctx, momoInstruction(reference))
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError on re-admission, got %v", err)
	}
}

func TestReportOutcome_SucceededEmitsSuccess(t *testing.T) {
	repo := newEngineRepoStub()
	svc, producer := newTestService(repo)
	ctx := context.Background()

	record, err := svc.Admit(ctx, momoInstruction("RENT-2026-007"))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}

	updated, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusSucceeded, GatewayRef: "gw-123"})
	if err != nil {
		t.Fatalf("success outcome failed: %v", err)
	}
	if updated.Status != domain.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", updated.Status)
	}
	if updated.GatewayRef == nil || *updated.GatewayRef != "gw-123" {
		t.Fatal("expected gateway reference to be recorded")
	}

	kinds := repo.notificationKinds()
	if len(kinds) != 2 || kinds[1] != domain.NotificationSuccess {
		t.Fatalf("expected initiated then success notifications, got %v", kinds)
	}
	if producer.routingKeys[len(producer.routingKeys)-1] != "payment.notification.success" {
		t.Fatalf("expected success event publish, got %v", producer.routingKeys)
	}
}

func TestReportOutcome_ProcessingEmitsNoNotification(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	record, err := svc.Admit(ctx, momoInstruction("RENT-2026-008"))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}

	updated, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusProcessing})
	if err != nil {
		t.Fatalf("processing outcome failed: %v", err)
	}
	if updated.Status != domain.StatusProcessing {
		t.Fatalf("expected processing, got %s", updated.Status)
	}
	if len(repo.notifications) != 1 {
		t.Fatalf("expected only the initiated notification, got %v", repo.notificationKinds())
	}

	// A duplicate processing ack is a no-op.
	if _, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusProcessing}); err != nil {
		t.Fatalf("duplicate processing ack failed: %v", err)
	}
}

func TestReportOutcome_TerminalStatesAcceptNoFurtherOutcomes(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	record, err := svc.Admit(ctx, momoInstruction("RENT-2026-009"))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	if _, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusSucceeded}); err != nil {
		t.Fatalf("success outcome failed: %v", err)
	}

	_, err = svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusFailed, Reason: "late failure"})
	var transitionErr *domain.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if transitionErr.From != domain.StatusSucceeded {
		t.Fatalf("expected error to carry the succeeded state, got %s", transitionErr.From)
	}

	final, _ := repo.FindPaymentByID(ctx, record.ID)
	if final.Status != domain.StatusSucceeded {
		t.Fatalf("expected record to remain succeeded, got %s", final.Status)
	}
}

func TestReportOutcome_UnknownPaymentIsNotFound(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)

	_, err := svc.ReportOutcome(context.Background(), uuid.New(), Outcome{Status: domain.StatusSucceeded})
	if !errors.Is(err, store.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
	var transitionErr *domain.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		t.Fatal("not-found must stay distinct from an invalid transition")
	}
}

func TestReportOutcome_FailureWithRetriesRemainingSetsRetryMarker(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	record, err := svc.Admit(ctx, momoInstruction("RENT-2026-010"))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}

	updated, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusFailed, Reason: "network timeout"})
	if err != nil {
		t.Fatalf("failure outcome failed: %v", err)
	}
	if updated.NextRetryAt == nil {
		t.Fatal("expected a retry marker while retries remain")
	}
	if updated.FailureReason == nil || *updated.FailureReason != "network timeout" {
		t.Fatal("expected the failure reason to be recorded")
	}
	kinds := repo.notificationKinds()
	if kinds[len(kinds)-1] != domain.NotificationFailed {
		t.Fatalf("expected failed notification, got %v", kinds)
	}
}

func TestCancel_OnlyInFlightPaymentsCancellable(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	record, err := svc.Admit(ctx, momoInstruction("RENT-2026-011"))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, record.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	kinds := repo.notificationKinds()
	if kinds[len(kinds)-1] != domain.NotificationCancelled {
		t.Fatalf("expected cancelled notification, got %v", kinds)
	}

	// A settled payment cannot be cancelled.
	settled, err := svc.Admit(ctx, momoInstruction("RENT-2026-012"))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	if _, err := svc.ReportOutcome(ctx, settled.ID, Outcome{Status: domain.StatusSucceeded}); err != nil {
		t.Fatalf("success outcome failed: %v", err)
	}
	_, err = svc.Cancel(ctx, settled.ID)
	var transitionErr *domain.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError cancelling a succeeded payment, got %v", err)
	}
}

func TestNotifyRetry_EmitsOncePerFailure(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	record, err := svc.Admit(ctx, momoInstruction("RENT-2026-013"))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	if _, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusFailed, Reason: "declined"}); err != nil {
		t.Fatalf("failure outcome failed: %v", err)
	}

	if err := svc.NotifyRetry(ctx, record.ID); err != nil {
		t.Fatalf("retry notification failed: %v", err)
	}
	kinds := repo.notificationKinds()
	if kinds[len(kinds)-1] != domain.NotificationRetry {
		t.Fatalf("expected retry notification, got %v", kinds)
	}
	retryCount := len(repo.notifications)

	// The marker is cleared, so a second sweep pass is a no-op.
	if err := svc.NotifyRetry(ctx, record.ID); err != nil {
		t.Fatalf("second retry notification failed: %v", err)
	}
	if len(repo.notifications) != retryCount {
		t.Fatalf("expected no further notifications, got %v", repo.notificationKinds())
	}
}

func TestAdmit_QRPaymentGetsSettlementWindow(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)

	instr := domain.PaymentInstruction{
		Amount:      "120.00",
		Currency:    "GHS",
		Description: "Storefront purchase",
		Reference:   "QR-2026-000001",
		Channel:     domain.ChannelQRCode,
		QRCode: &domain.QRCodeDetails{
			MerchantID: "MERCH001",
			ExpiresIn:  300,
		},
	}

	before := time.Now().UTC()
	record, err := svc.Admit(context.Background(), instr)
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	if record.ExpiresAt == nil {
		t.Fatal("expected an expiry window for a QR payment")
	}
	lower := before.Add(299 * time.Second)
	upper := time.Now().UTC().Add(301 * time.Second)
	if record.ExpiresAt.Before(lower) || record.ExpiresAt.After(upper) {
		t.Fatalf("expiry %s outside expected window [%s, %s]", record.ExpiresAt, lower, upper)
	}
}

func TestAdmit_RecurringInstructionCreatesSchedule(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)

	instr := momoInstruction("RENT-2026-014")
	instr.Recurrence = &domain.RecurrenceRequest{
		Frequency:     domain.FrequencyMonthly,
		TotalPayments: 12,
	}

	record, err := svc.Admit(context.Background(), instr)
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	if record.Schedule == nil {
		t.Fatal("expected a recurring schedule on the record")
	}
	if !record.Schedule.IsActive {
		t.Fatal("expected a freshly created schedule to be active")
	}
	if record.Schedule.TotalPayments != 12 {
		t.Fatalf("expected 12 total payments, got %d", record.Schedule.TotalPayments)
	}
	if len(repo.schedules) != 1 {
		t.Fatalf("expected the schedule to be persisted, got %d", len(repo.schedules))
	}
}

func TestReportOutcome_SuccessAdvancesRecurringSchedule(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	instr := momoInstruction("RENT-2026-015")
	instr.Recurrence = &domain.RecurrenceRequest{
		Frequency:     domain.FrequencyMonthly,
		TotalPayments: 2,
	}
	record, err := svc.Admit(ctx, instr)
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	firstDue := record.Schedule.NextPaymentDate

	if _, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusSucceeded}); err != nil {
		t.Fatalf("success outcome failed: %v", err)
	}

	stored, ok := repo.schedules[record.Schedule.ID]
	if !ok {
		t.Fatal("expected the schedule to be persisted")
	}
	if stored.CompletedPayments != 1 {
		t.Fatalf("expected one completed cycle, got %d", stored.CompletedPayments)
	}
	if !stored.NextPaymentDate.After(firstDue) {
		t.Fatalf("expected the due date to advance past %s, got %s", firstDue, stored.NextPaymentDate)
	}
	if !stored.IsActive {
		t.Fatal("expected the schedule to remain active with one cycle left")
	}
}

func TestReportOutcome_FailureDoesNotAdvanceSchedule(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	instr := momoInstruction("RENT-2026-016")
	instr.Recurrence = &domain.RecurrenceRequest{Frequency: domain.FrequencyWeekly}
	record, err := svc.Admit(ctx, instr)
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}

	if _, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusFailed, Reason: "declined"}); err != nil {
		t.Fatalf("failure outcome failed: %v", err)
	}

	stored := repo.schedules[record.Schedule.ID]
	if stored.CompletedPayments != 0 {
		t.Fatalf("expected no completed cycles after a failure, got %d", stored.CompletedPayments)
	}
}

func TestAdmit_SplitsConvertedToMinorUnits(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)

	instr := momoInstruction("RENT-2026-017")
	instr.Amount = "100.00"
	instr.Splits = []domain.SplitInstruction{
		{RecipientID: "landlord", Amount: "80.00"},
		{RecipientID: "agency", Amount: "20.00"},
	}

	record, err := svc.Admit(context.Background(), instr)
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	if len(record.Splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(record.Splits))
	}
	var sum int64
	for _, split := range record.Splits {
		sum += split.Amount
	}
	if sum != record.Amount {
		t.Fatalf("expected splits to sum to %d, got %d", record.Amount, sum)
	}
}

func TestAdmit_ConcurrentSameReferenceYieldsOneRecord(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	const workers = 8
	results := make(chan uuid.UUID, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			record, err := svc.Admit(ctx, momoInstruction("RENT-2026-018"))
			if err != nil {
				errs <- err
				return
			}
			results <- record.ID
		}()
	}

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < workers; i++ {
		select {
		case id := <-results:
			seen[id] = true
		case err := <-errs:
			t.Fatalf("concurrent admission failed: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for concurrent admissions")
		}
	}
	if len(seen) != 1 {
		t.Fatalf("expected all admissions to resolve to one record, got %d", len(seen))
	}
	if len(repo.payments) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(repo.payments))
	}
}

func TestListPayments_PagesNeverDuplicateOrSkip(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	// A fixed clock gives every record the same created_at, so paging order
	// falls through to the id tiebreaker.
	fixed := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	const records = 7
	for i := 0; i < records; i++ {
		if _, err := svc.Admit(ctx, momoInstruction(fmt.Sprintf("PAGE-2026-%06d", i))); err != nil {
			t.Fatalf("admission %d failed: %v", i, err)
		}
	}

	const pageSize = 3
	seen := make(map[uuid.UUID]bool)
	var firstPage []uuid.UUID
	for page := 1; ; page++ {
		items, total, err := svc.ListPayments(ctx, domain.PaymentFilters{}, page, pageSize)
		if err != nil {
			t.Fatalf("page %d failed: %v", page, err)
		}
		if total != records {
			t.Fatalf("expected total of %d, got %d", records, total)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			if seen[item.ID] {
				t.Fatalf("record %s appeared on more than one page", item.ID)
			}
			seen[item.ID] = true
			if page == 1 {
				firstPage = append(firstPage, item.ID)
			}
		}
	}
	if len(seen) != records {
		t.Fatalf("expected the walk to cover all %d records, got %d", records, len(seen))
	}

	// Re-reading a page yields the same records in the same order.
	again, _, err := svc.ListPayments(ctx, domain.PaymentFilters{}, 1, pageSize)
	if err != nil {
		t.Fatalf("re-read of page 1 failed: %v", err)
	}
	if len(again) != len(firstPage) {
		t.Fatalf("expected %d records on the re-read page, got %d", len(firstPage), len(again))
	}
	for i, item := range again {
		if item.ID != firstPage[i] {
			t.Fatalf("page 1 order changed between reads at position %d", i)
		}
	}
}

func TestReportOutcome_TransitionFailurePersistsNoNotification(t *testing.T) {
	repo := newEngineRepoStub()
	svc, producer := newTestService(repo)
	ctx := context.Background()

	record, err := svc.Admit(ctx, momoInstruction("RENT-2026-020"))
	if err != nil {
		t.Fatalf("admission failed: %v", err)
	}

	repo.transitionErr = errors.New("connection reset by peer")
	if _, err := svc.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusSucceeded}); err == nil {
		t.Fatal("expected the store failure to surface")
	}

	// The transition never became durable, so neither may its notification.
	if kinds := repo.notificationKinds(); len(kinds) != 1 || kinds[0] != domain.NotificationInitiated {
		t.Fatalf("expected only the initiated notification, got %v", kinds)
	}
	if len(producer.routingKeys) != 1 {
		t.Fatalf("expected no publish for the failed transition, got %v", producer.routingKeys)
	}
}

func TestMarkNotificationRead_IdempotentPerNotification(t *testing.T) {
	repo := newEngineRepoStub()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Admit(ctx, momoInstruction("RENT-2026-021")); err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	noteID := repo.notifications[0].ID

	if err := svc.MarkNotificationRead(ctx, noteID); err != nil {
		t.Fatalf("first read mark failed: %v", err)
	}
	if err := svc.MarkNotificationRead(ctx, noteID); err != nil {
		t.Fatalf("expected re-reading an already-read notification to be a no-op, got %v", err)
	}
	if !repo.notifications[0].Read {
		t.Fatal("expected the notification to be marked read")
	}

	if err := svc.MarkNotificationRead(ctx, uuid.New()); !errors.Is(err, store.ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound for an unknown id, got %v", err)
	}
}

func TestPayloadHash_StableAcrossIdenticalInstructions(t *testing.T) {
	a := payloadHash(momoInstruction("RENT-2026-019"))
	b := payloadHash(momoInstruction("RENT-2026-019"))
	if a != b {
		t.Fatal("expected identical instructions to hash identically")
	}

	altered := momoInstruction("RENT-2026-019")
	altered.Description = fmt.Sprintf("%s updated", altered.Description)
	if payloadHash(altered) == a {
		t.Fatal("expected differing payloads to hash differently")
	}
}
