/**
 * @description
 * Scheduled job implementations. The lifecycle engine owns no timers of its own;
 * the expiry sweep, recurring dispatch and retry sweep below are the only places
 * time-driven transitions originate.
 */
package app

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
	"github.com/dir-sai/scale-r-pms-sub000/internal/store"
	"github.com/dir-sai/scale-r-pms-sub000/pkg/rabbitmq"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	engine   *Service
	repo     store.Repository
	producer rabbitmq.Publisher
	logger   *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(engine *Service, repo store.Repository, producer rabbitmq.Publisher, logger *slog.Logger) *Jobs {
	return &Jobs{
		engine:   engine,
		repo:     repo,
		producer: producer,
		logger:   logger,
	}
}

// ProcessExpiredPayments moves in-flight QR and USSD payments past their
// settlement window to the expired state.
func (j *Jobs) ProcessExpiredPayments() {
	j.logger.Info("starting payment expiry sweep")
	ctx := context.Background()
	now := time.Now().UTC()

	records, err := j.repo.FindExpiredPayments(ctx, now)
	if err != nil {
		j.logger.Error("failed to find expired payments", "error", err)
		return
	}

	if len(records) == 0 {
		j.logger.Info("no expired payments to process")
		return
	}

	j.logger.Info("found expired payments", "count", len(records))

	for _, record := range records {
		if _, err := j.engine.ReportOutcome(ctx, record.ID, Outcome{Status: domain.StatusExpired}); err != nil {
			// A settlement outcome may have landed between the query and here.
			j.logger.Warn("failed to expire payment", "payment_id", record.ID, "error", err)
			continue
		}
		j.logger.Info("expired payment", "payment_id", record.ID, "reference", record.Reference)
	}

	j.logger.Info("payment expiry sweep finished")
}

// ProcessRecurringDispatch admits the next cycle of every due recurring schedule
// and advances the schedule so it does not fire again before the next due date.
func (j *Jobs) ProcessRecurringDispatch() {
	j.logger.Info("starting recurring dispatch job")
	ctx := context.Background()
	now := time.Now().UTC()

	schedules, err := j.repo.FindDueRecurringSchedules(ctx, now)
	if err != nil {
		j.logger.Error("failed to find due recurring schedules", "error", err)
		return
	}

	if len(schedules) == 0 {
		j.logger.Info("no due recurring schedules")
		return
	}

	j.logger.Info("found due recurring schedules", "count", len(schedules))

	for i := range schedules {
		schedule := &schedules[i]
		j.dispatchCycle(ctx, schedule, now)
	}

	j.logger.Info("recurring dispatch job finished")
}

func (j *Jobs) dispatchCycle(ctx context.Context, schedule *domain.RecurringSchedule, now time.Time) {
	parent, err := j.repo.FindPaymentByID(ctx, schedule.PaymentID)
	if err != nil {
		j.logger.Error("failed to load recurring parent payment", "schedule_id", schedule.ID, "payment_id", schedule.PaymentID, "error", err)
		return
	}

	cycle := schedule.CompletedPayments + 1
	instr := cycleInstruction(parent, cycle)

	child, err := j.engine.Admit(ctx, instr)
	if err != nil {
		j.logger.Error("failed to admit recurring cycle", "schedule_id", schedule.ID, "cycle", cycle, "error", err)
		return
	}

	schedule.CompletedPayments = cycle
	schedule.NextPaymentDate = nextPaymentDate(schedule.Frequency, schedule.CustomIntervalDays, schedule.NextPaymentDate)
	if schedule.TotalPayments > 0 && schedule.CompletedPayments >= schedule.TotalPayments {
		schedule.IsActive = false
	}
	if schedule.EndDate != nil && schedule.NextPaymentDate.After(*schedule.EndDate) {
		schedule.IsActive = false
	}
	if err := j.repo.UpdateRecurringSchedule(ctx, schedule); err != nil {
		j.logger.Error("failed to advance recurring schedule", "schedule_id", schedule.ID, "error", err)
		return
	}

	if j.producer != nil {
		event := domain.RecurringDispatchEvent{
			ParentPaymentID: parent.ID,
			NewPaymentID:    child.ID,
			Cycle:           cycle,
			Timestamp:       now,
		}
		if err := j.producer.Publish(ctx, rabbitmq.EventsExchange, "payment.recurring.dispatched", event); err != nil {
			j.logger.Warn("failed to publish recurring dispatch event", "schedule_id", schedule.ID, "error", err)
		}
	}

	j.logger.Info("dispatched recurring cycle", "schedule_id", schedule.ID, "cycle", cycle, "payment_id", child.ID)
}

// cycleInstruction rebuilds a fresh instruction for the next cycle of a
// recurring payment. The child carries a derived reference and no recurrence
// descriptor; the schedule stays on the parent.
func cycleInstruction(parent *domain.PaymentRecord, cycle int) domain.PaymentInstruction {
	instr := domain.PaymentInstruction{
		Amount:        formatMinor(parent.Amount),
		Currency:      parent.Currency,
		Description:   parent.Description,
		Reference:     cycleReference(parent.Reference, cycle),
		Channel:       parent.Channel,
		MobileMoney:   parent.MobileMoney,
		BankTransfer:  parent.BankTransfer,
		Card:          parent.Card,
		QRCode:        parent.QRCode,
		USSD:          parent.USSD,
		CustomerName:  parent.CustomerName,
		CustomerEmail: parent.CustomerEmail,
		CustomerPhone: parent.CustomerPhone,
	}
	for _, split := range parent.Splits {
		instr.Splits = append(instr.Splits, domain.SplitInstruction{
			RecipientID: split.RecipientID,
			Amount:      formatMinor(split.Amount),
		})
	}
	return instr
}

// cycleReference derives the child reference, trimming the parent part when the
// combination would exceed the reference length limit.
func cycleReference(parentRef string, cycle int) string {
	suffix := "-c" + strconv.Itoa(cycle)
	if len(parentRef)+len(suffix) > 50 {
		parentRef = parentRef[:50-len(suffix)]
	}
	return parentRef + suffix
}

// ProcessRetrySweep fires the retry notification for failed payments whose
// retry interval elapsed, then clears the marker so each failure notifies once.
func (j *Jobs) ProcessRetrySweep() {
	j.logger.Info("starting payment retry sweep")
	ctx := context.Background()
	now := time.Now().UTC()

	records, err := j.repo.FindPaymentsDueForRetry(ctx, now)
	if err != nil {
		j.logger.Error("failed to find payments due for retry", "error", err)
		return
	}

	if len(records) == 0 {
		j.logger.Info("no payments due for retry")
		return
	}

	j.logger.Info("found payments due for retry", "count", len(records))

	for _, record := range records {
		if err := j.engine.NotifyRetry(ctx, record.ID); err != nil {
			j.logger.Error("failed to notify retry", "payment_id", record.ID, "error", err)
			continue
		}
		j.logger.Info("retry notification sent", "payment_id", record.ID, "reference", record.Reference)
	}

	j.logger.Info("payment retry sweep finished")
}
