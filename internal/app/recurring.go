/**
 * @description
 * Recurring schedule advancement for the lifecycle engine. Advancing a schedule
 * increments the completed counter, moves the next due date one interval forward
 * and deactivates the schedule once the configured total is reached or the end
 * date is passed. The dispatch job advances at admission of each cycle; the
 * owning payment's own settlement success advances the first cycle here.
 * Paused schedules (pause_until in the future) neither advance nor dispatch.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
)

// nextPaymentDate computes the due date one interval after from.
func nextPaymentDate(frequency domain.Frequency, customIntervalDays int, from time.Time) time.Time {
	switch frequency {
	case domain.FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case domain.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case domain.FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case domain.FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	case domain.FrequencyYearly:
		return from.AddDate(1, 0, 0)
	case domain.FrequencyCustom:
		days := customIntervalDays
		if days <= 0 {
			days = 1
		}
		return from.AddDate(0, 0, days)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// advanceSchedule applies one successful cycle to the record's schedule, if it
// carries an active, unpaused one, and persists the result.
func (s *Service) advanceSchedule(ctx context.Context, record *domain.PaymentRecord, now time.Time) error {
	schedule := record.Schedule
	if schedule == nil || !schedule.IsActive {
		return nil
	}
	if schedule.IsPaused(now) {
		return nil
	}

	schedule.CompletedPayments++
	schedule.NextPaymentDate = nextPaymentDate(schedule.Frequency, schedule.CustomIntervalDays, schedule.NextPaymentDate)

	if schedule.TotalPayments > 0 && schedule.CompletedPayments >= schedule.TotalPayments {
		schedule.IsActive = false
	}
	if schedule.EndDate != nil && schedule.NextPaymentDate.After(*schedule.EndDate) {
		schedule.IsActive = false
	}

	if err := s.repo.UpdateRecurringSchedule(ctx, schedule); err != nil {
		return fmt.Errorf("advance recurring schedule %s: %w", schedule.ID, err)
	}
	return nil
}
