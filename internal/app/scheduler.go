/**
 * @description
 * Cron scheduler setup for the time-driven payment sweeps.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dir-sai/scale-r-pms-sub000/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.ExpirySweepSchedule, s.jobs.ProcessExpiredPayments); err != nil {
		s.logger.Error("failed to schedule payment expiry sweep", "error", err)
	} else {
		s.logger.Info("scheduled payment expiry sweep", "schedule", s.config.ExpirySweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.RecurringDispatchSchedule, s.jobs.ProcessRecurringDispatch); err != nil {
		s.logger.Error("failed to schedule recurring dispatch job", "error", err)
	} else {
		s.logger.Info("scheduled recurring dispatch job", "schedule", s.config.RecurringDispatchSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.RetrySweepSchedule, s.jobs.ProcessRetrySweep); err != nil {
		s.logger.Error("failed to schedule payment retry sweep", "error", err)
	} else {
		s.logger.Info("scheduled payment retry sweep", "schedule", s.config.RetrySweepSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
