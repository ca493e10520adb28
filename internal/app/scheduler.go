/**
 * @description
 * Cron scheduler for the nightly penalty sweep.
 */
package app

import (
	"context"
	"errors"
	"time"

	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/calendar"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultPenaltySchedule fires at 00:01 local time.
const DefaultPenaltySchedule = "1 0 * * *"

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  *Sweeper
	clock    calendar.Clock
	logger   *zap.Logger
	schedule string
	timeout  time.Duration
}

// NewScheduler creates a scheduler firing in loc. A single process never
// overlaps two sweeps; across processes the sweeper's lock takes over.
func NewScheduler(sweeper *Sweeper, clock calendar.Clock, loc *time.Location, schedule string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultPenaltySchedule
	}
	if loc == nil {
		loc = time.Local
	}
	cronLogger := NewCronLogger(logger.Named("cron"))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		clock:    clock,
		logger:   logger.Named("scheduler"),
		schedule: schedule,
		timeout:  time.Hour,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunPenaltySweep); err != nil {
		s.logger.Error("failed to schedule penalty sweep job", zap.String("schedule", s.schedule), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled penalty sweep job", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler. The returned context is done once
// a running sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunPenaltySweep is the cron job body.
func (s *Scheduler) RunPenaltySweep() {
	s.logger.Info("starting penalty sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.sweeper.Run(ctx, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Info("penalty sweep skipped; already running elsewhere")
			return
		}
		s.logger.Error("penalty sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("penalty sweep job finished",
		zap.Stringer("target_date", summary.TargetDate),
		zap.Int("penalized", summary.Penalized),
		zap.Int("failed", summary.Failed),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func NewCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{sugar: logger.Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
