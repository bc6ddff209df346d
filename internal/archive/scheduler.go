// Package archive runs the periodic cold-storage export of resolved orders
// and inactive alerts.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// DefaultSchedule runs once a day at 03:00 UTC.
const DefaultSchedule = "0 3 * * *"

// Result summarises one archive run.
type Result struct {
	Cutoff         time.Time `json:"cutoff"`
	OrdersArchived int64     `json:"orders_archived"`
	AlertsArchived int64     `json:"alerts_archived"`
}

// Scheduler exports records older than the retention window on a standard
// five-field cron schedule.
type Scheduler struct {
	archiver      domain.Archiver
	retentionDays int
	expr          string
	schedule      cron.Schedule
	clock         clock.Clock
	logger        *slog.Logger
}

// NewScheduler parses the cron expression up front so a bad expression fails at startup.
func NewScheduler(archiver domain.Archiver, expr string, retentionDays int, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if archiver == nil {
		return nil, errors.New("archive: archiver is required")
	}
	if retentionDays <= 0 {
		return nil, fmt.Errorf("archive: retention days must be positive, got %d", retentionDays)
	}
	if expr == "" {
		expr = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("archive: parse schedule %q: %w", expr, err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		archiver:      archiver,
		retentionDays: retentionDays,
		expr:          expr,
		schedule:      schedule,
		clock:         clk,
		logger:        logger.With(slog.String("component", "archive")),
	}, nil
}

// Next returns the first scheduled run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}

// RunOnce archives everything resolved before now minus the retention
// window. Alerts are still attempted when the order export fails.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	res := Result{Cutoff: s.clock.Now().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)}
	s.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("retention_days", s.retentionDays),
	)

	var errs []error
	n, err := s.archiver.ArchiveOrders(ctx, res.Cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("archive: orders before %s: %w", res.Cutoff.Format(time.RFC3339), err))
	}
	res.OrdersArchived = n

	n, err = s.archiver.ArchiveAlerts(ctx, res.Cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("archive: alerts before %s: %w", res.Cutoff.Format(time.RFC3339), err))
	}
	res.AlertsArchived = n

	s.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("orders_archived", res.OrdersArchived),
		slog.Int64("alerts_archived", res.AlertsArchived),
	)
	return res, errors.Join(errs...)
}

// Run blocks until ctx is cancelled, then waits for an in-flight run to
// finish. Overlapping runs are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}))

	s.logger.InfoContext(ctx, "archive scheduler started",
		slog.String("schedule", s.expr),
		slog.Time("next_run", s.Next(s.clock.Now())),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.InfoContext(ctx, "archive scheduler stopped")
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err.Error())...)
}
