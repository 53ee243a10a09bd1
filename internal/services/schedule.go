package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/soochol/deinline/internal/deinline"
)

// parseCronExpr tries 6-field (with seconds) then 5-field (standard) parsing.
// Descriptors such as "@hourly" and "@every 10m" are accepted by both.
// If timezone is non-empty and non-UTC, it is applied via the CRON_TZ= prefix.
func parseCronExpr(expr string, timezone string) (cron.Schedule, error) {
	if timezone != "" && timezone != "UTC" {
		expr = "CRON_TZ=" + timezone + " " + expr
	}
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser5.Parse(expr)
}

// BatchDone receives the outcome of one scheduled batch.
type BatchDone func(records []*deinline.RunRecord, err error)

// RunScheduled runs jobs as a batch on every tick of the cron expression expr
// until ctx is cancelled. A tick that arrives while the previous batch is
// still running is skipped. A failed batch does not stop the schedule.
func (s *ExtractionService) RunScheduled(ctx context.Context, expr, timezone string, jobs []deinline.Job, concurrency int, done BatchDone) error {
	sched, err := parseCronExpr(expr, timezone)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	if err := checkDistinct(jobs); err != nil {
		return err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		records, err := s.RunBatch(ctx, jobs, concurrency)
		if err != nil && ctx.Err() == nil {
			slog.Error("scheduled batch failed", "err", err)
		}
		if done != nil {
			done(records, err)
		}
	}))

	slog.Info("scheduler: registered batch", "cron", expr, "jobs", len(jobs))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("scheduler: stopped")
	return nil
}
