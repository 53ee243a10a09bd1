package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soochol/deinline/internal/audit"
	"github.com/soochol/deinline/internal/deinline"
	"github.com/soochol/deinline/internal/extract"
	"github.com/soochol/deinline/internal/repository"
	"github.com/soochol/deinline/internal/storage"
)

// Options control how a single document is rewritten.
type Options struct {
	Policy deinline.ReplacePolicy
	Keep   *extract.KeepFilter
	RunID  string // generated when empty
}

// ExtractionService runs extraction jobs and records their outcome.
type ExtractionService struct {
	defaults Options
	runs     repository.RunRepository
}

// NewExtractionService creates a service using opts for every job. runs may
// be nil when no run history is kept.
func NewExtractionService(opts Options, runs repository.RunRepository) *ExtractionService {
	if opts.Policy == "" {
		opts.Policy = deinline.ReplaceLast
	}
	return &ExtractionService{defaults: opts, runs: runs}
}

// Defaults returns the options used by RunJob.
func (s *ExtractionService) Defaults() Options { return s.defaults }

// RunJob reads job.Input, extracts its images into job.AssetsDir and writes
// the rewritten document to job.Output. Decode failures are recorded on the
// returned record; I/O failures are returned as errors and leave any images
// already written in place.
func (s *ExtractionService) RunJob(ctx context.Context, job deinline.Job) (*deinline.RunRecord, error) {
	rec := s.startRun(ctx, job, s.defaults.Policy, "")

	data, err := os.ReadFile(job.Input)
	if err != nil {
		return s.fail(ctx, rec, fmt.Errorf("read input: %w", err))
	}

	store, err := storage.NewLocalStorage(job.AssetsDir)
	if err != nil {
		return s.fail(ctx, rec, err)
	}

	res, err := s.process(ctx, store, job.Prefix(), string(data), s.defaults, rec)
	if err != nil {
		return s.fail(ctx, rec, err)
	}

	if err := os.WriteFile(job.Output, []byte(res.Document), 0644); err != nil {
		return s.fail(ctx, rec, fmt.Errorf("write output: %w", err))
	}

	s.finish(ctx, rec, nil)
	slog.Info("job completed", "job", job.Label(), "run", rec.ID,
		"images", len(rec.Images), "failures", len(rec.Failures), "kept", len(rec.Kept))
	return rec, nil
}

// Process extracts images from doc into store without touching any input or
// output file, returning the finished record and the rewritten document.
func (s *ExtractionService) Process(ctx context.Context, store storage.Storage, job deinline.Job, doc string, opts Options) (*deinline.RunRecord, string, error) {
	if opts.Policy == "" {
		opts.Policy = s.defaults.Policy
	}
	rec := s.startRun(ctx, job, opts.Policy, opts.RunID)
	res, err := s.process(ctx, store, job.Prefix(), doc, opts, rec)
	if err != nil {
		rec, err = s.fail(ctx, rec, err)
		return rec, "", err
	}
	s.finish(ctx, rec, nil)
	return rec, res.Document, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// RunBatch runs jobs concurrently, at most concurrency at a time. Records are
// returned in job order; entries for jobs that never started are nil. The
// first fatal job error cancels the remaining jobs and is returned.
func (s *ExtractionService) RunBatch(ctx context.Context, jobs []deinline.Job, concurrency int) ([]*deinline.RunRecord, error) {
	if err := checkDistinct(jobs); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	records := make([]*deinline.RunRecord, len(jobs))
	logFn := extract.LogFuncFrom(ctx)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			jobCtx := gCtx
			if logFn != nil {
				label := job.Label()
				jobCtx = extract.WithLogFunc(gCtx, func(msg string) { logFn(label + ": " + msg) })
			}
			rec, err := s.RunJob(jobCtx, job)
			records[i] = rec
			if err != nil {
				return fmt.Errorf("job %s: %w", job.Label(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	return records, err
}

func (s *ExtractionService) process(ctx context.Context, store storage.Storage, prefix, doc string, opts Options, rec *deinline.RunRecord) (*extract.Result, error) {
	ex := &extract.Extractor{
		Store:  store,
		Prefix: prefix,
		Policy: opts.Policy,
		Keep:   opts.Keep,
	}
	res, err := ex.Run(ctx, doc)
	if err != nil {
		return nil, err
	}

	rec.Matches = res.Matches
	rec.Images = res.Images
	rec.Failures = res.Failures
	rec.Kept = res.Kept

	report, err := audit.Inspect(res.Document, prefix, func(name string) bool {
		return store.Exists(ctx, name)
	})
	if err != nil {
		slog.Warn("audit skipped", "run", rec.ID, "err", err)
	} else {
		rec.Audit = report
	}
	return res, nil
}

func (s *ExtractionService) startRun(ctx context.Context, job deinline.Job, policy deinline.ReplacePolicy, id string) *deinline.RunRecord {
	if id == "" {
		id = NewRunID()
	}
	rec := &deinline.RunRecord{
		ID:        id,
		Job:       job,
		Policy:    policy,
		Status:    deinline.RunStatusRunning,
		Images:    []deinline.Image{},
		CreatedAt: time.Now(),
	}
	if s.runs != nil {
		snapshot := *rec
		if err := s.runs.Create(ctx, &snapshot); err != nil {
			slog.Warn("record run", "run", rec.ID, "err", err)
		}
	}
	return rec
}

func (s *ExtractionService) finish(ctx context.Context, rec *deinline.RunRecord, err error) {
	rec.Finish(err)
	if s.runs != nil {
		final := *rec
		if uerr := s.runs.Update(ctx, &final); uerr != nil {
			slog.Warn("update run", "run", rec.ID, "err", uerr)
		}
	}
}

func (s *ExtractionService) fail(ctx context.Context, rec *deinline.RunRecord, err error) (*deinline.RunRecord, error) {
	s.finish(context.WithoutCancel(ctx), rec, err)
	return rec, err
}

// CleanupOrphanedRuns marks runs left "running" by a previous process as
// failed. Called once at server startup; a no-op for memory-only history.
func (s *ExtractionService) CleanupOrphanedRuns(ctx context.Context) {
	type orphanCleaner interface {
		MarkOrphanedRunsFailed(ctx context.Context) (int64, error)
	}
	if c, ok := s.runs.(orphanCleaner); ok {
		n, err := c.MarkOrphanedRunsFailed(ctx)
		if err != nil {
			slog.Warn("failed to clean up orphaned runs", "err", err)
			return
		}
		if n > 0 {
			slog.Info("marked orphaned runs as failed", "count", n)
		}
	}
}

// checkDistinct rejects batches where two jobs would write the same assets
// directory or output file.
func checkDistinct(jobs []deinline.Job) error {
	assets := make(map[string]string, len(jobs))
	outputs := make(map[string]string, len(jobs))
	for _, job := range jobs {
		a, err := filepath.Abs(job.AssetsDir)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Label(), err)
		}
		if other, ok := assets[a]; ok {
			return fmt.Errorf("jobs %s and %s share assets directory %s", other, job.Label(), job.AssetsDir)
		}
		assets[a] = job.Label()

		o, err := filepath.Abs(job.Output)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Label(), err)
		}
		if other, ok := outputs[o]; ok {
			return fmt.Errorf("jobs %s and %s share output %s", other, job.Label(), job.Output)
		}
		outputs[o] = job.Label()
	}
	return nil
}
