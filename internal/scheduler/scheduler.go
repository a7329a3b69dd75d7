// Package scheduler advances jobs: each tick claims a small batch of pending
// records, runs them through the pipeline concurrently and recomputes the
// status of every job it touched.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
)

// DefaultBatchSize is how many records one tick claims.
const DefaultBatchSize = 5

// Store is the persistence the scheduler needs.
type Store interface {
	OldestPendingJob(ctx context.Context) (*model.Job, error)
	ActiveJobsWithPending(ctx context.Context) ([]model.Job, error)
	StartJob(ctx context.Context, id string) (bool, error)
	ClaimPendingRecords(ctx context.Context, jobID string, limit int) ([]model.Record, error)
	ReleaseRecord(ctx context.Context, id string) error
	CompleteRecord(ctx context.Context, id string, e model.Enrichment, durationMs int64) error
	FailRecord(ctx context.Context, id string, msg string, durationMs int64) error
	ListRecords(ctx context.Context, jobID string) ([]model.Record, error)
	UpdateJobAggregate(ctx context.Context, id string, status model.JobStatus, processed int) error
}

// Processor enriches a single record. It must not fail; pipeline errors come
// back as degraded output.
type Processor interface {
	Process(ctx context.Context, rec model.Record) model.Enrichment
}

// Result summarises one tick.
type Result struct {
	JobsProcessed    int `json:"jobs_processed"`
	RecordsProcessed int `json:"records_processed"`
	Failed           int `json:"failed"`
	Degraded         int `json:"degraded"`
	// Released counts records put back to pending because the tick was
	// interrupted before they finished.
	Released int `json:"released,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock injects the time source used for elapsed-time stamping.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs ticks. Ticks are serialized within a process; across
// processes the store's atomic claim keeps a record from running twice.
type Scheduler struct {
	store     Store
	proc      Processor
	batchSize int
	now       func() time.Time
	mu        sync.Mutex
}

// New creates a Scheduler.
func New(st Store, proc Processor, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		proc:      proc,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchSize returns the number of records claimed per tick.
func (s *Scheduler) BatchSize() int { return s.batchSize }

// ProcessPendingRecords runs one tick. The oldest pending job is served
// first; when there is none, pending records of jobs already processing are
// drained. Record failures never abort the tick. If ctx ends mid-tick, records
// whose pipeline run was cut short go back to pending for a later tick.
func (s *Scheduler) ProcessPendingRecords(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.selectJobs(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(jobs) == 0 {
		return Result{}, nil
	}

	var (
		batch   []model.Record
		touched []model.Job
	)
	for _, job := range jobs {
		remaining := s.batchSize - len(batch)
		if remaining <= 0 {
			break
		}
		if job.Status == model.JobStatusPending {
			started, err := s.store.StartJob(ctx, job.ID)
			if err != nil {
				return Result{}, eris.Wrapf(err, "scheduler: start job %s", job.ID)
			}
			if !started {
				zap.L().Info("scheduler: job no longer pending, skipping", zap.String("job_id", job.ID))
				continue
			}
			job.Status = model.JobStatusProcessing
		}
		claimed, err := s.store.ClaimPendingRecords(ctx, job.ID, remaining)
		if err != nil {
			return Result{}, eris.Wrapf(err, "scheduler: claim records for job %s", job.ID)
		}
		touched = append(touched, job)
		batch = append(batch, claimed...)
	}

	zap.L().Info("scheduler: tick",
		zap.Int("jobs", len(touched)),
		zap.Int("records", len(batch)),
	)

	var failed, degraded, released atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	for _, rec := range batch {
		g.Go(func() error {
			switch s.runRecord(gCtx, rec) {
			case outcomeFailed:
				failed.Add(1)
			case outcomeDegraded:
				degraded.Add(1)
			case outcomeReleased:
				released.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Aggregates are written even when ctx ended so no touched job is left
	// with a stale status.
	wctx := context.WithoutCancel(ctx)
	for _, job := range touched {
		if err := s.refreshJob(wctx, job); err != nil {
			zap.L().Error("scheduler: job aggregate failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}

	return Result{
		JobsProcessed:    len(touched),
		RecordsProcessed: len(batch) - int(released.Load()),
		Failed:           int(failed.Load()),
		Degraded:         int(degraded.Load()),
		Released:         int(released.Load()),
	}, nil
}

func (s *Scheduler) selectJobs(ctx context.Context) ([]model.Job, error) {
	job, err := s.store.OldestPendingJob(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: oldest pending job")
	}
	if job != nil {
		return []model.Job{*job}, nil
	}
	jobs, err := s.store.ActiveJobsWithPending(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: active jobs")
	}
	return jobs, nil
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeDegraded
	outcomeFailed
	outcomeReleased
)

func (s *Scheduler) runRecord(ctx context.Context, rec model.Record) outcome {
	log := zap.L().With(zap.String("record_id", rec.ID), zap.String("job_id", rec.JobID))
	start := s.now()

	out := s.proc.Process(ctx, rec)
	elapsed := s.now().Sub(start).Milliseconds()

	// Write back on a context that survives shutdown so a finished record
	// is not left in processing.
	wctx := context.WithoutCancel(ctx)

	// A fallback produced after ctx ended reflects the interruption, not the
	// lead; the record runs again on a later tick. Complete output is kept.
	if out.Degraded && ctx.Err() != nil {
		if err := s.store.ReleaseRecord(wctx, rec.ID); err != nil {
			log.Error("scheduler: release interrupted record", zap.Error(err))
			if fErr := s.store.FailRecord(wctx, rec.ID, "interrupted: "+ctx.Err().Error(), elapsed); fErr != nil {
				log.Error("scheduler: mark record failed", zap.Error(fErr))
			}
			return outcomeFailed
		}
		log.Info("scheduler: record released after interruption", zap.Error(ctx.Err()))
		return outcomeReleased
	}

	if err := s.store.CompleteRecord(wctx, rec.ID, out, elapsed); err != nil {
		log.Error("scheduler: save record failed", zap.Error(err))
		if fErr := s.store.FailRecord(wctx, rec.ID, err.Error(), elapsed); fErr != nil {
			log.Error("scheduler: mark record failed", zap.Error(fErr))
		}
		return outcomeFailed
	}

	log.Info("scheduler: record processed",
		zap.Int64("duration_ms", elapsed),
		zap.Bool("degraded", out.Degraded),
	)
	if out.Degraded {
		return outcomeDegraded
	}
	return outcomeCompleted
}

func (s *Scheduler) refreshJob(ctx context.Context, job model.Job) error {
	records, err := s.store.ListRecords(ctx, job.ID)
	if err != nil {
		return eris.Wrapf(err, "scheduler: list records for job %s", job.ID)
	}
	status := AggregateJobStatus(job.Status, records)
	processed := 0
	for _, r := range records {
		if r.Status.IsTerminal() {
			processed++
		}
	}
	if err := s.store.UpdateJobAggregate(ctx, job.ID, status, processed); err != nil {
		return eris.Wrapf(err, "scheduler: update job %s", job.ID)
	}
	if status != job.Status {
		zap.L().Info("scheduler: job status changed",
			zap.String("job_id", job.ID),
			zap.String("from", string(job.Status)),
			zap.String("to", string(status)),
			zap.Int("processed", processed),
			zap.Int("total", len(records)),
		)
	}
	return nil
}

// Run ticks every interval until ctx is cancelled. Tick errors are logged.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	log := zap.L().With(zap.String("component", "scheduler"))
	log.Info("starting scheduler",
		zap.Duration("interval", interval),
		zap.Int("batch_size", s.batchSize),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.ProcessPendingRecords(ctx); err != nil {
				log.Error("scheduler: tick failed", zap.Error(err))
			}
		}
	}
}
