package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal/catalog"
)

// Runner performs one import and reports on it.
type Runner interface {
	Run(ctx context.Context) *catalog.Report
}

type RunnerFunc func(ctx context.Context) *catalog.Report

func (f RunnerFunc) Run(ctx context.Context) *catalog.Report {
	return f(ctx)
}

// Tracker starts imports in the background and records their outcome.
type Tracker struct {
	store    Store
	runner   Runner
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

type Option func(*Tracker)

func WithNotifier(n Notifier) Option {
	return func(t *Tracker) {
		t.notifier = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

func New(store Store, runner Runner, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		runner: runner,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit records a new job and starts it. The run outlives ctx's
// cancellation but keeps its values.
func (t *Tracker) Submit(ctx context.Context) (Job, error) {
	job := Job{
		ID:        uuid.NewString(),
		Status:    StatusStarting,
		StartTime: t.now(),
	}
	if err := t.store.Put(ctx, job); err != nil {
		return Job{}, fmt.Errorf("store job: %w", err)
	}

	t.logger.Info("import job submitted", zap.String("job_id", job.ID))

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(context.WithoutCancel(ctx), job)
	}()
	return job, nil
}

func (t *Tracker) Get(ctx context.Context, id string) (Job, error) {
	return t.store.Get(ctx, id)
}

// Wait blocks until every submitted job has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context, job Job) {
	job.Status = StatusRunning
	if err := t.store.Put(ctx, job); err != nil {
		t.logger.Warn("failed to store job status",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	summary, logs := t.execute(ctx)
	job.Status = string(summary.Status)
	job.Result = &summary
	job.Logs = logs

	if err := t.store.Put(ctx, job); err != nil {
		t.logger.Error("failed to store job result",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	t.logger.Info("import job finished",
		zap.String("job_id", job.ID),
		zap.String("status", job.Status),
		zap.Int("errors", len(summary.Errors)),
	)

	if t.notifier != nil {
		if err := t.notifier.Notify(ctx, job); err != nil {
			t.logger.Warn("job notification failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}
}

func (t *Tracker) execute(ctx context.Context) (summary catalog.Summary, logs []string) {
	defer func() {
		if r := recover(); r != nil {
			rep := catalog.New(catalog.WithLogger(t.logger))
			rep.Errorf("Unexpected error: %v", r)
			rep.Complete(false)
			summary, logs = rep.Summary(), rep.Logs()
		}
	}()

	rep := t.runner.Run(ctx)
	// a report still running at this point counts as failed
	rep.Complete(false)
	return rep.Summary(), rep.Logs()
}
