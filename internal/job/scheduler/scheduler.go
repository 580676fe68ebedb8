package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/capstan/internal/clock"
	"github.com/smallbiznis/capstan/internal/config"
	"github.com/smallbiznis/capstan/internal/job/domain"
	obsmetrics "github.com/smallbiznis/capstan/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Registry *domain.Registry
	Dispatch *config.DispatchConfigHolder
}

// Scheduler claims due job records and runs them on a bounded worker
// pool. A worker crash leaves the record RUNNING; the recovery sweep
// reconciles those on a later pass.
type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	registry *domain.Registry
	dispatch *config.DispatchConfigHolder
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Registry == nil || p.Dispatch == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:    p.Clock,
		repo:     p.Repo,
		registry: p.Registry,
		dispatch: p.Dispatch,
	}, nil
}

// RunOnce claims every due job and executes the batch, then sweeps for
// stuck RUNNING records. Returns the number of jobs executed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	cfg := s.dispatch.Get()
	schedMetrics := obsmetrics.Scheduler()

	now := s.clock.Now()
	lockStart := time.Now()
	var claimed []domain.JobRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = s.repo.ClaimDue(ctx, tx, now, cfg.ClaimBatchSize)
		return err
	})
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceJobsForWork, time.Since(lockStart))
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}
	for range claimed {
		schedMetrics.IncJobTransition(string(domain.JobStateCreated), string(domain.JobStateRunning))
	}

	var (
		wg     sync.WaitGroup
		sem    = make(chan struct{}, cfg.Workers)
		mu     sync.Mutex
		runErr error
	)
	for i := range claimed {
		job := claimed[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.execute(ctx, &job); err != nil {
				mu.Lock()
				runErr = errors.Join(runErr, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := s.RecoverySweep(ctx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return len(claimed), runErr
}

func (s *Scheduler) execute(ctx context.Context, job *domain.JobRecord) error {
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(job.Task)
	start := time.Now()

	log := s.log.With(
		zap.String("job_id", job.ID.String()),
		zap.String("task", job.Task),
		zap.String("target_type", string(job.TargetType)),
		zap.String("target_id", job.TargetID),
	)

	fn, ok := s.registry.Resolve(job.Task)
	if !ok {
		log.Error("no executor registered for task")
		return s.fail(ctx, job, domain.ErrUnknownTask.Error())
	}

	result, err := fn(ctx, job)
	schedMetrics.ObserveJobDuration(job.Task, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			schedMetrics.IncJobTimeout(job.Task)
		}
		schedMetrics.IncJobError(job.Task, err)
		log.Warn("job failed", zap.Error(err))
		return s.fail(ctx, job, err.Error())
	}

	now := s.clock.Now()
	finished, markErr := s.repo.MarkFinished(ctx, s.db, job.ID, result, now)
	if markErr != nil {
		schedMetrics.IncJobError(job.Task, markErr)
		return fmt.Errorf("mark job %s finished: %w", job.ID, markErr)
	}
	if !finished {
		// Lost the state race, likely to a concurrent recovery sweep.
		log.Warn("job finished but record no longer RUNNING")
		return nil
	}
	schedMetrics.IncJobTransition(string(domain.JobStateRunning), string(domain.JobStateFinished))
	schedMetrics.AddBatchProcessed(job.Task, "jobs", 1)
	log.Info("job finished", zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *Scheduler) fail(ctx context.Context, job *domain.JobRecord, detail string) error {
	failed, err := s.repo.MarkFailed(ctx, s.db, job.ID, detail, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	if failed {
		obsmetrics.Scheduler().IncJobTransition(string(domain.JobStateRunning), string(domain.JobStateFailed))
	}
	return nil
}

// RunForever drives RunOnce on the configured interval until ctx ends.
// The interval is re-read every pass so config reloads take effect.
func (s *Scheduler) RunForever(ctx context.Context) {
	schedMetrics := obsmetrics.Scheduler()
	nextRun := s.clock.Now().Add(s.dispatch.Get().RunInterval)

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		interval := s.dispatch.Get().RunInterval
		nextRun = nextRun.Add(interval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
