package scheduler

import (
	"context"
	"fmt"

	"github.com/smallbiznis/capstan/internal/job/domain"
	obsmetrics "github.com/smallbiznis/capstan/internal/observability/metrics"
	"go.uber.org/zap"
)

const recoveryFailureDetail = "worker interrupted; reconciled by recovery sweep"

// RecoverySweep fails RUNNING records whose claim is older than the
// recovery threshold. Those are jobs a crashed worker never finished.
func (s *Scheduler) RecoverySweep(ctx context.Context) error {
	cfg := s.dispatch.Get()
	now := s.clock.Now()
	cutoff := now.Add(-cfg.RecoveryThreshold)

	stuck, err := s.repo.ListStuckRunning(ctx, s.db, cutoff, cfg.ClaimBatchSize)
	if err != nil {
		return fmt.Errorf("list stuck jobs: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	schedMetrics := obsmetrics.Scheduler()
	recovered := 0
	for i := range stuck {
		job := &stuck[i]
		failed, err := s.repo.MarkFailed(ctx, s.db, job.ID, recoveryFailureDetail, now)
		if err != nil {
			return fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		if !failed {
			continue
		}
		recovered++
		schedMetrics.IncJobTransition(string(domain.JobStateRunning), string(domain.JobStateFailed))
		s.log.Warn("stuck job reconciled",
			zap.String("job_id", job.ID.String()),
			zap.String("task", job.Task),
			zap.Timep("started_at", job.StartedAt),
		)
	}
	schedMetrics.AddBatchProcessed("recovery_sweep", "jobs", recovered)
	return nil
}
