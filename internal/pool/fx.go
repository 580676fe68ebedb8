package pool

import (
	"context"

	jobdomain "github.com/smallbiznis/capstan/internal/job/domain"
	"github.com/smallbiznis/capstan/internal/pool/domain"
	"github.com/smallbiznis/capstan/internal/pool/repository"
	"github.com/smallbiznis/capstan/internal/pool/service"
	"go.uber.org/fx"
)

// TaskRefreshPools reconciles an owner's pools with its subscriptions.
const TaskRefreshPools = "refresh_pools"

var Module = fx.Module("pool.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(registerTasks),
)

func registerTasks(registry *jobdomain.Registry, svc domain.Service) error {
	return registry.Register(TaskRefreshPools, func(ctx context.Context, job *jobdomain.JobRecord) (map[string]any, error) {
		result, err := svc.RefreshPools(ctx, job.TargetID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"owner_key":     result.OwnerKey,
			"pools_created": result.PoolsCreated,
			"pools_updated": result.PoolsUpdated,
			"pools_removed": result.PoolsRemoved,
		}, nil
	})
}
