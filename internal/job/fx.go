package job

import (
	"context"

	"github.com/smallbiznis/capstan/internal/config"
	"github.com/smallbiznis/capstan/internal/job/domain"
	"github.com/smallbiznis/capstan/internal/job/repository"
	"github.com/smallbiznis/capstan/internal/job/scheduler"
	"github.com/smallbiznis/capstan/internal/job/service"
	"go.uber.org/fx"
)

var Module = fx.Module("job.service",
	fx.Provide(domain.NewRegistry),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(scheduler.New),
	fx.Invoke(runScheduler),
)

func runScheduler(lc fx.Lifecycle, cfg config.Config, sched *scheduler.Scheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
