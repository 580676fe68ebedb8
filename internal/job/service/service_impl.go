package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/capstan/internal/clock"
	"github.com/smallbiznis/capstan/internal/config"
	"github.com/smallbiznis/capstan/internal/job/domain"
	"github.com/smallbiznis/capstan/internal/observability/metrics"
	"github.com/smallbiznis/capstan/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Registry *domain.Registry
	Dispatch *config.DispatchConfigHolder
	Metrics  *metrics.Metrics
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	registry *domain.Registry
	dispatch *config.DispatchConfigHolder
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("job.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		registry: p.Registry,
		dispatch: p.Dispatch,
		metrics:  p.Metrics,
	}
}

func (s *Service) Dispatch(ctx context.Context, detail domain.Detail) (*domain.Response, error) {
	task := strings.TrimSpace(detail.Task)
	if task == "" {
		return nil, domain.ErrUnknownTask
	}
	if _, ok := s.registry.Resolve(task); !ok {
		return nil, domain.ErrUnknownTask
	}
	if !detail.Schedulable() || strings.TrimSpace(detail.TargetID) == "" {
		return nil, domain.ErrNotSchedulable
	}

	caller, ok := principal.FromContext(ctx)
	if !ok {
		caller = principal.System
	}
	now := s.clock.Now()

	data := datatypes.JSONMap{}
	for k, v := range detail.Data {
		data[k] = v
	}
	data["principal"] = caller.String()
	data["correlation_id"] = ulid.Make().String()

	job := &domain.JobRecord{
		ID:           s.genID.Generate(),
		Task:         task,
		TargetType:   detail.TargetType,
		TargetID:     detail.TargetID,
		Principal:    caller.String(),
		State:        domain.JobStateCreated,
		ScheduledFor: now,
		Data:         data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		pending, err := s.repo.CountPendingByTarget(ctx, tx, detail.TargetType, detail.TargetID)
		if err != nil {
			return err
		}
		if pending > 0 {
			job.ScheduledFor = now.Add(s.dispatch.Get().DebounceWindow)
		}
		return s.repo.Create(ctx, tx, job)
	})
	if err != nil {
		// The caller must learn that nothing was queued.
		return nil, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}

	if job.ScheduledFor.After(now) {
		s.metrics.RecordJobDebounced(ctx, string(detail.TargetType))
		s.log.Info("job debounced",
			zap.String("job_id", job.ID.String()),
			zap.String("task", task),
			zap.String("target_id", detail.TargetID),
			zap.Time("scheduled_for", job.ScheduledFor),
		)
	}
	s.metrics.RecordJobDispatched(ctx, string(detail.TargetType), task)

	resp := toResponse(job)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	jobID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	job, err := s.repo.FindByID(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}

	resp := toResponse(job)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	filter := domain.ListFilter{
		TargetType: req.TargetType,
		TargetID:   strings.TrimSpace(req.TargetID),
		State:      req.State,
		Limit:      req.Limit,
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (*domain.Response, error) {
	jobID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	now := s.clock.Now()
	var resp domain.Response

	err = s.db.Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.FindByID(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domain.ErrNotFound
		}

		canceled, err := s.repo.Cancel(ctx, tx, jobID, now)
		if err != nil {
			return err
		}
		if !canceled {
			return domain.ErrNotCancelable
		}

		metrics.Scheduler().IncJobTransition(string(job.State), string(domain.JobStateCanceled))
		job.State = domain.JobStateCanceled
		job.FinishedAt = &now
		job.UpdatedAt = now
		resp = toResponse(job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func toResponse(job *domain.JobRecord) domain.Response {
	return domain.Response{
		ID:           job.ID.String(),
		Task:         job.Task,
		TargetType:   job.TargetType,
		TargetID:     job.TargetID,
		Principal:    job.Principal,
		State:        job.State,
		ScheduledFor: job.ScheduledFor,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
		Data:         job.Data,
		Result:       job.Result,
		ErrorDetail:  job.ErrorDetail,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}
