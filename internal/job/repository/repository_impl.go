package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/capstan/internal/job/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const jobColumns = `id, task, target_type, target_id, principal, state, scheduled_for,
	 started_at, finished_at, data, result, error_detail, created_at, updated_at`

func (r *repo) Create(ctx context.Context, db *gorm.DB, job *domain.JobRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO jobs (
			id, task, target_type, target_id, principal, state, scheduled_for,
			started_at, finished_at, data, result, error_detail, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Task,
		job.TargetType,
		job.TargetID,
		job.Principal,
		job.State,
		job.ScheduledFor,
		job.StartedAt,
		job.FinishedAt,
		job.Data,
		job.Result,
		job.ErrorDetail,
		job.CreatedAt,
		job.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.JobRecord, error) {
	var j domain.JobRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`,
		id,
	).Scan(&j).Error
	if err != nil {
		return nil, err
	}
	if j.ID == 0 {
		return nil, nil
	}
	return &j, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.JobRecord, error) {
	var items []domain.JobRecord
	stmt := db.WithContext(ctx).Model(&domain.JobRecord{})

	if filter.TargetType != "" {
		stmt = stmt.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		stmt = stmt.Where("target_id = ?", filter.TargetID)
	}
	if filter.State != "" {
		stmt = stmt.Where("state = ?", filter.State)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountPendingByTarget(ctx context.Context, db *gorm.DB, targetType domain.TargetType, targetID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM jobs
		 WHERE target_type = ? AND target_id = ? AND state IN (?, ?)`,
		targetType,
		targetID,
		domain.JobStateCreated,
		domain.JobStateRunning,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.JobRecord, error) {
	var due []domain.JobRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state = ? AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC, id ASC
		 LIMIT ? FOR UPDATE SKIP LOCKED`,
		domain.JobStateCreated,
		now,
		limit,
	).Scan(&due).Error
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}

	claimed := make([]domain.JobRecord, 0, len(due))
	for i := range due {
		job := due[i]
		res := db.WithContext(ctx).Exec(
			`UPDATE jobs SET state = ?, started_at = ?, updated_at = ? WHERE id = ? AND state = ?`,
			domain.JobStateRunning,
			now,
			now,
			job.ID,
			domain.JobStateCreated,
		)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		startedAt := now
		job.State = domain.JobStateRunning
		job.StartedAt = &startedAt
		job.UpdatedAt = now
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (r *repo) MarkFinished(ctx context.Context, db *gorm.DB, id snowflake.ID, result map[string]any, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE jobs SET state = ?, result = ?, finished_at = ?, updated_at = ? WHERE id = ? AND state = ?`,
		domain.JobStateFinished,
		datatypes.JSONMap(result),
		at,
		at,
		id,
		domain.JobStateRunning,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, detail string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE jobs SET state = ?, error_detail = ?, finished_at = ?, updated_at = ? WHERE id = ? AND state = ?`,
		domain.JobStateFailed,
		detail,
		at,
		at,
		id,
		domain.JobStateRunning,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE jobs SET state = ?, finished_at = ?, updated_at = ? WHERE id = ? AND state = ?`,
		domain.JobStateCanceled,
		at,
		at,
		id,
		domain.JobStateCreated,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListStuckRunning(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.JobRecord, error) {
	var items []domain.JobRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state = ? AND started_at IS NOT NULL AND started_at < ?
		 ORDER BY started_at ASC LIMIT ?`,
		domain.JobStateRunning,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
