package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, job *JobRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*JobRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]JobRecord, error)

	// CountPendingByTarget counts non-terminal jobs for a target. Used for
	// debounce decisions at dispatch time.
	CountPendingByTarget(ctx context.Context, db *gorm.DB, targetType TargetType, targetID string) (int64, error)

	// ClaimDue locks due CREATED jobs and moves them to RUNNING in one
	// step. Rows already claimed by another worker are skipped.
	ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]JobRecord, error)

	// MarkFinished and MarkFailed only apply to RUNNING records; Cancel
	// only to CREATED. Each reports whether the transition happened.
	MarkFinished(ctx context.Context, db *gorm.DB, id snowflake.ID, result map[string]any, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, detail string, at time.Time) (bool, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	// ListStuckRunning returns RUNNING jobs whose claim predates the
	// threshold, left behind by a crashed worker.
	ListStuckRunning(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]JobRecord, error)
}

type ListFilter struct {
	TargetType TargetType
	TargetID   string
	State      JobState
	Limit      int
}
