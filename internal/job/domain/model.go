package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// JobState is the lifecycle state of a job record. Transitions only move
// forward: CREATED -> RUNNING -> {FINISHED, FAILED, CANCELED}, with
// CANCELED reachable only from CREATED.
type JobState string

const (
	JobStateCreated  JobState = "CREATED"
	JobStateRunning  JobState = "RUNNING"
	JobStateFinished JobState = "FINISHED"
	JobStateFailed   JobState = "FAILED"
	JobStateCanceled JobState = "CANCELED"
)

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobStateFinished || s == JobStateFailed || s == JobStateCanceled
}

// TargetType identifies what a job operates on.
type TargetType string

// TargetOwner jobs are debounced per owner key.
const TargetOwner TargetType = "OWNER"

// JobRecord is the status and result envelope for one unit of deferred
// work. The result payload is opaque to the scheduler.
type JobRecord struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Task string       `gorm:"type:text;not null"`

	TargetType TargetType `gorm:"column:target_type;type:text;not null;index:ix_jobs_target,priority:1"`
	TargetID   string     `gorm:"column:target_id;type:text;not null;index:ix_jobs_target,priority:2"`

	// Principal is attached at schedule time so re-entrant scheduling
	// reflects the current caller.
	Principal string `gorm:"type:text;not null"`

	State        JobState  `gorm:"type:text;not null;index:ix_jobs_state"`
	ScheduledFor time.Time `gorm:"column:scheduled_for;not null;index:ix_jobs_scheduled_for"`

	StartedAt  *time.Time `gorm:"column:started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at"`

	Data        datatypes.JSONMap `gorm:"type:jsonb"`
	Result      datatypes.JSONMap `gorm:"type:jsonb"`
	ErrorDetail *string           `gorm:"column:error_detail;type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (JobRecord) TableName() string { return "jobs" }

// Detail describes a schedulable unit of work produced by a triggering
// operation. Only details with a recognized target type are scheduled.
type Detail struct {
	Task       string         `json:"task"`
	TargetType TargetType     `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Data       map[string]any `json:"data,omitempty"`
}

// Schedulable reports whether the detail's target type triggers dispatch.
func (d Detail) Schedulable() bool {
	return d.TargetType == TargetOwner
}
