package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// Dispatch schedules a job for the detail's target, attaching the
	// caller's principal. A target with pending work gets a debounced
	// schedule instead of an immediate one.
	Dispatch(ctx context.Context, detail Detail) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Cancel(ctx context.Context, id string) (*Response, error)
}

type ListRequest struct {
	TargetType TargetType
	TargetID   string
	State      JobState
	Limit      int
}

type Response struct {
	ID           string         `json:"id"`
	Task         string         `json:"task"`
	TargetType   TargetType     `json:"target_type"`
	TargetID     string         `json:"target_id"`
	Principal    string         `json:"principal"`
	State        JobState       `json:"state"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorDetail  *string        `json:"error_detail,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

var (
	ErrNotFound       = errors.New("job_not_found")
	ErrNotCancelable  = errors.New("job_not_cancelable")
	ErrUnknownTask    = errors.New("unknown_task")
	ErrNotSchedulable = errors.New("not_schedulable")

	// ErrServiceUnavailable wraps job store outages; the caller must see
	// an explicit failure rather than a stale success.
	ErrServiceUnavailable = errors.New("service_unavailable")
)
