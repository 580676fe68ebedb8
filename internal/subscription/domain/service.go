package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// Import upserts an owner's subscriptions. It only records them;
	// pool reconciliation happens in the refresh job.
	Import(ctx context.Context, req ImportRequest) ([]Response, error)
	List(ctx context.Context, ownerKey string) ([]Response, error)
	Delete(ctx context.Context, id string) error
}

type ImportRequest struct {
	OwnerKey      string              `json:"owner_key"`
	Subscriptions []SubscriptionInput `json:"subscriptions"`
}

type SubscriptionInput struct {
	ID         string         `json:"id"`
	ProductID  string         `json:"product_id"`
	Quantity   int64          `json:"quantity"`
	StartDate  time.Time      `json:"start_date"`
	EndDate    time.Time      `json:"end_date"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type Response struct {
	ID         string         `json:"id"`
	OwnerKey   string         `json:"owner_key"`
	ProductID  string         `json:"product_id"`
	Quantity   int64          `json:"quantity"`
	StartDate  time.Time      `json:"start_date"`
	EndDate    time.Time      `json:"end_date"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

var (
	ErrInvalidOwner     = errors.New("invalid_owner")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidProduct   = errors.New("invalid_product")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidDateRange = errors.New("invalid_date_range")
	ErrNotFound         = errors.New("not_found")
)
