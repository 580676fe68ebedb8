package domain

import (
	"context"
	"time"
)

type Service interface {
	// Entitle issues entitlements for every requested pool in one
	// transaction. Any policy rejection rolls the whole batch back.
	Entitle(ctx context.Context, req EntitleRequest) ([]EntitlementResponse, error)
	AdjustEntitlementQuantity(ctx context.Context, req AdjustQuantityRequest) (*EntitlementResponse, error)
	Revoke(ctx context.Context, req RevokeRequest) error
	ListConsumerEntitlements(ctx context.Context, consumerID string) ([]EntitlementResponse, error)

	GetPool(ctx context.Context, id string) (*PoolResponse, error)
	ListPools(ctx context.Context, req ListPoolsRequest) ([]PoolResponse, error)
	DeletePool(ctx context.Context, id string) error

	// RefreshPools reconciles an owner's pools against imported
	// subscriptions. Runs as scheduled background work.
	RefreshPools(ctx context.Context, ownerKey string) (*RefreshResult, error)
}

type EntitleRequest struct {
	ConsumerID     string           `json:"consumer_id"`
	PoolQuantities map[string]int64 `json:"pool_quantities"`
}

type AdjustQuantityRequest struct {
	ConsumerID    string `json:"consumer_id"`
	EntitlementID string `json:"entitlement_id"`
	Quantity      int64  `json:"quantity"`
}

type RevokeRequest struct {
	ConsumerID    string `json:"consumer_id"`
	EntitlementID string `json:"entitlement_id"`
}

type ListPoolsRequest struct {
	OwnerKey  string
	ProductID string
	ActiveOn  *time.Time
}

type PoolResponse struct {
	ID                 string              `json:"id"`
	OwnerKey           string              `json:"owner_key"`
	ProductID          string              `json:"product_id"`
	Type               PoolType            `json:"type"`
	Quantity           int64               `json:"quantity"`
	Consumed           int64               `json:"consumed"`
	StartDate          time.Time           `json:"start_date"`
	EndDate            time.Time           `json:"end_date"`
	Attributes         map[string]any      `json:"attributes,omitempty"`
	SourceEntitlement  *string             `json:"source_entitlement_id,omitempty"`
	SourceStack        *SourceStack        `json:"source_stack,omitempty"`
	SourceSubscription *SourceSubscription `json:"source_subscription,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

type EntitlementResponse struct {
	ID         string    `json:"id"`
	ConsumerID string    `json:"consumer_id"`
	PoolID     string    `json:"pool_id"`
	Quantity   int64     `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type RefreshResult struct {
	OwnerKey     string `json:"owner_key"`
	PoolsCreated int    `json:"pools_created"`
	PoolsUpdated int    `json:"pools_updated"`
	PoolsRemoved int    `json:"pools_removed"`
}
