package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PoolFilter narrows pool listings.
type PoolFilter struct {
	OwnerKey  string
	ProductID string
	ActiveOn  *time.Time
}

type Repository interface {
	CreatePool(ctx context.Context, db *gorm.DB, pool *Pool) error
	FindPoolByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Pool, error)
	// FindPoolByIDForUpdate takes a row lock so concurrent consumption against
	// the same pool serializes at the capacity check.
	FindPoolByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Pool, error)
	ListPools(ctx context.Context, db *gorm.DB, filter PoolFilter) ([]Pool, error)
	UpdatePool(ctx context.Context, db *gorm.DB, pool *Pool) error
	DeletePool(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	CountEntitlementsByPool(ctx context.Context, db *gorm.DB, poolID snowflake.ID) (int64, error)

	CreateEntitlement(ctx context.Context, db *gorm.DB, entitlement *Entitlement) error
	FindEntitlementByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entitlement, error)
	ListEntitlementsByConsumer(ctx context.Context, db *gorm.DB, consumerID string) ([]Entitlement, error)
	UpdateEntitlement(ctx context.Context, db *gorm.DB, entitlement *Entitlement) error
	DeleteEntitlement(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
