package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Entitlement records a consumer drawing quantity from a pool. It cannot
// outlive its pool.
type Entitlement struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ConsumerID string       `gorm:"column:consumer_id;type:text;not null;index:ix_entitlements_consumer"`
	PoolID     snowflake.ID `gorm:"column:pool_id;not null;index:ix_entitlements_pool"`
	Quantity   int64        `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Entitlement) TableName() string { return "entitlements" }
