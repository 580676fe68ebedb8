package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription is an imported upstream capacity contract. Each owner's
// subscriptions are the source of truth that RefreshPools reconciles
// pools against.
type Subscription struct {
	ID        string `gorm:"primaryKey;type:text"`
	OwnerKey  string `gorm:"column:owner_key;type:text;not null;index:ix_subscriptions_owner"`
	ProductID string `gorm:"column:product_id;type:text;not null"`

	// Quantity of -1 denotes unlimited capacity.
	Quantity  int64     `gorm:"not null"`
	StartDate time.Time `gorm:"column:start_date;not null"`
	EndDate   time.Time `gorm:"column:end_date;not null"`

	Attributes datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }
