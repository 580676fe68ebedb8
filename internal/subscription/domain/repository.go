package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Subscription, error)
	ListByOwner(ctx context.Context, db *gorm.DB, ownerKey string) ([]Subscription, error)
	Delete(ctx context.Context, db *gorm.DB, id string) error
}
