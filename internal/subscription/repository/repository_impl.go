package repository

import (
	"context"

	"github.com/smallbiznis/capstan/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (id, owner_key, product_id, quantity, start_date, end_date, attributes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			owner_key = excluded.owner_key,
			product_id = excluded.product_id,
			quantity = excluded.quantity,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at`,
		subscription.ID,
		subscription.OwnerKey,
		subscription.ProductID,
		subscription.Quantity,
		subscription.StartDate,
		subscription.EndDate,
		subscription.Attributes,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_key, product_id, quantity, start_date, end_date, attributes, created_at, updated_at
		 FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) ListByOwner(ctx context.Context, db *gorm.DB, ownerKey string) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_key, product_id, quantity, start_date, end_date, attributes, created_at, updated_at
		 FROM subscriptions WHERE owner_key = ? ORDER BY id ASC`,
		ownerKey,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Exec(`DELETE FROM subscriptions WHERE id = ?`, id).Error
}
