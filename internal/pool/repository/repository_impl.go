package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/capstan/internal/pool/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const poolColumns = `id, owner_key, product_id, quantity, consumed, start_date, end_date, attributes,
	 source_entitlement_id, source_stack_consumer_id, source_stack_id, subscription_id, subscription_sub_key,
	 created_at, updated_at`

func (r *repo) CreatePool(ctx context.Context, db *gorm.DB, pool *domain.Pool) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pools (
			id, owner_key, product_id, quantity, consumed, start_date, end_date, attributes,
			source_entitlement_id, source_stack_consumer_id, source_stack_id, subscription_id, subscription_sub_key,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pool.ID,
		pool.OwnerKey,
		pool.ProductID,
		pool.Quantity,
		pool.Consumed,
		pool.StartDate,
		pool.EndDate,
		pool.Attributes,
		pool.SourceEntitlementID,
		pool.SourceStackConsumerID,
		pool.SourceStackID,
		pool.SubscriptionID,
		pool.SubscriptionSubKey,
		pool.CreatedAt,
		pool.UpdatedAt,
	).Error
}

func (r *repo) FindPoolByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Pool, error) {
	var p domain.Pool
	err := db.WithContext(ctx).Raw(
		`SELECT `+poolColumns+` FROM pools WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindPoolByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Pool, error) {
	var p domain.Pool
	err := db.WithContext(ctx).Raw(
		`SELECT `+poolColumns+` FROM pools WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ListPools(ctx context.Context, db *gorm.DB, filter domain.PoolFilter) ([]domain.Pool, error) {
	var items []domain.Pool
	stmt := db.WithContext(ctx).Model(&domain.Pool{})

	if filter.OwnerKey != "" {
		stmt = stmt.Where("owner_key = ?", filter.OwnerKey)
	}
	if filter.ProductID != "" {
		stmt = stmt.Where("product_id = ?", filter.ProductID)
	}
	if filter.ActiveOn != nil {
		stmt = stmt.Where("start_date <= ? AND end_date >= ?", *filter.ActiveOn, *filter.ActiveOn)
	}

	if err := stmt.Order("created_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdatePool(ctx context.Context, db *gorm.DB, pool *domain.Pool) error {
	if pool == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE pools
		 SET quantity = ?, consumed = ?, start_date = ?, end_date = ?, attributes = ?,
		     source_entitlement_id = ?, source_stack_consumer_id = ?, source_stack_id = ?,
		     subscription_id = ?, subscription_sub_key = ?, updated_at = ?
		 WHERE id = ?`,
		pool.Quantity,
		pool.Consumed,
		pool.StartDate,
		pool.EndDate,
		pool.Attributes,
		pool.SourceEntitlementID,
		pool.SourceStackConsumerID,
		pool.SourceStackID,
		pool.SubscriptionID,
		pool.SubscriptionSubKey,
		pool.UpdatedAt,
		pool.ID,
	).Error
}

func (r *repo) DeletePool(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM pools WHERE id = ?`, id).Error
}

func (r *repo) CountEntitlementsByPool(ctx context.Context, db *gorm.DB, poolID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM entitlements WHERE pool_id = ?`,
		poolID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) CreateEntitlement(ctx context.Context, db *gorm.DB, entitlement *domain.Entitlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO entitlements (id, consumer_id, pool_id, quantity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entitlement.ID,
		entitlement.ConsumerID,
		entitlement.PoolID,
		entitlement.Quantity,
		entitlement.CreatedAt,
		entitlement.UpdatedAt,
	).Error
}

func (r *repo) FindEntitlementByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Entitlement, error) {
	var e domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, consumer_id, pool_id, quantity, created_at, updated_at
		 FROM entitlements WHERE id = ?`,
		id,
	).Scan(&e).Error
	if err != nil {
		return nil, err
	}
	if e.ID == 0 {
		return nil, nil
	}
	return &e, nil
}

func (r *repo) ListEntitlementsByConsumer(ctx context.Context, db *gorm.DB, consumerID string) ([]domain.Entitlement, error) {
	var items []domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, consumer_id, pool_id, quantity, created_at, updated_at
		 FROM entitlements WHERE consumer_id = ? ORDER BY created_at ASC, id ASC`,
		consumerID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateEntitlement(ctx context.Context, db *gorm.DB, entitlement *domain.Entitlement) error {
	if entitlement == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE entitlements SET quantity = ?, updated_at = ? WHERE id = ?`,
		entitlement.Quantity,
		entitlement.UpdatedAt,
		entitlement.ID,
	).Error
}

func (r *repo) DeleteEntitlement(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM entitlements WHERE id = ?`, id).Error
}
