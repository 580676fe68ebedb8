package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/capstan/internal/clock"
	"github.com/smallbiznis/capstan/internal/policy"
	"github.com/smallbiznis/capstan/internal/pool/domain"
	poolrepository "github.com/smallbiznis/capstan/internal/pool/repository"
	subscriptiondomain "github.com/smallbiznis/capstan/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/capstan/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// sqlite does not understand row locking clauses
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&domain.Pool{},
		&domain.Entitlement{},
		&subscriptiondomain.Subscription{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB, fake *clock.FakeClock) *Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	pol := policy.New(policy.Params{Log: zap.NewNop(), Clock: fake})

	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		Repo:   poolrepository.Provide(),
		Subs:   subscriptionrepository.Provide(),
		Policy: pol,
	})
	return svc.(*Service)
}

func seedPool(t *testing.T, svc *Service, db *gorm.DB, quantity int64, now time.Time) *domain.Pool {
	t.Helper()

	pool := &domain.Pool{
		ID:        svc.genID.Generate(),
		OwnerKey:  "acme",
		ProductID: "prod-1",
		Quantity:  quantity,
		StartDate: now.AddDate(0, -1, 0),
		EndDate:   now.AddDate(1, 0, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, svc.repo.CreatePool(context.Background(), db, pool))
	return pool
}

func TestEntitleIncrementsConsumed(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 10, fake.Now())

	issued, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 3},
	})
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, int64(3), issued[0].Quantity)
	assert.Equal(t, "consumer-1", issued[0].ConsumerID)

	reloaded, err := svc.repo.FindPoolByID(context.Background(), db, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reloaded.Consumed)
}

func TestEntitleRefusedRollsBackWholeBatch(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)

	bigPool := seedPool(t, svc, db, 10, fake.Now())
	smallPool := seedPool(t, svc, db, 2, fake.Now())

	_, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID: "consumer-1",
		PoolQuantities: map[string]int64{
			bigPool.ID.String():   3,
			smallPool.ID.String(): 5,
		},
	})

	var refused *domain.EntitlementRefusedError
	require.ErrorAs(t, err, &refused)
	result, ok := refused.Refused(smallPool.ID.String())
	require.True(t, ok)
	assert.Contains(t, result.Errors, policy.ReasonCapacityExceeded)
	_, ok = refused.Refused(bigPool.ID.String())
	assert.False(t, ok)

	// nothing issued anywhere
	for _, id := range []snowflake.ID{bigPool.ID, smallPool.ID} {
		reloaded, err := svc.repo.FindPoolByID(context.Background(), db, id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), reloaded.Consumed)
	}
	ents, err := svc.repo.ListEntitlementsByConsumer(context.Background(), db, "consumer-1")
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestEntitleCapacityEnforcedAcrossBatches(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 5, fake.Now())

	_, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 3},
	})
	require.NoError(t, err)

	_, err = svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-2",
		PoolQuantities: map[string]int64{pool.ID.String(): 3},
	})
	var refused *domain.EntitlementRefusedError
	require.ErrorAs(t, err, &refused)

	reloaded, err := svc.repo.FindPoolByID(context.Background(), db, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reloaded.Consumed)
	assert.LessOrEqual(t, reloaded.Consumed, reloaded.Quantity)
}

func TestEntitleExpiredPoolRefused(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 10, fake.Now())

	fake.Advance(2 * 365 * 24 * time.Hour)

	_, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 1},
	})
	var refused *domain.EntitlementRefusedError
	require.ErrorAs(t, err, &refused)
	result, ok := refused.Refused(pool.ID.String())
	require.True(t, ok)
	assert.Contains(t, result.Errors, policy.ReasonPoolNotActive)
}

func TestEntitleUnlimitedPool(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, domain.UnlimitedQuantity, fake.Now())

	_, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 100000},
	})
	require.NoError(t, err)
}

func TestAdjustEntitlementQuantity(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 10, fake.Now())

	issued, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 3},
	})
	require.NoError(t, err)

	updated, err := svc.AdjustEntitlementQuantity(context.Background(), domain.AdjustQuantityRequest{
		ConsumerID:    "consumer-1",
		EntitlementID: issued[0].ID,
		Quantity:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), updated.Quantity)

	reloaded, err := svc.repo.FindPoolByID(context.Background(), db, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), reloaded.Consumed)

	// shrinking frees capacity
	updated, err = svc.AdjustEntitlementQuantity(context.Background(), domain.AdjustQuantityRequest{
		ConsumerID:    "consumer-1",
		EntitlementID: issued[0].ID,
		Quantity:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Quantity)

	reloaded, err = svc.repo.FindPoolByID(context.Background(), db, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Consumed)
}

func TestAdjustEntitlementQuantityRefusedOverCapacity(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 5, fake.Now())

	issued, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 3},
	})
	require.NoError(t, err)

	_, err = svc.AdjustEntitlementQuantity(context.Background(), domain.AdjustQuantityRequest{
		ConsumerID:    "consumer-1",
		EntitlementID: issued[0].ID,
		Quantity:      8,
	})
	var refused *domain.EntitlementRefusedError
	require.ErrorAs(t, err, &refused)

	reloaded, err := svc.repo.FindPoolByID(context.Background(), db, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reloaded.Consumed)
}

func TestRevokeDeletesEntitlementAndDecrements(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 10, fake.Now())

	issued, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 4},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), domain.RevokeRequest{
		ConsumerID:    "consumer-1",
		EntitlementID: issued[0].ID,
	}))

	reloaded, err := svc.repo.FindPoolByID(context.Background(), db, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.Consumed)

	ents, err := svc.ListConsumerEntitlements(context.Background(), "consumer-1")
	require.NoError(t, err)
	assert.Empty(t, ents)

	err = svc.Revoke(context.Background(), domain.RevokeRequest{
		ConsumerID:    "consumer-1",
		EntitlementID: issued[0].ID,
	})
	assert.True(t, errors.Is(err, domain.ErrEntitlementNotFound))
}

func TestRevokeWrongConsumer(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 10, fake.Now())

	issued, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 2},
	})
	require.NoError(t, err)

	err = svc.Revoke(context.Background(), domain.RevokeRequest{
		ConsumerID:    "someone-else",
		EntitlementID: issued[0].ID,
	})
	assert.True(t, errors.Is(err, domain.ErrEntitlementNotFound))
}

func TestDeletePoolGuardedByEntitlements(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 10, fake.Now())

	issued, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pool.ID.String(): 1},
	})
	require.NoError(t, err)

	err = svc.DeletePool(context.Background(), pool.ID.String())
	assert.True(t, errors.Is(err, domain.ErrPoolInUse))

	require.NoError(t, svc.Revoke(context.Background(), domain.RevokeRequest{
		ConsumerID:    "consumer-1",
		EntitlementID: issued[0].ID,
	}))
	require.NoError(t, svc.DeletePool(context.Background(), pool.ID.String()))

	_, err = svc.GetPool(context.Background(), pool.ID.String())
	assert.True(t, errors.Is(err, domain.ErrPoolNotFound))
}

func TestRefreshPoolsReconciliation(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	now := fake.Now()
	ctx := context.Background()

	subs := []subscriptiondomain.Subscription{
		{
			ID: "sub-1", OwnerKey: "acme", ProductID: "prod-1", Quantity: 10,
			StartDate: now, EndDate: now.AddDate(1, 0, 0),
			Attributes: datatypes.JSONMap{"support_level": "premium"},
			CreatedAt:  now, UpdatedAt: now,
		},
		{
			ID: "sub-2", OwnerKey: "acme", ProductID: "prod-2", Quantity: 5,
			StartDate: now, EndDate: now.AddDate(1, 0, 0),
			CreatedAt: now, UpdatedAt: now,
		},
	}
	for i := range subs {
		require.NoError(t, svc.subs.Upsert(ctx, db, &subs[i]))
	}

	result, err := svc.RefreshPools(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, result.PoolsCreated)
	assert.Equal(t, 0, result.PoolsUpdated)

	pools, err := svc.ListPools(ctx, domain.ListPoolsRequest{OwnerKey: "acme"})
	require.NoError(t, err)
	require.Len(t, pools, 2)
	for _, p := range pools {
		require.NotNil(t, p.SourceSubscription)
		assert.Equal(t, domain.PoolTypeNormal, p.Type)
	}

	// drift: quantity change on sub-1, sub-2 removed
	subs[0].Quantity = 20
	require.NoError(t, svc.subs.Upsert(ctx, db, &subs[0]))
	require.NoError(t, svc.subs.Delete(ctx, db, "sub-2"))

	result, err = svc.RefreshPools(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, result.PoolsCreated)
	assert.Equal(t, 1, result.PoolsUpdated)
	assert.Equal(t, 1, result.PoolsRemoved)

	pools, err = svc.ListPools(ctx, domain.ListPoolsRequest{OwnerKey: "acme"})
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, int64(20), pools[0].Quantity)

	// refresh with no drift is a no-op
	result, err = svc.RefreshPools(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, result.PoolsCreated+result.PoolsUpdated+result.PoolsRemoved)
}

func TestRefreshPoolsKeepsPoolWithEntitlements(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	now := fake.Now()
	ctx := context.Background()

	sub := subscriptiondomain.Subscription{
		ID: "sub-1", OwnerKey: "acme", ProductID: "prod-1", Quantity: 10,
		StartDate: now.AddDate(0, -1, 0), EndDate: now.AddDate(1, 0, 0),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, svc.subs.Upsert(ctx, db, &sub))

	_, err := svc.RefreshPools(ctx, "acme")
	require.NoError(t, err)

	pools, err := svc.ListPools(ctx, domain.ListPoolsRequest{OwnerKey: "acme"})
	require.NoError(t, err)
	require.Len(t, pools, 1)

	_, err = svc.Entitle(ctx, domain.EntitleRequest{
		ConsumerID:     "consumer-1",
		PoolQuantities: map[string]int64{pools[0].ID: 1},
	})
	require.NoError(t, err)

	require.NoError(t, svc.subs.Delete(ctx, db, "sub-1"))
	result, err := svc.RefreshPools(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, result.PoolsRemoved)

	pools, err = svc.ListPools(ctx, domain.ListPoolsRequest{OwnerKey: "acme"})
	require.NoError(t, err)
	assert.Len(t, pools, 1)
}

func TestListPoolsFilters(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	now := fake.Now()
	ctx := context.Background()

	seedPool(t, svc, db, 10, now)
	other := &domain.Pool{
		ID:        svc.genID.Generate(),
		OwnerKey:  "globex",
		ProductID: "prod-9",
		Quantity:  1,
		StartDate: now.AddDate(0, -2, 0),
		EndDate:   now.AddDate(0, -1, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, svc.repo.CreatePool(ctx, db, other))

	pools, err := svc.ListPools(ctx, domain.ListPoolsRequest{OwnerKey: "acme"})
	require.NoError(t, err)
	assert.Len(t, pools, 1)

	active := now
	pools, err = svc.ListPools(ctx, domain.ListPoolsRequest{ActiveOn: &active})
	require.NoError(t, err)
	assert.Len(t, pools, 1)

	pools, err = svc.ListPools(ctx, domain.ListPoolsRequest{ProductID: "prod-9"})
	require.NoError(t, err)
	assert.Len(t, pools, 1)
}

func TestEntitleValidation(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	ctx := context.Background()

	_, err := svc.Entitle(ctx, domain.EntitleRequest{ConsumerID: "", PoolQuantities: map[string]int64{"1": 1}})
	assert.True(t, errors.Is(err, domain.ErrInvalidConsumer))

	_, err = svc.Entitle(ctx, domain.EntitleRequest{ConsumerID: "c"})
	assert.True(t, errors.Is(err, domain.ErrInvalidPoolID))

	_, err = svc.Entitle(ctx, domain.EntitleRequest{ConsumerID: "c", PoolQuantities: map[string]int64{"1": 0}})
	assert.True(t, errors.Is(err, domain.ErrInvalidQuantity))

	_, err = svc.Entitle(ctx, domain.EntitleRequest{ConsumerID: "c", PoolQuantities: map[string]int64{"999999": 1}})
	assert.True(t, errors.Is(err, domain.ErrPoolNotFound))
}

func TestEntitleRejectsDuplicatePoolKeys(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 5, fake.Now())

	// Whitespace variants of the same key parse to one pool; issuing both
	// would spend its capacity twice.
	_, err := svc.Entitle(context.Background(), domain.EntitleRequest{
		ConsumerID: "consumer-1",
		PoolQuantities: map[string]int64{
			pool.ID.String():       3,
			" " + pool.ID.String(): 3,
		},
	})
	require.True(t, errors.Is(err, domain.ErrInvalidPoolID))

	reloaded, err := svc.repo.FindPoolByID(context.Background(), db, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.Consumed)
}

func TestEntitleConcurrentBatchesNeverOverissue(t *testing.T) {
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, fake)
	pool := seedPool(t, svc, db, 5, fake.Now())

	const callers = 4
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Entitle(context.Background(), domain.EntitleRequest{
				ConsumerID:     fmt.Sprintf("consumer-%d", i),
				PoolQuantities: map[string]int64{pool.ID.String(): 3},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var refused *domain.EntitlementRefusedError
		require.ErrorAs(t, err, &refused)
	}
	assert.Equal(t, 1, succeeded)

	reloaded, err := svc.repo.FindPoolByID(context.Background(), db, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reloaded.Consumed)
	assert.LessOrEqual(t, reloaded.Consumed, reloaded.Quantity)
}
