package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/capstan/internal/clock"
	"github.com/smallbiznis/capstan/internal/subscription/domain"
	"github.com/smallbiznis/capstan/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&domain.Subscription{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,
		Repo:  repository.Provide(),
	})
}

func validInput(id string) domain.SubscriptionInput {
	return domain.SubscriptionInput{
		ID:        id,
		ProductID: "prod-1",
		Quantity:  10,
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestImportAndList(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	imported, err := svc.Import(ctx, domain.ImportRequest{
		OwnerKey:      "acme",
		Subscriptions: []domain.SubscriptionInput{validInput("sub-1"), validInput("sub-2")},
	})
	require.NoError(t, err)
	assert.Len(t, imported, 2)

	listed, err := svc.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "sub-1", listed[0].ID)
	assert.Equal(t, "acme", listed[0].OwnerKey)
}

func TestImportIsIdempotentUpsert(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.Import(ctx, domain.ImportRequest{
		OwnerKey:      "acme",
		Subscriptions: []domain.SubscriptionInput{validInput("sub-1")},
	})
	require.NoError(t, err)

	updated := validInput("sub-1")
	updated.Quantity = 25
	_, err = svc.Import(ctx, domain.ImportRequest{
		OwnerKey:      "acme",
		Subscriptions: []domain.SubscriptionInput{updated},
	})
	require.NoError(t, err)

	listed, err := svc.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(25), listed[0].Quantity)
}

func TestImportValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.Import(ctx, domain.ImportRequest{OwnerKey: " "})
	assert.True(t, errors.Is(err, domain.ErrInvalidOwner))

	missingID := validInput("")
	_, err = svc.Import(ctx, domain.ImportRequest{OwnerKey: "acme", Subscriptions: []domain.SubscriptionInput{missingID}})
	assert.True(t, errors.Is(err, domain.ErrInvalidID))

	missingProduct := validInput("sub-1")
	missingProduct.ProductID = ""
	_, err = svc.Import(ctx, domain.ImportRequest{OwnerKey: "acme", Subscriptions: []domain.SubscriptionInput{missingProduct}})
	assert.True(t, errors.Is(err, domain.ErrInvalidProduct))

	badQuantity := validInput("sub-1")
	badQuantity.Quantity = -5
	_, err = svc.Import(ctx, domain.ImportRequest{OwnerKey: "acme", Subscriptions: []domain.SubscriptionInput{badQuantity}})
	assert.True(t, errors.Is(err, domain.ErrInvalidQuantity))

	badDates := validInput("sub-1")
	badDates.EndDate = badDates.StartDate.AddDate(-1, 0, 0)
	_, err = svc.Import(ctx, domain.ImportRequest{OwnerKey: "acme", Subscriptions: []domain.SubscriptionInput{badDates}})
	assert.True(t, errors.Is(err, domain.ErrInvalidDateRange))

	// unlimited quantity is a valid value
	unlimited := validInput("sub-1")
	unlimited.Quantity = -1
	_, err = svc.Import(ctx, domain.ImportRequest{OwnerKey: "acme", Subscriptions: []domain.SubscriptionInput{unlimited}})
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.Import(ctx, domain.ImportRequest{
		OwnerKey:      "acme",
		Subscriptions: []domain.SubscriptionInput{validInput("sub-1")},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "sub-1"))

	listed, err := svc.List(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, listed)

	err = svc.Delete(ctx, "sub-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
