package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/capstan/internal/clock"
	"github.com/smallbiznis/capstan/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Import(ctx context.Context, req domain.ImportRequest) ([]domain.Response, error) {
	ownerKey := strings.TrimSpace(req.OwnerKey)
	if ownerKey == "" {
		return nil, domain.ErrInvalidOwner
	}

	now := s.clock.Now()
	subs := make([]domain.Subscription, 0, len(req.Subscriptions))
	for _, input := range req.Subscriptions {
		id := strings.TrimSpace(input.ID)
		if id == "" {
			return nil, domain.ErrInvalidID
		}
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return nil, domain.ErrInvalidProduct
		}
		if input.Quantity < -1 {
			return nil, domain.ErrInvalidQuantity
		}
		if input.EndDate.Before(input.StartDate) {
			return nil, domain.ErrInvalidDateRange
		}

		subs = append(subs, domain.Subscription{
			ID:         id,
			OwnerKey:   ownerKey,
			ProductID:  productID,
			Quantity:   input.Quantity,
			StartDate:  input.StartDate,
			EndDate:    input.EndDate,
			Attributes: datatypes.JSONMap(input.Attributes),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range subs {
			if err := s.repo.Upsert(ctx, tx, &subs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscriptions imported",
		zap.String("owner_key", ownerKey),
		zap.Int("count", len(subs)),
	)

	resp := make([]domain.Response, 0, len(subs))
	for i := range subs {
		resp = append(resp, toResponse(&subs[i]))
	}
	return resp, nil
}

func (s *Service) List(ctx context.Context, ownerKey string) ([]domain.Response, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return nil, domain.ErrInvalidOwner
	}

	items, err := s.repo.ListByOwner(ctx, s.db, ownerKey)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ErrInvalidID
	}

	existing, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}

	return s.repo.Delete(ctx, s.db, id)
}

func toResponse(sub *domain.Subscription) domain.Response {
	return domain.Response{
		ID:         sub.ID,
		OwnerKey:   sub.OwnerKey,
		ProductID:  sub.ProductID,
		Quantity:   sub.Quantity,
		StartDate:  sub.StartDate,
		EndDate:    sub.EndDate,
		Attributes: sub.Attributes,
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
}
