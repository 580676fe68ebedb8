package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/capstan/internal/clock"
	"github.com/smallbiznis/capstan/internal/observability/metrics"
	"github.com/smallbiznis/capstan/internal/pool/domain"
	subscriptiondomain "github.com/smallbiznis/capstan/internal/subscription/domain"
	"github.com/smallbiznis/capstan/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Subs    subscriptiondomain.Repository
	Policy  domain.EnforcementPolicy
	Metrics *metrics.Metrics
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	subs    subscriptiondomain.Repository
	policy  domain.EnforcementPolicy
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("pool.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		subs:    p.Subs,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

func (s *Service) Entitle(ctx context.Context, req domain.EntitleRequest) ([]domain.EntitlementResponse, error) {
	consumerID := strings.TrimSpace(req.ConsumerID)
	if consumerID == "" {
		return nil, domain.ErrInvalidConsumer
	}
	if len(req.PoolQuantities) == 0 {
		return nil, domain.ErrInvalidPoolID
	}

	type request struct {
		raw      string
		id       snowflake.ID
		quantity int64
	}
	requests := make([]request, 0, len(req.PoolQuantities))
	seen := make(map[snowflake.ID]struct{}, len(req.PoolQuantities))
	for rawID, quantity := range req.PoolQuantities {
		if quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		id, err := snowflake.ParseString(strings.TrimSpace(rawID))
		if err != nil {
			return nil, domain.ErrInvalidPoolID
		}
		// Two raw keys that parse to the same pool would load the row
		// twice and double-spend its capacity.
		if _, dup := seen[id]; dup {
			return nil, domain.ErrInvalidPoolID
		}
		seen[id] = struct{}{}
		requests = append(requests, request{raw: rawID, id: id, quantity: quantity})
	}
	// Lock pools in a stable order so concurrent batches cannot deadlock.
	sort.Slice(requests, func(i, j int) bool { return requests[i].id < requests[j].id })

	now := s.clock.Now()
	var issued []domain.EntitlementResponse

	err := s.db.Transaction(func(tx *gorm.DB) error {
		pools := make([]*domain.Pool, 0, len(requests))
		refused := make(map[string]domain.ValidationResult)

		for _, r := range requests {
			pool, err := s.repo.FindPoolByIDForUpdate(ctx, tx, r.id)
			if err != nil {
				return s.storeErr(err)
			}
			if pool == nil {
				return domain.ErrPoolNotFound
			}

			result := s.policy.Validate(ctx, consumerID, pool, r.quantity)
			if !result.Valid() {
				refused[r.raw] = result
			}
			pools = append(pools, pool)
		}

		if len(refused) > 0 {
			return &domain.EntitlementRefusedError{Results: refused}
		}

		issued = make([]domain.EntitlementResponse, 0, len(requests))
		for i, r := range requests {
			pool := pools[i]

			entitlement := &domain.Entitlement{
				ID:         s.genID.Generate(),
				ConsumerID: consumerID,
				PoolID:     pool.ID,
				Quantity:   r.quantity,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.repo.CreateEntitlement(ctx, tx, entitlement); err != nil {
				return s.storeErr(err)
			}

			pool.Consumed += r.quantity
			if pool.IsOverflowing() {
				s.log.Error("pool consumption exceeds capacity after policy approval",
					zap.String("pool_id", pool.ID.String()),
					zap.Int64("quantity", pool.Quantity),
					zap.Int64("consumed", pool.Consumed),
				)
				return domain.ErrInvariantViolation
			}
			pool.UpdatedAt = now
			if err := s.repo.UpdatePool(ctx, tx, pool); err != nil {
				return s.storeErr(err)
			}

			s.metrics.RecordEntitlementsIssued(ctx, string(pool.Type()), r.quantity)
			issued = append(issued, toEntitlementResponse(entitlement))
		}
		return nil
	})
	if err != nil {
		if _, ok := asRefused(err); ok {
			s.metrics.RecordEntitlementsRefused(ctx, "policy_rejected")
		}
		return nil, err
	}
	return issued, nil
}

func (s *Service) AdjustEntitlementQuantity(ctx context.Context, req domain.AdjustQuantityRequest) (*domain.EntitlementResponse, error) {
	consumerID := strings.TrimSpace(req.ConsumerID)
	if consumerID == "" {
		return nil, domain.ErrInvalidConsumer
	}
	entitlementID, err := snowflake.ParseString(strings.TrimSpace(req.EntitlementID))
	if err != nil {
		return nil, domain.ErrEntitlementNotFound
	}
	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := s.clock.Now()
	var resp domain.EntitlementResponse

	err = s.db.Transaction(func(tx *gorm.DB) error {
		entitlement, err := s.repo.FindEntitlementByID(ctx, tx, entitlementID)
		if err != nil {
			return s.storeErr(err)
		}
		if entitlement == nil || entitlement.ConsumerID != consumerID {
			return domain.ErrEntitlementNotFound
		}

		pool, err := s.repo.FindPoolByIDForUpdate(ctx, tx, entitlement.PoolID)
		if err != nil {
			return s.storeErr(err)
		}
		if pool == nil {
			return domain.ErrPoolNotFound
		}

		delta := req.Quantity - entitlement.Quantity
		if delta > 0 {
			result := s.policy.Validate(ctx, consumerID, pool, delta)
			if !result.Valid() {
				return &domain.EntitlementRefusedError{
					Results: map[string]domain.ValidationResult{pool.ID.String(): result},
				}
			}
		}

		pool.Consumed += delta
		if pool.Consumed < 0 || pool.IsOverflowing() {
			s.log.Error("pool accounting out of range on entitlement adjustment",
				zap.String("pool_id", pool.ID.String()),
				zap.Int64("quantity", pool.Quantity),
				zap.Int64("consumed", pool.Consumed),
			)
			return domain.ErrInvariantViolation
		}
		pool.UpdatedAt = now
		if err := s.repo.UpdatePool(ctx, tx, pool); err != nil {
			return s.storeErr(err)
		}

		entitlement.Quantity = req.Quantity
		entitlement.UpdatedAt = now
		if err := s.repo.UpdateEntitlement(ctx, tx, entitlement); err != nil {
			return s.storeErr(err)
		}

		resp = toEntitlementResponse(entitlement)
		return nil
	})
	if err != nil {
		if _, ok := asRefused(err); ok {
			s.metrics.RecordEntitlementsRefused(ctx, "policy_rejected")
		}
		return nil, err
	}
	return &resp, nil
}

func (s *Service) Revoke(ctx context.Context, req domain.RevokeRequest) error {
	consumerID := strings.TrimSpace(req.ConsumerID)
	if consumerID == "" {
		return domain.ErrInvalidConsumer
	}
	entitlementID, err := snowflake.ParseString(strings.TrimSpace(req.EntitlementID))
	if err != nil {
		return domain.ErrEntitlementNotFound
	}

	now := s.clock.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		entitlement, err := s.repo.FindEntitlementByID(ctx, tx, entitlementID)
		if err != nil {
			return s.storeErr(err)
		}
		if entitlement == nil || entitlement.ConsumerID != consumerID {
			return domain.ErrEntitlementNotFound
		}

		pool, err := s.repo.FindPoolByIDForUpdate(ctx, tx, entitlement.PoolID)
		if err != nil {
			return s.storeErr(err)
		}
		if pool == nil {
			return domain.ErrPoolNotFound
		}

		pool.Consumed -= entitlement.Quantity
		if pool.Consumed < 0 {
			s.log.Error("pool consumption went negative on revoke",
				zap.String("pool_id", pool.ID.String()),
				zap.Int64("consumed", pool.Consumed),
			)
			return domain.ErrInvariantViolation
		}
		pool.UpdatedAt = now
		if err := s.repo.UpdatePool(ctx, tx, pool); err != nil {
			return s.storeErr(err)
		}

		if err := s.repo.DeleteEntitlement(ctx, tx, entitlement.ID); err != nil {
			return s.storeErr(err)
		}

		s.metrics.RecordEntitlementsRevoked(ctx, string(pool.Type()))
		return nil
	})
}

func (s *Service) ListConsumerEntitlements(ctx context.Context, consumerID string) ([]domain.EntitlementResponse, error) {
	consumerID = strings.TrimSpace(consumerID)
	if consumerID == "" {
		return nil, domain.ErrInvalidConsumer
	}

	items, err := s.repo.ListEntitlementsByConsumer(ctx, s.db, consumerID)
	if err != nil {
		return nil, s.storeErr(err)
	}

	resp := make([]domain.EntitlementResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toEntitlementResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) GetPool(ctx context.Context, id string) (*domain.PoolResponse, error) {
	poolID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrPoolNotFound
	}

	pool, err := s.repo.FindPoolByID(ctx, s.db, poolID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if pool == nil {
		return nil, domain.ErrPoolNotFound
	}

	resp := toPoolResponse(pool)
	return &resp, nil
}

func (s *Service) ListPools(ctx context.Context, req domain.ListPoolsRequest) ([]domain.PoolResponse, error) {
	filter := domain.PoolFilter{
		OwnerKey:  strings.TrimSpace(req.OwnerKey),
		ProductID: strings.TrimSpace(req.ProductID),
		ActiveOn:  req.ActiveOn,
	}

	items, err := s.repo.ListPools(ctx, s.db, filter)
	if err != nil {
		return nil, s.storeErr(err)
	}

	resp := make([]domain.PoolResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toPoolResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) DeletePool(ctx context.Context, id string) error {
	poolID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrPoolNotFound
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		pool, err := s.repo.FindPoolByIDForUpdate(ctx, tx, poolID)
		if err != nil {
			return s.storeErr(err)
		}
		if pool == nil {
			return domain.ErrPoolNotFound
		}

		count, err := s.repo.CountEntitlementsByPool(ctx, tx, poolID)
		if err != nil {
			return s.storeErr(err)
		}
		if count > 0 {
			return domain.ErrPoolInUse
		}

		return s.storeErr(s.repo.DeletePool(ctx, tx, poolID))
	})
}

// RefreshPools reconciles the owner's subscription-backed pools against the
// imported subscriptions: missing pools are created, drifted pools updated,
// pools for removed subscriptions deleted once nothing references them.
func (s *Service) RefreshPools(ctx context.Context, ownerKey string) (*domain.RefreshResult, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return nil, domain.ErrInvalidConsumer
	}

	now := s.clock.Now()
	result := &domain.RefreshResult{OwnerKey: ownerKey}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		subs, err := s.subs.ListByOwner(ctx, tx, ownerKey)
		if err != nil {
			return s.storeErr(err)
		}
		pools, err := s.repo.ListPools(ctx, tx, domain.PoolFilter{OwnerKey: ownerKey})
		if err != nil {
			return s.storeErr(err)
		}

		poolsBySub := make(map[string]*domain.Pool)
		for i := range pools {
			pool := &pools[i]
			if src := pool.SourceSubscription(); src != nil && src.SubscriptionID != nil {
				poolsBySub[*src.SubscriptionID] = pool
			}
		}

		seen := make(map[string]bool, len(subs))
		for i := range subs {
			sub := &subs[i]
			seen[sub.ID] = true

			pool, ok := poolsBySub[sub.ID]
			if !ok {
				pool = &domain.Pool{
					ID:         s.genID.Generate(),
					OwnerKey:   ownerKey,
					ProductID:  sub.ProductID,
					Quantity:   sub.Quantity,
					Consumed:   0,
					StartDate:  sub.StartDate,
					EndDate:    sub.EndDate,
					Attributes: sub.Attributes,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				pool.SetSubscriptionID(sub.ID)
				pool.SetSubscriptionSubKey("master")
				if err := s.repo.CreatePool(ctx, tx, pool); err != nil {
					return s.storeErr(err)
				}
				result.PoolsCreated++
				continue
			}

			if pool.Quantity == sub.Quantity &&
				pool.ProductID == sub.ProductID &&
				pool.StartDate.Equal(sub.StartDate) &&
				pool.EndDate.Equal(sub.EndDate) {
				continue
			}

			if sub.Quantity == domain.UnlimitedQuantity {
				pool.Quantity = domain.UnlimitedQuantity
			} else {
				before := pool.Quantity
				pool.AdjustQuantity(sub.Quantity - pool.Quantity)
				if pool.Quantity != sub.Quantity {
					s.log.Warn("pool quantity clamped during refresh",
						zap.String("pool_id", pool.ID.String()),
						zap.Int64("previous", before),
						zap.Int64("subscription", sub.Quantity),
						zap.Int64("applied", pool.Quantity),
					)
				}
			}
			pool.ProductID = sub.ProductID
			pool.StartDate = sub.StartDate
			pool.EndDate = sub.EndDate
			pool.UpdatedAt = now
			if err := s.repo.UpdatePool(ctx, tx, pool); err != nil {
				return s.storeErr(err)
			}
			result.PoolsUpdated++
		}

		for subID, pool := range poolsBySub {
			if seen[subID] {
				continue
			}
			count, err := s.repo.CountEntitlementsByPool(ctx, tx, pool.ID)
			if err != nil {
				return s.storeErr(err)
			}
			if count > 0 {
				s.log.Warn("pool for removed subscription still has entitlements",
					zap.String("pool_id", pool.ID.String()),
					zap.String("subscription_id", subID),
					zap.Int64("entitlements", count),
				)
				continue
			}
			if err := s.repo.DeletePool(ctx, tx, pool.ID); err != nil {
				return s.storeErr(err)
			}
			result.PoolsRemoved++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("owner pools refreshed",
		zap.String("owner_key", ownerKey),
		zap.Int("created", result.PoolsCreated),
		zap.Int("updated", result.PoolsUpdated),
		zap.Int("removed", result.PoolsRemoved),
	)
	return result, nil
}

func (s *Service) storeErr(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUnavailableErr(err) {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return err
}

func asRefused(err error) (*domain.EntitlementRefusedError, bool) {
	var refused *domain.EntitlementRefusedError
	if errors.As(err, &refused) {
		return refused, true
	}
	return nil, false
}

func toEntitlementResponse(e *domain.Entitlement) domain.EntitlementResponse {
	return domain.EntitlementResponse{
		ID:         e.ID.String(),
		ConsumerID: e.ConsumerID,
		PoolID:     e.PoolID.String(),
		Quantity:   e.Quantity,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func toPoolResponse(p *domain.Pool) domain.PoolResponse {
	resp := domain.PoolResponse{
		ID:                 p.ID.String(),
		OwnerKey:           p.OwnerKey,
		ProductID:          p.ProductID,
		Type:               p.Type(),
		Quantity:           p.Quantity,
		Consumed:           p.Consumed,
		StartDate:          p.StartDate,
		EndDate:            p.EndDate,
		Attributes:         p.Attributes,
		SourceStack:        p.SourceStack(),
		SourceSubscription: p.SourceSubscription(),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.SourceEntitlementID != nil {
		id := p.SourceEntitlementID.String()
		resp.SourceEntitlement = &id
	}
	return resp
}
