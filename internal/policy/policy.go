package policy

import (
	"context"

	"github.com/smallbiznis/capstan/internal/clock"
	"github.com/smallbiznis/capstan/internal/pool/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Rejection reasons surfaced to callers.
const (
	ReasonPoolNotActive      = "pool_not_active"
	ReasonCapacityExceeded   = "capacity_exceeded"
	ReasonUnmappedGuestsOnly = "unmapped_guests_only"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
}

// capacityPolicy is the default enforcement rule set: the pool must be
// inside its validity window and able to absorb the requested quantity.
type capacityPolicy struct {
	log   *zap.Logger
	clock clock.Clock
}

func New(p Params) domain.EnforcementPolicy {
	return &capacityPolicy{
		log:   p.Log.Named("policy"),
		clock: p.Clock,
	}
}

func (c *capacityPolicy) Validate(ctx context.Context, consumerID string, pool *domain.Pool, quantity int64) domain.ValidationResult {
	var result domain.ValidationResult

	now := c.clock.Now()
	if !pool.ActiveAt(now) {
		result.AddError(ReasonPoolNotActive)
	}
	if !pool.EntitlementsAvailable(quantity) {
		result.AddError(ReasonCapacityExceeded)
	}
	// Guest mapping state is not tracked here, so unmapped-guest pools
	// are flagged rather than refused outright.
	if pool.Type() == domain.PoolTypeUnmappedGuest {
		result.AddWarning(ReasonUnmappedGuestsOnly)
	}

	if !result.Valid() {
		c.log.Debug("entitlement rejected",
			zap.String("consumer_id", consumerID),
			zap.String("pool_id", pool.ID.String()),
			zap.Int64("quantity", quantity),
			zap.Strings("reasons", result.Errors),
		)
	}
	return result
}

var Module = fx.Module("policy",
	fx.Provide(New),
)
