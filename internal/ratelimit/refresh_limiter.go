package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/capstan/internal/config"
	"github.com/smallbiznis/capstan/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// One refresh every 30s per owner, with room for a small burst.
	refreshRate  = 1.0 / 30.0
	refreshBurst = 3
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// RefreshLimiter throttles per-owner pool refresh requests so a noisy
// caller cannot flood the job queue. Disabled when redis is not
// configured.
type RefreshLimiter struct {
	bucket  *TokenBucket
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewRefreshLimiter(p Params) *RefreshLimiter {
	var bucket *TokenBucket
	if p.Config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     p.Config.RedisAddr,
			Password: p.Config.RedisPassword,
		})
		bucket = NewTokenBucket(client)
	}
	return &RefreshLimiter{
		bucket:  bucket,
		log:     p.Log.Named("ratelimit"),
		metrics: p.Metrics,
	}
}

// Allow reports whether a refresh for ownerKey may proceed now.
func (l *RefreshLimiter) Allow(ctx context.Context, ownerKey string) (*Result, error) {
	if l == nil || l.bucket == nil {
		return &Result{Allowed: true}, nil
	}

	key := fmt.Sprintf("capstan:ratelimit:refresh:%s", ownerKey)
	result, err := l.bucket.Allow(ctx, key, refreshRate, refreshBurst)
	if err != nil {
		// Redis being down must not block refreshes.
		l.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return &Result{Allowed: true}, nil
	}
	if !result.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, "refresh_pools", "token_bucket")
	}
	return result, nil
}

var Module = fx.Module("rate.limit",
	fx.Provide(NewRefreshLimiter),
)
