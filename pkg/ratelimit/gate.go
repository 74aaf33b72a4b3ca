// Package ratelimit implements the rate/burst gate: a sliding-window
// burst detector over a keyed counter store, plus per-tier,
// per-operation, per-minute quotas.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// CounterStore is the minimal keyed-store contract the gate needs. A
// Redis client satisfies it directly; tests substitute a fake or
// miniredis.
type CounterStore interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Gate enforces the per-tenant sliding-window burst limit and per-tier
// per-operation quotas.
type Gate struct {
	store          CounterStore
	window         time.Duration
	burstThreshold int
	logger         *zap.Logger

	// fallback holds one in-process token bucket per "{op}:{tenant}:{agent}"
	// key, used only when the keyed store is unreachable so a degraded quota
	// check still bounds the caller instead of going fully permissive.
	fallbackMu sync.Mutex
	fallback   map[string]*rate.Limiter
}

func NewGate(store CounterStore, window time.Duration, burstThreshold int, logger *zap.Logger) *Gate {
	return &Gate{
		store:          store,
		window:         window,
		burstThreshold: burstThreshold,
		logger:         logger,
		fallback:       make(map[string]*rate.Limiter),
	}
}

// fallbackLimiter returns the process-local token bucket for key, sized to
// limitPerMinute, creating it on first use.
func (g *Gate) fallbackLimiter(key string, limitPerMinute int) *rate.Limiter {
	g.fallbackMu.Lock()
	defer g.fallbackMu.Unlock()
	lim, ok := g.fallback[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limitPerMinute)/60.0), limitPerMinute)
		g.fallback[key] = lim
	}
	return lim
}

// CheckBurst records contributionID against tenantID's sliding window and
// reports whether the tenant is over the burst threshold. If the keyed
// store is unavailable, it degrades permissively and logs rather than
// blocking every contribution.
func (g *Gate) CheckBurst(ctx context.Context, tenantID, contributionID string) (allowed bool, err error) {
	if g.store == nil {
		g.logWarn("burst gate degraded: no keyed store configured", tenantID)
		return true, nil
	}

	key := fmt.Sprintf("burst:%s", tenantID)
	now := time.Now()

	if err := g.store.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: contributionID}).Err(); err != nil {
		g.logWarn("burst gate degraded: store write failed", tenantID)
		return true, nil
	}
	g.store.Expire(ctx, key, g.window*2)

	cutoff := now.Add(-g.window).UnixNano()
	if err := g.store.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff)).Err(); err != nil {
		g.logWarn("burst gate degraded: prune failed", tenantID)
		return true, nil
	}

	count, err := g.store.ZCard(ctx, key).Result()
	if err != nil {
		g.logWarn("burst gate degraded: cardinality read failed", tenantID)
		return true, nil
	}

	return int(count) <= g.burstThreshold, nil
}

// CheckQuota enforces a per-tier, per-operation, per-minute quota keyed
// "{op}:{tenant}:{agent}".
func (g *Gate) CheckQuota(ctx context.Context, op, tenantID, agentID string, limitPerMinute int) (allowed bool, err error) {
	key := fmt.Sprintf("%s:%s:%s", op, tenantID, agentID)

	if g.store == nil {
		g.logWarn("quota gate degraded: no keyed store configured, using local token bucket", tenantID)
		return g.fallbackLimiter(key, limitPerMinute).Allow(), nil
	}

	count, err := g.store.Incr(ctx, key).Result()
	if err != nil {
		g.logWarn("quota gate degraded: store write failed, using local token bucket", tenantID)
		return g.fallbackLimiter(key, limitPerMinute).Allow(), nil
	}
	if count == 1 {
		g.store.Expire(ctx, key, time.Minute)
	}

	return int(count) <= limitPerMinute, nil
}

func (g *Gate) logWarn(msg, tenantID string) {
	if g.logger == nil {
		return
	}
	g.logger.Warn(msg, logging.NewFields().Component("ratelimit").Tenant(tenantID).Zap()...)
}
