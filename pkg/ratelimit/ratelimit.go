// Package ratelimit gates a per-key rate over a shared ulule/limiter
// store, generalized from Gin-request throttling into the plain
// Allow(ctx, key) bool shape EventScope's outbound path needs.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"go.uber.org/zap"

	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/internal/metrics"
)

// Limiter enforces a single formatted rate (e.g. "120-M") across
// arbitrary keys (client ids, event names, IPs).
type Limiter struct {
	instance *limiter.Limiter
	label    string
}

// New builds a Limiter backed by an in-memory store. format follows
// ulule/limiter's "<limit>-<period>" syntax (e.g. "120-M" = 120 per
// minute).
func New(format, label string) (*Limiter, error) {
	return newWithStore(format, label, memory.NewStore())
}

// NewRedis builds a Limiter backed by Redis, so the rate is shared
// across every process behind the same container.
func NewRedis(format, label string, client *redis.Client) (*Limiter, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "livesync:ratelimit:",
	})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: failed to create redis store: %w", err)
	}
	return newWithStore(format, label, store)
}

func newWithStore(format, label string, store limiter.Store) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(format)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: invalid rate %q: %w", format, err)
	}
	return &Limiter{
		instance: limiter.New(store, rate),
		label:    label,
	}, nil
}

// Allow reports whether key is still within its rate. On store failure
// it fails open (returns true) and logs: a broken limiter store must not
// take event delivery down with it.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	limiterCtx, err := l.instance.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed, failing open", zap.Error(err), zap.String("key", key))
		return true
	}
	if limiterCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(l.label).Inc()
		return false
	}
	return true
}
