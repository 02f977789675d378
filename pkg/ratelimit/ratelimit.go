package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/storage"
)

// Action classifies the operation being limited
type Action string

const (
	ActionRead         Action = "read"
	ActionWrite        Action = "write"
	ActionPodCreate    Action = "pod_create"
	ActionStreamCreate Action = "stream_create"
)

// windowFormat buckets counters into UTC hours
const windowFormat = "2006010215"

// Limiter enforces per-scope hourly action limits. A scope is a user ID or
// pod name depending on the action. Short-term bursts are smoothed with a
// token bucket per (scope, action); the hourly budget is a persisted
// counter so restarts do not reset the window.
type Limiter struct {
	cfg   config.RateLimitConfig
	store storage.Store

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a limiter backed by the given counter store
func New(cfg config.RateLimitConfig, store storage.Store) *Limiter {
	return &Limiter{
		cfg:     cfg,
		store:   store,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) limitFor(action Action) int {
	switch action {
	case ActionRead:
		return l.cfg.Read
	case ActionWrite:
		return l.cfg.Write
	case ActionPodCreate:
		return l.cfg.PodCreate
	case ActionStreamCreate:
		return l.cfg.StreamCreate
	default:
		return 0
	}
}

// Allow consumes one unit of the scope's budget for the action, returning
// RATE_LIMIT_EXCEEDED without performing the increment when the budget is
// spent. A zero limit disables the action's limiting.
func (l *Limiter) Allow(scope string, action Action) error {
	if !l.cfg.Enabled {
		return nil
	}
	limit := l.limitFor(action)
	if limit <= 0 {
		return nil
	}

	window := time.Now().UTC().Format(windowFormat)
	count, err := l.store.GetCounter(scope, string(action), window)
	if err != nil {
		// Counter read failures must not take down the request path
		log.Logger.Warn().Err(err).Str("scope", scope).Msg("rate counter read failed")
		return nil
	}
	if count >= int64(limit) {
		metrics.RateLimitedTotal.WithLabelValues(string(action)).Inc()
		return errdefs.Newf(errdefs.CodeRateLimitExceeded, "%s limit exceeded for %s", action, scope)
	}

	if !l.bucket(scope, action, limit).Allow() {
		metrics.RateLimitedTotal.WithLabelValues(string(action)).Inc()
		return errdefs.Newf(errdefs.CodeRateLimitExceeded, "%s burst limit exceeded for %s", action, scope)
	}

	if _, err := l.store.IncrementCounter(scope, string(action), window); err != nil {
		log.Logger.Warn().Err(err).Str("scope", scope).Msg("rate counter increment failed")
	}
	return nil
}

// bucket returns the burst smoother for a (scope, action) pair
func (l *Limiter) bucket(scope string, action Action, limit int) *rate.Limiter {
	key := scope + ":" + string(action)

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.buckets[key]
	if !exists {
		// Burst of the full hourly budget; the persisted counter is the
		// hard ceiling, the bucket only smooths sustained overuse.
		limiter = rate.NewLimiter(rate.Limit(float64(limit)/3600.0), limit)
		l.buckets[key] = limiter
	}
	return limiter
}

// PruneLoop drops, once an hour, the counter windows more than two hours
// older than the current one, until the context is cancelled.
func (l *Limiter) PruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-2 * time.Hour).Format(windowFormat)
			if err := l.store.PruneCounters(cutoff); err != nil {
				log.Logger.Warn().Err(err).Msg("counter prune failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
