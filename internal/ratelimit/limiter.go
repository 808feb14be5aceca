// Package ratelimit provides keyed counters with window-based limits.
// Counting is approximate by design: the in-memory store is exact per
// process, the Redis store uses fixed windows shared across instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/calderray/aegis/internal/models"
)

// CounterStore is a keyed counter over a time window. Implementations
// must be safe for concurrent use.
type CounterStore interface {
	// Increment adds one occurrence for key and returns the count
	// observed within the window, including the new occurrence.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Count returns the number of occurrences for key within the window
	// without recording anything.
	Count(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Tier is one limit layer, e.g. "at most 5 per hour".
type Tier struct {
	Name   string
	Window time.Duration
	Max    int64
}

// Limiter enforces a set of tiers over a shared counter store. All
// tiers are checked before anything is recorded, so a rejected attempt
// leaves no trace in any tier.
type Limiter struct {
	store CounterStore
	tiers []Tier
}

func NewLimiter(store CounterStore, tiers []Tier) *Limiter {
	return &Limiter{store: store, tiers: tiers}
}

// Allow checks every tier for key and, if all pass, records the
// attempt in each. Returns ErrRateLimitExceeded on the first violated
// tier.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	for _, tier := range l.tiers {
		count, err := l.store.Count(ctx, l.tierKey(key, tier), tier.Window)
		if err != nil {
			return fmt.Errorf("rate limit check %s: %w", tier.Name, err)
		}
		if count >= tier.Max {
			return models.ErrRateLimitExceeded
		}
	}

	for _, tier := range l.tiers {
		if _, err := l.store.Increment(ctx, l.tierKey(key, tier), tier.Window); err != nil {
			return fmt.Errorf("rate limit record %s: %w", tier.Name, err)
		}
	}

	return nil
}

func (l *Limiter) tierKey(key string, tier Tier) string {
	return key + ":" + tier.Name
}
