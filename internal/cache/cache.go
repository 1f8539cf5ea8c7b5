package cache

import (
	"context"
	"time"
)

// Keys of the derived views. Every successful save invalidates all of them.
const (
	KeyTodayPrices    = "today_prices"
	KeyTomorrowPrices = "tomorrow_prices"
	KeyDashboardStats = "dashboard_stats"
)

func AllKeys() []string {
	return []string{KeyTodayPrices, KeyTomorrowPrices, KeyDashboardStats}
}

// TTLs are the lifetime tiers of the cached views.
type TTLs struct {
	Today    time.Duration
	Tomorrow time.Duration
	Stats    time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{Today: 6 * time.Hour, Tomorrow: 12 * time.Hour, Stats: time.Hour}
}

// Cache stores JSON-encodable values with a TTL. A miss is (false, nil).
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}
