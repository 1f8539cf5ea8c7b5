package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type view struct {
	Average float64  `json:"average"`
	Hours   []string `json:"hours"`
}

// backends returns each implementation with a function that moves its clock forward.
func backends(t *testing.T) map[string]struct {
	c       Cache
	advance func(time.Duration)
} {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	mem := NewMemoryCache()
	clock := time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return clock }

	return map[string]struct {
		c       Cache
		advance func(time.Duration)
	}{
		"memory": {mem, func(d time.Duration) { clock = clock.Add(d) }},
		"redis":  {NewRedisCache(client), mr.FastForward},
	}
}

func TestCache_RoundTripAndMiss(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var got view
			hit, err := b.c.Get(ctx, KeyTodayPrices, &got)
			require.NoError(t, err)
			assert.False(t, hit)

			want := view{Average: 0.123, Hours: []string{"00", "01"}}
			require.NoError(t, b.c.Set(ctx, KeyTodayPrices, want, time.Hour))

			hit, err = b.c.Get(ctx, KeyTodayPrices, &got)
			require.NoError(t, err)
			assert.True(t, hit)
			assert.Equal(t, want, got)
		})
	}
}

func TestCache_Expiry(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.c.Set(ctx, KeyDashboardStats, view{Average: 1}, time.Hour))

			b.advance(59 * time.Minute)
			var got view
			hit, err := b.c.Get(ctx, KeyDashboardStats, &got)
			require.NoError(t, err)
			assert.True(t, hit)

			b.advance(2 * time.Minute)
			hit, err = b.c.Get(ctx, KeyDashboardStats, &got)
			require.NoError(t, err)
			assert.False(t, hit)
		})
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range AllKeys() {
				require.NoError(t, b.c.Set(ctx, k, view{Average: 2}, time.Hour))
			}

			require.NoError(t, b.c.Invalidate(ctx, AllKeys()...))
			require.NoError(t, b.c.Invalidate(ctx))

			for _, k := range AllKeys() {
				var got view
				hit, err := b.c.Get(ctx, k, &got)
				require.NoError(t, err)
				assert.False(t, hit, k)
			}
		})
	}
}

func TestRedisCache_BackendErrorSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := NewRedisCache(client)

	mr.Close()

	var got view
	hit, err := c.Get(context.Background(), KeyTodayPrices, &got)
	assert.Error(t, err)
	assert.False(t, hit)
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	_, err = ConnectRedis(context.Background(), "not-a-url")
	assert.Error(t, err)
}
