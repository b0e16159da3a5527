package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RoleCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRoleCache(client, ttl), mr
}

func TestRoleCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1)
	require.False(t, ok)

	want := RoleMap{RoleCash: 11, RoleSalesRevenue: 42}
	cache.Set(ctx, 1, want)

	got, ok := cache.Get(ctx, 1)
	require.True(t, ok)
	require.Equal(t, want, got)

	// Tenants do not share entries.
	_, ok = cache.Get(ctx, 2)
	require.False(t, ok)
}

func TestRoleCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, 1, RoleMap{RoleCash: 11})
	cache.Invalidate(ctx, 1)

	_, ok := cache.Get(ctx, 1)
	require.False(t, ok)
}

func TestRoleCacheExpiry(t *testing.T) {
	cache, mr := newTestCache(t, time.Second)
	ctx := context.Background()

	cache.Set(ctx, 1, RoleMap{RoleCash: 11})
	mr.FastForward(2 * time.Second)

	_, ok := cache.Get(ctx, 1)
	require.False(t, ok)
}

func TestRoleCacheNilSafety(t *testing.T) {
	var cache *RoleCache
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1)
	require.False(t, ok)
	cache.Set(ctx, 1, RoleMap{RoleCash: 1})
	cache.Invalidate(ctx, 1)
}

func TestRoleCacheClampsTinyTTL(t *testing.T) {
	cache, mr := newTestCache(t, time.Millisecond)
	ctx := context.Background()

	cache.Set(ctx, 1, RoleMap{RoleCash: 11})
	mr.FastForward(30 * time.Second)

	_, ok := cache.Get(ctx, 1)
	require.True(t, ok)
}
