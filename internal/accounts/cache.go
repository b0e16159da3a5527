package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoleCache stores resolved role maps per tenant with a bounded TTL. It is
// passed by reference into the Directory so invalidation stays explicit.
type RoleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoleCache constructs the cache. TTL values below one second are clamped
// to the one-minute default.
func NewRoleCache(client *redis.Client, ttl time.Duration) *RoleCache {
	if ttl < time.Second {
		ttl = time.Minute
	}
	return &RoleCache{client: client, ttl: ttl}
}

func roleKey(tenantID int64) string {
	return fmt.Sprintf("meridian:roles:%d", tenantID)
}

// Get returns the cached role map for a tenant, if present.
func (c *RoleCache) Get(ctx context.Context, tenantID int64) (RoleMap, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, roleKey(tenantID)).Bytes()
	if err != nil {
		return nil, false
	}
	var m RoleMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// Set stores the role map for a tenant.
func (c *RoleCache) Set(ctx context.Context, tenantID int64, m RoleMap) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.client.Set(ctx, roleKey(tenantID), raw, c.ttl)
}

// Invalidate drops the cached role map for a tenant. Call after any account
// write for the tenant.
func (c *RoleCache) Invalidate(ctx context.Context, tenantID int64) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, roleKey(tenantID))
}
