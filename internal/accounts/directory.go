package accounts

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// RepositoryPort abstracts chart-of-accounts persistence for the Directory.
type RepositoryPort interface {
	ListActive(ctx context.Context, tenantID int64) ([]Account, error)
	CreateDefaultChart(ctx context.Context, tenantID int64) error
}

// Directory resolves semantic roles to concrete ledger accounts per tenant,
// bootstrapping the default chart when a tenant has none.
type Directory struct {
	repo          RepositoryPort
	cache         *RoleCache
	rules         []MatchRule
	autoBootstrap bool
	group         singleflight.Group
}

// NewDirectory constructs the Directory. cache may be nil; rules defaults to
// DefaultRules when empty.
func NewDirectory(repo RepositoryPort, cache *RoleCache, rules []MatchRule, autoBootstrap bool) *Directory {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Directory{repo: repo, cache: cache, rules: rules, autoBootstrap: autoBootstrap}
}

// ResolveRoles returns the role → account id map for a tenant. Concurrent
// misses for one tenant collapse into a single lookup.
func (d *Directory) ResolveRoles(ctx context.Context, tenantID int64) (RoleMap, error) {
	if m, ok := d.cache.Get(ctx, tenantID); ok {
		return m, nil
	}
	v, err, _ := d.group.Do(fmt.Sprintf("%d", tenantID), func() (any, error) {
		return d.resolve(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(RoleMap), nil
}

func (d *Directory) resolve(ctx context.Context, tenantID int64) (RoleMap, error) {
	accounts, err := d.repo.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		if !d.autoBootstrap {
			return nil, ErrNoChartOfAccounts
		}
		if err := d.repo.CreateDefaultChart(ctx, tenantID); err != nil {
			return nil, err
		}
		accounts, err = d.repo.ListActive(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if len(accounts) == 0 {
			return nil, ErrNoChartOfAccounts
		}
	}
	m := resolveRoles(accounts, d.rules)
	d.cache.Set(ctx, tenantID, m)
	return m, nil
}

// Invalidate drops the cached role map for a tenant.
func (d *Directory) Invalidate(ctx context.Context, tenantID int64) {
	d.cache.Invalidate(ctx, tenantID)
}

// resolveRoles evaluates the rule table in priority order. Ties between
// accounts matching the same rule break by lowest code.
func resolveRoles(accounts []Account, rules []MatchRule) RoleMap {
	m := make(RoleMap)
	for _, rule := range rules {
		if _, done := m[rule.Role]; done {
			continue
		}
		var best *Account
		for i := range accounts {
			a := &accounts[i]
			if !rule.Matches(*a) {
				continue
			}
			if best == nil || a.Code < best.Code {
				best = a
			}
		}
		if best != nil {
			m[rule.Role] = best.ID
		}
	}
	return m
}
