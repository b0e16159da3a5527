package shared

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeletionPolicy answers whether hard deletion of a resource kind is permitted
// for a tenant, and records every attempt for the audit trail.
type DeletionPolicy interface {
	Allows(ctx context.Context, tenantID int64, resource string) (bool, error)
	LogAttempt(ctx context.Context, tenantID, actorID int64, resource, id, label string) error
}

// AuditedDeletionPolicy is the database-backed DeletionPolicy. A tenant may
// hold explicit per-resource rows in deletion_policies; absent a row, deletion
// of a resource is allowed only while the tenant has no transaction history.
type AuditedDeletionPolicy struct {
	pool      *pgxpool.Pool
	audit     *AuditLogger
	overrides map[string]bool
}

// NewDeletionPolicy constructs the policy. Overrides force-allow a resource
// kind process-wide (operator escape hatch via configuration).
func NewDeletionPolicy(pool *pgxpool.Pool, audit *AuditLogger, overrides map[string]bool) *AuditedDeletionPolicy {
	return &AuditedDeletionPolicy{pool: pool, audit: audit, overrides: overrides}
}

// Allows reports whether the resource kind may be hard-deleted for the tenant.
func (p *AuditedDeletionPolicy) Allows(ctx context.Context, tenantID int64, resource string) (bool, error) {
	if p == nil {
		return false, errors.New("deletion policy not initialised")
	}
	if p.overrides[resource] {
		return true, nil
	}
	var allowed bool
	err := p.pool.QueryRow(ctx, `SELECT allowed FROM deletion_policies WHERE tenant_id=$1 AND resource=$2`,
		tenantID, resource).Scan(&allowed)
	if err == nil {
		return allowed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	// No explicit policy: deletion stays open only until the first transaction
	// exists, then the audit trail wins.
	var hasHistory bool
	err = p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE tenant_id=$1)`, tenantID).Scan(&hasHistory)
	if err != nil {
		return false, err
	}
	return !hasHistory, nil
}

// LogAttempt records a deletion attempt regardless of outcome.
func (p *AuditedDeletionPolicy) LogAttempt(ctx context.Context, tenantID, actorID int64, resource, id, label string) error {
	if p == nil || p.audit == nil {
		return nil
	}
	return p.audit.Record(ctx, AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   "delete.attempt",
		Entity:   resource,
		EntityID: id,
		Meta:     map[string]any{"label": label},
	})
}
