package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ledger/meridian/internal/platform/db"
)

// Repository persists the chart of accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActive returns the tenant's active accounts ordered by code.
func (r *Repository) ListActive(ctx context.Context, tenantID int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.tenant_id, a.code, a.name, a.type_id, t.category, a.balance, a.is_active, a.created_at, a.updated_at
FROM accounts a
JOIN account_types t ON t.id = a.type_id
WHERE a.tenant_id = $1 AND a.is_active
ORDER BY a.code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.TypeID, &a.Category, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

var errChartSeeded = errors.New("accounts: chart already seeded")

// CreateDefaultChart writes the standard account types and default accounts
// for a tenant in one transaction. Two processes can pass the existence check
// together; the unique index on (tenant_id, code) fails the loser's insert,
// which rolls its partial seed back and reads as an already-seeded chart.
func (r *Repository) CreateDefaultChart(ctx context.Context, tenantID int64) error {
	if tenantID == 0 {
		return errors.New("accounts: tenant required")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE tenant_id = $1)`, tenantID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return errChartSeeded
		}
		typeIDs := make(map[string]int64, len(defaultTypes()))
		for _, st := range defaultTypes() {
			var id int64
			err := tx.QueryRow(ctx, `INSERT INTO account_types (tenant_id, name, category) VALUES ($1, $2, $3) RETURNING id`,
				tenantID, st.Name, st.Category).Scan(&id)
			if err != nil {
				if isUniqueViolation(err) {
					return errChartSeeded
				}
				return fmt.Errorf("accounts: seed type %s: %w", st.Name, err)
			}
			typeIDs[st.Name] = id
		}
		for _, sa := range defaultAccounts() {
			typeID, ok := typeIDs[sa.TypeName]
			if !ok {
				return fmt.Errorf("accounts: seed account %s references unknown type %s", sa.Code, sa.TypeName)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO accounts (tenant_id, code, name, type_id, balance, is_active) VALUES ($1, $2, $3, $4, 0, TRUE)`,
				tenantID, sa.Code, sa.Name, typeID); err != nil {
				if isUniqueViolation(err) {
					return errChartSeeded
				}
				return fmt.Errorf("accounts: seed account %s: %w", sa.Code, err)
			}
		}
		return nil
	})
	if errors.Is(err, errChartSeeded) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
