package invbridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ledger/meridian/internal/platform/db"
)

// SQLStock is the database-backed CostSource and Adjuster over the products
// and stock_movements tables.
type SQLStock struct {
	pool *pgxpool.Pool
}

// NewSQLStock constructs SQLStock.
func NewSQLStock(pool *pgxpool.Pool) *SQLStock {
	return &SQLStock{pool: pool}
}

// UnitCosts returns the stored unit cost per product id.
func (s *SQLStock) UnitCosts(ctx context.Context, tenantID int64, productIDs []int64) (map[int64]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, unit_cost FROM products WHERE tenant_id=$1 AND id = ANY($2)`,
		tenantID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	costs := make(map[int64]float64, len(productIDs))
	for rows.Next() {
		var id int64
		var cost float64
		if err := rows.Scan(&id, &cost); err != nil {
			return nil, err
		}
		costs[id] = cost
	}
	return costs, rows.Err()
}

var errMovementApplied = errors.New("invbridge: movement already applied")

// AdjustQuantity records the movement and applies the stock delta in one
// transaction. The movement row carries the source transaction id under a
// unique (tenant_id, transaction_id, product_id) index: a retried batch hits
// the duplicate and skips the delta instead of applying it twice. The guarded
// update keeps on-hand quantity from going negative under concurrent
// consumption.
func (s *SQLStock) AdjustQuantity(ctx context.Context, tenantID, txnID, productID int64, delta float64, reason string) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO stock_movements (tenant_id, transaction_id, product_id, delta, reason)
VALUES ($1,$2,$3,$4,$5)`, tenantID, txnID, productID, delta, reason)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return errMovementApplied
			}
			return err
		}
		cmd, err := tx.Exec(ctx, `UPDATE products SET quantity = quantity + $3, updated_at = NOW()
WHERE tenant_id=$1 AND id=$2 AND quantity + $3 >= 0`, tenantID, productID, delta)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("product %d missing or insufficient stock", productID)
		}
		return nil
	})
	if errors.Is(err, errMovementApplied) {
		return nil
	}
	return err
}
