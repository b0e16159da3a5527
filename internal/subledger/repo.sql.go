package subledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists subsidiary records and their payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, tenant_id, kind, counterparty_id, transaction_id, number, amount, outstanding, status, due_date, created_at, updated_at`

// Create opens a record. The unique key on (tenant_id, kind, transaction_id)
// turns a retried open into ErrDuplicateRecord instead of a second record.
func (r *Repository) Create(ctx context.Context, in CreateInput, status Status) (Record, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO subledger_records
(tenant_id, kind, counterparty_id, transaction_id, number, amount, outstanding, status, due_date)
VALUES ($1,$2,$3,$4,$5,$6,$6,$7,$8) RETURNING `+recordColumns,
		in.TenantID, in.Kind, in.CounterpartyID, in.TransactionID, in.Number,
		money(in.Amount), status, nullTime(in.DueDate))
	rec, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicateRecord
		}
		return Record{}, err
	}
	return rec, nil
}

// Get loads one record.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM subledger_records WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanRecord(row)
}

// GetByTransaction loads the record keyed to an originating journal transaction.
func (r *Repository) GetByTransaction(ctx context.Context, tenantID int64, kind Kind, txnID int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM subledger_records
WHERE tenant_id=$1 AND kind=$2 AND transaction_id=$3`, tenantID, kind, txnID)
	return scanRecord(row)
}

// List returns the tenant's records of one kind, newest first.
func (r *Repository) List(ctx context.Context, tenantID int64, kind Kind, filter ListFilter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + recordColumns + ` FROM subledger_records WHERE tenant_id=$1 AND kind=$2`
	args := []any{tenantID, kind}
	if filter.Status != "" {
		query += ` AND status=$3`
		args = append(args, filter.Status)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListOpen returns every unsettled record of one kind for aging.
func (r *Repository) ListOpen(ctx context.Context, tenantID int64, kind Kind) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM subledger_records
WHERE tenant_id=$1 AND kind=$2 AND status <> $3 ORDER BY due_date`, tenantID, kind, StatusPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ApplyPayment settles part of a record in one transaction: the payment row,
// the outstanding decrement and the status move commit together or not at all.
func (r *Repository) ApplyPayment(ctx context.Context, in PaymentInput, now time.Time) (Record, Payment, error) {
	var rec Record
	var pay Payment
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return Record{}, Payment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM subledger_records
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, in.TenantID, in.RecordID)
	rec, err = scanRecord(row)
	if err != nil {
		return Record{}, Payment{}, err
	}
	if rec.Status == StatusPaid {
		return Record{}, Payment{}, ErrRecordSettled
	}
	applied, remaining := ApplyAmount(rec.Outstanding, in.Amount)
	status := StatusFor(rec.Amount, remaining, rec.DueDate, now)

	err = tx.QueryRow(ctx, `INSERT INTO subledger_payments (record_id, tenant_id, amount, method, date)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, rec.ID, in.TenantID, money(applied), in.Method, in.Date).Scan(&pay.ID)
	if err != nil {
		return Record{}, Payment{}, err
	}
	_, err = tx.Exec(ctx, `UPDATE subledger_records SET outstanding=$2, status=$3, updated_at=NOW() WHERE id=$1`,
		rec.ID, money(remaining), status)
	if err != nil {
		return Record{}, Payment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, Payment{}, err
	}
	rec.Outstanding = remaining
	rec.Status = status
	pay.RecordID = rec.ID
	pay.TenantID = in.TenantID
	pay.Amount = applied
	pay.Method = in.Method
	pay.Date = in.Date
	return rec, pay, nil
}

// AttachPaymentTransaction records the companion journal transaction once it
// has been posted, so a retried posting can see it already happened.
func (r *Repository) AttachPaymentTransaction(ctx context.Context, tenantID, paymentID, txnID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE subledger_payments SET transaction_id=$3 WHERE tenant_id=$1 AND id=$2`,
		tenantID, paymentID, txnID)
	return err
}

// SweepOverdue flips every past-due open record to overdue. Runs across all
// tenants from the reconciliation cron.
func (r *Repository) SweepOverdue(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `UPDATE subledger_records SET status=$1, updated_at=NOW()
WHERE status IN ($2,$3) AND due_date IS NOT NULL AND due_date < $4`,
		StatusOverdue, StatusOutstanding, StatusPartial, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var due *time.Time
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Kind, &rec.CounterpartyID, &rec.TransactionID,
		&rec.Number, &rec.Amount, &rec.Outstanding, &rec.Status, &due, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	if due != nil {
		rec.DueDate = *due
	}
	return rec, nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func money(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
