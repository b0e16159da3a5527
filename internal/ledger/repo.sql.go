package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists transactions and entry lines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Creating a transaction and
// its entries always happens through one WithTx closure so partial writes
// cannot be observed.
type TxRepository interface {
	InsertTransaction(ctx context.Context, in CreateInput, number string) (Transaction, error)
	InsertEntries(ctx context.Context, txnID int64, entries []EntryInput) error
	LinkReference(ctx context.Context, tenantID int64, ref Reference, txnID int64) error
	FindByReference(ctx context.Context, tenantID int64, ref Reference) (int64, error)
	GetForUpdate(ctx context.Context, tenantID, txnID int64) (Transaction, error)
	GetEntries(ctx context.Context, txnID int64) ([]Entry, error)
	MarkPosted(ctx context.Context, txnID int64, at time.Time) error
	ApplyBalanceDelta(ctx context.Context, tenantID, accountID int64, delta float64) error
	ReplaceEntries(ctx context.Context, txnID int64, entries []EntryInput) error
	UpdateHeader(ctx context.Context, txnID int64, description string, date time.Time, amount float64) error
	DeleteTransaction(ctx context.Context, tenantID, txnID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *txRepository) InsertTransaction(ctx context.Context, in CreateInput, number string) (Transaction, error) {
	var refType, refID any
	if in.Reference != nil {
		refType = in.Reference.Type
		refID = in.Reference.ID
	}
	amount := debitTotal(in.Entries)
	row := r.tx.QueryRow(ctx, `INSERT INTO transactions (tenant_id, number, description, date, amount, posted, reference_type, reference_id, created_by)
VALUES ($1,$2,$3,$4,$5,FALSE,$6,$7,$8) RETURNING id, created_at, updated_at`,
		in.TenantID, number, in.Description, in.Date, toNumeric(amount), refType, refID, nullInt(in.ActorID))
	txn := Transaction{
		TenantID:    in.TenantID,
		Number:      number,
		Description: in.Description,
		Date:        in.Date,
		Amount:      amount,
		Reference:   in.Reference,
		CreatedBy:   in.ActorID,
	}
	if err := row.Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (r *txRepository) InsertEntries(ctx context.Context, txnID int64, entries []EntryInput) error {
	for _, entry := range entries {
		if _, err := r.tx.Exec(ctx, `INSERT INTO transaction_entries (transaction_id, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5)`, txnID, entry.AccountID, toNumeric(entry.Debit), toNumeric(entry.Credit), entry.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkReference(ctx context.Context, tenantID int64, ref Reference, txnID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transaction_references (tenant_id, reference_type, reference_id, transaction_id)
VALUES ($1,$2,$3,$4)`, tenantID, ref.Type, ref.ID, txnID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrReferenceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) FindByReference(ctx context.Context, tenantID int64, ref Reference) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT transaction_id FROM transaction_references
WHERE tenant_id=$1 AND reference_type=$2 AND reference_id=$3`, tenantID, ref.Type, ref.ID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrTransactionNotFound
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, txnID int64) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, tenant_id, number, description, date, amount, posted, posted_at, reference_type, reference_id, created_by, created_at, updated_at
FROM transactions WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, txnID)
	return scanTransaction(row)
}

func (r *txRepository) GetEntries(ctx context.Context, txnID int64) ([]Entry, error) {
	rows, err := r.tx.Query(ctx, `SELECT e.id, e.transaction_id, e.account_id, a.code, a.name, e.debit, e.credit, e.description
FROM transaction_entries e JOIN accounts a ON a.id = e.account_id
WHERE e.transaction_id=$1 ORDER BY e.id`, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *txRepository) MarkPosted(ctx context.Context, txnID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE transactions SET posted=TRUE, posted_at=$2, updated_at=NOW() WHERE id=$1 AND NOT posted`, txnID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyPosted
	}
	return nil
}

// ApplyBalanceDelta uses the store's atomic increment so concurrent postings
// never read-modify-write balances in application code.
func (r *txRepository) ApplyBalanceDelta(ctx context.Context, tenantID, accountID int64, delta float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`,
		tenantID, accountID, toNumeric(delta))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("ledger: account %d not found for tenant %d", accountID, tenantID)
	}
	return nil
}

func (r *txRepository) ReplaceEntries(ctx context.Context, txnID int64, entries []EntryInput) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM transaction_entries WHERE transaction_id=$1`, txnID); err != nil {
		return err
	}
	return r.InsertEntries(ctx, txnID, entries)
}

func (r *txRepository) UpdateHeader(ctx context.Context, txnID int64, description string, date time.Time, amount float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE transactions SET description=$2, date=$3, amount=$4, updated_at=NOW() WHERE id=$1`,
		txnID, description, date, toNumeric(amount))
	return err
}

func (r *txRepository) DeleteTransaction(ctx context.Context, tenantID, txnID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM transaction_entries WHERE transaction_id=$1`, txnID); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM transaction_references WHERE tenant_id=$1 AND transaction_id=$2`, tenantID, txnID); err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM transactions WHERE tenant_id=$1 AND id=$2`, tenantID, txnID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// Get loads one transaction with its entry lines.
func (r *Repository) Get(ctx context.Context, tenantID, txnID int64) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, tenant_id, number, description, date, amount, posted, posted_at, reference_type, reference_id, created_by, created_at, updated_at
FROM transactions WHERE tenant_id=$1 AND id=$2`, tenantID, txnID)
	txn, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT e.id, e.transaction_id, e.account_id, a.code, a.name, e.debit, e.credit, e.description
FROM transaction_entries e JOIN accounts a ON a.id = e.account_id
WHERE e.transaction_id=$1 ORDER BY e.id`, txnID)
	if err != nil {
		return Transaction{}, err
	}
	defer rows.Close()
	txn.Entries, err = scanEntries(rows)
	if err != nil {
		return Transaction{}, err
	}
	if len(txn.Entries) == 0 {
		return Transaction{}, ErrPersistenceInconsistency
	}
	return txn, nil
}

// List returns the tenant's transactions newest first.
func (r *Repository) List(ctx context.Context, tenantID int64, filter ListFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, tenant_id, number, description, date, amount, posted, posted_at, reference_type, reference_id, created_by, created_at, updated_at
FROM transactions WHERE tenant_id=$1`
	args := []any{tenantID}
	if filter.Posted != nil {
		query += ` AND posted=$2`
		args = append(args, *filter.Posted)
	}
	query += fmt.Sprintf(` ORDER BY number DESC LIMIT %d`, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txns []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var txn Transaction
	var refType, refID *string
	var createdBy *int64
	err := row.Scan(&txn.ID, &txn.TenantID, &txn.Number, &txn.Description, &txn.Date, &txn.Amount,
		&txn.Posted, &txn.PostedAt, &refType, &refID, &createdBy, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	if refType != nil && refID != nil {
		txn.Reference = &Reference{Type: *refType, ID: *refID}
	}
	if createdBy != nil {
		txn.CreatedBy = *createdBy
	}
	return txn, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.AccountCode, &e.AccountName, &e.Debit, &e.Credit, &e.Description); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func debitTotal(entries []EntryInput) float64 {
	var total float64
	for _, entry := range entries {
		total += entry.Debit
	}
	return total
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
