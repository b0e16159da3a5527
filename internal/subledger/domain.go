// Package subledger keeps per-counterparty receivable and payable records in
// step with the journal, and reports aging on what remains open.
package subledger

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind discriminates the two subsidiary ledgers.
type Kind string

const (
	KindReceivable Kind = "receivable"
	KindPayable    Kind = "payable"
)

// Status is the settlement state of a record.
type Status string

const (
	StatusOutstanding Status = "outstanding"
	StatusPartial     Status = "partial"
	StatusPaid        Status = "paid"
	StatusOverdue     Status = "overdue"
)

// settleEpsilon absorbs cent-level float residue when deciding a record is
// fully paid.
const settleEpsilon = 0.005

// Record is one open item in a subsidiary ledger. Outstanding only ever moves
// toward zero; payments can never push it negative.
type Record struct {
	ID             int64
	TenantID       int64
	Kind           Kind
	CounterpartyID int64
	TransactionID  int64
	Number         string
	Amount         float64
	Outstanding    float64
	Status         Status
	DueDate        time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payment is one settlement applied against a record.
type Payment struct {
	ID            int64
	RecordID      int64
	TenantID      int64
	Amount        float64
	Method        string
	Date          time.Time
	TransactionID int64
}

// CreateInput opens a record for the credit portion of a journalized event.
// TransactionID keys the record to its originating journal transaction so
// retried synchronization cannot open a second record.
type CreateInput struct {
	TenantID       int64
	Kind           Kind
	CounterpartyID int64
	TransactionID  int64
	Number         string
	Amount         float64
	DueDate        time.Time
}

// PaymentInput applies a settlement against a record.
type PaymentInput struct {
	TenantID int64
	RecordID int64
	Amount   float64
	Method   string
	Date     time.Time
	ActorID  int64
}

// ListFilter narrows record listings.
type ListFilter struct {
	Status Status
	Limit  int
}

// AgingBucket is one column of the aging report.
type AgingBucket struct {
	Label string  `json:"label"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// AgingReport groups open records by how far past due they are.
type AgingReport struct {
	Kind    Kind          `json:"kind"`
	AsOf    time.Time     `json:"as_of"`
	Buckets []AgingBucket `json:"buckets"`
	Total   float64       `json:"total"`
}

var (
	// ErrRecordNotFound indicates a missing subsidiary record.
	ErrRecordNotFound = errors.New("subledger: record not found")
	// ErrRecordSettled indicates a payment against a fully paid record.
	ErrRecordSettled = errors.New("subledger: record already settled")
	// ErrDuplicateRecord indicates the originating transaction already has a
	// record of this kind.
	ErrDuplicateRecord = errors.New("subledger: record already exists for transaction")
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("subledger: amount must be positive")
)

// LedgerPostError reports that the subsidiary record was updated but the
// companion journal transaction could not be posted. The record state is
// durable; callers retry the journal side only.
type LedgerPostError struct {
	Err       error
	Retryable bool
}

func (e *LedgerPostError) Error() string {
	return fmt.Sprintf("subledger: companion journal posting failed (retryable=%t): %v", e.Retryable, e.Err)
}

func (e *LedgerPostError) Unwrap() error { return e.Err }

// ApplyAmount clamps a settlement at the record's outstanding balance.
func ApplyAmount(outstanding, amount float64) (applied, remaining float64) {
	applied = math.Min(amount, outstanding)
	remaining = round2(outstanding - applied)
	if remaining < settleEpsilon {
		remaining = 0
	}
	return round2(applied), remaining
}

// StatusFor derives a record's status from its balances and due date.
func StatusFor(amount, outstanding float64, due, now time.Time) Status {
	switch {
	case outstanding <= settleEpsilon:
		return StatusPaid
	case !due.IsZero() && now.After(due):
		return StatusOverdue
	case outstanding < amount-settleEpsilon:
		return StatusPartial
	default:
		return StatusOutstanding
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
