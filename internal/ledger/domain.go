package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Transaction is a journal transaction header. Amount is the sum of debit
// entries. A transaction starts in draft and becomes immutable once posted;
// the only sanctioned undo of a posted transaction is a reversing one.
type Transaction struct {
	ID          int64
	TenantID    int64
	Number      string
	Description string
	Date        time.Time
	Amount      float64
	Posted      bool
	PostedAt    *time.Time
	Reference   *Reference
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Entries     []Entry
}

// Entry is one persisted entry line. AccountCode and AccountName are joined
// in for read APIs.
type Entry struct {
	ID            int64
	TransactionID int64
	AccountID     int64
	AccountCode   string
	AccountName   string
	Debit         float64
	Credit        float64
	Description   string
}

// Reference links a transaction back to its originating business event.
type Reference struct {
	Type string
	ID   string
}

// EntryInput describes an entry line for creation.
type EntryInput struct {
	AccountID   int64
	Debit       float64
	Credit      float64
	Description string
}

// CreateInput groups fields required to create a transaction. Post requests
// immediate posting in the same unit of work, which system-generated entries
// use; manual journal entries stay in draft for review.
type CreateInput struct {
	TenantID    int64
	Description string
	Date        time.Time
	Entries     []EntryInput
	Reference   *Reference
	Post        bool
	ActorID     int64
}

// ListFilter narrows transaction listings.
type ListFilter struct {
	Posted *bool
	Limit  int
}

var (
	// ErrTransactionNotFound indicates a missing transaction.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrAlreadyPosted is returned by strict posting when the transaction is
	// already posted.
	ErrAlreadyPosted = errors.New("ledger: transaction already posted")
	// ErrTransactionPosted indicates a mutation attempt on a posted transaction.
	ErrTransactionPosted = errors.New("ledger: posted transactions are immutable")
	// ErrNotPosted indicates a reversal attempt on a draft.
	ErrNotPosted = errors.New("ledger: transaction is not posted")
	// ErrDeletionDisabled indicates the deletion policy rejected a delete.
	ErrDeletionDisabled = errors.New("ledger: deletion disabled by audit policy")
	// ErrReferenceConflict indicates the reference link already exists.
	ErrReferenceConflict = errors.New("ledger: reference already linked")
	// ErrPersistenceInconsistency indicates a transaction without matching
	// entries was observed; a bug class, never an expected outcome.
	ErrPersistenceInconsistency = errors.New("ledger: transaction persisted without entries")
)

// GenerateNumber builds a sortable, human-legible transaction number with a
// random disambiguator so concurrent creation within a tenant cannot collide.
func GenerateNumber(now time.Time) string {
	var buf [2]byte
	_, _ = rand.Read(buf[:])
	return "JE-" + now.UTC().Format("20060102-150405") + "-" + hex.EncodeToString(buf[:])
}
