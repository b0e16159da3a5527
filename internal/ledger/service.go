package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-ledger/meridian/internal/journal"
	"github.com/meridian-ledger/meridian/internal/shared"
)

// Store is the persistence surface the service depends on.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, txnID int64) (Transaction, error)
	List(ctx context.Context, tenantID int64, filter ListFilter) ([]Transaction, error)
}

// AuditRecorder receives audit trail records. Failures are logged, never
// propagated; the business operation has already committed.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the transaction lifecycle: create as draft (optionally
// posting in the same unit of work), post, edit drafts, reverse posted
// transactions, and delete drafts subject to the deletion policy.
type Service struct {
	store  Store
	policy shared.DeletionPolicy
	audit  AuditRecorder
	log    *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(store Store, policy shared.DeletionPolicy, audit AuditRecorder, log *slog.Logger) *Service {
	return &Service{store: store, policy: policy, audit: audit, log: log, now: time.Now}
}

// UpdateInput groups the editable fields of a draft transaction.
type UpdateInput struct {
	TenantID      int64
	TransactionID int64
	Description   string
	Date          time.Time
	Entries       []EntryInput
	ActorID       int64
}

// Create validates the entry lines and writes the transaction, its entries and
// the optional reference link in one unit of work. When the reference is
// already linked the existing transaction is returned unchanged, which makes
// event-driven creation idempotent and guarantees balances are applied at most
// once per source event.
func (s *Service) Create(ctx context.Context, in CreateInput) (Transaction, error) {
	if in.TenantID == 0 {
		return Transaction{}, &journal.ValidationError{Reason: "tenant is required"}
	}
	if in.Description == "" {
		return Transaction{}, &journal.ValidationError{Reason: "description is required"}
	}
	if err := journal.Validate(toLines(in.Entries)); err != nil {
		return Transaction{}, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}

	var out Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		if in.Reference != nil {
			existing, err := repo.FindByReference(ctx, in.TenantID, *in.Reference)
			if err == nil {
				out, err = loadInTx(ctx, repo, in.TenantID, existing)
				return err
			}
			if !errors.Is(err, ErrTransactionNotFound) {
				return err
			}
		}
		txn, err := repo.InsertTransaction(ctx, in, GenerateNumber(s.now()))
		if err != nil {
			return err
		}
		if err := repo.InsertEntries(ctx, txn.ID, in.Entries); err != nil {
			return err
		}
		if in.Reference != nil {
			if err := repo.LinkReference(ctx, in.TenantID, *in.Reference, txn.ID); err != nil {
				return err
			}
		}
		if in.Post {
			if err := s.applyPosting(ctx, repo, &txn); err != nil {
				return err
			}
		}
		txn.Entries, err = repo.GetEntries(ctx, txn.ID)
		if err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		// A concurrent creator linked the same reference between our lookup and
		// insert; theirs is the transaction of record.
		if errors.Is(err, ErrReferenceConflict) && in.Reference != nil {
			return s.getByReference(ctx, in.TenantID, *in.Reference)
		}
		return Transaction{}, err
	}
	s.recordAudit(ctx, in.TenantID, in.ActorID, "journal.create", out)
	return out, nil
}

// Post marks a draft as posted and applies every entry to its account balance.
// Posting an already-posted transaction is a no-op returning current state.
func (s *Service) Post(ctx context.Context, tenantID, txnID, actorID int64) (Transaction, error) {
	return s.post(ctx, tenantID, txnID, actorID, false)
}

// PostStrict behaves like Post but fails with ErrAlreadyPosted instead of
// silently succeeding, for callers that must detect double submission.
func (s *Service) PostStrict(ctx context.Context, tenantID, txnID, actorID int64) (Transaction, error) {
	return s.post(ctx, tenantID, txnID, actorID, true)
}

func (s *Service) post(ctx context.Context, tenantID, txnID, actorID int64, strict bool) (Transaction, error) {
	var out Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		txn, err := repo.GetForUpdate(ctx, tenantID, txnID)
		if err != nil {
			return err
		}
		if txn.Posted {
			if strict {
				return ErrAlreadyPosted
			}
			out, err = loadInTx(ctx, repo, tenantID, txnID)
			return err
		}
		if err := s.applyPosting(ctx, repo, &txn); err != nil {
			return err
		}
		txn.Entries, err = repo.GetEntries(ctx, txn.ID)
		if err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, tenantID, actorID, "journal.post", out)
	return out, nil
}

// applyPosting flips the posted flag and applies balance += debit - credit for
// every entry, all inside the caller's transaction. MarkPosted's guarded
// update makes a lost race surface as ErrAlreadyPosted and roll everything
// back, so no entry can hit a balance twice.
func (s *Service) applyPosting(ctx context.Context, repo TxRepository, txn *Transaction) error {
	entries, err := repo.GetEntries(ctx, txn.ID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrPersistenceInconsistency
	}
	for _, entry := range entries {
		if err := repo.ApplyBalanceDelta(ctx, txn.TenantID, entry.AccountID, entry.Debit-entry.Credit); err != nil {
			return err
		}
	}
	at := s.now()
	if err := repo.MarkPosted(ctx, txn.ID, at); err != nil {
		return err
	}
	txn.Posted = true
	txn.PostedAt = &at
	return nil
}

// Update rewrites a draft's header and entry lines. Posted transactions are
// immutable.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Transaction, error) {
	if err := journal.Validate(toLines(in.Entries)); err != nil {
		return Transaction{}, err
	}
	var out Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		txn, err := repo.GetForUpdate(ctx, in.TenantID, in.TransactionID)
		if err != nil {
			return err
		}
		if txn.Posted {
			return ErrTransactionPosted
		}
		if in.Description == "" {
			in.Description = txn.Description
		}
		if in.Date.IsZero() {
			in.Date = txn.Date
		}
		if err := repo.ReplaceEntries(ctx, txn.ID, in.Entries); err != nil {
			return err
		}
		amount := debitTotal(in.Entries)
		if err := repo.UpdateHeader(ctx, txn.ID, in.Description, in.Date, amount); err != nil {
			return err
		}
		txn.Description = in.Description
		txn.Date = in.Date
		txn.Amount = amount
		txn.Entries, err = repo.GetEntries(ctx, txn.ID)
		if err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, in.TenantID, in.ActorID, "journal.update", out)
	return out, nil
}

// Delete removes a draft transaction when the deletion policy allows it. Every
// attempt is written to the audit trail, including denied ones. Posted
// transactions can never be deleted; reverse them instead.
func (s *Service) Delete(ctx context.Context, tenantID, txnID, actorID int64) error {
	txn, err := s.store.Get(ctx, tenantID, txnID)
	if err != nil {
		return err
	}
	if logErr := s.policy.LogAttempt(ctx, tenantID, actorID, "journal_entry", strconv.FormatInt(txnID, 10), txn.Number); logErr != nil {
		s.log.WarnContext(ctx, "deletion attempt log failed", slog.Any("error", logErr))
	}
	if txn.Posted {
		return ErrTransactionPosted
	}
	allowed, err := s.policy.Allows(ctx, tenantID, "journal_entry")
	if err != nil {
		return err
	}
	if !allowed {
		return ErrDeletionDisabled
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		current, err := repo.GetForUpdate(ctx, tenantID, txnID)
		if err != nil {
			return err
		}
		if current.Posted {
			return ErrTransactionPosted
		}
		return repo.DeleteTransaction(ctx, tenantID, txnID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "journal.delete", txn)
	return nil
}

// Reverse posts a new transaction whose entries mirror the original with
// debits and credits swapped, restoring every affected balance. The reversal
// is keyed to the original through a reference link, so reversing twice
// returns the first reversal instead of minting another one.
func (s *Service) Reverse(ctx context.Context, tenantID, txnID, actorID int64, description string) (Transaction, error) {
	ref := Reference{Type: "reversal", ID: strconv.FormatInt(txnID, 10)}
	var out Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		orig, err := repo.GetForUpdate(ctx, tenantID, txnID)
		if err != nil {
			return err
		}
		if !orig.Posted {
			return ErrNotPosted
		}
		if existing, err := repo.FindByReference(ctx, tenantID, ref); err == nil {
			out, err = loadInTx(ctx, repo, tenantID, existing)
			return err
		} else if !errors.Is(err, ErrTransactionNotFound) {
			return err
		}
		entries, err := repo.GetEntries(ctx, orig.ID)
		if err != nil {
			return err
		}
		swapped := make([]EntryInput, len(entries))
		for i, entry := range entries {
			swapped[i] = EntryInput{
				AccountID:   entry.AccountID,
				Debit:       entry.Credit,
				Credit:      entry.Debit,
				Description: entry.Description,
			}
		}
		if description == "" {
			description = fmt.Sprintf("Reversal of %s", orig.Number)
		}
		in := CreateInput{
			TenantID:    tenantID,
			Description: description,
			Date:        s.now(),
			Entries:     swapped,
			Reference:   &ref,
			ActorID:     actorID,
		}
		rev, err := repo.InsertTransaction(ctx, in, GenerateNumber(s.now()))
		if err != nil {
			return err
		}
		if err := repo.InsertEntries(ctx, rev.ID, swapped); err != nil {
			return err
		}
		if err := repo.LinkReference(ctx, tenantID, ref, rev.ID); err != nil {
			return err
		}
		if err := s.applyPosting(ctx, repo, &rev); err != nil {
			return err
		}
		rev.Entries, err = repo.GetEntries(ctx, rev.ID)
		if err != nil {
			return err
		}
		out = rev
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrReferenceConflict) {
			return s.getByReference(ctx, tenantID, ref)
		}
		return Transaction{}, err
	}
	s.recordAudit(ctx, tenantID, actorID, "journal.reverse", out)
	return out, nil
}

// Get returns one transaction with entry lines.
func (s *Service) Get(ctx context.Context, tenantID, txnID int64) (Transaction, error) {
	return s.store.Get(ctx, tenantID, txnID)
}

// List returns the tenant's transactions.
func (s *Service) List(ctx context.Context, tenantID int64, filter ListFilter) ([]Transaction, error) {
	return s.store.List(ctx, tenantID, filter)
}

func (s *Service) getByReference(ctx context.Context, tenantID int64, ref Reference) (Transaction, error) {
	var out Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		id, err := repo.FindByReference(ctx, tenantID, ref)
		if err != nil {
			return err
		}
		out, err = loadInTx(ctx, repo, tenantID, id)
		return err
	})
	return out, err
}

func loadInTx(ctx context.Context, repo TxRepository, tenantID, txnID int64) (Transaction, error) {
	txn, err := repo.GetForUpdate(ctx, tenantID, txnID)
	if err != nil {
		return Transaction{}, err
	}
	txn.Entries, err = repo.GetEntries(ctx, txn.ID)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, txn Transaction) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(txn.ID, 10),
		Meta:     map[string]any{"number": txn.Number, "amount": txn.Amount},
	})
	if err != nil {
		s.log.WarnContext(ctx, "audit record failed",
			slog.String("action", action), slog.Any("error", err))
	}
}

func toLines(entries []EntryInput) []journal.Line {
	lines := make([]journal.Line, len(entries))
	for i, entry := range entries {
		lines[i] = journal.Line{
			AccountID:   entry.AccountID,
			Debit:       entry.Debit,
			Credit:      entry.Credit,
			Description: entry.Description,
		}
	}
	return lines
}
