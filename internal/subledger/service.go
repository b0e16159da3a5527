package subledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-ledger/meridian/internal/accounts"
	"github.com/meridian-ledger/meridian/internal/journal"
	"github.com/meridian-ledger/meridian/internal/ledger"
)

// Store is the persistence surface the service depends on.
type Store interface {
	Create(ctx context.Context, in CreateInput, status Status) (Record, error)
	Get(ctx context.Context, tenantID, id int64) (Record, error)
	GetByTransaction(ctx context.Context, tenantID int64, kind Kind, txnID int64) (Record, error)
	List(ctx context.Context, tenantID int64, kind Kind, filter ListFilter) ([]Record, error)
	ListOpen(ctx context.Context, tenantID int64, kind Kind) ([]Record, error)
	ApplyPayment(ctx context.Context, in PaymentInput, now time.Time) (Record, Payment, error)
	AttachPaymentTransaction(ctx context.Context, tenantID, paymentID, txnID int64) error
	SweepOverdue(ctx context.Context, now time.Time) (int64, error)
}

// RoleResolver resolves the tenant's role-to-account mapping.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, tenantID int64) (accounts.RoleMap, error)
}

// LedgerPoster posts companion journal transactions.
type LedgerPoster interface {
	Create(ctx context.Context, in ledger.CreateInput) (ledger.Transaction, error)
}

// FailureCounter counts settlements whose companion posting needs
// reconciliation.
type FailureCounter interface {
	SideEffectFailed(task string)
}

// Service keeps subsidiary records consistent with the journal.
type Service struct {
	store   Store
	roles   RoleResolver
	ledger  LedgerPoster
	counter FailureCounter
	log     *slog.Logger
	now     func() time.Time
}

// NewService constructs Service.
func NewService(store Store, roles RoleResolver, poster LedgerPoster, counter FailureCounter, log *slog.Logger) *Service {
	return &Service{store: store, roles: roles, ledger: poster, counter: counter, log: log, now: time.Now}
}

// Open creates a receivable or payable for a journalized event. Opening the
// same transaction's record twice returns the existing record, which makes the
// synchronization task safe to retry.
func (s *Service) Open(ctx context.Context, in CreateInput) (Record, error) {
	if in.Amount <= 0 {
		return Record{}, ErrInvalidAmount
	}
	if in.CounterpartyID == 0 {
		return Record{}, fmt.Errorf("subledger: counterparty is required")
	}
	if in.Kind != KindReceivable && in.Kind != KindPayable {
		return Record{}, fmt.Errorf("subledger: unknown kind %q", in.Kind)
	}
	in.Amount = round2(in.Amount)
	status := StatusFor(in.Amount, in.Amount, in.DueDate, s.now())
	rec, err := s.store.Create(ctx, in, status)
	if err == nil {
		s.log.InfoContext(ctx, "subledger record opened",
			slog.String("kind", string(in.Kind)),
			slog.Int64("tenant_id", in.TenantID),
			slog.Int64("record_id", rec.ID),
			slog.Float64("amount", rec.Amount))
		return rec, nil
	}
	if errors.Is(err, ErrDuplicateRecord) {
		return s.store.GetByTransaction(ctx, in.TenantID, in.Kind, in.TransactionID)
	}
	return Record{}, err
}

// ApplyPayment settles part of a record, clamping at the outstanding balance,
// then posts the matching cash movement to the journal. A journal failure
// after the record update is reported as LedgerPostError: the settlement is
// durable and only the posting needs a retry.
func (s *Service) ApplyPayment(ctx context.Context, in PaymentInput) (Record, error) {
	if in.Amount <= 0 {
		return Record{}, ErrInvalidAmount
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	rec, pay, err := s.store.ApplyPayment(ctx, in, s.now())
	if err != nil {
		return Record{}, err
	}
	if err := s.postPayment(ctx, rec, pay, in.ActorID); err != nil {
		var postErr *LedgerPostError
		if errors.As(err, &postErr) {
			if s.counter != nil {
				s.counter.SideEffectFailed("subledger:payment_post")
			}
			s.log.WarnContext(ctx, "payment settled without journal posting",
				slog.Int64("tenant_id", rec.TenantID),
				slog.Int64("record_id", rec.ID),
				slog.Int64("payment_id", pay.ID),
				slog.Bool("retryable", postErr.Retryable),
				slog.Any("error", postErr.Err))
		}
		return rec, err
	}
	return rec, nil
}

func (s *Service) postPayment(ctx context.Context, rec Record, pay Payment, actorID int64) error {
	roles, err := s.roles.ResolveRoles(ctx, rec.TenantID)
	if err != nil {
		return &LedgerPostError{Err: err, Retryable: true}
	}
	ev := journal.PaymentEvent{
		Number:         rec.Number,
		CounterpartyID: rec.CounterpartyID,
		Amount:         pay.Amount,
		Method:         pay.Method,
		Date:           pay.Date,
	}
	var draft journal.Draft
	if rec.Kind == KindReceivable {
		draft, err = journal.BuildReceivablePayment(ev, roles)
	} else {
		draft, err = journal.BuildPayablePayment(ev, roles)
	}
	if err != nil {
		// A mapping or validation failure cannot be fixed by retrying.
		return &LedgerPostError{Err: err, Retryable: false}
	}
	txn, err := s.ledger.Create(ctx, ledger.CreateInput{
		TenantID:    rec.TenantID,
		Description: draft.Description,
		Date:        pay.Date,
		Entries:     toEntryInputs(draft.Lines),
		Reference: &ledger.Reference{
			Type: string(rec.Kind) + "_payment",
			ID:   strconv.FormatInt(pay.ID, 10),
		},
		Post:    true,
		ActorID: actorID,
	})
	if err != nil {
		return &LedgerPostError{Err: err, Retryable: true}
	}
	if err := s.store.AttachPaymentTransaction(ctx, rec.TenantID, pay.ID, txn.ID); err != nil {
		s.log.WarnContext(ctx, "payment transaction link failed",
			slog.Int64("payment_id", pay.ID), slog.Any("error", err))
	}
	return nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Record, error) {
	return s.store.Get(ctx, tenantID, id)
}

// List returns the tenant's records of one kind.
func (s *Service) List(ctx context.Context, tenantID int64, kind Kind, filter ListFilter) ([]Record, error) {
	return s.store.List(ctx, tenantID, kind, filter)
}

// Aging groups the tenant's open records of one kind into the standard
// past-due buckets.
func (s *Service) Aging(ctx context.Context, tenantID int64, kind Kind) (AgingReport, error) {
	records, err := s.store.ListOpen(ctx, tenantID, kind)
	if err != nil {
		return AgingReport{}, err
	}
	now := s.now()
	report := AgingReport{
		Kind: kind,
		AsOf: now,
		Buckets: []AgingBucket{
			{Label: "current"},
			{Label: "31-60"},
			{Label: "61-90"},
			{Label: "90+"},
		},
	}
	for _, rec := range records {
		idx := bucketIndex(rec.DueDate, now)
		report.Buckets[idx].Total = round2(report.Buckets[idx].Total + rec.Outstanding)
		report.Buckets[idx].Count++
		report.Total = round2(report.Total + rec.Outstanding)
	}
	return report, nil
}

func bucketIndex(due, now time.Time) int {
	if due.IsZero() || !now.After(due) {
		return 0
	}
	days := int(now.Sub(due).Hours() / 24)
	switch {
	case days <= 30:
		return 0
	case days <= 60:
		return 1
	case days <= 90:
		return 2
	default:
		return 3
	}
}

// SweepOverdue marks every past-due open record overdue; returns how many
// records moved.
func (s *Service) SweepOverdue(ctx context.Context) (int64, error) {
	moved, err := s.store.SweepOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		s.log.InfoContext(ctx, "overdue sweep complete", slog.Int64("records", moved))
	}
	return moved, nil
}

func toEntryInputs(lines []journal.Line) []ledger.EntryInput {
	entries := make([]ledger.EntryInput, len(lines))
	for i, line := range lines {
		entries[i] = ledger.EntryInput{
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		}
	}
	return entries
}
