// Package posting turns business events into posted journal transactions and
// fans their side effects out to the background queue.
package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-ledger/meridian/internal/accounts"
	"github.com/meridian-ledger/meridian/internal/invbridge"
	"github.com/meridian-ledger/meridian/internal/journal"
	"github.com/meridian-ledger/meridian/internal/ledger"
	"github.com/meridian-ledger/meridian/jobs"
)

// RoleResolver resolves the tenant's role-to-account mapping.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, tenantID int64) (accounts.RoleMap, error)
}

// Ledger posts transactions.
type Ledger interface {
	Create(ctx context.Context, in ledger.CreateInput) (ledger.Transaction, error)
}

// Pricer fills missing unit costs from stored product costs.
type Pricer interface {
	PriceItems(ctx context.Context, tenantID int64, items []journal.LineItem) ([]journal.LineItem, float64, error)
}

// Enqueuer hands side-effect tasks to the queue.
type Enqueuer interface {
	EnqueueSubledgerSync(ctx context.Context, payload jobs.SubledgerSyncPayload) error
	EnqueueStockSync(ctx context.Context, payload jobs.StockSyncPayload) error
}

// PostCounter counts posted transactions per event type.
type PostCounter interface {
	TransactionPosted(event string)
}

// Service is the event-to-journal orchestrator. Each Record method resolves
// the tenant's account roles, builds balanced lines, posts them in one unit of
// work keyed to the event number, and enqueues the event's side effects. A
// replayed event returns the transaction posted the first time.
type Service struct {
	roles   RoleResolver
	ledger  Ledger
	pricer  Pricer
	queue   Enqueuer
	counter PostCounter
	log     *slog.Logger
}

// NewService constructs Service.
func NewService(roles RoleResolver, poster Ledger, pricer Pricer, queue Enqueuer, counter PostCounter, log *slog.Logger) *Service {
	return &Service{roles: roles, ledger: poster, pricer: pricer, queue: queue, counter: counter, log: log}
}

// RecordSale journalizes a sale: cash and credit debits per the payment
// breakdown, revenue net of tax and discount, and the cost-of-goods movement
// for priced items. The credit portion opens a receivable asynchronously.
func (s *Service) RecordSale(ctx context.Context, tenantID int64, ev journal.SaleEvent, actorID int64) (ledger.Transaction, error) {
	roles, err := s.roles.ResolveRoles(ctx, tenantID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if s.pricer != nil && len(ev.Items) > 0 {
		ev.Items, _, err = s.pricer.PriceItems(ctx, tenantID, ev.Items)
		if err != nil {
			return ledger.Transaction{}, err
		}
	}
	draft, err := journal.BuildSale(ev, roles)
	if err != nil {
		return ledger.Transaction{}, err
	}
	txn, err := s.post(ctx, tenantID, draft, "sale", ev.Number, ev.Date, actorID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if draft.Receivable != nil {
		s.enqueueSubledger(ctx, tenantID, txn.ID, "receivable", ev.Number, *draft.Receivable)
	}
	s.enqueueStock(ctx, tenantID, txn.ID, invbridge.MovementsForSale(ev.Items))
	return txn, nil
}

// RecordPurchase journalizes goods received: debit inventory, credit accounts
// payable. The full amount opens a payable; received stock is added
// asynchronously.
func (s *Service) RecordPurchase(ctx context.Context, tenantID int64, ev journal.PurchaseEvent, actorID int64) (ledger.Transaction, error) {
	roles, err := s.roles.ResolveRoles(ctx, tenantID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	draft, err := journal.BuildPurchase(ev, roles)
	if err != nil {
		return ledger.Transaction{}, err
	}
	txn, err := s.post(ctx, tenantID, draft, "purchase", ev.Number, ev.Date, actorID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if draft.Payable != nil {
		s.enqueueSubledger(ctx, tenantID, txn.ID, "payable", ev.Number, *draft.Payable)
	}
	s.enqueueStock(ctx, tenantID, txn.ID, invbridge.MovementsForPurchase(ev.Items))
	return txn, nil
}

// RecordReceivablePayment journalizes cash collected from a customer.
func (s *Service) RecordReceivablePayment(ctx context.Context, tenantID int64, ev journal.PaymentEvent, actorID int64) (ledger.Transaction, error) {
	return s.recordPayment(ctx, tenantID, ev, actorID, "receivable_payment", journal.BuildReceivablePayment)
}

// RecordPayablePayment journalizes cash paid to a supplier.
func (s *Service) RecordPayablePayment(ctx context.Context, tenantID int64, ev journal.PaymentEvent, actorID int64) (ledger.Transaction, error) {
	return s.recordPayment(ctx, tenantID, ev, actorID, "payable_payment", journal.BuildPayablePayment)
}

func (s *Service) recordPayment(ctx context.Context, tenantID int64, ev journal.PaymentEvent, actorID int64,
	event string, build func(journal.PaymentEvent, accounts.RoleMap) (journal.Draft, error)) (ledger.Transaction, error) {
	roles, err := s.roles.ResolveRoles(ctx, tenantID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	draft, err := build(ev, roles)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.post(ctx, tenantID, draft, event, ev.Number, ev.Date, actorID)
}

// RecordSalesReturn journalizes a customer refund; a restocked return also
// puts the returned quantity back on hand.
func (s *Service) RecordSalesReturn(ctx context.Context, tenantID int64, ev journal.SalesReturnEvent, actorID int64) (ledger.Transaction, error) {
	roles, err := s.roles.ResolveRoles(ctx, tenantID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if s.pricer != nil && len(ev.Items) > 0 {
		ev.Items, _, err = s.pricer.PriceItems(ctx, tenantID, ev.Items)
		if err != nil {
			return ledger.Transaction{}, err
		}
	}
	draft, err := journal.BuildSalesReturn(ev, roles)
	if err != nil {
		return ledger.Transaction{}, err
	}
	txn, err := s.post(ctx, tenantID, draft, "sales_return", ev.Number, ev.Date, actorID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if ev.Restock {
		s.enqueueStock(ctx, tenantID, txn.ID, invbridge.MovementsForReturn(ev.Items))
	}
	return txn, nil
}

// RecordPurchaseReturn journalizes goods sent back to a supplier; previously
// restocked quantity leaves stock again.
func (s *Service) RecordPurchaseReturn(ctx context.Context, tenantID int64, ev journal.PurchaseReturnEvent, actorID int64) (ledger.Transaction, error) {
	roles, err := s.roles.ResolveRoles(ctx, tenantID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	draft, err := journal.BuildPurchaseReturn(ev, roles)
	if err != nil {
		return ledger.Transaction{}, err
	}
	txn, err := s.post(ctx, tenantID, draft, "purchase_return", ev.Number, ev.Date, actorID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if ev.Restocked {
		s.enqueueStock(ctx, tenantID, txn.ID, invbridge.MovementsForPurchaseReturn(ev.Items))
	}
	return txn, nil
}

func (s *Service) post(ctx context.Context, tenantID int64, draft journal.Draft, event, number string, date time.Time, actorID int64) (ledger.Transaction, error) {
	if number == "" {
		return ledger.Transaction{}, &journal.ValidationError{Reason: "event number is required"}
	}
	// Deterministic source id: replaying the same event resolves to the same
	// reference row, so the first posted transaction is returned.
	sourceID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%s", event, number)))
	txn, err := s.ledger.Create(ctx, ledger.CreateInput{
		TenantID:    tenantID,
		Description: draft.Description,
		Date:        date,
		Entries:     toEntryInputs(draft.Lines),
		Reference:   &ledger.Reference{Type: event, ID: sourceID.String()},
		Post:        true,
		ActorID:     actorID,
	})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("posting %s %s: %w", event, number, err)
	}
	if s.counter != nil {
		s.counter.TransactionPosted(event)
	}
	s.log.InfoContext(ctx, "event journalized",
		slog.String("event", event),
		slog.String("number", number),
		slog.Int64("tenant_id", tenantID),
		slog.Int64("transaction_id", txn.ID),
		slog.Float64("amount", txn.Amount))
	return txn, nil
}

// Enqueue failures never unwind a posted transaction; the queue's task-id
// dedup lets operators re-fire the sync safely.
func (s *Service) enqueueSubledger(ctx context.Context, tenantID, txnID int64, kind, number string, req journal.SubledgerRequest) {
	if s.queue == nil {
		return
	}
	err := s.queue.EnqueueSubledgerSync(ctx, jobs.SubledgerSyncPayload{
		TenantID:       tenantID,
		Kind:           kind,
		CounterpartyID: req.CounterpartyID,
		TransactionID:  txnID,
		Number:         number,
		Amount:         req.Amount,
		DueDate:        req.DueDate,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "subledger sync enqueue failed",
			slog.Int64("transaction_id", txnID), slog.Any("error", err))
	}
}

func (s *Service) enqueueStock(ctx context.Context, tenantID, txnID int64, movements []invbridge.Movement) {
	if s.queue == nil || len(movements) == 0 {
		return
	}
	payload := jobs.StockSyncPayload{TenantID: tenantID, TransactionID: txnID}
	for _, mv := range movements {
		payload.Movements = append(payload.Movements, jobs.MovementPayload{
			ProductID: mv.ProductID,
			Quantity:  mv.Quantity,
			Reason:    mv.Reason,
		})
	}
	if err := s.queue.EnqueueStockSync(ctx, payload); err != nil {
		s.log.ErrorContext(ctx, "stock sync enqueue failed",
			slog.Int64("transaction_id", txnID), slog.Any("error", err))
	}
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
