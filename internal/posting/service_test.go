package posting

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-ledger/meridian/internal/accounts"
	"github.com/meridian-ledger/meridian/internal/journal"
	"github.com/meridian-ledger/meridian/internal/ledger"
	"github.com/meridian-ledger/meridian/jobs"
)

const (
	acctCash      int64 = 1
	acctAR        int64 = 2
	acctInventory int64 = 3
	acctAP        int64 = 4
	acctRevenue   int64 = 5
	acctReturns   int64 = 6
	acctTax       int64 = 7
	acctDiscount  int64 = 8
	acctCOGS      int64 = 9
)

type stubRoles struct {
	roles accounts.RoleMap
	err   error
}

func (s stubRoles) ResolveRoles(context.Context, int64) (accounts.RoleMap, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.roles, nil
}

func fullRoles() accounts.RoleMap {
	return accounts.RoleMap{
		accounts.RoleCash:               acctCash,
		accounts.RoleAccountsReceivable: acctAR,
		accounts.RoleInventory:          acctInventory,
		accounts.RoleAccountsPayable:    acctAP,
		accounts.RoleSalesRevenue:       acctRevenue,
		accounts.RoleSalesReturns:       acctReturns,
		accounts.RoleSalesTaxPayable:    acctTax,
		accounts.RoleDiscountsGiven:     acctDiscount,
		accounts.RoleCostOfGoodsSold:    acctCOGS,
	}
}

// stubLedger replays the store's reference idempotency: a repeated reference
// returns the first transaction.
type stubLedger struct {
	seq    int64
	byRef  map[string]ledger.Transaction
	inputs []ledger.CreateInput
}

func newStubLedger() *stubLedger {
	return &stubLedger{byRef: make(map[string]ledger.Transaction)}
}

func (l *stubLedger) Create(_ context.Context, in ledger.CreateInput) (ledger.Transaction, error) {
	key := in.Reference.Type + "|" + in.Reference.ID
	if existing, ok := l.byRef[key]; ok {
		return existing, nil
	}
	l.seq++
	var amount float64
	for _, entry := range in.Entries {
		amount += entry.Debit
	}
	txn := ledger.Transaction{
		ID:       l.seq,
		TenantID: in.TenantID,
		Number:   in.Reference.ID,
		Amount:   amount,
		Posted:   in.Post,
	}
	l.byRef[key] = txn
	l.inputs = append(l.inputs, in)
	return txn, nil
}

type stubQueue struct {
	subledger []jobs.SubledgerSyncPayload
	stock     []jobs.StockSyncPayload
}

func (q *stubQueue) EnqueueSubledgerSync(_ context.Context, p jobs.SubledgerSyncPayload) error {
	q.subledger = append(q.subledger, p)
	return nil
}

func (q *stubQueue) EnqueueStockSync(_ context.Context, p jobs.StockSyncPayload) error {
	q.stock = append(q.stock, p)
	return nil
}

type stubCounter struct {
	events []string
}

func (c *stubCounter) TransactionPosted(event string) {
	c.events = append(c.events, event)
}

type passthroughPricer struct{}

func (passthroughPricer) PriceItems(_ context.Context, _ int64, items []journal.LineItem) ([]journal.LineItem, float64, error) {
	return items, journal.ItemsValue(items), nil
}

func newTestService(roles stubRoles, poster *stubLedger, queue *stubQueue, counter *stubCounter) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(roles, poster, passthroughPricer{}, queue, counter, log)
}

func entryAmounts(in ledger.CreateInput) map[int64][2]float64 {
	out := make(map[int64][2]float64)
	for _, entry := range in.Entries {
		cur := out[entry.AccountID]
		out[entry.AccountID] = [2]float64{cur[0] + entry.Debit, cur[1] + entry.Credit}
	}
	return out
}

func TestRecordSaleCashWithTax(t *testing.T) {
	poster := newStubLedger()
	queue := &stubQueue{}
	counter := &stubCounter{}
	svc := newTestService(stubRoles{roles: fullRoles()}, poster, queue, counter)

	txn, err := svc.RecordSale(context.Background(), 1, journal.SaleEvent{
		Number:   "INV-100",
		Amount:   116,
		Tax:      16,
		Payments: []journal.PaymentSplit{{Method: "cash", Amount: 116}},
	}, 0)
	require.NoError(t, err)
	require.True(t, txn.Posted)
	require.Equal(t, 116.0, txn.Amount)

	amounts := entryAmounts(poster.inputs[0])
	require.Equal(t, 116.0, amounts[acctCash][0])
	require.Equal(t, 100.0, amounts[acctRevenue][1])
	require.Equal(t, 16.0, amounts[acctTax][1])

	require.Empty(t, queue.subledger)
	require.Equal(t, []string{"sale"}, counter.events)
}

func TestRecordSaleSplitTenderOpensReceivable(t *testing.T) {
	poster := newStubLedger()
	queue := &stubQueue{}
	svc := newTestService(stubRoles{roles: fullRoles()}, poster, queue, &stubCounter{})

	due := time.Now().Add(30 * 24 * time.Hour)
	txn, err := svc.RecordSale(context.Background(), 1, journal.SaleEvent{
		Number:     "INV-101",
		CustomerID: 42,
		Amount:     200,
		Payments: []journal.PaymentSplit{
			{Method: "cash", Amount: 150},
			{Method: "credit", Amount: 50},
		},
		DueDate: due,
	}, 0)
	require.NoError(t, err)

	amounts := entryAmounts(poster.inputs[0])
	require.Equal(t, 150.0, amounts[acctCash][0])
	require.Equal(t, 50.0, amounts[acctAR][0])
	require.Equal(t, 200.0, amounts[acctRevenue][1])

	// Only the credit portion becomes a receivable.
	require.Len(t, queue.subledger, 1)
	rec := queue.subledger[0]
	require.Equal(t, "receivable", rec.Kind)
	require.Equal(t, int64(42), rec.CounterpartyID)
	require.Equal(t, 50.0, rec.Amount)
	require.Equal(t, txn.ID, rec.TransactionID)
}

func TestRecordSaleWithItemsMovesStockAndCosts(t *testing.T) {
	poster := newStubLedger()
	queue := &stubQueue{}
	svc := newTestService(stubRoles{roles: fullRoles()}, poster, queue, &stubCounter{})

	_, err := svc.RecordSale(context.Background(), 1, journal.SaleEvent{
		Number:   "INV-102",
		Amount:   100,
		Payments: []journal.PaymentSplit{{Method: "cash", Amount: 100}},
		Items:    []journal.LineItem{{ProductID: 7, Quantity: 2, UnitCost: 15}},
	}, 0)
	require.NoError(t, err)

	amounts := entryAmounts(poster.inputs[0])
	require.Equal(t, 30.0, amounts[acctCOGS][0])
	require.Equal(t, 30.0, amounts[acctInventory][1])

	require.Len(t, queue.stock, 1)
	require.Equal(t, -2.0, queue.stock[0].Movements[0].Quantity)
}

func TestRecordPurchaseOpensPayable(t *testing.T) {
	poster := newStubLedger()
	queue := &stubQueue{}
	svc := newTestService(stubRoles{roles: fullRoles()}, poster, queue, &stubCounter{})

	due := time.Now().Add(14 * 24 * time.Hour)
	txn, err := svc.RecordPurchase(context.Background(), 1, journal.PurchaseEvent{
		Number:     "PO-7",
		SupplierID: 9,
		Amount:     300,
		Items:      []journal.LineItem{{ProductID: 7, Quantity: 10, UnitCost: 30}},
		DueDate:    due,
	}, 0)
	require.NoError(t, err)

	amounts := entryAmounts(poster.inputs[0])
	require.Equal(t, 300.0, amounts[acctInventory][0])
	require.Equal(t, 300.0, amounts[acctAP][1])

	require.Len(t, queue.subledger, 1)
	require.Equal(t, "payable", queue.subledger[0].Kind)
	require.Equal(t, 300.0, queue.subledger[0].Amount)
	require.Equal(t, txn.ID, queue.subledger[0].TransactionID)

	require.Len(t, queue.stock, 1)
	require.Equal(t, 10.0, queue.stock[0].Movements[0].Quantity)
	require.Equal(t, "purchase", queue.stock[0].Movements[0].Reason)
}

func TestRecordPaymentsMirrorEachOther(t *testing.T) {
	poster := newStubLedger()
	svc := newTestService(stubRoles{roles: fullRoles()}, poster, &stubQueue{}, &stubCounter{})

	_, err := svc.RecordReceivablePayment(context.Background(), 1, journal.PaymentEvent{
		Number: "RCPT-1", Amount: 80,
	}, 0)
	require.NoError(t, err)
	_, err = svc.RecordPayablePayment(context.Background(), 1, journal.PaymentEvent{
		Number: "PAY-1", Amount: 60,
	}, 0)
	require.NoError(t, err)

	in := entryAmounts(poster.inputs[0])
	require.Equal(t, 80.0, in[acctCash][0])
	require.Equal(t, 80.0, in[acctAR][1])

	out := entryAmounts(poster.inputs[1])
	require.Equal(t, 60.0, out[acctAP][0])
	require.Equal(t, 60.0, out[acctCash][1])
}

func TestRecordSalesReturnRestocks(t *testing.T) {
	poster := newStubLedger()
	queue := &stubQueue{}
	svc := newTestService(stubRoles{roles: fullRoles()}, poster, queue, &stubCounter{})

	_, err := svc.RecordSalesReturn(context.Background(), 1, journal.SalesReturnEvent{
		Number:  "RET-1",
		Amount:  50,
		Items:   []journal.LineItem{{ProductID: 7, Quantity: 1, UnitCost: 15}},
		Restock: true,
	}, 0)
	require.NoError(t, err)

	amounts := entryAmounts(poster.inputs[0])
	require.Equal(t, 50.0, amounts[acctReturns][0])
	require.Equal(t, 50.0, amounts[acctCash][1])
	require.Equal(t, 15.0, amounts[acctInventory][0])
	require.Equal(t, 15.0, amounts[acctCOGS][1])

	require.Len(t, queue.stock, 1)
	require.Equal(t, 1.0, queue.stock[0].Movements[0].Quantity)
	require.Equal(t, "return", queue.stock[0].Movements[0].Reason)
}

func TestRecordPurchaseReturnRemovesRestockedStock(t *testing.T) {
	poster := newStubLedger()
	queue := &stubQueue{}
	svc := newTestService(stubRoles{roles: fullRoles()}, poster, queue, &stubCounter{})

	_, err := svc.RecordPurchaseReturn(context.Background(), 1, journal.PurchaseReturnEvent{
		Number:    "PRET-1",
		Amount:    60,
		Items:     []journal.LineItem{{ProductID: 7, Quantity: 2, UnitCost: 30}},
		Restocked: true,
	}, 0)
	require.NoError(t, err)

	require.Len(t, queue.stock, 1)
	require.Equal(t, -2.0, queue.stock[0].Movements[0].Quantity)
	require.Equal(t, "purchase_return", queue.stock[0].Movements[0].Reason)
}

func TestReplayedEventReturnsOriginalTransaction(t *testing.T) {
	poster := newStubLedger()
	queue := &stubQueue{}
	svc := newTestService(stubRoles{roles: fullRoles()}, poster, queue, &stubCounter{})

	ev := journal.SaleEvent{
		Number:   "INV-200",
		Amount:   100,
		Payments: []journal.PaymentSplit{{Method: "cash", Amount: 100}},
	}
	first, err := svc.RecordSale(context.Background(), 1, ev, 0)
	require.NoError(t, err)
	second, err := svc.RecordSale(context.Background(), 1, ev, 0)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, poster.inputs, 1)
}

func TestMissingRoleMappingSurfaces(t *testing.T) {
	roles := fullRoles()
	delete(roles, accounts.RoleSalesRevenue)
	svc := newTestService(stubRoles{roles: roles}, newStubLedger(), &stubQueue{}, &stubCounter{})

	_, err := svc.RecordSale(context.Background(), 1, journal.SaleEvent{
		Number:   "INV-300",
		Amount:   100,
		Payments: []journal.PaymentSplit{{Method: "cash", Amount: 100}},
	}, 0)
	var mapErr *journal.MissingAccountMappingError
	require.ErrorAs(t, err, &mapErr)
	require.Equal(t, accounts.RoleSalesRevenue, mapErr.Role)
}

func TestEventNumberRequired(t *testing.T) {
	svc := newTestService(stubRoles{roles: fullRoles()}, newStubLedger(), &stubQueue{}, &stubCounter{})

	_, err := svc.RecordSale(context.Background(), 1, journal.SaleEvent{
		Amount:   100,
		Payments: []journal.PaymentSplit{{Method: "cash", Amount: 100}},
	}, 0)
	var valErr *journal.ValidationError
	require.ErrorAs(t, err, &valErr)
}
