package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-ledger/meridian/internal/journal"
	"github.com/meridian-ledger/meridian/internal/shared"
)

type memoryStore struct {
	mu       sync.Mutex
	seq      int64
	txns     map[int64]Transaction
	entries  map[int64][]Entry
	refs     map[string]int64
	balances map[int64]float64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		txns:     make(map[int64]Transaction),
		entries:  make(map[int64][]Entry),
		refs:     make(map[string]int64),
		balances: make(map[int64]float64),
	}
}

func refKey(tenantID int64, ref Reference) string {
	return fmt.Sprintf("%d|%s|%s", tenantID, ref.Type, ref.ID)
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m)
}

func (m *memoryStore) InsertTransaction(_ context.Context, in CreateInput, number string) (Transaction, error) {
	m.seq++
	txn := Transaction{
		ID:          m.seq,
		TenantID:    in.TenantID,
		Number:      number,
		Description: in.Description,
		Date:        in.Date,
		Amount:      debitTotal(in.Entries),
		Reference:   in.Reference,
		CreatedBy:   in.ActorID,
		CreatedAt:   time.Now(),
	}
	m.txns[txn.ID] = txn
	return txn, nil
}

func (m *memoryStore) InsertEntries(_ context.Context, txnID int64, entries []EntryInput) error {
	for _, in := range entries {
		m.seq++
		m.entries[txnID] = append(m.entries[txnID], Entry{
			ID: m.seq, TransactionID: txnID, AccountID: in.AccountID,
			Debit: in.Debit, Credit: in.Credit, Description: in.Description,
		})
	}
	return nil
}

func (m *memoryStore) LinkReference(_ context.Context, tenantID int64, ref Reference, txnID int64) error {
	key := refKey(tenantID, ref)
	if _, exists := m.refs[key]; exists {
		return ErrReferenceConflict
	}
	m.refs[key] = txnID
	return nil
}

func (m *memoryStore) FindByReference(_ context.Context, tenantID int64, ref Reference) (int64, error) {
	id, ok := m.refs[refKey(tenantID, ref)]
	if !ok {
		return 0, ErrTransactionNotFound
	}
	return id, nil
}

func (m *memoryStore) GetForUpdate(_ context.Context, tenantID, txnID int64) (Transaction, error) {
	txn, ok := m.txns[txnID]
	if !ok || txn.TenantID != tenantID {
		return Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

func (m *memoryStore) GetEntries(_ context.Context, txnID int64) ([]Entry, error) {
	return append([]Entry(nil), m.entries[txnID]...), nil
}

func (m *memoryStore) MarkPosted(_ context.Context, txnID int64, at time.Time) error {
	txn, ok := m.txns[txnID]
	if !ok {
		return ErrTransactionNotFound
	}
	if txn.Posted {
		return ErrAlreadyPosted
	}
	txn.Posted = true
	txn.PostedAt = &at
	m.txns[txnID] = txn
	return nil
}

func (m *memoryStore) ApplyBalanceDelta(_ context.Context, _, accountID int64, delta float64) error {
	m.balances[accountID] += delta
	return nil
}

func (m *memoryStore) ReplaceEntries(ctx context.Context, txnID int64, entries []EntryInput) error {
	m.entries[txnID] = nil
	return m.InsertEntries(ctx, txnID, entries)
}

func (m *memoryStore) UpdateHeader(_ context.Context, txnID int64, description string, date time.Time, amount float64) error {
	txn := m.txns[txnID]
	txn.Description = description
	txn.Date = date
	txn.Amount = amount
	m.txns[txnID] = txn
	return nil
}

func (m *memoryStore) DeleteTransaction(_ context.Context, tenantID, txnID int64) error {
	txn, ok := m.txns[txnID]
	if !ok || txn.TenantID != tenantID {
		return ErrTransactionNotFound
	}
	delete(m.txns, txnID)
	delete(m.entries, txnID)
	for key, id := range m.refs {
		if id == txnID {
			delete(m.refs, key)
		}
	}
	return nil
}

func (m *memoryStore) Get(_ context.Context, tenantID, txnID int64) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[txnID]
	if !ok || txn.TenantID != tenantID {
		return Transaction{}, ErrTransactionNotFound
	}
	txn.Entries = append([]Entry(nil), m.entries[txnID]...)
	return txn, nil
}

func (m *memoryStore) List(_ context.Context, tenantID int64, filter ListFilter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, txn := range m.txns {
		if txn.TenantID != tenantID {
			continue
		}
		if filter.Posted != nil && txn.Posted != *filter.Posted {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

type stubPolicy struct {
	allow    bool
	attempts []string
}

func (p *stubPolicy) Allows(context.Context, int64, string) (bool, error) {
	return p.allow, nil
}

func (p *stubPolicy) LogAttempt(_ context.Context, _, _ int64, resource, id, _ string) error {
	p.attempts = append(p.attempts, resource+":"+id)
	return nil
}

type stubAudit struct {
	actions []string
}

func (a *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func newTestService(store Store, policy shared.DeletionPolicy) (*Service, *stubAudit) {
	audit := &stubAudit{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, policy, audit, log), audit
}

func balancedEntries() []EntryInput {
	return []EntryInput{
		{AccountID: 1, Debit: 150},
		{AccountID: 2, Credit: 150},
	}
}

func TestCreateDraftDoesNotTouchBalances(t *testing.T) {
	store := newMemoryStore()
	svc, audit := newTestService(store, &stubPolicy{allow: true})

	txn, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Manual adjustment",
		Entries:     balancedEntries(),
	})
	require.NoError(t, err)
	require.False(t, txn.Posted)
	require.Equal(t, 150.0, txn.Amount)
	require.Len(t, txn.Entries, 2)
	require.Zero(t, store.balances[1])
	require.Zero(t, store.balances[2])
	require.Contains(t, audit.actions, "journal.create")
}

func TestCreateAndPostAppliesBalances(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	txn, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Cash sale",
		Entries:     balancedEntries(),
		Post:        true,
	})
	require.NoError(t, err)
	require.True(t, txn.Posted)
	require.NotNil(t, txn.PostedAt)
	require.Equal(t, 150.0, store.balances[1])
	require.Equal(t, -150.0, store.balances[2])
}

func TestCreateWithReferenceIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	in := CreateInput{
		TenantID:    1,
		Description: "Sale INV-1",
		Entries:     balancedEntries(),
		Reference:   &Reference{Type: "sale", ID: "INV-1"},
		Post:        true,
	}
	first, err := svc.Create(context.Background(), in)
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// Balances were applied exactly once.
	require.Equal(t, 150.0, store.balances[1])
	require.Equal(t, -150.0, store.balances[2])
	require.Len(t, store.txns, 1)
}

func TestCreateRejectsUnbalancedEntries(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	_, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Broken",
		Entries: []EntryInput{
			{AccountID: 1, Debit: 100},
			{AccountID: 2, Credit: 90},
		},
	})
	var valErr *journal.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Empty(t, store.txns)
	require.Empty(t, store.balances)
}

func TestPostIsIdempotentAndStrictDetectsDoublePost(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	txn, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Draft",
		Entries:     balancedEntries(),
	})
	require.NoError(t, err)

	posted, err := svc.Post(context.Background(), 1, txn.ID, 7)
	require.NoError(t, err)
	require.True(t, posted.Posted)

	again, err := svc.Post(context.Background(), 1, txn.ID, 7)
	require.NoError(t, err)
	require.True(t, again.Posted)
	require.Equal(t, 150.0, store.balances[1])

	_, err = svc.PostStrict(context.Background(), 1, txn.ID, 7)
	require.ErrorIs(t, err, ErrAlreadyPosted)
	require.Equal(t, 150.0, store.balances[1])
}

func TestUpdateRejectsPostedTransaction(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	txn, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Posted",
		Entries:     balancedEntries(),
		Post:        true,
	})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), UpdateInput{
		TenantID:      1,
		TransactionID: txn.ID,
		Entries:       balancedEntries(),
	})
	require.ErrorIs(t, err, ErrTransactionPosted)
}

func TestUpdateRewritesDraft(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	txn, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Draft",
		Entries:     balancedEntries(),
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), UpdateInput{
		TenantID:      1,
		TransactionID: txn.ID,
		Description:   "Corrected",
		Entries: []EntryInput{
			{AccountID: 1, Debit: 200},
			{AccountID: 3, Credit: 200},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Corrected", updated.Description)
	require.Equal(t, 200.0, updated.Amount)
	require.Len(t, updated.Entries, 2)
}

func TestDeleteRespectsPolicyAndPostedState(t *testing.T) {
	store := newMemoryStore()
	policy := &stubPolicy{allow: false}
	svc, _ := newTestService(store, policy)

	draft, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Draft",
		Entries:     balancedEntries(),
	})
	require.NoError(t, err)

	err = svc.Delete(context.Background(), 1, draft.ID, 7)
	require.ErrorIs(t, err, ErrDeletionDisabled)
	require.Len(t, policy.attempts, 1)

	policy.allow = true
	posted, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Posted",
		Entries:     balancedEntries(),
		Post:        true,
	})
	require.NoError(t, err)
	err = svc.Delete(context.Background(), 1, posted.ID, 7)
	require.ErrorIs(t, err, ErrTransactionPosted)

	require.NoError(t, svc.Delete(context.Background(), 1, draft.ID, 7))
	_, err = svc.Get(context.Background(), 1, draft.ID)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestReverseRestoresBalancesAndIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	txn, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Posted",
		Entries:     balancedEntries(),
		Post:        true,
	})
	require.NoError(t, err)

	rev, err := svc.Reverse(context.Background(), 1, txn.ID, 7, "")
	require.NoError(t, err)
	require.True(t, rev.Posted)
	require.NotEqual(t, txn.ID, rev.ID)
	require.Zero(t, store.balances[1])
	require.Zero(t, store.balances[2])

	again, err := svc.Reverse(context.Background(), 1, txn.ID, 7, "")
	require.NoError(t, err)
	require.Equal(t, rev.ID, again.ID)
	require.Zero(t, store.balances[1])
}

func TestReverseRequiresPostedTransaction(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	draft, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Draft",
		Entries:     balancedEntries(),
	})
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), 1, draft.ID, 7, "")
	require.ErrorIs(t, err, ErrNotPosted)
}

func TestTenantIsolation(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(store, &stubPolicy{allow: true})

	txn, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		Description: "Tenant one",
		Entries:     balancedEntries(),
	})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), 2, txn.ID)
	require.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = svc.Post(context.Background(), 2, txn.ID, 7)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}
