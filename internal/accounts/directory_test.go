package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu        sync.Mutex
	accounts  map[int64][]Account
	bootstrap int
	listErr   error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: make(map[int64][]Account)}
}

func (m *memoryRepo) ListActive(_ context.Context, tenantID int64) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]Account(nil), m.accounts[tenantID]...), nil
}

func (m *memoryRepo) CreateDefaultChart(_ context.Context, tenantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootstrap++
	if len(m.accounts[tenantID]) > 0 {
		return nil
	}
	categories := make(map[string]Category)
	for _, st := range defaultTypes() {
		categories[st.Name] = st.Category
	}
	var id int64
	for _, seed := range defaultAccounts() {
		id++
		m.accounts[tenantID] = append(m.accounts[tenantID], Account{
			ID:       id,
			TenantID: tenantID,
			Code:     seed.Code,
			Name:     seed.Name,
			Category: categories[seed.TypeName],
			IsActive: true,
		})
	}
	return nil
}

func accountByCode(accounts []Account, code string) Account {
	for _, a := range accounts {
		if a.Code == code {
			return a
		}
	}
	return Account{}
}

func TestResolveRolesOnDefaultChart(t *testing.T) {
	repo := newMemoryRepo()
	dir := NewDirectory(repo, nil, nil, true)

	roles, err := dir.ResolveRoles(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, repo.bootstrap)

	chart := repo.accounts[1]
	expect := map[Role]string{
		RoleCash:               "1000", // lowest code among cash/bank
		RoleAccountsReceivable: "1100",
		RoleInventory:          "1200",
		RoleAccountsPayable:    "2000",
		RoleSalesTaxPayable:    "2100",
		RoleSalesRevenue:       "4000",
		RoleSalesReturns:       "4100",
		RoleDiscountsGiven:     "6000",
		RoleCostOfGoodsSold:    "5000",
	}
	for role, code := range expect {
		id, ok := roles.Lookup(role)
		require.True(t, ok, "role %s unresolved", role)
		require.Equal(t, accountByCode(chart, code).ID, id, "role %s", role)
	}
}

func TestResolveRolesWithoutBootstrap(t *testing.T) {
	dir := NewDirectory(newMemoryRepo(), nil, nil, false)

	_, err := dir.ResolveRoles(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoChartOfAccounts)
}

func TestResolveRolesPropagatesRepoErrors(t *testing.T) {
	repo := newMemoryRepo()
	repo.listErr = errors.New("connection refused")
	dir := NewDirectory(repo, nil, nil, true)

	_, err := dir.ResolveRoles(context.Background(), 1)
	require.Error(t, err)
}

func TestTieBreakPicksLowestCode(t *testing.T) {
	repo := newMemoryRepo()
	repo.accounts[1] = []Account{
		{ID: 10, Code: "1010", Name: "Bank Account", Category: CategoryAssets, IsActive: true},
		{ID: 11, Code: "1000", Name: "Cash on Hand", Category: CategoryAssets, IsActive: true},
		{ID: 12, Code: "4000", Name: "Sales Revenue", Category: CategoryIncome, IsActive: true},
	}
	dir := NewDirectory(repo, nil, nil, false)

	roles, err := dir.ResolveRoles(context.Background(), 1)
	require.NoError(t, err)
	id, ok := roles.Lookup(RoleCash)
	require.True(t, ok)
	require.Equal(t, int64(11), id)
}

func TestRuleOrderIsPriority(t *testing.T) {
	// Both income accounts match the broad "sales" substring; the revenue
	// rule keeps the lowest code and the returns rule still claims 4100.
	accountsList := []Account{
		{ID: 1, Code: "4100", Name: "Sales Returns and Allowances", Category: CategoryIncome, IsActive: true},
		{ID: 2, Code: "4000", Name: "Sales Revenue", Category: CategoryIncome, IsActive: true},
	}
	roles := resolveRoles(accountsList, DefaultRules())
	require.Equal(t, int64(2), roles[RoleSalesRevenue])
	require.Equal(t, int64(1), roles[RoleSalesReturns])
}

func TestConcurrentResolutionBootstrapsOnce(t *testing.T) {
	repo := newMemoryRepo()
	dir := NewDirectory(repo, nil, nil, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dir.ResolveRoles(context.Background(), 1)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	// CreateDefaultChart itself is guarded; singleflight keeps redundant
	// resolution attempts down but the guard is what matters.
	require.GreaterOrEqual(t, repo.bootstrap, 1)
	require.Len(t, repo.accounts[1], len(defaultAccounts()))
}
