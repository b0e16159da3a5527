package accounts

import (
	"errors"
	"time"
)

// Category enumerates chart-of-accounts categories.
type Category string

const (
	CategoryAssets      Category = "ASSETS"
	CategoryLiabilities Category = "LIABILITIES"
	CategoryEquity      Category = "EQUITY"
	CategoryIncome      Category = "INCOME"
	CategoryExpenses    Category = "EXPENSES"
)

// Role names a semantic ledger slot that journal construction resolves to a
// concrete account.
type Role string

const (
	RoleCash               Role = "cash"
	RoleAccountsReceivable Role = "accounts_receivable"
	RoleInventory          Role = "inventory"
	RoleAccountsPayable    Role = "accounts_payable"
	RoleSalesRevenue       Role = "sales_revenue"
	RoleSalesReturns       Role = "sales_returns"
	RoleSalesTaxPayable    Role = "sales_tax_payable"
	RoleDiscountsGiven     Role = "discounts_given"
	RoleCostOfGoodsSold    Role = "cost_of_goods_sold"
)

// AccountType groups accounts under a category.
type AccountType struct {
	ID       int64
	TenantID int64
	Name     string
	Category Category
}

// Account models a chart of accounts node. Balance is mutated only through
// posted journal transactions.
type Account struct {
	ID        int64
	TenantID  int64
	Code      string
	Name      string
	TypeID    int64
	Category  Category
	Balance   float64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleMap maps resolved roles to account ids.
type RoleMap map[Role]int64

// Lookup returns the account id for a role when resolved.
func (m RoleMap) Lookup(role Role) (int64, bool) {
	id, ok := m[role]
	return id, ok
}

// ErrNoChartOfAccounts indicates the tenant has zero active accounts and
// bootstrap is disabled.
var ErrNoChartOfAccounts = errors.New("accounts: tenant has no chart of accounts")
