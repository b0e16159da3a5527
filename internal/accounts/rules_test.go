package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "accountsreceivable", Normalize("Accounts Receivable"))
	require.Equal(t, "salestaxpayable", Normalize("Sales Tax Payable (VAT)"))
	require.Equal(t, "cogs", Normalize("C.O.G.S."))
	require.Equal(t, "", Normalize("---"))
}

func TestMatchRule(t *testing.T) {
	rule := MatchRule{
		Role:       RoleInventory,
		Substrings: []string{"inventory", "stock"},
		Codes:      []string{"1200"},
	}
	require.True(t, rule.Matches(Account{Code: "1300", Name: "Merchandise Inventory"}))
	require.True(t, rule.Matches(Account{Code: "1400", Name: "Stock on Hand"}))
	require.True(t, rule.Matches(Account{Code: "1200", Name: "Warehouse"}))
	require.False(t, rule.Matches(Account{Code: "1000", Name: "Cash on Hand"}))

	categorized := MatchRule{Role: RoleCash, Substrings: []string{"cash"}, Category: CategoryAssets}
	require.True(t, categorized.Matches(Account{Name: "Petty Cash", Category: CategoryAssets}))
	require.False(t, categorized.Matches(Account{Name: "Cash Over/Short", Category: CategoryExpenses}))
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	content := `
[[rules]]
role = "cash"
substrings = ["kasse"]
category = "ASSETS"

[[rules]]
role = "sales_revenue"
codes = ["8000"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, RoleCash, rules[0].Role)
	require.True(t, rules[0].Matches(Account{Name: "Hauptkasse", Category: CategoryAssets}))
	require.True(t, rules[1].Matches(Account{Code: "8000", Name: "Umsatz"}))
}

func TestLoadRulesRejectsEmptyAndInvalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.toml")
	require.NoError(t, os.WriteFile(empty, []byte(""), 0o600))
	_, err := LoadRules(empty)
	require.Error(t, err)

	noPredicates := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(noPredicates, []byte("[[rules]]\nrole = \"cash\"\n"), 0o600))
	_, err = LoadRules(noPredicates)
	require.Error(t, err)

	_, err = LoadRules(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}
