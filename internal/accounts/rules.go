package accounts

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// MatchRule describes how a role is recognised in a tenant's chart of
// accounts. Substrings are tested against the normalised account name, codes
// against the raw account code, and Category, when set, must match the
// account's category. Rules are evaluated in declared order; among accounts
// matching one rule the lowest code wins.
type MatchRule struct {
	Role       Role     `toml:"role"`
	Substrings []string `toml:"substrings"`
	Codes      []string `toml:"codes"`
	Category   Category `toml:"category"`
}

// Matches reports whether the account satisfies the rule.
func (r MatchRule) Matches(a Account) bool {
	if r.Category != "" && a.Category != r.Category {
		return false
	}
	for _, code := range r.Codes {
		if a.Code == code {
			return true
		}
	}
	name := Normalize(a.Name)
	for _, sub := range r.Substrings {
		if sub != "" && strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

// Normalize lowercases a name and strips non-alphanumeric runes.
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DefaultRules returns the built-in role match table.
func DefaultRules() []MatchRule {
	return []MatchRule{
		{Role: RoleCash, Substrings: []string{"cash", "bank"}, Category: CategoryAssets},
		{Role: RoleAccountsReceivable, Substrings: []string{"receivable"}, Category: CategoryAssets},
		{Role: RoleInventory, Substrings: []string{"inventory", "stock"}, Codes: []string{"1200", "1020"}},
		{Role: RoleAccountsPayable, Substrings: []string{"accountspayable", "tradepayable"}, Codes: []string{"2000"}, Category: CategoryLiabilities},
		{Role: RoleSalesTaxPayable, Substrings: []string{"taxpayable", "salestax"}, Codes: []string{"2100"}, Category: CategoryLiabilities},
		{Role: RoleSalesRevenue, Substrings: []string{"salesrevenue", "sales", "revenue"}, Category: CategoryIncome},
		{Role: RoleSalesReturns, Substrings: []string{"return"}, Category: CategoryIncome},
		{Role: RoleDiscountsGiven, Substrings: []string{"discount"}},
		{Role: RoleCostOfGoodsSold, Substrings: []string{"costofgoods", "cogs"}},
	}
}

type rulesFile struct {
	Rules []MatchRule `toml:"rules"`
}

// LoadRules reads a rule table from a TOML file. Used to override the default
// table per deployment; ordering in the file is the evaluation priority.
func LoadRules(path string) ([]MatchRule, error) {
	var file rulesFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("accounts: load rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("accounts: rules file %s defines no rules", path)
	}
	for i, rule := range file.Rules {
		if rule.Role == "" {
			return nil, fmt.Errorf("accounts: rule %d missing role", i)
		}
		if len(rule.Substrings) == 0 && len(rule.Codes) == 0 {
			return nil, fmt.Errorf("accounts: rule %d for role %s has no predicates", i, rule.Role)
		}
	}
	return file.Rules, nil
}
