package accounts

// seedType describes one account type created during bootstrap.
type seedType struct {
	Name     string
	Category Category
}

// seedAccount describes one default account created during bootstrap.
type seedAccount struct {
	Code     string
	Name     string
	TypeName string
}

func defaultTypes() []seedType {
	return []seedType{
		{Name: "Current Assets", Category: CategoryAssets},
		{Name: "Fixed Assets", Category: CategoryAssets},
		{Name: "Current Liabilities", Category: CategoryLiabilities},
		{Name: "Long-Term Liabilities", Category: CategoryLiabilities},
		{Name: "Equity", Category: CategoryEquity},
		{Name: "Revenue", Category: CategoryIncome},
		{Name: "Cost of Goods Sold", Category: CategoryExpenses},
		{Name: "Operating Expenses", Category: CategoryExpenses},
	}
}

func defaultAccounts() []seedAccount {
	return []seedAccount{
		{Code: "1000", Name: "Cash on Hand", TypeName: "Current Assets"},
		{Code: "1010", Name: "Bank Account", TypeName: "Current Assets"},
		{Code: "1100", Name: "Accounts Receivable", TypeName: "Current Assets"},
		{Code: "1200", Name: "Inventory", TypeName: "Current Assets"},
		{Code: "1500", Name: "Equipment", TypeName: "Fixed Assets"},
		{Code: "2000", Name: "Accounts Payable", TypeName: "Current Liabilities"},
		{Code: "2100", Name: "Sales Tax Payable", TypeName: "Current Liabilities"},
		{Code: "2500", Name: "Long-Term Loans", TypeName: "Long-Term Liabilities"},
		{Code: "3000", Name: "Owner Capital", TypeName: "Equity"},
		{Code: "3100", Name: "Retained Earnings", TypeName: "Equity"},
		{Code: "4000", Name: "Sales Revenue", TypeName: "Revenue"},
		{Code: "4100", Name: "Sales Returns and Allowances", TypeName: "Revenue"},
		{Code: "5000", Name: "Cost of Goods Sold", TypeName: "Cost of Goods Sold"},
		{Code: "6000", Name: "Discounts Given", TypeName: "Operating Expenses"},
		{Code: "6100", Name: "General Operating Expenses", TypeName: "Operating Expenses"},
	}
}
