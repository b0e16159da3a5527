package journal

import (
	"fmt"

	"github.com/meridian-ledger/meridian/internal/accounts"
)

// need resolves a role the event actually references, failing with
// MissingAccountMappingError when the tenant's chart has no match.
func need(roles accounts.RoleMap, role accounts.Role) (int64, error) {
	id, ok := roles.Lookup(role)
	if !ok {
		return 0, &MissingAccountMappingError{Role: role}
	}
	return id, nil
}

// BuildSale constructs the journal lines for a sale. The payment breakdown is
// split into a credit portion (routed to accounts receivable) and a cash
// portion; revenue is credited net of tax and discount. When line items carry
// unit costs, a cost-of-goods / inventory pair is added. A non-zero credit
// portion yields a receivable request for that portion only.
func BuildSale(ev SaleEvent, roles accounts.RoleMap) (Draft, error) {
	if ev.Amount <= 0 {
		return Draft{}, &ValidationError{Reason: "sale amount must be positive"}
	}
	creditPortion := ev.CreditPortion()
	if creditPortion > ev.Amount+BalanceEpsilon {
		return Draft{}, &ValidationError{Reason: "credit portion exceeds sale amount"}
	}
	cashPortion := round2(ev.Amount - creditPortion)

	var lines []Line
	if cashPortion > 0 {
		cashID, err := need(roles, accounts.RoleCash)
		if err != nil {
			return Draft{}, err
		}
		lines = append(lines, Line{AccountID: cashID, Debit: cashPortion})
	}
	if creditPortion > 0 {
		arID, err := need(roles, accounts.RoleAccountsReceivable)
		if err != nil {
			return Draft{}, err
		}
		lines = append(lines, Line{AccountID: arID, Debit: creditPortion})
	}

	// Revenue is net of tax and discount; either component folds back into
	// revenue when its role is not configured so the transaction stays
	// balanced.
	revenue := ev.Amount
	tax := round2(ev.Tax)
	discount := round2(ev.Discount)
	taxID, taxOK := roles.Lookup(accounts.RoleSalesTaxPayable)
	if tax > 0 && taxOK {
		revenue -= tax
	}
	discountID, discountOK := roles.Lookup(accounts.RoleDiscountsGiven)
	if discount > 0 && discountOK {
		revenue += discount
	}
	revenueID, err := need(roles, accounts.RoleSalesRevenue)
	if err != nil {
		return Draft{}, err
	}
	lines = append(lines, Line{AccountID: revenueID, Credit: round2(revenue)})
	if tax > 0 && taxOK {
		lines = append(lines, Line{AccountID: taxID, Credit: tax})
	}
	if discount > 0 && discountOK {
		lines = append(lines, Line{AccountID: discountID, Debit: discount})
	}

	if cogs := ItemsValue(ev.Items); cogs > 0 {
		cogsID, err := need(roles, accounts.RoleCostOfGoodsSold)
		if err != nil {
			return Draft{}, err
		}
		inventoryID, err := need(roles, accounts.RoleInventory)
		if err != nil {
			return Draft{}, err
		}
		lines = append(lines,
			Line{AccountID: cogsID, Debit: cogs, Description: "Cost of goods sold"},
			Line{AccountID: inventoryID, Credit: cogs, Description: "Inventory consumed"},
		)
	}

	if err := Validate(lines); err != nil {
		return Draft{}, err
	}
	draft := Draft{
		Description: fmt.Sprintf("Sale %s", ev.Number),
		Lines:       lines,
	}
	if creditPortion > 0 {
		draft.Receivable = &SubledgerRequest{
			CounterpartyID: ev.CustomerID,
			Amount:         creditPortion,
			DueDate:        ev.DueDate,
		}
	}
	return draft, nil
}

// BuildPurchase constructs the journal lines for a purchase receipt: debit
// inventory, credit accounts payable, always opening a payable record.
func BuildPurchase(ev PurchaseEvent, roles accounts.RoleMap) (Draft, error) {
	if ev.Amount <= 0 {
		return Draft{}, &ValidationError{Reason: "purchase amount must be positive"}
	}
	inventoryID, err := need(roles, accounts.RoleInventory)
	if err != nil {
		return Draft{}, err
	}
	apID, err := need(roles, accounts.RoleAccountsPayable)
	if err != nil {
		return Draft{}, err
	}
	amount := round2(ev.Amount)
	lines := []Line{
		{AccountID: inventoryID, Debit: amount},
		{AccountID: apID, Credit: amount},
	}
	if err := Validate(lines); err != nil {
		return Draft{}, err
	}
	return Draft{
		Description: fmt.Sprintf("Purchase %s", ev.Number),
		Lines:       lines,
		Payable: &SubledgerRequest{
			CounterpartyID: ev.SupplierID,
			Amount:         amount,
			DueDate:        ev.DueDate,
		},
	}, nil
}

// BuildReceivablePayment constructs the lines for cash collected against a
// receivable: debit cash, credit accounts receivable.
func BuildReceivablePayment(ev PaymentEvent, roles accounts.RoleMap) (Draft, error) {
	if ev.Amount <= 0 {
		return Draft{}, &ValidationError{Reason: "payment amount must be positive"}
	}
	cashID, err := need(roles, accounts.RoleCash)
	if err != nil {
		return Draft{}, err
	}
	arID, err := need(roles, accounts.RoleAccountsReceivable)
	if err != nil {
		return Draft{}, err
	}
	amount := round2(ev.Amount)
	lines := []Line{
		{AccountID: cashID, Debit: amount},
		{AccountID: arID, Credit: amount},
	}
	if err := Validate(lines); err != nil {
		return Draft{}, err
	}
	return Draft{Description: fmt.Sprintf("Customer payment %s", ev.Number), Lines: lines}, nil
}

// BuildPayablePayment constructs the lines for cash paid against a payable:
// debit accounts payable, credit cash.
func BuildPayablePayment(ev PaymentEvent, roles accounts.RoleMap) (Draft, error) {
	if ev.Amount <= 0 {
		return Draft{}, &ValidationError{Reason: "payment amount must be positive"}
	}
	apID, err := need(roles, accounts.RoleAccountsPayable)
	if err != nil {
		return Draft{}, err
	}
	cashID, err := need(roles, accounts.RoleCash)
	if err != nil {
		return Draft{}, err
	}
	amount := round2(ev.Amount)
	lines := []Line{
		{AccountID: apID, Debit: amount},
		{AccountID: cashID, Credit: amount},
	}
	if err := Validate(lines); err != nil {
		return Draft{}, err
	}
	return Draft{Description: fmt.Sprintf("Supplier payment %s", ev.Number), Lines: lines}, nil
}

// BuildSalesReturn constructs the lines for a customer refund: debit the
// contra-revenue returns account (sales revenue when no contra account is
// configured), credit cash. A restocked return additionally moves the
// returned value back from cost of goods sold into inventory.
func BuildSalesReturn(ev SalesReturnEvent, roles accounts.RoleMap) (Draft, error) {
	if ev.Amount <= 0 {
		return Draft{}, &ValidationError{Reason: "return amount must be positive"}
	}
	returnsID, ok := roles.Lookup(accounts.RoleSalesReturns)
	if !ok {
		var err error
		returnsID, err = need(roles, accounts.RoleSalesRevenue)
		if err != nil {
			return Draft{}, err
		}
	}
	cashID, err := need(roles, accounts.RoleCash)
	if err != nil {
		return Draft{}, err
	}
	amount := round2(ev.Amount)
	lines := []Line{
		{AccountID: returnsID, Debit: amount},
		{AccountID: cashID, Credit: amount, Description: "Refund"},
	}
	if ev.Restock {
		if value := ItemsValue(ev.Items); value > 0 {
			inventoryID, err := need(roles, accounts.RoleInventory)
			if err != nil {
				return Draft{}, err
			}
			cogsID, err := need(roles, accounts.RoleCostOfGoodsSold)
			if err != nil {
				return Draft{}, err
			}
			lines = append(lines,
				Line{AccountID: inventoryID, Debit: value, Description: "Restocked"},
				Line{AccountID: cogsID, Credit: value},
			)
		}
	}
	if err := Validate(lines); err != nil {
		return Draft{}, err
	}
	return Draft{Description: fmt.Sprintf("Sales return %s", ev.Number), Lines: lines}, nil
}

// BuildPurchaseReturn constructs the lines for goods sent back to a supplier:
// debit accounts payable, credit cash. When the returned quantity was never
// restocked its value is written off inventory through cost of goods sold.
func BuildPurchaseReturn(ev PurchaseReturnEvent, roles accounts.RoleMap) (Draft, error) {
	if ev.Amount <= 0 {
		return Draft{}, &ValidationError{Reason: "return amount must be positive"}
	}
	apID, err := need(roles, accounts.RoleAccountsPayable)
	if err != nil {
		return Draft{}, err
	}
	cashID, err := need(roles, accounts.RoleCash)
	if err != nil {
		return Draft{}, err
	}
	amount := round2(ev.Amount)
	lines := []Line{
		{AccountID: apID, Debit: amount},
		{AccountID: cashID, Credit: amount},
	}
	if !ev.Restocked {
		if value := ItemsValue(ev.Items); value > 0 {
			cogsID, err := need(roles, accounts.RoleCostOfGoodsSold)
			if err != nil {
				return Draft{}, err
			}
			inventoryID, err := need(roles, accounts.RoleInventory)
			if err != nil {
				return Draft{}, err
			}
			lines = append(lines,
				Line{AccountID: cogsID, Debit: value, Description: "Write-off"},
				Line{AccountID: inventoryID, Credit: value},
			)
		}
	}
	if err := Validate(lines); err != nil {
		return Draft{}, err
	}
	return Draft{Description: fmt.Sprintf("Purchase return %s", ev.Number), Lines: lines}, nil
}
