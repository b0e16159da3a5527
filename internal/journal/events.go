package journal

import "time"

// SaleEvent describes a completed checkout. Amount is the gross amount
// collected or owed (revenue plus tax minus discount); Payments split that
// amount by method.
type SaleEvent struct {
	Number     string
	CustomerID int64
	Amount     float64
	Tax        float64
	Discount   float64
	Payments   []PaymentSplit
	Items      []LineItem
	Date       time.Time
	DueDate    time.Time
}

// PurchaseEvent describes goods received from a supplier. Purchases are
// treated as unpaid until an explicit payment event, regardless of any
// "received" flag upstream.
type PurchaseEvent struct {
	Number     string
	SupplierID int64
	Amount     float64
	Items      []LineItem
	Date       time.Time
	DueDate    time.Time
}

// PaymentEvent describes cash applied against a receivable or payable.
type PaymentEvent struct {
	Number         string
	CounterpartyID int64
	Amount         float64
	Method         string
	Date           time.Time
}

// SalesReturnEvent describes a customer refund. Restock marks the returned
// quantity as going back on hand.
type SalesReturnEvent struct {
	Number     string
	CustomerID int64
	Amount     float64
	Items      []LineItem
	Restock    bool
	Date       time.Time
}

// PurchaseReturnEvent describes goods sent back to a supplier. Restocked
// false means the returned value is written off inventory through cost of
// goods sold.
type PurchaseReturnEvent struct {
	Number     string
	SupplierID int64
	Amount     float64
	Items      []LineItem
	Restocked  bool
	Date       time.Time
}

// CreditPortion returns the slice of the payment breakdown routed to
// accounts receivable.
func (e SaleEvent) CreditPortion() float64 {
	var credit float64
	for _, p := range e.Payments {
		if p.Method == MethodCredit {
			credit += p.Amount
		}
	}
	return round2(credit)
}

// ItemsValue returns Σ(quantity × unit cost) rounded to cents.
func ItemsValue(items []LineItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Quantity * item.UnitCost
	}
	return round2(total)
}
