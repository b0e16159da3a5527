package journal

import (
	"fmt"
	"math"
	"time"

	"github.com/meridian-ledger/meridian/internal/accounts"
)

// BalanceEpsilon is the tolerance for the debit/credit balance check, one
// cent of the ledger currency.
const BalanceEpsilon = 0.01

// MethodCredit is the payment method routed to accounts receivable; every
// other method is treated as immediately collected cash.
const MethodCredit = "credit"

// Line is one candidate entry line. Exactly one of Debit/Credit is expected
// to be positive in normal use.
type Line struct {
	AccountID   int64
	Debit       float64
	Credit      float64
	Description string
}

// SubledgerRequest asks the synchronizer to open a receivable or payable for
// the credit portion of an event.
type SubledgerRequest struct {
	CounterpartyID int64
	Amount         float64
	DueDate        time.Time
}

// Draft is the balanced output of a builder: entry lines plus the transaction
// description and any subsidiary-ledger follow-ups.
type Draft struct {
	Description string
	Lines       []Line
	Receivable  *SubledgerRequest
	Payable     *SubledgerRequest
}

// PaymentSplit is one method/amount slice of an event's payment breakdown.
type PaymentSplit struct {
	Method string
	Amount float64
}

// LineItem carries the product quantity and stored unit cost for
// cost-of-goods computation.
type LineItem struct {
	ProductID int64
	Quantity  float64
	UnitCost  float64
}

// ValidationError indicates the constructed lines violate a ledger invariant.
// Never retried; surfaced to the caller before any write.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "journal: " + e.Reason
}

// MissingAccountMappingError indicates a referenced role did not resolve to an
// account; a setup error instructing the tenant to complete their chart.
type MissingAccountMappingError struct {
	Role accounts.Role
}

func (e *MissingAccountMappingError) Error() string {
	return fmt.Sprintf("journal: no account mapped for role %q", e.Role)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Totals returns the rounded debit and credit sums of a line set.
func Totals(lines []Line) (debit, credit float64) {
	for _, line := range lines {
		debit += line.Debit
		credit += line.Credit
	}
	return round2(debit), round2(credit)
}

// Validate applies the uniform post-construction checks: balance within
// BalanceEpsilon, non-zero total, at least one positive debit and one
// positive credit.
func Validate(lines []Line) error {
	if len(lines) < 2 {
		return &ValidationError{Reason: "transaction requires at least two entry lines"}
	}
	var hasDebit, hasCredit bool
	for i, line := range lines {
		if line.Debit < 0 || line.Credit < 0 {
			return &ValidationError{Reason: fmt.Sprintf("line %d has a negative amount", i)}
		}
		if line.Debit > 0 && line.Credit > 0 {
			return &ValidationError{Reason: fmt.Sprintf("line %d cannot carry both debit and credit", i)}
		}
		if line.AccountID == 0 {
			return &ValidationError{Reason: fmt.Sprintf("line %d missing account", i)}
		}
		hasDebit = hasDebit || line.Debit > 0
		hasCredit = hasCredit || line.Credit > 0
	}
	debit, credit := Totals(lines)
	if math.Abs(debit-credit) > BalanceEpsilon {
		return &ValidationError{Reason: fmt.Sprintf("debits %.2f do not balance credits %.2f", debit, credit)}
	}
	if debit == 0 || !hasDebit || !hasCredit {
		return &ValidationError{Reason: "transaction amounts are zero"}
	}
	return nil
}
