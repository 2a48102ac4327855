package commission

import (
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// Expenses is a deal's expense breakdown plus the legacy aggregate.
type Expenses struct {
	Broker   decimal.Decimal
	Lawyer   decimal.Decimal
	Referral decimal.Decimal
	Other    decimal.Decimal
	External decimal.Decimal // legacy aggregate
}

// Breakdown is the sum of the four itemized expenses.
func (e Expenses) Breakdown() decimal.Decimal {
	return e.Broker.Add(e.Lawyer).Add(e.Referral).Add(e.Other)
}

// NormalizeExpenses reconciles the breakdown with the legacy aggregate.
// An all-zero breakdown with a non-zero aggregate moves the aggregate into
// Other. Otherwise the breakdown wins and External becomes its sum.
// Normalizing a normalized value returns it unchanged.
func NormalizeExpenses(e Expenses) Expenses {
	if e.Breakdown().IsZero() && !e.External.IsZero() {
		e.Other = e.External
		return e
	}
	e.External = e.Breakdown()
	return e
}

// ExpensesOf extracts the expense fields of a deal.
func ExpensesOf(d ledger.Deal) Expenses {
	return Expenses{
		Broker:   d.BrokerExpense,
		Lawyer:   d.LawyerExpense,
		Referral: d.ReferralExpense,
		Other:    d.OtherExpense,
		External: d.ExternalExpenses,
	}
}

// ApplyExpenses writes e back into the deal.
func ApplyExpenses(d *ledger.Deal, e Expenses) {
	d.BrokerExpense = e.Broker
	d.LawyerExpense = e.Lawyer
	d.ReferralExpense = e.Referral
	d.OtherExpense = e.Other
	d.ExternalExpenses = e.External
}
