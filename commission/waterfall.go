package commission

import (
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// =============================================================================
// WATERFALL - Gross commission to net profit
// =============================================================================

// WaterfallInput holds everything the split depends on. Rates and TaxRate
// are percentages.
type WaterfallInput struct {
	Gross     decimal.Decimal
	TaxRate   decimal.Decimal
	AgentRate decimal.Decimal
	ROPRate   decimal.Decimal
	Expenses  Expenses
}

type Waterfall struct {
	Taxes           decimal.Decimal
	CleanedBase     decimal.Decimal // gross minus referral, base for the splits
	ROPCommission   decimal.Decimal
	AgentCommission decimal.Decimal
	NetProfit       decimal.Decimal
}

// ComputeWaterfall splits the gross commission. The referral partner is paid
// off the top before the percentage splits. Results are not clamped: a
// negative NetProfit is a loss-making deal.
//
// Expenses must already be normalized.
func ComputeWaterfall(in WaterfallInput) Waterfall {
	var w Waterfall
	w.Taxes = in.Gross.Mul(in.TaxRate).Div(ledger.Hundred)
	w.CleanedBase = in.Gross.Sub(in.Expenses.Referral)
	w.ROPCommission = w.CleanedBase.Mul(in.ROPRate).Div(ledger.Hundred)
	w.AgentCommission = w.CleanedBase.Mul(in.AgentRate).Div(ledger.Hundred)

	operating := in.Expenses.Broker.Add(in.Expenses.Lawyer).Add(in.Expenses.Other)
	w.NetProfit = in.Gross.
		Sub(w.Taxes).
		Sub(in.Expenses.Referral).
		Sub(w.ROPCommission).
		Sub(w.AgentCommission).
		Sub(operating)
	return w
}

// Apply writes the derived fields and the applied rates into the deal.
func (w Waterfall) Apply(d *ledger.Deal, agentRate, ropRate decimal.Decimal) {
	d.AgentRateApplied = agentRate
	d.ROPRateApplied = ropRate
	d.AgentCommission = w.AgentCommission
	d.ROPCommission = w.ROPCommission
	d.NetProfit = w.NetProfit
}
