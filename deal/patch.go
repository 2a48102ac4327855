package deal

import (
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// Patch is a partial deal document. Absent fields are left unchanged,
// null clears the stored value, anything else replaces it. Create uses the
// same document with every absent field taking its zero value.
type Patch struct {
	Client      ledger.Field[string]            `json:"client"`
	Object      ledger.Field[string]            `json:"object"`
	Price       ledger.Field[decimal.Decimal]   `json:"price"`
	Commission  ledger.Field[decimal.Decimal]   `json:"commission"`
	AgentID     ledger.Field[string]            `json:"agent_id"`
	ROPID       ledger.Field[string]            `json:"rop_id"`
	Status      ledger.Field[ledger.DealStatus] `json:"status"`
	DepositDate ledger.Field[ledger.Date]       `json:"deposit_date"`
	DealDate    ledger.Field[ledger.Date]       `json:"deal_date"`

	BrokerExpense    ledger.Field[decimal.Decimal] `json:"broker_expense"`
	LawyerExpense    ledger.Field[decimal.Decimal] `json:"lawyer_expense"`
	ReferralExpense  ledger.Field[decimal.Decimal] `json:"referral_expense"`
	OtherExpense     ledger.Field[decimal.Decimal] `json:"other_expense"`
	ExternalExpenses ledger.Field[decimal.Decimal] `json:"external_expenses"`
	TaxRate          ledger.Field[decimal.Decimal] `json:"tax_rate"`

	// Rate overrides; null removes the override.
	AgentRate ledger.Field[decimal.Decimal] `json:"agent_rate"`
	ROPRate   ledger.Field[decimal.Decimal] `json:"rop_rate"`

	CommissionsManual ledger.Field[bool] `json:"commissions_manual"`

	// Operator-entered values, used only when commissions are manual.
	AgentCommission ledger.Field[decimal.Decimal] `json:"agent_commission"`
	ROPCommission   ledger.Field[decimal.Decimal] `json:"rop_commission"`
	NetProfit       ledger.Field[decimal.Decimal] `json:"net_profit"`
}

// applyInputs writes every non-derived field into d.
func (p Patch) applyInputs(d *ledger.Deal) {
	p.Client.ApplyTo(&d.Client)
	p.Object.ApplyTo(&d.Object)
	p.Price.ApplyTo(&d.Price)
	p.Commission.ApplyTo(&d.Commission)
	p.AgentID.ApplyTo(&d.AgentID)
	ledger.ApplyNullable(p.ROPID, &d.ROPID)
	p.Status.ApplyTo(&d.Status)
	ledger.ApplyNullable(p.DepositDate, &d.DepositDate)
	ledger.ApplyNullable(p.DealDate, &d.DealDate)

	p.BrokerExpense.ApplyTo(&d.BrokerExpense)
	p.LawyerExpense.ApplyTo(&d.LawyerExpense)
	p.ReferralExpense.ApplyTo(&d.ReferralExpense)
	p.OtherExpense.ApplyTo(&d.OtherExpense)
	p.ExternalExpenses.ApplyTo(&d.ExternalExpenses)
	p.TaxRate.ApplyTo(&d.TaxRate)

	ledger.ApplyNullable(p.AgentRate, &d.AgentRateOverride)
	ledger.ApplyNullable(p.ROPRate, &d.ROPRateOverride)

	p.CommissionsManual.ApplyTo(&d.CommissionsManual)

	if d.ROPID != nil && *d.ROPID == "" {
		d.ROPID = nil
	}
}

// applyManual writes operator-entered derived values.
func (p Patch) applyManual(d *ledger.Deal) {
	p.AgentCommission.ApplyTo(&d.AgentCommission)
	p.ROPCommission.ApplyTo(&d.ROPCommission)
	p.NetProfit.ApplyTo(&d.NetProfit)
}

func (p Patch) hasRateOverride() bool {
	return p.AgentRate.Present() || p.ROPRate.Present()
}

// needsRecalc reports whether any input of the waterfall differs.
func needsRecalc(old, updated ledger.Deal) bool {
	return !old.Commission.Equal(updated.Commission) ||
		!old.TaxRate.Equal(updated.TaxRate) ||
		!old.BrokerExpense.Equal(updated.BrokerExpense) ||
		!old.LawyerExpense.Equal(updated.LawyerExpense) ||
		!old.ReferralExpense.Equal(updated.ReferralExpense) ||
		!old.OtherExpense.Equal(updated.OtherExpense) ||
		!old.ExternalExpenses.Equal(updated.ExternalExpenses) ||
		old.AgentID != updated.AgentID ||
		!equalString(old.ROPID, updated.ROPID) ||
		!equalDate(old.DepositDate, updated.DepositDate) ||
		!equalDecimal(old.AgentRateOverride, updated.AgentRateOverride) ||
		!equalDecimal(old.ROPRateOverride, updated.ROPRateOverride)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalDate(a, b *ledger.Date) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
