package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-ledger/commission"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/ledger/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// =============================================================================
// WATERFALL
// =============================================================================

func TestWaterfall_CommissionSplit(t *testing.T) {
	// GIVEN: 300,000 gross, 6% tax, 20,000 referral, 5,000 broker, 10,000 lawyer
	// WHEN: Agent takes 50% and ROP takes 10% of the cleaned base
	// THEN: Net profit is 79,000

	w := commission.ComputeWaterfall(commission.WaterfallInput{
		Gross:     d("300000"),
		TaxRate:   d("6"),
		AgentRate: d("50"),
		ROPRate:   d("10"),
		Expenses: commission.Expenses{
			Broker:   d("5000"),
			Lawyer:   d("10000"),
			Referral: d("20000"),
			Other:    d("0"),
		},
	})

	assert.True(t, w.Taxes.Equal(d("18000")), "taxes: %s", w.Taxes)
	assert.True(t, w.CleanedBase.Equal(d("280000")), "cleaned base: %s", w.CleanedBase)
	assert.True(t, w.ROPCommission.Equal(d("28000")), "rop: %s", w.ROPCommission)
	assert.True(t, w.AgentCommission.Equal(d("140000")), "agent: %s", w.AgentCommission)
	assert.True(t, w.NetProfit.Equal(d("79000")), "net: %s", w.NetProfit)
}

func TestWaterfall_Additivity(t *testing.T) {
	cases := []commission.WaterfallInput{
		{Gross: d("300000"), TaxRate: d("6"), AgentRate: d("50"), ROPRate: d("10"),
			Expenses: commission.Expenses{Broker: d("5000"), Lawyer: d("10000"), Referral: d("20000")}},
		{Gross: d("12345.67"), TaxRate: d("7.5"), AgentRate: d("33.333"), ROPRate: d("12.5"),
			Expenses: commission.Expenses{Broker: d("1.01"), Other: d("99.99"), Referral: d("0.5")}},
		{Gross: d("1000"), TaxRate: d("0"), AgentRate: d("90"), ROPRate: d("20"),
			Expenses: commission.Expenses{Lawyer: d("500")}},
		{Gross: d("0"), TaxRate: d("10"), AgentRate: d("50"), ROPRate: d("10")},
	}

	for _, in := range cases {
		w := commission.ComputeWaterfall(in)
		sum := w.NetProfit.
			Add(w.Taxes).
			Add(in.Expenses.Referral).
			Add(w.ROPCommission).
			Add(w.AgentCommission).
			Add(in.Expenses.Broker).
			Add(in.Expenses.Lawyer).
			Add(in.Expenses.Other)
		assert.True(t, sum.Equal(in.Gross), "gross %s reconstructed as %s", in.Gross, sum)
	}
}

func TestWaterfall_NegativeNetProfitNotClamped(t *testing.T) {
	w := commission.ComputeWaterfall(commission.WaterfallInput{
		Gross:     d("1000"),
		AgentRate: d("90"),
		ROPRate:   d("20"),
		Expenses:  commission.Expenses{Lawyer: d("500")},
	})
	assert.True(t, w.NetProfit.Equal(d("-600")), "net: %s", w.NetProfit)
}

// =============================================================================
// EXPENSE NORMALIZATION
// =============================================================================

func TestNormalizeExpenses_LegacyAggregateMovesToOther(t *testing.T) {
	got := commission.NormalizeExpenses(commission.Expenses{External: d("700")})
	assert.True(t, got.Other.Equal(d("700")))
	assert.True(t, got.External.Equal(d("700")))
}

func TestNormalizeExpenses_BreakdownWins(t *testing.T) {
	got := commission.NormalizeExpenses(commission.Expenses{
		Broker:   d("100"),
		Referral: d("50"),
		External: d("9999"),
	})
	assert.True(t, got.External.Equal(d("150")))
	assert.True(t, got.Other.IsZero())
}

func TestNormalizeExpenses_Idempotent(t *testing.T) {
	inputs := []commission.Expenses{
		{External: d("700")},
		{Broker: d("100"), Lawyer: d("20"), External: d("1")},
		{},
		{Referral: d("5"), Other: d("5")},
	}
	for _, in := range inputs {
		once := commission.NormalizeExpenses(in)
		twice := commission.NormalizeExpenses(once)
		assert.Equal(t, once.Breakdown().String(), twice.Breakdown().String())
		assert.True(t, once.External.Equal(twice.External))
		assert.True(t, once.Other.Equal(twice.Other))
	}
}

// =============================================================================
// RATE RESOLUTION
// =============================================================================

func rate(employeeID string, role ledger.Role, value string, effective ledger.Date) ledger.CommissionRate {
	return ledger.CommissionRate{EmployeeID: employeeID, Role: role, Rate: d(value), EffectiveDate: effective}
}

func TestLatestEffective_NilBeforeEarliest(t *testing.T) {
	rates := []ledger.CommissionRate{
		rate("a1", ledger.RoleAgent, "40", ledger.NewDate(2024, time.March, 1)),
	}
	assert.Nil(t, commission.LatestEffective(rates, ledger.NewDate(2024, time.February, 29)))
	got := commission.LatestEffective(rates, ledger.NewDate(2024, time.March, 1))
	require.NotNil(t, got)
	assert.True(t, got.Rate.Equal(d("40")))
}

func TestLatestEffective_Monotonic(t *testing.T) {
	// GIVEN: Three rate changes over a year
	// WHEN: Resolving every day of the year
	// THEN: The effective date never moves backwards

	rates := []ledger.CommissionRate{
		rate("a1", ledger.RoleAgent, "40", ledger.NewDate(2024, time.January, 15)),
		rate("a1", ledger.RoleAgent, "45", ledger.NewDate(2024, time.May, 1)),
		rate("a1", ledger.RoleAgent, "50", ledger.NewDate(2024, time.September, 10)),
	}

	var prev *ledger.CommissionRate
	for day := ledger.NewDate(2024, time.January, 1); day.Year() == 2024; day = day.AddDays(1) {
		got := commission.LatestEffective(rates, day)
		if prev != nil {
			require.NotNil(t, got, "resolved rate disappeared on %s", day)
			assert.False(t, got.EffectiveDate.Before(prev.EffectiveDate), "went backwards on %s", day)
		}
		prev = got
	}
	require.NotNil(t, prev)
	assert.True(t, prev.Rate.Equal(d("50")))
}

func TestLatestEffective_TiePrefersLaterInsert(t *testing.T) {
	day := ledger.NewDate(2024, time.June, 1)
	rates := []ledger.CommissionRate{
		rate("a1", ledger.RoleAgent, "40", day),
		rate("a1", ledger.RoleAgent, "42", day),
	}
	got := commission.LatestEffective(rates, day)
	require.NotNil(t, got)
	assert.True(t, got.Rate.Equal(d("42")))
}

func TestFirstRate_Pipeline(t *testing.T) {
	assert.True(t, commission.FirstRate(dp("55"), dp("40"), dp("30")).Equal(d("55")))
	assert.True(t, commission.FirstRate(nil, dp("40"), dp("30")).Equal(d("40")))
	assert.True(t, commission.FirstRate(nil, nil, dp("30")).Equal(d("30")))
	assert.True(t, commission.FirstRate(nil, nil, nil).IsZero())
}

func TestResolver_FallsBackToBaseRate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	resolver := commission.NewResolver(mem)

	emp := &ledger.Employee{ID: "a1", Role: ledger.RoleAgent, BaseRateAgent: dp("35")}

	_, err := resolver.AddRate(ctx, rate("a1", ledger.RoleAgent, "50", ledger.NewDate(2024, time.June, 1)))
	require.NoError(t, err)

	before, err := resolver.Effective(ctx, emp, ledger.RoleAgent, nil, ledger.NewDate(2024, time.May, 31))
	require.NoError(t, err)
	assert.True(t, before.Equal(d("35")), "base rate before history: %s", before)

	after, err := resolver.Effective(ctx, emp, ledger.RoleAgent, nil, ledger.NewDate(2024, time.June, 1))
	require.NoError(t, err)
	assert.True(t, after.Equal(d("50")))

	overridden, err := resolver.Effective(ctx, emp, ledger.RoleAgent, dp("60"), ledger.NewDate(2024, time.June, 1))
	require.NoError(t, err)
	assert.True(t, overridden.Equal(d("60")))

	rop, err := resolver.Effective(ctx, emp, ledger.RoleROP, nil, ledger.NewDate(2024, time.June, 1))
	require.NoError(t, err)
	assert.True(t, rop.IsZero())
}

func TestResolver_RejectsDuplicateEffectiveDate(t *testing.T) {
	ctx := context.Background()
	resolver := commission.NewResolver(store.NewTxMemory())

	day := ledger.NewDate(2024, time.June, 1)
	_, err := resolver.AddRate(ctx, rate("a1", ledger.RoleAgent, "50", day))
	require.NoError(t, err)

	_, err = resolver.AddRate(ctx, rate("a1", ledger.RoleAgent, "55", day))
	assert.ErrorIs(t, err, ledger.ErrDuplicateEffectiveDate)
	assert.True(t, ledger.IsValidation(err))

	// Different role on the same day is fine
	_, err = resolver.AddRate(ctx, rate("a1", ledger.RoleROP, "10", day))
	assert.NoError(t, err)
}

func TestResolver_ValidatesRate(t *testing.T) {
	ctx := context.Background()
	resolver := commission.NewResolver(store.NewTxMemory())

	_, err := resolver.AddRate(ctx, rate("a1", ledger.RoleAgent, "101", ledger.NewDate(2024, time.June, 1)))
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "rate", verr.Field)

	_, err = resolver.AddRate(ctx, rate("a1", ledger.RoleOther, "10", ledger.NewDate(2024, time.June, 1)))
	assert.True(t, ledger.IsValidation(err))
}
