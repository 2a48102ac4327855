package forecast_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-ledger/forecast"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/ledger/store"
)

var fixedNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func str(s string) *string { return &s }

func intp(v int) *int { return &v }

func date(y int, m time.Month, day int) ledger.Date { return ledger.NewDate(y, m, day) }

func newProjector(t *testing.T, balance string) (*forecast.Projector, *store.Memory) {
	mem := store.NewMemory()
	require.NoError(t, mem.SaveAccount(context.Background(), ledger.Account{
		ID: "bank", Name: "Bank", Balance: d(balance),
	}))
	p := forecast.NewProjector(mem)
	p.Now = func() time.Time { return fixedNow }
	return p, mem
}

func seedFlow(t *testing.T, mem *store.Memory, c ledger.CashFlow) {
	require.NoError(t, mem.SaveCashFlow(context.Background(), c))
}

func seedForward(t *testing.T, mem *store.Memory) {
	ctx := context.Background()
	require.NoError(t, mem.SaveDeal(ctx, ledger.Deal{
		ID: "open", AgentID: "a1", Status: ledger.StatusDeposit, NetProfit: d("5000"),
	}))
	require.NoError(t, mem.SaveDeal(ctx, ledger.Deal{
		ID: "closed", AgentID: "a1", Status: ledger.StatusClosed, NetProfit: d("7000"),
		DealDate: ledger.DatePtr(date(2025, time.February, 10)),
	}))

	seedFlow(t, mem, ledger.CashFlow{
		ID: "income-may", Type: ledger.FlowIncome, Amount: d("2000"), Category: "Consulting",
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.May, 10),
	})
	seedFlow(t, mem, ledger.CashFlow{
		ID: "repair", Type: ledger.FlowExpense, Amount: d("1500"), Category: "Repairs",
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.April, 3),
	})
	seedFlow(t, mem, ledger.CashFlow{
		ID: "rent-template", Type: ledger.FlowExpense, Amount: d("1000"), Category: "Rent",
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.January, 1), IsRecurring: true,
	})
	seedFlow(t, mem, ledger.CashFlow{
		ID: "rent-march", Type: ledger.FlowExpense, Amount: d("1000"), Category: "Rent",
		Status: ledger.FlowPaid, PlannedDate: date(2025, time.March, 5),
		ActualDate: ledger.DatePtr(date(2025, time.March, 5)), AccountID: str("bank"),
	})
	seedFlow(t, mem, ledger.CashFlow{
		ID: "payout", Type: ledger.FlowExpense, Amount: d("999"), Category: ledger.CategoryAgentPayout,
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.April, 20),
	})
}

// =============================================================================
// FORWARD MODE
// =============================================================================

func TestProject_ForwardChainsBalances(t *testing.T) {
	// GIVEN: 10,000 in the bank, one open deal, a planned income row,
	//        a one-off repair, a monthly rent already paid in March
	projector, mem := newProjector(t, "10000")
	seedForward(t, mem)

	// WHEN: four months are projected from March 2025
	months, err := projector.Project(context.Background(), 4, nil)
	require.NoError(t, err)
	require.Len(t, months, 4)

	// THEN: March carries open-deal profit and skips the paid rent
	mar := months[0]
	assert.Equal(t, "2025-03", mar.Month.String())
	assert.True(t, mar.OpeningBalance.Equal(d("10000")))
	assert.True(t, mar.ExpectedIncome.Equal(d("5000")), "open deals land in the first month")
	assert.True(t, mar.PlannedExpenses.IsZero(), "rent already paid this month")
	assert.True(t, mar.ActualExpenses.Equal(d("1000")))
	assert.True(t, mar.ClosingBalance.Equal(d("15000")))

	// AND: April has repair + rent, payroll payouts excluded
	apr := months[1]
	assert.True(t, apr.OpeningBalance.Equal(d("15000")))
	assert.True(t, apr.ExpectedIncome.IsZero())
	assert.True(t, apr.PlannedExpenses.Equal(d("2500")))
	assert.True(t, apr.ClosingBalance.Equal(d("12500")))

	// AND: May has planned income and rent
	may := months[2]
	assert.True(t, may.ExpectedIncome.Equal(d("2000")))
	assert.True(t, may.PlannedExpenses.Equal(d("1000")))
	assert.True(t, may.ClosingBalance.Equal(d("13500")))

	jun := months[3]
	assert.True(t, jun.ClosingBalance.Equal(d("12500")))

	for i, m := range months {
		assert.Equal(t, forecast.StatusPositive, m.Status)
		if i > 0 {
			assert.True(t, m.OpeningBalance.Equal(months[i-1].ClosingBalance), "chained at %d", i)
		}
	}
}

func TestProject_NegativeClosingIsCritical(t *testing.T) {
	// GIVEN: 500 in the bank and 1,000 monthly rent
	projector, mem := newProjector(t, "500")
	seedFlow(t, mem, ledger.CashFlow{
		ID: "rent", Type: ledger.FlowExpense, Amount: d("1000"), Category: "Rent",
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.January, 1), IsRecurring: true,
	})

	// WHEN: projected
	months, err := projector.Project(context.Background(), 3, nil)
	require.NoError(t, err)

	// THEN: every month is critical and the deficit grows
	assert.True(t, months[0].ClosingBalance.Equal(d("-500")))
	assert.True(t, months[2].ClosingBalance.Equal(d("-2500")))
	for _, m := range months {
		assert.Equal(t, forecast.StatusCritical, m.Status)
	}
}

func TestProject_RecurringStartsInItsMonth(t *testing.T) {
	// GIVEN: a subscription template starting in May
	projector, mem := newProjector(t, "1000")
	seedFlow(t, mem, ledger.CashFlow{
		ID: "saas", Type: ledger.FlowExpense, Amount: d("100"), Category: "Software",
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.May, 20), IsRecurring: true,
	})

	months, err := projector.Project(context.Background(), 4, nil)
	require.NoError(t, err)

	// THEN: nothing before May, then every month
	assert.True(t, months[0].PlannedExpenses.IsZero())
	assert.True(t, months[1].PlannedExpenses.IsZero())
	assert.True(t, months[2].PlannedExpenses.Equal(d("100")))
	assert.True(t, months[3].PlannedExpenses.Equal(d("100")))
}

func TestProject_LatestTemplateWins(t *testing.T) {
	// GIVEN: rent raised from 1,000 to 1,200 in April
	projector, mem := newProjector(t, "10000")
	seedFlow(t, mem, ledger.CashFlow{
		ID: "rent-old", Type: ledger.FlowExpense, Amount: d("1000"), Category: "Rent",
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.January, 1), IsRecurring: true,
	})
	seedFlow(t, mem, ledger.CashFlow{
		ID: "rent-new", Type: ledger.FlowExpense, Amount: d("1200"), Category: "Rent",
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.April, 1), IsRecurring: true,
	})

	months, err := projector.Project(context.Background(), 2, nil)
	require.NoError(t, err)

	assert.True(t, months[0].PlannedExpenses.Equal(d("1000")))
	assert.True(t, months[1].PlannedExpenses.Equal(d("1200")))
}

// =============================================================================
// HISTORICAL MODE
// =============================================================================

func TestProject_HistoricalUsesClosedDeals(t *testing.T) {
	// GIVEN: a deal closed in June 2024 and one still open
	projector, mem := newProjector(t, "10000")
	ctx := context.Background()
	require.NoError(t, mem.SaveDeal(ctx, ledger.Deal{
		ID: "closed", AgentID: "a1", Status: ledger.StatusClosed, NetProfit: d("7000"),
		DealDate: ledger.DatePtr(date(2024, time.June, 10)),
	}))
	require.NoError(t, mem.SaveDeal(ctx, ledger.Deal{
		ID: "open", AgentID: "a1", Status: ledger.StatusDeposit, NetProfit: d("5000"),
	}))

	// WHEN: 2024 is projected
	months, err := projector.Project(ctx, 0, intp(2024))
	require.NoError(t, err)

	// THEN: January to December, income only in June
	require.Len(t, months, 12)
	assert.Equal(t, "2024-01", months[0].Month.String())
	assert.Equal(t, "2024-12", months[11].Month.String())
	assert.True(t, months[0].ExpectedIncome.IsZero(), "open deals ignored historically")
	assert.True(t, months[5].ExpectedIncome.Equal(d("7000")))
	assert.True(t, months[11].ClosingBalance.Equal(d("17000")))
}

// =============================================================================
// HORIZON
// =============================================================================

func TestProject_Horizon(t *testing.T) {
	projector, _ := newProjector(t, "0")
	ctx := context.Background()

	tests := []struct {
		name      string
		months    int
		year      *int
		wantLen   int
		wantFirst string
	}{
		{"default", 0, nil, forecast.DefaultMonths, "2025-03"},
		{"capped", 100, nil, forecast.MaxMonths, "2025-03"},
		{"current year runs to december", 0, intp(2025), 10, "2025-03"},
		{"future year starts in january", 0, intp(2026), 12, "2026-01"},
		{"explicit months with year", 3, intp(2026), 3, "2026-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			months, err := projector.Project(ctx, tt.months, tt.year)
			require.NoError(t, err)
			assert.Len(t, months, tt.wantLen)
			assert.Equal(t, tt.wantFirst, months[0].Month.String())
		})
	}
}
