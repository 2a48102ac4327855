package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/ledger/store"
	"github.com/warp/commission-ledger/report"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func str(s string) *string { return &s }

func date(y int, m time.Month, day int) *ledger.Date {
	return ledger.DatePtr(ledger.NewDate(y, m, day))
}

func seed(t *testing.T) *store.Memory {
	ctx := context.Background()
	mem := store.NewMemory()

	for _, e := range []ledger.Employee{
		{ID: "a1", Name: "Alice", Role: ledger.RoleAgent, Active: true},
		{ID: "r1", Name: "Rita", Role: ledger.RoleROP, Active: true},
	} {
		require.NoError(t, mem.SaveEmployee(ctx, e))
	}

	deals := []ledger.Deal{
		{
			ID: "closed-feb", AgentID: "a1", ROPID: str("r1"), Status: ledger.StatusClosed,
			Commission: d("20000"), AgentCommission: d("10000"), ROPCommission: d("2000"), NetProfit: d("8000"),
			DepositDate: date(2025, time.January, 10), DealDate: date(2025, time.February, 20),
		},
		{
			ID: "open-feb", AgentID: "a1", Status: ledger.StatusDeposit,
			Commission: d("5000"), NetProfit: d("2500"),
			DepositDate: date(2025, time.February, 1),
		},
		{
			ID: "cancelled-feb", AgentID: "a1", Status: ledger.StatusCancelled,
			Commission: d("9999"), DepositDate: date(2025, time.February, 2),
		},
		{
			ID: "closed-2024", AgentID: "a1", Status: ledger.StatusClosed,
			Commission: d("1000"), AgentCommission: d("500"), NetProfit: d("500"),
			DepositDate: date(2024, time.November, 1), DealDate: date(2024, time.December, 1),
		},
	}
	for _, deal := range deals {
		require.NoError(t, mem.SaveDeal(ctx, deal))
	}

	_, err := mem.UpsertAccrual(ctx, ledger.PayrollAccrual{
		ID: "acr-a1", DealID: "closed-feb", EmployeeID: "a1", Role: ledger.RoleAgent,
		Amount: d("10000"), AccruedAt: *date(2025, time.February, 20),
	})
	require.NoError(t, err)
	require.NoError(t, mem.AddPayment(ctx, ledger.PayrollPayment{
		AccrualID: "acr-a1", Amount: d("4000"), PaidAt: *date(2025, time.March, 1), AccountID: "bank",
	}))
	require.NoError(t, mem.AddPayment(ctx, ledger.PayrollPayment{
		AccrualID: "acr-a1", Amount: d("1000"), PaidAt: *date(2026, time.January, 5), AccountID: "bank",
	}))
	return mem
}

func TestMonthly(t *testing.T) {
	// GIVEN: deals booked and closed across two years
	reporter := report.NewReporter(seed(t))

	// WHEN: 2025 is rolled up
	rows, err := reporter.Monthly(context.Background(), 2025)
	require.NoError(t, err)
	require.Len(t, rows, 12)

	// THEN: bookings follow deposit month, cancelled deals excluded
	jan, feb := rows[0], rows[1]
	assert.Equal(t, "2025-01", jan.Month.String())
	assert.True(t, jan.BookingRevenue.Equal(d("20000")))
	assert.True(t, feb.BookingRevenue.Equal(d("5000")))

	// AND: closed figures follow deal date
	assert.True(t, jan.DealRevenue.IsZero())
	assert.True(t, feb.DealRevenue.Equal(d("20000")))
	assert.True(t, feb.Commission.Equal(d("12000")))
	assert.True(t, feb.Margin.Equal(d("8000")))
	assert.Equal(t, 1, feb.ClosedDeals)

	// AND: nothing from 2024 leaks in
	for _, r := range rows[2:] {
		assert.True(t, r.DealRevenue.IsZero(), r.Month.String())
	}
}

func TestByEmployee(t *testing.T) {
	// GIVEN: the seeded ledger
	reporter := report.NewReporter(seed(t))

	// WHEN: 2025 is rolled up per employee
	rows, err := reporter.ByEmployee(context.Background(), ledger.YearPeriod(2025))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// THEN: rows are ordered by name
	alice, rita := rows[0], rows[1]
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, "Rita", rita.Name)

	// AND: the agent sees the deal, the accrual and only 2025 payments
	assert.Equal(t, 1, alice.ClosedDeals)
	assert.True(t, alice.DealRevenue.Equal(d("20000")))
	assert.True(t, alice.AgentCommission.Equal(d("10000")))
	assert.True(t, alice.Accrued.Equal(d("10000")))
	assert.True(t, alice.Paid.Equal(d("4000")))

	// AND: the manager earns the ROP share without a deal count
	assert.Equal(t, 0, rita.ClosedDeals)
	assert.True(t, rita.ROPCommission.Equal(d("2000")))
}

func TestByEmployee_InvalidPeriod(t *testing.T) {
	reporter := report.NewReporter(store.NewMemory())

	_, err := reporter.ByEmployee(context.Background(), ledger.Period{
		Start: ledger.NewDate(2025, time.June, 1),
		End:   ledger.NewDate(2025, time.January, 1),
	})

	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)
	assert.True(t, ledger.IsValidation(err))
}
