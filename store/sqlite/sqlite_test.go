package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-ledger/deal"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/payroll"
	"github.com/warp/commission-ledger/store/sqlite"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func str(s string) *string { return &s }

func date(y int, m time.Month, day int) ledger.Date { return ledger.NewDate(y, m, day) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRates_HistoryAndDuplicates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// GIVEN: rates inserted out of date order
	require.NoError(t, s.AddRate(ctx, ledger.CommissionRate{
		EmployeeID: "a1", Role: ledger.RoleAgent, Rate: d("70"), EffectiveDate: date(2024, time.July, 1),
	}))
	require.NoError(t, s.AddRate(ctx, ledger.CommissionRate{
		EmployeeID: "a1", Role: ledger.RoleAgent, Rate: d("60"), EffectiveDate: date(2024, time.January, 1),
	}))

	// WHEN: the same effective date is inserted again
	err := s.AddRate(ctx, ledger.CommissionRate{
		EmployeeID: "a1", Role: ledger.RoleAgent, Rate: d("80"), EffectiveDate: date(2024, time.July, 1),
	})

	// THEN: it is rejected and the history is ordered by date
	assert.ErrorIs(t, err, ledger.ErrDuplicateEffectiveDate)

	rates, err := s.ListRates(ctx, "a1", ledger.RoleAgent)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.True(t, rates[0].Rate.Equal(d("60")))
	assert.True(t, rates[1].Rate.Equal(d("70")))
	assert.Equal(t, "2024-07-01", rates[1].EffectiveDate.String())

	other, err := s.ListRates(ctx, "a1", ledger.RoleROP)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDeals_RoundTripKeepsNullables(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	override := d("55.5")
	in := ledger.Deal{
		ID: "deal-1", Client: "Ivanov", Object: "Flat 12", Price: d("1000000.50"),
		Commission: d("20000"), AgentID: "a1", ROPID: str("r1"), Status: ledger.StatusDeposit,
		DepositDate:       ledger.DatePtr(date(2025, time.January, 10)),
		TaxRate:           d("6"),
		AgentRateOverride: &override,
		AgentCommission:   d("10000.01"),
		NetProfit:         d("-12.34"),
		CreatedAt:         time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveDeal(ctx, in))

	got, err := s.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Ivanov", got.Client)
	assert.True(t, got.Price.Equal(d("1000000.50")))
	assert.Equal(t, "r1", *got.ROPID)
	assert.Equal(t, "2025-01-10", got.DepositDate.String())
	assert.Nil(t, got.DealDate)
	require.NotNil(t, got.AgentRateOverride)
	assert.True(t, got.AgentRateOverride.Equal(override))
	assert.Nil(t, got.ROPRateOverride)
	assert.True(t, got.NetProfit.Equal(d("-12.34")))
	assert.True(t, got.CreatedAt.Equal(in.CreatedAt))

	missing, err := s.GetDeal(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeals_Filter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDeal(ctx, ledger.Deal{
		ID: "closed", AgentID: "a1", ROPID: str("r1"), Status: ledger.StatusClosed,
		DealDate: ledger.DatePtr(date(2025, time.February, 20)),
	}))
	require.NoError(t, s.SaveDeal(ctx, ledger.Deal{ID: "open", AgentID: "a2", Status: ledger.StatusDeposit}))

	feb := ledger.MonthOf(date(2025, time.February, 1)).Period()
	closed, err := s.ListDeals(ctx, ledger.DealFilter{
		Statuses: []ledger.DealStatus{ledger.StatusClosed},
		DealDate: &feb,
	})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "closed", closed[0].ID)

	byROP, err := s.ListDeals(ctx, ledger.DealFilter{EmployeeID: "r1"})
	require.NoError(t, err)
	require.Len(t, byROP, 1)

	all, err := s.ListDeals(ctx, ledger.DealFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAccruals_UpsertAndCascade(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// GIVEN: a deal with one accrual and one payment
	require.NoError(t, s.SaveDeal(ctx, ledger.Deal{ID: "deal-1", AgentID: "a1", Status: ledger.StatusClosed}))
	first, err := s.UpsertAccrual(ctx, ledger.PayrollAccrual{
		DealID: "deal-1", EmployeeID: "a1", Role: ledger.RoleAgent,
		Amount: d("10000"), AccruedAt: date(2025, time.February, 20),
	})
	require.NoError(t, err)
	require.NoError(t, s.AddPayment(ctx, ledger.PayrollPayment{
		AccrualID: first.ID, Amount: d("4000"), PaidAt: date(2025, time.March, 1), AccountID: "bank",
	}))

	// WHEN: the same key is upserted with a new amount
	second, err := s.UpsertAccrual(ctx, ledger.PayrollAccrual{
		DealID: "deal-1", EmployeeID: "a1", Role: ledger.RoleAgent,
		Amount: d("12000"), AccruedAt: date(2025, time.February, 21),
	})
	require.NoError(t, err)

	// THEN: the row keeps its identity
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Amount.Equal(d("12000")))

	paid, err := s.PaidTotal(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, paid.Equal(d("4000")))

	// AND: deleting the deal removes accruals and payments
	require.NoError(t, s.DeleteDeal(ctx, "deal-1"))
	accruals, err := s.ListAccruals(ctx, ledger.AccrualFilter{DealID: "deal-1"})
	require.NoError(t, err)
	assert.Empty(t, accruals)
	payments, err := s.ListPayments(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	// AND: deleting again reports not found
	err = s.DeleteDeal(ctx, "deal-1")
	assert.True(t, ledger.IsNotFound(err))
}

func TestAddPayment_UnknownAccrual(t *testing.T) {
	s := newStore(t)

	err := s.AddPayment(context.Background(), ledger.PayrollPayment{
		AccrualID: "ghost", Amount: d("1"), PaidAt: date(2025, time.March, 1), AccountID: "bank",
	})

	assert.True(t, ledger.IsNotFound(err))
}

func TestPaymentByCashFlow_HoldsPayoutRow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// GIVEN: a payment recorded by a payout row
	require.NoError(t, s.SaveDeal(ctx, ledger.Deal{ID: "deal-1", AgentID: "a1", Status: ledger.StatusClosed}))
	accrual, err := s.UpsertAccrual(ctx, ledger.PayrollAccrual{
		DealID: "deal-1", EmployeeID: "a1", Role: ledger.RoleAgent,
		Amount: d("1000"), AccruedAt: date(2025, time.February, 20),
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveCashFlow(ctx, ledger.CashFlow{
		ID: "payout", Type: ledger.FlowExpense, Amount: d("400"), Category: ledger.CategoryAgentPayout,
		Status: ledger.FlowPaid, PlannedDate: date(2025, time.March, 1),
		ActualDate: ledger.DatePtr(date(2025, time.March, 1)), AccountID: str("bank"),
	}))
	require.NoError(t, s.AddPayment(ctx, ledger.PayrollPayment{
		ID: "pay-1", AccrualID: accrual.ID, Amount: d("400"), PaidAt: date(2025, time.March, 1),
		AccountID: "bank", CashFlowID: "payout",
	}))

	// WHEN: looking the payment up by its row
	p, err := s.PaymentByCashFlow(ctx, "payout")

	// THEN: it is found and the row cannot be deleted under it
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "pay-1", p.ID)
	assert.True(t, p.Amount.Equal(d("400")))

	err = s.DeleteCashFlow(ctx, "payout")
	assert.ErrorIs(t, err, ledger.ErrPayoutLinked)

	none, err := s.PaymentByCashFlow(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, none)

	// AND: once the deal (and its payments) is gone the row is free
	require.NoError(t, s.DeleteDeal(ctx, "deal-1"))
	require.NoError(t, s.DeleteCashFlow(ctx, "payout"))
}

func TestAccounts_AdjustBalance(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccount(ctx, ledger.Account{ID: "bank", Name: "Bank", Balance: d("100.10")}))

	require.NoError(t, s.AdjustAccountBalance(ctx, "bank", d("0.20")))
	require.NoError(t, s.AdjustAccountBalance(ctx, "bank", d("-50")))

	a, err := s.GetAccount(ctx, "bank")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(d("50.30")), "got %s", a.Balance)

	err = s.AdjustAccountBalance(ctx, "missing", d("1"))
	assert.True(t, ledger.IsNotFound(err))
}

func TestCashFlows_Filter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCashFlow(ctx, ledger.CashFlow{
		ID: "paid", Type: ledger.FlowExpense, Amount: d("100"), Category: "Rent",
		Status: ledger.FlowPaid, PlannedDate: date(2025, time.March, 1),
		ActualDate: ledger.DatePtr(date(2025, time.March, 2)), AccountID: str("bank"),
	}))
	require.NoError(t, s.SaveCashFlow(ctx, ledger.CashFlow{
		ID: "planned", Type: ledger.FlowExpense, Amount: d("200"), Category: "Rent",
		Status: ledger.FlowPlanned, PlannedDate: date(2025, time.April, 1), IsRecurring: true,
	}))

	realized := true
	rows, err := s.ListCashFlows(ctx, ledger.CashFlowFilter{Realized: &realized})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "paid", rows[0].ID)
	assert.Equal(t, "bank", rows[0].Account())

	recurring := true
	rows, err = s.ListCashFlows(ctx, ledger.CashFlowFilter{Recurring: &recurring})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ActualDate)
	assert.Nil(t, rows[0].AccountID)

	march := ledger.MonthOf(date(2025, time.March, 1)).Period()
	rows, err = s.ListCashFlows(ctx, ledger.CashFlowFilter{ActualDate: &march, Category: "Rent"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAccount(ctx, ledger.Account{ID: "bank", Name: "Bank", Balance: d("100")}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.AdjustAccountBalance(ctx, "bank", d("50")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	a, err := s.GetAccount(ctx, "bank")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(d("100")))
}

// The reconcilers run unchanged on SQLite.
func TestDealReconciler_OnSQLite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

	fifty := d("50")
	require.NoError(t, s.SaveEmployee(ctx, ledger.Employee{
		ID: "a1", Name: "Alice", Role: ledger.RoleAgent, BaseRateAgent: &fifty, Active: true,
	}))
	require.NoError(t, s.SaveAccount(ctx, ledger.Account{ID: "bank", Name: "Bank", Balance: d("100000")}))

	deals := deal.NewReconciler(s)
	deals.Now = func() time.Time { return now }

	created, err := deals.Create(ctx, deal.Patch{
		Commission: ledger.Set(d("20000")),
		AgentID:    ledger.Set("a1"),
		Status:     ledger.Set(ledger.StatusClosed),
	})
	require.NoError(t, err)
	assert.True(t, created.AgentCommission.Equal(d("10000")))

	engine := payroll.NewEngine(s)
	engine.Now = func() time.Time { return now }
	summaries, err := engine.Summaries(ctx, ledger.AccrualFilter{DealID: created.ID})
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	_, err = engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: summaries[0].ID, AccountID: "bank", Amount: d("2500"), PaidAt: ledger.DateOf(now),
	})
	require.NoError(t, err)

	bank, err := s.GetAccount(ctx, "bank")
	require.NoError(t, err)
	assert.True(t, bank.Balance.Equal(d("97500")))
}
