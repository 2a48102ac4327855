package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/payroll"
	"github.com/warp/commission-ledger/store/postgres"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, day int) ledger.Date { return ledger.NewDate(y, m, day) }

// newStore connects to LEDGER_TEST_POSTGRES_URL and truncates every table.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("LEDGER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	s, err := postgres.Connect(ctx, url, postgres.Options{MaxConns: 8})
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRates_Duplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rate := ledger.CommissionRate{
		EmployeeID: "a1", Role: ledger.RoleAgent, Rate: d("60.25"), EffectiveDate: date(2024, time.January, 1),
	}
	require.NoError(t, s.AddRate(ctx, rate))
	assert.ErrorIs(t, s.AddRate(ctx, rate), ledger.ErrDuplicateEffectiveDate)

	rates, err := s.ListRates(ctx, "a1", ledger.RoleAgent)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.True(t, rates[0].Rate.Equal(d("60.25")))
	assert.Equal(t, "2024-01-01", rates[0].EffectiveDate.String())
}

func TestDeal_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rop := "r1"
	require.NoError(t, s.SaveDeal(ctx, ledger.Deal{
		ID: "deal-1", AgentID: "a1", ROPID: &rop, Status: ledger.StatusClosed,
		Commission: d("20000.55"), NetProfit: d("-1.5"),
		DealDate: ledger.DatePtr(date(2025, time.February, 20)),
	}))

	got, err := s.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Commission.Equal(d("20000.55")))
	assert.True(t, got.NetProfit.Equal(d("-1.5")))
	assert.Equal(t, "r1", *got.ROPID)
	assert.Nil(t, got.DepositDate)
	assert.Equal(t, "2025-02-20", got.DealDate.String())
	assert.Nil(t, got.AgentRateOverride)

	feb := ledger.MonthOf(date(2025, time.February, 1)).Period()
	deals, err := s.ListDeals(ctx, ledger.DealFilter{
		Statuses:   []ledger.DealStatus{ledger.StatusClosed},
		EmployeeID: "r1",
		DealDate:   &feb,
	})
	require.NoError(t, err)
	assert.Len(t, deals, 1)
}

// Concurrent payments against one accrual must never exceed it.
func TestAllocatePayment_ConcurrentNeverOverpays(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccount(ctx, ledger.Account{ID: "bank", Name: "Bank", Balance: d("100000")}))
	require.NoError(t, s.SaveDeal(ctx, ledger.Deal{ID: "deal-1", AgentID: "a1", Status: ledger.StatusClosed}))
	accrual, err := s.UpsertAccrual(ctx, ledger.PayrollAccrual{
		DealID: "deal-1", EmployeeID: "a1", Role: ledger.RoleAgent,
		Amount: d("1000"), AccruedAt: date(2025, time.February, 20),
	})
	require.NoError(t, err)

	engine := payroll.NewEngine(s)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.AllocatePayment(ctx, payroll.PaymentRequest{
				AccrualID: accrual.ID, AccountID: "bank", Amount: d("300"), PaidAt: date(2025, time.March, 1),
			})
		}()
	}
	wg.Wait()

	paid, err := s.PaidTotal(ctx, accrual.ID)
	require.NoError(t, err)
	assert.True(t, paid.Equal(d("900")), "got %s", paid)

	bank, err := s.GetAccount(ctx, "bank")
	require.NoError(t, err)
	assert.True(t, bank.Balance.Equal(d("99100")), "got %s", bank.Balance)
}

func TestAdjustAccountBalance_Missing(t *testing.T) {
	s := newStore(t)

	err := s.AdjustAccountBalance(context.Background(), "missing", d("1"))

	assert.True(t, ledger.IsNotFound(err))
}
