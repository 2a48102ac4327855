package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-ledger/cashflow"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/ledger/store"
	"github.com/warp/commission-ledger/payroll"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func str(s string) *string { return &s }

func newTestEngine(t *testing.T) (*payroll.Engine, *store.TxMemory) {
	mem := store.NewTxMemory()
	require.NoError(t, mem.SaveAccount(context.Background(), ledger.Account{
		ID: "bank", Name: "Bank", Balance: d("50000"),
	}))
	engine := payroll.NewEngine(mem)
	engine.Now = func() time.Time { return fixedNow }
	return engine, mem
}

func closedDeal(id string) ledger.Deal {
	return ledger.Deal{
		ID:              id,
		Commission:      d("20000"),
		AgentID:         "a1",
		ROPID:           str("r1"),
		Status:          ledger.StatusClosed,
		DealDate:        ledger.DatePtr(ledger.NewDate(2025, time.February, 20)),
		AgentCommission: d("10000"),
		ROPCommission:   d("2000"),
		NetProfit:       d("8000"),
	}
}

func seedAccrual(t *testing.T, mem *store.TxMemory, amount string) ledger.PayrollAccrual {
	ctx := context.Background()
	deal := closedDeal("deal-1")
	deal.AgentCommission = d(amount)
	deal.ROPID = nil
	require.NoError(t, mem.SaveDeal(ctx, deal))
	a, err := mem.UpsertAccrual(ctx, ledger.PayrollAccrual{
		ID: "acr-1", DealID: deal.ID, EmployeeID: "a1", Role: ledger.RoleAgent,
		Amount: d(amount), AccruedAt: *deal.DealDate,
	})
	require.NoError(t, err)
	return a
}

func balance(t *testing.T, mem *store.TxMemory) decimal.Decimal {
	acc, err := mem.GetAccount(context.Background(), "bank")
	require.NoError(t, err)
	return acc.Balance
}

// =============================================================================
// ENSURE ACCRUALS
// =============================================================================

func TestEnsureAccruals_Idempotent(t *testing.T) {
	// GIVEN: Closed deal with agent and ROP commissions
	// WHEN: Ensuring accruals five times
	// THEN: Exactly one accrual per role with a stable amount

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveDeal(ctx, closedDeal("deal-1")))

	var firstIDs []string
	for i := 0; i < 5; i++ {
		written, err := engine.EnsureAccruals(ctx, "deal-1")
		require.NoError(t, err)
		require.Len(t, written, 2)
		if i == 0 {
			for _, a := range written {
				firstIDs = append(firstIDs, a.ID)
			}
		}
	}

	accruals, err := mem.ListAccruals(ctx, ledger.AccrualFilter{DealID: "deal-1"})
	require.NoError(t, err)
	require.Len(t, accruals, 2)
	for _, a := range accruals {
		assert.Contains(t, firstIDs, a.ID)
		assert.Equal(t, ledger.NewDate(2025, time.February, 20), a.AccruedAt)
		switch a.Role {
		case ledger.RoleAgent:
			assert.True(t, a.Amount.Equal(d("10000")))
		case ledger.RoleROP:
			assert.Equal(t, "r1", a.EmployeeID)
			assert.True(t, a.Amount.Equal(d("2000")))
		}
	}
}

func TestEnsureAccruals_NoOpUnlessClosed(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()

	deal := closedDeal("deal-1")
	deal.Status = ledger.StatusWaitingPayment
	require.NoError(t, mem.SaveDeal(ctx, deal))

	written, err := engine.EnsureAccruals(ctx, "deal-1")
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestEnsureAccruals_SkipsZeroCommission(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()

	deal := closedDeal("deal-1")
	deal.ROPCommission = decimal.Zero
	deal.DealDate = nil
	require.NoError(t, mem.SaveDeal(ctx, deal))

	written, err := engine.EnsureAccruals(ctx, "deal-1")
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, ledger.RoleAgent, written[0].Role)
	assert.Equal(t, ledger.DateOf(fixedNow), written[0].AccruedAt, "no deal date accrues today")
}

func TestEnsureAccruals_MissingDeal(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.EnsureAccruals(context.Background(), "nope")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// PAYMENT ALLOCATION
// =============================================================================

func TestAllocatePayment_PartialPayments(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	accrual := seedAccrual(t, mem, "1000")

	p1, err := engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("400"),
		PaidAt: ledger.NewDate(2025, time.March, 10),
	})
	require.NoError(t, err)
	assert.True(t, balance(t, mem).Equal(d("49600")))

	flow, err := mem.GetCashFlow(ctx, p1.CashFlowID)
	require.NoError(t, err)
	require.NotNil(t, flow)
	assert.Equal(t, ledger.FlowExpense, flow.Type)
	assert.Equal(t, ledger.FlowPaid, flow.Status)
	assert.Equal(t, ledger.CategoryAgentPayout, flow.Category)
	assert.Equal(t, "bank", flow.Account())
	require.NotNil(t, flow.ActualDate)
	assert.Equal(t, ledger.NewDate(2025, time.March, 10), *flow.ActualDate)

	// The remaining 600 within epsilon
	_, err = engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("600.005"),
	})
	require.NoError(t, err)

	summaries, err := engine.Summaries(ctx, ledger.AccrualFilter{DealID: "deal-1"})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.True(t, summaries[0].Paid.Equal(d("1000.005")))
	assert.False(t, summaries[0].Overpaid, "within epsilon")
}

func TestAllocatePayment_OverpaymentRejected(t *testing.T) {
	// GIVEN: Accrual of 1000 already fully paid
	// WHEN: Trying to pay any positive amount
	// THEN: AlreadyFullyPaid, no cash flow, no balance change

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	accrual := seedAccrual(t, mem, "1000")

	_, err := engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("1000"),
	})
	require.NoError(t, err)

	before := balance(t, mem)
	flowsBefore, err := mem.ListCashFlows(ctx, ledger.CashFlowFilter{})
	require.NoError(t, err)

	for _, amount := range []string{"0.01", "1", "500"} {
		_, err = engine.AllocatePayment(ctx, payroll.PaymentRequest{
			AccrualID: accrual.ID, AccountID: "bank", Amount: d(amount),
		})
		assert.ErrorIs(t, err, ledger.ErrAlreadyFullyPaid)
		assert.True(t, ledger.IsConsistency(err))
	}

	assert.True(t, balance(t, mem).Equal(before))
	flowsAfter, err := mem.ListCashFlows(ctx, ledger.CashFlowFilter{})
	require.NoError(t, err)
	assert.Len(t, flowsAfter, len(flowsBefore))

	payments, err := mem.ListPayments(ctx, accrual.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestAllocatePayment_ExceedsRemaining(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	accrual := seedAccrual(t, mem, "1000")

	_, err := engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("700"),
	})
	require.NoError(t, err)

	_, err = engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("300.02"),
	})
	var exceeded *ledger.PaymentExceedsRemainingError
	require.ErrorAs(t, err, &exceeded)
	assert.True(t, exceeded.Remaining.Equal(d("300")))
	assert.ErrorIs(t, err, ledger.ErrAmountExceedsRemaining)
	assert.True(t, balance(t, mem).Equal(d("49300")))
}

func TestAllocatePayment_Validation(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	accrual := seedAccrual(t, mem, "1000")

	_, err := engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("-5"),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: "missing", AccountID: "bank", Amount: d("5"),
	})
	assert.True(t, ledger.IsNotFound(err))

	_, err = engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "missing", Amount: d("5"),
	})
	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "account", nf.Entity)

	payments, err := mem.ListPayments(ctx, accrual.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.True(t, balance(t, mem).Equal(d("50000")))
}

func TestAllocatePayment_PayoutRowIsLocked(t *testing.T) {
	// GIVEN: 4000 paid against a 10000 accrual from a 50000 account
	// WHEN: The payout row is edited or deleted through the cash reconciler
	// THEN: Both are rejected and balance, paid total and row stay as they were

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	accrual := seedAccrual(t, mem, "10000")
	cash := cashflow.NewReconciler(mem)
	cash.Now = func() time.Time { return fixedNow }

	payment, err := engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("4000"),
	})
	require.NoError(t, err)
	require.True(t, balance(t, mem).Equal(d("46000")))

	_, err = cash.Update(ctx, payment.CashFlowID, cashflow.Patch{Amount: ledger.Set(d("9000"))})
	assert.ErrorIs(t, err, ledger.ErrPayoutLinked)
	assert.True(t, ledger.IsConsistency(err))

	err = cash.Delete(ctx, payment.CashFlowID)
	assert.ErrorIs(t, err, ledger.ErrPayoutLinked)

	assert.True(t, balance(t, mem).Equal(d("46000")))
	paid, err := mem.PaidTotal(ctx, accrual.ID)
	require.NoError(t, err)
	assert.True(t, paid.Equal(d("4000")))
	flow, err := mem.GetCashFlow(ctx, payment.CashFlowID)
	require.NoError(t, err)
	require.NotNil(t, flow)
	assert.True(t, flow.Amount.Equal(d("4000")))
}

func TestAllocatePayment_PayoutRowFreedWithDeal(t *testing.T) {
	// GIVEN: A paid accrual whose deal is deleted (payments cascade away)
	// WHEN: The remaining payout row is deleted
	// THEN: It is an ordinary row again and the money goes back

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	accrual := seedAccrual(t, mem, "1000")
	cash := cashflow.NewReconciler(mem)

	payment, err := engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("1000"),
	})
	require.NoError(t, err)
	require.NoError(t, mem.DeleteDeal(ctx, accrual.DealID))

	require.NoError(t, cash.Delete(ctx, payment.CashFlowID))
	assert.True(t, balance(t, mem).Equal(d("50000")))
}

// =============================================================================
// ORPHANS
// =============================================================================

func TestDeleteOrphanedAccrual(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	accrual := seedAccrual(t, mem, "1000")

	_, err := engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("250"),
	})
	require.NoError(t, err)

	// Still assigned: refuse
	err = engine.DeleteOrphanedAccrual(ctx, accrual.ID, true)
	assert.ErrorIs(t, err, ledger.ErrNotOrphaned)

	deal, err := mem.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	deal.AgentID = "a2"
	require.NoError(t, mem.SaveDeal(ctx, *deal))

	// Orphaned but unconfirmed: refuse
	err = engine.DeleteOrphanedAccrual(ctx, accrual.ID, false)
	assert.ErrorIs(t, err, ledger.ErrConfirmationRequired)

	require.NoError(t, engine.DeleteOrphanedAccrual(ctx, accrual.ID, true))

	got, err := mem.GetAccrual(ctx, accrual.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	payments, err := mem.ListPayments(ctx, accrual.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.True(t, balance(t, mem).Equal(d("49750")), "paid money stays paid")
}

func TestScanAnomalies_Overpaid(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	accrual := seedAccrual(t, mem, "1000")

	_, err := engine.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID, AccountID: "bank", Amount: d("1000"),
	})
	require.NoError(t, err)

	// Commission lowered after payment
	accrual.Amount = d("800")
	_, err = mem.UpsertAccrual(ctx, accrual)
	require.NoError(t, err)

	anomalies, err := engine.ScanAnomalies(ctx)
	require.NoError(t, err)
	assert.Empty(t, anomalies.Orphaned)
	require.Len(t, anomalies.Overpaid, 1)
	assert.True(t, anomalies.Overpaid[0].Remaining.Equal(d("-200")))
}
