package cashflow_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-ledger/cashflow"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func str(s string) *string { return &s }

func newTestReconciler(t *testing.T, accounts ...ledger.Account) (*cashflow.Reconciler, *store.TxMemory) {
	mem := store.NewTxMemory()
	ctx := context.Background()
	for _, a := range accounts {
		require.NoError(t, mem.SaveAccount(ctx, a))
	}
	r := cashflow.NewReconciler(mem)
	r.Now = func() time.Time { return fixedNow }
	return r, mem
}

func balance(t *testing.T, s ledger.Store, id string) decimal.Decimal {
	acc, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, acc)
	return acc.Balance
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestReconciler_EditReversalRoundTrip(t *testing.T) {
	// GIVEN: Account with balance 1000
	// WHEN: Create PAID income 500, edit it to 800, then delete it
	// THEN: Balance goes 1500, 1800, and back to exactly 1000

	r, mem := newTestReconciler(t, ledger.Account{ID: "acc-1", Name: "Bank", Balance: d("1000")})
	ctx := context.Background()

	row, err := r.Create(ctx, ledger.CashFlow{
		Type:       ledger.FlowIncome,
		Amount:     d("500"),
		Category:   "Other income",
		Status:     ledger.FlowPaid,
		ActualDate: ledger.DatePtr(ledger.NewDate(2025, time.March, 1)),
		AccountID:  str("acc-1"),
	})
	require.NoError(t, err)
	assert.True(t, balance(t, mem, "acc-1").Equal(d("1500")))

	_, err = r.Update(ctx, row.ID, cashflow.Patch{Amount: ledger.Set(d("800"))})
	require.NoError(t, err)
	assert.True(t, balance(t, mem, "acc-1").Equal(d("1800")))

	require.NoError(t, r.Delete(ctx, row.ID))
	assert.True(t, balance(t, mem, "acc-1").Equal(d("1000")))
}

func TestReconciler_PlannedRowHasNoEffect(t *testing.T) {
	r, mem := newTestReconciler(t, ledger.Account{ID: "acc-1", Name: "Bank", Balance: d("100")})
	ctx := context.Background()

	row, err := r.Create(ctx, ledger.CashFlow{
		Type:        ledger.FlowExpense,
		Amount:      d("40"),
		Category:    "Rent",
		PlannedDate: ledger.NewDate(2025, time.April, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.FlowPlanned, row.Status)
	assert.Nil(t, row.AccountID)
	assert.True(t, balance(t, mem, "acc-1").Equal(d("100")))

	// Realizing it later applies the delta once
	_, err = r.Update(ctx, row.ID, cashflow.Patch{
		ActualDate: ledger.Set(ledger.NewDate(2025, time.April, 2)),
		AccountID:  ledger.Set("acc-1"),
	})
	require.NoError(t, err)
	assert.True(t, balance(t, mem, "acc-1").Equal(d("60")))

	// Clearing the actual date reverses it
	updated, err := r.Update(ctx, row.ID, cashflow.Patch{ActualDate: ledger.Null[ledger.Date]()})
	require.NoError(t, err)
	assert.Nil(t, updated.ActualDate)
	assert.True(t, balance(t, mem, "acc-1").Equal(d("100")))
}

func TestReconciler_AccountChangeMovesBalance(t *testing.T) {
	r, mem := newTestReconciler(t,
		ledger.Account{ID: "acc-1", Name: "Bank", Balance: d("1000")},
		ledger.Account{ID: "acc-2", Name: "Cash", Balance: d("200")},
	)
	ctx := context.Background()

	row, err := r.Create(ctx, ledger.CashFlow{
		Type:      ledger.FlowExpense,
		Amount:    d("300"),
		Category:  "Marketing",
		Status:    ledger.FlowPaid,
		AccountID: str("acc-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, row.ActualDate, "PAID row is realized today")
	assert.Equal(t, ledger.DateOf(fixedNow), *row.ActualDate)
	assert.True(t, balance(t, mem, "acc-1").Equal(d("700")))

	// Move and change type in one edit
	_, err = r.Update(ctx, row.ID, cashflow.Patch{
		AccountID: ledger.Set("acc-2"),
		Type:      ledger.Set(ledger.FlowIncome),
		Amount:    ledger.Set(d("50")),
	})
	require.NoError(t, err)
	assert.True(t, balance(t, mem, "acc-1").Equal(d("1000")))
	assert.True(t, balance(t, mem, "acc-2").Equal(d("250")))
}

// =============================================================================
// VALIDATION & ATOMICITY
// =============================================================================

func TestReconciler_Validation(t *testing.T) {
	r, _ := newTestReconciler(t, ledger.Account{ID: "acc-1", Name: "Bank"})
	ctx := context.Background()

	_, err := r.Create(ctx, ledger.CashFlow{Type: ledger.FlowIncome, Amount: d("0")})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = r.Create(ctx, ledger.CashFlow{Type: "TRANSFER", Amount: d("10")})
	assert.True(t, ledger.IsValidation(err))

	_, err = r.Create(ctx, ledger.CashFlow{Type: ledger.FlowIncome, Amount: d("10"), Status: ledger.FlowPaid})
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "account_id", verr.Field)

	_, err = r.Create(ctx, ledger.CashFlow{
		Type: ledger.FlowIncome, Amount: d("10"), Status: ledger.FlowPaid, AccountID: str("missing"),
	})
	assert.True(t, ledger.IsNotFound(err))

	err = r.Delete(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}

func TestReconciler_FailedUpdateLeavesBalance(t *testing.T) {
	r, mem := newTestReconciler(t, ledger.Account{ID: "acc-1", Name: "Bank", Balance: d("1000")})
	ctx := context.Background()

	row, err := r.Create(ctx, ledger.CashFlow{
		Type: ledger.FlowIncome, Amount: d("100"), Status: ledger.FlowPaid, AccountID: str("acc-1"),
	})
	require.NoError(t, err)

	_, err = r.Update(ctx, row.ID, cashflow.Patch{AccountID: ledger.Set("missing")})
	require.Error(t, err)

	assert.True(t, balance(t, mem, "acc-1").Equal(d("1100")))
	stored, err := r.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", stored.Account())
}

// =============================================================================
// BALANCE INVARIANT
// =============================================================================

func TestReconciler_BalanceInvariantUnderInterleavings(t *testing.T) {
	// GIVEN: Two seeded accounts
	// WHEN: Running a long random sequence of create/edit/delete
	// THEN: Each balance equals seed + sum of realized signed amounts

	seeds := map[string]decimal.Decimal{"acc-1": d("1000"), "acc-2": d("-50")}
	r, mem := newTestReconciler(t,
		ledger.Account{ID: "acc-1", Name: "Bank", Balance: seeds["acc-1"]},
		ledger.Account{ID: "acc-2", Name: "Cash", Balance: seeds["acc-2"]},
	)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	accounts := []string{"acc-1", "acc-2"}
	types := []ledger.FlowType{ledger.FlowIncome, ledger.FlowExpense}
	var live []string

	randomAmount := func() decimal.Decimal {
		return decimal.New(int64(rng.Intn(100000)+1), -2)
	}

	for i := 0; i < 400; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			c := ledger.CashFlow{
				Type:     types[rng.Intn(2)],
				Amount:   randomAmount(),
				Category: "Misc",
			}
			if rng.Intn(3) > 0 {
				c.AccountID = str(accounts[rng.Intn(2)])
				c.ActualDate = ledger.DatePtr(ledger.NewDate(2025, time.Month(rng.Intn(12)+1), 1))
			}
			row, err := r.Create(ctx, c)
			require.NoError(t, err)
			live = append(live, row.ID)

		case op == 1:
			id := live[rng.Intn(len(live))]
			p := cashflow.Patch{Amount: ledger.Set(randomAmount())}
			if rng.Intn(2) == 0 {
				p.Type = ledger.Set(types[rng.Intn(2)])
			}
			switch rng.Intn(3) {
			case 0:
				p.AccountID = ledger.Set(accounts[rng.Intn(2)])
				p.ActualDate = ledger.Set(ledger.NewDate(2025, time.June, 1))
			case 1:
				p.ActualDate = ledger.Null[ledger.Date]()
			}
			_, err := r.Update(ctx, id, p)
			require.NoError(t, err)

		default:
			idx := rng.Intn(len(live))
			require.NoError(t, r.Delete(ctx, live[idx]))
			live = append(live[:idx], live[idx+1:]...)
		}
	}

	rows, err := mem.ListCashFlows(ctx, ledger.CashFlowFilter{})
	require.NoError(t, err)
	require.Len(t, rows, len(live))

	expected := map[string]decimal.Decimal{"acc-1": seeds["acc-1"], "acc-2": seeds["acc-2"]}
	for _, row := range rows {
		if row.ActualDate == nil {
			continue
		}
		expected[row.Account()] = expected[row.Account()].Add(ledger.Signed(row.Type, row.Amount))
	}
	for _, id := range accounts {
		assert.True(t, balance(t, mem, id).Equal(expected[id]), "%s: got %s want %s",
			id, balance(t, mem, id), expected[id])
	}
}
