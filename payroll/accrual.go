/*
Package payroll derives commission accruals from closed deals and settles
them with payments.

PURPOSE:
  A CLOSED deal owes its agent and its ROP their derived commissions. The
  engine materializes that debt as PayrollAccrual rows, reports accruals
  that no longer match the deal (orphans), and allocates payments against
  accruals while keeping the cash ledger in balance.

ACCRUAL RULES:
  - Only CLOSED deals accrue. Any other status is a no-op.
  - One row per (deal, employee, role), upserted. Running EnsureAccruals
    any number of times on an unchanged deal converges to the same rows.
  - Roles with no assignee or a commission <= 0 are skipped.
  - AccruedAt = deal date, or today when the deal has none.

ORPHANS:
  Reassigning a closed deal leaves the previous assignee's accrual in
  place, possibly partly paid. The engine never deletes it on its own:
  ScanAnomalies reports it and DeleteOrphanedAccrual removes it only with
  explicit confirmation.

SEE ALSO:
  - payment.go: AllocatePayment
  - orphan.go:  Diagnostics and remediation
  - deal/reconciler.go: Calls EnsureAccruals inside the deal transaction
*/
package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// Engine owns the payroll operations that run in their own transaction.
type Engine struct {
	Store  ledger.TxStore
	Now    func() time.Time
	Logger *slog.Logger
}

func NewEngine(store ledger.TxStore) *Engine {
	return &Engine{Store: store, Now: time.Now, Logger: slog.Default()}
}

// =============================================================================
// ENSURE ACCRUALS
// =============================================================================

var accrualRoles = []ledger.Role{ledger.RoleAgent, ledger.RoleROP}

// EnsureAccruals upserts the accruals owed by a CLOSED deal using s, which is
// normally already inside a transaction. Returns the accruals written.
func EnsureAccruals(ctx context.Context, s ledger.Store, dealID string, now time.Time) ([]ledger.PayrollAccrual, error) {
	deal, err := s.GetDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("get deal: %w", err)
	}
	if deal == nil {
		return nil, ledger.NotFound("deal", dealID)
	}
	if deal.Status != ledger.StatusClosed {
		return nil, nil
	}

	accruedAt := ledger.DateOf(now)
	if deal.DealDate != nil {
		accruedAt = *deal.DealDate
	}

	var written []ledger.PayrollAccrual
	for _, role := range accrualRoles {
		employeeID := deal.AssigneeFor(role)
		amount := deal.CommissionFor(role)
		if employeeID == "" || !amount.IsPositive() {
			continue
		}

		stored, err := s.UpsertAccrual(ctx, ledger.PayrollAccrual{
			ID:         uuid.NewString(),
			DealID:     deal.ID,
			EmployeeID: employeeID,
			Role:       role,
			Amount:     amount,
			AccruedAt:  accruedAt,
			CreatedAt:  now.UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("upsert %s accrual for deal %s: %w", role, deal.ID, err)
		}
		written = append(written, stored)
	}
	return written, nil
}

// EnsureAccruals runs EnsureAccruals in its own transaction.
func (e *Engine) EnsureAccruals(ctx context.Context, dealID string) ([]ledger.PayrollAccrual, error) {
	var written []ledger.PayrollAccrual
	err := e.Store.WithTx(ctx, func(s ledger.Store) error {
		var err error
		written, err = EnsureAccruals(ctx, s, dealID, e.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(written) > 0 {
		e.Logger.Info("accruals ensured", "deal", dealID, "count", len(written))
	}
	return written, nil
}

// =============================================================================
// SUMMARIES
// =============================================================================

// AccrualSummary is an accrual with its payment position.
type AccrualSummary struct {
	ledger.PayrollAccrual
	Paid      decimal.Decimal
	Remaining decimal.Decimal

	// CurrentAssignee is the deal's holder of the accrual's role now.
	CurrentAssignee string
	Orphaned        bool
	Overpaid        bool
}

func summarize(ctx context.Context, s ledger.Store, a ledger.PayrollAccrual, deal *ledger.Deal) (AccrualSummary, error) {
	paid, err := s.PaidTotal(ctx, a.ID)
	if err != nil {
		return AccrualSummary{}, fmt.Errorf("paid total for %s: %w", a.ID, err)
	}
	sum := AccrualSummary{
		PayrollAccrual: a,
		Paid:           paid,
		Remaining:      a.Amount.Sub(paid),
		Overpaid:       paid.GreaterThan(a.Amount.Add(ledger.PaymentEpsilon)),
	}
	if deal != nil {
		sum.CurrentAssignee = deal.AssigneeFor(a.Role)
	}
	sum.Orphaned = sum.CurrentAssignee != a.EmployeeID
	return sum, nil
}

// Summaries lists accruals matching f with paid and remaining amounts.
func (e *Engine) Summaries(ctx context.Context, f ledger.AccrualFilter) ([]AccrualSummary, error) {
	accruals, err := e.Store.ListAccruals(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list accruals: %w", err)
	}

	deals := make(map[string]*ledger.Deal)
	result := make([]AccrualSummary, 0, len(accruals))
	for _, a := range accruals {
		deal, ok := deals[a.DealID]
		if !ok {
			deal, err = e.Store.GetDeal(ctx, a.DealID)
			if err != nil {
				return nil, fmt.Errorf("get deal %s: %w", a.DealID, err)
			}
			deals[a.DealID] = deal
		}
		sum, err := summarize(ctx, e.Store, a, deal)
		if err != nil {
			return nil, err
		}
		result = append(result, sum)
	}
	return result, nil
}

// Payments lists the payments made against an accrual.
func (e *Engine) Payments(ctx context.Context, accrualID string) ([]ledger.PayrollPayment, error) {
	a, err := e.Store.GetAccrual(ctx, accrualID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ledger.NotFound("accrual", accrualID)
	}
	return e.Store.ListPayments(ctx, accrualID)
}
