package payroll

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/cashflow"
	"github.com/warp/commission-ledger/ledger"
)

// =============================================================================
// PAYMENT ALLOCATION
// =============================================================================

// PaymentRequest pays part or all of an accrual from an account.
type PaymentRequest struct {
	AccrualID   string
	AccountID   string
	Amount      decimal.Decimal
	PaidAt      ledger.Date // zero means today
	Description string
}

// AllocatePayment records a payment against an accrual. In one transaction
// it posts a PAID expense to the account (decrementing its balance) and
// stores the payment linked to that cash-flow row. Nothing is written when
// any step fails.
//
// Errors:
//   - ErrInvalidAmount when Amount <= 0 (checked before the transaction)
//   - NotFoundError for a missing accrual or account
//   - ErrAlreadyFullyPaid when nothing remains
//   - PaymentExceedsRemainingError when Amount > remaining + epsilon
func (e *Engine) AllocatePayment(ctx context.Context, req PaymentRequest) (ledger.PayrollPayment, error) {
	if !req.Amount.IsPositive() {
		return ledger.PayrollPayment{}, fmt.Errorf("payment amount %s: %w", req.Amount, ledger.ErrInvalidAmount)
	}
	if req.AccountID == "" {
		return ledger.PayrollPayment{}, ledger.Invalid("account_id", "required")
	}

	now := e.Now()
	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = ledger.DateOf(now)
	}

	var payment ledger.PayrollPayment
	err := e.Store.WithTx(ctx, func(s ledger.Store) error {
		accrual, err := s.LockAccrual(ctx, req.AccrualID)
		if err != nil {
			return fmt.Errorf("lock accrual: %w", err)
		}
		if accrual == nil {
			return ledger.NotFound("accrual", req.AccrualID)
		}
		account, err := s.GetAccount(ctx, req.AccountID)
		if err != nil {
			return fmt.Errorf("get account: %w", err)
		}
		if account == nil {
			return ledger.NotFound("account", req.AccountID)
		}

		paid, err := s.PaidTotal(ctx, accrual.ID)
		if err != nil {
			return fmt.Errorf("paid total: %w", err)
		}
		remaining := accrual.Amount.Sub(paid)
		if !remaining.IsPositive() {
			return fmt.Errorf("accrual %s: %w", accrual.ID, ledger.ErrAlreadyFullyPaid)
		}
		if req.Amount.GreaterThan(remaining.Add(ledger.PaymentEpsilon)) {
			return &ledger.PaymentExceedsRemainingError{
				AccrualID: accrual.ID,
				Remaining: remaining,
				Requested: req.Amount,
			}
		}

		description := req.Description
		if description == "" {
			description = fmt.Sprintf("Commission payout to %s for deal %s", accrual.EmployeeID, accrual.DealID)
		}
		flow := ledger.CashFlow{
			ID:          uuid.NewString(),
			Type:        ledger.FlowExpense,
			Amount:      req.Amount,
			Category:    ledger.PayoutCategory(accrual.Role),
			Description: description,
			Status:      ledger.FlowPaid,
			PlannedDate: paidAt,
			ActualDate:  ledger.DatePtr(paidAt),
			AccountID:   &account.ID,
			DealID:      &accrual.DealID,
			CreatedAt:   now.UTC(),
		}
		if err := cashflow.Post(ctx, s, flow); err != nil {
			return fmt.Errorf("post payout: %w", err)
		}

		payment = ledger.PayrollPayment{
			ID:         uuid.NewString(),
			AccrualID:  accrual.ID,
			Amount:     req.Amount,
			PaidAt:     paidAt,
			AccountID:  account.ID,
			CashFlowID: flow.ID,
			CreatedAt:  now.UTC(),
		}
		if err := s.AddPayment(ctx, payment); err != nil {
			return fmt.Errorf("add payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.PayrollPayment{}, err
	}

	e.Logger.Info("payment allocated",
		"accrual", payment.AccrualID,
		"account", payment.AccountID,
		"amount", payment.Amount.String())
	return payment, nil
}
