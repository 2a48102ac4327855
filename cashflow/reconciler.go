/*
Package cashflow keeps account balances in step with cash-flow rows.

PURPOSE:
  Account.Balance is a running total maintained by deltas. Every path that
  creates, edits or deletes a CashFlow row must pair the row write with the
  matching balance adjustment inside the same transaction.

DELTA RULE:
  delta(row) = signed(type, amount)   if the row has an ActualDate
             = 0                      otherwise
  signed(INCOME, x) = +x, signed(EXPENSE, x) = -x

OPERATIONS:
  Post:   insert row, apply delta(new)
  Repost: update row
            same account:    apply delta(new) - delta(old)
            account changed: apply -delta(old) on old, delta(new) on new
  Unpost: apply -delta(old), delete row

PAYOUT ROWS:
  A row created by payroll.AllocatePayment is the cash side of a
  PayrollPayment. Reconciler refuses to edit or delete it
  (ErrPayoutLinked) so the accrual's paid total and the account balance
  cannot drift apart.

  Post/Repost/Unpost run against a Store already inside a transaction so
  other units of work (payroll payment allocation) can reuse them.
  Reconciler wraps each one in its own WithTx.

INVARIANT:
  balance(account) = seed + sum of delta(row) over rows posted to it

SEE ALSO:
  - payroll/payment.go: Posts the payout expense row
  - ledger/store.go:    AdjustAccountBalance contract
*/
package cashflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// =============================================================================
// UNIT OF WORK - Transaction-scoped helpers
// =============================================================================

// Prepare fills defaults and validates a row before it is written.
// A row with an ActualDate is PAID; a PAID row without one is realized today.
func Prepare(c *ledger.CashFlow, today ledger.Date) error {
	c.Category = strings.TrimSpace(c.Category)
	if c.Status == "" {
		c.Status = ledger.FlowPlanned
	}
	if c.ActualDate != nil {
		c.Status = ledger.FlowPaid
	}
	if c.Status == ledger.FlowPaid && c.ActualDate == nil {
		c.ActualDate = ledger.DatePtr(today)
	}
	if c.PlannedDate.IsZero() {
		if c.ActualDate != nil {
			c.PlannedDate = *c.ActualDate
		} else {
			c.PlannedDate = today
		}
	}
	if c.AccountID != nil && *c.AccountID == "" {
		c.AccountID = nil
	}

	if !c.Type.Valid() {
		return ledger.Invalid("type", "must be INCOME or EXPENSE")
	}
	if !c.Status.Valid() {
		return ledger.Invalid("status", "must be PLANNED or PAID")
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("cash flow amount %s: %w", c.Amount, ledger.ErrInvalidAmount)
	}
	if c.IsRealized() && c.AccountID == nil {
		return ledger.Invalid("account_id", "required once the cash flow is paid")
	}
	return nil
}

// Post inserts a prepared row and applies its balance delta.
func Post(ctx context.Context, s ledger.Store, c ledger.CashFlow) error {
	if err := requireAccount(ctx, s, c.AccountID); err != nil {
		return err
	}
	if err := s.SaveCashFlow(ctx, c); err != nil {
		return fmt.Errorf("save cash flow: %w", err)
	}
	return adjust(ctx, s, c.Account(), c.BalanceDelta())
}

// Repost replaces old with updated, moving the balance effect between
// accounts when the account changed.
func Repost(ctx context.Context, s ledger.Store, old, updated ledger.CashFlow) error {
	if err := requireAccount(ctx, s, updated.AccountID); err != nil {
		return err
	}

	oldDelta := old.BalanceDelta()
	newDelta := updated.BalanceDelta()

	if old.Account() == updated.Account() {
		if err := adjust(ctx, s, updated.Account(), newDelta.Sub(oldDelta)); err != nil {
			return err
		}
	} else {
		if err := adjust(ctx, s, old.Account(), oldDelta.Neg()); err != nil {
			return err
		}
		if err := adjust(ctx, s, updated.Account(), newDelta); err != nil {
			return err
		}
	}

	if err := s.SaveCashFlow(ctx, updated); err != nil {
		return fmt.Errorf("save cash flow: %w", err)
	}
	return nil
}

// Unpost reverses the row's balance effect and deletes it.
func Unpost(ctx context.Context, s ledger.Store, old ledger.CashFlow) error {
	if err := adjust(ctx, s, old.Account(), old.BalanceDelta().Neg()); err != nil {
		return err
	}
	if err := s.DeleteCashFlow(ctx, old.ID); err != nil {
		return fmt.Errorf("delete cash flow: %w", err)
	}
	return nil
}

// requireUnlinked rejects changes to a row that records a payroll payment.
func requireUnlinked(ctx context.Context, s ledger.Store, cashFlowID string) error {
	payment, err := s.PaymentByCashFlow(ctx, cashFlowID)
	if err != nil {
		return fmt.Errorf("lookup payment: %w", err)
	}
	if payment != nil {
		return fmt.Errorf("%w: cash flow %s, payment %s", ledger.ErrPayoutLinked, cashFlowID, payment.ID)
	}
	return nil
}

func adjust(ctx context.Context, s ledger.Store, accountID string, delta decimal.Decimal) error {
	if accountID == "" || delta.IsZero() {
		return nil
	}
	if err := s.AdjustAccountBalance(ctx, accountID, delta); err != nil {
		return fmt.Errorf("adjust balance of %s by %s: %w", accountID, delta, err)
	}
	return nil
}

func requireAccount(ctx context.Context, s ledger.Store, accountID *string) error {
	if accountID == nil {
		return nil
	}
	acc, err := s.GetAccount(ctx, *accountID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc == nil {
		return ledger.NotFound("account", *accountID)
	}
	return nil
}

// =============================================================================
// RECONCILER - One transaction per call
// =============================================================================

// Patch is a partial update of a cash-flow row. Unset fields are kept.
type Patch struct {
	Type        ledger.Field[ledger.FlowType]   `json:"type"`
	Amount      ledger.Field[decimal.Decimal]   `json:"amount"`
	Category    ledger.Field[string]            `json:"category"`
	Description ledger.Field[string]            `json:"description"`
	Status      ledger.Field[ledger.FlowStatus] `json:"status"`
	PlannedDate ledger.Field[ledger.Date]       `json:"planned_date"`
	ActualDate  ledger.Field[ledger.Date]       `json:"actual_date"`
	AccountID   ledger.Field[string]            `json:"account_id"`
	IsRecurring ledger.Field[bool]              `json:"is_recurring"`
	DealID      ledger.Field[string]            `json:"deal_id"`
}

// Apply returns c with the patch applied.
func (p Patch) Apply(c ledger.CashFlow) ledger.CashFlow {
	p.Type.ApplyTo(&c.Type)
	p.Amount.ApplyTo(&c.Amount)
	p.Category.ApplyTo(&c.Category)
	p.Description.ApplyTo(&c.Description)
	p.Status.ApplyTo(&c.Status)
	p.PlannedDate.ApplyTo(&c.PlannedDate)
	ledger.ApplyNullable(p.ActualDate, &c.ActualDate)
	ledger.ApplyNullable(p.AccountID, &c.AccountID)
	p.IsRecurring.ApplyTo(&c.IsRecurring)
	ledger.ApplyNullable(p.DealID, &c.DealID)

	// Status and actual date move together unless both are given
	if s, ok := p.Status.Value(); ok && s == ledger.FlowPlanned && !p.ActualDate.Present() {
		c.ActualDate = nil
	}
	if p.ActualDate.IsNull() && !p.Status.Present() {
		c.Status = ledger.FlowPlanned
	}
	return c
}

type Reconciler struct {
	Store  ledger.TxStore
	Now    func() time.Time
	Logger *slog.Logger
}

func NewReconciler(store ledger.TxStore) *Reconciler {
	return &Reconciler{Store: store, Now: time.Now, Logger: slog.Default()}
}

func (r *Reconciler) today() ledger.Date { return ledger.DateOf(r.Now()) }

// Create validates and posts a new row.
func (r *Reconciler) Create(ctx context.Context, c ledger.CashFlow) (ledger.CashFlow, error) {
	if err := Prepare(&c, r.today()); err != nil {
		return ledger.CashFlow{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.Now().UTC()
	}

	err := r.Store.WithTx(ctx, func(s ledger.Store) error {
		return Post(ctx, s, c)
	})
	if err != nil {
		return ledger.CashFlow{}, err
	}

	r.Logger.Debug("cash flow created", "id", c.ID, "type", c.Type, "amount", c.Amount.String(),
		"account", c.Account(), "delta", c.BalanceDelta().String())
	return c, nil
}

// Update applies a patch and moves the balance effect accordingly.
func (r *Reconciler) Update(ctx context.Context, id string, p Patch) (ledger.CashFlow, error) {
	var updated ledger.CashFlow
	err := r.Store.WithTx(ctx, func(s ledger.Store) error {
		old, err := s.GetCashFlow(ctx, id)
		if err != nil {
			return fmt.Errorf("get cash flow: %w", err)
		}
		if old == nil {
			return ledger.NotFound("cash flow", id)
		}
		if err := requireUnlinked(ctx, s, id); err != nil {
			return err
		}

		updated = p.Apply(*old)
		updated.ID = old.ID
		updated.CreatedAt = old.CreatedAt
		if err := Prepare(&updated, r.today()); err != nil {
			return err
		}
		return Repost(ctx, s, *old, updated)
	})
	if err != nil {
		return ledger.CashFlow{}, err
	}

	r.Logger.Debug("cash flow updated", "id", id, "account", updated.Account())
	return updated, nil
}

// Delete reverses the row's balance effect and removes it.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	err := r.Store.WithTx(ctx, func(s ledger.Store) error {
		old, err := s.GetCashFlow(ctx, id)
		if err != nil {
			return fmt.Errorf("get cash flow: %w", err)
		}
		if old == nil {
			return ledger.NotFound("cash flow", id)
		}
		if err := requireUnlinked(ctx, s, id); err != nil {
			return err
		}
		return Unpost(ctx, s, *old)
	})
	if err != nil {
		return err
	}
	r.Logger.Debug("cash flow deleted", "id", id)
	return nil
}

func (r *Reconciler) Get(ctx context.Context, id string) (ledger.CashFlow, error) {
	c, err := r.Store.GetCashFlow(ctx, id)
	if err != nil {
		return ledger.CashFlow{}, err
	}
	if c == nil {
		return ledger.CashFlow{}, ledger.NotFound("cash flow", id)
	}
	return *c, nil
}

func (r *Reconciler) List(ctx context.Context, f ledger.CashFlowFilter) ([]ledger.CashFlow, error) {
	return r.Store.ListCashFlows(ctx, f)
}

// OpenAccount creates an account with a seed balance.
func (r *Reconciler) OpenAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	if strings.TrimSpace(a.Name) == "" {
		return ledger.Account{}, ledger.Invalid("name", "required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.Now().UTC()
	}
	if err := r.Store.SaveAccount(ctx, a); err != nil {
		return ledger.Account{}, fmt.Errorf("save account: %w", err)
	}
	return a, nil
}
