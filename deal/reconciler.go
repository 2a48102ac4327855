/*
Package deal keeps each deal's derived commission split consistent with
its inputs and triggers payroll accrual when a deal closes.

PURPOSE:
  Create, update and delete deals. Every write runs in one transaction that
  also upserts the deal's payroll accruals.

RECALCULATION:
  With CommissionsManual=false, a write recomputes the split when any of
  these changed (compared by value):
    commission, tax_rate, the five expense fields, agent_id, rop_id,
    deposit_date, agent/ROP rate overrides
  or when CommissionsManual was just switched off. Recomputing means:
    1. normalize expenses
    2. resolve both rates at the deposit date (override > history > base > 0)
    3. run the waterfall and store rates applied, commissions and net profit

  With CommissionsManual=true the derived fields come verbatim from the
  caller. A rate override alone only updates the applied rate.

LIFECYCLE:
  Status transitions are not enforced. Switching to CLOSED without a deal
  date stamps today. Accruals are ensured after every write; that is a
  no-op for any status other than CLOSED.

ERRORS:
  Unknown agent         -> validation error, nothing written
  Unknown ROP           -> treated as no manager, ROP commission 0

SEE ALSO:
  - commission/waterfall.go: Split computation
  - payroll/accrual.go:      EnsureAccruals
*/
package deal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/commission"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/payroll"
)

type Reconciler struct {
	Store  ledger.TxStore
	Now    func() time.Time
	Logger *slog.Logger
}

func NewReconciler(store ledger.TxStore) *Reconciler {
	return &Reconciler{Store: store, Now: time.Now, Logger: slog.Default()}
}

// =============================================================================
// WRITES
// =============================================================================

// Create builds a deal from p and persists it with its accruals.
func (r *Reconciler) Create(ctx context.Context, p Patch) (ledger.Deal, error) {
	var created ledger.Deal
	err := r.Store.WithTx(ctx, func(s ledger.Store) error {
		d, err := r.reconcile(ctx, s, nil, p)
		if err != nil {
			return err
		}
		if err := r.persist(ctx, s, d); err != nil {
			return err
		}
		created = d
		return nil
	})
	if err != nil {
		return ledger.Deal{}, err
	}

	r.Logger.Info("deal created", "deal", created.ID, "status", created.Status,
		"commission", created.Commission.String(), "netProfit", created.NetProfit.String())
	return created, nil
}

// Update applies p to an existing deal.
func (r *Reconciler) Update(ctx context.Context, id string, p Patch) (ledger.Deal, error) {
	var updated ledger.Deal
	err := r.Store.WithTx(ctx, func(s ledger.Store) error {
		old, err := s.GetDeal(ctx, id)
		if err != nil {
			return fmt.Errorf("get deal: %w", err)
		}
		if old == nil {
			return ledger.NotFound("deal", id)
		}
		d, err := r.reconcile(ctx, s, old, p)
		if err != nil {
			return err
		}
		if err := r.persist(ctx, s, d); err != nil {
			return err
		}
		updated = d
		return nil
	})
	if err != nil {
		return ledger.Deal{}, err
	}

	r.Logger.Info("deal updated", "deal", id, "status", updated.Status,
		"netProfit", updated.NetProfit.String())
	return updated, nil
}

// Delete removes the deal with its accruals and their payments. Cash-flow
// rows created by those payments are kept.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	err := r.Store.WithTx(ctx, func(s ledger.Store) error {
		d, err := s.GetDeal(ctx, id)
		if err != nil {
			return fmt.Errorf("get deal: %w", err)
		}
		if d == nil {
			return ledger.NotFound("deal", id)
		}
		return s.DeleteDeal(ctx, id)
	})
	if err != nil {
		return err
	}
	r.Logger.Info("deal deleted", "deal", id)
	return nil
}

// Preview computes the deal p would produce without writing anything.
func (r *Reconciler) Preview(ctx context.Context, p Patch) (ledger.Deal, error) {
	return r.reconcile(ctx, r.Store, nil, p)
}

// RecalculateAll recomputes every non-manual deal from current rates and
// inputs and re-ensures accruals. Each deal is its own transaction; the
// first failure stops the run. Returns the number of deals whose split
// changed.
func (r *Reconciler) RecalculateAll(ctx context.Context) (int, error) {
	deals, err := r.Store.ListDeals(ctx, ledger.DealFilter{})
	if err != nil {
		return 0, fmt.Errorf("list deals: %w", err)
	}

	changed := 0
	for _, d := range deals {
		if d.CommissionsManual {
			continue
		}
		var moved bool
		err := r.Store.WithTx(ctx, func(s ledger.Store) error {
			agent, rop, err := r.participants(ctx, s, &d)
			if err != nil {
				return err
			}
			before := d
			if err := r.recalculate(ctx, s, &d, agent, rop); err != nil {
				return err
			}
			moved = !before.AgentCommission.Equal(d.AgentCommission) ||
				!before.ROPCommission.Equal(d.ROPCommission) ||
				!before.NetProfit.Equal(d.NetProfit)
			if moved {
				d.UpdatedAt = r.Now().UTC()
			}
			return r.persist(ctx, s, d)
		})
		if err != nil {
			return changed, fmt.Errorf("recalculate deal %s: %w", d.ID, err)
		}
		if moved {
			changed++
		}
	}

	r.Logger.Info("deals recalculated", "total", len(deals), "changed", changed)
	return changed, nil
}

// =============================================================================
// READS
// =============================================================================

func (r *Reconciler) Get(ctx context.Context, id string) (ledger.Deal, error) {
	d, err := r.Store.GetDeal(ctx, id)
	if err != nil {
		return ledger.Deal{}, err
	}
	if d == nil {
		return ledger.Deal{}, ledger.NotFound("deal", id)
	}
	return *d, nil
}

func (r *Reconciler) List(ctx context.Context, f ledger.DealFilter) ([]ledger.Deal, error) {
	return r.Store.ListDeals(ctx, f)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func (r *Reconciler) persist(ctx context.Context, s ledger.Store, d ledger.Deal) error {
	if err := s.SaveDeal(ctx, d); err != nil {
		return fmt.Errorf("save deal: %w", err)
	}
	if _, err := payroll.EnsureAccruals(ctx, s, d.ID, r.Now()); err != nil {
		return fmt.Errorf("ensure accruals: %w", err)
	}
	return nil
}

// reconcile produces the deal to store. old is nil on create.
func (r *Reconciler) reconcile(ctx context.Context, s ledger.Store, old *ledger.Deal, p Patch) (ledger.Deal, error) {
	now := r.Now()

	var d ledger.Deal
	if old != nil {
		d = *old
	} else {
		d = ledger.Deal{
			ID:        uuid.NewString(),
			Status:    ledger.StatusDeposit,
			CreatedAt: now.UTC(),
		}
	}
	p.applyInputs(&d)

	if err := validate(d); err != nil {
		return ledger.Deal{}, err
	}
	commission.ApplyExpenses(&d, commission.NormalizeExpenses(commission.ExpensesOf(d)))

	agent, rop, err := r.participants(ctx, s, &d)
	if err != nil {
		return ledger.Deal{}, err
	}

	if d.Status == ledger.StatusClosed && d.DealDate == nil {
		d.DealDate = ledger.DatePtr(ledger.DateOf(now))
	}

	switch {
	case !d.CommissionsManual:
		turnedAuto := old != nil && old.CommissionsManual
		if old == nil || turnedAuto || needsRecalc(*old, d) {
			if err := r.recalculate(ctx, s, &d, agent, rop); err != nil {
				return ledger.Deal{}, err
			}
		}
	default:
		p.applyManual(&d)
		if p.hasRateOverride() {
			if err := r.resolveApplied(ctx, s, &d, agent, rop, p); err != nil {
				return ledger.Deal{}, err
			}
		}
	}

	d.UpdatedAt = now.UTC()
	return d, nil
}

// participants loads the agent and ROP. A missing agent is a validation
// error; a missing ROP is dropped from the deal.
func (r *Reconciler) participants(ctx context.Context, s ledger.Store, d *ledger.Deal) (*ledger.Employee, *ledger.Employee, error) {
	if d.AgentID == "" {
		return nil, nil, ledger.Invalid("agent_id", "required")
	}
	agent, err := s.GetEmployee(ctx, d.AgentID)
	if err != nil {
		return nil, nil, fmt.Errorf("get agent: %w", err)
	}
	if agent == nil {
		return nil, nil, ledger.Invalid("agent_id", fmt.Sprintf("unknown employee %q", d.AgentID))
	}

	var rop *ledger.Employee
	if d.ROPID != nil {
		rop, err = s.GetEmployee(ctx, *d.ROPID)
		if err != nil {
			return nil, nil, fmt.Errorf("get rop: %w", err)
		}
		if rop == nil {
			r.Logger.Warn("unknown rop dropped from deal", "deal", d.ID, "rop", *d.ROPID)
			d.ROPID = nil
		}
	}
	return agent, rop, nil
}

func asOf(d ledger.Deal, now time.Time) ledger.Date {
	if d.DepositDate != nil {
		return *d.DepositDate
	}
	return ledger.DateOf(now)
}

// rates runs the resolution pipeline for both roles. Without a ROP the
// manager rate is zero.
func (r *Reconciler) rates(ctx context.Context, s ledger.Store, d ledger.Deal, agent, rop *ledger.Employee) (decimal.Decimal, decimal.Decimal, error) {
	resolver := commission.NewResolver(s)
	on := asOf(d, r.Now())

	agentRate, err := resolver.Effective(ctx, agent, ledger.RoleAgent, d.AgentRateOverride, on)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	ropRate := decimal.Zero
	if rop != nil {
		ropRate, err = resolver.Effective(ctx, rop, ledger.RoleROP, d.ROPRateOverride, on)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
	}
	return agentRate, ropRate, nil
}

func (r *Reconciler) recalculate(ctx context.Context, s ledger.Store, d *ledger.Deal, agent, rop *ledger.Employee) error {
	agentRate, ropRate, err := r.rates(ctx, s, *d, agent, rop)
	if err != nil {
		return err
	}
	expenses := commission.NormalizeExpenses(commission.ExpensesOf(*d))
	commission.ApplyExpenses(d, expenses)

	w := commission.ComputeWaterfall(commission.WaterfallInput{
		Gross:     d.Commission,
		TaxRate:   d.TaxRate,
		AgentRate: agentRate,
		ROPRate:   ropRate,
		Expenses:  expenses,
	})
	w.Apply(d, agentRate, ropRate)
	return nil
}

// resolveApplied stores the applied rate for each role the caller
// overrode, leaving commission amounts alone.
func (r *Reconciler) resolveApplied(ctx context.Context, s ledger.Store, d *ledger.Deal, agent, rop *ledger.Employee, p Patch) error {
	agentRate, ropRate, err := r.rates(ctx, s, *d, agent, rop)
	if err != nil {
		return err
	}
	if p.AgentRate.Present() {
		d.AgentRateApplied = agentRate
	}
	if p.ROPRate.Present() {
		d.ROPRateApplied = ropRate
	}
	return nil
}

func validate(d ledger.Deal) error {
	if !d.Status.Valid() {
		return ledger.Invalid("status", fmt.Sprintf("unknown status %q", d.Status))
	}
	if err := commission.ValidatePercent("tax_rate", d.TaxRate); err != nil {
		return err
	}
	// Checked in order so the first bad field is the one reported.
	rates := []struct {
		field string
		value *decimal.Decimal
	}{
		{"agent_rate", d.AgentRateOverride},
		{"rop_rate", d.ROPRateOverride},
	}
	for _, r := range rates {
		if r.value != nil {
			if err := commission.ValidatePercent(r.field, *r.value); err != nil {
				return err
			}
		}
	}
	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"commission", d.Commission},
		{"price", d.Price},
		{"broker_expense", d.BrokerExpense},
		{"lawyer_expense", d.LawyerExpense},
		{"referral_expense", d.ReferralExpense},
		{"other_expense", d.OtherExpense},
		{"external_expenses", d.ExternalExpenses},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return ledger.Invalid(a.field, "must not be negative")
		}
	}
	return nil
}
