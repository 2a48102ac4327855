/*
Package commission resolves commission rates and computes the deal waterfall.

PURPOSE:
  Everything here is either a pure function or a thin read over the rate
  history. No deal or payroll state is written by this package except rate
  history rows (Resolver.AddRate).

RATE RESOLUTION PIPELINE:
  The rate applied to a deal for a role is the first non-nil of:
    1. explicit override supplied by the caller
    2. latest history row with EffectiveDate <= deposit date
    3. employee base rate for the role
    4. zero
  Each step is a separate function so it can be tested on its own.

DUPLICATE EFFECTIVE DATES:
  Rejected at write (ledger.ErrDuplicateEffectiveDate). LatestEffective
  still prefers the later-inserted row so legacy data resolves the same way
  every time.

SEE ALSO:
  - waterfall.go: Split computation
  - expenses.go:  Legacy expense normalization
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// =============================================================================
// PURE PIPELINE STEPS
// =============================================================================

// LatestEffective returns the row in effect at asOf, or nil when asOf is
// before the earliest row. rates must be ordered by EffectiveDate then
// insertion, as RateStore.ListRates returns them.
func LatestEffective(rates []ledger.CommissionRate, asOf ledger.Date) *ledger.CommissionRate {
	var found *ledger.CommissionRate
	for i := range rates {
		if rates[i].EffectiveDate.After(asOf) {
			continue
		}
		// >= so the later-inserted row wins a tie
		if found == nil || rates[i].EffectiveDate.AfterOrEqual(found.EffectiveDate) {
			found = &rates[i]
		}
	}
	return found
}

// FirstRate returns the first non-nil candidate, or zero.
func FirstRate(candidates ...*decimal.Decimal) decimal.Decimal {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return decimal.Zero
}

// ValidatePercent rejects values outside [0,100].
func ValidatePercent(field string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(ledger.Hundred) {
		return ledger.Invalid(field, "must be between 0 and 100")
	}
	return nil
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver reads and writes an employee's rate history.
type Resolver struct {
	rates ledger.RateStore
	now   func() time.Time
}

func NewResolver(rates ledger.RateStore) *Resolver {
	return &Resolver{rates: rates, now: time.Now}
}

// Resolve returns the rate in effect for the employee and role on asOf, or
// nil if the history has no row on or before asOf.
func (r *Resolver) Resolve(ctx context.Context, employeeID string, role ledger.Role, asOf ledger.Date) (*decimal.Decimal, error) {
	if employeeID == "" {
		return nil, nil
	}
	rates, err := r.rates.ListRates(ctx, employeeID, role)
	if err != nil {
		return nil, fmt.Errorf("list rates for %s: %w", employeeID, err)
	}
	row := LatestEffective(rates, asOf)
	if row == nil {
		return nil, nil
	}
	rate := row.Rate
	return &rate, nil
}

// Effective runs the full pipeline for one role. employee may be nil, in
// which case only the override can produce a non-zero rate.
func (r *Resolver) Effective(ctx context.Context, employee *ledger.Employee, role ledger.Role, override *decimal.Decimal, asOf ledger.Date) (decimal.Decimal, error) {
	if override != nil {
		return *override, nil
	}
	if employee == nil {
		return decimal.Zero, nil
	}
	resolved, err := r.Resolve(ctx, employee.ID, role, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return FirstRate(resolved, employee.BaseRate(role)), nil
}

// AddRate appends a row to the history after validation.
func (r *Resolver) AddRate(ctx context.Context, rate ledger.CommissionRate) (ledger.CommissionRate, error) {
	if rate.EmployeeID == "" {
		return rate, ledger.Invalid("employee_id", "required")
	}
	if !rate.Role.IsCommissionRole() {
		return rate, ledger.Invalid("role", "must be AGENT or ROP")
	}
	if rate.EffectiveDate.IsZero() {
		return rate, ledger.Invalid("effective_date", "required")
	}
	if err := ValidatePercent("rate", rate.Rate); err != nil {
		return rate, err
	}
	if rate.ID == "" {
		rate.ID = uuid.NewString()
	}
	if rate.CreatedAt.IsZero() {
		rate.CreatedAt = r.now().UTC()
	}
	if err := r.rates.AddRate(ctx, rate); err != nil {
		return rate, fmt.Errorf("add rate: %w", err)
	}
	return rate, nil
}

// History returns the full history for an employee and role.
func (r *Resolver) History(ctx context.Context, employeeID string, role ledger.Role) ([]ledger.CommissionRate, error) {
	return r.rates.ListRates(ctx, employeeID, role)
}
