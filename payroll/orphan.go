package payroll

import (
	"context"
	"fmt"

	"github.com/warp/commission-ledger/ledger"
)

// =============================================================================
// ANOMALY SCAN - Read-only diagnostics
// =============================================================================

// Anomalies groups accruals that need operator attention. Neither list is
// an error condition.
type Anomalies struct {
	// Orphaned accruals belong to someone who no longer holds the role on
	// the deal.
	Orphaned []AccrualSummary

	// Overpaid accruals were paid beyond their amount, typically because the
	// deal's commission was lowered after payment.
	Overpaid []AccrualSummary
}

func (a Anomalies) Empty() bool { return len(a.Orphaned) == 0 && len(a.Overpaid) == 0 }

// ScanAnomalies reports orphaned and overpaid accruals.
func (e *Engine) ScanAnomalies(ctx context.Context) (Anomalies, error) {
	all, err := e.Summaries(ctx, ledger.AccrualFilter{})
	if err != nil {
		return Anomalies{}, err
	}
	var out Anomalies
	for _, s := range all {
		if s.Orphaned {
			out.Orphaned = append(out.Orphaned, s)
		}
		if s.Overpaid {
			out.Overpaid = append(out.Overpaid, s)
		}
	}
	return out, nil
}

// ScanOrphans reports orphaned accruals with paid-to-date and remaining.
func (e *Engine) ScanOrphans(ctx context.Context) ([]AccrualSummary, error) {
	a, err := e.ScanAnomalies(ctx)
	if err != nil {
		return nil, err
	}
	return a.Orphaned, nil
}

// =============================================================================
// REMEDIATION - Operator-confirmed only
// =============================================================================

// DeleteOrphanedAccrual removes an orphaned accrual and its payments. The
// cash-flow rows of those payments stay: the money was paid out.
func (e *Engine) DeleteOrphanedAccrual(ctx context.Context, accrualID string, confirmed bool) error {
	if !confirmed {
		return ledger.ErrConfirmationRequired
	}

	var removed AccrualSummary
	err := e.Store.WithTx(ctx, func(s ledger.Store) error {
		a, err := s.LockAccrual(ctx, accrualID)
		if err != nil {
			return fmt.Errorf("lock accrual: %w", err)
		}
		if a == nil {
			return ledger.NotFound("accrual", accrualID)
		}
		deal, err := s.GetDeal(ctx, a.DealID)
		if err != nil {
			return fmt.Errorf("get deal: %w", err)
		}

		removed, err = summarize(ctx, s, *a, deal)
		if err != nil {
			return err
		}
		if !removed.Orphaned {
			return ledger.ErrNotOrphaned
		}
		return s.DeleteAccrual(ctx, accrualID)
	})
	if err != nil {
		return err
	}

	e.Logger.Info("orphaned accrual deleted",
		"accrual", accrualID,
		"deal", removed.DealID,
		"employee", removed.EmployeeID,
		"role", removed.Role,
		"paid", removed.Paid.String())
	return nil
}
