/*
Package forecast projects account balances month by month.

PURPOSE:
  Answers "will we run out of cash, and when?" by chaining a starting
  balance through expected income and planned expenses.

MODES:
  Forward (no year, or the current/a future year):
    - starts at the current month (January for a future year)
    - first month income = net profit of every open deal
                           + unrealized INCOME rows dated in the month
    - later months       = unrealized INCOME rows dated in the month
  Historical (a past year):
    - starts in January
    - income = net profit of deals CLOSED with a deal date in the month

  Both modes open with the sum of current account balances and chain
  closing -> opening.

PLANNED EXPENSES (per month):
  one-off:   PLANNED, non-recurring, unrealized EXPENSE rows in the month
  recurring: per category, the latest recurring EXPENSE template planned
             on or before the month, unless a PAID expense of that
             category already has an actual date in the month
  Payroll payout categories are always excluded: payouts are netted into
  deal net profit already.

ACTUAL EXPENSES:
  PAID EXPENSE rows with an actual date in the month (payroll excluded).
  Informational only; they are already in the account balances.

SEE ALSO:
  - ledger/types.go: IsPayrollCategory
*/
package forecast

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

const (
	DefaultMonths = 12
	MaxMonths     = 60
)

type Status string

const (
	StatusPositive Status = "positive"
	StatusCritical Status = "critical"
)

type MonthlyForecast struct {
	Month           ledger.Month
	OpeningBalance  decimal.Decimal
	ExpectedIncome  decimal.Decimal
	PlannedExpenses decimal.Decimal
	ActualExpenses  decimal.Decimal
	ClosingBalance  decimal.Decimal
	Status          Status
}

// Projector is read-only; it may observe a slightly stale balance while
// writes are in flight.
type Projector struct {
	Store         ledger.Store
	Now           func() time.Time
	DefaultMonths int
}

func NewProjector(store ledger.Store) *Projector {
	return &Projector{Store: store, Now: time.Now, DefaultMonths: DefaultMonths}
}

// window is the range of months to project.
type window struct {
	start      ledger.Month
	months     int
	historical bool
}

func (w window) period() ledger.Period {
	last := w.start
	for i := 1; i < w.months; i++ {
		last = last.Next()
	}
	return ledger.Period{Start: w.start.Start(), End: last.End()}
}

func (p *Projector) window(monthsAhead int, year *int) window {
	current := ledger.CurrentMonth(p.Now())
	w := window{start: current}

	if year != nil {
		switch {
		case *year < current.Year:
			w.start = ledger.Month{Year: *year, Month: time.January}
			w.historical = true
		case *year > current.Year:
			w.start = ledger.Month{Year: *year, Month: time.January}
		}
	}

	switch {
	case monthsAhead > 0:
		w.months = monthsAhead
	case year != nil:
		// through December of the requested year
		w.months = int(time.December-w.start.Month) + 1
	case p.DefaultMonths > 0:
		w.months = p.DefaultMonths
	default:
		w.months = DefaultMonths
	}
	if w.months > MaxMonths {
		w.months = MaxMonths
	}
	return w
}

// Project returns one forecast per month. monthsAhead <= 0 uses the
// default horizon, or the rest of the year when year is given.
func (p *Projector) Project(ctx context.Context, monthsAhead int, year *int) ([]MonthlyForecast, error) {
	w := p.window(monthsAhead, year)
	span := w.period()

	opening, err := p.openingBalance(ctx)
	if err != nil {
		return nil, err
	}
	income, err := p.expectedIncome(ctx, w, span)
	if err != nil {
		return nil, err
	}
	planned, err := p.plannedExpenses(ctx, w, span)
	if err != nil {
		return nil, err
	}
	actual, err := p.actualExpenses(ctx, span)
	if err != nil {
		return nil, err
	}

	result := make([]MonthlyForecast, 0, w.months)
	month := w.start
	for i := 0; i < w.months; i++ {
		f := MonthlyForecast{
			Month:           month,
			OpeningBalance:  opening,
			ExpectedIncome:  sumOr(income, month),
			PlannedExpenses: sumOr(planned, month),
			ActualExpenses:  sumOr(actual, month),
		}
		f.ClosingBalance = f.OpeningBalance.Add(f.ExpectedIncome).Sub(f.PlannedExpenses)
		f.Status = StatusPositive
		if f.ClosingBalance.IsNegative() {
			f.Status = StatusCritical
		}
		result = append(result, f)

		opening = f.ClosingBalance
		month = month.Next()
	}
	return result, nil
}

func sumOr(m map[ledger.Month]decimal.Decimal, k ledger.Month) decimal.Decimal {
	if v, ok := m[k]; ok {
		return v
	}
	return decimal.Zero
}

func (p *Projector) openingBalance(ctx context.Context) (decimal.Decimal, error) {
	accounts, err := p.Store.ListAccounts(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list accounts: %w", err)
	}
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}
	return total, nil
}

// =============================================================================
// INCOME
// =============================================================================

var openStatuses = []ledger.DealStatus{
	ledger.StatusDeposit,
	ledger.StatusRegistration,
	ledger.StatusWaitingInvoice,
	ledger.StatusWaitingPayment,
}

func (p *Projector) expectedIncome(ctx context.Context, w window, span ledger.Period) (map[ledger.Month]decimal.Decimal, error) {
	income := make(map[ledger.Month]decimal.Decimal)

	if w.historical {
		closed, err := p.Store.ListDeals(ctx, ledger.DealFilter{
			Statuses: []ledger.DealStatus{ledger.StatusClosed},
			DealDate: &span,
		})
		if err != nil {
			return nil, fmt.Errorf("list closed deals: %w", err)
		}
		for _, d := range closed {
			m := ledger.MonthOf(*d.DealDate)
			income[m] = sumOr(income, m).Add(d.NetProfit)
		}
		return income, nil
	}

	open, err := p.Store.ListDeals(ctx, ledger.DealFilter{Statuses: openStatuses})
	if err != nil {
		return nil, fmt.Errorf("list open deals: %w", err)
	}
	for _, d := range open {
		income[w.start] = sumOr(income, w.start).Add(d.NetProfit)
	}

	unrealized := false
	rows, err := p.Store.ListCashFlows(ctx, ledger.CashFlowFilter{
		Type:        ledger.FlowIncome,
		Realized:    &unrealized,
		PlannedDate: &span,
	})
	if err != nil {
		return nil, fmt.Errorf("list planned income: %w", err)
	}
	for _, c := range rows {
		m := ledger.MonthOf(c.PlannedDate)
		income[m] = sumOr(income, m).Add(c.Amount)
	}
	return income, nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (p *Projector) plannedExpenses(ctx context.Context, w window, span ledger.Period) (map[ledger.Month]decimal.Decimal, error) {
	planned := make(map[ledger.Month]decimal.Decimal)

	oneOff, recurring := false, true
	unrealized := false
	rows, err := p.Store.ListCashFlows(ctx, ledger.CashFlowFilter{
		Type:        ledger.FlowExpense,
		Status:      ledger.FlowPlanned,
		Recurring:   &oneOff,
		Realized:    &unrealized,
		PlannedDate: &span,
	})
	if err != nil {
		return nil, fmt.Errorf("list planned expenses: %w", err)
	}
	for _, c := range rows {
		if ledger.IsPayrollCategory(c.Category) {
			continue
		}
		m := ledger.MonthOf(c.PlannedDate)
		planned[m] = sumOr(planned, m).Add(c.Amount)
	}

	templates, err := p.Store.ListCashFlows(ctx, ledger.CashFlowFilter{
		Type:      ledger.FlowExpense,
		Recurring: &recurring,
	})
	if err != nil {
		return nil, fmt.Errorf("list recurring expenses: %w", err)
	}
	byCategory := make(map[string][]ledger.CashFlow)
	for _, c := range templates {
		if ledger.IsPayrollCategory(c.Category) {
			continue
		}
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}
	if len(byCategory) == 0 {
		return planned, nil
	}

	paid, err := p.paidCategories(ctx, span)
	if err != nil {
		return nil, err
	}

	for category, rows := range byCategory {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].PlannedDate.Before(rows[j].PlannedDate)
		})
		month := w.start
		for i := 0; i < w.months; i++ {
			if t := latestStarted(rows, month); t != nil && !paid[paidKey{category, month}] {
				planned[month] = sumOr(planned, month).Add(t.Amount)
			}
			month = month.Next()
		}
	}
	return planned, nil
}

type paidKey struct {
	category string
	month    ledger.Month
}

// paidCategories marks which categories already have a PAID expense with
// an actual date in each month.
func (p *Projector) paidCategories(ctx context.Context, span ledger.Period) (map[paidKey]bool, error) {
	rows, err := p.Store.ListCashFlows(ctx, ledger.CashFlowFilter{
		Type:       ledger.FlowExpense,
		Status:     ledger.FlowPaid,
		ActualDate: &span,
	})
	if err != nil {
		return nil, fmt.Errorf("list paid expenses: %w", err)
	}
	paid := make(map[paidKey]bool)
	for _, c := range rows {
		paid[paidKey{c.Category, ledger.MonthOf(*c.ActualDate)}] = true
	}
	return paid, nil
}

// latestStarted returns the last template planned on or before the end of
// month. rows are sorted by PlannedDate.
func latestStarted(rows []ledger.CashFlow, month ledger.Month) *ledger.CashFlow {
	var found *ledger.CashFlow
	end := month.End()
	for i := range rows {
		if rows[i].PlannedDate.After(end) {
			break
		}
		found = &rows[i]
	}
	return found
}

func (p *Projector) actualExpenses(ctx context.Context, span ledger.Period) (map[ledger.Month]decimal.Decimal, error) {
	rows, err := p.Store.ListCashFlows(ctx, ledger.CashFlowFilter{
		Type:       ledger.FlowExpense,
		Status:     ledger.FlowPaid,
		ActualDate: &span,
	})
	if err != nil {
		return nil, fmt.Errorf("list actual expenses: %w", err)
	}
	actual := make(map[ledger.Month]decimal.Decimal)
	for _, c := range rows {
		if ledger.IsPayrollCategory(c.Category) {
			continue
		}
		m := ledger.MonthOf(*c.ActualDate)
		actual[m] = sumOr(actual, m).Add(c.Amount)
	}
	return actual, nil
}
