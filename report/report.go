// Package report builds read-only rollups over persisted deals and payroll.
//
// Every figure comes from the stored, normalized deal fields. Nothing here
// recomputes a waterfall.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

type MonthlyRow struct {
	Month          ledger.Month
	BookingRevenue decimal.Decimal // gross commission by deposit month
	DealRevenue    decimal.Decimal // gross commission of closed deals
	Commission     decimal.Decimal // agent + ROP of closed deals
	Margin         decimal.Decimal // net profit of closed deals
	ClosedDeals    int
}

type EmployeeRow struct {
	EmployeeID      string
	Name            string
	ClosedDeals     int
	DealRevenue     decimal.Decimal
	AgentCommission decimal.Decimal
	ROPCommission   decimal.Decimal
	Accrued         decimal.Decimal
	Paid            decimal.Decimal
}

type Reporter struct {
	Store ledger.Store
}

func NewReporter(store ledger.Store) *Reporter {
	return &Reporter{Store: store}
}

// Monthly returns twelve rows, January to December of year.
func (r *Reporter) Monthly(ctx context.Context, year int) ([]MonthlyRow, error) {
	span := ledger.YearPeriod(year)

	rows := make([]MonthlyRow, 12)
	index := make(map[ledger.Month]*MonthlyRow, 12)
	for i := range rows {
		rows[i] = MonthlyRow{
			Month:          ledger.Month{Year: year, Month: time.Month(i + 1)},
			BookingRevenue: decimal.Zero,
			DealRevenue:    decimal.Zero,
			Commission:     decimal.Zero,
			Margin:         decimal.Zero,
		}
		index[rows[i].Month] = &rows[i]
	}

	booked, err := r.Store.ListDeals(ctx, ledger.DealFilter{Deposit: &span})
	if err != nil {
		return nil, fmt.Errorf("list booked deals: %w", err)
	}
	for _, d := range booked {
		if d.Status == ledger.StatusCancelled {
			continue
		}
		row := index[ledger.MonthOf(*d.DepositDate)]
		row.BookingRevenue = row.BookingRevenue.Add(d.Commission)
	}

	closed, err := r.Store.ListDeals(ctx, ledger.DealFilter{
		Statuses: []ledger.DealStatus{ledger.StatusClosed},
		DealDate: &span,
	})
	if err != nil {
		return nil, fmt.Errorf("list closed deals: %w", err)
	}
	for _, d := range closed {
		row := index[ledger.MonthOf(*d.DealDate)]
		row.DealRevenue = row.DealRevenue.Add(d.Commission)
		row.Commission = row.Commission.Add(d.AgentCommission).Add(d.ROPCommission)
		row.Margin = row.Margin.Add(d.NetProfit)
		row.ClosedDeals++
	}

	return rows, nil
}

// ByEmployee rolls up closed deals, accruals and payments dated within
// period, one row per employee that has any activity. Rows are ordered by
// name.
func (r *Reporter) ByEmployee(ctx context.Context, period ledger.Period) ([]EmployeeRow, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	employees, err := r.Store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	rows := make(map[string]*EmployeeRow, len(employees))
	row := func(id string) *EmployeeRow {
		if er, ok := rows[id]; ok {
			return er
		}
		er := &EmployeeRow{
			EmployeeID:      id,
			DealRevenue:     decimal.Zero,
			AgentCommission: decimal.Zero,
			ROPCommission:   decimal.Zero,
			Accrued:         decimal.Zero,
			Paid:            decimal.Zero,
		}
		rows[id] = er
		return er
	}

	closed, err := r.Store.ListDeals(ctx, ledger.DealFilter{
		Statuses: []ledger.DealStatus{ledger.StatusClosed},
		DealDate: &period,
	})
	if err != nil {
		return nil, fmt.Errorf("list closed deals: %w", err)
	}
	for _, d := range closed {
		if d.AgentID != "" {
			agent := row(d.AgentID)
			agent.ClosedDeals++
			agent.DealRevenue = agent.DealRevenue.Add(d.Commission)
			agent.AgentCommission = agent.AgentCommission.Add(d.AgentCommission)
		}
		if d.ROPID != nil {
			rop := row(*d.ROPID)
			rop.ROPCommission = rop.ROPCommission.Add(d.ROPCommission)
		}
	}

	accruals, err := r.Store.ListAccruals(ctx, ledger.AccrualFilter{})
	if err != nil {
		return nil, fmt.Errorf("list accruals: %w", err)
	}
	for _, a := range accruals {
		if period.Contains(a.AccruedAt) {
			er := row(a.EmployeeID)
			er.Accrued = er.Accrued.Add(a.Amount)
		}
		payments, err := r.Store.ListPayments(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("list payments for %s: %w", a.ID, err)
		}
		for _, p := range payments {
			if period.Contains(p.PaidAt) {
				er := row(a.EmployeeID)
				er.Paid = er.Paid.Add(p.Amount)
			}
		}
	}

	for _, e := range employees {
		if er, ok := rows[e.ID]; ok {
			er.Name = e.Name
		}
	}

	result := make([]EmployeeRow, 0, len(rows))
	for _, er := range rows {
		result = append(result, *er)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].EmployeeID < result[j].EmployeeID
	})
	return result, nil
}
