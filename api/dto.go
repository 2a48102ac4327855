/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in ledger/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND DATES:
  Amounts are decimal strings ("1234.50"), never floats. Dates are
  "YYYY-MM-DD", timestamps RFC 3339.

TYPES:
  Employees:  EmployeeDTO, SaveEmployeeRequest, RateDTO, AddRateRequest
  Deals:      DealDTO (deal.Patch is the request body)
  Payroll:    AccrualDTO, PaymentDTO, PaymentRequest, AnomaliesDTO
  Cash:       AccountDTO, CreateAccountRequest, CashFlowDTO, CreateCashFlowRequest
  Forecast:   ForecastDTO
  Reports:    MonthlyReportDTO, EmployeeReportDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the components, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - deal/patch.go, cashflow/reconciler.go: Patch documents
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/forecast"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/payroll"
	"github.com/warp/commission-ledger/report"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Role          ledger.Role      `json:"role"`
	BaseRateAgent *decimal.Decimal `json:"base_rate_agent"`
	BaseRateROP   *decimal.Decimal `json:"base_rate_rop"`
	ManagerID     *string          `json:"manager_id"`
	Active        bool             `json:"active"`
	CreatedAt     string           `json:"created_at,omitempty"`
}

// SaveEmployeeRequest creates or replaces an employee.
type SaveEmployeeRequest struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Role          ledger.Role      `json:"role"`
	BaseRateAgent *decimal.Decimal `json:"base_rate_agent"`
	BaseRateROP   *decimal.Decimal `json:"base_rate_rop"`
	ManagerID     *string          `json:"manager_id"`
	Active        *bool            `json:"active,omitempty"`
}

// RateDTO is one row of an employee's rate history.
type RateDTO struct {
	ID            string          `json:"id"`
	EmployeeID    string          `json:"employee_id"`
	Role          ledger.Role     `json:"role"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate ledger.Date     `json:"effective_date"`
	CreatedAt     string          `json:"created_at,omitempty"`
}

// AddRateRequest appends a rate to an employee's history.
type AddRateRequest struct {
	Role          ledger.Role     `json:"role"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate ledger.Date     `json:"effective_date"`
}

// =============================================================================
// DEALS
// =============================================================================

// DealDTO represents a deal with its derived split.
type DealDTO struct {
	ID          string            `json:"id"`
	Client      string            `json:"client"`
	Object      string            `json:"object"`
	Price       decimal.Decimal   `json:"price"`
	Commission  decimal.Decimal   `json:"commission"`
	AgentID     string            `json:"agent_id"`
	ROPID       *string           `json:"rop_id"`
	Status      ledger.DealStatus `json:"status"`
	DepositDate *ledger.Date      `json:"deposit_date"`
	DealDate    *ledger.Date      `json:"deal_date"`

	BrokerExpense    decimal.Decimal `json:"broker_expense"`
	LawyerExpense    decimal.Decimal `json:"lawyer_expense"`
	ReferralExpense  decimal.Decimal `json:"referral_expense"`
	OtherExpense     decimal.Decimal `json:"other_expense"`
	ExternalExpenses decimal.Decimal `json:"external_expenses"`
	TaxRate          decimal.Decimal `json:"tax_rate"`

	AgentRate *decimal.Decimal `json:"agent_rate"`
	ROPRate   *decimal.Decimal `json:"rop_rate"`

	CommissionsManual bool            `json:"commissions_manual"`
	AgentRateApplied  decimal.Decimal `json:"agent_rate_applied"`
	ROPRateApplied    decimal.Decimal `json:"rop_rate_applied"`
	AgentCommission   decimal.Decimal `json:"agent_commission"`
	ROPCommission     decimal.Decimal `json:"rop_commission"`
	NetProfit         decimal.Decimal `json:"net_profit"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// RecalculateResponse reports a bulk recalculation.
type RecalculateResponse struct {
	Updated int `json:"updated"`
}

// =============================================================================
// PAYROLL
// =============================================================================

// AccrualDTO is an accrual with its payment position.
type AccrualDTO struct {
	ID              string          `json:"id"`
	DealID          string          `json:"deal_id"`
	EmployeeID      string          `json:"employee_id"`
	Role            ledger.Role     `json:"role"`
	Amount          decimal.Decimal `json:"amount"`
	Paid            decimal.Decimal `json:"paid"`
	Remaining       decimal.Decimal `json:"remaining"`
	AccruedAt       ledger.Date     `json:"accrued_at"`
	CurrentAssignee string          `json:"current_assignee"`
	Orphaned        bool            `json:"orphaned"`
	Overpaid        bool            `json:"overpaid"`
}

// PaymentDTO is one payment against an accrual.
type PaymentDTO struct {
	ID         string          `json:"id"`
	AccrualID  string          `json:"accrual_id"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAt     ledger.Date     `json:"paid_at"`
	AccountID  string          `json:"account_id"`
	CashFlowID string          `json:"cash_flow_id"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

// PaymentRequest pays part or all of an accrual.
type PaymentRequest struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAt      *ledger.Date    `json:"paid_at,omitempty"`
	Description string          `json:"description,omitempty"`
}

// AnomaliesDTO lists accruals that need operator attention.
type AnomaliesDTO struct {
	Orphaned []AccrualDTO `json:"orphaned"`
	Overpaid []AccrualDTO `json:"overpaid"`
}

// =============================================================================
// CASH
// =============================================================================

// AccountDTO represents a money account.
type AccountDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// CreateAccountRequest opens an account with a seed balance.
type CreateAccountRequest struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

// CashFlowDTO represents one money movement.
type CashFlowDTO struct {
	ID          string            `json:"id"`
	Type        ledger.FlowType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Status      ledger.FlowStatus `json:"status"`
	PlannedDate ledger.Date       `json:"planned_date"`
	ActualDate  *ledger.Date      `json:"actual_date"`
	AccountID   *string           `json:"account_id"`
	IsRecurring bool              `json:"is_recurring"`
	DealID      *string           `json:"deal_id"`
	CreatedAt   string            `json:"created_at,omitempty"`
}

// CreateCashFlowRequest creates a cash-flow row.
type CreateCashFlowRequest struct {
	Type        ledger.FlowType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Status      ledger.FlowStatus `json:"status"`
	PlannedDate ledger.Date       `json:"planned_date"`
	ActualDate  *ledger.Date      `json:"actual_date"`
	AccountID   *string           `json:"account_id"`
	IsRecurring bool              `json:"is_recurring"`
	DealID      *string           `json:"deal_id"`
}

// =============================================================================
// FORECAST AND REPORTS
// =============================================================================

// ForecastDTO is one projected month.
type ForecastDTO struct {
	Month           string          `json:"month"`
	OpeningBalance  decimal.Decimal `json:"opening_balance"`
	ExpectedIncome  decimal.Decimal `json:"expected_income"`
	PlannedExpenses decimal.Decimal `json:"planned_expenses"`
	ActualExpenses  decimal.Decimal `json:"actual_expenses"`
	ClosingBalance  decimal.Decimal `json:"closing_balance"`
	Status          forecast.Status `json:"status"`
}

// MonthlyReportDTO is one month of the revenue report.
type MonthlyReportDTO struct {
	Month          string          `json:"month"`
	BookingRevenue decimal.Decimal `json:"booking_revenue"`
	DealRevenue    decimal.Decimal `json:"deal_revenue"`
	Commission     decimal.Decimal `json:"commission"`
	Margin         decimal.Decimal `json:"margin"`
	ClosedDeals    int             `json:"closed_deals"`
}

// EmployeeReportDTO is one employee's totals for a period.
type EmployeeReportDTO struct {
	EmployeeID      string          `json:"employee_id"`
	Name            string          `json:"name"`
	ClosedDeals     int             `json:"closed_deals"`
	DealRevenue     decimal.Decimal `json:"deal_revenue"`
	AgentCommission decimal.Decimal `json:"agent_commission"`
	ROPCommission   decimal.Decimal `json:"rop_commission"`
	Accrued         decimal.Decimal `json:"accrued"`
	Paid            decimal.Decimal `json:"paid"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// MaintenanceStatusDTO reports the background scan.
type MaintenanceStatusDTO struct {
	Enabled  bool          `json:"enabled"`
	Interval string        `json:"interval"`
	LastRun  string        `json:"last_run,omitempty"`
	NextRun  string        `json:"next_run,omitempty"`
	Runs     int           `json:"runs"`
	Last     *AnomaliesDTO `json:"last,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toEmployeeDTO(e ledger.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:            e.ID,
		Name:          e.Name,
		Role:          e.Role,
		BaseRateAgent: e.BaseRateAgent,
		BaseRateROP:   e.BaseRateROP,
		ManagerID:     e.ManagerID,
		Active:        e.Active,
		CreatedAt:     formatTime(e.CreatedAt),
	}
}

func toRateDTO(r ledger.CommissionRate) RateDTO {
	return RateDTO{
		ID:            r.ID,
		EmployeeID:    r.EmployeeID,
		Role:          r.Role,
		Rate:          r.Rate,
		EffectiveDate: r.EffectiveDate,
		CreatedAt:     formatTime(r.CreatedAt),
	}
}

func toDealDTO(d ledger.Deal) DealDTO {
	return DealDTO{
		ID:                d.ID,
		Client:            d.Client,
		Object:            d.Object,
		Price:             d.Price,
		Commission:        d.Commission,
		AgentID:           d.AgentID,
		ROPID:             d.ROPID,
		Status:            d.Status,
		DepositDate:       d.DepositDate,
		DealDate:          d.DealDate,
		BrokerExpense:     d.BrokerExpense,
		LawyerExpense:     d.LawyerExpense,
		ReferralExpense:   d.ReferralExpense,
		OtherExpense:      d.OtherExpense,
		ExternalExpenses:  d.ExternalExpenses,
		TaxRate:           d.TaxRate,
		AgentRate:         d.AgentRateOverride,
		ROPRate:           d.ROPRateOverride,
		CommissionsManual: d.CommissionsManual,
		AgentRateApplied:  d.AgentRateApplied,
		ROPRateApplied:    d.ROPRateApplied,
		AgentCommission:   d.AgentCommission,
		ROPCommission:     d.ROPCommission,
		NetProfit:         d.NetProfit,
		CreatedAt:         formatTime(d.CreatedAt),
		UpdatedAt:         formatTime(d.UpdatedAt),
	}
}

func toAccrualDTO(s payroll.AccrualSummary) AccrualDTO {
	return AccrualDTO{
		ID:              s.ID,
		DealID:          s.DealID,
		EmployeeID:      s.EmployeeID,
		Role:            s.Role,
		Amount:          s.Amount,
		Paid:            s.Paid,
		Remaining:       s.Remaining,
		AccruedAt:       s.AccruedAt,
		CurrentAssignee: s.CurrentAssignee,
		Orphaned:        s.Orphaned,
		Overpaid:        s.Overpaid,
	}
}

func toAccrualDTOs(summaries []payroll.AccrualSummary) []AccrualDTO {
	result := make([]AccrualDTO, len(summaries))
	for i, s := range summaries {
		result[i] = toAccrualDTO(s)
	}
	return result
}

func toAnomaliesDTO(a payroll.Anomalies) AnomaliesDTO {
	return AnomaliesDTO{
		Orphaned: toAccrualDTOs(a.Orphaned),
		Overpaid: toAccrualDTOs(a.Overpaid),
	}
}

func toPaymentDTO(p ledger.PayrollPayment) PaymentDTO {
	return PaymentDTO{
		ID:         p.ID,
		AccrualID:  p.AccrualID,
		Amount:     p.Amount,
		PaidAt:     p.PaidAt,
		AccountID:  p.AccountID,
		CashFlowID: p.CashFlowID,
		CreatedAt:  formatTime(p.CreatedAt),
	}
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:        a.ID,
		Name:      a.Name,
		Type:      a.Type,
		Balance:   a.Balance,
		CreatedAt: formatTime(a.CreatedAt),
	}
}

func toCashFlowDTO(c ledger.CashFlow) CashFlowDTO {
	return CashFlowDTO{
		ID:          c.ID,
		Type:        c.Type,
		Amount:      c.Amount,
		Category:    c.Category,
		Description: c.Description,
		Status:      c.Status,
		PlannedDate: c.PlannedDate,
		ActualDate:  c.ActualDate,
		AccountID:   c.AccountID,
		IsRecurring: c.IsRecurring,
		DealID:      c.DealID,
		CreatedAt:   formatTime(c.CreatedAt),
	}
}

func (r CreateCashFlowRequest) toCashFlow() ledger.CashFlow {
	return ledger.CashFlow{
		Type:        r.Type,
		Amount:      r.Amount,
		Category:    r.Category,
		Description: r.Description,
		Status:      r.Status,
		PlannedDate: r.PlannedDate,
		ActualDate:  r.ActualDate,
		AccountID:   r.AccountID,
		IsRecurring: r.IsRecurring,
		DealID:      r.DealID,
	}
}

func toForecastDTO(m forecast.MonthlyForecast) ForecastDTO {
	return ForecastDTO{
		Month:           m.Month.String(),
		OpeningBalance:  m.OpeningBalance,
		ExpectedIncome:  m.ExpectedIncome,
		PlannedExpenses: m.PlannedExpenses,
		ActualExpenses:  m.ActualExpenses,
		ClosingBalance:  m.ClosingBalance,
		Status:          m.Status,
	}
}

func toMonthlyReportDTO(r report.MonthlyRow) MonthlyReportDTO {
	return MonthlyReportDTO{
		Month:          r.Month.String(),
		BookingRevenue: r.BookingRevenue,
		DealRevenue:    r.DealRevenue,
		Commission:     r.Commission,
		Margin:         r.Margin,
		ClosedDeals:    r.ClosedDeals,
	}
}

func toEmployeeReportDTO(r report.EmployeeRow) EmployeeReportDTO {
	return EmployeeReportDTO{
		EmployeeID:      r.EmployeeID,
		Name:            r.Name,
		ClosedDeals:     r.ClosedDeals,
		DealRevenue:     r.DealRevenue,
		AgentCommission: r.AgentCommission,
		ROPCommission:   r.ROPCommission,
		Accrued:         r.Accrued,
		Paid:            r.Paid,
	}
}
