/*
Package ledger provides the domain model shared by every component of the
commission engine.

PURPOSE:
  Deals, employees, commission rate history, payroll accruals and payments,
  cash accounts and cash-flow rows. Components (commission, deal, payroll,
  cashflow, forecast, report) operate on these types through the Store
  interfaces in store.go and never on a concrete database.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee:        Agent or manager (ROP) with optional base rates
  - CommissionRate:  Immutable, date-effective rate history row
  - Deal:            Sale with gross commission, expenses and derived split
  - PayrollAccrual:  Commission owed to one employee for one deal and role
  - PayrollPayment:  Partial or full settlement of an accrual
  - Account:         Cash account with a materialized running balance
  - CashFlow:        Planned or realized money movement

DESIGN PRINCIPLES:
  1. Precision: all money and percentages are decimal.Decimal
  2. Percentages are plain numbers in [0,100], never fractions
  3. Dates are calendar days (see time.go), bucketed by calendar month
  4. Account.Balance is maintained by deltas, never recomputed

SEE ALSO:
  - store.go:  Persistence interfaces
  - errors.go: Error taxonomy
  - field.go:  Three-state partial update fields
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEpsilon is the tolerance applied when comparing payments against
// the remaining amount of an accrual.
var PaymentEpsilon = decimal.New(1, -2)

// Hundred is the divisor for percentage values.
var Hundred = decimal.NewFromInt(100)

// =============================================================================
// ROLES
// =============================================================================

// Role is both an employee's position and a commission type.
type Role string

const (
	RoleAgent Role = "AGENT"
	RoleROP   Role = "ROP" // head of sales, takes the manager share
	RoleOther Role = "OTHER"
)

// IsCommissionRole reports whether commission can be rated and accrued for r.
func (r Role) IsCommissionRole() bool {
	return r == RoleAgent || r == RoleROP
}

func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleROP || r == RoleOther
}

// =============================================================================
// EMPLOYEE
// =============================================================================

type Employee struct {
	ID            string
	Name          string
	Role          Role
	BaseRateAgent *decimal.Decimal
	BaseRateROP   *decimal.Decimal
	ManagerID     *string // one level only
	Active        bool
	CreatedAt     time.Time
}

// BaseRate returns the employee's fallback rate for the given commission role.
func (e Employee) BaseRate(role Role) *decimal.Decimal {
	switch role {
	case RoleAgent:
		return e.BaseRateAgent
	case RoleROP:
		return e.BaseRateROP
	default:
		return nil
	}
}

// =============================================================================
// COMMISSION RATE HISTORY
// =============================================================================

// CommissionRate is one row of an employee's rate history. Rows are never
// updated; a new rate takes effect by inserting a later EffectiveDate.
type CommissionRate struct {
	ID            string
	EmployeeID    string
	Role          Role
	Rate          decimal.Decimal
	EffectiveDate Date
	CreatedAt     time.Time
}

// =============================================================================
// DEAL
// =============================================================================

type DealStatus string

const (
	StatusDeposit        DealStatus = "DEPOSIT"
	StatusRegistration   DealStatus = "REGISTRATION"
	StatusWaitingInvoice DealStatus = "WAITING_INVOICE"
	StatusWaitingPayment DealStatus = "WAITING_PAYMENT"
	StatusClosed         DealStatus = "CLOSED"
	StatusCancelled      DealStatus = "CANCELLED"
)

func (s DealStatus) Valid() bool {
	switch s {
	case StatusDeposit, StatusRegistration, StatusWaitingInvoice,
		StatusWaitingPayment, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further lifecycle step is expected.
func (s DealStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Deal is a single brokerage sale.
//
// When CommissionsManual is false the five derived fields (AgentRateApplied,
// ROPRateApplied, AgentCommission, ROPCommission, NetProfit) always equal the
// waterfall output for the current inputs. When true they are operator-entered.
type Deal struct {
	ID          string
	Client      string
	Object      string
	Price       decimal.Decimal
	Commission  decimal.Decimal // gross
	AgentID     string
	ROPID       *string
	Status      DealStatus
	DepositDate *Date
	DealDate    *Date

	BrokerExpense    decimal.Decimal
	LawyerExpense    decimal.Decimal
	ReferralExpense  decimal.Decimal
	OtherExpense     decimal.Decimal
	ExternalExpenses decimal.Decimal // legacy aggregate
	TaxRate          decimal.Decimal

	// Explicit rate overrides. When set they win over rate history and base
	// rates on every recalculation until cleared.
	AgentRateOverride *decimal.Decimal
	ROPRateOverride   *decimal.Decimal

	CommissionsManual bool
	AgentRateApplied  decimal.Decimal
	ROPRateApplied    decimal.Decimal
	AgentCommission   decimal.Decimal
	ROPCommission     decimal.Decimal
	NetProfit         decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssigneeFor returns the employee currently holding the given role on the
// deal, or "" if none.
func (d Deal) AssigneeFor(role Role) string {
	switch role {
	case RoleAgent:
		return d.AgentID
	case RoleROP:
		if d.ROPID != nil {
			return *d.ROPID
		}
	}
	return ""
}

// CommissionFor returns the derived commission for the given role.
func (d Deal) CommissionFor(role Role) decimal.Decimal {
	switch role {
	case RoleAgent:
		return d.AgentCommission
	case RoleROP:
		return d.ROPCommission
	}
	return decimal.Zero
}

// =============================================================================
// PAYROLL
// =============================================================================

// PayrollAccrual is commission owed to one employee for one deal in one role.
// Unique per (DealID, EmployeeID, Role).
type PayrollAccrual struct {
	ID         string
	DealID     string
	EmployeeID string
	Role       Role
	Amount     decimal.Decimal
	AccruedAt  Date
	CreatedAt  time.Time
}

type PayrollPayment struct {
	ID         string
	AccrualID  string
	Amount     decimal.Decimal
	PaidAt     Date
	AccountID  string
	CashFlowID string
	CreatedAt  time.Time
}

// =============================================================================
// CASH
// =============================================================================

type Account struct {
	ID        string
	Name      string
	Type      string // e.g. "bank", "cash"
	Balance   decimal.Decimal
	CreatedAt time.Time
}

type FlowType string

const (
	FlowIncome  FlowType = "INCOME"
	FlowExpense FlowType = "EXPENSE"
)

func (t FlowType) Valid() bool { return t == FlowIncome || t == FlowExpense }

type FlowStatus string

const (
	FlowPlanned FlowStatus = "PLANNED"
	FlowPaid    FlowStatus = "PAID"
)

func (s FlowStatus) Valid() bool { return s == FlowPlanned || s == FlowPaid }

// Payroll payout categories. Cash flows in these categories are created by
// payment allocation and are already netted into deal net profit.
const (
	CategoryAgentPayout   = "Agent commission payout"
	CategoryManagerPayout = "Manager commission payout"
)

// PayoutCategory returns the cash-flow category for paying out a role.
func PayoutCategory(role Role) string {
	if role == RoleROP {
		return CategoryManagerPayout
	}
	return CategoryAgentPayout
}

// IsPayrollCategory reports whether category holds payroll payouts.
func IsPayrollCategory(category string) bool {
	return category == CategoryAgentPayout || category == CategoryManagerPayout
}

// CashFlow is a single money movement. Amount is unsigned; Type carries the
// direction. A row affects its account's balance only once ActualDate is set.
type CashFlow struct {
	ID          string
	Type        FlowType
	Amount      decimal.Decimal
	Category    string
	Description string
	Status      FlowStatus
	PlannedDate Date
	ActualDate  *Date
	AccountID   *string
	IsRecurring bool
	DealID      *string
	CreatedAt   time.Time
}

// Signed returns +Amount for income and -Amount for expense.
func Signed(t FlowType, amount decimal.Decimal) decimal.Decimal {
	if t == FlowExpense {
		return amount.Neg()
	}
	return amount
}

// IsRealized reports whether the row has actually moved money.
func (c CashFlow) IsRealized() bool {
	return c.ActualDate != nil
}

// BalanceDelta is the row's contribution to its account balance.
func (c CashFlow) BalanceDelta() decimal.Decimal {
	if c.ActualDate == nil || c.AccountID == nil {
		return decimal.Zero
	}
	return Signed(c.Type, c.Amount)
}

// Account returns the owning account ID or "".
func (c CashFlow) Account() string {
	if c.AccountID == nil {
		return ""
	}
	return *c.AccountID
}
