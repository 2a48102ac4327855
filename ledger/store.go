/*
store.go - Persistence interfaces for the commission engine

PURPOSE:
  Defines the boundary between domain logic and the database. Components
  receive a TxStore explicitly (no global client) and run every multi-row
  mutation inside WithTx.

KEY INTERFACES:
  EmployeeStore, RateStore, DealStore, AccrualStore, PaymentStore,
  AccountStore, CashFlowStore: one per entity
  Store:   All of the above
  TxStore: Store + WithTx for atomic units of work

GET SEMANTICS:
  Get* methods return (nil, nil) when the row does not exist. Callers turn
  that into a NotFoundError with the context they have.

BALANCE UPDATES:
  AdjustAccountBalance MUST be atomic against concurrent writers. Postgres
  increments in SQL (balance = balance + $1). SQLite keeps decimals as
  text, so it reads and writes inside one transaction on its single
  connection.

CASCADES:
  DeleteDeal removes the deal's accruals and their payments.
  DeleteAccrual removes the accrual's payments.
  Cash-flow rows created by payments are kept: the money actually moved.
  A cash-flow row that still backs a payment cannot be edited or deleted;
  cashflow.Reconciler checks PaymentByCashFlow first.

IMPLEMENTATIONS:
  - ledger/store/memory.go:      In-memory for tests
  - store/sqlite/sqlite.go:      SQLite (default)
  - store/postgres/postgres.go:  PostgreSQL via pgx
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTITY STORES
// =============================================================================

type EmployeeStore interface {
	// SaveEmployee inserts or replaces an employee.
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

type RateStore interface {
	// AddRate inserts an immutable rate row. Returns ErrDuplicateEffectiveDate
	// if (employee, role, effective date) already exists.
	AddRate(ctx context.Context, r CommissionRate) error

	// ListRates returns the history ordered by EffectiveDate, then insertion.
	ListRates(ctx context.Context, employeeID string, role Role) ([]CommissionRate, error)
}

// DealFilter narrows ListDeals. Zero values match everything.
type DealFilter struct {
	Statuses   []DealStatus
	EmployeeID string  // agent or ROP
	DealDate   *Period // only deals with a DealDate in range
	Deposit    *Period // only deals with a DepositDate in range
}

type DealStore interface {
	// SaveDeal inserts or replaces a deal.
	SaveDeal(ctx context.Context, d Deal) error
	GetDeal(ctx context.Context, id string) (*Deal, error)
	ListDeals(ctx context.Context, f DealFilter) ([]Deal, error)
	// DeleteDeal removes the deal and cascades to accruals and payments.
	DeleteDeal(ctx context.Context, id string) error
}

// AccrualFilter narrows ListAccruals. Zero values match everything.
type AccrualFilter struct {
	DealID     string
	EmployeeID string
	AccruedAt  *Period
}

type AccrualStore interface {
	// UpsertAccrual inserts or updates by (DealID, EmployeeID, Role) and
	// returns the stored row. An existing row keeps its ID and CreatedAt.
	UpsertAccrual(ctx context.Context, a PayrollAccrual) (PayrollAccrual, error)
	GetAccrual(ctx context.Context, id string) (*PayrollAccrual, error)
	// LockAccrual reads the accrual and holds a row lock until the enclosing
	// transaction ends. Stores without row locks serialize writers instead.
	LockAccrual(ctx context.Context, id string) (*PayrollAccrual, error)
	ListAccruals(ctx context.Context, f AccrualFilter) ([]PayrollAccrual, error)
	// DeleteAccrual removes the accrual and its payments.
	DeleteAccrual(ctx context.Context, id string) error
}

type PaymentStore interface {
	AddPayment(ctx context.Context, p PayrollPayment) error
	ListPayments(ctx context.Context, accrualID string) ([]PayrollPayment, error)
	// PaidTotal sums the payments made against an accrual.
	PaidTotal(ctx context.Context, accrualID string) (decimal.Decimal, error)
	// PaymentByCashFlow returns the payment whose payout row is cashFlowID,
	// or (nil, nil) if the row backs no payment.
	PaymentByCashFlow(ctx context.Context, cashFlowID string) (*PayrollPayment, error)
}

type AccountStore interface {
	// SaveAccount inserts or replaces an account including its seed balance.
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	// AdjustAccountBalance atomically adds delta to the balance. Returns
	// ErrNotFound if the account does not exist.
	AdjustAccountBalance(ctx context.Context, id string, delta decimal.Decimal) error
}

// CashFlowFilter narrows ListCashFlows. Zero values match everything.
type CashFlowFilter struct {
	Type        FlowType
	Status      FlowStatus
	AccountID   string
	Category    string
	Recurring   *bool
	Realized    *bool   // ActualDate set / not set
	PlannedDate *Period // PlannedDate in range
	ActualDate  *Period // ActualDate in range (implies realized)
}

type CashFlowStore interface {
	// SaveCashFlow inserts or replaces a cash-flow row. It never touches
	// account balances; see cashflow.Post.
	SaveCashFlow(ctx context.Context, c CashFlow) error
	GetCashFlow(ctx context.Context, id string) (*CashFlow, error)
	ListCashFlows(ctx context.Context, f CashFlowFilter) ([]CashFlow, error)
	DeleteCashFlow(ctx context.Context, id string) error
}

// =============================================================================
// STORE
// =============================================================================

// Store is the full repository surface used by the engine.
type Store interface {
	EmployeeStore
	RateStore
	DealStore
	AccrualStore
	PaymentStore
	AccountStore
	CashFlowStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTER MATCHING - Shared by stores that filter in Go
// =============================================================================

// Match reports whether d passes the filter.
func (f DealFilter) Match(d Deal) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if d.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.EmployeeID != "" && d.AgentID != f.EmployeeID && d.AssigneeFor(RoleROP) != f.EmployeeID {
		return false
	}
	if f.DealDate != nil && (d.DealDate == nil || !f.DealDate.Contains(*d.DealDate)) {
		return false
	}
	if f.Deposit != nil && (d.DepositDate == nil || !f.Deposit.Contains(*d.DepositDate)) {
		return false
	}
	return true
}

func (f AccrualFilter) Match(a PayrollAccrual) bool {
	if f.DealID != "" && a.DealID != f.DealID {
		return false
	}
	if f.EmployeeID != "" && a.EmployeeID != f.EmployeeID {
		return false
	}
	if f.AccruedAt != nil && !f.AccruedAt.Contains(a.AccruedAt) {
		return false
	}
	return true
}

func (f CashFlowFilter) Match(c CashFlow) bool {
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.AccountID != "" && c.Account() != f.AccountID {
		return false
	}
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if f.Recurring != nil && c.IsRecurring != *f.Recurring {
		return false
	}
	if f.Realized != nil && c.IsRealized() != *f.Realized {
		return false
	}
	if f.PlannedDate != nil && !f.PlannedDate.Contains(c.PlannedDate) {
		return false
	}
	if f.ActualDate != nil && (c.ActualDate == nil || !f.ActualDate.Contains(*c.ActualDate)) {
		return false
	}
	return true
}
