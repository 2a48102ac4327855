/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Default persistence for a single-node deployment. The same schema runs
  on PostgreSQL (store/postgres) with dialect changes only.

KEY TABLES:
  employees:         Staff and their base rates
  commission_rates:  Immutable rate history, unique per (employee, role, date)
  deals:             Deal inputs and persisted derived commission fields
  payroll_accruals:  One per (deal, employee, role); cascades from deals
  payroll_payments:  Payments against accruals; cascades from accruals
  accounts:          Cash accounts with their running balance
  cash_flows:        Planned and realized money movements

STORAGE FORMATS:
  Money and percentages are TEXT holding the exact decimal string.
  Calendar dates are TEXT "YYYY-MM-DD". Timestamps are RFC3339 TEXT.

CONCURRENCY:
  The pool is capped at one connection. Every statement and every WithTx
  is serialized on it, which also makes ":memory:" databases usable.
  Inside WithTx, callers MUST use the Store handed to fn; touching the
  outer Store from inside fn would wait on the connection forever.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Better crash recovery
  - Readers in other processes don't block the writer

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store over either the pool or a transaction.
type queries struct {
	db dbtx
}

// Store implements ledger.TxStore using SQLite.
type Store struct {
	*queries
	conn *sql.DB
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*queries)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{db: db}, conn: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		base_rate_agent TEXT,
		base_rate_rop TEXT,
		manager_id TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Rate history is append-only
	CREATE TABLE IF NOT EXISTS commission_rates (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		role TEXT NOT NULL,
		rate TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (employee_id, role, effective_date)
	);

	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		client TEXT NOT NULL DEFAULT '',
		object TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '0',
		commission TEXT NOT NULL DEFAULT '0',
		agent_id TEXT NOT NULL,
		rop_id TEXT,
		status TEXT NOT NULL,
		deposit_date TEXT,
		deal_date TEXT,
		broker_expense TEXT NOT NULL DEFAULT '0',
		lawyer_expense TEXT NOT NULL DEFAULT '0',
		referral_expense TEXT NOT NULL DEFAULT '0',
		other_expense TEXT NOT NULL DEFAULT '0',
		external_expenses TEXT NOT NULL DEFAULT '0',
		tax_rate TEXT NOT NULL DEFAULT '0',
		agent_rate_override TEXT,
		rop_rate_override TEXT,
		commissions_manual INTEGER NOT NULL DEFAULT 0,
		agent_rate_applied TEXT NOT NULL DEFAULT '0',
		rop_rate_applied TEXT NOT NULL DEFAULT '0',
		agent_commission TEXT NOT NULL DEFAULT '0',
		rop_commission TEXT NOT NULL DEFAULT '0',
		net_profit TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);
	CREATE INDEX IF NOT EXISTS idx_deals_deal_date ON deals(deal_date);

	CREATE TABLE IF NOT EXISTS payroll_accruals (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
		employee_id TEXT NOT NULL,
		role TEXT NOT NULL,
		amount TEXT NOT NULL,
		accrued_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (deal_id, employee_id, role)
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cash_flows (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		planned_date TEXT NOT NULL,
		actual_date TEXT,
		account_id TEXT,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		deal_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cash_flows_planned ON cash_flows(planned_date);
	CREATE INDEX IF NOT EXISTS idx_cash_flows_actual ON cash_flows(actual_date);

	-- Payments keep their history even if the payout cash-flow row is removed
	CREATE TABLE IF NOT EXISTS payroll_payments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		accrual_id TEXT NOT NULL REFERENCES payroll_accruals(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		account_id TEXT NOT NULL,
		cash_flow_id TEXT REFERENCES cash_flows(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_payments_accrual ON payroll_payments(accrual_id);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// AdjustAccountBalance runs the read and the write in one transaction so no
// other statement can interleave on the connection.
func (s *Store) AdjustAccountBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.AdjustAccountBalance(ctx, id, delta)
	})
}

// Reset clears all data. Used by the demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, `
		DELETE FROM payroll_payments;
		DELETE FROM payroll_accruals;
		DELETE FROM cash_flows;
		DELETE FROM accounts;
		DELETE FROM deals;
		DELETE FROM commission_rates;
		DELETE FROM employees;
	`)
	return err
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

const employeeColumns = `id, name, role, base_rate_agent, base_rate_rop, manager_id, active, created_at`

// SaveEmployee saves an employee.
func (q *queries) SaveEmployee(ctx context.Context, e ledger.Employee) error {
	query := `
		INSERT INTO employees (` + employeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			base_rate_agent = excluded.base_rate_agent,
			base_rate_rop = excluded.base_rate_rop,
			manager_id = excluded.manager_id,
			active = excluded.active
	`

	_, err := q.db.ExecContext(ctx, query,
		e.ID, e.Name, string(e.Role),
		nullDecimal(e.BaseRateAgent), nullDecimal(e.BaseRateROP),
		nullStringPtr(e.ManagerID), e.Active,
		formatTime(e.CreatedAt),
	)
	return err
}

// GetEmployee retrieves an employee by ID.
func (q *queries) GetEmployee(ctx context.Context, id string) (*ledger.Employee, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	e, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEmployees returns all employees ordered by name.
func (q *queries) ListEmployees(ctx context.Context) ([]ledger.Employee, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+employeeColumns+" FROM employees ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []ledger.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func scanEmployee(row scanner) (ledger.Employee, error) {
	var e ledger.Employee
	var role, createdAt string
	var agentRate, ropRate decimal.NullDecimal
	var managerID sql.NullString

	if err := row.Scan(&e.ID, &e.Name, &role, &agentRate, &ropRate, &managerID, &e.Active, &createdAt); err != nil {
		return e, err
	}
	e.Role = ledger.Role(role)
	e.BaseRateAgent = decimalPtr(agentRate)
	e.BaseRateROP = decimalPtr(ropRate)
	e.ManagerID = stringPtr(managerID)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// RATE STORE
// =============================================================================

// AddRate inserts an immutable rate row.
func (q *queries) AddRate(ctx context.Context, r ledger.CommissionRate) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO commission_rates (id, employee_id, role, rate, effective_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.EmployeeID, string(r.Role), r.Rate, r.EffectiveDate, formatTime(r.CreatedAt))
	if isUniqueConstraintError(err) {
		return ledger.ErrDuplicateEffectiveDate
	}
	return err
}

// ListRates returns the history ordered by effective date, then insertion.
func (q *queries) ListRates(ctx context.Context, employeeID string, role ledger.Role) ([]ledger.CommissionRate, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, employee_id, role, rate, effective_date, created_at
		FROM commission_rates
		WHERE employee_id = ? AND role = ?
		ORDER BY effective_date, seq
	`, employeeID, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []ledger.CommissionRate
	for rows.Next() {
		var r ledger.CommissionRate
		var roleStr, createdAt string
		if err := rows.Scan(&r.ID, &r.EmployeeID, &roleStr, &r.Rate, &r.EffectiveDate, &createdAt); err != nil {
			return nil, err
		}
		r.Role = ledger.Role(roleStr)
		r.CreatedAt = parseTime(createdAt)
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// =============================================================================
// DEAL STORE
// =============================================================================

const dealColumns = `id, client, object, price, commission, agent_id, rop_id, status,
	deposit_date, deal_date,
	broker_expense, lawyer_expense, referral_expense, other_expense, external_expenses, tax_rate,
	agent_rate_override, rop_rate_override,
	commissions_manual, agent_rate_applied, rop_rate_applied,
	agent_commission, rop_commission, net_profit,
	created_at, updated_at`

// SaveDeal inserts or replaces a deal.
func (q *queries) SaveDeal(ctx context.Context, d ledger.Deal) error {
	query := `
		INSERT INTO deals (` + dealColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client = excluded.client,
			object = excluded.object,
			price = excluded.price,
			commission = excluded.commission,
			agent_id = excluded.agent_id,
			rop_id = excluded.rop_id,
			status = excluded.status,
			deposit_date = excluded.deposit_date,
			deal_date = excluded.deal_date,
			broker_expense = excluded.broker_expense,
			lawyer_expense = excluded.lawyer_expense,
			referral_expense = excluded.referral_expense,
			other_expense = excluded.other_expense,
			external_expenses = excluded.external_expenses,
			tax_rate = excluded.tax_rate,
			agent_rate_override = excluded.agent_rate_override,
			rop_rate_override = excluded.rop_rate_override,
			commissions_manual = excluded.commissions_manual,
			agent_rate_applied = excluded.agent_rate_applied,
			rop_rate_applied = excluded.rop_rate_applied,
			agent_commission = excluded.agent_commission,
			rop_commission = excluded.rop_commission,
			net_profit = excluded.net_profit,
			updated_at = excluded.updated_at
	`

	_, err := q.db.ExecContext(ctx, query,
		d.ID, d.Client, d.Object, d.Price, d.Commission, d.AgentID, nullStringPtr(d.ROPID), string(d.Status),
		nullDate(d.DepositDate), nullDate(d.DealDate),
		d.BrokerExpense, d.LawyerExpense, d.ReferralExpense, d.OtherExpense, d.ExternalExpenses, d.TaxRate,
		nullDecimal(d.AgentRateOverride), nullDecimal(d.ROPRateOverride),
		d.CommissionsManual, d.AgentRateApplied, d.ROPRateApplied,
		d.AgentCommission, d.ROPCommission, d.NetProfit,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	return err
}

// GetDeal retrieves a deal by ID.
func (q *queries) GetDeal(ctx context.Context, id string) (*ledger.Deal, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+dealColumns+" FROM deals WHERE id = ?", id)
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDeals returns deals matching the filter, oldest first.
func (q *queries) ListDeals(ctx context.Context, f ledger.DealFilter) ([]ledger.Deal, error) {
	var w where
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			w.args = append(w.args, string(s))
		}
		w.add("status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.EmployeeID != "" {
		w.add("(agent_id = ? OR rop_id = ?)", f.EmployeeID, f.EmployeeID)
	}
	if f.DealDate != nil {
		w.add("deal_date BETWEEN ? AND ?", f.DealDate.Start, f.DealDate.End)
	}
	if f.Deposit != nil {
		w.add("deposit_date BETWEEN ? AND ?", f.Deposit.Start, f.Deposit.End)
	}

	rows, err := q.db.QueryContext(ctx,
		"SELECT "+dealColumns+" FROM deals"+w.String()+" ORDER BY created_at, id", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []ledger.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// DeleteDeal removes a deal. Accruals and payments cascade.
func (q *queries) DeleteDeal(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM deals WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "deal", id)
}

func scanDeal(row scanner) (ledger.Deal, error) {
	var d ledger.Deal
	var status, createdAt, updatedAt string
	var ropID sql.NullString
	var depositDate, dealDate sql.Null[ledger.Date]
	var agentOverride, ropOverride decimal.NullDecimal

	err := row.Scan(
		&d.ID, &d.Client, &d.Object, &d.Price, &d.Commission, &d.AgentID, &ropID, &status,
		&depositDate, &dealDate,
		&d.BrokerExpense, &d.LawyerExpense, &d.ReferralExpense, &d.OtherExpense, &d.ExternalExpenses, &d.TaxRate,
		&agentOverride, &ropOverride,
		&d.CommissionsManual, &d.AgentRateApplied, &d.ROPRateApplied,
		&d.AgentCommission, &d.ROPCommission, &d.NetProfit,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return d, err
	}
	d.Status = ledger.DealStatus(status)
	d.ROPID = stringPtr(ropID)
	d.DepositDate = datePtr(depositDate)
	d.DealDate = datePtr(dealDate)
	d.AgentRateOverride = decimalPtr(agentOverride)
	d.ROPRateOverride = decimalPtr(ropOverride)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return d, nil
}

// =============================================================================
// ACCRUAL STORE
// =============================================================================

const accrualColumns = `id, deal_id, employee_id, role, amount, accrued_at, created_at`

// UpsertAccrual inserts or updates by (deal, employee, role).
func (q *queries) UpsertAccrual(ctx context.Context, a ledger.PayrollAccrual) (ledger.PayrollAccrual, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payroll_accruals (`+accrualColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deal_id, employee_id, role) DO UPDATE SET
			amount = excluded.amount,
			accrued_at = excluded.accrued_at
	`, a.ID, a.DealID, a.EmployeeID, string(a.Role), a.Amount, a.AccruedAt, formatTime(a.CreatedAt))
	if err != nil {
		return ledger.PayrollAccrual{}, err
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT `+accrualColumns+` FROM payroll_accruals
		WHERE deal_id = ? AND employee_id = ? AND role = ?
	`, a.DealID, a.EmployeeID, string(a.Role))
	return scanAccrual(row)
}

// GetAccrual retrieves an accrual by ID.
func (q *queries) GetAccrual(ctx context.Context, id string) (*ledger.PayrollAccrual, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+accrualColumns+" FROM payroll_accruals WHERE id = ?", id)
	a, err := scanAccrual(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LockAccrual is a plain read; the single connection already serializes
// the enclosing transaction against every other writer.
func (q *queries) LockAccrual(ctx context.Context, id string) (*ledger.PayrollAccrual, error) {
	return q.GetAccrual(ctx, id)
}

// ListAccruals returns accruals matching the filter.
func (q *queries) ListAccruals(ctx context.Context, f ledger.AccrualFilter) ([]ledger.PayrollAccrual, error) {
	var w where
	if f.DealID != "" {
		w.add("deal_id = ?", f.DealID)
	}
	if f.EmployeeID != "" {
		w.add("employee_id = ?", f.EmployeeID)
	}
	if f.AccruedAt != nil {
		w.add("accrued_at BETWEEN ? AND ?", f.AccruedAt.Start, f.AccruedAt.End)
	}

	rows, err := q.db.QueryContext(ctx,
		"SELECT "+accrualColumns+" FROM payroll_accruals"+w.String()+" ORDER BY accrued_at, id", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accruals []ledger.PayrollAccrual
	for rows.Next() {
		a, err := scanAccrual(rows)
		if err != nil {
			return nil, err
		}
		accruals = append(accruals, a)
	}
	return accruals, rows.Err()
}

// DeleteAccrual removes an accrual. Payments cascade.
func (q *queries) DeleteAccrual(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM payroll_accruals WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "accrual", id)
}

func scanAccrual(row scanner) (ledger.PayrollAccrual, error) {
	var a ledger.PayrollAccrual
	var role, createdAt string
	if err := row.Scan(&a.ID, &a.DealID, &a.EmployeeID, &role, &a.Amount, &a.AccruedAt, &createdAt); err != nil {
		return a, err
	}
	a.Role = ledger.Role(role)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

// AddPayment records a payment against an accrual.
func (q *queries) AddPayment(ctx context.Context, p ledger.PayrollPayment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payroll_payments (id, accrual_id, amount, paid_at, account_id, cash_flow_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.AccrualID, p.Amount, p.PaidAt, p.AccountID, nullString(p.CashFlowID), formatTime(p.CreatedAt))
	if isForeignKeyError(err) {
		return ledger.NotFound("accrual", p.AccrualID)
	}
	return err
}

// ListPayments returns the payments of an accrual in insertion order.
func (q *queries) ListPayments(ctx context.Context, accrualID string) ([]ledger.PayrollPayment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, accrual_id, amount, paid_at, account_id, cash_flow_id, created_at
		FROM payroll_payments
		WHERE accrual_id = ?
		ORDER BY seq
	`, accrualID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []ledger.PayrollPayment
	for rows.Next() {
		var p ledger.PayrollPayment
		var cashFlowID sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ID, &p.AccrualID, &p.Amount, &p.PaidAt, &p.AccountID, &cashFlowID, &createdAt); err != nil {
			return nil, err
		}
		p.CashFlowID = cashFlowID.String
		p.CreatedAt = parseTime(createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// PaymentByCashFlow returns the payment recorded by a payout row.
func (q *queries) PaymentByCashFlow(ctx context.Context, cashFlowID string) (*ledger.PayrollPayment, error) {
	var p ledger.PayrollPayment
	var cashFlow sql.NullString
	var createdAt string
	err := q.db.QueryRowContext(ctx, `
		SELECT id, accrual_id, amount, paid_at, account_id, cash_flow_id, created_at
		FROM payroll_payments
		WHERE cash_flow_id = ?
		LIMIT 1
	`, cashFlowID).Scan(&p.ID, &p.AccrualID, &p.Amount, &p.PaidAt, &p.AccountID, &cashFlow, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CashFlowID = cashFlow.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// PaidTotal sums payments in Go; SQLite SUM over TEXT would go through
// floating point.
func (q *queries) PaidTotal(ctx context.Context, accrualID string) (decimal.Decimal, error) {
	payments, err := q.ListPayments(ctx, accrualID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// SaveAccount inserts or replaces an account including its balance.
func (q *queries) SaveAccount(ctx context.Context, a ledger.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, type, balance, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			balance = excluded.balance
	`, a.ID, a.Name, a.Type, a.Balance, formatTime(a.CreatedAt))
	return err
}

// GetAccount retrieves an account by ID.
func (q *queries) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	var a ledger.Account
	var createdAt string
	err := q.db.QueryRowContext(ctx,
		"SELECT id, name, type, balance, created_at FROM accounts WHERE id = ?", id,
	).Scan(&a.ID, &a.Name, &a.Type, &a.Balance, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// ListAccounts returns all accounts ordered by name.
func (q *queries) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, name, type, balance, created_at FROM accounts ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Balance, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AdjustAccountBalance adds delta to the stored balance. Outside WithTx the
// Store override wraps this in a transaction.
func (q *queries) AdjustAccountBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	var balance decimal.Decimal
	err := q.db.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", id).Scan(&balance)
	if err == sql.ErrNoRows {
		return ledger.NotFound("account", id)
	}
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?", balance.Add(delta), id)
	return err
}

// =============================================================================
// CASH FLOW STORE
// =============================================================================

const cashFlowColumns = `id, type, amount, category, description, status,
	planned_date, actual_date, account_id, is_recurring, deal_id, created_at`

// SaveCashFlow inserts or replaces a cash-flow row.
func (q *queries) SaveCashFlow(ctx context.Context, c ledger.CashFlow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cash_flows (`+cashFlowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			amount = excluded.amount,
			category = excluded.category,
			description = excluded.description,
			status = excluded.status,
			planned_date = excluded.planned_date,
			actual_date = excluded.actual_date,
			account_id = excluded.account_id,
			is_recurring = excluded.is_recurring,
			deal_id = excluded.deal_id
	`,
		c.ID, string(c.Type), c.Amount, c.Category, c.Description, string(c.Status),
		c.PlannedDate, nullDate(c.ActualDate), nullStringPtr(c.AccountID), c.IsRecurring,
		nullStringPtr(c.DealID), formatTime(c.CreatedAt),
	)
	return err
}

// GetCashFlow retrieves a cash-flow row by ID.
func (q *queries) GetCashFlow(ctx context.Context, id string) (*ledger.CashFlow, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+cashFlowColumns+" FROM cash_flows WHERE id = ?", id)
	c, err := scanCashFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCashFlows returns rows matching the filter ordered by planned date.
func (q *queries) ListCashFlows(ctx context.Context, f ledger.CashFlowFilter) ([]ledger.CashFlow, error) {
	var w where
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.AccountID != "" {
		w.add("account_id = ?", f.AccountID)
	}
	if f.Category != "" {
		w.add("category = ?", f.Category)
	}
	if f.Recurring != nil {
		w.add("is_recurring = ?", *f.Recurring)
	}
	if f.Realized != nil {
		if *f.Realized {
			w.add("actual_date IS NOT NULL")
		} else {
			w.add("actual_date IS NULL")
		}
	}
	if f.PlannedDate != nil {
		w.add("planned_date BETWEEN ? AND ?", f.PlannedDate.Start, f.PlannedDate.End)
	}
	if f.ActualDate != nil {
		w.add("actual_date BETWEEN ? AND ?", f.ActualDate.Start, f.ActualDate.End)
	}

	rows, err := q.db.QueryContext(ctx,
		"SELECT "+cashFlowColumns+" FROM cash_flows"+w.String()+" ORDER BY planned_date, created_at, id", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []ledger.CashFlow
	for rows.Next() {
		c, err := scanCashFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, c)
	}
	return flows, rows.Err()
}

// DeleteCashFlow removes a cash-flow row. Payout rows are held by the
// payroll_payments foreign key.
func (q *queries) DeleteCashFlow(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM cash_flows WHERE id = ?", id)
	if isForeignKeyError(err) {
		return ledger.ErrPayoutLinked
	}
	if err != nil {
		return err
	}
	return requireAffected(res, "cash flow", id)
}

func scanCashFlow(row scanner) (ledger.CashFlow, error) {
	var c ledger.CashFlow
	var flowType, status, createdAt string
	var actualDate sql.Null[ledger.Date]
	var accountID, dealID sql.NullString

	err := row.Scan(
		&c.ID, &flowType, &c.Amount, &c.Category, &c.Description, &status,
		&c.PlannedDate, &actualDate, &accountID, &c.IsRecurring, &dealID, &createdAt,
	)
	if err != nil {
		return c, err
	}
	c.Type = ledger.FlowType(flowType)
	c.Status = ledger.FlowStatus(status)
	c.ActualDate = datePtr(actualDate)
	c.AccountID = stringPtr(accountID)
	c.DealID = stringPtr(dealID)
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}

func nullDate(d *ledger.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func datePtr(d sql.Null[ledger.Date]) *ledger.Date {
	if !d.Valid {
		return nil
	}
	return &d.V
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func requireAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound(entity, id)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
