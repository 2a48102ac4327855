/*
Package postgres provides a PostgreSQL implementation of ledger.TxStore.

PURPOSE:
  Multi-node deployment. Same tables as store/sqlite with native types:
  NUMERIC for money, DATE for calendar days, TIMESTAMPTZ for audit times.

CONCURRENCY:
  - Account balances move with an atomic increment
    (balance = balance + $1), never read-modify-write.
  - LockAccrual takes SELECT ... FOR UPDATE so two concurrent payments
    against one accrual serialize on the row.

NUMERIC HANDLING:
  Decimals travel as text in both directions: arguments are passed as
  decimal strings and NUMERIC columns are selected with ::text. No value
  ever passes through float64.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite/sqlite.go: SQLite implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

// Store implements ledger.TxStore on a pgx connection pool.
type Store struct {
	*queries
	pool *pgxpool.Pool
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*queries)(nil)
)

// Options tune the connection pool.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Connect opens a pool and migrates the schema.
func Connect(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	if opts.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = opts.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &Store{queries: &queries{db: pool}, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		base_rate_agent NUMERIC,
		base_rate_rop NUMERIC,
		manager_id TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS commission_rates (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		role TEXT NOT NULL,
		rate NUMERIC NOT NULL,
		effective_date DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (employee_id, role, effective_date)
	);

	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		client TEXT NOT NULL DEFAULT '',
		object TEXT NOT NULL DEFAULT '',
		price NUMERIC NOT NULL DEFAULT 0,
		commission NUMERIC NOT NULL DEFAULT 0,
		agent_id TEXT NOT NULL,
		rop_id TEXT,
		status TEXT NOT NULL,
		deposit_date DATE,
		deal_date DATE,
		broker_expense NUMERIC NOT NULL DEFAULT 0,
		lawyer_expense NUMERIC NOT NULL DEFAULT 0,
		referral_expense NUMERIC NOT NULL DEFAULT 0,
		other_expense NUMERIC NOT NULL DEFAULT 0,
		external_expenses NUMERIC NOT NULL DEFAULT 0,
		tax_rate NUMERIC NOT NULL DEFAULT 0,
		agent_rate_override NUMERIC,
		rop_rate_override NUMERIC,
		commissions_manual BOOLEAN NOT NULL DEFAULT FALSE,
		agent_rate_applied NUMERIC NOT NULL DEFAULT 0,
		rop_rate_applied NUMERIC NOT NULL DEFAULT 0,
		agent_commission NUMERIC NOT NULL DEFAULT 0,
		rop_commission NUMERIC NOT NULL DEFAULT 0,
		net_profit NUMERIC NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);
	CREATE INDEX IF NOT EXISTS idx_deals_deal_date ON deals(deal_date);

	CREATE TABLE IF NOT EXISTS payroll_accruals (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
		employee_id TEXT NOT NULL,
		role TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		accrued_at DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (deal_id, employee_id, role)
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		balance NUMERIC NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS cash_flows (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		amount NUMERIC NOT NULL CHECK (amount > 0),
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		planned_date DATE NOT NULL,
		actual_date DATE,
		account_id TEXT,
		is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
		deal_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_cash_flows_planned ON cash_flows(planned_date);
	CREATE INDEX IF NOT EXISTS idx_cash_flows_actual ON cash_flows(actual_date);

	CREATE TABLE IF NOT EXISTS payroll_payments (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		accrual_id TEXT NOT NULL REFERENCES payroll_accruals(id) ON DELETE CASCADE,
		amount NUMERIC NOT NULL CHECK (amount > 0),
		paid_at DATE NOT NULL,
		account_id TEXT NOT NULL,
		cash_flow_id TEXT REFERENCES cash_flows(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_payments_accrual ON payroll_payments(accrual_id);
	`)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Reset truncates every table.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE payroll_payments, payroll_accruals, cash_flows, accounts,
			deals, commission_rates, employees RESTART IDENTITY CASCADE
	`)
	return err
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeColumns = `id, name, role, base_rate_agent::text, base_rate_rop::text, manager_id, active, created_at`

func (q *queries) SaveEmployee(ctx context.Context, e ledger.Employee) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO employees (id, name, role, base_rate_agent, base_rate_rop, manager_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			base_rate_agent = EXCLUDED.base_rate_agent,
			base_rate_rop = EXCLUDED.base_rate_rop,
			manager_id = EXCLUDED.manager_id,
			active = EXCLUDED.active
	`, e.ID, e.Name, string(e.Role), numPtr(e.BaseRateAgent), numPtr(e.BaseRateROP),
		e.ManagerID, e.Active, stamp(e.CreatedAt))
	return err
}

func (q *queries) GetEmployee(ctx context.Context, id string) (*ledger.Employee, error) {
	e, err := scanEmployee(q.db.QueryRow(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (q *queries) ListEmployees(ctx context.Context) ([]ledger.Employee, error) {
	rows, err := q.db.Query(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(row pgx.Row) (ledger.Employee, error) {
	var e ledger.Employee
	var role string
	var agentRate, ropRate decimal.NullDecimal
	if err := row.Scan(&e.ID, &e.Name, &role, &agentRate, &ropRate, &e.ManagerID, &e.Active, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Role = ledger.Role(role)
	e.BaseRateAgent = decimalPtr(agentRate)
	e.BaseRateROP = decimalPtr(ropRate)
	return e, nil
}

// =============================================================================
// RATES
// =============================================================================

func (q *queries) AddRate(ctx context.Context, r ledger.CommissionRate) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO commission_rates (id, employee_id, role, rate, effective_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.EmployeeID, string(r.Role), num(r.Rate), r.EffectiveDate.Time, stamp(r.CreatedAt))
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateEffectiveDate
	}
	return err
}

func (q *queries) ListRates(ctx context.Context, employeeID string, role ledger.Role) ([]ledger.CommissionRate, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, employee_id, role, rate::text, effective_date, created_at
		FROM commission_rates
		WHERE employee_id = $1 AND role = $2
		ORDER BY effective_date, seq
	`, employeeID, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.CommissionRate
	for rows.Next() {
		var r ledger.CommissionRate
		var roleStr string
		var effective time.Time
		if err := rows.Scan(&r.ID, &r.EmployeeID, &roleStr, &r.Rate, &effective, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Role = ledger.Role(roleStr)
		r.EffectiveDate = ledger.DateOf(effective)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// DEALS
// =============================================================================

const dealColumns = `id, client, object, price::text, commission::text, agent_id, rop_id, status,
	deposit_date, deal_date,
	broker_expense::text, lawyer_expense::text, referral_expense::text, other_expense::text,
	external_expenses::text, tax_rate::text,
	agent_rate_override::text, rop_rate_override::text,
	commissions_manual, agent_rate_applied::text, rop_rate_applied::text,
	agent_commission::text, rop_commission::text, net_profit::text,
	created_at, updated_at`

func (q *queries) SaveDeal(ctx context.Context, d ledger.Deal) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO deals (id, client, object, price, commission, agent_id, rop_id, status,
			deposit_date, deal_date,
			broker_expense, lawyer_expense, referral_expense, other_expense, external_expenses, tax_rate,
			agent_rate_override, rop_rate_override,
			commissions_manual, agent_rate_applied, rop_rate_applied,
			agent_commission, rop_commission, net_profit,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (id) DO UPDATE SET
			client = EXCLUDED.client,
			object = EXCLUDED.object,
			price = EXCLUDED.price,
			commission = EXCLUDED.commission,
			agent_id = EXCLUDED.agent_id,
			rop_id = EXCLUDED.rop_id,
			status = EXCLUDED.status,
			deposit_date = EXCLUDED.deposit_date,
			deal_date = EXCLUDED.deal_date,
			broker_expense = EXCLUDED.broker_expense,
			lawyer_expense = EXCLUDED.lawyer_expense,
			referral_expense = EXCLUDED.referral_expense,
			other_expense = EXCLUDED.other_expense,
			external_expenses = EXCLUDED.external_expenses,
			tax_rate = EXCLUDED.tax_rate,
			agent_rate_override = EXCLUDED.agent_rate_override,
			rop_rate_override = EXCLUDED.rop_rate_override,
			commissions_manual = EXCLUDED.commissions_manual,
			agent_rate_applied = EXCLUDED.agent_rate_applied,
			rop_rate_applied = EXCLUDED.rop_rate_applied,
			agent_commission = EXCLUDED.agent_commission,
			rop_commission = EXCLUDED.rop_commission,
			net_profit = EXCLUDED.net_profit,
			updated_at = EXCLUDED.updated_at
	`,
		d.ID, d.Client, d.Object, num(d.Price), num(d.Commission), d.AgentID, d.ROPID, string(d.Status),
		datePtr(d.DepositDate), datePtr(d.DealDate),
		num(d.BrokerExpense), num(d.LawyerExpense), num(d.ReferralExpense), num(d.OtherExpense),
		num(d.ExternalExpenses), num(d.TaxRate),
		numPtr(d.AgentRateOverride), numPtr(d.ROPRateOverride),
		d.CommissionsManual, num(d.AgentRateApplied), num(d.ROPRateApplied),
		num(d.AgentCommission), num(d.ROPCommission), num(d.NetProfit),
		stamp(d.CreatedAt), stamp(d.UpdatedAt),
	)
	return err
}

func (q *queries) GetDeal(ctx context.Context, id string) (*ledger.Deal, error) {
	d, err := scanDeal(q.db.QueryRow(ctx, "SELECT "+dealColumns+" FROM deals WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (q *queries) ListDeals(ctx context.Context, f ledger.DealFilter) ([]ledger.Deal, error) {
	var w where
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(%s)", statuses)
	}
	if f.EmployeeID != "" {
		w.add("(agent_id = %[1]s OR rop_id = %[1]s)", f.EmployeeID)
	}
	if f.DealDate != nil {
		w.between("deal_date", *f.DealDate)
	}
	if f.Deposit != nil {
		w.between("deposit_date", *f.Deposit)
	}

	rows, err := q.db.Query(ctx,
		"SELECT "+dealColumns+" FROM deals"+w.String()+" ORDER BY created_at, id", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *queries) DeleteDeal(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, "DELETE FROM deals WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("deal", id)
	}
	return nil
}

func scanDeal(row pgx.Row) (ledger.Deal, error) {
	var d ledger.Deal
	var status string
	var depositDate, dealDate *time.Time
	var agentOverride, ropOverride decimal.NullDecimal

	err := row.Scan(
		&d.ID, &d.Client, &d.Object, &d.Price, &d.Commission, &d.AgentID, &d.ROPID, &status,
		&depositDate, &dealDate,
		&d.BrokerExpense, &d.LawyerExpense, &d.ReferralExpense, &d.OtherExpense,
		&d.ExternalExpenses, &d.TaxRate,
		&agentOverride, &ropOverride,
		&d.CommissionsManual, &d.AgentRateApplied, &d.ROPRateApplied,
		&d.AgentCommission, &d.ROPCommission, &d.NetProfit,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, err
	}
	d.Status = ledger.DealStatus(status)
	d.DepositDate = toDate(depositDate)
	d.DealDate = toDate(dealDate)
	d.AgentRateOverride = decimalPtr(agentOverride)
	d.ROPRateOverride = decimalPtr(ropOverride)
	return d, nil
}

// =============================================================================
// ACCRUALS
// =============================================================================

const accrualColumns = `id, deal_id, employee_id, role, amount::text, accrued_at, created_at`

func (q *queries) UpsertAccrual(ctx context.Context, a ledger.PayrollAccrual) (ledger.PayrollAccrual, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO payroll_accruals (id, deal_id, employee_id, role, amount, accrued_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (deal_id, employee_id, role) DO UPDATE SET
			amount = EXCLUDED.amount,
			accrued_at = EXCLUDED.accrued_at
		RETURNING `+accrualColumns,
		a.ID, a.DealID, a.EmployeeID, string(a.Role), num(a.Amount), a.AccruedAt.Time, stamp(a.CreatedAt))
	return scanAccrual(row)
}

func (q *queries) GetAccrual(ctx context.Context, id string) (*ledger.PayrollAccrual, error) {
	return q.getAccrual(ctx, "SELECT "+accrualColumns+" FROM payroll_accruals WHERE id = $1", id)
}

// LockAccrual holds the row until the enclosing transaction ends.
func (q *queries) LockAccrual(ctx context.Context, id string) (*ledger.PayrollAccrual, error) {
	return q.getAccrual(ctx, "SELECT "+accrualColumns+" FROM payroll_accruals WHERE id = $1 FOR UPDATE", id)
}

func (q *queries) getAccrual(ctx context.Context, query, id string) (*ledger.PayrollAccrual, error) {
	a, err := scanAccrual(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) ListAccruals(ctx context.Context, f ledger.AccrualFilter) ([]ledger.PayrollAccrual, error) {
	var w where
	if f.DealID != "" {
		w.add("deal_id = %s", f.DealID)
	}
	if f.EmployeeID != "" {
		w.add("employee_id = %s", f.EmployeeID)
	}
	if f.AccruedAt != nil {
		w.between("accrued_at", *f.AccruedAt)
	}

	rows, err := q.db.Query(ctx,
		"SELECT "+accrualColumns+" FROM payroll_accruals"+w.String()+" ORDER BY accrued_at, id", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.PayrollAccrual
	for rows.Next() {
		a, err := scanAccrual(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) DeleteAccrual(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, "DELETE FROM payroll_accruals WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("accrual", id)
	}
	return nil
}

func scanAccrual(row pgx.Row) (ledger.PayrollAccrual, error) {
	var a ledger.PayrollAccrual
	var role string
	var accruedAt time.Time
	if err := row.Scan(&a.ID, &a.DealID, &a.EmployeeID, &role, &a.Amount, &accruedAt, &a.CreatedAt); err != nil {
		return a, err
	}
	a.Role = ledger.Role(role)
	a.AccruedAt = ledger.DateOf(accruedAt)
	return a, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (q *queries) AddPayment(ctx context.Context, p ledger.PayrollPayment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var cashFlowID *string
	if p.CashFlowID != "" {
		cashFlowID = &p.CashFlowID
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO payroll_payments (id, accrual_id, amount, paid_at, account_id, cash_flow_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.AccrualID, num(p.Amount), p.PaidAt.Time, p.AccountID, cashFlowID, stamp(p.CreatedAt))
	if isForeignKeyViolation(err) {
		return ledger.NotFound("accrual", p.AccrualID)
	}
	return err
}

func (q *queries) ListPayments(ctx context.Context, accrualID string) ([]ledger.PayrollPayment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, accrual_id, amount::text, paid_at, account_id, cash_flow_id, created_at
		FROM payroll_payments
		WHERE accrual_id = $1
		ORDER BY seq
	`, accrualID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.PayrollPayment
	for rows.Next() {
		var p ledger.PayrollPayment
		var paidAt time.Time
		var cashFlowID *string
		if err := rows.Scan(&p.ID, &p.AccrualID, &p.Amount, &paidAt, &p.AccountID, &cashFlowID, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.PaidAt = ledger.DateOf(paidAt)
		if cashFlowID != nil {
			p.CashFlowID = *cashFlowID
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) PaymentByCashFlow(ctx context.Context, cashFlowID string) (*ledger.PayrollPayment, error) {
	var p ledger.PayrollPayment
	var paidAt time.Time
	var cashFlow *string
	err := q.db.QueryRow(ctx, `
		SELECT id, accrual_id, amount::text, paid_at, account_id, cash_flow_id, created_at
		FROM payroll_payments
		WHERE cash_flow_id = $1
		LIMIT 1
	`, cashFlowID).Scan(&p.ID, &p.AccrualID, &p.Amount, &paidAt, &p.AccountID, &cashFlow, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.PaidAt = ledger.DateOf(paidAt)
	if cashFlow != nil {
		p.CashFlowID = *cashFlow
	}
	return &p, nil
}

func (q *queries) PaidTotal(ctx context.Context, accrualID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0)::text FROM payroll_payments WHERE accrual_id = $1",
		accrualID,
	).Scan(&total)
	return total, err
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (q *queries) SaveAccount(ctx context.Context, a ledger.Account) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO accounts (id, name, type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			balance = EXCLUDED.balance
	`, a.ID, a.Name, a.Type, num(a.Balance), stamp(a.CreatedAt))
	return err
}

func (q *queries) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	var a ledger.Account
	err := q.db.QueryRow(ctx,
		"SELECT id, name, type, balance::text, created_at FROM accounts WHERE id = $1", id,
	).Scan(&a.ID, &a.Name, &a.Type, &a.Balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := q.db.Query(ctx,
		"SELECT id, name, type, balance::text, created_at FROM accounts ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) AdjustAccountBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1::numeric WHERE id = $2", num(delta), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("account", id)
	}
	return nil
}

// =============================================================================
// CASH FLOWS
// =============================================================================

const cashFlowColumns = `id, type, amount::text, category, description, status,
	planned_date, actual_date, account_id, is_recurring, deal_id, created_at`

func (q *queries) SaveCashFlow(ctx context.Context, c ledger.CashFlow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO cash_flows (id, type, amount, category, description, status,
			planned_date, actual_date, account_id, is_recurring, deal_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			amount = EXCLUDED.amount,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			planned_date = EXCLUDED.planned_date,
			actual_date = EXCLUDED.actual_date,
			account_id = EXCLUDED.account_id,
			is_recurring = EXCLUDED.is_recurring,
			deal_id = EXCLUDED.deal_id
	`,
		c.ID, string(c.Type), num(c.Amount), c.Category, c.Description, string(c.Status),
		c.PlannedDate.Time, datePtr(c.ActualDate), c.AccountID, c.IsRecurring, c.DealID, stamp(c.CreatedAt),
	)
	return err
}

func (q *queries) GetCashFlow(ctx context.Context, id string) (*ledger.CashFlow, error) {
	c, err := scanCashFlow(q.db.QueryRow(ctx, "SELECT "+cashFlowColumns+" FROM cash_flows WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *queries) ListCashFlows(ctx context.Context, f ledger.CashFlowFilter) ([]ledger.CashFlow, error) {
	var w where
	if f.Type != "" {
		w.add("type = %s", string(f.Type))
	}
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}
	if f.AccountID != "" {
		w.add("account_id = %s", f.AccountID)
	}
	if f.Category != "" {
		w.add("category = %s", f.Category)
	}
	if f.Recurring != nil {
		w.add("is_recurring = %s", *f.Recurring)
	}
	if f.Realized != nil {
		if *f.Realized {
			w.add("actual_date IS NOT NULL")
		} else {
			w.add("actual_date IS NULL")
		}
	}
	if f.PlannedDate != nil {
		w.between("planned_date", *f.PlannedDate)
	}
	if f.ActualDate != nil {
		w.between("actual_date", *f.ActualDate)
	}

	rows, err := q.db.Query(ctx,
		"SELECT "+cashFlowColumns+" FROM cash_flows"+w.String()+" ORDER BY planned_date, created_at, id", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.CashFlow
	for rows.Next() {
		c, err := scanCashFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *queries) DeleteCashFlow(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, "DELETE FROM cash_flows WHERE id = $1", id)
	if isForeignKeyViolation(err) {
		return ledger.ErrPayoutLinked
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("cash flow", id)
	}
	return nil
}

func scanCashFlow(row pgx.Row) (ledger.CashFlow, error) {
	var c ledger.CashFlow
	var flowType, status string
	var planned time.Time
	var actual *time.Time

	err := row.Scan(
		&c.ID, &flowType, &c.Amount, &c.Category, &c.Description, &status,
		&planned, &actual, &c.AccountID, &c.IsRecurring, &c.DealID, &c.CreatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Type = ledger.FlowType(flowType)
	c.Status = ledger.FlowStatus(status)
	c.PlannedDate = ledger.DateOf(planned)
	c.ActualDate = toDate(actual)
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// where builds AND-ed conditions with $n placeholders. Each cond uses %s
// (or %[1]s) for its single argument.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	if len(args) == 0 {
		w.conds = append(w.conds, cond)
		return
	}
	w.args = append(w.args, args[0])
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) between(column string, p ledger.Period) {
	w.args = append(w.args, p.Start.Time, p.End.Time)
	n := len(w.args)
	w.conds = append(w.conds, fmt.Sprintf("%s BETWEEN $%d AND $%d", column, n-1, n))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func num(d decimal.Decimal) string { return d.String() }

func numPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}

func datePtr(d *ledger.Date) *time.Time {
	if d == nil {
		return nil
	}
	return &d.Time
}

func toDate(t *time.Time) *ledger.Date {
	if t == nil {
		return nil
	}
	d := ledger.DateOf(*t)
	return &d
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
