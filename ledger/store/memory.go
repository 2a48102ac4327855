// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps guarded by one RWMutex.
type Memory struct {
	mu sync.RWMutex
	t  *tables
}

func NewMemory() *Memory {
	return &Memory{t: newTables()}
}

func (m *Memory) SaveEmployee(ctx context.Context, e ledger.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveEmployee(ctx, e)
}

func (m *Memory) GetEmployee(ctx context.Context, id string) (*ledger.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(ctx context.Context) ([]ledger.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListEmployees(ctx)
}

func (m *Memory) AddRate(ctx context.Context, r ledger.CommissionRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.AddRate(ctx, r)
}

func (m *Memory) ListRates(ctx context.Context, employeeID string, role ledger.Role) ([]ledger.CommissionRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListRates(ctx, employeeID, role)
}

func (m *Memory) SaveDeal(ctx context.Context, d ledger.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveDeal(ctx, d)
}

func (m *Memory) GetDeal(ctx context.Context, id string) (*ledger.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetDeal(ctx, id)
}

func (m *Memory) ListDeals(ctx context.Context, f ledger.DealFilter) ([]ledger.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListDeals(ctx, f)
}

func (m *Memory) DeleteDeal(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.DeleteDeal(ctx, id)
}

func (m *Memory) UpsertAccrual(ctx context.Context, a ledger.PayrollAccrual) (ledger.PayrollAccrual, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpsertAccrual(ctx, a)
}

func (m *Memory) GetAccrual(ctx context.Context, id string) (*ledger.PayrollAccrual, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetAccrual(ctx, id)
}

func (m *Memory) LockAccrual(ctx context.Context, id string) (*ledger.PayrollAccrual, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetAccrual(ctx, id)
}

func (m *Memory) ListAccruals(ctx context.Context, f ledger.AccrualFilter) ([]ledger.PayrollAccrual, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListAccruals(ctx, f)
}

func (m *Memory) DeleteAccrual(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.DeleteAccrual(ctx, id)
}

func (m *Memory) AddPayment(ctx context.Context, p ledger.PayrollPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.AddPayment(ctx, p)
}

func (m *Memory) ListPayments(ctx context.Context, accrualID string) ([]ledger.PayrollPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListPayments(ctx, accrualID)
}

func (m *Memory) PaidTotal(ctx context.Context, accrualID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.PaidTotal(ctx, accrualID)
}

func (m *Memory) PaymentByCashFlow(ctx context.Context, cashFlowID string) (*ledger.PayrollPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.PaymentByCashFlow(ctx, cashFlowID)
}

func (m *Memory) SaveAccount(ctx context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveAccount(ctx, a)
}

func (m *Memory) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetAccount(ctx, id)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListAccounts(ctx)
}

func (m *Memory) AdjustAccountBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.AdjustAccountBalance(ctx, id, delta)
}

func (m *Memory) SaveCashFlow(ctx context.Context, c ledger.CashFlow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveCashFlow(ctx, c)
}

func (m *Memory) GetCashFlow(ctx context.Context, id string) (*ledger.CashFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetCashFlow(ctx, id)
}

func (m *Memory) ListCashFlows(ctx context.Context, f ledger.CashFlowFilter) ([]ledger.CashFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListCashFlows(ctx, f)
}

func (m *Memory) DeleteCashFlow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.DeleteCashFlow(ctx, id)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so units of work never
// interleave.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.t.clone()

	// fn writes straight into the live tables
	if err := fn(tm.t); err != nil {
		tm.t = snapshot
		return err
	}
	return nil
}

// Reset drops every row.
func (tm *TxMemory) Reset(_ context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.t = newTables()
	return nil
}

// =============================================================================
// TABLES - Unlocked storage, used directly inside WithTx
// =============================================================================

type tables struct {
	employees map[string]ledger.Employee
	rates     []ledger.CommissionRate // insertion order
	deals     map[string]ledger.Deal
	accruals  map[string]ledger.PayrollAccrual
	payments  []ledger.PayrollPayment
	accounts  map[string]ledger.Account
	cashFlows map[string]ledger.CashFlow
}

func newTables() *tables {
	return &tables{
		employees: make(map[string]ledger.Employee),
		deals:     make(map[string]ledger.Deal),
		accruals:  make(map[string]ledger.PayrollAccrual),
		accounts:  make(map[string]ledger.Account),
		cashFlows: make(map[string]ledger.CashFlow),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.employees {
		c.employees[k] = v
	}
	c.rates = append([]ledger.CommissionRate{}, t.rates...)
	for k, v := range t.deals {
		c.deals[k] = v
	}
	for k, v := range t.accruals {
		c.accruals[k] = v
	}
	c.payments = append([]ledger.PayrollPayment{}, t.payments...)
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	for k, v := range t.cashFlows {
		c.cashFlows[k] = v
	}
	return c
}

// Employees

func (t *tables) SaveEmployee(_ context.Context, e ledger.Employee) error {
	t.employees[e.ID] = e
	return nil
}

func (t *tables) GetEmployee(_ context.Context, id string) (*ledger.Employee, error) {
	e, ok := t.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (t *tables) ListEmployees(_ context.Context) ([]ledger.Employee, error) {
	result := make([]ledger.Employee, 0, len(t.employees))
	for _, e := range t.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Rates

func (t *tables) AddRate(_ context.Context, r ledger.CommissionRate) error {
	for _, existing := range t.rates {
		if existing.EmployeeID == r.EmployeeID && existing.Role == r.Role &&
			existing.EffectiveDate.Equal(r.EffectiveDate) {
			return ledger.ErrDuplicateEffectiveDate
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	t.rates = append(t.rates, r)
	return nil
}

func (t *tables) ListRates(_ context.Context, employeeID string, role ledger.Role) ([]ledger.CommissionRate, error) {
	var result []ledger.CommissionRate
	for _, r := range t.rates {
		if r.EmployeeID == employeeID && r.Role == role {
			result = append(result, r)
		}
	}
	// Stable keeps insertion order among equal dates
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EffectiveDate.Before(result[j].EffectiveDate)
	})
	return result, nil
}

// Deals

func (t *tables) SaveDeal(_ context.Context, d ledger.Deal) error {
	t.deals[d.ID] = d
	return nil
}

func (t *tables) GetDeal(_ context.Context, id string) (*ledger.Deal, error) {
	d, ok := t.deals[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (t *tables) ListDeals(_ context.Context, f ledger.DealFilter) ([]ledger.Deal, error) {
	var result []ledger.Deal
	for _, d := range t.deals {
		if f.Match(d) {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *tables) DeleteDeal(ctx context.Context, id string) error {
	if _, ok := t.deals[id]; !ok {
		return ledger.NotFound("deal", id)
	}
	for accrualID, a := range t.accruals {
		if a.DealID == id {
			if err := t.DeleteAccrual(ctx, accrualID); err != nil {
				return err
			}
		}
	}
	delete(t.deals, id)
	return nil
}

// Accruals

func (t *tables) UpsertAccrual(_ context.Context, a ledger.PayrollAccrual) (ledger.PayrollAccrual, error) {
	for id, existing := range t.accruals {
		if existing.DealID == a.DealID && existing.EmployeeID == a.EmployeeID && existing.Role == a.Role {
			existing.Amount = a.Amount
			existing.AccruedAt = a.AccruedAt
			t.accruals[id] = existing
			return existing, nil
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	t.accruals[a.ID] = a
	return a, nil
}

func (t *tables) GetAccrual(_ context.Context, id string) (*ledger.PayrollAccrual, error) {
	a, ok := t.accruals[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (t *tables) LockAccrual(ctx context.Context, id string) (*ledger.PayrollAccrual, error) {
	return t.GetAccrual(ctx, id)
}

func (t *tables) ListAccruals(_ context.Context, f ledger.AccrualFilter) ([]ledger.PayrollAccrual, error) {
	var result []ledger.PayrollAccrual
	for _, a := range t.accruals {
		if f.Match(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AccruedAt.Equal(result[j].AccruedAt) {
			return result[i].AccruedAt.Before(result[j].AccruedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *tables) DeleteAccrual(_ context.Context, id string) error {
	if _, ok := t.accruals[id]; !ok {
		return ledger.NotFound("accrual", id)
	}
	kept := t.payments[:0:0]
	for _, p := range t.payments {
		if p.AccrualID != id {
			kept = append(kept, p)
		}
	}
	t.payments = kept
	delete(t.accruals, id)
	return nil
}

// Payments

func (t *tables) AddPayment(_ context.Context, p ledger.PayrollPayment) error {
	if _, ok := t.accruals[p.AccrualID]; !ok {
		return ledger.NotFound("accrual", p.AccrualID)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	t.payments = append(t.payments, p)
	return nil
}

func (t *tables) ListPayments(_ context.Context, accrualID string) ([]ledger.PayrollPayment, error) {
	var result []ledger.PayrollPayment
	for _, p := range t.payments {
		if p.AccrualID == accrualID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (t *tables) PaidTotal(_ context.Context, accrualID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range t.payments {
		if p.AccrualID == accrualID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (t *tables) PaymentByCashFlow(_ context.Context, cashFlowID string) (*ledger.PayrollPayment, error) {
	if cashFlowID == "" {
		return nil, nil
	}
	for _, p := range t.payments {
		if p.CashFlowID == cashFlowID {
			return &p, nil
		}
	}
	return nil, nil
}

// Accounts

func (t *tables) SaveAccount(_ context.Context, a ledger.Account) error {
	t.accounts[a.ID] = a
	return nil
}

func (t *tables) GetAccount(_ context.Context, id string) (*ledger.Account, error) {
	a, ok := t.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (t *tables) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	result := make([]ledger.Account, 0, len(t.accounts))
	for _, a := range t.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (t *tables) AdjustAccountBalance(_ context.Context, id string, delta decimal.Decimal) error {
	a, ok := t.accounts[id]
	if !ok {
		return ledger.NotFound("account", id)
	}
	a.Balance = a.Balance.Add(delta)
	t.accounts[id] = a
	return nil
}

// Cash flows

func (t *tables) SaveCashFlow(_ context.Context, c ledger.CashFlow) error {
	t.cashFlows[c.ID] = c
	return nil
}

func (t *tables) GetCashFlow(_ context.Context, id string) (*ledger.CashFlow, error) {
	c, ok := t.cashFlows[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *tables) ListCashFlows(_ context.Context, f ledger.CashFlowFilter) ([]ledger.CashFlow, error) {
	var result []ledger.CashFlow
	for _, c := range t.cashFlows {
		if f.Match(c) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].PlannedDate.Equal(result[j].PlannedDate) {
			return result[i].PlannedDate.Before(result[j].PlannedDate)
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *tables) DeleteCashFlow(ctx context.Context, id string) error {
	if _, ok := t.cashFlows[id]; !ok {
		return ledger.NotFound("cash flow", id)
	}
	if p, _ := t.PaymentByCashFlow(ctx, id); p != nil {
		return ledger.ErrPayoutLinked
	}
	delete(t.cashFlows, id)
	return nil
}

// Compile-time interface checks
var (
	_ ledger.TxStore = (*TxMemory)(nil)
	_ ledger.Store   = (*tables)(nil)
)
