/*
handlers.go - HTTP API handlers for the commission ledger

PURPOSE:
  Exposes the commission and ledger components via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the components.

ENDPOINTS:
  Employees:
    GET    /api/employees                   List employees
    POST   /api/employees                   Create employee
    GET    /api/employees/{id}              Get employee
    PUT    /api/employees/{id}              Replace employee
    DELETE /api/employees/{id}              Retire employee
    GET    /api/employees/{id}/rates        Rate history (?role=AGENT|ROP)
    POST   /api/employees/{id}/rates        Append a rate

  Deals:
    GET    /api/deals                       List (?status=&employee_id=&deal_from=&deal_to=&deposit_from=&deposit_to=)
    POST   /api/deals                       Create deal
    POST   /api/deals/preview               Compute a split without saving
    GET    /api/deals/{id}                  Get deal
    PATCH  /api/deals/{id}                  Partial update
    DELETE /api/deals/{id}                  Delete deal and its accruals

  Payroll:
    GET    /api/accruals                    List (?deal_id=&employee_id=&from=&to=)
    GET    /api/accruals/anomalies          Orphaned and overpaid accruals
    GET    /api/accruals/{id}/payments      Payments against an accrual
    POST   /api/accruals/{id}/payments      Pay an accrual
    DELETE /api/accruals/{id}?confirm=true  Remove an orphaned accrual

  Cash:
    GET    /api/accounts                    List accounts
    POST   /api/accounts                    Open account
    GET    /api/accounts/{id}               Get account
    GET    /api/cash-flows                  List (?type=&status=&account_id=&category=&recurring=&realized=&from=&to=)
    POST   /api/cash-flows                  Create cash flow
    GET    /api/cash-flows/{id}             Get cash flow
    PATCH  /api/cash-flows/{id}             Partial update
    DELETE /api/cash-flows/{id}             Delete and reverse balance effect

  Forecast and reports:
    GET    /api/forecast                    Monthly projection (?months=&year=)
    GET    /api/reports/monthly             Revenue by month (?year=)
    GET    /api/reports/employees           Totals per employee (?from=&to=)

  Maintenance:
    POST   /api/maintenance/recalculate     Recompute every non-manual deal
    POST   /api/maintenance/scan            Run the anomaly scan now
    GET    /api/maintenance/status          Last scan result

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    GET    /api/scenarios/current           Currently loaded scenario
    POST   /api/scenarios/load              Load a demo scenario
    POST   /api/reset                       Clear all data

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Rejected at the transaction boundary (overpayment, duplicate)
  - 500: Internal errors, logged with the request path

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/commission-ledger/cashflow"
	"github.com/warp/commission-ledger/commission"
	"github.com/warp/commission-ledger/deal"
	"github.com/warp/commission-ledger/forecast"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/payroll"
	"github.com/warp/commission-ledger/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can drop all their data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store ledger.TxStore

	Roster    *commission.Roster
	Rates     *commission.Resolver
	Deals     *deal.Reconciler
	Payroll   *payroll.Engine
	Cash      *cashflow.Reconciler
	Forecast  *forecast.Projector
	Reports   *report.Reporter
	Scheduler *MaintenanceScheduler

	Logger *slog.Logger
	now    func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires every component to the given store.
func NewHandler(store ledger.TxStore) *Handler {
	return &Handler{
		Store:    store,
		Roster:   commission.NewRoster(store),
		Rates:    commission.NewResolver(store),
		Deals:    deal.NewReconciler(store),
		Payroll:  payroll.NewEngine(store),
		Cash:     cashflow.NewReconciler(store),
		Forecast: forecast.NewProjector(store),
		Reports:  report.NewReporter(store),
		Logger:   slog.Default(),
		now:      time.Now,
	}
}

// SetClock replaces the clock of every component. Used by tests and demo
// scenarios that need a fixed "today".
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
	h.Roster.Now = now
	h.Deals.Now = now
	h.Payroll.Now = now
	h.Cash.Now = now
	h.Forecast.Now = now
}

// SetLogger replaces the logger of every component.
func (h *Handler) SetLogger(logger *slog.Logger) {
	h.Logger = logger
	h.Deals.Logger = logger
	h.Payroll.Logger = logger
	h.Cash.Logger = logger
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Roster.List(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req SaveEmployeeRequest
	if !decode(w, r, &req) {
		return
	}
	h.saveEmployee(w, r, req, true, http.StatusCreated)
}

// UpdateEmployee replaces an employee.
// PUT /api/employees/{id}
func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.Roster.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get employee", err)
		return
	}

	var req SaveEmployeeRequest
	if !decode(w, r, &req) {
		return
	}
	req.ID = existing.ID
	h.saveEmployee(w, r, req, existing.Active, http.StatusOK)
}

// saveEmployee stores req; active applies when the body omits "active".
func (h *Handler) saveEmployee(w http.ResponseWriter, r *http.Request, req SaveEmployeeRequest, active bool, status int) {
	e := ledger.Employee{
		ID:            req.ID,
		Name:          req.Name,
		Role:          req.Role,
		BaseRateAgent: req.BaseRateAgent,
		BaseRateROP:   req.BaseRateROP,
		ManagerID:     req.ManagerID,
		Active:        active,
	}
	if req.Active != nil {
		e.Active = *req.Active
	}

	saved, err := h.Roster.Save(r.Context(), e)
	if err != nil {
		h.fail(w, r, "Failed to save employee", err)
		return
	}
	writeJSON(w, status, toEmployeeDTO(saved))
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.Roster.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(e))
}

// RetireEmployee marks an employee inactive. Deals and accruals keep
// referencing them.
func (h *Handler) RetireEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.Roster.Retire(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to retire employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(e))
}

// ListRates returns the employee's rate history. Without ?role both
// histories are returned, agent first.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := h.Roster.Get(ctx, id); err != nil {
		h.fail(w, r, "Failed to get employee", err)
		return
	}

	roles := []ledger.Role{ledger.RoleAgent, ledger.RoleROP}
	if role := ledger.Role(r.URL.Query().Get("role")); role != "" {
		if !role.IsCommissionRole() {
			writeError(w, http.StatusBadRequest, "Invalid role", fmt.Errorf("role must be AGENT or ROP, got %q", role))
			return
		}
		roles = []ledger.Role{role}
	}

	dtos := []RateDTO{}
	for _, role := range roles {
		rates, err := h.Rates.History(ctx, id, role)
		if err != nil {
			h.fail(w, r, "Failed to list rates", err)
			return
		}
		for _, rate := range rates {
			dtos = append(dtos, toRateDTO(rate))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddRate appends a rate to the employee's history. Existing deals are not
// recalculated; see /api/maintenance/recalculate.
func (h *Handler) AddRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := h.Roster.Get(ctx, id); err != nil {
		h.fail(w, r, "Failed to get employee", err)
		return
	}

	var req AddRateRequest
	if !decode(w, r, &req) {
		return
	}

	rate, err := h.Rates.AddRate(ctx, ledger.CommissionRate{
		EmployeeID:    id,
		Role:          req.Role,
		Rate:          req.Rate,
		EffectiveDate: req.EffectiveDate,
	})
	if err != nil {
		h.fail(w, r, "Failed to add rate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRateDTO(rate))
}

// =============================================================================
// DEAL HANDLERS
// =============================================================================

// ListDeals returns deals matching the query filters.
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.DealFilter{EmployeeID: q.Get("employee_id")}

	for _, s := range splitList(q.Get("status")) {
		status := ledger.DealStatus(strings.ToUpper(s))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", s))
			return
		}
		f.Statuses = append(f.Statuses, status)
	}

	var err error
	if f.DealDate, err = parsePeriod(q.Get("deal_from"), q.Get("deal_to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid deal date range", err)
		return
	}
	if f.Deposit, err = parsePeriod(q.Get("deposit_from"), q.Get("deposit_to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid deposit date range", err)
		return
	}

	deals, err := h.Deals.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list deals", err)
		return
	}

	dtos := make([]DealDTO, len(deals))
	for i, d := range deals {
		dtos[i] = toDealDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDeal creates a deal and its accruals.
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var p deal.Patch
	if !decode(w, r, &p) {
		return
	}
	d, err := h.Deals.Create(r.Context(), p)
	if err != nil {
		h.fail(w, r, "Failed to create deal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDealDTO(d))
}

// PreviewDeal computes the split for a deal document without saving it.
func (h *Handler) PreviewDeal(w http.ResponseWriter, r *http.Request) {
	var p deal.Patch
	if !decode(w, r, &p) {
		return
	}
	d, err := h.Deals.Preview(r.Context(), p)
	if err != nil {
		h.fail(w, r, "Failed to preview deal", err)
		return
	}
	writeJSON(w, http.StatusOK, toDealDTO(d))
}

// GetDeal returns a single deal.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.Deals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get deal", err)
		return
	}
	writeJSON(w, http.StatusOK, toDealDTO(d))
}

// UpdateDeal applies a partial update. Absent fields are kept, null clears.
func (h *Handler) UpdateDeal(w http.ResponseWriter, r *http.Request) {
	var p deal.Patch
	if !decode(w, r, &p) {
		return
	}
	d, err := h.Deals.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, "Failed to update deal", err)
		return
	}
	writeJSON(w, http.StatusOK, toDealDTO(d))
}

// DeleteDeal removes a deal with its accruals and payments. Cash-flow rows
// of paid commissions stay.
func (h *Handler) DeleteDeal(w http.ResponseWriter, r *http.Request) {
	if err := h.Deals.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete deal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// ListAccruals returns accruals with paid and remaining amounts.
func (h *Handler) ListAccruals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.AccrualFilter{
		DealID:     q.Get("deal_id"),
		EmployeeID: q.Get("employee_id"),
	}
	var err error
	if f.AccruedAt, err = parsePeriod(q.Get("from"), q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	summaries, err := h.Payroll.Summaries(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list accruals", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrualDTOs(summaries))
}

// GetAnomalies runs the orphan and overpayment scan.
func (h *Handler) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.Payroll.ScanAnomalies(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to scan accruals", err)
		return
	}
	writeJSON(w, http.StatusOK, toAnomaliesDTO(anomalies))
}

// ListPayments returns the payments made against an accrual.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Payroll.Payments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PayAccrual pays part or all of an accrual from an account.
func (h *Handler) PayAccrual(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}

	payReq := payroll.PaymentRequest{
		AccrualID:   chi.URLParam(r, "id"),
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.PaidAt != nil {
		payReq.PaidAt = *req.PaidAt
	}

	payment, err := h.Payroll.AllocatePayment(r.Context(), payReq)
	if err != nil {
		h.fail(w, r, "Failed to pay accrual", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// DeleteAccrual removes an orphaned accrual. Requires ?confirm=true.
func (h *Handler) DeleteAccrual(w http.ResponseWriter, r *http.Request) {
	confirmed := r.URL.Query().Get("confirm") == "true"
	if err := h.Payroll.DeleteOrphanedAccrual(r.Context(), chi.URLParam(r, "id"), confirmed); err != nil {
		h.fail(w, r, "Failed to delete accrual", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CASH HANDLERS
// =============================================================================

// ListAccounts returns all accounts with their balances.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount opens an account with a seed balance.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Cash.OpenAccount(r.Context(), ledger.Account{
		ID:      req.ID,
		Name:    req.Name,
		Type:    req.Type,
		Balance: req.Balance,
	})
	if err != nil {
		h.fail(w, r, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.Store.GetAccount(r.Context(), id)
	if err == nil && a == nil {
		err = ledger.NotFound("account", id)
	}
	if err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*a))
}

// ListCashFlows returns cash-flow rows matching the query filters. from/to
// filter on the planned date.
func (h *Handler) ListCashFlows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.CashFlowFilter{
		Type:      ledger.FlowType(strings.ToUpper(q.Get("type"))),
		Status:    ledger.FlowStatus(strings.ToUpper(q.Get("status"))),
		AccountID: q.Get("account_id"),
		Category:  q.Get("category"),
	}

	var err error
	if f.Recurring, err = parseBool(q.Get("recurring")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recurring flag", err)
		return
	}
	if f.Realized, err = parseBool(q.Get("realized")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid realized flag", err)
		return
	}
	if f.PlannedDate, err = parsePeriod(q.Get("from"), q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	flows, err := h.Cash.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list cash flows", err)
		return
	}

	dtos := make([]CashFlowDTO, len(flows))
	for i, c := range flows {
		dtos[i] = toCashFlowDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCashFlow creates a row and posts its balance effect.
func (h *Handler) CreateCashFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateCashFlowRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Cash.Create(r.Context(), req.toCashFlow())
	if err != nil {
		h.fail(w, r, "Failed to create cash flow", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCashFlowDTO(c))
}

// GetCashFlow returns a single row.
func (h *Handler) GetCashFlow(w http.ResponseWriter, r *http.Request) {
	c, err := h.Cash.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get cash flow", err)
		return
	}
	writeJSON(w, http.StatusOK, toCashFlowDTO(c))
}

// UpdateCashFlow applies a partial update and moves the balance effect.
func (h *Handler) UpdateCashFlow(w http.ResponseWriter, r *http.Request) {
	var p cashflow.Patch
	if !decode(w, r, &p) {
		return
	}
	c, err := h.Cash.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, "Failed to update cash flow", err)
		return
	}
	writeJSON(w, http.StatusOK, toCashFlowDTO(c))
}

// DeleteCashFlow reverses the row's balance effect and removes it.
func (h *Handler) DeleteCashFlow(w http.ResponseWriter, r *http.Request) {
	if err := h.Cash.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete cash flow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// FORECAST AND REPORT HANDLERS
// =============================================================================

// GetForecast projects monthly balances.
// GET /api/forecast?months=6 or ?year=2024
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	months := 0
	if s := q.Get("months"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid months", fmt.Errorf("months must be a non-negative integer, got %q", s))
			return
		}
		months = n
	}

	var year *int
	if s := q.Get("year"); s != "" {
		y, err := parseYear(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = &y
	}

	rows, err := h.Forecast.Project(r.Context(), months, year)
	if err != nil {
		h.fail(w, r, "Failed to project cash flow", err)
		return
	}

	dtos := make([]ForecastDTO, len(rows))
	for i, m := range rows {
		dtos[i] = toForecastDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMonthlyReport returns revenue by month. Defaults to the current year.
func (h *Handler) GetMonthlyReport(w http.ResponseWriter, r *http.Request) {
	year := h.now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := parseYear(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	rows, err := h.Reports.Monthly(r.Context(), year)
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}

	dtos := make([]MonthlyReportDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toMonthlyReportDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployeeReport returns totals per employee for ?from=&to=.
func (h *Handler) GetEmployeeReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		writeError(w, http.StatusBadRequest, "from and to are required", nil)
		return
	}
	period, err := parsePeriod(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	rows, err := h.Reports.ByEmployee(r.Context(), *period)
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}

	dtos := make([]EmployeeReportDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toEmployeeReportDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MAINTENANCE HANDLERS
// =============================================================================

// Recalculate recomputes every deal whose commissions are not manual. Run
// after rate history changes.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	n, err := h.Deals.RecalculateAll(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to recalculate deals", err)
		return
	}
	writeJSON(w, http.StatusOK, RecalculateResponse{Updated: n})
}

// RunScan runs the anomaly scan immediately.
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	var (
		anomalies payroll.Anomalies
		err       error
	)
	if h.Scheduler != nil {
		anomalies, err = h.Scheduler.RunNow(r.Context())
	} else {
		anomalies, err = h.Payroll.ScanAnomalies(r.Context())
	}
	if err != nil {
		h.fail(w, r, "Failed to scan accruals", err)
		return
	}
	writeJSON(w, http.StatusOK, toAnomaliesDTO(anomalies))
}

// GetMaintenanceStatus reports the background scan.
func (h *Handler) GetMaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, MaintenanceStatusDTO{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	return resetter.Reset(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a component error to its HTTP status. Unexpected errors are
// logged; client errors are not.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, "method", r.Method, "path", r.URL.Path, "error", err)
	}

	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}
	var exceeded *ledger.PaymentExceedsRemainingError
	if errors.As(err, &exceeded) {
		resp.Details = map[string]string{
			"message":   err.Error(),
			"remaining": exceeded.Remaining.String(),
			"requested": exceeded.Requested.String(),
		}
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case ledger.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case ledger.IsConsistency(err):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decode reads a JSON body into v and writes a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("expected true or false, got %q", s)
	}
	return &b, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil || y < 1900 || y > 9999 {
		return 0, fmt.Errorf("year must be a four-digit number, got %q", s)
	}
	return y, nil
}

// parsePeriod builds an inclusive period from optional bounds. A missing
// bound is open; both missing means no filter.
func parsePeriod(from, to string) (*ledger.Period, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	p := ledger.Period{
		Start: ledger.NewDate(1900, time.January, 1),
		End:   ledger.NewDate(9999, time.December, 31),
	}
	if from != "" {
		d, err := ledger.ParseDate(from)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		p.Start = d
	}
	if to != "" {
		d, err := ledger.ParseDate(to)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		p.End = d
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func sortedScenarioIDs() []string {
	ids := make([]string, 0, len(scenarioLoaders))
	for id := range scenarioLoaders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
