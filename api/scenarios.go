/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for demos. Every scenario goes through the same components as the
  API, so the derived splits, accruals and balances are real.

AVAILABLE SCENARIOS:
  first-close:       One agent and one manager close a deal; accruals appear
  partial-payments:  Commission paid in instalments from the bank account
  reassignment:      Agent replaced after payment, leaving an orphaned accrual
  cash-crunch:       Recurring costs outrun the pipeline; forecast turns critical

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create employees and rate history
 3. Open accounts
 4. Create deals (split and accruals computed by the deal reconciler)
 5. Optionally pay accruals and add cash-flow rows

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "partial-payments"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Register it in scenarioLoaders

NOTE:
	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-ledger/deal"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/payroll"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-close",
		Name:        "First Close",
		Description: "Agent at 50%, manager at 10%, one closed deal with accruals",
	},
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "Agent commission paid in two instalments from the bank",
	},
	{
		ID:          "reassignment",
		Name:        "Agent Reassignment",
		Description: "Deal handed to another agent after payment; old accrual is orphaned",
	},
	{
		ID:          "cash-crunch",
		Name:        "Cash Crunch",
		Description: "Rent and salaries exceed the pipeline; forecast goes critical",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler) error

var scenarioLoaders = map[string]scenarioLoader{
	"first-close":      loadFirstCloseScenario,
	"partial-payments": loadPartialPaymentsScenario,
	"reassignment":     loadReassignmentScenario,
	"cash-crunch":      loadCashCrunchScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a demo scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario",
			fmt.Errorf("scenario %q not found, available: %v", req.ScenarioID, sortedScenarioIDs()))
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	if err := load(ctx, h); err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

// =============================================================================
// SHARED FIXTURES
// =============================================================================

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rate(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

// seedTeam creates a manager (10%) and an agent (50%) reporting to them,
// plus a bank account with 100000.
func seedTeam(ctx context.Context, h *Handler) error {
	manager := ledger.Employee{ID: "emp-maria", Name: "Maria Lopez", Role: ledger.RoleROP, BaseRateROP: rate("10")}
	if _, err := h.Roster.Save(ctx, manager); err != nil {
		return fmt.Errorf("save manager: %w", err)
	}
	managerID := manager.ID
	agent := ledger.Employee{
		ID: "emp-anna", Name: "Anna Petrova", Role: ledger.RoleAgent,
		BaseRateAgent: rate("50"), ManagerID: &managerID,
	}
	if _, err := h.Roster.Save(ctx, agent); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	if _, err := h.Cash.OpenAccount(ctx, ledger.Account{
		ID: "acc-bank", Name: "Operating account", Type: "bank", Balance: money("100000"),
	}); err != nil {
		return fmt.Errorf("open account: %w", err)
	}
	return nil
}

func (h *Handler) today() ledger.Date { return ledger.DateOf(h.now()) }

func closedDeal(id, client, commissionAmount, agentID string, deposit ledger.Date) deal.Patch {
	return deal.Patch{
		Client:        ledger.Set(client),
		Object:        ledger.Set("Apartment " + id),
		Price:         ledger.Set(money(commissionAmount).Mul(money("25"))),
		Commission:    ledger.Set(money(commissionAmount)),
		AgentID:       ledger.Set(agentID),
		ROPID:         ledger.Set("emp-maria"),
		Status:        ledger.Set(ledger.StatusClosed),
		DepositDate:   ledger.Set(deposit),
		DealDate:      ledger.Set(deposit.AddDays(14)),
		BrokerExpense: ledger.Set(money("1000")),
		TaxRate:       ledger.Set(money("6")),
	}
}

func agentAccrual(ctx context.Context, h *Handler, dealID string) (payroll.AccrualSummary, error) {
	summaries, err := h.Payroll.Summaries(ctx, ledger.AccrualFilter{DealID: dealID})
	if err != nil {
		return payroll.AccrualSummary{}, err
	}
	for _, s := range summaries {
		if s.Role == ledger.RoleAgent {
			return s, nil
		}
	}
	return payroll.AccrualSummary{}, ledger.NotFound("accrual", dealID)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadFirstCloseScenario(ctx context.Context, h *Handler) error {
	if err := seedTeam(ctx, h); err != nil {
		return err
	}
	start := h.today().AddMonths(-1)

	if _, err := h.Deals.Create(ctx, closedDeal("D-1001", "Ivanov family", "20000", "emp-anna", start)); err != nil {
		return fmt.Errorf("create deal: %w", err)
	}

	open := closedDeal("D-1002", "Kim & Partners", "12000", "emp-anna", h.today())
	open.Status = ledger.Set(ledger.StatusWaitingPayment)
	open.DealDate = ledger.Null[ledger.Date]()
	if _, err := h.Deals.Create(ctx, open); err != nil {
		return fmt.Errorf("create open deal: %w", err)
	}
	return nil
}

func loadPartialPaymentsScenario(ctx context.Context, h *Handler) error {
	if err := loadFirstCloseScenario(ctx, h); err != nil {
		return err
	}

	accrual, err := agentAccrual(ctx, h, "D-1001")
	if err != nil {
		return err
	}
	half := accrual.Amount.Div(decimal.NewFromInt(2)).Round(2)
	for i, paidAt := range []ledger.Date{h.today().AddDays(-10), h.today()} {
		if _, err := h.Payroll.AllocatePayment(ctx, payroll.PaymentRequest{
			AccrualID:   accrual.ID,
			AccountID:   "acc-bank",
			Amount:      half,
			PaidAt:      paidAt,
			Description: fmt.Sprintf("Instalment %d", i+1),
		}); err != nil {
			return fmt.Errorf("pay instalment %d: %w", i+1, err)
		}
	}
	return nil
}

func loadReassignmentScenario(ctx context.Context, h *Handler) error {
	if err := loadFirstCloseScenario(ctx, h); err != nil {
		return err
	}
	if _, err := h.Roster.Save(ctx, ledger.Employee{
		ID: "emp-oleg", Name: "Oleg Sidorov", Role: ledger.RoleAgent, BaseRateAgent: rate("45"),
	}); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}

	accrual, err := agentAccrual(ctx, h, "D-1001")
	if err != nil {
		return err
	}
	if _, err := h.Payroll.AllocatePayment(ctx, payroll.PaymentRequest{
		AccrualID: accrual.ID,
		AccountID: "acc-bank",
		Amount:    money("1000"),
		PaidAt:    h.today().AddDays(-5),
	}); err != nil {
		return fmt.Errorf("pay advance: %w", err)
	}

	if _, err := h.Deals.Update(ctx, "D-1001", deal.Patch{AgentID: ledger.Set("emp-oleg")}); err != nil {
		return fmt.Errorf("reassign deal: %w", err)
	}
	return nil
}

func loadCashCrunchScenario(ctx context.Context, h *Handler) error {
	if err := seedTeam(ctx, h); err != nil {
		return err
	}
	month := ledger.CurrentMonth(h.now()).Start()
	bank := "acc-bank"

	recurring := []struct {
		category string
		amount   string
	}{
		{"Office rent", "30000"},
		{"Salaries", "45000"},
		{"Marketing", "8000"},
	}
	for _, r := range recurring {
		if _, err := h.Cash.Create(ctx, ledger.CashFlow{
			Type:        ledger.FlowExpense,
			Amount:      money(r.amount),
			Category:    r.category,
			Description: r.category + " (monthly)",
			Status:      ledger.FlowPlanned,
			PlannedDate: month,
			AccountID:   &bank,
			IsRecurring: true,
		}); err != nil {
			return fmt.Errorf("create %s: %w", r.category, err)
		}
	}

	pipeline := closedDeal("D-2001", "Northwind", "40000", "emp-anna", h.today())
	pipeline.Status = ledger.Set(ledger.StatusRegistration)
	pipeline.DealDate = ledger.Null[ledger.Date]()
	if _, err := h.Deals.Create(ctx, pipeline); err != nil {
		return fmt.Errorf("create pipeline deal: %w", err)
	}

	if _, err := h.Cash.Create(ctx, ledger.CashFlow{
		Type:        ledger.FlowIncome,
		Amount:      money("15000"),
		Category:    "Commission income",
		Description: "Expected developer bonus",
		Status:      ledger.FlowPlanned,
		PlannedDate: month.AddMonths(2),
		AccountID:   &bank,
	}); err != nil {
		return fmt.Errorf("create planned income: %w", err)
	}
	return nil
}
