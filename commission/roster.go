package commission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/commission-ledger/ledger"
)

// =============================================================================
// ROSTER - Employees and their base rates
// =============================================================================

// Roster validates and stores employees. Employees are retired, never
// deleted, because deals and accruals keep referencing them.
type Roster struct {
	Store ledger.Store
	Now   func() time.Time
}

func NewRoster(store ledger.Store) *Roster {
	return &Roster{Store: store, Now: time.Now}
}

// Save creates or replaces an employee.
func (r *Roster) Save(ctx context.Context, e ledger.Employee) (ledger.Employee, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return e, ledger.Invalid("name", "required")
	}
	if e.Role == "" {
		e.Role = ledger.RoleAgent
	}
	if !e.Role.Valid() {
		return e, ledger.Invalid("role", "must be AGENT, ROP or OTHER")
	}
	if e.BaseRateAgent != nil {
		if err := ValidatePercent("base_rate_agent", *e.BaseRateAgent); err != nil {
			return e, err
		}
	}
	if e.BaseRateROP != nil {
		if err := ValidatePercent("base_rate_rop", *e.BaseRateROP); err != nil {
			return e, err
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	existing, err := r.Store.GetEmployee(ctx, e.ID)
	if err != nil {
		return e, fmt.Errorf("get employee: %w", err)
	}
	if existing != nil {
		e.CreatedAt = existing.CreatedAt
	} else {
		e.Active = true
		e.CreatedAt = r.Now().UTC()
	}

	if err := r.checkManager(ctx, e); err != nil {
		return e, err
	}
	if err := r.Store.SaveEmployee(ctx, e); err != nil {
		return e, fmt.Errorf("save employee: %w", err)
	}
	return e, nil
}

// checkManager allows exactly one level: an employee's manager must not
// have a manager, and an employee who manages others cannot get one.
func (r *Roster) checkManager(ctx context.Context, e ledger.Employee) error {
	if e.ManagerID == nil {
		return nil
	}
	if *e.ManagerID == e.ID {
		return fmt.Errorf("employee %s manages itself: %w", e.ID, ledger.ErrManagerCycle)
	}
	manager, err := r.Store.GetEmployee(ctx, *e.ManagerID)
	if err != nil {
		return fmt.Errorf("get manager: %w", err)
	}
	if manager == nil {
		return ledger.NotFound("employee", *e.ManagerID)
	}
	if manager.ManagerID != nil {
		return fmt.Errorf("manager %s has a manager: %w", manager.ID, ledger.ErrManagerCycle)
	}

	all, err := r.Store.ListEmployees(ctx)
	if err != nil {
		return fmt.Errorf("list employees: %w", err)
	}
	for _, other := range all {
		if other.ManagerID != nil && *other.ManagerID == e.ID {
			return fmt.Errorf("employee %s manages %s: %w", e.ID, other.ID, ledger.ErrManagerCycle)
		}
	}
	return nil
}

func (r *Roster) Get(ctx context.Context, id string) (ledger.Employee, error) {
	e, err := r.Store.GetEmployee(ctx, id)
	if err != nil {
		return ledger.Employee{}, err
	}
	if e == nil {
		return ledger.Employee{}, ledger.NotFound("employee", id)
	}
	return *e, nil
}

func (r *Roster) List(ctx context.Context) ([]ledger.Employee, error) {
	return r.Store.ListEmployees(ctx)
}

// Retire marks the employee inactive.
func (r *Roster) Retire(ctx context.Context, id string) (ledger.Employee, error) {
	e, err := r.Get(ctx, id)
	if err != nil {
		return e, err
	}
	e.Active = false
	if err := r.Store.SaveEmployee(ctx, e); err != nil {
		return e, fmt.Errorf("save employee: %w", err)
	}
	return e, nil
}
