/*
scheduler.go - Automated payroll anomaly scan

PURPOSE:
  Periodically scans payroll accruals for anomalies (orphaned after an
  agent/ROP reassignment, overpaid after a commission was lowered) and
  logs what it finds. The scan never modifies data; remediation stays a
  confirmed operator action (DELETE /api/accruals/{id}?confirm=true).

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last result for GET /api/maintenance/status

CONFIGURATION:
  - CheckInterval: How often to scan (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewMaintenanceScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunScan endpoint (manual scan)
  - payroll/orphan.go: ScanAnomalies
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/commission-ledger/payroll"
)

// MaintenanceScheduler runs the anomaly scan on an interval.
type MaintenanceScheduler struct {
	Payroll       *payroll.Engine
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	resultMu sync.Mutex
	lastRun  time.Time
	runs     int
	last     *payroll.Anomalies
}

// NewMaintenanceScheduler creates a new scheduler.
func NewMaintenanceScheduler(engine *payroll.Engine, logger *slog.Logger) *MaintenanceScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceScheduler{
		Payroll:       engine,
		Logger:        logger.With("component", "scheduler"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (ms *MaintenanceScheduler) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		ms.Logger.Info("disabled, not starting")
		return
	}
	if ms.ticker != nil {
		return
	}

	// A fresh stop channel per start, so Start after Stop runs again.
	ms.ticker = time.NewTicker(ms.CheckInterval)
	ms.stop = make(chan struct{})
	ms.wg.Add(1)

	go ms.run(ms.ticker, ms.stop)

	ms.Logger.Info("started", "interval", ms.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight scan.
func (ms *MaintenanceScheduler) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.ticker != nil {
		ms.ticker.Stop()
		close(ms.stop)
		ms.wg.Wait()
		ms.ticker = nil
		ms.stop = nil
		ms.Logger.Info("stopped")
	}
}

func (ms *MaintenanceScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ms.wg.Done()

	// Run immediately on start
	ms.scan(context.Background())

	for {
		select {
		case <-ticker.C:
			ms.scan(context.Background())
		case <-stop:
			return
		}
	}
}

func (ms *MaintenanceScheduler) scan(ctx context.Context) {
	if _, err := ms.RunNow(ctx); err != nil {
		ms.Logger.Error("anomaly scan failed", "error", err)
	}
}

// RunNow scans immediately and records the result.
func (ms *MaintenanceScheduler) RunNow(ctx context.Context) (payroll.Anomalies, error) {
	started := time.Now()
	anomalies, err := ms.Payroll.ScanAnomalies(ctx)
	if err != nil {
		return payroll.Anomalies{}, err
	}

	ms.resultMu.Lock()
	ms.lastRun = started
	ms.runs++
	ms.last = &anomalies
	ms.resultMu.Unlock()

	if anomalies.Empty() {
		ms.Logger.Debug("anomaly scan clean", "took", time.Since(started))
		return anomalies, nil
	}
	for _, a := range anomalies.Orphaned {
		ms.Logger.Warn("orphaned accrual",
			"accrual", a.ID, "deal", a.DealID, "employee", a.EmployeeID,
			"role", a.Role, "current_assignee", a.CurrentAssignee, "paid", a.Paid.String())
	}
	for _, a := range anomalies.Overpaid {
		ms.Logger.Warn("overpaid accrual",
			"accrual", a.ID, "deal", a.DealID, "employee", a.EmployeeID,
			"amount", a.Amount.String(), "paid", a.Paid.String())
	}
	ms.Logger.Info("anomaly scan completed",
		"orphaned", len(anomalies.Orphaned), "overpaid", len(anomalies.Overpaid))
	return anomalies, nil
}

// GetNextRunTime returns when the next scheduled scan will occur.
func (ms *MaintenanceScheduler) GetNextRunTime() time.Time {
	ms.resultMu.Lock()
	defer ms.resultMu.Unlock()
	if ms.lastRun.IsZero() {
		return time.Now().Add(ms.CheckInterval)
	}
	return ms.lastRun.Add(ms.CheckInterval)
}

// Status reports the scheduler settings and last result.
func (ms *MaintenanceScheduler) Status() MaintenanceStatusDTO {
	status := MaintenanceStatusDTO{
		Enabled:  ms.Enabled,
		Interval: ms.CheckInterval.String(),
	}
	if ms.Enabled {
		status.NextRun = formatTime(ms.GetNextRunTime())
	}

	ms.resultMu.Lock()
	defer ms.resultMu.Unlock()
	status.LastRun = formatTime(ms.lastRun)
	status.Runs = ms.runs
	if ms.last != nil {
		dto := toAnomaliesDTO(*ms.last)
		status.Last = &dto
	}
	return status
}
