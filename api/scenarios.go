/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos and manual testing. Each scenario creates employees,
	employments, funding sources and allocations through the same domain
	functions the API uses, inside one unit of work.

AVAILABLE SCENARIOS:

	blended-month:       Probation ends mid-August; run the batch for 2025-08-15
	                     and generate August to see the 30-day blend
	transitioned:        Same employee with the batch already run and August paid
	extended-probation:  Probation pushed from mid-August to mid-September
	failed-probation:    Probation failed at the end of July, allocations terminated
	grant-at-capacity:   Two hires fill a 1.0 fte grant line exactly

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import the default tax rules
 3. Create funding sources
 4. Create employees and employments (initial probation record)
 5. Split each employment across funding sources
 6. Optionally run probation decisions and payroll

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "blended-month"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Domain handlers the scenarios mirror
  - tax/default_rules.yaml: Tax rules every scenario imports
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/funding"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/probation"
	"github.com/warp/payroll-engine/tax"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "blended-month",
		Name:        "Blended Month",
		Description: "Probation 8000 until 2025-08-15, then 18000; 60% grant / 40% organization",
	},
	{
		ID:          "transitioned",
		Name:        "Transitioned",
		Description: "Blended month with the 2025-08-15 batch run and August payroll generated",
	},
	{
		ID:          "extended-probation",
		Name:        "Extended Probation",
		Description: "Probation extended from 2025-08-15 to 2025-09-15",
	},
	{
		ID:          "failed-probation",
		Name:        "Failed Probation",
		Description: "Probation failed on 2025-07-31; allocations terminated",
	},
	{
		ID:          "grant-at-capacity",
		Name:        "Grant At Capacity",
		Description: "A 1.0 fte grant line fully drawn by two employments",
	},
}

// resetter is implemented by stores that can drop all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns all available scenarios.
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

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeDomainError(w, r, "Failed to reset database", err)
		return
	}
	if err := h.Store.WithTx(ctx, func(s core.Store) error { return load(ctx, s) }); err != nil {
		h.writeDomainError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, r, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return &core.PreconditionError{Op: "scenario.reset", Reason: "store does not support reset"}
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

type scenarioLoader func(ctx context.Context, s core.Store) error

func (h *Handler) scenarioLoaders() map[string]scenarioLoader {
	return map[string]scenarioLoader{
		"blended-month":      loadBlendedMonthScenario,
		"transitioned":       loadTransitionedScenario,
		"extended-probation": loadExtendedProbationScenario,
		"failed-probation":   loadFailedProbationScenario,
		"grant-at-capacity":  loadGrantAtCapacityScenario,
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const (
	scenarioGrant      core.FundingSourceID = "grant-edu-2025"
	scenarioEmployee   core.EmployeeID      = "ee-001"
	scenarioEmployment core.EmploymentID    = "emp-001"
)

var (
	probationEnd = core.MustParseDate("2025-08-15")
	hireDate     = core.MustParseDate("2025-06-01")
)

func loadBlendedMonthScenario(ctx context.Context, s core.Store) error {
	if err := seedReferenceData(ctx, s, decimal.NewFromInt(3)); err != nil {
		return err
	}
	emp, err := seedEmployment(ctx, s, scenarioEmployee, scenarioEmployment, "Mali Srisuk", "8000", "18000")
	if err != nil {
		return err
	}
	_, err = funding.Create(ctx, s, emp, hireDate, []funding.Split{
		{FundingSourceID: scenarioGrant, FTE: decimal.RequireFromString("0.6")},
		{FundingSourceID: core.OrganizationFunded, FTE: decimal.RequireFromString("0.4")},
	})
	return err
}

func loadTransitionedScenario(ctx context.Context, s core.Store) error {
	if err := loadBlendedMonthScenario(ctx, s); err != nil {
		return err
	}
	emp, err := s.GetEmployment(ctx, scenarioEmployment)
	if err != nil {
		return err
	}
	// July is paid during probation, before the batch runs.
	if _, err := payroll.Generate(ctx, s, emp.ID, payroll.Input{Period: mustPeriod("2025-07"), Bonus: decimal.Zero}); err != nil {
		return err
	}
	if _, err := probation.Pass(ctx, s, emp.ID, probation.Decision{
		Date:       probationEnd,
		Reason:     "probation period completed",
		ApprovedBy: "system",
	}); err != nil {
		return err
	}
	if _, err := funding.TransitionAfterProbation(ctx, s, *emp, probationEnd); err != nil {
		return err
	}
	_, err = payroll.Generate(ctx, s, emp.ID, payroll.Input{Period: mustPeriod("2025-08"), Bonus: decimal.Zero})
	return err
}

func loadExtendedProbationScenario(ctx context.Context, s core.Store) error {
	if err := loadBlendedMonthScenario(ctx, s); err != nil {
		return err
	}
	_, err := probation.Extend(ctx, s, scenarioEmployment, core.MustParseDate("2025-09-15"), probation.Decision{
		Date:       core.MustParseDate("2025-08-01"),
		Reason:     "needs another month on the reporting workflow",
		ApprovedBy: "hr-manager",
	})
	return err
}

func loadFailedProbationScenario(ctx context.Context, s core.Store) error {
	if err := loadBlendedMonthScenario(ctx, s); err != nil {
		return err
	}
	failedOn := core.MustParseDate("2025-07-31")
	if _, err := probation.Fail(ctx, s, scenarioEmployment, probation.Decision{
		Date:       failedOn,
		Reason:     "did not meet role expectations",
		ApprovedBy: "hr-manager",
	}); err != nil {
		return err
	}
	if _, err := funding.Terminate(ctx, s, scenarioEmployment, failedOn); err != nil {
		return err
	}
	emp, err := s.GetEmployment(ctx, scenarioEmployment)
	if err != nil {
		return err
	}
	emp.EndDate = core.DatePtr(failedOn)
	return s.SaveEmployment(ctx, *emp)
}

func loadGrantAtCapacityScenario(ctx context.Context, s core.Store) error {
	if err := seedReferenceData(ctx, s, decimal.NewFromInt(1)); err != nil {
		return err
	}
	hires := []struct {
		employee   core.EmployeeID
		employment core.EmploymentID
		name       string
		grantFTE   string
	}{
		{"ee-001", "emp-001", "Mali Srisuk", "0.6"},
		{"ee-002", "emp-002", "Niran Chai", "0.4"},
	}
	for _, hire := range hires {
		emp, err := seedEmployment(ctx, s, hire.employee, hire.employment, hire.name, "8000", "18000")
		if err != nil {
			return err
		}
		grantFTE := decimal.RequireFromString(hire.grantFTE)
		if _, err := funding.Create(ctx, s, emp, hireDate, []funding.Split{
			{FundingSourceID: scenarioGrant, FTE: grantFTE},
			{FundingSourceID: core.OrganizationFunded, FTE: decimal.NewFromInt(1).Sub(grantFTE)},
		}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func seedReferenceData(ctx context.Context, s core.Store, grantCapacity decimal.Decimal) error {
	years, err := tax.Defaults()
	if err != nil {
		return err
	}
	rs := tax.NewRulesStore(s)
	for _, r := range years {
		if err := rs.Save(ctx, r); err != nil {
			return err
		}
	}
	return s.SaveFundingSource(ctx, core.FundingSource{
		ID:          scenarioGrant,
		Kind:        core.FundingGrant,
		Name:        "Education Outreach 2025",
		GrantCode:   "EDU-2025-01",
		CapacityFTE: &grantCapacity,
		Version:     1,
	})
}

func seedEmployment(ctx context.Context, s core.Store, eeID core.EmployeeID, id core.EmploymentID, name, probationSalary, salary string) (core.Employment, error) {
	if err := s.SaveEmployee(ctx, core.Employee{
		ID:                      eeID,
		Name:                    name,
		MaritalStatus:           core.MaritalSingle,
		SocialSecurityEnrolled:  true,
		ThirteenthMonthEligible: true,
	}); err != nil {
		return core.Employment{}, err
	}

	prob := decimal.RequireFromString(probationSalary)
	emp := core.Employment{
		ID:               id,
		EmployeeID:       eeID,
		StartDate:        hireDate,
		ProbationEndDate: core.DatePtr(probationEnd),
		ProbationSalary:  &prob,
		Salary:           decimal.RequireFromString(salary),
		Department:       "Programs",
		Position:         "Field Coordinator",
	}
	if err := emp.Validate(); err != nil {
		return emp, err
	}
	if err := s.SaveEmployment(ctx, emp); err != nil {
		return emp, err
	}
	if _, err := probation.CreateInitial(ctx, s, emp); err != nil {
		return emp, err
	}
	return emp, nil
}

func mustPeriod(s string) core.PayPeriod {
	pp, err := core.ParsePayPeriod(s)
	if err != nil {
		panic(err)
	}
	return pp
}
