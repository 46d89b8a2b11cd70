/*
handlers_test.go - HTTP tests for the payroll API

Tests for:
- The probation -> transition -> blended payroll flow end to end
- Request validation and error kind to status mapping
- Probation decisions, funding sources and tax rules endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testRulesYAML = `
year: 2025
brackets:
  - {min: 0,      max: 150000, rate: 0}
  - {min: 150000, max: 300000, rate: 0.05}
  - {min: 300000,              rate: 0.10}
settings:
  personal_expense_rate: 0.5
  personal_expense_cap: 100000
  personal_allowance: 60000
`

type apiFixture struct {
	t      *testing.T
	mem    *store.Memory
	router *chi.Mux
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mem := store.NewMemory()
	h := NewHandler(mem, Options{CapacityMaxRetries: 3, TransitionConcurrency: 2}, zaptest.NewLogger(t))
	return &apiFixture{t: t, mem: mem, router: NewRouter(h, []string{"*"})}
}

// do sends body as-is when it is a string, JSON-encoded otherwise.
func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(f.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) mustDo(method, path string, body any, wantStatus int) *httptest.ResponseRecorder {
	f.t.Helper()
	rec := f.do(method, path, body)
	require.Equal(f.t, wantStatus, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// seed creates tax rules, a grant line, an employee and an employment on
// probation (8000 until 2025-08-15, then 18000).
func (f *apiFixture) seed(grantCapacity string) {
	f.t.Helper()
	f.mustDo(http.MethodPost, "/api/tax/rules", testRulesYAML, http.StatusCreated)
	f.mustDo(http.MethodPost, "/api/funding-sources", CreateFundingSourceRequest{
		ID: "grant-a", Kind: "grant", Name: "Grant A", GrantCode: "GA-1", CapacityFTE: grantCapacity,
	}, http.StatusCreated)
	f.mustDo(http.MethodPost, "/api/employees", CreateEmployeeRequest{
		ID: "ee-1", Name: "Mali Srisuk", Email: "mali@example.org",
	}, http.StatusCreated)
	f.mustDo(http.MethodPost, "/api/employments", CreateEmploymentRequest{
		ID: "emp-1", EmployeeID: "ee-1", StartDate: "2025-06-01",
		ProbationEndDate: "2025-08-15", ProbationSalary: "8000", Salary: "18000",
	}, http.StatusCreated)
}

func (f *apiFixture) split(grantFTE, orgFTE string) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, "/api/employments/emp-1/allocations", CreateAllocationsRequest{
		EffectiveDate: "2025-06-01",
		Splits: []SplitRequest{
			{FundingSourceID: "grant-a", FTE: grantFTE},
			{FundingSourceID: "org", FTE: orgFTE},
		},
	})
}

func bySource(allocs []AllocationDTO) map[string]AllocationDTO {
	out := make(map[string]AllocationDTO, len(allocs))
	for _, a := range allocs {
		out[a.FundingSourceID] = a
	}
	return out
}

// =============================================================================
// END TO END
// =============================================================================

func TestLifecycle_ProbationTransitionAndBlendedPayroll(t *testing.T) {
	// GIVEN: An employment on probation split 60/40 between a grant and the org
	f := newAPIFixture(t)
	f.seed("2")

	hist := decodeBody[ProbationHistoryDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/probation", nil, http.StatusOK))
	assert.Equal(t, "in_probation", hist.Status)
	require.Len(t, hist.Records, 1)
	assert.Equal(t, "2025-08-15", hist.Records[0].PeriodEnd)

	created := decodeBody[map[string][]AllocationDTO](t, f.mustDo(http.MethodPost, "/api/employments/emp-1/allocations",
		CreateAllocationsRequest{EffectiveDate: "2025-06-01", Splits: []SplitRequest{
			{FundingSourceID: "grant-a", FTE: "0.6"},
			{FundingSourceID: "org", FTE: "0.4"},
		}}, http.StatusCreated))
	probationAllocs := bySource(created["allocations"])
	assert.Equal(t, "4800.00", probationAllocs["grant-a"].Amount)
	assert.Equal(t, "3200.00", probationAllocs["org"].Amount)
	assert.Equal(t, "probation", probationAllocs["grant-a"].Tier)

	// WHEN: The daily batch runs on the probation end date
	rep := decodeBody[TransitionReportDTO](t, f.mustDo(http.MethodPost, "/api/transitions/run?date=2025-08-15", nil, http.StatusOK))

	// THEN: The employment passes and its allocations are repriced
	assert.Equal(t, "completed", rep.Run.Status)
	assert.Equal(t, 1, rep.Run.Passed)
	require.Len(t, rep.Outcomes, 1)
	assert.Equal(t, 2, rep.Outcomes[0].Allocations)

	active := decodeBody[map[string][]AllocationDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/allocations?status=active", nil, http.StatusOK))
	post := bySource(active["allocations"])
	require.Len(t, post, 2)
	assert.Equal(t, "10800.00", post["grant-a"].Amount)
	assert.Equal(t, "7200.00", post["org"].Amount)
	assert.Equal(t, "2025-08-15", post["grant-a"].ValidFrom)
	assert.Equal(t, probationAllocs["grant-a"].ID, post["grant-a"].SupersedesID)

	historical := decodeBody[map[string][]AllocationDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/allocations?status=historical", nil, http.StatusOK))
	require.Len(t, historical["allocations"], 2)
	assert.Equal(t, "2025-08-14", historical["allocations"][0].ValidTo)

	hist = decodeBody[ProbationHistoryDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/probation", nil, http.StatusOK))
	assert.Equal(t, "passed", hist.Status)

	// AND: August salary is blended on the 30-day rule
	sal := decodeBody[SalaryDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/salary?from=2025-08-01&to=2025-08-31", nil, http.StatusOK))
	assert.True(t, sal.Blended)
	assert.Equal(t, "13333.33", sal.Total)
	require.Len(t, sal.Segments, 2)
	assert.Equal(t, 16, sal.Segments[1].WeightedDays)

	// AND: August payroll is apportioned by fte with the remainder on the last share
	res := decodeBody[PayrollResultDTO](t, f.mustDo(http.MethodPost, "/api/employments/emp-1/payroll",
		GeneratePayrollRequest{Period: "2025-08"}, http.StatusCreated))
	assert.Equal(t, 1, res.Revision)
	require.Len(t, res.Records, 2)
	gross := map[string]string{}
	for _, r := range res.Records {
		gross[r.FundingSourceID] = r.GrossSalary
		assert.Equal(t, "0.00", r.IncomeTax)
		assert.Equal(t, r.GrossSalary, r.NetSalary)
	}
	assert.Equal(t, "8000.00", gross["grant-a"])
	assert.Equal(t, "5333.33", gross["org"])

	listed := decodeBody[map[string][]PayrollRecordDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/payroll?period=2025-08", nil, http.StatusOK))
	assert.Len(t, listed["records"], 2)

	// AND: A second generation is refused until recalculation is asked for
	f.mustDo(http.MethodPost, "/api/employments/emp-1/payroll", GeneratePayrollRequest{Period: "2025-08"}, http.StatusUnprocessableEntity)
	res = decodeBody[PayrollResultDTO](t, f.mustDo(http.MethodPost, "/api/employments/emp-1/payroll",
		GeneratePayrollRequest{Period: "2025-08", Bonus: "1000", Recalculate: true}, http.StatusCreated))
	assert.Equal(t, 2, res.Revision)

	runs := decodeBody[map[string][]TransitionRunDTO](t, f.mustDo(http.MethodGet, "/api/transitions/runs", nil, http.StatusOK))
	require.Len(t, runs["runs"], 1)
	assert.Equal(t, "2025-08-15", runs["runs"][0].AsOf)
}

// =============================================================================
// VALIDATION AND ERROR MAPPING
// =============================================================================

func TestCreateEmployment_Validation(t *testing.T) {
	f := newAPIFixture(t)
	f.mustDo(http.MethodPost, "/api/employees", CreateEmployeeRequest{ID: "ee-1", Name: "A"}, http.StatusCreated)

	tests := []struct {
		name   string
		body   any
		status int
		field  string
	}{
		{
			name:   "missing salary",
			body:   CreateEmploymentRequest{ID: "emp-1", EmployeeID: "ee-1", StartDate: "2025-06-01"},
			status: http.StatusUnprocessableEntity,
			field:  "CreateEmploymentRequest.Salary",
		},
		{
			name:   "bad start date",
			body:   CreateEmploymentRequest{ID: "emp-1", EmployeeID: "ee-1", StartDate: "01/06/2025", Salary: "18000"},
			status: http.StatusUnprocessableEntity,
			field:  "CreateEmploymentRequest.StartDate",
		},
		{
			name:   "probation date without probation salary",
			body:   CreateEmploymentRequest{ID: "emp-1", EmployeeID: "ee-1", StartDate: "2025-06-01", ProbationEndDate: "2025-08-15", Salary: "18000"},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "unknown employee",
			body:   CreateEmploymentRequest{ID: "emp-1", EmployeeID: "ee-404", StartDate: "2025-06-01", Salary: "18000"},
			status: http.StatusNotFound,
		},
		{
			name:   "unknown field",
			body:   `{"id":"emp-1","employee_id":"ee-1","start_date":"2025-06-01","salary":"18000","bogus":1}`,
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.mustDo(http.MethodPost, "/api/employments", tt.body, tt.status)
			if tt.field != "" {
				resp := decodeBody[ErrorResponse](t, rec)
				assert.Contains(t, resp.Fields, tt.field)
			}
		})
	}
}

func TestCreateEmployment_Duplicate(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("2")

	f.mustDo(http.MethodPost, "/api/employments", CreateEmploymentRequest{
		ID: "emp-1", EmployeeID: "ee-1", StartDate: "2025-06-01", Salary: "18000",
	}, http.StatusConflict)
}

func TestGetEmployment_CurrentSalary(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("2")

	emp := decodeBody[EmploymentDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1", nil, http.StatusOK))
	assert.Equal(t, "8000.00", emp.ProbationSalary)
	assert.Equal(t, "18000.00", emp.Salary)
	assert.NotEmpty(t, emp.CurrentSalary)

	f.mustDo(http.MethodGet, "/api/employments/emp-404", nil, http.StatusNotFound)
}

func TestCreateAllocations_Rejections(t *testing.T) {
	t.Run("fte does not sum to one", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seed("2")
		rec := f.split("0.6", "0.3")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	})

	t.Run("grant over capacity", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seed("0.5")
		rec := f.split("0.6", "0.4")
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		allocs := decodeBody[map[string][]AllocationDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/allocations", nil, http.StatusOK))
		assert.Empty(t, allocs["allocations"])
	})

	t.Run("no splits", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seed("2")
		f.mustDo(http.MethodPost, "/api/employments/emp-1/allocations",
			CreateAllocationsRequest{EffectiveDate: "2025-06-01"}, http.StatusUnprocessableEntity)
	})

	t.Run("bad status filter", func(t *testing.T) {
		f := newAPIFixture(t)
		f.mustDo(http.MethodGet, "/api/employments/emp-1/allocations?status=pending", nil, http.StatusBadRequest)
	})
}

func TestGeneratePayroll_MissingTaxYearIsFailedDependency(t *testing.T) {
	// GIVEN: Allocations exist but no 2026 tax rules were imported
	f := newAPIFixture(t)
	f.seed("2")
	require.Equal(t, http.StatusCreated, f.split("0.6", "0.4").Code)

	// WHEN/THEN
	rec := f.mustDo(http.MethodPost, "/api/employments/emp-1/payroll", GeneratePayrollRequest{Period: "2026-01"}, http.StatusFailedDependency)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "2026")
}

func TestGeneratePayroll_Validation(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("2")

	f.mustDo(http.MethodPost, "/api/employments/emp-1/payroll", GeneratePayrollRequest{Period: "August"}, http.StatusUnprocessableEntity)
	f.mustDo(http.MethodPost, "/api/employments/emp-1/payroll", GeneratePayrollRequest{Period: "2025-08"}, http.StatusUnprocessableEntity)
	f.mustDo(http.MethodGet, "/api/employments/emp-1/payroll", nil, http.StatusBadRequest)
}

// =============================================================================
// PROBATION DECISIONS
// =============================================================================

func TestProbation_ExtendThenFail(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("2")
	require.Equal(t, http.StatusCreated, f.split("0.6", "0.4").Code)

	f.mustDo(http.MethodPost, "/api/employments/emp-1/probation/extend", ProbationDecisionRequest{Reason: "more time"}, http.StatusUnprocessableEntity)

	ext := decodeBody[ProbationRecordDTO](t, f.mustDo(http.MethodPost, "/api/employments/emp-1/probation/extend",
		ProbationDecisionRequest{NewEndDate: "2025-09-15", Date: "2025-08-01", Reason: "more time", ApprovedBy: "hr"}, http.StatusOK))
	assert.Equal(t, "extension", ext.Kind)
	assert.Equal(t, "2025-09-15", ext.PeriodEnd)
	assert.Equal(t, "2025-08-15", ext.PreviousEnd)
	assert.Equal(t, 1, ext.Sequence)

	// The old end date no longer selects the employment.
	rep := decodeBody[TransitionReportDTO](t, f.mustDo(http.MethodPost, "/api/transitions/run?date=2025-08-15", nil, http.StatusOK))
	assert.Equal(t, 0, rep.Run.Candidates)

	out := decodeBody[map[string]any](t, f.mustDo(http.MethodPost, "/api/employments/emp-1/probation/fail",
		ProbationDecisionRequest{Date: "2025-08-31", Reason: "did not meet expectations"}, http.StatusOK))
	assert.EqualValues(t, 2, out["terminated_allocations"])

	emp := decodeBody[EmploymentDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1", nil, http.StatusOK))
	assert.Equal(t, "2025-08-31", emp.EndDate)

	hist := decodeBody[ProbationHistoryDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/probation", nil, http.StatusOK))
	assert.Equal(t, "failed", hist.Status)
	assert.Equal(t, 1, hist.ExtensionCount)
	assert.Equal(t, "2025-08-15", hist.OriginalEndDate)

	// Terminal: no further decisions.
	f.mustDo(http.MethodPost, "/api/employments/emp-1/probation/pass", nil, http.StatusUnprocessableEntity)
}

func TestProbation_EarlyPass(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("2")
	require.Equal(t, http.StatusCreated, f.split("0.6", "0.4").Code)

	rec := decodeBody[ProbationRecordDTO](t, f.mustDo(http.MethodPost, "/api/employments/emp-1/probation/pass",
		ProbationDecisionRequest{Date: "2025-08-01", Reason: "excellent"}, http.StatusOK))
	assert.Equal(t, "passed", rec.Kind)
	assert.Equal(t, "admin", rec.ApprovedBy)

	emp := decodeBody[EmploymentDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1", nil, http.StatusOK))
	assert.Equal(t, "2025-08-01", emp.ProbationEndDate)

	active := decodeBody[map[string][]AllocationDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-1/allocations?status=active", nil, http.StatusOK))
	assert.Equal(t, "10800.00", bySource(active["allocations"])["grant-a"].Amount)
}

// =============================================================================
// FUNDING SOURCES AND TAX RULES
// =============================================================================

func TestFundingSources(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("2")

	f.mustDo(http.MethodPost, "/api/funding-sources", CreateFundingSourceRequest{ID: "org", Kind: "organization", Name: "Org"}, http.StatusUnprocessableEntity)
	f.mustDo(http.MethodPost, "/api/funding-sources", CreateFundingSourceRequest{ID: "g", Kind: "donor", Name: "G"}, http.StatusUnprocessableEntity)

	cap0 := decodeBody[CapacityDTO](t, f.mustDo(http.MethodGet, "/api/funding-sources/grant-a/capacity", nil, http.StatusOK))
	assert.Equal(t, "2", cap0.Capacity)
	assert.Equal(t, "0", cap0.Committed)

	require.Equal(t, http.StatusCreated, f.split("0.6", "0.4").Code)

	cap1 := decodeBody[CapacityDTO](t, f.mustDo(http.MethodGet, "/api/funding-sources/grant-a/capacity", nil, http.StatusOK))
	assert.Equal(t, "0.6", cap1.Committed)
	assert.Equal(t, "1.4", cap1.Available)
	assert.Equal(t, 1, cap1.Active)

	allocs := decodeBody[map[string][]AllocationDTO](t, f.mustDo(http.MethodGet, "/api/funding-sources/grant-a/allocations", nil, http.StatusOK))
	assert.Len(t, allocs["allocations"], 1)

	f.mustDo(http.MethodGet, "/api/funding-sources/nope/capacity", nil, http.StatusNotFound)
}

func TestTaxRules_ImportAndGet(t *testing.T) {
	f := newAPIFixture(t)

	out := decodeBody[map[string][]int](t, f.mustDo(http.MethodPost, "/api/tax/rules", testRulesYAML, http.StatusCreated))
	assert.Equal(t, []int{2025}, out["years"])

	rules := decodeBody[TaxRulesDTO](t, f.mustDo(http.MethodGet, "/api/tax/rules/2025", nil, http.StatusOK))
	require.Len(t, rules.Brackets, 3)
	assert.Empty(t, rules.Brackets[2].Max)
	assert.Equal(t, "0.5", rules.Settings["personal_expense_rate"])

	f.mustDo(http.MethodGet, "/api/tax/rules/2030", nil, http.StatusFailedDependency)
	f.mustDo(http.MethodGet, "/api/tax/rules/next", nil, http.StatusBadRequest)

	// Gap between brackets
	bad := `{"year": 2026, "brackets": [{"min": 0, "max": 100, "rate": 0}, {"min": 200, "rate": 0.1}]}`
	f.mustDo(http.MethodPost, "/api/tax/rules", bad, http.StatusBadRequest)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_LoadEach(t *testing.T) {
	f := newAPIFixture(t)

	list := decodeBody[[]ScenarioDTO](t, f.mustDo(http.MethodGet, "/api/scenarios", nil, http.StatusOK))
	require.Len(t, list, len(scenarios))

	for _, s := range list {
		t.Run(s.ID, func(t *testing.T) {
			f.mustDo(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: s.ID}, http.StatusOK)
			cur := decodeBody[ScenarioDTO](t, f.mustDo(http.MethodGet, "/api/scenarios/current", nil, http.StatusOK))
			assert.Equal(t, s.ID, cur.ID)
		})
	}

	f.mustDo(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, http.StatusBadRequest)
}

func TestScenarios_Contents(t *testing.T) {
	f := newAPIFixture(t)

	f.mustDo(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "transitioned"}, http.StatusOK)
	aug := decodeBody[map[string][]PayrollRecordDTO](t, f.mustDo(http.MethodGet, "/api/employments/emp-001/payroll?period=2025-08", nil, http.StatusOK))
	require.Len(t, aug["records"], 2)

	f.mustDo(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "grant-at-capacity"}, http.StatusOK)
	c := decodeBody[CapacityDTO](t, f.mustDo(http.MethodGet, fmt.Sprintf("/api/funding-sources/%s/capacity", scenarioGrant), nil, http.StatusOK))
	assert.Equal(t, "1", c.Committed)
	assert.Equal(t, "0", c.Available)

	f.mustDo(http.MethodPost, "/api/scenarios/reset", nil, http.StatusOK)
	f.mustDo(http.MethodGet, "/api/employments/emp-001", nil, http.StatusNotFound)
}

// =============================================================================
// STATUS MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &core.NotFoundError{Entity: "employment", ID: "x"}, http.StatusNotFound},
		{"precondition", &core.PreconditionError{Op: "op", Reason: "r"}, http.StatusUnprocessableEntity},
		{"fte on create", &core.FTESumError{EmploymentID: "e"}, http.StatusUnprocessableEntity},
		{"fte derived", &core.FTESumError{Derived: true}, http.StatusInternalServerError},
		{"capacity", &core.CapacityError{FundingSourceID: "g"}, http.StatusConflict},
		{"version race", fmt.Errorf("bump: %w", core.ErrConcurrentModification), http.StatusConflict},
		{"duplicate", core.ErrDuplicate, http.StatusConflict},
		{"tax year", &core.TaxRulesMissingError{Year: 2030}, http.StatusFailedDependency},
		{"integrity", &core.IntegrityError{Op: "op"}, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
