package transition

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
	"github.com/warp/payroll-engine/funding"
	"github.com/warp/payroll-engine/probation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	hired   = core.MustParseDate("2025-06-01")
	dueDate = core.MustParseDate("2025-08-15")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	ctx  context.Context
	mem  *store.Memory
	proc *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	return &fixture{
		ctx:  context.Background(),
		mem:  mem,
		proc: NewProcessor(mem, 2, zaptest.NewLogger(t)),
	}
}

// employ stores an employment on probation until probationEnd, its initial
// probation record and a 60/40 grant/org split at the probation salary.
func (f *fixture) employ(t *testing.T, id string, probationEnd core.Date) core.Employment {
	t.Helper()
	ps := dec("8000")
	emp := core.Employment{
		ID:               core.EmploymentID(id),
		EmployeeID:       core.EmployeeID("ee-" + id),
		StartDate:        hired,
		ProbationEndDate: core.DatePtr(probationEnd),
		ProbationSalary:  &ps,
		Salary:           dec("18000"),
	}
	require.NoError(t, f.mem.SaveEmployment(f.ctx, emp))
	require.NoError(t, f.mem.WithTx(f.ctx, func(s core.Store) error {
		if _, err := probation.CreateInitial(f.ctx, s, emp); err != nil {
			return err
		}
		_, err := funding.Create(f.ctx, s, emp, hired, []funding.Split{
			{FundingSourceID: "grant-a", FTE: dec("0.6")},
			{FundingSourceID: core.OrganizationFunded, FTE: dec("0.4")},
		})
		return err
	}))
	return emp
}

func (f *fixture) seedSource(t *testing.T) {
	t.Helper()
	require.NoError(t, f.mem.SaveFundingSource(f.ctx, core.FundingSource{ID: "grant-a", Kind: core.FundingGrant, Name: "Grant A"}))
}

func (f *fixture) active(t *testing.T, id core.EmploymentID) []core.FundingAllocation {
	t.Helper()
	allocs, err := f.mem.ListAllocationsByEmployment(f.ctx, id, core.AllocationFilter{Status: core.AllocationActive})
	require.NoError(t, err)
	return allocs
}

func (f *fixture) current(t *testing.T, id core.EmploymentID) *core.ProbationRecord {
	t.Helper()
	rec, err := f.mem.CurrentProbationRecord(f.ctx, id)
	require.NoError(t, err)
	return rec
}

// =============================================================================
// DAILY RUN
// =============================================================================

func TestRun_PassesDueEmployments(t *testing.T) {
	// GIVEN: three employments due today and one due next week
	f := newFixture(t)
	f.seedSource(t)
	for _, id := range []string{"emp-1", "emp-2", "emp-3"} {
		f.employ(t, id, dueDate)
	}
	f.employ(t, "emp-later", dueDate.AddDays(7))

	// WHEN: the daily run executes
	report, err := f.proc.Run(f.ctx, dueDate)
	require.NoError(t, err)

	// THEN: only the due employments are passed and repriced
	assert.Equal(t, core.RunCompleted, report.Run.Status)
	assert.Equal(t, 3, report.Run.Candidates)
	assert.Equal(t, 3, report.Run.Passed)
	assert.Zero(t, report.Run.Failed)
	require.NotNil(t, report.Run.FinishedAt)

	for _, id := range []core.EmploymentID{"emp-1", "emp-2", "emp-3"} {
		assert.Equal(t, core.ProbationPassed, f.current(t, id).Kind)
		active := f.active(t, id)
		require.Len(t, active, 2)
		for _, a := range active {
			assert.Equal(t, core.TierPostProbation, a.Tier)
			assert.True(t, a.ValidFrom.Equal(dueDate))
		}
		assert.True(t, core.IsWhole(core.SumFTE(active)))
	}
	assert.Equal(t, core.ProbationInitial, f.current(t, "emp-later").Kind)

	runs, err := f.mem.ListTransitionRuns(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.Run.ID, runs[0].ID)
	assert.Equal(t, core.RunCompleted, runs[0].Status)
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seedSource(t)
	f.employ(t, "emp-1", dueDate)

	_, err := f.proc.Run(f.ctx, dueDate)
	require.NoError(t, err)
	all, err := f.mem.ListAllocationsByEmployment(f.ctx, "emp-1", core.AllocationFilter{})
	require.NoError(t, err)
	records, err := f.mem.ListProbationRecords(f.ctx, "emp-1")
	require.NoError(t, err)

	// WHEN: the same day runs again
	report, err := f.proc.Run(f.ctx, dueDate)
	require.NoError(t, err)

	// THEN: nothing is passed twice and the ledger is unchanged
	assert.Equal(t, 1, report.Run.Candidates)
	assert.Zero(t, report.Run.Passed)
	assert.Equal(t, 1, report.Run.Skipped)

	again, err := f.mem.ListAllocationsByEmployment(f.ctx, "emp-1", core.AllocationFilter{})
	require.NoError(t, err)
	assert.Len(t, again, len(all))
	recordsAgain, err := f.mem.ListProbationRecords(f.ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, recordsAgain, len(records))
}

func TestRun_IsolatesFailures(t *testing.T) {
	// GIVEN: emp-bad has active fte summing to 0.7
	f := newFixture(t)
	f.seedSource(t)
	f.employ(t, "emp-1", dueDate)
	f.employ(t, "emp-2", dueDate)

	ps := dec("8000")
	bad := core.Employment{
		ID: "emp-bad", EmployeeID: "ee-bad", StartDate: hired,
		ProbationEndDate: core.DatePtr(dueDate), ProbationSalary: &ps, Salary: dec("18000"),
	}
	require.NoError(t, f.mem.SaveEmployment(f.ctx, bad))
	require.NoError(t, f.mem.InsertAllocation(f.ctx, core.FundingAllocation{
		ID: "bad-1", EmployeeID: bad.EmployeeID, EmploymentID: bad.ID, FundingSourceID: core.OrganizationFunded,
		FTE: dec("0.7"), Amount: dec("5600"), Tier: core.TierProbation,
		Status: core.AllocationActive, ValidFrom: hired,
	}))

	// WHEN
	report, err := f.proc.Run(f.ctx, dueDate)
	require.NoError(t, err)

	// THEN: the bad employment fails alone and is fully rolled back
	assert.Equal(t, core.RunCompletedWithErrors, report.Run.Status)
	assert.Equal(t, 2, report.Run.Passed)
	assert.Equal(t, 1, report.Run.Failed)
	require.Len(t, report.Run.Errors, 1)
	assert.Contains(t, report.Run.Errors[0], "emp-bad")

	var failed Outcome
	for _, o := range report.Outcomes {
		if o.EmploymentID == "emp-bad" {
			failed = o
		}
	}
	assert.Equal(t, OutcomeFailed, failed.Status)
	assert.True(t, core.IsIntegrity(failed.Err))

	assert.Nil(t, f.current(t, "emp-bad"), "initial record rolled back with the rest")
	active := f.active(t, "emp-bad")
	require.Len(t, active, 1)
	assert.Equal(t, core.AllocationID("bad-1"), active[0].ID)

	assert.Equal(t, core.ProbationPassed, f.current(t, "emp-1").Kind)
	assert.Equal(t, core.ProbationPassed, f.current(t, "emp-2").Kind)
}

func TestRun_OpensMissingInitialRecord(t *testing.T) {
	f := newFixture(t)
	ps := dec("8000")
	emp := core.Employment{
		ID: "emp-1", EmployeeID: "ee-1", StartDate: hired,
		ProbationEndDate: core.DatePtr(dueDate), ProbationSalary: &ps, Salary: dec("18000"),
	}
	require.NoError(t, f.mem.SaveEmployment(f.ctx, emp))
	_, err := funding.NewLedger(f.mem, 0, nil).Create(f.ctx, emp.ID, hired, []funding.Split{
		{FundingSourceID: core.OrganizationFunded, FTE: dec("1")},
	})
	require.NoError(t, err)

	report, err := f.proc.Run(f.ctx, dueDate)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Run.Passed)

	records, err := f.mem.ListProbationRecords(f.ctx, emp.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, core.ProbationInitial, records[0].Kind)
	assert.Equal(t, core.ProbationPassed, records[1].Kind)
	assert.Equal(t, systemApprover, records[1].ApprovedBy)
}

func TestRun_CancelledBeforeScheduling(t *testing.T) {
	f := newFixture(t)
	f.seedSource(t)
	f.employ(t, "emp-1", dueDate)
	f.employ(t, "emp-2", dueDate)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	report, err := f.proc.Run(ctx, dueDate)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, core.RunCancelled, report.Run.Status)
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, core.ProbationInitial, f.current(t, "emp-1").Kind)

	runs, err := f.mem.ListTransitionRuns(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, core.RunCancelled, runs[0].Status, "run is stored even when cancelled")
}

// =============================================================================
// ADMIN COMMANDS
// =============================================================================

func TestPass_EarlyMovesBoundary(t *testing.T) {
	f := newFixture(t)
	f.seedSource(t)
	f.employ(t, "emp-1", dueDate)
	early := core.MustParseDate("2025-08-01")

	rec, err := f.proc.Pass(f.ctx, "emp-1", probation.Decision{Date: early, ApprovedBy: "hr-1", Notes: "strong start"})
	require.NoError(t, err)

	assert.Equal(t, core.ProbationPassed, rec.Kind)
	emp, err := f.mem.GetEmployment(f.ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, emp.ProbationEndDate.Equal(early))

	for _, a := range f.active(t, "emp-1") {
		assert.True(t, a.ValidFrom.Equal(early))
		assert.Equal(t, core.TierPostProbation, a.Tier)
	}

	// The daily run on the old date has nothing left to do.
	report, err := f.proc.Run(f.ctx, dueDate)
	require.NoError(t, err)
	assert.Zero(t, report.Run.Candidates)
}

func TestPass_AlreadyPassed(t *testing.T) {
	f := newFixture(t)
	f.seedSource(t)
	f.employ(t, "emp-1", dueDate)
	_, err := f.proc.Pass(f.ctx, "emp-1", probation.Decision{Date: dueDate})
	require.NoError(t, err)

	_, err = f.proc.Pass(f.ctx, "emp-1", probation.Decision{Date: dueDate})
	assert.ErrorIs(t, err, core.ErrPrecondition)
}

func TestPass_RequiresProbation(t *testing.T) {
	t.Run("employment without probation", func(t *testing.T) {
		// GIVEN an employment hired straight onto its post-probation salary
		f := newFixture(t)
		emp := core.Employment{ID: "emp-1", EmployeeID: "ee-1", StartDate: hired, Salary: dec("18000")}
		require.NoError(t, f.mem.SaveEmployment(f.ctx, emp))

		// WHEN an administrator passes it
		_, err := f.proc.Pass(f.ctx, emp.ID, probation.Decision{Date: dueDate, ApprovedBy: "hr-1"})

		// THEN nothing is written and the employment stays valid
		assert.ErrorIs(t, err, core.ErrPrecondition)
		records, err := f.mem.ListProbationRecords(f.ctx, emp.ID)
		require.NoError(t, err)
		assert.Empty(t, records)
		stored, err := f.mem.GetEmployment(f.ctx, emp.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.ProbationEndDate)
		assert.NoError(t, stored.Validate())
	})

	t.Run("probation date without a record", func(t *testing.T) {
		// GIVEN an employment on probation whose log was never opened
		f := newFixture(t)
		ps := dec("8000")
		emp := core.Employment{
			ID: "emp-1", EmployeeID: "ee-1", StartDate: hired,
			ProbationEndDate: core.DatePtr(dueDate), ProbationSalary: &ps, Salary: dec("18000"),
		}
		require.NoError(t, f.mem.SaveEmployment(f.ctx, emp))

		// WHEN an administrator passes it early
		_, err := f.proc.Pass(f.ctx, emp.ID, probation.Decision{Date: core.MustParseDate("2025-08-01")})

		// THEN it is rejected and the probation date is untouched
		assert.ErrorIs(t, err, core.ErrPrecondition)
		assert.Nil(t, f.current(t, emp.ID))
		stored, err := f.mem.GetEmployment(f.ctx, emp.ID)
		require.NoError(t, err)
		assert.True(t, stored.ProbationEndDate.Equal(dueDate))
	})
}

func TestFail_TerminatesAndEndsEmployment(t *testing.T) {
	f := newFixture(t)
	f.seedSource(t)
	f.employ(t, "emp-1", dueDate)
	failOn := core.MustParseDate("2025-07-31")

	rec, n, err := f.proc.Fail(f.ctx, "emp-1", probation.Decision{Date: failOn, Reason: "performance"})
	require.NoError(t, err)

	assert.Equal(t, core.ProbationFailed, rec.Kind)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.active(t, "emp-1"))

	emp, err := f.mem.GetEmployment(f.ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, emp.EndDate)
	assert.True(t, emp.EndDate.Equal(failOn))

	ready, err := probation.IsReadyForTransition(f.ctx, f.mem, *emp, dueDate)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestFail_BeforeStartRejected(t *testing.T) {
	f := newFixture(t)
	f.seedSource(t)
	f.employ(t, "emp-1", dueDate)

	_, _, err := f.proc.Fail(f.ctx, "emp-1", probation.Decision{Date: hired.AddDays(-1)})
	assert.ErrorIs(t, err, core.ErrPrecondition)
	assert.Len(t, f.active(t, "emp-1"), 2)
}
