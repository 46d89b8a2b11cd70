package probation_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
	"github.com/warp/payroll-engine/probation"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func setup(t *testing.T, probationEnd string) (*probation.Tracker, *store.Memory, core.Employment) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	probSalary := decimal.NewFromInt(8000)
	emp := core.Employment{
		ID:              "emp-1",
		EmployeeID:      "ee-1",
		StartDate:       core.MustParseDate("2025-06-01"),
		Salary:          decimal.NewFromInt(18000),
		ProbationSalary: &probSalary,
	}
	if probationEnd != "" {
		emp.ProbationEndDate = core.DatePtr(core.MustParseDate(probationEnd))
	}
	require.NoError(t, mem.SaveEmployment(ctx, emp))

	return probation.NewTracker(mem, nil), mem, emp
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateInitialRecord(t *testing.T) {
	tracker, mem, emp := setup(t, "2025-08-15")
	ctx := context.Background()

	rec, err := tracker.CreateInitialRecord(ctx, emp.ID)
	require.NoError(t, err)

	assert.Equal(t, core.ProbationInitial, rec.Kind)
	assert.Equal(t, 0, rec.Sequence)
	assert.True(t, rec.IsCurrent)
	assert.Equal(t, emp.StartDate, rec.PeriodStart)
	assert.Equal(t, core.MustParseDate("2025-08-15"), rec.PeriodEnd)

	cur, err := mem.CurrentProbationRecord(ctx, emp.ID)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, rec.ID, cur.ID)
}

func TestCreateInitialRecord_Preconditions(t *testing.T) {
	t.Run("no probation date", func(t *testing.T) {
		tracker, _, emp := setup(t, "")
		_, err := tracker.CreateInitialRecord(context.Background(), emp.ID)
		assert.ErrorIs(t, err, core.ErrPrecondition)
	})

	t.Run("history already exists", func(t *testing.T) {
		tracker, _, emp := setup(t, "2025-08-15")
		ctx := context.Background()
		_, err := tracker.CreateInitialRecord(ctx, emp.ID)
		require.NoError(t, err)

		_, err = tracker.CreateInitialRecord(ctx, emp.ID)
		assert.ErrorIs(t, err, core.ErrPrecondition)
	})
}

// =============================================================================
// EXTEND
// =============================================================================

func TestExtend_SupersedesCurrentRecord(t *testing.T) {
	// GIVEN: probation ending 2025-08-15
	// WHEN: extended twice
	// THEN: sequences increase, previous ends chain, one current record,
	//       employment date follows the latest extension
	tracker, mem, emp := setup(t, "2025-08-15")
	ctx := context.Background()
	_, err := tracker.CreateInitialRecord(ctx, emp.ID)
	require.NoError(t, err)

	first, err := tracker.Extend(ctx, emp.ID, core.MustParseDate("2025-09-15"), probation.Decision{
		Date: core.MustParseDate("2025-08-10"), Reason: "needs more time", ApprovedBy: "hr-1",
	})
	require.NoError(t, err)
	second, err := tracker.Extend(ctx, emp.ID, core.MustParseDate("2025-10-15"), probation.Decision{
		Date: core.MustParseDate("2025-09-10"), Reason: "second extension",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, emp.StartDate, second.PeriodStart, "interval start is unchanged")

	records, err := mem.ListProbationRecords(ctx, emp.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	current := 0
	for i, r := range records {
		if r.IsCurrent {
			current++
		}
		if r.Kind == core.ProbationExtension {
			require.NotNil(t, r.PreviousEnd)
			assert.Equal(t, records[i-1].PeriodEnd, *r.PreviousEnd, "previous end chains to superseded record")
			assert.Greater(t, r.Sequence, records[i-1].Sequence)
		}
	}
	assert.Equal(t, 1, current, "exactly one current record")

	updated, err := mem.GetEmployment(ctx, emp.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MustParseDate("2025-10-15"), *updated.ProbationEndDate)
}

func TestExtend_Preconditions(t *testing.T) {
	t.Run("no current record", func(t *testing.T) {
		tracker, _, emp := setup(t, "2025-08-15")
		_, err := tracker.Extend(context.Background(), emp.ID, core.MustParseDate("2025-09-15"), probation.Decision{})
		var pre *core.PreconditionError
		assert.ErrorAs(t, err, &pre)
	})

	t.Run("new end not after current end", func(t *testing.T) {
		tracker, mem, emp := setup(t, "2025-08-15")
		ctx := context.Background()
		_, err := tracker.CreateInitialRecord(ctx, emp.ID)
		require.NoError(t, err)

		_, err = tracker.Extend(ctx, emp.ID, core.MustParseDate("2025-08-15"), probation.Decision{})
		assert.ErrorIs(t, err, core.ErrPrecondition)

		// Nothing partial is observable.
		records, _ := mem.ListProbationRecords(ctx, emp.ID)
		assert.Len(t, records, 1)
		assert.True(t, records[0].IsCurrent)
	})

	t.Run("already passed", func(t *testing.T) {
		tracker, _, emp := setup(t, "2025-08-15")
		ctx := context.Background()
		_, err := tracker.CreateInitialRecord(ctx, emp.ID)
		require.NoError(t, err)
		_, err = tracker.MarkPassed(ctx, emp.ID, probation.Decision{})
		require.NoError(t, err)

		_, err = tracker.Extend(ctx, emp.ID, core.MustParseDate("2025-09-15"), probation.Decision{})
		assert.ErrorIs(t, err, core.ErrPrecondition)
	})
}

// =============================================================================
// PASS / FAIL
// =============================================================================

func TestMarkPassed_IsTerminal(t *testing.T) {
	tracker, _, emp := setup(t, "2025-08-15")
	ctx := context.Background()
	_, err := tracker.CreateInitialRecord(ctx, emp.ID)
	require.NoError(t, err)

	rec, err := tracker.MarkPassed(ctx, emp.ID, probation.Decision{Date: core.MustParseDate("2025-08-15"), Notes: "good"})
	require.NoError(t, err)
	assert.Equal(t, core.ProbationPassed, rec.Kind)
	assert.True(t, rec.IsCurrent)

	_, err = tracker.MarkPassed(ctx, emp.ID, probation.Decision{})
	assert.ErrorIs(t, err, core.ErrPrecondition, "cannot pass twice")

	_, err = tracker.MarkFailed(ctx, emp.ID, probation.Decision{})
	assert.ErrorIs(t, err, core.ErrPrecondition, "cannot fail after passing")
}

func TestMarkFailed(t *testing.T) {
	tracker, _, emp := setup(t, "2025-08-15")
	ctx := context.Background()
	_, err := tracker.CreateInitialRecord(ctx, emp.ID)
	require.NoError(t, err)

	rec, err := tracker.MarkFailed(ctx, emp.ID, probation.Decision{Reason: "performance"})
	require.NoError(t, err)
	assert.Equal(t, core.ProbationFailed, rec.Kind)
	assert.Equal(t, "performance", rec.Reason)
}

// =============================================================================
// READINESS
// =============================================================================

func TestIsReadyForTransition(t *testing.T) {
	tracker, _, emp := setup(t, "2025-08-15")
	ctx := context.Background()
	_, err := tracker.CreateInitialRecord(ctx, emp.ID)
	require.NoError(t, err)

	onDay := core.MustParseDate("2025-08-15")

	ready, err := tracker.IsReadyForTransition(ctx, emp.ID, onDay)
	require.NoError(t, err)
	assert.True(t, ready)

	ready, err = tracker.IsReadyForTransition(ctx, emp.ID, onDay.AddDays(-1))
	require.NoError(t, err)
	assert.False(t, ready, "only on the completion date")

	// Repeated detection is stable until a decision is recorded.
	ready, err = tracker.IsReadyForTransition(ctx, emp.ID, onDay)
	require.NoError(t, err)
	assert.True(t, ready)

	_, err = tracker.MarkPassed(ctx, emp.ID, probation.Decision{Date: onDay})
	require.NoError(t, err)

	ready, err = tracker.IsReadyForTransition(ctx, emp.ID, onDay)
	require.NoError(t, err)
	assert.False(t, ready, "passed employments are not selected again")

	// Ended employments are never ready.
	tracker2, mem2, emp2 := setup(t, "2025-08-15")
	emp2.EndDate = core.DatePtr(core.MustParseDate("2025-08-01"))
	require.NoError(t, mem2.SaveEmployment(ctx, emp2))
	ready, err = tracker2.IsReadyForTransition(ctx, emp2.ID, onDay)
	require.NoError(t, err)
	assert.False(t, ready)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_Summary(t *testing.T) {
	tracker, _, emp := setup(t, "2025-08-15")
	ctx := context.Background()
	_, err := tracker.CreateInitialRecord(ctx, emp.ID)
	require.NoError(t, err)

	h, err := tracker.History(ctx, emp.ID)
	require.NoError(t, err)
	assert.Equal(t, probation.StatusInProbation, h.Summary.Status)

	_, err = tracker.Extend(ctx, emp.ID, core.MustParseDate("2025-09-30"), probation.Decision{})
	require.NoError(t, err)

	h, err = tracker.History(ctx, emp.ID)
	require.NoError(t, err)
	assert.Equal(t, probation.StatusExtended, h.Summary.Status)
	assert.Equal(t, 1, h.Summary.ExtensionCount)
	assert.Equal(t, core.MustParseDate("2025-08-15"), *h.Summary.OriginalEndDate)
	assert.Equal(t, core.MustParseDate("2025-09-30"), *h.Summary.CurrentEndDate)

	_, err = tracker.MarkPassed(ctx, emp.ID, probation.Decision{})
	require.NoError(t, err)
	h, err = tracker.History(ctx, emp.ID)
	require.NoError(t, err)
	assert.Equal(t, probation.StatusPassed, h.Summary.Status)
	assert.Len(t, h.Records, 3)
}

func TestHistory_NoProbation(t *testing.T) {
	tracker, _, emp := setup(t, "")
	h, err := tracker.History(context.Background(), emp.ID)
	require.NoError(t, err)
	assert.Equal(t, probation.StatusNone, h.Summary.Status)
	assert.Empty(t, h.Records)
}
