package salary

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func probationEmployment(completion string) core.Employment {
	prob := dec("8000")
	return core.Employment{
		ID:               "emp-1",
		EmployeeID:       "ee-1",
		StartDate:        core.MustParseDate("2025-06-01"),
		ProbationEndDate: core.DatePtr(core.MustParseDate(completion)),
		ProbationSalary:  &prob,
		Salary:           dec("18000"),
	}
}

func TestCurrentSalary(t *testing.T) {
	emp := probationEmployment("2025-08-15")

	assert.True(t, CurrentSalary(emp, core.MustParseDate("2025-08-14")).Equal(dec("8000")))
	assert.True(t, CurrentSalary(emp, core.MustParseDate("2025-08-15")).Equal(dec("18000")), "completion day is post-probation")

	emp.ProbationSalary = nil
	assert.True(t, CurrentSalary(emp, core.MustParseDate("2025-07-01")).Equal(dec("18000")), "no probation tier defined")
}

func TestResolveForPeriod_BlendedScenario(t *testing.T) {
	// GIVEN: completion on 2025-08-15, salaries 8000 / 18000
	// WHEN: resolving August 2025
	// THEN: 14/30 x 8000 + 16/30 x 18000 = 13333.33
	emp := probationEmployment("2025-08-15")

	res, err := ResolveMonth(emp, core.PayPeriod{Year: 2025, Month: time.August})
	require.NoError(t, err)

	assert.True(t, res.Blended)
	assert.Equal(t, "13333.33", res.Total.StringFixed(2))
	require.Len(t, res.Segments, 2)

	prob, post := res.Segments[0], res.Segments[1]
	assert.Equal(t, core.TierProbation, prob.Tier)
	assert.Equal(t, 14, prob.Days)
	assert.Equal(t, 14, prob.WeightedDays)
	assert.Equal(t, "3733.33", prob.Amount.StringFixed(2))
	assert.Equal(t, core.MustParseDate("2025-08-14"), prob.To)

	assert.Equal(t, core.TierPostProbation, post.Tier)
	assert.Equal(t, 17, post.Days, "calendar days")
	assert.Equal(t, 16, post.WeightedDays, "30-day month remainder")
	assert.Equal(t, "9600.00", post.Amount.StringFixed(2))
}

func TestResolveForPeriod_NoBlending(t *testing.T) {
	tests := []struct {
		name       string
		completion string
		want       string
		tier       core.SalaryTier
	}{
		{"completion before period", "2025-07-20", "18000.00", core.TierPostProbation},
		{"completion on period start", "2025-08-01", "18000.00", core.TierPostProbation},
		{"completion after period", "2025-09-01", "8000.00", core.TierProbation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emp := probationEmployment(tt.completion)
			res, err := ResolveMonth(emp, core.PayPeriod{Year: 2025, Month: time.August})
			require.NoError(t, err)
			assert.False(t, res.Blended)
			assert.Equal(t, tt.want, res.Total.StringFixed(2))
			require.Len(t, res.Segments, 1)
			assert.Equal(t, tt.tier, res.Segments[0].Tier)
			assert.Equal(t, 31, res.Segments[0].Days)
		})
	}
}

func TestResolveForPeriod_NoProbation(t *testing.T) {
	emp := core.Employment{ID: "emp-2", StartDate: core.MustParseDate("2025-01-01"), Salary: dec("25000")}
	res, err := ResolveMonth(emp, core.PayPeriod{Year: 2025, Month: time.February})
	require.NoError(t, err)
	assert.Equal(t, "25000.00", res.Total.StringFixed(2))
}

func TestResolveForPeriod_InvalidPeriod(t *testing.T) {
	emp := probationEmployment("2025-08-15")
	_, err := ResolveForPeriod(emp, core.MustParseDate("2025-08-31"), core.MustParseDate("2025-08-01"))
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)
}

// The blended salary must move in bounded steps as the completion date
// sweeps from before the period, through it, to after it.
func TestResolveForPeriod_Continuity(t *testing.T) {
	maxStep := dec("333.34") // (18000 - 8000) / 30, plus rounding

	for _, pp := range []core.PayPeriod{
		{Year: 2025, Month: time.June},
		{Year: 2025, Month: time.August},
	} {
		t.Run(pp.String(), func(t *testing.T) {
			var prev *decimal.Decimal
			for c := pp.Start().AddDays(-3); !c.After(pp.End().AddDays(3)); c = c.AddDays(1) {
				emp := probationEmployment(c.String())
				emp.StartDate = core.MustParseDate("2025-01-01")

				res, err := ResolveMonth(emp, pp)
				require.NoError(t, err)

				if prev != nil {
					step := res.Total.Sub(*prev).Abs()
					assert.True(t, step.LessThanOrEqual(maxStep),
						"completion %s: step %s exceeds %s", c, step, maxStep)
					assert.True(t, res.Total.LessThanOrEqual(*prev),
						"later completion never raises the salary (completion %s)", c)
				}
				total := res.Total
				prev = &total
			}
		})
	}
}

// February has 28 calendar days but is weighted as 30, so completion on
// the last day still leaves 3 weighted days that jump to the probation
// salary once completion moves into March.
func TestResolveForPeriod_FebruaryEndStep(t *testing.T) {
	feb := core.PayPeriod{Year: 2025, Month: time.February}
	maxStep := dec("333.34")

	totals := map[string]string{}
	var prev *decimal.Decimal
	for c := feb.Start().AddDays(-3); !c.After(feb.End().AddDays(3)); c = c.AddDays(1) {
		emp := probationEmployment(c.String())
		emp.StartDate = core.MustParseDate("2025-01-01")

		res, err := ResolveMonth(emp, feb)
		require.NoError(t, err)
		totals[c.String()] = res.Total.StringFixed(2)

		if prev != nil && c.String() != "2025-03-01" {
			step := res.Total.Sub(*prev).Abs()
			assert.True(t, step.LessThanOrEqual(maxStep), "completion %s: step %s exceeds %s", c, step, maxStep)
		}
		total := res.Total
		prev = &total
	}

	assert.Equal(t, "9333.33", totals["2025-02-27"])
	assert.Equal(t, "9000.00", totals["2025-02-28"])
	assert.Equal(t, "8000.00", totals["2025-03-01"])
	step := dec(totals["2025-02-28"]).Sub(dec(totals["2025-03-01"]))
	assert.Equal(t, "1000.00", step.StringFixed(2), "3 weighted days at (18000 - 8000) / 30")
}

func TestResolver_ForPeriod(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	emp := probationEmployment("2025-08-15")
	require.NoError(t, mem.SaveEmployment(ctx, emp))

	r := NewResolver(mem)
	res, err := r.ForPeriod(ctx, emp.ID, core.MustParseDate("2025-08-01"), core.MustParseDate("2025-08-31"))
	require.NoError(t, err)
	assert.Equal(t, "13333.33", res.Total.StringFixed(2))

	cur, err := r.Current(ctx, emp.ID, core.MustParseDate("2025-09-01"))
	require.NoError(t, err)
	assert.True(t, cur.Equal(dec("18000")))

	_, err = r.ForPeriod(ctx, "missing", core.MustParseDate("2025-08-01"), core.MustParseDate("2025-08-31"))
	assert.True(t, core.IsNotFound(err))
}
