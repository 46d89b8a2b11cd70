/*
Package salary resolves which nominal salary applies to an employment on a
date or over a pay period.

PRO-RATING:
  When the probation-completion date C falls inside [start, end], the
  period splits into a probation segment [start, C) and a post-probation
  segment [C, end]. Segments are weighted against a standardized 30-day
  month, not the calendar month:

    probation weight = min(days in [start, C), 30)
    post weight      = 30 - probation weight
    amount           = round(salary x weight / 30) per segment, then summed

  So August 2025 with C = 08-15 gives 14/30 x 8000 + 16/30 x 18000 =
  3733.33 + 9600.00 = 13333.33, even though the post segment spans 17
  calendar days. The breakdown reports both the calendar days and the
  weighted days.

  C on or before start means the whole period is post-probation; C after
  end means the whole period is at the probation salary.

  Months shorter than 30 days are not continuous at their end: C on the
  last day of February still weights 3 or 2 post-probation days, and C on
  March 1 drops them. Months of 30 or 31 days sweep without a jump.
*/
package salary

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

// StandardMonthDays is the fixed month length segments are weighted against.
const StandardMonthDays = 30

// Segment is one salary tier's share of a period.
type Segment struct {
	Tier         core.SalaryTier
	From         core.Date
	To           core.Date
	Days         int // calendar days in [From, To]
	WeightedDays int // days counted against the 30-day month
	Salary       decimal.Decimal
	Amount       decimal.Decimal
}

// Resolution is the salary for a period with its traceable breakdown.
type Resolution struct {
	Period   core.Period
	Total    decimal.Decimal
	Blended  bool
	Segments []Segment
}

// CurrentSalary returns the probation salary before the completion date
// when one is defined, else the post-probation salary.
func CurrentSalary(emp core.Employment, onDate core.Date) decimal.Decimal {
	return emp.SalaryFor(emp.TierOn(onDate))
}

// ResolveForPeriod computes the monthly salary for [start, end].
func ResolveForPeriod(emp core.Employment, start, end core.Date) (*Resolution, error) {
	p := core.Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if !emp.HasProbation() {
		return single(p, core.TierPostProbation, emp.Salary), nil
	}
	completion := *emp.ProbationEndDate

	switch {
	case !completion.After(start):
		return single(p, core.TierPostProbation, emp.Salary), nil
	case completion.After(end):
		return single(p, core.TierProbation, *emp.ProbationSalary), nil
	}

	probDays := core.DaysBetween(start, completion)
	probWeight := probDays
	if probWeight > StandardMonthDays {
		probWeight = StandardMonthDays
	}
	postWeight := StandardMonthDays - probWeight

	probSeg := Segment{
		Tier:         core.TierProbation,
		From:         start,
		To:           completion.AddDays(-1),
		Days:         probDays,
		WeightedDays: probWeight,
		Salary:       *emp.ProbationSalary,
		Amount:       weighted(*emp.ProbationSalary, probWeight),
	}
	postSeg := Segment{
		Tier:         core.TierPostProbation,
		From:         completion,
		To:           end,
		Days:         core.DaysBetween(completion, end) + 1,
		WeightedDays: postWeight,
		Salary:       emp.Salary,
		Amount:       weighted(emp.Salary, postWeight),
	}

	return &Resolution{
		Period:   p,
		Total:    probSeg.Amount.Add(postSeg.Amount),
		Blended:  true,
		Segments: []Segment{probSeg, postSeg},
	}, nil
}

// ResolveMonth is ResolveForPeriod over a calendar month.
func ResolveMonth(emp core.Employment, pp core.PayPeriod) (*Resolution, error) {
	return ResolveForPeriod(emp, pp.Start(), pp.End())
}

func single(p core.Period, tier core.SalaryTier, amount decimal.Decimal) *Resolution {
	return &Resolution{
		Period: p,
		Total:  core.RoundMoney(amount),
		Segments: []Segment{{
			Tier:         tier,
			From:         p.Start,
			To:           p.End,
			Days:         p.Days(),
			WeightedDays: StandardMonthDays,
			Salary:       amount,
			Amount:       core.RoundMoney(amount),
		}},
	}
}

func weighted(salary decimal.Decimal, days int) decimal.Decimal {
	return core.RoundMoney(salary.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(StandardMonthDays)))
}

// =============================================================================
// RESOLVER - store-backed lookups for collaborators
// =============================================================================

type Resolver struct {
	store core.EmployeeStore
}

func NewResolver(store core.EmployeeStore) *Resolver {
	return &Resolver{store: store}
}

// Current looks up the employment and returns its salary on onDate.
func (r *Resolver) Current(ctx context.Context, id core.EmploymentID, onDate core.Date) (decimal.Decimal, error) {
	emp, err := r.store.GetEmployment(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return CurrentSalary(*emp, onDate), nil
}

// ForPeriod looks up the employment and resolves [start, end].
func (r *Resolver) ForPeriod(ctx context.Context, id core.EmploymentID, start, end core.Date) (*Resolution, error) {
	emp, err := r.store.GetEmployment(ctx, id)
	if err != nil {
		return nil, err
	}
	return ResolveForPeriod(*emp, start, end)
}
