/*
Package payroll generates monthly payroll records for one employment.

PURPOSE:
  Orchestrates the salary resolver, the funding ledger and the tax
  calculator into one PayrollRecord per active allocation for a month.

ALGORITHM:
  1. Resolve the whole-employment salary for the month (blended across a
     probation boundary when needed).
  2. Each allocation in force for the month gets a gross share: its
     override amount, or round(salary x fte). In force means covering the
     last covered day of the month, so superseded, terminated and
     historical rows still price the months they were valid for.
  3. Income tax, social security, provident fund, health welfare and the
     bonus are computed ONCE for the person on the summed gross, then
     apportioned to allocations by gross share. The last allocation takes
     the rounding remainder so shares add up exactly.
  4. 13th-month accrual is gross share / 12 for eligible employees.

  Annual income for tax = (monthly gross + 13th-month accrual) x 12 + bonus.

REVISIONS:
  Generate refuses a month that already has records. Recalculate writes
  revision N+1 next to revision N; queries read the latest revision.

FAILURES:
  No employment, no allocation in force, or a month outside the employment
  are precondition errors. Active fte not summing to 1 or a negative net
  pay is an integrity error, logged with its inputs and never normalized.
  Missing tax brackets for the year is core.TaxRulesMissingError.

SEE ALSO:
  - salary/resolver.go: 30-day pro-rating
  - tax/calculator.go: deduction stack and brackets
*/
package payroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/salary"
	"github.com/warp/payroll-engine/tax"
)

var twelve = decimal.NewFromInt(12)

// Input is one generation request.
type Input struct {
	Period      core.PayPeriod
	Bonus       decimal.Decimal
	Recalculate bool
}

// Result carries the written records plus the person-level figures they
// were apportioned from.
type Result struct {
	EmploymentID core.EmploymentID
	Period       core.PayPeriod
	Revision     int
	Salary       *salary.Resolution
	AnnualGross  decimal.Decimal
	Deductions   tax.Deductions
	Tax          tax.ProgressiveTax
	Records      []core.PayrollRecord
}

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	store  core.TxStore
	logger *zap.Logger
}

func NewGenerator(store core.TxStore, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{store: store, logger: logger.Named("payroll")}
}

// Generate writes the first revision for the month.
func (g *Generator) Generate(ctx context.Context, id core.EmploymentID, in Input) (*Result, error) {
	var res *Result
	err := g.store.WithTx(ctx, func(s core.Store) error {
		var err error
		res, err = Generate(ctx, s, id, in)
		return err
	})
	if err != nil {
		var ie *core.IntegrityError
		if errors.As(err, &ie) {
			g.logger.Error("payroll generation aborted on integrity violation",
				zap.String("employment_id", string(id)),
				zap.String("period", in.Period.String()),
				zap.Any("context", ie.Context),
				zap.Error(err))
		}
		return nil, err
	}
	g.logger.Info("payroll generated",
		zap.String("employment_id", string(id)),
		zap.String("period", in.Period.String()),
		zap.Int("revision", res.Revision),
		zap.Int("records", len(res.Records)))
	return res, nil
}

// Recalculate writes a new revision for a month.
func (g *Generator) Recalculate(ctx context.Context, id core.EmploymentID, period core.PayPeriod, bonus decimal.Decimal) (*Result, error) {
	return g.Generate(ctx, id, Input{Period: period, Bonus: bonus, Recalculate: true})
}

// Records returns the latest revision for the month.
func (g *Generator) Records(ctx context.Context, id core.EmploymentID, period core.PayPeriod) ([]core.PayrollRecord, error) {
	if _, err := g.store.GetEmployment(ctx, id); err != nil {
		return nil, err
	}
	return g.store.ListPayrollRecords(ctx, id, period)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// Generate computes and appends one revision inside the caller's unit of work.
func Generate(ctx context.Context, s core.Store, id core.EmploymentID, in Input) (*Result, error) {
	const op = "payroll.generate"
	pp := in.Period

	emp, err := s.GetEmployment(ctx, id)
	if err != nil {
		return nil, err
	}
	employee, err := s.GetEmployee(ctx, emp.EmployeeID)
	if err != nil {
		return nil, err
	}
	if emp.StartDate.After(pp.End()) || (emp.EndDate != nil && emp.EndDate.Before(pp.Start())) {
		return nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("employment %s is not active in %s", id, pp)}
	}
	if in.Bonus.IsNegative() {
		return nil, &core.PreconditionError{Op: op, Reason: "bonus must not be negative"}
	}

	latest, err := s.LatestPayrollRevision(ctx, id, pp)
	if err != nil {
		return nil, err
	}
	if latest > 0 && !in.Recalculate {
		return nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("payroll for %s in %s already exists at revision %d", id, pp, latest)}
	}

	allocs, err := inForceForPeriod(ctx, s, id, pp)
	if err != nil {
		return nil, err
	}
	if len(allocs) == 0 {
		return nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("employment %s has no allocation in force in %s", id, pp)}
	}
	if sum := core.SumFTE(allocs); !core.IsWhole(sum) {
		return nil, integrityError(op, id, pp, allocs, (&core.FTESumError{EmploymentID: id, Sum: sum, Derived: true}).Error())
	}

	resolution, err := salary.ResolveMonth(*emp, pp)
	if err != nil {
		return nil, err
	}
	rules, err := tax.LoadYear(ctx, s, pp.Year)
	if err != nil {
		return nil, err
	}
	calc := tax.NewCalculator(rules)

	// Gross shares per allocation.
	shares := make([]decimal.Decimal, len(allocs))
	thirteenth := make([]decimal.Decimal, len(allocs))
	gross, thirteenthTotal := decimal.Zero, decimal.Zero
	for i, a := range allocs {
		if a.IsOverride {
			shares[i] = a.Amount
		} else {
			shares[i] = core.RoundMoney(resolution.Total.Mul(a.FTE))
		}
		if shares[i].IsNegative() {
			return nil, integrityError(op, id, pp, allocs, fmt.Sprintf("allocation %s has negative gross %s", a.ID, shares[i]))
		}
		thirteenth[i] = decimal.Zero
		if employee.ThirteenthMonthEligible {
			thirteenth[i] = core.RoundMoney(shares[i].Div(twelve))
		}
		gross = gross.Add(shares[i])
		thirteenthTotal = thirteenthTotal.Add(thirteenth[i])
	}

	// Person-level contributions and tax.
	zero := tax.Contribution{Employee: decimal.Zero, Employer: decimal.Zero, Total: decimal.Zero}
	ss, hw := zero, zero
	if employee.SocialSecurityEnrolled {
		ss = calc.ComputeSocialSecurity(gross)
	}
	if employee.HealthWelfareEnrolled {
		hw = calc.ComputeHealthWelfare(gross)
	}
	pf := calc.ComputeProvidentFund(gross, employee.ProvidentFundRate)

	bonus := core.RoundMoney(in.Bonus)
	annualGross := gross.Add(thirteenthTotal).Mul(twelve).Add(bonus)
	deductions := calc.ComputeDeductions(*employee, annualGross, tax.Withheld{
		SocialSecurity: ss.Employee.Mul(twelve),
		ProvidentFund:  pf.Employee.Mul(twelve),
	})
	incomeTax := calc.ComputeProgressiveTax(deductions.Taxable)

	// Apportion by gross share; fall back to fte if every share is zero.
	weights := shares
	if gross.IsZero() {
		weights = make([]decimal.Decimal, len(allocs))
		for i, a := range allocs {
			weights[i] = a.FTE
		}
	}
	var (
		bonusShares = Apportion(bonus, weights)
		taxShares   = Apportion(incomeTax.Monthly, weights)
		ssEmployee  = Apportion(ss.Employee, weights)
		ssEmployer  = Apportion(ss.Employer, weights)
		pfEmployee  = Apportion(pf.Employee, weights)
		pfEmployer  = Apportion(pf.Employer, weights)
		hwEmployee  = Apportion(hw.Employee, weights)
		hwEmployer  = Apportion(hw.Employer, weights)
	)

	revision := latest + 1
	today := core.Today()
	records := make([]core.PayrollRecord, len(allocs))
	for i, a := range allocs {
		records[i] = core.PayrollRecord{
			ID:                     core.PayrollRecordID("pay-" + uuid.NewString()),
			EmploymentID:           id,
			EmployeeID:             emp.EmployeeID,
			AllocationID:           a.ID,
			FundingSourceID:        a.FundingSourceID,
			Period:                 pp,
			Revision:               revision,
			FTE:                    a.FTE,
			GrossSalary:            shares[i],
			Bonus:                  bonusShares[i],
			ThirteenthMonth:        thirteenth[i],
			ProvidentFundEmployee:  pfEmployee[i],
			SocialSecurityEmployee: ssEmployee[i],
			HealthWelfareEmployee:  hwEmployee[i],
			IncomeTax:              taxShares[i],
			ProvidentFundEmployer:  pfEmployer[i],
			SocialSecurityEmployer: ssEmployer[i],
			HealthWelfareEmployer:  hwEmployer[i],
			CreatedAt:              today,
		}
		if records[i].NetSalary().IsNegative() {
			return nil, integrityError(op, id, pp, allocs, fmt.Sprintf("allocation %s has negative net %s", a.ID, records[i].NetSalary()))
		}
	}

	if err := s.AppendPayrollRecords(ctx, records); err != nil {
		return nil, err
	}

	return &Result{
		EmploymentID: id,
		Period:       pp,
		Revision:     revision,
		Salary:       resolution,
		AnnualGross:  annualGross,
		Deductions:   deductions,
		Tax:          incomeTax,
		Records:      records,
	}, nil
}

// inForceForPeriod returns the allocations that priced the month, whatever
// their status now. That is every allocation whose window covers the last
// day of the month on which any allocation was in force: a row superseded
// mid-month gives way to its successor, a row terminated mid-month still
// pays that month, and a month paid before a transition resolves to the
// same rows afterwards.
func inForceForPeriod(ctx context.Context, s core.FundingStore, id core.EmploymentID, pp core.PayPeriod) ([]core.FundingAllocation, error) {
	all, err := s.ListAllocationsByEmployment(ctx, id, core.AllocationFilter{})
	if err != nil {
		return nil, err
	}
	period := pp.Period()

	var (
		overlapping []core.FundingAllocation
		lastCovered core.Date
	)
	for _, a := range all {
		if !period.Overlaps(a.ValidFrom, a.ValidTo) {
			continue
		}
		overlapping = append(overlapping, a)
		until := period.End
		if a.ValidTo != nil && a.ValidTo.Before(until) {
			until = *a.ValidTo
		}
		if lastCovered.IsZero() || until.After(lastCovered) {
			lastCovered = until
		}
	}

	out := overlapping[:0]
	for _, a := range overlapping {
		if a.OpenOn(lastCovered) {
			out = append(out, a)
		}
	}
	return out, nil
}

func integrityError(op string, id core.EmploymentID, pp core.PayPeriod, allocs []core.FundingAllocation, detail string) error {
	fields := map[string]string{"period": pp.String()}
	for _, a := range allocs {
		fields["allocation:"+string(a.ID)] = a.FTE.String()
	}
	return &core.IntegrityError{Op: op, EmploymentID: id, Detail: detail, Context: fields}
}

// =============================================================================
// APPORTIONMENT
// =============================================================================

// Apportion splits total across weights, rounding each share to cents.
// The last share absorbs the remainder so the shares sum to total exactly.
func Apportion(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return out
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if sum.IsZero() || total.IsZero() {
		for i := range out {
			out[i] = decimal.Zero
		}
		return out
	}

	allocated := decimal.Zero
	last := len(weights) - 1
	for i := 0; i < last; i++ {
		out[i] = core.RoundMoney(total.Mul(weights[i]).Div(sum))
		allocated = allocated.Add(out[i])
	}
	out[last] = total.Sub(allocated)
	return out
}
