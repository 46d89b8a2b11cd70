/*
calculator.go - Deduction stack, progressive tax and statutory contributions

PURPOSE:
  Pure functions of (Rules, inputs). Nothing here touches a store, so the
  same inputs always give the same figures.

DEDUCTION STACK (annual, applied in order):
  1. personal expense  = min(rate x income, cap)
  2. personal allowance
  3. spouse allowance      (married only)
  4. child allowance x child count
  5. social security withheld, up to its annual deduction cap
  6. provident fund withheld, up to its annual deduction cap
  taxable = max(0, income - total)

PROGRESSIVE TAX:
  Brackets are consumed in ascending order. Each bracket taxes the part of
  the income inside [min, max] (above min for the open top bracket). The
  sum is continuous at every boundary and never decreases with income.
  Monthly withholding = round(annual / 12).

SEE ALSO:
  - rules.go: bracket validation and setting keys
  - payroll/generator.go: person-level use and apportionment
*/
package tax

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

var twelve = decimal.NewFromInt(12)

// =============================================================================
// DEDUCTIONS
// =============================================================================

// Withheld carries the annual contributions already deducted from pay.
type Withheld struct {
	SocialSecurity decimal.Decimal
	ProvidentFund  decimal.Decimal
}

// Deductions is the itemized deduction stack for one annual income.
type Deductions struct {
	PersonalExpense   decimal.Decimal
	PersonalAllowance decimal.Decimal
	SpouseAllowance   decimal.Decimal
	ChildAllowance    decimal.Decimal
	SocialSecurity    decimal.Decimal
	ProvidentFund     decimal.Decimal
	Total             decimal.Decimal
	Taxable           decimal.Decimal
}

// Calculator applies one year's Rules.
type Calculator struct {
	rules *Rules
}

func NewCalculator(rules *Rules) *Calculator {
	return &Calculator{rules: rules}
}

func (c *Calculator) Rules() *Rules { return c.rules }

// ComputeDeductions runs the deduction stack against grossAnnual.
func (c *Calculator) ComputeDeductions(emp core.Employee, grossAnnual decimal.Decimal, withheld Withheld) Deductions {
	r := c.rules
	d := Deductions{}

	d.PersonalExpense = capAt(grossAnnual.Mul(r.Setting(KeyPersonalExpenseRate)), r.Setting(KeyPersonalExpenseCap))
	d.PersonalAllowance = r.Setting(KeyPersonalAllowance)
	if emp.MaritalStatus == core.MaritalMarried {
		d.SpouseAllowance = r.Setting(KeySpouseAllowance)
	}
	if emp.ChildCount > 0 {
		d.ChildAllowance = r.Setting(KeyChildAllowance).Mul(decimal.NewFromInt(int64(emp.ChildCount)))
	}
	d.SocialSecurity = capAt(withheld.SocialSecurity, r.Setting(KeySocialSecurityDeductionCap))
	d.ProvidentFund = capAt(withheld.ProvidentFund, r.Setting(KeyProvidentFundDeductionCap))

	d.Total = core.RoundMoney(d.PersonalExpense.
		Add(d.PersonalAllowance).
		Add(d.SpouseAllowance).
		Add(d.ChildAllowance).
		Add(d.SocialSecurity).
		Add(d.ProvidentFund))

	d.Taxable = grossAnnual.Sub(d.Total)
	if d.Taxable.IsNegative() {
		d.Taxable = decimal.Zero
	}
	d.Taxable = core.RoundMoney(d.Taxable)
	return d
}

// capAt returns min(v, limit). A zero limit means the setting is absent and
// the value is not capped.
func capAt(v, limit decimal.Decimal) decimal.Decimal {
	if limit.IsPositive() && v.GreaterThan(limit) {
		return limit
	}
	return v
}

// =============================================================================
// PROGRESSIVE TAX
// =============================================================================

// BracketTax is one bracket's contribution to the annual figure.
type BracketTax struct {
	Order   int
	Portion decimal.Decimal
	Rate    decimal.Decimal
	Tax     decimal.Decimal
}

type ProgressiveTax struct {
	Annual   decimal.Decimal
	Monthly  decimal.Decimal
	Brackets []BracketTax
}

// ComputeProgressiveTax taxes taxableAnnual against brackets sorted by Order.
func ComputeProgressiveTax(taxableAnnual decimal.Decimal, brackets []core.TaxBracket) ProgressiveTax {
	result := ProgressiveTax{Annual: decimal.Zero}

	for _, b := range brackets {
		if !taxableAnnual.GreaterThan(b.Min) {
			break
		}
		upper := taxableAnnual
		if b.Max != nil && b.Max.LessThan(upper) {
			upper = *b.Max
		}
		portion := upper.Sub(b.Min)
		tax := portion.Mul(b.Rate)
		result.Brackets = append(result.Brackets, BracketTax{Order: b.Order, Portion: portion, Rate: b.Rate, Tax: tax})
		result.Annual = result.Annual.Add(tax)
	}

	result.Annual = core.RoundMoney(result.Annual)
	result.Monthly = core.RoundMoney(result.Annual.Div(twelve))
	return result
}

// ComputeProgressiveTax with the calculator's brackets.
func (c *Calculator) ComputeProgressiveTax(taxableAnnual decimal.Decimal) ProgressiveTax {
	return ComputeProgressiveTax(taxableAnnual, c.rules.Brackets)
}

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

// Contribution is a monthly employee/employer pair.
type Contribution struct {
	Employee decimal.Decimal
	Employer decimal.Decimal
	Total    decimal.Decimal
}

func contribution(gross, empRate, empCap, erRate, erCap decimal.Decimal) Contribution {
	c := Contribution{
		Employee: core.RoundMoney(capAt(gross.Mul(empRate), empCap)),
		Employer: core.RoundMoney(capAt(gross.Mul(erRate), erCap)),
	}
	c.Total = c.Employee.Add(c.Employer)
	return c
}

// ComputeSocialSecurity applies the social security rates to a monthly
// gross, each share capped at its monthly maximum.
func (c *Calculator) ComputeSocialSecurity(grossMonthly decimal.Decimal) Contribution {
	r := c.rules
	return contribution(grossMonthly,
		r.Setting(KeySocialSecurityRate), r.Setting(KeySocialSecurityMonthlyCap),
		r.Setting(KeySocialSecurityEmployerRate), r.Setting(KeySocialSecurityEmployerCap))
}

// ComputeHealthWelfare applies the health welfare rates to a monthly gross.
func (c *Calculator) ComputeHealthWelfare(grossMonthly decimal.Decimal) Contribution {
	r := c.rules
	return contribution(grossMonthly,
		r.Setting(KeyHealthWelfareRate), r.Setting(KeyHealthWelfareMonthlyCap),
		r.Setting(KeyHealthWelfareEmployerRate), r.Setting(KeyHealthWelfareEmployerCap))
}

// ComputeProvidentFund uses the employee's own rate and the year's employer
// match rate. Neither share is capped monthly.
func (c *Calculator) ComputeProvidentFund(grossMonthly, employeeRate decimal.Decimal) Contribution {
	if !employeeRate.IsPositive() {
		return Contribution{Employee: decimal.Zero, Employer: decimal.Zero, Total: decimal.Zero}
	}
	return contribution(grossMonthly,
		employeeRate, decimal.Zero,
		c.rules.Setting(KeyProvidentFundEmployerRate), decimal.Zero)
}
