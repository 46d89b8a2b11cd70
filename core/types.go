/*
Package core provides the shared model of the payroll & probation engine.

PURPOSE:
  Types, error kinds and store contracts used by every engine component:
  the probation tracker, the funding allocation ledger, the salary
  resolver, the tax calculator and the payroll generator. Nothing in here
  computes payroll; it only describes what is stored and how it may change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee / Employment: who is paid and under which salary tiers
  - ProbationRecord: one immutable event in an employment's probation log
  - FundingSource / FundingAllocation: fte-weighted salary splits
  - PayrollRecord: one payslip line-set per allocation and month
  - TaxBracket / TaxSetting: year-scoped reference data

DESIGN PRINCIPLES:
  1. Precision: money, fte and rates are decimal.Decimal, never float64
  2. Closed variants: event kinds, statuses and tiers are typed constants
     with Valid(), so a switch over them can be checked for exhaustiveness
  3. Append-only history: probation records and payroll revisions are
     never edited; allocations only move forward through their statuses

SEE ALSO:
  - time.go: Date, Period and PayPeriod
  - errors.go: error kinds
  - store.go: persistence contracts
*/
package core

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type EmploymentID string
type FundingSourceID string
type AllocationID string
type ProbationRecordID string
type PayrollRecordID string

// OrganizationFunded is the funding source sentinel for the organization's own budget.
const OrganizationFunded FundingSourceID = "org"

// =============================================================================
// MONEY & FTE
// =============================================================================

// MoneyPlaces is the number of decimal places kept for stored amounts.
const MoneyPlaces = 2

// FTETolerance is how far an fte sum may drift from 1.0 and still count as whole.
var FTETolerance = decimal.RequireFromString("0.0001")

// RoundMoney rounds half away from zero to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// IsWhole reports whether an fte sum equals 1.0 within FTETolerance.
func IsWhole(sum decimal.Decimal) bool {
	return sum.Sub(decimal.NewFromInt(1)).Abs().LessThanOrEqual(FTETolerance)
}

// ValidFTE reports whether 0 < fte <= 1.
func ValidFTE(fte decimal.Decimal) bool {
	return fte.IsPositive() && fte.LessThanOrEqual(decimal.NewFromInt(1))
}

// =============================================================================
// EMPLOYEE - Personal circumstances read by the tax calculator
// =============================================================================

type MaritalStatus string

const (
	MaritalSingle  MaritalStatus = "single"
	MaritalMarried MaritalStatus = "married"
)

func (m MaritalStatus) Valid() bool {
	switch m {
	case MaritalSingle, MaritalMarried:
		return true
	}
	return false
}

type Employee struct {
	ID            EmployeeID
	Name          string
	Email         string
	MaritalStatus MaritalStatus
	ChildCount    int

	// Benefit enrollments
	SocialSecurityEnrolled  bool
	ProvidentFundRate       decimal.Decimal // employee contribution rate, zero = not enrolled
	HealthWelfareEnrolled   bool
	ThirteenthMonthEligible bool
}

// =============================================================================
// EMPLOYMENT
// =============================================================================

// Employment carries the two nominal salary tiers and the probation boundary.
// One active employment per employee is a business rule, not a constraint.
type Employment struct {
	ID         EmploymentID
	EmployeeID EmployeeID
	StartDate  Date
	EndDate    *Date // set on termination

	// ProbationEndDate is the probation-completion target. nil = no probation.
	ProbationEndDate *Date

	ProbationSalary *decimal.Decimal // monthly, nil when there is no probation tier
	Salary          decimal.Decimal  // monthly post-probation salary, always > 0

	Department string
	Position   string
}

// Validate checks the invariants an employment must satisfy before it is stored.
func (e Employment) Validate() error {
	if e.ID == "" || e.EmployeeID == "" {
		return &PreconditionError{Op: "employment.validate", Reason: "employment and employee ids are required"}
	}
	if e.StartDate.IsZero() {
		return &PreconditionError{Op: "employment.validate", Reason: "start date is required"}
	}
	if !e.Salary.IsPositive() {
		return &PreconditionError{Op: "employment.validate", Reason: "post-probation salary must be positive"}
	}
	if e.ProbationEndDate != nil {
		if e.ProbationSalary == nil {
			return &PreconditionError{Op: "employment.validate", Reason: "probation salary is required when a probation date is set"}
		}
		if e.ProbationEndDate.Before(e.StartDate) {
			return &PreconditionError{Op: "employment.validate", Reason: "probation date precedes start date"}
		}
	}
	if e.ProbationSalary != nil && e.ProbationSalary.IsNegative() {
		return &PreconditionError{Op: "employment.validate", Reason: "probation salary must not be negative"}
	}
	if e.EndDate != nil && e.EndDate.Before(e.StartDate) {
		return &PreconditionError{Op: "employment.validate", Reason: "end date precedes start date"}
	}
	return nil
}

// HasProbation reports whether a probation tier applies at all.
func (e Employment) HasProbation() bool {
	return e.ProbationEndDate != nil && e.ProbationSalary != nil
}

// InProbationOn reports whether d falls in [StartDate, ProbationEndDate).
func (e Employment) InProbationOn(d Date) bool {
	return e.HasProbation() && d.Before(*e.ProbationEndDate)
}

// IsEnded reports whether the employment has an end date on or before d.
func (e Employment) IsEnded(d Date) bool {
	return e.EndDate != nil && !e.EndDate.After(d)
}

// SalaryTier names which nominal salary an amount was derived from.
type SalaryTier string

const (
	TierProbation     SalaryTier = "probation"
	TierPostProbation SalaryTier = "post_probation"
)

func (t SalaryTier) Valid() bool {
	switch t {
	case TierProbation, TierPostProbation:
		return true
	}
	return false
}

// SalaryFor returns the nominal salary for a tier.
func (e Employment) SalaryFor(tier SalaryTier) decimal.Decimal {
	if tier == TierProbation && e.ProbationSalary != nil {
		return *e.ProbationSalary
	}
	return e.Salary
}

// TierOn returns the tier in force on d.
func (e Employment) TierOn(d Date) SalaryTier {
	if e.InProbationOn(d) {
		return TierProbation
	}
	return TierPostProbation
}

// =============================================================================
// PROBATION RECORD - Append-only event log
// =============================================================================

type ProbationEventKind string

const (
	ProbationInitial   ProbationEventKind = "initial"
	ProbationExtension ProbationEventKind = "extension"
	ProbationPassed    ProbationEventKind = "passed"
	ProbationFailed    ProbationEventKind = "failed"
)

func (k ProbationEventKind) Valid() bool {
	switch k {
	case ProbationInitial, ProbationExtension, ProbationPassed, ProbationFailed:
		return true
	}
	return false
}

// Terminal reports whether no further probation events may follow.
func (k ProbationEventKind) Terminal() bool {
	return k == ProbationPassed || k == ProbationFailed
}

type ProbationRecord struct {
	ID           ProbationRecordID
	EmploymentID EmploymentID
	Kind         ProbationEventKind
	EventDate    Date
	DecisionDate *Date

	// The probation interval as of this event.
	PeriodStart Date
	PeriodEnd   Date

	// PreviousEnd is the superseded interval end; only set on extensions.
	PreviousEnd *Date

	// Sequence is 0 for the initial record and increments per extension.
	Sequence int

	Reason     string
	Notes      string
	ApprovedBy string
	IsCurrent  bool
	CreatedAt  Date
}

// =============================================================================
// FUNDING
// =============================================================================

type FundingSourceKind string

const (
	FundingGrant        FundingSourceKind = "grant"
	FundingOrganization FundingSourceKind = "organization"
)

func (k FundingSourceKind) Valid() bool {
	switch k {
	case FundingGrant, FundingOrganization:
		return true
	}
	return false
}

// FundingSource is a grant budget line or the organization's own budget.
type FundingSource struct {
	ID        FundingSourceID
	Kind      FundingSourceKind
	Name      string
	GrantCode string

	// CapacityFTE caps the fte all active allocations may draw. nil = uncapped.
	CapacityFTE *decimal.Decimal

	// Version is bumped on every allocation write against the source.
	Version int64
}

type AllocationStatus string

const (
	AllocationActive     AllocationStatus = "active"
	AllocationHistorical AllocationStatus = "historical"
	AllocationTerminated AllocationStatus = "terminated"
)

func (s AllocationStatus) Valid() bool {
	switch s {
	case AllocationActive, AllocationHistorical, AllocationTerminated:
		return true
	}
	return false
}

// FundingAllocation splits an employment's salary cost onto one funding source.
type FundingAllocation struct {
	ID              AllocationID
	EmployeeID      EmployeeID
	EmploymentID    EmploymentID
	FundingSourceID FundingSourceID

	FTE decimal.Decimal

	// Amount is the monthly cost charged to the source. It is either the
	// override supplied at creation or salary x fte.
	Amount     decimal.Decimal
	IsOverride bool
	Tier       SalaryTier

	Status    AllocationStatus
	ValidFrom Date
	ValidTo   *Date

	// SupersedesID links a post-transition allocation to its predecessor.
	SupersedesID AllocationID
}

// OpenOn reports whether the validity window contains d.
func (a FundingAllocation) OpenOn(d Date) bool {
	if d.Before(a.ValidFrom) {
		return false
	}
	return a.ValidTo == nil || !a.ValidTo.Before(d)
}

// SumFTE adds the fte of the given allocations.
func SumFTE(allocs []FundingAllocation) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range allocs {
		sum = sum.Add(a.FTE)
	}
	return sum
}

// =============================================================================
// PAYROLL RECORD
// =============================================================================

// PayrollRecord is the payslip for one (employment, allocation, month).
// Employer shares are reported for cost but are not deducted from net pay.
type PayrollRecord struct {
	ID              PayrollRecordID
	EmploymentID    EmploymentID
	EmployeeID      EmployeeID
	AllocationID    AllocationID
	FundingSourceID FundingSourceID
	Period          PayPeriod
	Revision        int
	FTE             decimal.Decimal

	// Income components
	GrossSalary     decimal.Decimal
	Bonus           decimal.Decimal
	ThirteenthMonth decimal.Decimal

	// Deduction components
	ProvidentFundEmployee  decimal.Decimal
	SocialSecurityEmployee decimal.Decimal
	HealthWelfareEmployee  decimal.Decimal
	IncomeTax              decimal.Decimal

	// Employer cost components
	ProvidentFundEmployer  decimal.Decimal
	SocialSecurityEmployer decimal.Decimal
	HealthWelfareEmployer  decimal.Decimal

	CreatedAt Date
}

// TotalIncome sums the income components.
func (r PayrollRecord) TotalIncome() decimal.Decimal {
	return r.GrossSalary.Add(r.Bonus).Add(r.ThirteenthMonth)
}

// TotalDeduction sums the employee-side deductions.
func (r PayrollRecord) TotalDeduction() decimal.Decimal {
	return r.ProvidentFundEmployee.
		Add(r.SocialSecurityEmployee).
		Add(r.HealthWelfareEmployee).
		Add(r.IncomeTax)
}

// NetSalary is always recomputed, never stored.
func (r PayrollRecord) NetSalary() decimal.Decimal {
	return r.TotalIncome().Sub(r.TotalDeduction())
}

// EmployerCost is the total charged to the funding source.
func (r PayrollRecord) EmployerCost() decimal.Decimal {
	return r.TotalIncome().
		Add(r.ProvidentFundEmployer).
		Add(r.SocialSecurityEmployer).
		Add(r.HealthWelfareEmployer)
}

// =============================================================================
// TAX REFERENCE DATA
// =============================================================================

// TaxBracket taxes income in [Min, Max] at Rate. Max nil = open-ended top bracket.
type TaxBracket struct {
	Year  int
	Order int
	Min   decimal.Decimal
	Max   *decimal.Decimal
	Rate  decimal.Decimal
}

type TaxSettingType string

const (
	SettingDeductionAmount TaxSettingType = "deduction_amount"
	SettingRate            TaxSettingType = "rate"
	SettingCap             TaxSettingType = "cap"
)

func (t TaxSettingType) Valid() bool {
	switch t {
	case SettingDeductionAmount, SettingRate, SettingCap:
		return true
	}
	return false
}

type TaxSetting struct {
	Year  int
	Key   string
	Value decimal.Decimal
	Type  TaxSettingType
}
