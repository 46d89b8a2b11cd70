/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in core/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND FTE:
  Amounts travel as decimal strings ("45000.00"), never as floats. Money is
  rendered with two places, fte as entered.

VALIDATION:
  Request types carry go-playground/validator tags. Shape checks (required
  fields, date formats, numeric strings) happen in decodeAndValidate before
  a handler runs. Business rules stay in the domain packages.

SEE ALSO:
  - handlers.go: Uses these types
  - core/types.go: Domain types these map to
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/funding"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/probation"
	"github.com/warp/payroll-engine/salary"
	"github.com/warp/payroll-engine/tax"
	"github.com/warp/payroll-engine/transition"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateEmployeeRequest struct {
	ID                      string `json:"id" validate:"required"`
	Name                    string `json:"name" validate:"required"`
	Email                   string `json:"email" validate:"omitempty,email"`
	MaritalStatus           string `json:"marital_status" validate:"omitempty,oneof=single married"`
	ChildCount              int    `json:"child_count" validate:"min=0"`
	SocialSecurityEnrolled  bool   `json:"social_security_enrolled"`
	ProvidentFundRate       string `json:"provident_fund_rate" validate:"omitempty,numeric"`
	HealthWelfareEnrolled   bool   `json:"health_welfare_enrolled"`
	ThirteenthMonthEligible bool   `json:"thirteenth_month_eligible"`
}

type CreateEmploymentRequest struct {
	ID               string `json:"id" validate:"required"`
	EmployeeID       string `json:"employee_id" validate:"required"`
	StartDate        string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate          string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	ProbationEndDate string `json:"probation_end_date" validate:"omitempty,datetime=2006-01-02"`
	ProbationSalary  string `json:"probation_salary" validate:"omitempty,numeric"`
	Salary           string `json:"salary" validate:"required,numeric"`
	Department       string `json:"department"`
	Position         string `json:"position"`
}

// ProbationDecisionRequest is the body of extend, pass and fail.
// NewEndDate is only read by extend.
type ProbationDecisionRequest struct {
	Date       string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	NewEndDate string `json:"new_end_date" validate:"omitempty,datetime=2006-01-02"`
	Reason     string `json:"reason" validate:"max=500"`
	Notes      string `json:"notes"`
	ApprovedBy string `json:"approved_by"`
}

type SplitRequest struct {
	FundingSourceID string `json:"funding_source_id" validate:"required"`
	FTE             string `json:"fte" validate:"required,numeric"`
	Amount          string `json:"amount" validate:"omitempty,numeric"`
}

type CreateAllocationsRequest struct {
	EffectiveDate string         `json:"effective_date" validate:"required,datetime=2006-01-02"`
	Splits        []SplitRequest `json:"splits" validate:"required,min=1,dive"`
}

type GeneratePayrollRequest struct {
	Period      string `json:"period" validate:"required,datetime=2006-01"`
	Bonus       string `json:"bonus" validate:"omitempty,numeric"`
	Recalculate bool   `json:"recalculate"`
}

type CreateFundingSourceRequest struct {
	ID          string `json:"id" validate:"required"`
	Kind        string `json:"kind" validate:"required,oneof=grant organization"`
	Name        string `json:"name" validate:"required"`
	GrantCode   string `json:"grant_code"`
	CapacityFTE string `json:"capacity_fte" validate:"omitempty,numeric"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type EmployeeDTO struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Email                   string `json:"email,omitempty"`
	MaritalStatus           string `json:"marital_status,omitempty"`
	ChildCount              int    `json:"child_count"`
	SocialSecurityEnrolled  bool   `json:"social_security_enrolled"`
	ProvidentFundRate       string `json:"provident_fund_rate"`
	HealthWelfareEnrolled   bool   `json:"health_welfare_enrolled"`
	ThirteenthMonthEligible bool   `json:"thirteenth_month_eligible"`
}

type EmploymentDTO struct {
	ID               string `json:"id"`
	EmployeeID       string `json:"employee_id"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date,omitempty"`
	ProbationEndDate string `json:"probation_end_date,omitempty"`
	ProbationSalary  string `json:"probation_salary,omitempty"`
	Salary           string `json:"salary"`
	CurrentSalary    string `json:"current_salary"`
	Department       string `json:"department,omitempty"`
	Position         string `json:"position,omitempty"`
}

type ProbationRecordDTO struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	EventDate    string `json:"event_date"`
	DecisionDate string `json:"decision_date,omitempty"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	PreviousEnd  string `json:"previous_end,omitempty"`
	Sequence     int    `json:"sequence"`
	Reason       string `json:"reason,omitempty"`
	Notes        string `json:"notes,omitempty"`
	ApprovedBy   string `json:"approved_by,omitempty"`
	IsCurrent    bool   `json:"is_current"`
}

type ProbationHistoryDTO struct {
	EmploymentID    string               `json:"employment_id"`
	Status          string               `json:"status"`
	ExtensionCount  int                  `json:"extension_count"`
	OriginalEndDate string               `json:"original_end_date,omitempty"`
	CurrentEndDate  string               `json:"current_end_date,omitempty"`
	Records         []ProbationRecordDTO `json:"records"`
}

type AllocationDTO struct {
	ID              string `json:"id"`
	EmploymentID    string `json:"employment_id"`
	FundingSourceID string `json:"funding_source_id"`
	FTE             string `json:"fte"`
	Amount          string `json:"amount"`
	IsOverride      bool   `json:"is_override"`
	Tier            string `json:"tier"`
	Status          string `json:"status"`
	ValidFrom       string `json:"valid_from"`
	ValidTo         string `json:"valid_to,omitempty"`
	SupersedesID    string `json:"supersedes_id,omitempty"`
}

type SegmentDTO struct {
	Tier         string `json:"tier"`
	From         string `json:"from"`
	To           string `json:"to"`
	Days         int    `json:"days"`
	WeightedDays int    `json:"weighted_days"`
	Salary       string `json:"salary"`
	Amount       string `json:"amount"`
}

type SalaryDTO struct {
	From     string       `json:"from"`
	To       string       `json:"to"`
	Total    string       `json:"total"`
	Blended  bool         `json:"blended"`
	Segments []SegmentDTO `json:"segments"`
}

type PayrollRecordDTO struct {
	ID                     string `json:"id"`
	AllocationID           string `json:"allocation_id"`
	FundingSourceID        string `json:"funding_source_id"`
	Period                 string `json:"period"`
	Revision               int    `json:"revision"`
	FTE                    string `json:"fte"`
	GrossSalary            string `json:"gross_salary"`
	Bonus                  string `json:"bonus"`
	ThirteenthMonth        string `json:"thirteenth_month"`
	ProvidentFundEmployee  string `json:"provident_fund_employee"`
	SocialSecurityEmployee string `json:"social_security_employee"`
	HealthWelfareEmployee  string `json:"health_welfare_employee"`
	IncomeTax              string `json:"income_tax"`
	ProvidentFundEmployer  string `json:"provident_fund_employer"`
	SocialSecurityEmployer string `json:"social_security_employer"`
	HealthWelfareEmployer  string `json:"health_welfare_employer"`
	TotalIncome            string `json:"total_income"`
	TotalDeduction         string `json:"total_deduction"`
	NetSalary              string `json:"net_salary"`
	EmployerCost           string `json:"employer_cost"`
}

type PayrollResultDTO struct {
	EmploymentID string             `json:"employment_id"`
	Period       string             `json:"period"`
	Revision     int                `json:"revision"`
	Salary       SalaryDTO          `json:"salary"`
	AnnualGross  string             `json:"annual_gross"`
	Taxable      string             `json:"taxable_annual"`
	AnnualTax    string             `json:"annual_tax"`
	MonthlyTax   string             `json:"monthly_tax"`
	Records      []PayrollRecordDTO `json:"records"`
}

type FundingSourceDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	GrantCode   string `json:"grant_code,omitempty"`
	CapacityFTE string `json:"capacity_fte,omitempty"`
	Version     int64  `json:"version"`
}

type CapacityDTO struct {
	FundingSourceID string `json:"funding_source_id"`
	Capacity        string `json:"capacity_fte,omitempty"`
	Committed       string `json:"committed_fte"`
	Available       string `json:"available_fte,omitempty"`
	Active          int    `json:"active_allocations"`
}

type TaxBracketDTO struct {
	Order int    `json:"order"`
	Min   string `json:"min"`
	Max   string `json:"max,omitempty"`
	Rate  string `json:"rate"`
}

type TaxRulesDTO struct {
	Year     int               `json:"year"`
	Brackets []TaxBracketDTO   `json:"brackets"`
	Settings map[string]string `json:"settings"`
}

type TransitionRunDTO struct {
	ID         string   `json:"id"`
	AsOf       string   `json:"as_of"`
	Status     string   `json:"status"`
	Candidates int      `json:"candidates"`
	Passed     int      `json:"passed"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
}

type TransitionOutcomeDTO struct {
	EmploymentID string `json:"employment_id"`
	Status       string `json:"status"`
	Allocations  int    `json:"allocations"`
	Error        string `json:"error,omitempty"`
}

type TransitionReportDTO struct {
	Run      TransitionRunDTO       `json:"run"`
	Outcomes []TransitionOutcomeDTO `json:"outcomes"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(core.MoneyPlaces) }

func datePtrString(d *core.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func toEmployeeDTO(e core.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:                      string(e.ID),
		Name:                    e.Name,
		Email:                   e.Email,
		MaritalStatus:           string(e.MaritalStatus),
		ChildCount:              e.ChildCount,
		SocialSecurityEnrolled:  e.SocialSecurityEnrolled,
		ProvidentFundRate:       e.ProvidentFundRate.String(),
		HealthWelfareEnrolled:   e.HealthWelfareEnrolled,
		ThirteenthMonthEligible: e.ThirteenthMonthEligible,
	}
}

func toEmploymentDTO(e core.Employment, today core.Date) EmploymentDTO {
	dto := EmploymentDTO{
		ID:               string(e.ID),
		EmployeeID:       string(e.EmployeeID),
		StartDate:        e.StartDate.String(),
		EndDate:          datePtrString(e.EndDate),
		ProbationEndDate: datePtrString(e.ProbationEndDate),
		Salary:           money(e.Salary),
		CurrentSalary:    money(salary.CurrentSalary(e, today)),
		Department:       e.Department,
		Position:         e.Position,
	}
	if e.ProbationSalary != nil {
		dto.ProbationSalary = money(*e.ProbationSalary)
	}
	return dto
}

func toProbationRecordDTO(r core.ProbationRecord) ProbationRecordDTO {
	return ProbationRecordDTO{
		ID:           string(r.ID),
		Kind:         string(r.Kind),
		EventDate:    r.EventDate.String(),
		DecisionDate: datePtrString(r.DecisionDate),
		PeriodStart:  r.PeriodStart.String(),
		PeriodEnd:    r.PeriodEnd.String(),
		PreviousEnd:  datePtrString(r.PreviousEnd),
		Sequence:     r.Sequence,
		Reason:       r.Reason,
		Notes:        r.Notes,
		ApprovedBy:   r.ApprovedBy,
		IsCurrent:    r.IsCurrent,
	}
}

func toProbationHistoryDTO(h *probation.History) ProbationHistoryDTO {
	dto := ProbationHistoryDTO{
		EmploymentID:    string(h.EmploymentID),
		Status:          string(h.Summary.Status),
		ExtensionCount:  h.Summary.ExtensionCount,
		OriginalEndDate: datePtrString(h.Summary.OriginalEndDate),
		CurrentEndDate:  datePtrString(h.Summary.CurrentEndDate),
		Records:         make([]ProbationRecordDTO, 0, len(h.Records)),
	}
	for _, r := range h.Records {
		dto.Records = append(dto.Records, toProbationRecordDTO(r))
	}
	return dto
}

func toAllocationDTOs(allocs []core.FundingAllocation) []AllocationDTO {
	dtos := make([]AllocationDTO, 0, len(allocs))
	for _, a := range allocs {
		dtos = append(dtos, AllocationDTO{
			ID:              string(a.ID),
			EmploymentID:    string(a.EmploymentID),
			FundingSourceID: string(a.FundingSourceID),
			FTE:             a.FTE.String(),
			Amount:          money(a.Amount),
			IsOverride:      a.IsOverride,
			Tier:            string(a.Tier),
			Status:          string(a.Status),
			ValidFrom:       a.ValidFrom.String(),
			ValidTo:         datePtrString(a.ValidTo),
			SupersedesID:    string(a.SupersedesID),
		})
	}
	return dtos
}

func toSalaryDTO(r *salary.Resolution) SalaryDTO {
	dto := SalaryDTO{
		From:     r.Period.Start.String(),
		To:       r.Period.End.String(),
		Total:    money(r.Total),
		Blended:  r.Blended,
		Segments: make([]SegmentDTO, 0, len(r.Segments)),
	}
	for _, s := range r.Segments {
		dto.Segments = append(dto.Segments, SegmentDTO{
			Tier:         string(s.Tier),
			From:         s.From.String(),
			To:           s.To.String(),
			Days:         s.Days,
			WeightedDays: s.WeightedDays,
			Salary:       money(s.Salary),
			Amount:       money(s.Amount),
		})
	}
	return dto
}

func toPayrollRecordDTOs(records []core.PayrollRecord) []PayrollRecordDTO {
	dtos := make([]PayrollRecordDTO, 0, len(records))
	for _, r := range records {
		dtos = append(dtos, PayrollRecordDTO{
			ID:                     string(r.ID),
			AllocationID:           string(r.AllocationID),
			FundingSourceID:        string(r.FundingSourceID),
			Period:                 r.Period.String(),
			Revision:               r.Revision,
			FTE:                    r.FTE.String(),
			GrossSalary:            money(r.GrossSalary),
			Bonus:                  money(r.Bonus),
			ThirteenthMonth:        money(r.ThirteenthMonth),
			ProvidentFundEmployee:  money(r.ProvidentFundEmployee),
			SocialSecurityEmployee: money(r.SocialSecurityEmployee),
			HealthWelfareEmployee:  money(r.HealthWelfareEmployee),
			IncomeTax:              money(r.IncomeTax),
			ProvidentFundEmployer:  money(r.ProvidentFundEmployer),
			SocialSecurityEmployer: money(r.SocialSecurityEmployer),
			HealthWelfareEmployer:  money(r.HealthWelfareEmployer),
			TotalIncome:            money(r.TotalIncome()),
			TotalDeduction:         money(r.TotalDeduction()),
			NetSalary:              money(r.NetSalary()),
			EmployerCost:           money(r.EmployerCost()),
		})
	}
	return dtos
}

func toPayrollResultDTO(res *payroll.Result) PayrollResultDTO {
	return PayrollResultDTO{
		EmploymentID: string(res.EmploymentID),
		Period:       res.Period.String(),
		Revision:     res.Revision,
		Salary:       toSalaryDTO(res.Salary),
		AnnualGross:  money(res.AnnualGross),
		Taxable:      money(res.Deductions.Taxable),
		AnnualTax:    money(res.Tax.Annual),
		MonthlyTax:   money(res.Tax.Monthly),
		Records:      toPayrollRecordDTOs(res.Records),
	}
}

func toFundingSourceDTO(s core.FundingSource) FundingSourceDTO {
	dto := FundingSourceDTO{
		ID:        string(s.ID),
		Kind:      string(s.Kind),
		Name:      s.Name,
		GrantCode: s.GrantCode,
		Version:   s.Version,
	}
	if s.CapacityFTE != nil {
		dto.CapacityFTE = s.CapacityFTE.String()
	}
	return dto
}

func toCapacityDTO(c *funding.Capacity) CapacityDTO {
	dto := CapacityDTO{
		FundingSourceID: string(c.Source.ID),
		Committed:       c.Committed.String(),
		Active:          c.Active,
	}
	if c.Capacity != nil {
		dto.Capacity = c.Capacity.String()
	}
	if c.Available != nil {
		dto.Available = c.Available.String()
	}
	return dto
}

func toTaxRulesDTO(r *tax.Rules) TaxRulesDTO {
	dto := TaxRulesDTO{
		Year:     r.Year,
		Brackets: make([]TaxBracketDTO, 0, len(r.Brackets)),
		Settings: make(map[string]string, len(r.Settings)),
	}
	for _, b := range r.Brackets {
		bd := TaxBracketDTO{Order: b.Order, Min: b.Min.String(), Rate: b.Rate.String()}
		if b.Max != nil {
			bd.Max = b.Max.String()
		}
		dto.Brackets = append(dto.Brackets, bd)
	}
	for key, s := range r.Settings {
		dto.Settings[key] = s.Value.String()
	}
	return dto
}

func toTransitionRunDTO(r core.TransitionRun) TransitionRunDTO {
	dto := TransitionRunDTO{
		ID:         r.ID,
		AsOf:       r.AsOf.String(),
		Status:     string(r.Status),
		Candidates: r.Candidates,
		Passed:     r.Passed,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Errors:     r.Errors,
		StartedAt:  r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		dto.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	return dto
}

func toTransitionReportDTO(rep *transition.Report) TransitionReportDTO {
	dto := TransitionReportDTO{
		Run:      toTransitionRunDTO(rep.Run),
		Outcomes: make([]TransitionOutcomeDTO, 0, len(rep.Outcomes)),
	}
	for _, o := range rep.Outcomes {
		od := TransitionOutcomeDTO{
			EmploymentID: string(o.EmploymentID),
			Status:       string(o.Status),
			Allocations:  o.Allocations,
		}
		if o.Err != nil {
			od.Error = o.Err.Error()
		}
		dto.Outcomes = append(dto.Outcomes, od)
	}
	return dto
}
