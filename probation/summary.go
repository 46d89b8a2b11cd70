package probation

import "github.com/warp/payroll-engine/core"

// Status is the derived probation state of an employment.
type Status string

const (
	StatusNone        Status = "none"
	StatusInProbation Status = "in_probation"
	StatusExtended    Status = "extended"
	StatusPassed      Status = "passed"
	StatusFailed      Status = "failed"
)

// Summary condenses a probation history for display and reporting.
type Summary struct {
	Status          Status
	ExtensionCount  int
	OriginalEndDate *core.Date
	CurrentEndDate  *core.Date
	Current         *core.ProbationRecord
}

// History is the full ordered log plus its summary.
type History struct {
	EmploymentID core.EmploymentID
	Records      []core.ProbationRecord
	Summary      Summary
}

// BuildHistory derives the summary from records in append order.
func BuildHistory(emp core.Employment, records []core.ProbationRecord) *History {
	h := &History{EmploymentID: emp.ID, Records: records}
	h.Summary.Status = StatusNone
	h.Summary.CurrentEndDate = emp.ProbationEndDate

	for i := range records {
		r := records[i]
		switch r.Kind {
		case core.ProbationInitial:
			h.Summary.OriginalEndDate = core.DatePtr(r.PeriodEnd)
		case core.ProbationExtension:
			h.Summary.ExtensionCount++
		case core.ProbationPassed, core.ProbationFailed:
		}
		if r.IsCurrent {
			h.Summary.Current = &records[i]
		}
	}

	if cur := h.Summary.Current; cur != nil {
		switch cur.Kind {
		case core.ProbationInitial:
			h.Summary.Status = StatusInProbation
		case core.ProbationExtension:
			h.Summary.Status = StatusExtended
		case core.ProbationPassed:
			h.Summary.Status = StatusPassed
		case core.ProbationFailed:
			h.Summary.Status = StatusFailed
		}
	}
	return h
}
