/*
store.go - Persistence contracts for the payroll engine

PURPOSE:
  Defines the interface between engine logic and the database. Different
  implementations back it with SQLite or memory; engine components only
  see these interfaces.

KEY INTERFACES:
  EmployeeStore:   employees and employments (directory slice)
  ProbationStore:  append-only probation log with a single "current" row
  FundingStore:    funding sources and allocations
  PayrollStore:    payroll records, append-only per revision
  TaxStore:        year-scoped brackets and settings
  RunStore:        transition run audit rows
  TxStore:         all of the above plus WithTx for atomic units of work

ATOMIC UNITS OF WORK:
  Every multi-row change (extend probation, transition allocations,
  generate payroll) runs inside WithTx. The Store handed to fn is bound to
  that transaction; if fn returns an error nothing it wrote is visible.
  Implementations serialize WithTx calls, so a unit of work for one
  employment is isolated from concurrent writers.

APPEND-ONLY CONTRACT:
  - Probation records: the only permitted change is clearing IsCurrent,
    and only in the unit of work that appends the successor.
  - Allocations: status moves active -> historical | terminated, never back.
  - Payroll records: corrections are new revisions.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - core/store/memory.go: in-memory implementation
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error

	// GetEmployee returns a *NotFoundError when the employee does not exist.
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)

	SaveEmployment(ctx context.Context, e Employment) error

	// GetEmployment returns a *NotFoundError when the employment does not exist.
	GetEmployment(ctx context.Context, id EmploymentID) (*Employment, error)

	// ListEmploymentsByProbationDate returns employments without an end date
	// whose probation-completion date equals date.
	ListEmploymentsByProbationDate(ctx context.Context, date Date) ([]Employment, error)
}

// =============================================================================
// PROBATION
// =============================================================================

type ProbationStore interface {
	// AppendProbationRecord writes a new record. Records are never edited
	// except through ClearCurrentProbation.
	AppendProbationRecord(ctx context.Context, r ProbationRecord) error

	// ClearCurrentProbation clears IsCurrent on one record.
	ClearCurrentProbation(ctx context.Context, id ProbationRecordID) error

	// ListProbationRecords returns the log in append order.
	ListProbationRecords(ctx context.Context, employmentID EmploymentID) ([]ProbationRecord, error)

	// CurrentProbationRecord returns nil, nil when the employment has none.
	CurrentProbationRecord(ctx context.Context, employmentID EmploymentID) (*ProbationRecord, error)
}

// =============================================================================
// FUNDING
// =============================================================================

// AllocationFilter narrows allocation queries. Empty Status means all.
type AllocationFilter struct {
	Status AllocationStatus
}

func (f AllocationFilter) Matches(a FundingAllocation) bool {
	return f.Status == "" || f.Status == a.Status
}

type FundingStore interface {
	SaveFundingSource(ctx context.Context, s FundingSource) error
	GetFundingSource(ctx context.Context, id FundingSourceID) (*FundingSource, error)

	// BumpFundingSourceVersion increments the version if it still equals
	// expected, else returns ErrConcurrentModification.
	BumpFundingSourceVersion(ctx context.Context, id FundingSourceID, expected int64) error

	InsertAllocation(ctx context.Context, a FundingAllocation) error

	// CloseAllocation moves an active allocation to status with ValidTo set.
	// Closing a non-active allocation is a PreconditionError.
	CloseAllocation(ctx context.Context, id AllocationID, status AllocationStatus, validTo Date) error

	ListAllocationsByEmployment(ctx context.Context, id EmploymentID, f AllocationFilter) ([]FundingAllocation, error)
	ListAllocationsBySource(ctx context.Context, id FundingSourceID, f AllocationFilter) ([]FundingAllocation, error)
}

// =============================================================================
// PAYROLL
// =============================================================================

type PayrollStore interface {
	// AppendPayrollRecords writes one revision atomically.
	AppendPayrollRecords(ctx context.Context, records []PayrollRecord) error

	// LatestPayrollRevision returns 0 when nothing was generated yet.
	LatestPayrollRevision(ctx context.Context, employmentID EmploymentID, period PayPeriod) (int, error)

	// ListPayrollRecords returns the latest revision for the period.
	ListPayrollRecords(ctx context.Context, employmentID EmploymentID, period PayPeriod) ([]PayrollRecord, error)
}

// =============================================================================
// TAX REFERENCE DATA
// =============================================================================

type TaxStore interface {
	// ReplaceTaxYear swaps the brackets and settings of one year.
	ReplaceTaxYear(ctx context.Context, year int, brackets []TaxBracket, settings []TaxSetting) error

	// TaxBrackets returns the year's brackets ordered by Order.
	TaxBrackets(ctx context.Context, year int) ([]TaxBracket, error)
	TaxSettings(ctx context.Context, year int) ([]TaxSetting, error)
}

// =============================================================================
// TRANSITION RUNS - Audit of daily processor invocations
// =============================================================================

type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunCancelled           RunStatus = "cancelled"
)

// TransitionRun records one invocation of the transition processor.
// Its counts and errors are the summary handed to the notifier.
type TransitionRun struct {
	ID         string
	AsOf       Date
	Status     RunStatus
	Candidates int
	Passed     int
	Skipped    int
	Failed     int
	Errors     []string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type RunStore interface {
	SaveTransitionRun(ctx context.Context, r TransitionRun) error
	ListTransitionRuns(ctx context.Context, limit int) ([]TransitionRun, error)
}

// =============================================================================
// AGGREGATES
// =============================================================================

// Store is everything a unit of work can read and write.
type Store interface {
	EmployeeStore
	ProbationStore
	FundingStore
	PayrollStore
	TaxStore
	RunStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
