/*
Package funding owns the fte-weighted funding allocations of employments.

PURPOSE:
  An employment's salary cost is split across grant budget lines and the
  organization's own budget. Each split is a FundingAllocation row with a
  validity window and a status. The ledger is the source of truth for
  what was in force when; stored amounts are never recomputed in place.

CRITICAL INVARIANTS:
  1. WHOLE: active fte for an employment sums to 1.0 (within 1e-4)
     whenever no edit is in progress.
  2. FORWARD-ONLY: active -> historical | terminated. Never back. A new
     price means a new row (SupersedesID points at the old one).
  3. CAPACITY: active fte drawn from a capped grant line never exceeds
     its capacity.

OPERATIONS:
  Create                    new splits at the tier in force on the effective date
  TransitionAfterProbation  reprice non-post-probation rows at the post salary
  Terminate                 close every active row as terminated

  Each has a package-level form taking a core.Store, for use inside a
  caller's unit of work, and a Ledger method that runs its own WithTx.

SEE ALSO:
  - capacity.go: capacity check and optimistic retry
  - transition/processor.go: pairs TransitionAfterProbation with probation.Pass
*/
package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
)

// Split is one requested (source, fte) pair. Amount overrides salary x fte.
type Split struct {
	FundingSourceID core.FundingSourceID
	FTE             decimal.Decimal
	Amount          *decimal.Decimal
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store      core.TxStore
	maxRetries int
	logger     *zap.Logger
}

// NewLedger creates a ledger. maxRetries bounds the re-runs of Create after
// a concurrent write to the same funding source.
func NewLedger(store core.TxStore, maxRetries int, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Ledger{store: store, maxRetries: maxRetries, logger: logger.Named("funding")}
}

// Create inserts splits for an employment effective from effective.
func (l *Ledger) Create(ctx context.Context, id core.EmploymentID, effective core.Date, splits []Split) ([]core.FundingAllocation, error) {
	var created []core.FundingAllocation
	err := l.withRetry(ctx, "create", func(s core.Store) error {
		emp, err := s.GetEmployment(ctx, id)
		if err != nil {
			return err
		}
		created, err = Create(ctx, s, *emp, effective, splits)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("allocations created",
		zap.String("employment_id", string(id)),
		zap.Int("count", len(created)))
	return created, nil
}

// TransitionAfterProbation reprices the employment's active allocations
// from transitionDate on, in its own unit of work. It is the standalone
// entry point for directory integrations that record the probation
// decision elsewhere; transition.Processor calls the package-level form
// next to probation.Pass instead.
func (l *Ledger) TransitionAfterProbation(ctx context.Context, id core.EmploymentID, transitionDate core.Date) ([]core.FundingAllocation, error) {
	var created []core.FundingAllocation
	err := l.store.WithTx(ctx, func(s core.Store) error {
		emp, err := s.GetEmployment(ctx, id)
		if err != nil {
			return err
		}
		created, err = TransitionAfterProbation(ctx, s, *emp, transitionDate)
		return err
	})
	if err != nil {
		var ie *core.IntegrityError
		if errors.As(err, &ie) {
			l.logger.Error("allocation transition violated an invariant",
				zap.String("employment_id", string(id)),
				zap.Any("context", ie.Context),
				zap.Error(err))
		}
		return nil, err
	}
	return created, nil
}

// Terminate closes every active allocation of the employment in its own
// unit of work, for terminations decided outside probation. A failed
// probation goes through transition.Processor.Fail, which also ends the
// employment.
func (l *Ledger) Terminate(ctx context.Context, id core.EmploymentID, terminationDate core.Date) (int, error) {
	var n int
	err := l.store.WithTx(ctx, func(s core.Store) error {
		var err error
		n, err = Terminate(ctx, s, id, terminationDate)
		return err
	})
	return n, err
}

// ForEmployment lists allocations of an employment; an empty status means all.
func (l *Ledger) ForEmployment(ctx context.Context, id core.EmploymentID, status core.AllocationStatus) ([]core.FundingAllocation, error) {
	return l.store.ListAllocationsByEmployment(ctx, id, core.AllocationFilter{Status: status})
}

// ForSource lists allocations drawing on a funding source.
func (l *Ledger) ForSource(ctx context.Context, id core.FundingSourceID, status core.AllocationStatus) ([]core.FundingAllocation, error) {
	if id != core.OrganizationFunded {
		if _, err := l.store.GetFundingSource(ctx, id); err != nil {
			return nil, err
		}
	}
	return l.store.ListAllocationsBySource(ctx, id, core.AllocationFilter{Status: status})
}

// =============================================================================
// UNIT-OF-WORK OPERATIONS
// =============================================================================

// Create validates splits against the employment's active allocations and
// inserts one active row per split. Every grant line touched has its
// version bumped, so a concurrent writer to the same line fails with
// core.ErrConcurrentModification and is retried by the Ledger.
func Create(ctx context.Context, s core.Store, emp core.Employment, effective core.Date, splits []Split) ([]core.FundingAllocation, error) {
	const op = "funding.create"
	if len(splits) == 0 {
		return nil, &core.PreconditionError{Op: op, Reason: "no splits given"}
	}
	if emp.IsEnded(effective) {
		return nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("employment %s has ended", emp.ID)}
	}
	if effective.Before(emp.StartDate) {
		return nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("effective date %s precedes employment start %s", effective, emp.StartDate)}
	}

	seen := make(map[core.FundingSourceID]bool, len(splits))
	requested := decimal.Zero
	for _, sp := range splits {
		if !core.ValidFTE(sp.FTE) {
			return nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("fte %s for source %s must be in (0, 1]", sp.FTE, sp.FundingSourceID)}
		}
		if sp.Amount != nil && sp.Amount.IsNegative() {
			return nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("override amount for source %s is negative", sp.FundingSourceID)}
		}
		if seen[sp.FundingSourceID] {
			return nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("source %s appears twice", sp.FundingSourceID)}
		}
		seen[sp.FundingSourceID] = true
		requested = requested.Add(sp.FTE)
	}

	active, err := s.ListAllocationsByEmployment(ctx, emp.ID, core.AllocationFilter{Status: core.AllocationActive})
	if err != nil {
		return nil, err
	}
	if total := core.SumFTE(active).Add(requested); !core.IsWhole(total) {
		return nil, &core.FTESumError{EmploymentID: emp.ID, Sum: total}
	}

	tier := emp.TierOn(effective)
	salary := emp.SalaryFor(tier)

	created := make([]core.FundingAllocation, 0, len(splits))
	for _, sp := range splits {
		src, err := lockSource(ctx, s, sp.FundingSourceID)
		if err != nil {
			return nil, err
		}
		if err := CapacityCheck(ctx, s, src, sp.FTE); err != nil {
			return nil, err
		}

		a := core.FundingAllocation{
			ID:              newAllocationID(),
			EmployeeID:      emp.EmployeeID,
			EmploymentID:    emp.ID,
			FundingSourceID: sp.FundingSourceID,
			FTE:             sp.FTE,
			Amount:          core.RoundMoney(salary.Mul(sp.FTE)),
			Tier:            tier,
			Status:          core.AllocationActive,
			ValidFrom:       effective,
		}
		if sp.Amount != nil {
			a.Amount = core.RoundMoney(*sp.Amount)
			a.IsOverride = true
		}
		if err := s.InsertAllocation(ctx, a); err != nil {
			return nil, err
		}
		if err := bumpSource(ctx, s, src); err != nil {
			return nil, err
		}
		created = append(created, a)
	}
	return created, nil
}

// TransitionAfterProbation closes every active allocation still on the
// probation tier (ValidTo = transitionDate - 1) and opens a successor with
// the same source and fte at the post-probation salary. Overrides are not
// carried over. The new generation must still be whole; if not, the data
// was already inconsistent and the unit of work is aborted.
func TransitionAfterProbation(ctx context.Context, s core.Store, emp core.Employment, transitionDate core.Date) ([]core.FundingAllocation, error) {
	const op = "funding.transition"
	active, err := s.ListAllocationsByEmployment(ctx, emp.ID, core.AllocationFilter{Status: core.AllocationActive})
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	closeOn := transitionDate.AddDays(-1)
	var (
		created []core.FundingAllocation
		next    = decimal.Zero
		ids     = make(map[string]string, len(active))
	)
	for _, a := range active {
		ids[string(a.ID)] = a.FTE.String()
		if a.Tier == core.TierPostProbation {
			next = next.Add(a.FTE)
			continue
		}
		validTo := closeOn
		if validTo.Before(a.ValidFrom) {
			validTo = a.ValidFrom
		}
		if err := s.CloseAllocation(ctx, a.ID, core.AllocationHistorical, validTo); err != nil {
			return nil, err
		}

		succ := core.FundingAllocation{
			ID:              newAllocationID(),
			EmployeeID:      a.EmployeeID,
			EmploymentID:    a.EmploymentID,
			FundingSourceID: a.FundingSourceID,
			FTE:             a.FTE,
			Amount:          core.RoundMoney(emp.Salary.Mul(a.FTE)),
			Tier:            core.TierPostProbation,
			Status:          core.AllocationActive,
			ValidFrom:       transitionDate,
			SupersedesID:    a.ID,
		}
		if err := s.InsertAllocation(ctx, succ); err != nil {
			return nil, err
		}
		src, err := lockSource(ctx, s, a.FundingSourceID)
		if err != nil {
			return nil, err
		}
		if err := bumpSource(ctx, s, src); err != nil {
			return nil, err
		}
		next = next.Add(succ.FTE)
		created = append(created, succ)
	}

	if !core.IsWhole(next) {
		ids["fte_sum"] = next.String()
		ids["transition_date"] = transitionDate.String()
		return nil, &core.IntegrityError{
			Op:           op,
			EmploymentID: emp.ID,
			Detail:       (&core.FTESumError{EmploymentID: emp.ID, Sum: next, Derived: true}).Error(),
			Context:      ids,
		}
	}
	return created, nil
}

// Terminate sets every active allocation to terminated with ValidTo =
// terminationDate. Amounts and tiers are left as they were.
func Terminate(ctx context.Context, s core.Store, id core.EmploymentID, terminationDate core.Date) (int, error) {
	active, err := s.ListAllocationsByEmployment(ctx, id, core.AllocationFilter{Status: core.AllocationActive})
	if err != nil {
		return 0, err
	}
	for _, a := range active {
		if err := s.CloseAllocation(ctx, a.ID, core.AllocationTerminated, terminationDate); err != nil {
			return 0, err
		}
	}
	return len(active), nil
}

func newAllocationID() core.AllocationID {
	return core.AllocationID("alloc-" + uuid.NewString())
}
