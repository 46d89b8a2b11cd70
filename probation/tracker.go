/*
Package probation tracks an employment's probation lifecycle.

PURPOSE:
  Keeps an append-only log of probation events per employment and exposes
  the "current" event as a derived view. Every mutation that creates a new
  current record clears the flag on the previous one in the same unit of
  work, so at most one record per employment is current.

STATE MACHINE:

    (none) --create--> initial --extend--> extension --extend--> extension ...
                          |                    |
                          +--pass/fail---------+--> passed | failed (terminal)

  Extensions keep the original interval start, move the end forward and
  record the superseded end in PreviousEnd. Sequence is 0 for the initial
  record and increments per extension; terminal records reuse the
  sequence of the record they close.

TRANSACTIONS:
  The package-level functions (CreateInitial, Extend, Pass, Fail) take a
  core.Store and expect to run inside a unit of work; callers that need to
  combine them with allocation changes (the transition processor) do so in
  one WithTx. Tracker wraps each of them in its own WithTx for standalone use.

SEE ALSO:
  - transition/processor.go: pairs Pass with funding.TransitionAfterProbation
  - summary.go: history view for collaborators
*/
package probation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
)

// =============================================================================
// INPUTS
// =============================================================================

// Decision carries who decided and why, for extend/pass/fail.
type Decision struct {
	Date       core.Date
	Reason     string
	Notes      string
	ApprovedBy string
}

// =============================================================================
// TRACKER - Standalone (one unit of work per call) entry points
// =============================================================================

type Tracker struct {
	store  core.TxStore
	logger *zap.Logger
}

func NewTracker(store core.TxStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger.Named("probation")}
}

// CreateInitialRecord opens the probation log for an employment.
func (t *Tracker) CreateInitialRecord(ctx context.Context, id core.EmploymentID) (*core.ProbationRecord, error) {
	var rec *core.ProbationRecord
	err := t.store.WithTx(ctx, func(s core.Store) error {
		emp, err := s.GetEmployment(ctx, id)
		if err != nil {
			return err
		}
		rec, err = CreateInitial(ctx, s, *emp)
		return err
	})
	return rec, err
}

// Extend moves the probation end to newEnd.
func (t *Tracker) Extend(ctx context.Context, id core.EmploymentID, newEnd core.Date, d Decision) (*core.ProbationRecord, error) {
	var rec *core.ProbationRecord
	err := t.store.WithTx(ctx, func(s core.Store) error {
		var err error
		rec, err = Extend(ctx, s, id, newEnd, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("probation extended",
		zap.String("employment_id", string(id)),
		zap.String("new_end", newEnd.String()),
		zap.Int("sequence", rec.Sequence))
	return rec, nil
}

// MarkPassed records a passed decision without touching allocations, for
// callers that reprice allocations themselves. The HTTP and CLI surfaces
// go through transition.Processor.Pass, which does both in one unit of work.
func (t *Tracker) MarkPassed(ctx context.Context, id core.EmploymentID, d Decision) (*core.ProbationRecord, error) {
	var rec *core.ProbationRecord
	err := t.store.WithTx(ctx, func(s core.Store) error {
		var err error
		rec, err = Pass(ctx, s, id, d)
		return err
	})
	return rec, err
}

// MarkFailed records a failed decision without touching allocations or
// the employment. transition.Processor.Fail is the variant that also
// terminates allocations and ends the employment.
func (t *Tracker) MarkFailed(ctx context.Context, id core.EmploymentID, d Decision) (*core.ProbationRecord, error) {
	var rec *core.ProbationRecord
	err := t.store.WithTx(ctx, func(s core.Store) error {
		var err error
		rec, err = Fail(ctx, s, id, d)
		return err
	})
	return rec, err
}

// IsReadyForTransition reports whether the employment should be passed on today.
func (t *Tracker) IsReadyForTransition(ctx context.Context, id core.EmploymentID, today core.Date) (bool, error) {
	emp, err := t.store.GetEmployment(ctx, id)
	if err != nil {
		return false, err
	}
	return IsReadyForTransition(ctx, t.store, *emp, today)
}

// History returns the log and its summary.
func (t *Tracker) History(ctx context.Context, id core.EmploymentID) (*History, error) {
	emp, err := t.store.GetEmployment(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := t.store.ListProbationRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	return BuildHistory(*emp, records), nil
}

// =============================================================================
// UNIT-OF-WORK OPERATIONS
// =============================================================================

// CreateInitial inserts the sequence-0 record covering [start, probation end].
func CreateInitial(ctx context.Context, s core.Store, emp core.Employment) (*core.ProbationRecord, error) {
	if emp.ProbationEndDate == nil {
		return nil, &core.PreconditionError{Op: "probation.create", Reason: fmt.Sprintf("employment %s has no probation date", emp.ID)}
	}
	existing, err := s.ListProbationRecords(ctx, emp.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, &core.PreconditionError{Op: "probation.create", Reason: fmt.Sprintf("employment %s already has a probation history", emp.ID)}
	}

	rec := core.ProbationRecord{
		ID:           newRecordID(),
		EmploymentID: emp.ID,
		Kind:         core.ProbationInitial,
		EventDate:    emp.StartDate,
		PeriodStart:  emp.StartDate,
		PeriodEnd:    *emp.ProbationEndDate,
		Sequence:     0,
		IsCurrent:    true,
		CreatedAt:    core.Today(),
	}
	if err := s.AppendProbationRecord(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Extend supersedes the current record with an extension ending at newEnd
// and moves the employment's probation date with it.
func Extend(ctx context.Context, s core.Store, id core.EmploymentID, newEnd core.Date, d Decision) (*core.ProbationRecord, error) {
	emp, cur, err := loadOpen(ctx, s, id, "probation.extend")
	if err != nil {
		return nil, err
	}
	if !newEnd.After(cur.PeriodEnd) {
		return nil, &core.PreconditionError{
			Op:     "probation.extend",
			Reason: fmt.Sprintf("new end %s must be after current end %s", newEnd, cur.PeriodEnd),
		}
	}

	if err := s.ClearCurrentProbation(ctx, cur.ID); err != nil {
		return nil, err
	}
	rec := core.ProbationRecord{
		ID:           newRecordID(),
		EmploymentID: id,
		Kind:         core.ProbationExtension,
		EventDate:    eventDate(d),
		DecisionDate: decisionDate(d),
		PeriodStart:  cur.PeriodStart,
		PeriodEnd:    newEnd,
		PreviousEnd:  core.DatePtr(cur.PeriodEnd),
		Sequence:     cur.Sequence + 1,
		Reason:       d.Reason,
		Notes:        d.Notes,
		ApprovedBy:   d.ApprovedBy,
		IsCurrent:    true,
		CreatedAt:    core.Today(),
	}
	if err := s.AppendProbationRecord(ctx, rec); err != nil {
		return nil, err
	}

	emp.ProbationEndDate = core.DatePtr(newEnd)
	if err := s.SaveEmployment(ctx, *emp); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Pass closes probation with a passed record.
func Pass(ctx context.Context, s core.Store, id core.EmploymentID, d Decision) (*core.ProbationRecord, error) {
	return closeWith(ctx, s, id, core.ProbationPassed, d)
}

// Fail closes probation with a failed record. Callers also terminate the
// employment's allocations and set its end date.
func Fail(ctx context.Context, s core.Store, id core.EmploymentID, d Decision) (*core.ProbationRecord, error) {
	return closeWith(ctx, s, id, core.ProbationFailed, d)
}

func closeWith(ctx context.Context, s core.Store, id core.EmploymentID, kind core.ProbationEventKind, d Decision) (*core.ProbationRecord, error) {
	op := "probation." + string(kind)
	_, cur, err := loadOpen(ctx, s, id, op)
	if err != nil {
		return nil, err
	}
	if err := s.ClearCurrentProbation(ctx, cur.ID); err != nil {
		return nil, err
	}
	rec := core.ProbationRecord{
		ID:           newRecordID(),
		EmploymentID: id,
		Kind:         kind,
		EventDate:    eventDate(d),
		DecisionDate: decisionDate(d),
		PeriodStart:  cur.PeriodStart,
		PeriodEnd:    cur.PeriodEnd,
		Sequence:     cur.Sequence,
		Reason:       d.Reason,
		Notes:        d.Notes,
		ApprovedBy:   d.ApprovedBy,
		IsCurrent:    true,
		CreatedAt:    core.Today(),
	}
	if err := s.AppendProbationRecord(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// IsReadyForTransition is true iff the probation date is today, the
// employment has not ended and its current record is not terminal.
// A second call after Pass returns false, which makes the daily run idempotent.
func IsReadyForTransition(ctx context.Context, s core.ProbationStore, emp core.Employment, today core.Date) (bool, error) {
	if emp.ProbationEndDate == nil || !emp.ProbationEndDate.Equal(today) {
		return false, nil
	}
	if emp.EndDate != nil {
		return false, nil
	}
	cur, err := s.CurrentProbationRecord(ctx, emp.ID)
	if err != nil {
		return false, err
	}
	return cur == nil || !cur.Kind.Terminal(), nil
}

// loadOpen fetches the employment and its current, non-terminal record.
func loadOpen(ctx context.Context, s core.Store, id core.EmploymentID, op string) (*core.Employment, *core.ProbationRecord, error) {
	emp, err := s.GetEmployment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	cur, err := s.CurrentProbationRecord(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if cur == nil {
		return nil, nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("employment %s has no current probation record", id)}
	}
	if cur.Kind.Terminal() {
		return nil, nil, &core.PreconditionError{Op: op, Reason: fmt.Sprintf("probation for employment %s is already %s", id, cur.Kind)}
	}
	return emp, cur, nil
}

func eventDate(d Decision) core.Date {
	if d.Date.IsZero() {
		return core.Today()
	}
	return d.Date
}

func decisionDate(d Decision) *core.Date {
	return core.DatePtr(eventDate(d))
}

func newRecordID() core.ProbationRecordID {
	return core.ProbationRecordID("prob-" + uuid.NewString())
}
