/*
Package transition runs the daily probation-completion batch and the
pass/fail admin commands that move allocations along with probation.

PURPOSE:
  On the day an employment's probation ends, its probation log gets a
  "passed" record and its funding allocations are repriced at the
  post-probation salary. Both happen in ONE unit of work per employment;
  a failure rolls back both.

BATCH:
  Run(asOf) selects employments whose probation date is asOf and fans them
  out to a worker pool bounded by the configured concurrency. Each worker
  handles one employment end-to-end:

    1. Re-check readiness inside the unit of work (a concurrent run or an
       admin decision may have closed probation already).
    2. Open the initial probation record if the employment has none.
    3. probation.Pass + funding.TransitionAfterProbation.

  One employment's failure is recorded and the batch moves on. The run is
  stored as a core.TransitionRun whose counts and errors are the summary
  for the notifier.

IDEMPOTENCE:
  A second Run for the same day finds every candidate already passed and
  skips it. The final state is the same as after one run.

CANCELLATION:
  Cancelling ctx stops scheduling new employments. A unit of work that has
  started runs on a non-cancellable context so it either commits or rolls
  back as a whole.

SEE ALSO:
  - probation/tracker.go: IsReadyForTransition, Pass, Fail
  - funding/ledger.go: TransitionAfterProbation, Terminate
  - api/scheduler.go: daily trigger
*/
package transition

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/funding"
	"github.com/warp/payroll-engine/probation"
)

// DefaultConcurrency bounds the worker pool when no limit is configured.
const DefaultConcurrency = 4

// systemApprover is recorded on passed records written by the batch.
const systemApprover = "system"

// =============================================================================
// RESULTS
// =============================================================================

type OutcomeStatus string

const (
	OutcomePassed  OutcomeStatus = "passed"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is what happened to one employment in a run.
type Outcome struct {
	EmploymentID core.EmploymentID
	Status       OutcomeStatus
	Allocations  int // successors created
	Err          error
}

// Report is the stored run plus the per-employment outcomes.
type Report struct {
	Run      core.TransitionRun
	Outcomes []Outcome
}

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	store       core.TxStore
	concurrency int
	logger      *zap.Logger
	clock       func() time.Time
}

func NewProcessor(store core.TxStore, concurrency int, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Processor{
		store:       store,
		concurrency: concurrency,
		logger:      logger.Named("transition"),
		clock:       time.Now,
	}
}

// Run processes every employment whose probation ends on asOf.
// When ctx is cancelled mid-batch the run is stored as cancelled and
// ctx.Err() is returned with the partial report.
func (p *Processor) Run(ctx context.Context, asOf core.Date) (*Report, error) {
	// Run bookkeeping must survive cancellation of the batch itself.
	bg := context.WithoutCancel(ctx)

	run := core.TransitionRun{
		ID:        "run-" + uuid.NewString(),
		AsOf:      asOf,
		Status:    core.RunRunning,
		StartedAt: p.clock(),
	}
	if err := p.store.SaveTransitionRun(bg, run); err != nil {
		return nil, fmt.Errorf("transition.run: save run: %w", err)
	}

	candidates, err := p.store.ListEmploymentsByProbationDate(ctx, asOf)
	if err != nil {
		p.finish(bg, &run, core.RunCompletedWithErrors, []string{err.Error()})
		return &Report{Run: run}, err
	}
	run.Candidates = len(candidates)

	p.logger.Info("transition run started",
		zap.String("run_id", run.ID),
		zap.String("as_of", asOf.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("concurrency", p.concurrency))

	outcomes := make([]Outcome, len(candidates))
	scheduled := 0

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		id := candidates[i].ID
		g.Go(func() error {
			outcomes[i] = p.processOne(ctx, id, asOf)
			return nil
		})
		scheduled++
	}
	_ = g.Wait()

	outcomes = outcomes[:scheduled]
	var errs []string
	for _, o := range outcomes {
		switch o.Status {
		case OutcomePassed:
			run.Passed++
		case OutcomeSkipped:
			run.Skipped++
		case OutcomeFailed:
			run.Failed++
			errs = append(errs, fmt.Sprintf("%s: %v", o.EmploymentID, o.Err))
		}
	}

	status := core.RunCompleted
	switch {
	case scheduled < len(candidates):
		status = core.RunCancelled
	case run.Failed > 0:
		status = core.RunCompletedWithErrors
	}
	p.finish(bg, &run, status, errs)

	p.logger.Info("transition run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("passed", run.Passed),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed))

	report := &Report{Run: run, Outcomes: outcomes}
	if status == core.RunCancelled {
		return report, ctx.Err()
	}
	return report, nil
}

func (p *Processor) finish(ctx context.Context, run *core.TransitionRun, status core.RunStatus, errs []string) {
	finished := p.clock()
	run.Status = status
	run.Errors = errs
	run.FinishedAt = &finished
	if err := p.store.SaveTransitionRun(ctx, *run); err != nil {
		p.logger.Error("failed to store transition run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// processOne transitions one employment in its own unit of work.
func (p *Processor) processOne(ctx context.Context, id core.EmploymentID, asOf core.Date) Outcome {
	out := Outcome{EmploymentID: id, Status: OutcomeSkipped}
	txCtx := context.WithoutCancel(ctx)

	err := p.store.WithTx(txCtx, func(s core.Store) error {
		emp, err := s.GetEmployment(txCtx, id)
		if err != nil {
			return err
		}
		ready, err := probation.IsReadyForTransition(txCtx, s, *emp, asOf)
		if err != nil || !ready {
			return err
		}
		// Employments loaded without going through CreateInitial have a
		// probation date but no log yet.
		cur, err := s.CurrentProbationRecord(txCtx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			if _, err := probation.CreateInitial(txCtx, s, *emp); err != nil {
				return err
			}
		}
		created, err := pass(txCtx, s, *emp, probation.Decision{
			Date:       asOf,
			Reason:     "probation period completed",
			ApprovedBy: systemApprover,
		})
		if err != nil {
			return err
		}
		out.Status = OutcomePassed
		out.Allocations = len(created)
		return nil
	})
	if err != nil {
		p.logger.Error("employment transition failed",
			zap.String("employment_id", string(id)),
			zap.String("as_of", asOf.String()),
			zap.Error(err))
		return Outcome{EmploymentID: id, Status: OutcomeFailed, Err: err}
	}
	return out
}

// =============================================================================
// ADMIN COMMANDS
// =============================================================================

// Pass records a passed decision effective d.Date (today when zero) and
// reprices the allocations from that date, in one unit of work. Passing
// before the scheduled date moves the employment's probation date to
// d.Date so payroll blends at the same boundary.
func (p *Processor) Pass(ctx context.Context, id core.EmploymentID, d probation.Decision) (*core.ProbationRecord, error) {
	if d.Date.IsZero() {
		d.Date = core.DateOf(p.clock())
	}
	var rec *core.ProbationRecord
	err := p.store.WithTx(ctx, func(s core.Store) error {
		emp, err := s.GetEmployment(ctx, id)
		if err != nil {
			return err
		}
		if d.Date.Before(emp.StartDate) {
			return &core.PreconditionError{Op: "transition.pass", Reason: fmt.Sprintf("decision date %s precedes employment start %s", d.Date, emp.StartDate)}
		}
		if !emp.HasProbation() {
			return &core.PreconditionError{Op: "transition.pass", Reason: fmt.Sprintf("employment %s has no probation", id)}
		}
		cur, err := s.CurrentProbationRecord(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return &core.PreconditionError{Op: "transition.pass", Reason: fmt.Sprintf("employment %s has no current probation record", id)}
		}
		if emp.ProbationEndDate == nil || !emp.ProbationEndDate.Equal(d.Date) {
			emp.ProbationEndDate = core.DatePtr(d.Date)
			if err := s.SaveEmployment(ctx, *emp); err != nil {
				return err
			}
		}
		if _, err := pass(ctx, s, *emp, d); err != nil {
			return err
		}
		rec, err = s.CurrentProbationRecord(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("probation passed",
		zap.String("employment_id", string(id)),
		zap.String("date", d.Date.String()),
		zap.String("approved_by", d.ApprovedBy))
	return rec, nil
}

// Fail records a failed decision, terminates every active allocation on
// d.Date and ends the employment on that date.
func (p *Processor) Fail(ctx context.Context, id core.EmploymentID, d probation.Decision) (*core.ProbationRecord, int, error) {
	if d.Date.IsZero() {
		d.Date = core.DateOf(p.clock())
	}
	var (
		rec        *core.ProbationRecord
		terminated int
	)
	err := p.store.WithTx(ctx, func(s core.Store) error {
		emp, err := s.GetEmployment(ctx, id)
		if err != nil {
			return err
		}
		if d.Date.Before(emp.StartDate) {
			return &core.PreconditionError{Op: "transition.fail", Reason: fmt.Sprintf("decision date %s precedes employment start %s", d.Date, emp.StartDate)}
		}
		if rec, err = probation.Fail(ctx, s, id, d); err != nil {
			return err
		}
		if terminated, err = funding.Terminate(ctx, s, id, d.Date); err != nil {
			return err
		}
		emp.EndDate = core.DatePtr(d.Date)
		return s.SaveEmployment(ctx, *emp)
	})
	if err != nil {
		return nil, 0, err
	}
	p.logger.Info("probation failed, employment ended",
		zap.String("employment_id", string(id)),
		zap.String("date", d.Date.String()),
		zap.Int("allocations_terminated", terminated))
	return rec, terminated, nil
}

// pass appends the passed record and reprices the allocations from d.Date.
func pass(ctx context.Context, s core.Store, emp core.Employment, d probation.Decision) ([]core.FundingAllocation, error) {
	if _, err := probation.Pass(ctx, s, emp.ID, d); err != nil {
		return nil, err
	}
	return funding.TransitionAfterProbation(ctx, s, emp, d.Date)
}
