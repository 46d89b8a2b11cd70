package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
)

// =============================================================================
// CAPACITY CHECK
// =============================================================================

// CapacityCheck rejects proposedFTE when the source's active allocations
// plus proposedFTE would exceed its capacity. Uncapped sources always pass.
//
// The check only holds if the insert that follows it runs in the same unit
// of work and the source version is bumped there (see Create).
func CapacityCheck(ctx context.Context, s core.FundingStore, src *core.FundingSource, proposedFTE decimal.Decimal) error {
	if src.CapacityFTE == nil {
		return nil
	}
	committed, err := committedFTE(ctx, s, src.ID)
	if err != nil {
		return err
	}
	if committed.Add(proposedFTE).GreaterThan(*src.CapacityFTE) {
		return &core.CapacityError{
			FundingSourceID: src.ID,
			Capacity:        *src.CapacityFTE,
			Committed:       committed,
			Proposed:        proposedFTE,
		}
	}
	return nil
}

func committedFTE(ctx context.Context, s core.FundingStore, id core.FundingSourceID) (decimal.Decimal, error) {
	active, err := s.ListAllocationsBySource(ctx, id, core.AllocationFilter{Status: core.AllocationActive})
	if err != nil {
		return decimal.Zero, err
	}
	return core.SumFTE(active), nil
}

// lockSource reads the source and the version the unit of work will bump.
// The organization sentinel is implicit and never versioned.
func lockSource(ctx context.Context, s core.FundingStore, id core.FundingSourceID) (*core.FundingSource, error) {
	if id == core.OrganizationFunded {
		return &core.FundingSource{ID: id, Kind: core.FundingOrganization, Name: "Organization"}, nil
	}
	return s.GetFundingSource(ctx, id)
}

func bumpSource(ctx context.Context, s core.FundingStore, src *core.FundingSource) error {
	if src.ID == core.OrganizationFunded {
		return nil
	}
	if err := s.BumpFundingSourceVersion(ctx, src.ID, src.Version); err != nil {
		return err
	}
	src.Version++
	return nil
}

// =============================================================================
// OPTIMISTIC RETRY
// =============================================================================

// withRetry runs fn in a fresh unit of work until it commits, fails with
// anything other than a version conflict, or maxRetries re-runs are used up.
// Exhausted retries surface as a capacity conflict.
func (l *Ledger) withRetry(ctx context.Context, op string, fn func(core.Store) error) error {
	var err error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		err = l.store.WithTx(ctx, fn)
		if err == nil || !core.IsRetryable(err) {
			return err
		}
		l.logger.Debug("funding source changed concurrently, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	l.logger.Warn("giving up after concurrent funding source writes",
		zap.String("op", op),
		zap.Int("attempts", l.maxRetries+1))
	return fmt.Errorf("funding.%s: %w after %d attempts: %v", op, core.ErrCapacityConflict, l.maxRetries+1, err)
}

// =============================================================================
// CAPACITY REPORT
// =============================================================================

// Capacity summarizes how much of a funding source is drawn.
// Capacity and Available are nil for uncapped sources.
type Capacity struct {
	Source    core.FundingSource
	Capacity  *decimal.Decimal
	Committed decimal.Decimal
	Available *decimal.Decimal
	Active    int
}

// CapacityReport computes committed and available fte for one source.
func (l *Ledger) CapacityReport(ctx context.Context, id core.FundingSourceID) (*Capacity, error) {
	src, err := lockSource(ctx, l.store, id)
	if err != nil {
		return nil, err
	}
	active, err := l.store.ListAllocationsBySource(ctx, id, core.AllocationFilter{Status: core.AllocationActive})
	if err != nil {
		return nil, err
	}

	rep := &Capacity{Source: *src, Capacity: src.CapacityFTE, Committed: core.SumFTE(active), Active: len(active)}
	if src.CapacityFTE != nil {
		avail := src.CapacityFTE.Sub(rep.Committed)
		if avail.IsNegative() {
			avail = decimal.Zero
		}
		rep.Available = &avail
	}
	return rep, nil
}

// IsCapacityConflict reports whether err is a capacity rejection, either
// from the check itself or from exhausted retries.
func IsCapacityConflict(err error) bool {
	return errors.Is(err, core.ErrCapacityConflict)
}
