// Package store provides an in-memory core.TxStore (for tests and demos).
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a core.TxStore held in process memory.
// All calls are serialized; WithTx snapshots state and restores it on error.
type Memory struct {
	mu sync.Mutex
	st *memState
}

func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

var _ core.TxStore = (*Memory)(nil)

// WithTx executes fn within a transaction, simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newMemState()
	return nil
}

func (m *Memory) SaveEmployee(ctx context.Context, e core.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveEmployee(ctx, e)
}

func (m *Memory) GetEmployee(ctx context.Context, id core.EmployeeID) (*core.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetEmployee(ctx, id)
}

func (m *Memory) SaveEmployment(ctx context.Context, e core.Employment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveEmployment(ctx, e)
}

func (m *Memory) GetEmployment(ctx context.Context, id core.EmploymentID) (*core.Employment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetEmployment(ctx, id)
}

func (m *Memory) ListEmploymentsByProbationDate(ctx context.Context, date core.Date) ([]core.Employment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListEmploymentsByProbationDate(ctx, date)
}

func (m *Memory) AppendProbationRecord(ctx context.Context, r core.ProbationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendProbationRecord(ctx, r)
}

func (m *Memory) ClearCurrentProbation(ctx context.Context, id core.ProbationRecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ClearCurrentProbation(ctx, id)
}

func (m *Memory) ListProbationRecords(ctx context.Context, id core.EmploymentID) ([]core.ProbationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListProbationRecords(ctx, id)
}

func (m *Memory) CurrentProbationRecord(ctx context.Context, id core.EmploymentID) (*core.ProbationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CurrentProbationRecord(ctx, id)
}

func (m *Memory) SaveFundingSource(ctx context.Context, s core.FundingSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveFundingSource(ctx, s)
}

func (m *Memory) GetFundingSource(ctx context.Context, id core.FundingSourceID) (*core.FundingSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetFundingSource(ctx, id)
}

func (m *Memory) BumpFundingSourceVersion(ctx context.Context, id core.FundingSourceID, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.BumpFundingSourceVersion(ctx, id, expected)
}

func (m *Memory) InsertAllocation(ctx context.Context, a core.FundingAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertAllocation(ctx, a)
}

func (m *Memory) CloseAllocation(ctx context.Context, id core.AllocationID, status core.AllocationStatus, validTo core.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CloseAllocation(ctx, id, status, validTo)
}

func (m *Memory) ListAllocationsByEmployment(ctx context.Context, id core.EmploymentID, f core.AllocationFilter) ([]core.FundingAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListAllocationsByEmployment(ctx, id, f)
}

func (m *Memory) ListAllocationsBySource(ctx context.Context, id core.FundingSourceID, f core.AllocationFilter) ([]core.FundingAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListAllocationsBySource(ctx, id, f)
}

func (m *Memory) AppendPayrollRecords(ctx context.Context, records []core.PayrollRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendPayrollRecords(ctx, records)
}

func (m *Memory) LatestPayrollRevision(ctx context.Context, id core.EmploymentID, period core.PayPeriod) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.LatestPayrollRevision(ctx, id, period)
}

func (m *Memory) ListPayrollRecords(ctx context.Context, id core.EmploymentID, period core.PayPeriod) ([]core.PayrollRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListPayrollRecords(ctx, id, period)
}

func (m *Memory) ReplaceTaxYear(ctx context.Context, year int, brackets []core.TaxBracket, settings []core.TaxSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ReplaceTaxYear(ctx, year, brackets, settings)
}

func (m *Memory) TaxBrackets(ctx context.Context, year int) ([]core.TaxBracket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.TaxBrackets(ctx, year)
}

func (m *Memory) TaxSettings(ctx context.Context, year int) ([]core.TaxSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.TaxSettings(ctx, year)
}

func (m *Memory) SaveTransitionRun(ctx context.Context, r core.TransitionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveTransitionRun(ctx, r)
}

func (m *Memory) ListTransitionRuns(ctx context.Context, limit int) ([]core.TransitionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListTransitionRuns(ctx, limit)
}

// =============================================================================
// STATE - Unlocked implementation shared by Memory and its tx view
// =============================================================================

type memState struct {
	employees   map[core.EmployeeID]core.Employee
	employments map[core.EmploymentID]core.Employment
	probation   []core.ProbationRecord
	sources     map[core.FundingSourceID]core.FundingSource
	allocations []core.FundingAllocation
	payroll     []core.PayrollRecord
	brackets    map[int][]core.TaxBracket
	settings    map[int][]core.TaxSetting
	runs        []core.TransitionRun
}

func newMemState() *memState {
	return &memState{
		employees:   make(map[core.EmployeeID]core.Employee),
		employments: make(map[core.EmploymentID]core.Employment),
		sources:     make(map[core.FundingSourceID]core.FundingSource),
		brackets:    make(map[int][]core.TaxBracket),
		settings:    make(map[int][]core.TaxSetting),
	}
}

// clone copies every map and slice. Struct values are replaced, never
// mutated through their pointer fields, so a shallow element copy suffices.
func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.employments {
		c.employments[k] = v
	}
	for k, v := range s.sources {
		c.sources[k] = v
	}
	for k, v := range s.brackets {
		c.brackets[k] = append([]core.TaxBracket(nil), v...)
	}
	for k, v := range s.settings {
		c.settings[k] = append([]core.TaxSetting(nil), v...)
	}
	c.probation = append([]core.ProbationRecord(nil), s.probation...)
	c.allocations = append([]core.FundingAllocation(nil), s.allocations...)
	c.payroll = append([]core.PayrollRecord(nil), s.payroll...)
	c.runs = append([]core.TransitionRun(nil), s.runs...)
	return c
}

func (s *memState) SaveEmployee(_ context.Context, e core.Employee) error {
	s.employees[e.ID] = e
	return nil
}

func (s *memState) GetEmployee(_ context.Context, id core.EmployeeID) (*core.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return nil, &core.NotFoundError{Entity: "employee", ID: string(id)}
	}
	return &e, nil
}

func (s *memState) SaveEmployment(_ context.Context, e core.Employment) error {
	s.employments[e.ID] = e
	return nil
}

func (s *memState) GetEmployment(_ context.Context, id core.EmploymentID) (*core.Employment, error) {
	e, ok := s.employments[id]
	if !ok {
		return nil, &core.NotFoundError{Entity: "employment", ID: string(id)}
	}
	return &e, nil
}

func (s *memState) ListEmploymentsByProbationDate(_ context.Context, date core.Date) ([]core.Employment, error) {
	var result []core.Employment
	for _, e := range s.employments {
		if e.EndDate == nil && e.ProbationEndDate != nil && e.ProbationEndDate.Equal(date) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *memState) AppendProbationRecord(_ context.Context, r core.ProbationRecord) error {
	for _, existing := range s.probation {
		if existing.ID == r.ID {
			return fmt.Errorf("probation record %s: %w", r.ID, core.ErrDuplicate)
		}
		if r.IsCurrent && existing.IsCurrent && existing.EmploymentID == r.EmploymentID {
			return fmt.Errorf("employment %s already has a current probation record: %w", r.EmploymentID, core.ErrDuplicate)
		}
	}
	s.probation = append(s.probation, r)
	return nil
}

func (s *memState) ClearCurrentProbation(_ context.Context, id core.ProbationRecordID) error {
	for i := range s.probation {
		if s.probation[i].ID == id {
			s.probation[i].IsCurrent = false
			return nil
		}
	}
	return &core.NotFoundError{Entity: "probation record", ID: string(id)}
}

func (s *memState) ListProbationRecords(_ context.Context, id core.EmploymentID) ([]core.ProbationRecord, error) {
	var result []core.ProbationRecord
	for _, r := range s.probation {
		if r.EmploymentID == id {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *memState) CurrentProbationRecord(_ context.Context, id core.EmploymentID) (*core.ProbationRecord, error) {
	for _, r := range s.probation {
		if r.EmploymentID == id && r.IsCurrent {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memState) SaveFundingSource(_ context.Context, src core.FundingSource) error {
	if existing, ok := s.sources[src.ID]; ok {
		src.Version = existing.Version
	}
	s.sources[src.ID] = src
	return nil
}

func (s *memState) GetFundingSource(_ context.Context, id core.FundingSourceID) (*core.FundingSource, error) {
	src, ok := s.sources[id]
	if !ok {
		return nil, &core.NotFoundError{Entity: "funding source", ID: string(id)}
	}
	return &src, nil
}

func (s *memState) BumpFundingSourceVersion(_ context.Context, id core.FundingSourceID, expected int64) error {
	src, ok := s.sources[id]
	if !ok {
		return &core.NotFoundError{Entity: "funding source", ID: string(id)}
	}
	if src.Version != expected {
		return core.ErrConcurrentModification
	}
	src.Version++
	s.sources[id] = src
	return nil
}

func (s *memState) InsertAllocation(_ context.Context, a core.FundingAllocation) error {
	for _, existing := range s.allocations {
		if existing.ID == a.ID {
			return fmt.Errorf("allocation %s: %w", a.ID, core.ErrDuplicate)
		}
	}
	s.allocations = append(s.allocations, a)
	return nil
}

func (s *memState) CloseAllocation(_ context.Context, id core.AllocationID, status core.AllocationStatus, validTo core.Date) error {
	for i := range s.allocations {
		if s.allocations[i].ID != id {
			continue
		}
		if s.allocations[i].Status != core.AllocationActive {
			return &core.PreconditionError{Op: "allocation.close", Reason: fmt.Sprintf("allocation %s is %s", id, s.allocations[i].Status)}
		}
		s.allocations[i].Status = status
		s.allocations[i].ValidTo = core.DatePtr(validTo)
		return nil
	}
	return &core.NotFoundError{Entity: "allocation", ID: string(id)}
}

func (s *memState) ListAllocationsByEmployment(_ context.Context, id core.EmploymentID, f core.AllocationFilter) ([]core.FundingAllocation, error) {
	var result []core.FundingAllocation
	for _, a := range s.allocations {
		if a.EmploymentID == id && f.Matches(a) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (s *memState) ListAllocationsBySource(_ context.Context, id core.FundingSourceID, f core.AllocationFilter) ([]core.FundingAllocation, error) {
	var result []core.FundingAllocation
	for _, a := range s.allocations {
		if a.FundingSourceID == id && f.Matches(a) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (s *memState) AppendPayrollRecords(_ context.Context, records []core.PayrollRecord) error {
	for _, r := range records {
		for _, existing := range s.payroll {
			if existing.EmploymentID == r.EmploymentID && existing.AllocationID == r.AllocationID &&
				existing.Period == r.Period && existing.Revision == r.Revision {
				return fmt.Errorf("payroll %s/%s/%s rev %d: %w", r.EmploymentID, r.AllocationID, r.Period, r.Revision, core.ErrDuplicate)
			}
		}
	}
	s.payroll = append(s.payroll, records...)
	return nil
}

func (s *memState) LatestPayrollRevision(_ context.Context, id core.EmploymentID, period core.PayPeriod) (int, error) {
	latest := 0
	for _, r := range s.payroll {
		if r.EmploymentID == id && r.Period == period && r.Revision > latest {
			latest = r.Revision
		}
	}
	return latest, nil
}

func (s *memState) ListPayrollRecords(ctx context.Context, id core.EmploymentID, period core.PayPeriod) ([]core.PayrollRecord, error) {
	latest, _ := s.LatestPayrollRevision(ctx, id, period)
	var result []core.PayrollRecord
	for _, r := range s.payroll {
		if r.EmploymentID == id && r.Period == period && r.Revision == latest {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *memState) ReplaceTaxYear(_ context.Context, year int, brackets []core.TaxBracket, settings []core.TaxSetting) error {
	s.brackets[year] = append([]core.TaxBracket(nil), brackets...)
	s.settings[year] = append([]core.TaxSetting(nil), settings...)
	return nil
}

func (s *memState) TaxBrackets(_ context.Context, year int) ([]core.TaxBracket, error) {
	result := append([]core.TaxBracket(nil), s.brackets[year]...)
	sort.Slice(result, func(i, j int) bool { return result[i].Order < result[j].Order })
	return result, nil
}

func (s *memState) TaxSettings(_ context.Context, year int) ([]core.TaxSetting, error) {
	return append([]core.TaxSetting(nil), s.settings[year]...), nil
}

func (s *memState) SaveTransitionRun(_ context.Context, r core.TransitionRun) error {
	for i := range s.runs {
		if s.runs[i].ID == r.ID {
			s.runs[i] = r
			return nil
		}
	}
	s.runs = append(s.runs, r)
	return nil
}

func (s *memState) ListTransitionRuns(_ context.Context, limit int) ([]core.TransitionRun, error) {
	result := make([]core.TransitionRun, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, s.runs[i])
	}
	return result, nil
}
