package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

// =============================================================================
// DIRECTORY (core.EmployeeStore)
// =============================================================================

func (s *queries) SaveEmployee(ctx context.Context, e core.Employee) error {
	query := `
		INSERT INTO employees
		(id, name, email, marital_status, child_count, social_security_enrolled,
		 provident_fund_rate, health_welfare_enrolled, thirteenth_month_eligible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			marital_status = excluded.marital_status,
			child_count = excluded.child_count,
			social_security_enrolled = excluded.social_security_enrolled,
			provident_fund_rate = excluded.provident_fund_rate,
			health_welfare_enrolled = excluded.health_welfare_enrolled,
			thirteenth_month_eligible = excluded.thirteenth_month_eligible
	`
	marital := e.MaritalStatus
	if marital == "" {
		marital = core.MaritalSingle
	}
	_, err := s.q.ExecContext(ctx, query,
		e.ID, e.Name, nullString(e.Email), marital, e.ChildCount,
		e.SocialSecurityEnrolled, e.ProvidentFundRate.String(),
		e.HealthWelfareEnrolled, e.ThirteenthMonthEligible,
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *queries) GetEmployee(ctx context.Context, id core.EmployeeID) (*core.Employee, error) {
	var (
		e       core.Employee
		email   sql.NullString
		pfRate  string
		marital string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, email, marital_status, child_count, social_security_enrolled,
		       provident_fund_rate, health_welfare_enrolled, thirteenth_month_eligible
		FROM employees WHERE id = ?
	`, id).Scan(&e.ID, &e.Name, &email, &marital, &e.ChildCount, &e.SocialSecurityEnrolled,
		&pfRate, &e.HealthWelfareEnrolled, &e.ThirteenthMonthEligible)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Entity: "employee", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	e.Email = email.String
	e.MaritalStatus = core.MaritalStatus(marital)
	if e.ProvidentFundRate, err = decimal.NewFromString(pfRate); err != nil {
		return nil, fmt.Errorf("employee %s provident fund rate: %w", id, err)
	}
	return &e, nil
}

func (s *queries) SaveEmployment(ctx context.Context, e core.Employment) error {
	query := `
		INSERT INTO employments
		(id, employee_id, start_date, end_date, probation_end_date, probation_salary,
		 salary, department, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			probation_end_date = excluded.probation_end_date,
			probation_salary = excluded.probation_salary,
			salary = excluded.salary,
			department = excluded.department,
			position = excluded.position
	`
	_, err := s.q.ExecContext(ctx, query,
		e.ID, e.EmployeeID, formatDate(e.StartDate), formatDatePtr(e.EndDate),
		formatDatePtr(e.ProbationEndDate), formatDecimalPtr(e.ProbationSalary),
		e.Salary.String(), nullString(e.Department), nullString(e.Position),
	)
	if err != nil {
		return fmt.Errorf("failed to save employment: %w", err)
	}
	return nil
}

const employmentColumns = `id, employee_id, start_date, end_date, probation_end_date,
	probation_salary, salary, department, position`

func (s *queries) GetEmployment(ctx context.Context, id core.EmploymentID) (*core.Employment, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+employmentColumns+" FROM employments WHERE id = ?", id)
	e, err := scanEmployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Entity: "employment", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *queries) ListEmploymentsByProbationDate(ctx context.Context, date core.Date) ([]core.Employment, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+employmentColumns+` FROM employments
		WHERE end_date IS NULL AND probation_end_date = ?
		ORDER BY id`, formatDate(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query employments: %w", err)
	}
	defer rows.Close()

	var result []core.Employment
	for rows.Next() {
		e, err := scanEmployment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEmployment(row scanner) (core.Employment, error) {
	var (
		e                     core.Employment
		start, salary         string
		end, probEnd, probSal sql.NullString
		department, position  sql.NullString
	)
	if err := row.Scan(&e.ID, &e.EmployeeID, &start, &end, &probEnd, &probSal, &salary, &department, &position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan employment: %w", err)
	}

	var err error
	if e.StartDate, err = parseDate(start); err != nil {
		return e, err
	}
	if e.EndDate, err = parseDatePtr(end); err != nil {
		return e, err
	}
	if e.ProbationEndDate, err = parseDatePtr(probEnd); err != nil {
		return e, err
	}
	if e.ProbationSalary, err = parseDecimalPtr(probSal); err != nil {
		return e, err
	}
	if e.Salary, err = decimal.NewFromString(salary); err != nil {
		return e, err
	}
	e.Department = department.String
	e.Position = position.String
	return e, nil
}

// =============================================================================
// PROBATION LOG (core.ProbationStore)
// =============================================================================

func (s *queries) AppendProbationRecord(ctx context.Context, r core.ProbationRecord) error {
	query := `
		INSERT INTO probation_records
		(id, employment_id, kind, event_date, decision_date, period_start, period_end,
		 previous_end, sequence, reason, notes, approved_by, is_current, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		r.ID, r.EmploymentID, r.Kind, formatDate(r.EventDate), formatDatePtr(r.DecisionDate),
		formatDate(r.PeriodStart), formatDate(r.PeriodEnd), formatDatePtr(r.PreviousEnd),
		r.Sequence, nullString(r.Reason), nullString(r.Notes), nullString(r.ApprovedBy),
		r.IsCurrent, formatDate(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("probation record %s for employment %s: %w", r.ID, r.EmploymentID, core.ErrDuplicate)
		}
		return fmt.Errorf("failed to append probation record: %w", err)
	}
	return nil
}

func (s *queries) ClearCurrentProbation(ctx context.Context, id core.ProbationRecordID) error {
	res, err := s.q.ExecContext(ctx, "UPDATE probation_records SET is_current = FALSE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to clear current probation record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Entity: "probation record", ID: string(id)}
	}
	return nil
}

const probationColumns = `id, employment_id, kind, event_date, decision_date, period_start,
	period_end, previous_end, sequence, reason, notes, approved_by, is_current, created_at`

func (s *queries) ListProbationRecords(ctx context.Context, id core.EmploymentID) ([]core.ProbationRecord, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+probationColumns+` FROM probation_records
		WHERE employment_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query probation records: %w", err)
	}
	defer rows.Close()

	var result []core.ProbationRecord
	for rows.Next() {
		r, err := scanProbationRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *queries) CurrentProbationRecord(ctx context.Context, id core.EmploymentID) (*core.ProbationRecord, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+probationColumns+` FROM probation_records
		WHERE employment_id = ? AND is_current = TRUE`, id)
	r, err := scanProbationRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanProbationRecord(row scanner) (core.ProbationRecord, error) {
	var (
		r                                core.ProbationRecord
		kind, event, start, end, created string
		decision, previous               sql.NullString
		reason, notes, approvedBy        sql.NullString
	)
	err := row.Scan(&r.ID, &r.EmploymentID, &kind, &event, &decision, &start, &end,
		&previous, &r.Sequence, &reason, &notes, &approvedBy, &r.IsCurrent, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan probation record: %w", err)
	}

	r.Kind = core.ProbationEventKind(kind)
	r.Reason, r.Notes, r.ApprovedBy = reason.String, notes.String, approvedBy.String
	if r.EventDate, err = parseDate(event); err != nil {
		return r, err
	}
	if r.DecisionDate, err = parseDatePtr(decision); err != nil {
		return r, err
	}
	if r.PeriodStart, err = parseDate(start); err != nil {
		return r, err
	}
	if r.PeriodEnd, err = parseDate(end); err != nil {
		return r, err
	}
	if r.PreviousEnd, err = parseDatePtr(previous); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseDate(created); err != nil {
		return r, err
	}
	return r, nil
}

// =============================================================================
// FUNDING (core.FundingStore)
// =============================================================================

// SaveFundingSource upserts a source. The stored version is never overwritten.
func (s *queries) SaveFundingSource(ctx context.Context, src core.FundingSource) error {
	query := `
		INSERT INTO funding_sources (id, kind, name, grant_code, capacity_fte, version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			grant_code = excluded.grant_code,
			capacity_fte = excluded.capacity_fte
	`
	_, err := s.q.ExecContext(ctx, query,
		src.ID, src.Kind, src.Name, nullString(src.GrantCode), formatDecimalPtr(src.CapacityFTE), src.Version)
	if err != nil {
		return fmt.Errorf("failed to save funding source: %w", err)
	}
	return nil
}

func (s *queries) GetFundingSource(ctx context.Context, id core.FundingSourceID) (*core.FundingSource, error) {
	var (
		src       core.FundingSource
		kind      string
		grantCode sql.NullString
		capacity  sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, kind, name, grant_code, capacity_fte, version
		FROM funding_sources WHERE id = ?
	`, id).Scan(&src.ID, &kind, &src.Name, &grantCode, &capacity, &src.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Entity: "funding source", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get funding source: %w", err)
	}
	src.Kind = core.FundingSourceKind(kind)
	src.GrantCode = grantCode.String
	if src.CapacityFTE, err = parseDecimalPtr(capacity); err != nil {
		return nil, err
	}
	return &src, nil
}

func (s *queries) BumpFundingSourceVersion(ctx context.Context, id core.FundingSourceID, expected int64) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE funding_sources SET version = version + 1 WHERE id = ? AND version = ?", id, expected)
	if err != nil {
		return fmt.Errorf("failed to bump funding source version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetFundingSource(ctx, id); err != nil {
		return err
	}
	return core.ErrConcurrentModification
}

func (s *queries) InsertAllocation(ctx context.Context, a core.FundingAllocation) error {
	query := `
		INSERT INTO funding_allocations
		(id, employee_id, employment_id, funding_source_id, fte, amount, is_override,
		 tier, status, valid_from, valid_to, supersedes_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		a.ID, a.EmployeeID, a.EmploymentID, a.FundingSourceID, a.FTE.String(), a.Amount.String(),
		a.IsOverride, a.Tier, a.Status, formatDate(a.ValidFrom), formatDatePtr(a.ValidTo),
		nullString(string(a.SupersedesID)),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("allocation %s: %w", a.ID, core.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

func (s *queries) CloseAllocation(ctx context.Context, id core.AllocationID, status core.AllocationStatus, validTo core.Date) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE funding_allocations SET status = ?, valid_to = ?
		WHERE id = ? AND status = ?
	`, status, formatDate(validTo), id, core.AllocationActive)
	if err != nil {
		return fmt.Errorf("failed to close allocation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current string
	err = s.q.QueryRowContext(ctx, "SELECT status FROM funding_allocations WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.NotFoundError{Entity: "allocation", ID: string(id)}
	}
	if err != nil {
		return fmt.Errorf("failed to read allocation status: %w", err)
	}
	return &core.PreconditionError{Op: "allocation.close", Reason: fmt.Sprintf("allocation %s is %s", id, current)}
}

const allocationColumns = `id, employee_id, employment_id, funding_source_id, fte, amount,
	is_override, tier, status, valid_from, valid_to, supersedes_id`

func (s *queries) ListAllocationsByEmployment(ctx context.Context, id core.EmploymentID, f core.AllocationFilter) ([]core.FundingAllocation, error) {
	return s.queryAllocations(ctx, "employment_id", string(id), f)
}

func (s *queries) ListAllocationsBySource(ctx context.Context, id core.FundingSourceID, f core.AllocationFilter) ([]core.FundingAllocation, error) {
	return s.queryAllocations(ctx, "funding_source_id", string(id), f)
}

func (s *queries) queryAllocations(ctx context.Context, column, id string, f core.AllocationFilter) ([]core.FundingAllocation, error) {
	query := "SELECT " + allocationColumns + " FROM funding_allocations WHERE " + column + " = ?"
	args := []any{id}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY rowid"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var result []core.FundingAllocation
	for rows.Next() {
		var (
			a                         core.FundingAllocation
			fte, amount, tier, status string
			from                      string
			to, supersedes            sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.EmploymentID, &a.FundingSourceID, &fte, &amount,
			&a.IsOverride, &tier, &status, &from, &to, &supersedes); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		dp := &decimals{}
		a.FTE = dp.parse(fte)
		a.Amount = dp.parse(amount)
		if dp.err != nil {
			return nil, dp.err
		}
		a.Tier = core.SalaryTier(tier)
		a.Status = core.AllocationStatus(status)
		a.SupersedesID = core.AllocationID(supersedes.String)
		if a.ValidFrom, err = parseDate(from); err != nil {
			return nil, err
		}
		if a.ValidTo, err = parseDatePtr(to); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// =============================================================================
// PAYROLL (core.PayrollStore)
// =============================================================================

func (s *queries) AppendPayrollRecords(ctx context.Context, records []core.PayrollRecord) error {
	query := `
		INSERT INTO payroll_records
		(id, employment_id, employee_id, allocation_id, funding_source_id, period, revision, fte,
		 gross_salary, bonus, thirteenth_month,
		 provident_fund_employee, social_security_employee, health_welfare_employee, income_tax,
		 provident_fund_employer, social_security_employer, health_welfare_employer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range records {
		_, err := s.q.ExecContext(ctx, query,
			r.ID, r.EmploymentID, r.EmployeeID, r.AllocationID, r.FundingSourceID, r.Period.String(),
			r.Revision, r.FTE.String(),
			r.GrossSalary.String(), r.Bonus.String(), r.ThirteenthMonth.String(),
			r.ProvidentFundEmployee.String(), r.SocialSecurityEmployee.String(),
			r.HealthWelfareEmployee.String(), r.IncomeTax.String(),
			r.ProvidentFundEmployer.String(), r.SocialSecurityEmployer.String(),
			r.HealthWelfareEmployer.String(), formatDate(r.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("payroll %s/%s/%s rev %d: %w", r.EmploymentID, r.AllocationID, r.Period, r.Revision, core.ErrDuplicate)
			}
			return fmt.Errorf("failed to append payroll record: %w", err)
		}
	}
	return nil
}

func (s *queries) LatestPayrollRevision(ctx context.Context, id core.EmploymentID, period core.PayPeriod) (int, error) {
	var latest int
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(revision), 0) FROM payroll_records
		WHERE employment_id = ? AND period = ?
	`, id, period.String()).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest payroll revision: %w", err)
	}
	return latest, nil
}

func (s *queries) ListPayrollRecords(ctx context.Context, id core.EmploymentID, period core.PayPeriod) ([]core.PayrollRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, employment_id, employee_id, allocation_id, funding_source_id, period, revision, fte,
		       gross_salary, bonus, thirteenth_month,
		       provident_fund_employee, social_security_employee, health_welfare_employee, income_tax,
		       provident_fund_employer, social_security_employer, health_welfare_employer, created_at
		FROM payroll_records
		WHERE employment_id = ? AND period = ?
		  AND revision = (SELECT MAX(revision) FROM payroll_records WHERE employment_id = ? AND period = ?)
		ORDER BY rowid
	`, id, period.String(), id, period.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll records: %w", err)
	}
	defer rows.Close()

	var result []core.PayrollRecord
	for rows.Next() {
		var (
			r                                 core.PayrollRecord
			pp, fte, gross, bonus, thirteenth string
			pfEE, ssEE, hwEE, tax             string
			pfER, ssER, hwER, created         string
		)
		if err := rows.Scan(&r.ID, &r.EmploymentID, &r.EmployeeID, &r.AllocationID, &r.FundingSourceID,
			&pp, &r.Revision, &fte, &gross, &bonus, &thirteenth,
			&pfEE, &ssEE, &hwEE, &tax, &pfER, &ssER, &hwER, &created); err != nil {
			return nil, fmt.Errorf("failed to scan payroll record: %w", err)
		}
		if r.Period, err = core.ParsePayPeriod(pp); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseDate(created); err != nil {
			return nil, err
		}
		dp := &decimals{}
		r.FTE = dp.parse(fte)
		r.GrossSalary = dp.parse(gross)
		r.Bonus = dp.parse(bonus)
		r.ThirteenthMonth = dp.parse(thirteenth)
		r.ProvidentFundEmployee = dp.parse(pfEE)
		r.SocialSecurityEmployee = dp.parse(ssEE)
		r.HealthWelfareEmployee = dp.parse(hwEE)
		r.IncomeTax = dp.parse(tax)
		r.ProvidentFundEmployer = dp.parse(pfER)
		r.SocialSecurityEmployer = dp.parse(ssER)
		r.HealthWelfareEmployer = dp.parse(hwER)
		if dp.err != nil {
			return nil, dp.err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// =============================================================================
// TAX REFERENCE DATA (core.TaxStore)
// =============================================================================

func (s *queries) ReplaceTaxYear(ctx context.Context, year int, brackets []core.TaxBracket, settings []core.TaxSetting) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM tax_brackets WHERE year = ?", year); err != nil {
		return fmt.Errorf("failed to clear tax brackets: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, "DELETE FROM tax_settings WHERE year = ?", year); err != nil {
		return fmt.Errorf("failed to clear tax settings: %w", err)
	}
	for _, b := range brackets {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO tax_brackets (year, bracket_order, min_income, max_income, rate)
			VALUES (?, ?, ?, ?, ?)
		`, year, b.Order, b.Min.String(), formatDecimalPtr(b.Max), b.Rate.String())
		if err != nil {
			return fmt.Errorf("failed to insert tax bracket %d: %w", b.Order, err)
		}
	}
	for _, st := range settings {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO tax_settings (year, key, value, setting_type) VALUES (?, ?, ?, ?)
		`, year, st.Key, st.Value.String(), st.Type)
		if err != nil {
			return fmt.Errorf("failed to insert tax setting %s: %w", st.Key, err)
		}
	}
	return nil
}

func (s *queries) TaxBrackets(ctx context.Context, year int) ([]core.TaxBracket, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT year, bracket_order, min_income, max_income, rate
		FROM tax_brackets WHERE year = ? ORDER BY bracket_order
	`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query tax brackets: %w", err)
	}
	defer rows.Close()

	var result []core.TaxBracket
	for rows.Next() {
		var (
			b        core.TaxBracket
			lo, rate string
			hi       sql.NullString
		)
		if err := rows.Scan(&b.Year, &b.Order, &lo, &hi, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan tax bracket: %w", err)
		}
		dp := &decimals{}
		b.Min = dp.parse(lo)
		b.Rate = dp.parse(rate)
		if dp.err != nil {
			return nil, dp.err
		}
		if b.Max, err = parseDecimalPtr(hi); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *queries) TaxSettings(ctx context.Context, year int) ([]core.TaxSetting, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT year, key, value, setting_type FROM tax_settings WHERE year = ? ORDER BY key
	`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query tax settings: %w", err)
	}
	defer rows.Close()

	var result []core.TaxSetting
	for rows.Next() {
		var (
			st           core.TaxSetting
			value, ttype string
		)
		if err := rows.Scan(&st.Year, &st.Key, &value, &ttype); err != nil {
			return nil, fmt.Errorf("failed to scan tax setting: %w", err)
		}
		if st.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("tax setting %s: %w", st.Key, err)
		}
		st.Type = core.TaxSettingType(ttype)
		result = append(result, st)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSITION RUNS (core.RunStore)
// =============================================================================

func (s *queries) SaveTransitionRun(ctx context.Context, r core.TransitionRun) error {
	errorsJSON, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode run errors: %w", err)
	}
	var finished sql.NullString
	if r.FinishedAt != nil {
		finished = sql.NullString{String: r.FinishedAt.UTC().Format(timeLayout), Valid: true}
	}

	query := `
		INSERT INTO transition_runs
		(id, as_of, status, candidates, passed, skipped, failed, errors_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			candidates = excluded.candidates,
			passed = excluded.passed,
			skipped = excluded.skipped,
			failed = excluded.failed,
			errors_json = excluded.errors_json,
			finished_at = excluded.finished_at
	`
	_, err = s.q.ExecContext(ctx, query,
		r.ID, formatDate(r.AsOf), r.Status, r.Candidates, r.Passed, r.Skipped, r.Failed,
		string(errorsJSON), r.StartedAt.UTC().Format(timeLayout), finished,
	)
	if err != nil {
		return fmt.Errorf("failed to save transition run: %w", err)
	}
	return nil
}

// ListTransitionRuns returns the most recent runs first. limit <= 0 means all.
func (s *queries) ListTransitionRuns(ctx context.Context, limit int) ([]core.TransitionRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, as_of, status, candidates, passed, skipped, failed, errors_json, started_at, finished_at
		FROM transition_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transition runs: %w", err)
	}
	defer rows.Close()

	var runs []core.TransitionRun
	for rows.Next() {
		var (
			r                  core.TransitionRun
			asOf, status       string
			started            string
			errorsJSON, finish sql.NullString
		)
		if err := rows.Scan(&r.ID, &asOf, &status, &r.Candidates, &r.Passed, &r.Skipped, &r.Failed,
			&errorsJSON, &started, &finish); err != nil {
			return nil, fmt.Errorf("failed to scan transition run: %w", err)
		}
		r.Status = core.RunStatus(status)
		if r.AsOf, err = parseDate(asOf); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, err
		}
		if finish.Valid {
			t, err := time.Parse(timeLayout, finish.String)
			if err != nil {
				return nil, err
			}
			r.FinishedAt = &t
		}
		if errorsJSON.Valid && errorsJSON.String != "" {
			if err := json.Unmarshal([]byte(errorsJSON.String), &r.Errors); err != nil {
				return nil, fmt.Errorf("failed to decode run errors: %w", err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
