/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the probation tracker, funding ledger, salary resolver, payroll
  generator, tax rules and transition processor via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Employees:
    POST   /api/employees                         Create employee
    GET    /api/employees/{id}                    Get employee

  Employments:
    POST   /api/employments                       Create employment (+ initial probation record)
    GET    /api/employments/{id}                  Get employment with current salary
    GET    /api/employments/{id}/probation        Probation history and summary
    POST   /api/employments/{id}/probation/extend Extend probation
    POST   /api/employments/{id}/probation/pass   Pass probation (transitions allocations)
    POST   /api/employments/{id}/probation/fail   Fail probation (terminates allocations)
    GET    /api/employments/{id}/allocations      List allocations (?status=)
    POST   /api/employments/{id}/allocations      Create funding splits
    GET    /api/employments/{id}/salary           Salary breakdown (?from=&to=)
    POST   /api/employments/{id}/payroll          Generate or recalculate a month
    GET    /api/employments/{id}/payroll          Latest revision of a month (?period=)

  Funding sources:
    POST   /api/funding-sources                   Create or update a source
    GET    /api/funding-sources/{id}/allocations  Allocations drawing on a source
    GET    /api/funding-sources/{id}/capacity     Committed vs capacity fte

  Tax:
    POST   /api/tax/rules                         Import a YAML/JSON rules document
    GET    /api/tax/rules/{year}                  Read one year

  Transitions:
    POST   /api/transitions/run                   Run the daily batch (?date=)
    GET    /api/transitions/runs                  Past runs (?limit=)

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the core error kind:
  - 400: Malformed body or query
  - 404: Entity not found
  - 409: Capacity conflict, lost version race, duplicate
  - 422: Validation or precondition failure
  - 424: Missing reference data (tax year)
  - 500: Integrity violation or internal error (logged with its context)

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/funding"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/probation"
	"github.com/warp/payroll-engine/salary"
	"github.com/warp/payroll-engine/tax"
	"github.com/warp/payroll-engine/transition"
)

// maxRulesBody caps an imported tax rules document.
const maxRulesBody = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options tunes the domain services the handler builds.
type Options struct {
	CapacityMaxRetries    int
	TransitionConcurrency int
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     core.TxStore
	Tracker   *probation.Tracker
	Ledger    *funding.Ledger
	Resolver  *salary.Resolver
	Generator *payroll.Generator
	Processor *transition.Processor
	TaxRules  *tax.RulesStore

	validate *validator.Validate
	logger   *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the domain services onto one store.
func NewHandler(store core.TxStore, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:     store,
		Tracker:   probation.NewTracker(store, logger),
		Ledger:    funding.NewLedger(store, opts.CapacityMaxRetries, logger),
		Resolver:  salary.NewResolver(store),
		Generator: payroll.NewGenerator(store, logger),
		Processor: transition.NewProcessor(store, opts.TransitionConcurrency, logger),
		TaxRules:  tax.NewRulesStore(store),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.Named("api"),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	pfRate, err := optionalDecimal(req.ProvidentFundRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid provident_fund_rate", err)
		return
	}
	emp := core.Employee{
		ID:                      core.EmployeeID(req.ID),
		Name:                    req.Name,
		Email:                   req.Email,
		MaritalStatus:           core.MaritalStatus(req.MaritalStatus),
		ChildCount:              req.ChildCount,
		SocialSecurityEnrolled:  req.SocialSecurityEnrolled,
		HealthWelfareEnrolled:   req.HealthWelfareEnrolled,
		ThirteenthMonthEligible: req.ThirteenthMonthEligible,
	}
	if emp.MaritalStatus == "" {
		emp.MaritalStatus = core.MaritalSingle
	}
	if pfRate != nil {
		emp.ProvidentFundRate = *pfRate
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.writeDomainError(w, r, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), core.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// =============================================================================
// EMPLOYMENT HANDLERS
// =============================================================================

// CreateEmployment stores a new employment and, when it has a probation
// date, opens its initial probation record in the same unit of work.
func (h *Handler) CreateEmployment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateEmploymentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	emp, err := req.toEmployment()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid employment", err)
		return
	}
	if err := emp.Validate(); err != nil {
		h.writeDomainError(w, r, "Invalid employment", err)
		return
	}

	err = h.Store.WithTx(ctx, func(s core.Store) error {
		if _, err := s.GetEmployee(ctx, emp.EmployeeID); err != nil {
			return err
		}
		if _, err := s.GetEmployment(ctx, emp.ID); err == nil {
			return fmt.Errorf("employment %s: %w", emp.ID, core.ErrDuplicate)
		} else if !core.IsNotFound(err) {
			return err
		}
		if err := s.SaveEmployment(ctx, emp); err != nil {
			return err
		}
		if emp.HasProbation() {
			if _, err := probation.CreateInitial(ctx, s, emp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create employment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmploymentDTO(emp, core.Today()))
}

func (req CreateEmploymentRequest) toEmployment() (core.Employment, error) {
	emp := core.Employment{
		ID:         core.EmploymentID(req.ID),
		EmployeeID: core.EmployeeID(req.EmployeeID),
		Department: req.Department,
		Position:   req.Position,
	}
	var err error
	if emp.StartDate, err = core.ParseDate(req.StartDate); err != nil {
		return emp, err
	}
	if emp.EndDate, err = optionalDate(req.EndDate); err != nil {
		return emp, err
	}
	if emp.ProbationEndDate, err = optionalDate(req.ProbationEndDate); err != nil {
		return emp, err
	}
	if emp.ProbationSalary, err = optionalDecimal(req.ProbationSalary); err != nil {
		return emp, err
	}
	if emp.Salary, err = decimal.NewFromString(req.Salary); err != nil {
		return emp, err
	}
	return emp, nil
}

// GetEmployment returns an employment with the salary in force today.
func (h *Handler) GetEmployment(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployment(r.Context(), employmentID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get employment", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmploymentDTO(*emp, core.Today()))
}

// =============================================================================
// PROBATION HANDLERS
// =============================================================================

// GetProbation returns the probation log with its summary.
func (h *Handler) GetProbation(w http.ResponseWriter, r *http.Request) {
	hist, err := h.Tracker.History(r.Context(), employmentID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get probation history", err)
		return
	}
	writeJSON(w, http.StatusOK, toProbationHistoryDTO(hist))
}

// ExtendProbation moves the probation end date forward.
// POST /api/employments/{id}/probation/extend
func (h *Handler) ExtendProbation(w http.ResponseWriter, r *http.Request) {
	req, d, ok := h.decision(w, r)
	if !ok {
		return
	}
	if req.NewEndDate == "" {
		writeError(w, http.StatusUnprocessableEntity, "new_end_date is required", nil)
		return
	}
	newEnd, err := core.ParseDate(req.NewEndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid new_end_date", err)
		return
	}

	rec, err := h.Tracker.Extend(r.Context(), employmentID(r), newEnd, d)
	if err != nil {
		h.writeDomainError(w, r, "Failed to extend probation", err)
		return
	}
	writeJSON(w, http.StatusOK, toProbationRecordDTO(*rec))
}

// PassProbation closes probation as passed and reprices the allocations.
// POST /api/employments/{id}/probation/pass
func (h *Handler) PassProbation(w http.ResponseWriter, r *http.Request) {
	_, d, ok := h.decision(w, r)
	if !ok {
		return
	}
	rec, err := h.Processor.Pass(r.Context(), employmentID(r), d)
	if err != nil {
		h.writeDomainError(w, r, "Failed to pass probation", err)
		return
	}
	writeJSON(w, http.StatusOK, toProbationRecordDTO(*rec))
}

// FailProbation closes probation as failed and terminates the allocations.
// POST /api/employments/{id}/probation/fail
func (h *Handler) FailProbation(w http.ResponseWriter, r *http.Request) {
	_, d, ok := h.decision(w, r)
	if !ok {
		return
	}
	rec, terminated, err := h.Processor.Fail(r.Context(), employmentID(r), d)
	if err != nil {
		h.writeDomainError(w, r, "Failed to fail probation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":                 toProbationRecordDTO(*rec),
		"terminated_allocations": terminated,
	})
}

func (h *Handler) decision(w http.ResponseWriter, r *http.Request) (ProbationDecisionRequest, probation.Decision, bool) {
	var req ProbationDecisionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return req, probation.Decision{}, false
	}
	d := probation.Decision{Reason: req.Reason, Notes: req.Notes, ApprovedBy: req.ApprovedBy}
	if req.Date != "" {
		date, err := core.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return req, d, false
		}
		d.Date = date
	}
	if d.ApprovedBy == "" {
		d.ApprovedBy = "admin"
	}
	return req, d, true
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// ListAllocations returns an employment's allocations.
// GET /api/employments/{id}/allocations?status=active|historical|terminated|all
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	status, ok := allocationStatus(w, r)
	if !ok {
		return
	}
	allocs, err := h.Ledger.ForEmployment(r.Context(), employmentID(r), status)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": toAllocationDTOs(allocs)})
}

// CreateAllocations splits an employment across funding sources.
// POST /api/employments/{id}/allocations
func (h *Handler) CreateAllocations(w http.ResponseWriter, r *http.Request) {
	var req CreateAllocationsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	effective, err := core.ParseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date", err)
		return
	}

	splits := make([]funding.Split, 0, len(req.Splits))
	for i, sr := range req.Splits {
		fte, err := decimal.NewFromString(sr.FTE)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid fte in split %d", i), err)
			return
		}
		amount, err := optionalDecimal(sr.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid amount in split %d", i), err)
			return
		}
		splits = append(splits, funding.Split{
			FundingSourceID: core.FundingSourceID(sr.FundingSourceID),
			FTE:             fte,
			Amount:          amount,
		})
	}

	allocs, err := h.Ledger.Create(r.Context(), employmentID(r), effective, splits)
	if err != nil {
		h.writeDomainError(w, r, "Failed to create allocations", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"allocations": toAllocationDTOs(allocs)})
}

// =============================================================================
// SALARY AND PAYROLL HANDLERS
// =============================================================================

// GetSalary returns the salary for [from, to] with its tier segments.
// GET /api/employments/{id}/salary?from=2025-08-01&to=2025-08-31
func (h *Handler) GetSalary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := core.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	to, err := core.ParseDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}

	res, err := h.Resolver.ForPeriod(r.Context(), employmentID(r), from, to)
	if err != nil {
		h.writeDomainError(w, r, "Failed to resolve salary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalaryDTO(res))
}

// GeneratePayroll writes the records for one month.
// POST /api/employments/{id}/payroll
func (h *Handler) GeneratePayroll(w http.ResponseWriter, r *http.Request) {
	var req GeneratePayrollRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	period, err := core.ParsePayPeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	in := payroll.Input{Period: period, Bonus: decimal.Zero, Recalculate: req.Recalculate}
	if req.Bonus != "" {
		if in.Bonus, err = decimal.NewFromString(req.Bonus); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid bonus", err)
			return
		}
	}

	res, err := h.Generator.Generate(r.Context(), employmentID(r), in)
	if err != nil {
		h.writeDomainError(w, r, "Failed to generate payroll", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayrollResultDTO(res))
}

// ListPayroll returns the latest revision for a month.
// GET /api/employments/{id}/payroll?period=2025-08
func (h *Handler) ListPayroll(w http.ResponseWriter, r *http.Request) {
	period, err := core.ParsePayPeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	records, err := h.Generator.Records(r.Context(), employmentID(r), period)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list payroll records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": toPayrollRecordDTOs(records)})
}

// =============================================================================
// FUNDING SOURCE HANDLERS
// =============================================================================

// CreateFundingSource creates or updates a grant line. The organization
// sentinel is implicit and cannot be written.
func (h *Handler) CreateFundingSource(w http.ResponseWriter, r *http.Request) {
	var req CreateFundingSourceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if core.FundingSourceID(req.ID) == core.OrganizationFunded {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%q is reserved for organization funding", req.ID), nil)
		return
	}
	capacity, err := optionalDecimal(req.CapacityFTE)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid capacity_fte", err)
		return
	}
	if capacity != nil && capacity.IsNegative() {
		writeError(w, http.StatusUnprocessableEntity, "capacity_fte must not be negative", nil)
		return
	}

	src := core.FundingSource{
		ID:          core.FundingSourceID(req.ID),
		Kind:        core.FundingSourceKind(req.Kind),
		Name:        req.Name,
		GrantCode:   req.GrantCode,
		CapacityFTE: capacity,
		Version:     1,
	}
	if err := h.Store.SaveFundingSource(r.Context(), src); err != nil {
		h.writeDomainError(w, r, "Failed to save funding source", err)
		return
	}
	saved, err := h.Store.GetFundingSource(r.Context(), src.ID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to read funding source", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundingSourceDTO(*saved))
}

// ListSourceAllocations returns the allocations drawing on a source.
func (h *Handler) ListSourceAllocations(w http.ResponseWriter, r *http.Request) {
	status, ok := allocationStatus(w, r)
	if !ok {
		return
	}
	allocs, err := h.Ledger.ForSource(r.Context(), core.FundingSourceID(chi.URLParam(r, "id")), status)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": toAllocationDTOs(allocs)})
}

// GetCapacity reports committed and available fte on a source.
func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Ledger.CapacityReport(r.Context(), core.FundingSourceID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute capacity", err)
		return
	}
	writeJSON(w, http.StatusOK, toCapacityDTO(rep))
}

// =============================================================================
// TAX HANDLERS
// =============================================================================

// ImportTaxRules replaces every year found in a YAML or JSON rules document.
// POST /api/tax/rules
func (h *Handler) ImportTaxRules(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRulesBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read rules document", err)
		return
	}
	years, err := tax.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rules document", err)
		return
	}

	ctx := r.Context()
	imported := make([]int, 0, len(years))
	err = h.Store.WithTx(ctx, func(s core.Store) error {
		rs := tax.NewRulesStore(s)
		for _, rules := range years {
			if err := rs.Save(ctx, rules); err != nil {
				return err
			}
			imported = append(imported, rules.Year)
		}
		return nil
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to import tax rules", err)
		return
	}
	h.logger.Info("tax rules imported", zap.Ints("years", imported))
	writeJSON(w, http.StatusCreated, map[string]any{"years": imported})
}

// GetTaxRules returns one year's brackets and settings.
func (h *Handler) GetTaxRules(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	rules, err := h.TaxRules.Load(r.Context(), year)
	if err != nil {
		h.writeDomainError(w, r, "Failed to load tax rules", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaxRulesDTO(rules))
}

// =============================================================================
// TRANSITION HANDLERS
// =============================================================================

// RunTransitions runs the probation-completion batch for a day (default today).
// POST /api/transitions/run?date=2025-08-15
func (h *Handler) RunTransitions(w http.ResponseWriter, r *http.Request) {
	asOf := core.Today()
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := core.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		asOf = d
	}

	rep, err := h.Processor.Run(r.Context(), asOf)
	if err != nil && rep == nil {
		h.writeDomainError(w, r, "Failed to run transitions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionReportDTO(rep))
}

// ListTransitionRuns returns past runs, newest first.
// GET /api/transitions/runs?limit=20
func (h *Handler) ListTransitionRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	runs, err := h.Store.ListTransitionRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list transition runs", err)
		return
	}
	dtos := make([]TransitionRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toTransitionRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

func employmentID(r *http.Request) core.EmploymentID {
	return core.EmploymentID(chi.URLParam(r, "id"))
}

func allocationStatus(w http.ResponseWriter, r *http.Request) (core.AllocationStatus, bool) {
	s := r.URL.Query().Get("status")
	if s == "" || s == "all" {
		return "", true
	}
	status := core.AllocationStatus(s)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid status %q", s), nil)
		return "", false
	}
	return status, true
}

func optionalDate(s string) (*core.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the error response itself and reports whether to continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}

	err := h.validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "Validation failed", Fields: fields})
	return false
}

// statusFor maps a core error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case core.IsNotFound(err):
		return http.StatusNotFound
	case funding.IsCapacityConflict(err),
		errors.Is(err, core.ErrConcurrentModification),
		errors.Is(err, core.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, core.ErrReferenceDataMissing):
		return http.StatusFailedDependency
	case core.IsIntegrity(err):
		return http.StatusInternalServerError
	case core.IsClientError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeDomainError logs server-side failures with their context and writes
// the mapped status.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		fields := []zap.Field{
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		}
		var ie *core.IntegrityError
		if errors.As(err, &ie) {
			fields = append(fields, zap.String("op", ie.Op), zap.Any("context", ie.Context))
		}
		h.logger.Error(message, fields...)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
