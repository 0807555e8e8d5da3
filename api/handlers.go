/*
handlers.go - HTTP API handlers for staff leave and contract documents

PURPOSE:
  Exposes availability, validation, allocation and the document workflow
  over REST. Handlers parse and validate input, call the domain, and map
  domain errors to HTTP statuses. No business rule lives here.

ENDPOINTS:
  Staff:
    GET    /api/staff                       List staff
    POST   /api/staff                       Create staff record
    GET    /api/staff/{id}                  Get staff record
    GET    /api/staff/{id}/booked           Booked intervals
    POST   /api/staff/{id}/attendance       Record attendance marks
    POST   /api/staff/{id}/allocate         Propose date ranges
    POST   /api/staff/{id}/validate         Check ranges against the rules

  Documents:
    POST   /api/documents                   Create draft
    GET    /api/documents/stale             List stale documents
    GET    /api/documents/{id}              Get document
    PUT    /api/documents/{id}/dates        Replace dates
    POST   /api/documents/{id}/transition   Move to the next status
    POST   /api/documents/{id}/rollback     Back to draft
    POST   /api/documents/{id}/corrections  Correct a processed document
    GET    /api/documents/{id}/history      Audit trail
    POST   /api/documents/{id}/stale/explanation
    POST   /api/documents/{id}/stale/resolve

ERROR HANDLING:
  400 malformed input, 404 missing record, 409 conflict or illegal status
  operation, 422 rule violation or unsatisfiable allocation, 500 otherwise.
  Validation and conflict bodies list the issues and booked intervals.

ACTOR:
  The X-Actor-ID header names who acts; it defaults to "api". There is no
  authentication here, the host in front of this service owns that.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/leave"
	"github.com/warp/staffdocs/workflow"
)

// ActorHeader carries the acting user's id.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Repo      generic.Repository
	Workflow  *workflow.Workflow
	Validator *leave.Validator
	Allocator *leave.Allocator
	Index     *leave.AvailabilityIndex
	Clock     generic.Clock
	Log       logrus.FieldLogger

	validate *validator.Validate
}

func NewHandler(repo generic.Repository, wf *workflow.Workflow, v *leave.Validator, a *leave.Allocator, clock generic.Clock, log logrus.FieldLogger) *Handler {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Handler{
		Repo:      repo,
		Workflow:  wf,
		Validator: v,
		Allocator: a,
		Index:     leave.NewAvailabilityIndex(repo),
		Clock:     clock,
		Log:       log,
		validate:  validator.New(),
	}
}

// decode reads the JSON body into dst and checks its struct tags. It writes
// the 400 itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

func actorFrom(r *http.Request) generic.Actor {
	id := r.Header.Get(ActorHeader)
	if id == "" {
		id = "api"
	}
	return generic.Actor{ID: id, Name: id}
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

// ListStaff returns all staff records.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Repo.ListStaff(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]StaffDTO, len(staff))
	for i, s := range staff {
		dtos[i] = toStaffDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStaff stores a staff record directly, for records that predate the
// employment workflow.
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req CreateStaffRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := req.toRecord(h.Clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid staff record", err)
		return
	}
	if err := h.Repo.SaveStaff(r.Context(), rec); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStaffDTO(rec))
}

func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	s, err := h.Repo.GetStaff(r.Context(), generic.StaffID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStaffDTO(s))
}

// GetBooked lists the staff member's booked intervals.
// GET /api/staff/{id}/booked
func (h *Handler) GetBooked(w http.ResponseWriter, r *http.Request) {
	id := generic.StaffID(chi.URLParam(r, "id"))
	if _, err := h.Repo.GetStaff(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	intervals, err := h.Index.Intervals(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookedDTOs(intervals))
}

// AddAttendance records one attendance mark.
// POST /api/staff/{id}/attendance
func (h *Handler) AddAttendance(w http.ResponseWriter, r *http.Request) {
	id := generic.StaffID(chi.URLParam(r, "id"))
	var req AttendanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.End == "" {
		req.End = req.Start
	}
	rng, err := RangeDTO{Start: req.Start, End: req.End}.toRange()
	if err != nil || !rng.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid attendance range", err)
		return
	}
	if _, err := h.Repo.GetStaff(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rec := generic.AttendanceRecord{
		ID:        generic.NewAttendanceID(),
		StaffID:   id,
		DateStart: rng.Start,
		DateEnd:   rng.End,
		Code:      req.Code,
		CreatedAt: h.Clock(),
	}
	if err := h.Repo.SaveAttendance(r.Context(), rec); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(rec.ID)})
}

// Allocate proposes ranges for a day count.
// POST /api/staff/{id}/allocate
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	id := generic.StaffID(chi.URLParam(r, "id"))
	var req AllocateRequest
	if !h.decode(w, r, &req) {
		return
	}

	var start generic.Date
	if req.EarliestStart != "" {
		d, err := generic.ParseDate(req.EarliestStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid earliest_start", err)
			return
		}
		start = d
	}
	opts := leave.Options{
		SingleDays:     req.SingleDays,
		MaxRangeLength: req.MaxRangeLength,
		HorizonMonths:  req.HorizonMonths,
	}
	if req.DocumentID != "" {
		opts.ExcludeDocuments = []generic.DocumentID{generic.DocumentID(req.DocumentID)}
	}

	ranges, err := h.Allocator.Allocate(r.Context(), id, req.Days, leave.Mode(req.Mode), start, opts)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AllocateResponse{Ranges: fromRanges(ranges), Days: generic.UnionLen(ranges)})
}

// Validate checks ranges without storing anything. Rule violations are
// part of a 200 response; only malformed input and infrastructure
// failures are errors.
// POST /api/staff/{id}/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	id := generic.StaffID(chi.URLParam(r, "id"))
	var req ValidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	ranges, err := toRanges(req.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ranges", err)
		return
	}

	var res generic.ValidationResult
	if req.DocumentID != "" {
		// Re-checking an existing document: its own type and corrections apply.
		res, err = h.Workflow.Check(r.Context(), generic.DocumentID(req.DocumentID), ranges, req.Override)
	} else {
		res, err = h.Validator.Validate(r.Context(), leave.Request{
			StaffID:  id,
			Ranges:   ranges,
			DocType:  generic.DocType(req.Type),
			Override: req.Override,
		})
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationDTO(res))
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// CreateDocument stores a draft.
// POST /api/documents
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	ranges, err := toRanges(req.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ranges", err)
		return
	}
	snapshot, err := req.NewEmployee.toSnapshot()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid new employee", err)
		return
	}

	doc, err := h.Workflow.CreateDraft(r.Context(), workflow.DraftRequest{
		StaffID:     generic.StaffID(req.StaffID),
		Type:        generic.DocType(req.Type),
		Ranges:      ranges,
		Override:    req.Override,
		NewEmployee: snapshot,
	}, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(doc))
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Workflow.Get(r.Context(), documentID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// UpdateDates replaces the ranges of an unblocked document.
// PUT /api/documents/{id}/dates
func (h *Handler) UpdateDates(w http.ResponseWriter, r *http.Request) {
	var req UpdateDatesRequest
	if !h.decode(w, r, &req) {
		return
	}
	ranges, err := toRanges(req.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ranges", err)
		return
	}
	doc, err := h.Workflow.UpdateDates(r.Context(), documentID(r), ranges, req.Override, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// Transition moves the document to the requested status.
// POST /api/documents/{id}/transition
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.Workflow.Transition(r.Context(), documentID(r), generic.Status(req.Target), actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// Rollback returns the document to draft.
// POST /api/documents/{id}/rollback
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Workflow.Rollback(r.Context(), documentID(r), actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// CreateCorrection drafts a correction of a processed document.
// POST /api/documents/{id}/corrections
func (h *Handler) CreateCorrection(w http.ResponseWriter, r *http.Request) {
	var req CorrectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ranges, err := toRanges(req.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ranges", err)
		return
	}
	doc, err := h.Workflow.CreateCorrection(r.Context(), documentID(r), ranges, req.Reason, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(doc))
}

// History returns the audit trail.
// GET /api/documents/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	changes, err := h.Workflow.History(r.Context(), documentID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]FieldChangeDTO, len(changes))
	for i, c := range changes {
		dtos[i] = FieldChangeDTO{
			Field:    c.Field,
			OldValue: c.OldValue,
			NewValue: c.NewValue,
			ActorID:  c.ActorID,
			At:       c.At.UTC(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STALE DOCUMENTS
// =============================================================================

// ListStale returns documents waiting too long in one approval status.
// GET /api/documents/stale
func (h *Handler) ListStale(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Workflow.StaleDocuments(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]DocumentDTO, len(docs))
	for i, d := range docs {
		dtos[i] = toDocumentDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExplainStale records why a document is stuck.
// POST /api/documents/{id}/stale/explanation
func (h *Handler) ExplainStale(w http.ResponseWriter, r *http.Request) {
	var req ExplanationRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.Workflow.ExplainStale(r.Context(), documentID(r), req.Text, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// ResolveStale clears the stale state.
// POST /api/documents/{id}/stale/resolve
func (h *Handler) ResolveStale(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Workflow.ResolveStale(r.Context(), documentID(r), actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// =============================================================================
// HELPERS
// =============================================================================

func documentID(r *http.Request) generic.DocumentID {
	return generic.DocumentID(chi.URLParam(r, "id"))
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

// writeDomainError maps the error taxonomy in generic/errors.go to HTTP.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *generic.ValidationError
		ce *generic.ConflictError
		se *generic.StatusError
		ue *generic.UnsatisfiableAllocation
	)
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "Dates conflict with booked intervals",
			Details:   ce.Error(),
			Issues:    ce.Issues,
			Conflicts: toBookedDTOs(ce.Conflicts),
		})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    "Validation failed",
			Details:  ve.Error(),
			Issues:   ve.Issues,
			Warnings: ve.Warnings,
		})
	case errors.As(err, &se):
		writeError(w, http.StatusConflict, "Illegal status operation", se)
	case errors.As(err, &ue):
		writeError(w, http.StatusUnprocessableEntity, "No placement found", ue)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, generic.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
	case generic.IsRetryable(err):
		writeError(w, http.StatusConflict, "Document changed concurrently, retry", err)
	default:
		h.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}
