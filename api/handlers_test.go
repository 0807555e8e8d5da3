/*
handlers_test.go - Tests for the HTTP handlers

Tests for:
- Staff creation and lookup
- Document lifecycle over HTTP (create, transition, rollback, history)
- Error mapping (400, 404, 409, 422)
- Availability, validation and allocation endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/generic/store"
	"github.com/warp/staffdocs/leave"
	"github.com/warp/staffdocs/metrics"
	"github.com/warp/staffdocs/notify"
	"github.com/warp/staffdocs/workflow"
)

type apiFixture struct {
	repo   *store.TxMemory
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	repo := store.NewTxMemory()
	clock := generic.FixedClock(time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	validator := leave.NewValidator(repo, leave.DefaultRules(), clock, log, m)
	allocator := leave.NewAllocator(repo, leave.AllocatorConfig{
		Clock:   clock,
		Rand:    rand.New(rand.NewSource(7)),
		Log:     log,
		Metrics: m,
	})
	wf := workflow.New(workflow.Deps{
		Repo:       repo,
		Validator:  validator,
		Dispatcher: notify.Immediate{Log: log, Metrics: m},
		Clock:      clock,
		Log:        log,
		Metrics:    m,
	})

	h := NewHandler(repo, wf, validator, allocator, clock, log)
	return &apiFixture{
		repo: repo,
		router: NewRouter(h, RouterOptions{
			Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "clerk-1")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *apiFixture) addStaff(t *testing.T, balance int) generic.StaffID {
	t.Helper()
	s := generic.StaffRecord{
		ID:        generic.NewStaffID(),
		FullName:  "Grace Hopper",
		Rate:      decimal.NewFromInt(1),
		Balance:   balance,
		TermStart: generic.MustParseDate("2025-01-01"),
		TermEnd:   generic.MustParseDate("2025-12-31"),
		Active:    true,
	}
	require.NoError(t, f.repo.SaveStaff(context.Background(), s))
	return s.ID
}

func (f *apiFixture) createLeave(t *testing.T, staffID generic.StaffID, start, end string) DocumentDTO {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/documents", CreateDocumentRequest{
		StaffID: string(staffID),
		Type:    string(generic.DocPaidLeave),
		Ranges:  []RangeDTO{{Start: start, End: end}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[DocumentDTO](t, rec)
}

// =============================================================================
// STAFF
// =============================================================================

func TestCreateStaff_ThenGetAndList(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/staff", CreateStaffRequest{
		FullName:  "Emmy Noether",
		Rate:      "0.5",
		Balance:   12,
		TermStart: "2025-02-01",
		TermEnd:   "2026-01-31",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[StaffDTO](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "0.5", created.Rate)

	rec = f.do(t, http.MethodGet, "/api/staff/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeBody[StaffDTO](t, rec))

	rec = f.do(t, http.MethodGet, "/api/staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]StaffDTO](t, rec), 1)
}

func TestCreateStaff_RejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		req  CreateStaffRequest
	}{
		{"missing name", CreateStaffRequest{Rate: "1", TermStart: "2025-01-01", TermEnd: "2025-12-31"}},
		{"rate above one", CreateStaffRequest{FullName: "X", Rate: "1.5", TermStart: "2025-01-01", TermEnd: "2025-12-31"}},
		{"reversed term", CreateStaffRequest{FullName: "X", Rate: "1", TermStart: "2025-12-31", TermEnd: "2025-01-01"}},
		{"bad date", CreateStaffRequest{FullName: "X", Rate: "1", TermStart: "2025-13-01", TermEnd: "2025-12-31"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/staff", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGetStaff_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/staff/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// DOCUMENT LIFECYCLE
// =============================================================================

func TestDocumentLifecycle_OverHTTP(t *testing.T) {
	// GIVEN: A staff member with 20 days
	// WHEN: A paid leave draft is created, submitted, then rolled back
	// THEN: Its dates are booked while in approval and freed afterwards
	//   AND: The history records each step

	f := newAPIFixture(t)
	staffID := f.addStaff(t, 20)
	doc := f.createLeave(t, staffID, "2025-06-02", "2025-06-06")
	assert.Equal(t, "draft", doc.Status)
	assert.Equal(t, 5, doc.DaysCount)

	rec := f.do(t, http.MethodGet, "/api/staff/"+string(staffID)+"/booked", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]BookedDTO](t, rec), "drafts do not book dates")

	rec = f.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/transition", TransitionRequest{Target: "signed_by_applicant"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "signed_by_applicant", decodeBody[DocumentDTO](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/api/staff/"+string(staffID)+"/booked", nil)
	booked := decodeBody[[]BookedDTO](t, rec)
	require.Len(t, booked, 1)
	assert.Equal(t, "2025-06-02", booked[0].Start)
	assert.Equal(t, doc.ID, booked[0].OriginID)

	rec = f.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "draft", decodeBody[DocumentDTO](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/api/staff/"+string(staffID)+"/booked", nil)
	assert.Empty(t, decodeBody[[]BookedDTO](t, rec))

	rec = f.do(t, http.MethodGet, "/api/documents/"+doc.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]FieldChangeDTO](t, rec)
	require.NotEmpty(t, history)
	assert.Equal(t, "clerk-1", history[len(history)-1].ActorID)
	assert.Equal(t, "status", history[len(history)-1].Field)
	assert.Equal(t, "draft", history[len(history)-1].NewValue)
}

func TestTransition_SkippingStatusIsConflict(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 20)
	doc := f.createLeave(t, staffID, "2025-06-02", "2025-06-06")

	rec := f.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/transition", TransitionRequest{Target: "agreed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTransition_InsufficientBalanceIsUnprocessable(t *testing.T) {
	// GIVEN: 3 days of balance and a 5 day request
	// WHEN: Submitting
	// THEN: 422 with an overridable insufficient_balance issue

	f := newAPIFixture(t)
	staffID := f.addStaff(t, 3)
	doc := f.createLeave(t, staffID, "2025-06-02", "2025-06-06")

	rec := f.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/transition", TransitionRequest{Target: "signed_by_applicant"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decodeBody[ErrorResponse](t, rec)
	require.Len(t, body.Issues, 1)
	assert.Equal(t, generic.IssueInsufficientBalance, body.Issues[0].Code)
	assert.True(t, body.Issues[0].Overridable)
}

func TestTransition_ConflictListsBookedIntervals(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 30)
	first := f.createLeave(t, staffID, "2025-06-02", "2025-06-06")
	rec := f.do(t, http.MethodPost, "/api/documents/"+first.ID+"/transition", TransitionRequest{Target: "signed_by_applicant"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	second := f.createLeave(t, staffID, "2025-06-05", "2025-06-10")
	rec = f.do(t, http.MethodPost, "/api/documents/"+second.ID+"/transition", TransitionRequest{Target: "signed_by_applicant"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body := decodeBody[ErrorResponse](t, rec)
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, first.ID, body.Conflicts[0].OriginID)
}

func TestCreateDocument_BadRequests(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 10)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"unknown type", CreateDocumentRequest{StaffID: string(staffID), Type: "sabbatical", Ranges: []RangeDTO{{Start: "2025-06-02", End: "2025-06-03"}}}, http.StatusBadRequest},
		{"leave without ranges", CreateDocumentRequest{StaffID: string(staffID), Type: "paid_leave"}, http.StatusBadRequest},
		{"employment without snapshot", CreateDocumentRequest{Type: "employment"}, http.StatusBadRequest},
		{"unknown staff", CreateDocumentRequest{StaffID: "ghost", Type: "paid_leave", Ranges: []RangeDTO{{Start: "2025-06-02", End: "2025-06-03"}}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/documents", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateDates_ReplacesRanges(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 20)
	doc := f.createLeave(t, staffID, "2025-06-02", "2025-06-06")

	rec := f.do(t, http.MethodPut, "/api/documents/"+doc.ID+"/dates", UpdateDatesRequest{
		Ranges: []RangeDTO{{Start: "2025-06-09", End: "2025-06-10"}, {Start: "2025-06-16", End: "2025-06-16"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[DocumentDTO](t, rec)
	assert.Equal(t, 3, got.DaysCount)
	assert.Equal(t, "2025-06-09", got.DateStart)
	assert.Equal(t, "2025-06-16", got.DateEnd)
}

// =============================================================================
// AVAILABILITY, VALIDATION, ALLOCATION
// =============================================================================

func TestAttendance_BooksDatesUnlessPresent(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 10)

	rec := f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/attendance", AttendanceRequest{Start: "2025-06-02", Code: "P"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/attendance", AttendanceRequest{Start: "2025-06-03", End: "2025-06-04", Code: "S"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/staff/"+string(staffID)+"/booked", nil)
	booked := decodeBody[[]BookedDTO](t, rec)
	require.Len(t, booked, 1)
	assert.Equal(t, "attendance", booked[0].OriginKind)
	assert.Equal(t, "S", booked[0].Label)

	rec = f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/attendance", AttendanceRequest{Start: "2025-06-05", Code: "X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidate_ReportsIssuesWithoutStoring(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 2)

	rec := f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/validate", ValidateRequest{
		Type:   "paid_leave",
		Ranges: []RangeDTO{{Start: "2025-06-02", End: "2025-06-06"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[ValidationDTO](t, rec)
	assert.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, generic.IssueInsufficientBalance, res.Errors[0].Code)

	rec = f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/validate", ValidateRequest{
		Type:     "paid_leave",
		Ranges:   []RangeDTO{{Start: "2025-06-02", End: "2025-06-06"}},
		Override: true,
	})
	res = decodeBody[ValidationDTO](t, rec)
	assert.True(t, res.OK)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, generic.IssueInsufficientBalance, res.Warnings[0].Code)

	docs, err := f.repo.DocumentsByStaff(context.Background(), staffID)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestValidate_ExistingDocumentIgnoresItself(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 20)
	doc := f.createLeave(t, staffID, "2025-06-02", "2025-06-06")
	rec := f.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/transition", TransitionRequest{Target: "signed_by_applicant"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/validate", ValidateRequest{
		Type:       "paid_leave",
		Ranges:     []RangeDTO{{Start: "2025-06-04", End: "2025-06-09"}},
		DocumentID: doc.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[ValidationDTO](t, rec).OK)
}

func TestAllocate_SingleRange(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 20)

	rec := f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/allocate", AllocateRequest{
		Days:          5,
		Mode:          "single_range",
		EarliestStart: "2025-06-01",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[AllocateResponse](t, rec)
	assert.Equal(t, 5, res.Days)
	require.Len(t, res.Ranges, 1)
	assert.GreaterOrEqual(t, res.Ranges[0].Start, "2025-06-01")
}

func TestAllocate_UnknownModeAndUnsatisfiable(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 20)

	rec := f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/allocate", AllocateRequest{Days: 5, Mode: "whenever"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Only 10 days remain on the contract from 2025-12-22.
	rec = f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/allocate", AllocateRequest{
		Days:          30,
		Mode:          "single_range",
		EarliestStart: "2025-12-22",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

// =============================================================================
// STALE & METRICS
// =============================================================================

func TestListStale_EmptyWhenFresh(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/documents/stale", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]DocumentDTO](t, rec))
}

func TestExplainStale_FreshDocumentIsConflict(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 20)
	doc := f.createLeave(t, staffID, "2025-06-02", "2025-06-06")
	rec := f.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/transition", TransitionRequest{Target: "signed_by_applicant"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/stale/explanation", ExplanationRequest{Text: "rector away"})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/stale/explanation", ExplanationRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.addStaff(t, 20)
	f.do(t, http.MethodPost, "/api/staff/"+string(staffID)+"/validate", ValidateRequest{
		Type:   "unpaid_leave",
		Ranges: []RangeDTO{{Start: "2025-06-02", End: "2025-06-03"}},
	})

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "staffdocs_validations_total")
}
