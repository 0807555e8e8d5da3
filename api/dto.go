/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request shapes are checked with go-playground/validator struct tags
  before any domain call. Business rules (balance, contract, conflicts)
  are the validator's and the workflow's job, not the DTOs'.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/staffdocs/generic"
)

// =============================================================================
// DATES
// =============================================================================

type RangeDTO struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

func (r RangeDTO) toRange() (generic.DateRange, error) {
	start, err := generic.ParseDate(r.Start)
	if err != nil {
		return generic.DateRange{}, err
	}
	end, err := generic.ParseDate(r.End)
	if err != nil {
		return generic.DateRange{}, err
	}
	return generic.DateRange{Start: start, End: end}, nil
}

func toRanges(in []RangeDTO) ([]generic.DateRange, error) {
	out := make([]generic.DateRange, 0, len(in))
	for _, r := range in {
		dr, err := r.toRange()
		if err != nil {
			return nil, err
		}
		out = append(out, dr)
	}
	return out, nil
}

func fromRanges(in []generic.DateRange) []RangeDTO {
	out := make([]RangeDTO, len(in))
	for i, r := range in {
		out[i] = RangeDTO{Start: r.Start.String(), End: r.End.String()}
	}
	return out
}

// =============================================================================
// STAFF
// =============================================================================

type StaffDTO struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Rate      string `json:"rate"`
	Balance   int    `json:"balance"`
	TermStart string `json:"term_start"`
	TermEnd   string `json:"term_end"`
	Active    bool   `json:"active"`
}

func toStaffDTO(s generic.StaffRecord) StaffDTO {
	return StaffDTO{
		ID:        string(s.ID),
		FullName:  s.FullName,
		Rate:      s.Rate.String(),
		Balance:   s.Balance,
		TermStart: s.TermStart.String(),
		TermEnd:   s.TermEnd.String(),
		Active:    s.Active,
	}
}

type CreateStaffRequest struct {
	FullName  string `json:"full_name" validate:"required"`
	Rate      string `json:"rate" validate:"required,numeric"`
	Balance   int    `json:"balance" validate:"min=0"`
	TermStart string `json:"term_start" validate:"required,datetime=2006-01-02"`
	TermEnd   string `json:"term_end" validate:"required,datetime=2006-01-02"`
	ChatID    int64  `json:"chat_id"`
}

func (r CreateStaffRequest) toRecord(now time.Time) (generic.StaffRecord, error) {
	rate, err := decimal.NewFromString(r.Rate)
	if err != nil {
		return generic.StaffRecord{}, err
	}
	if !generic.ValidRate(rate) {
		return generic.StaffRecord{}, fmt.Errorf("rate %s is outside (0, 1]", rate)
	}
	term, err := RangeDTO{Start: r.TermStart, End: r.TermEnd}.toRange()
	if err != nil {
		return generic.StaffRecord{}, err
	}
	if !term.Valid() {
		return generic.StaffRecord{}, fmt.Errorf("contract term %s: %w", term, generic.ErrInvalidRange)
	}
	return generic.StaffRecord{
		ID:        generic.NewStaffID(),
		FullName:  r.FullName,
		Rate:      rate,
		Balance:   r.Balance,
		TermStart: term.Start,
		TermEnd:   term.End,
		Active:    true,
		ChatID:    r.ChatID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type AttendanceRequest struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"omitempty,datetime=2006-01-02"`
	Code  string `json:"code" validate:"required,oneof=P V S U A B"`
}

// =============================================================================
// AVAILABILITY
// =============================================================================

type BookedDTO struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	OriginKind string `json:"origin_kind"`
	OriginID   string `json:"origin_id"`
	Label      string `json:"label"`
}

func toBookedDTOs(in []generic.BookedInterval) []BookedDTO {
	out := make([]BookedDTO, len(in))
	for i, b := range in {
		out[i] = BookedDTO{
			Start:      b.Range.Start.String(),
			End:        b.Range.End.String(),
			OriginKind: string(b.OriginKind),
			OriginID:   b.OriginID,
			Label:      b.Label,
		}
	}
	return out
}

type AllocateRequest struct {
	Days           int    `json:"days" validate:"required,min=1,max=366"`
	Mode           string `json:"mode" validate:"required,oneof=single_range multiple_ranges isolated_singles mixed"`
	EarliestStart  string `json:"earliest_start" validate:"omitempty,datetime=2006-01-02"`
	SingleDays     int    `json:"single_days" validate:"min=0"`
	MaxRangeLength int    `json:"max_range_length" validate:"min=0"`
	HorizonMonths  int    `json:"horizon_months" validate:"min=0,max=24"`
	DocumentID     string `json:"document_id"`
}

type AllocateResponse struct {
	Ranges []RangeDTO `json:"ranges"`
	Days   int        `json:"days"`
}

type ValidateRequest struct {
	Type       string     `json:"type" validate:"required,oneof=paid_leave unpaid_leave term_extension employment"`
	Ranges     []RangeDTO `json:"ranges" validate:"required,min=1,dive"`
	Override   bool       `json:"override"`
	DocumentID string     `json:"document_id"`
}

type ValidationDTO struct {
	OK        bool            `json:"ok"`
	Errors    []generic.Issue `json:"errors"`
	Warnings  []generic.Issue `json:"warnings"`
	Conflicts []BookedDTO     `json:"conflicts,omitempty"`
}

func toValidationDTO(res generic.ValidationResult) ValidationDTO {
	dto := ValidationDTO{
		OK:       res.OK(),
		Errors:   res.Errors,
		Warnings: res.Warnings,
	}
	if dto.Errors == nil {
		dto.Errors = []generic.Issue{}
	}
	if dto.Warnings == nil {
		dto.Warnings = []generic.Issue{}
	}
	if len(res.Conflicts) > 0 {
		dto.Conflicts = toBookedDTOs(res.Conflicts)
	}
	return dto
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type NewEmployeeDTO struct {
	FullName  string `json:"full_name" validate:"required"`
	Rate      string `json:"rate" validate:"required,numeric"`
	Balance   int    `json:"balance" validate:"min=0"`
	TermStart string `json:"term_start" validate:"required,datetime=2006-01-02"`
	TermEnd   string `json:"term_end" validate:"required,datetime=2006-01-02"`
	ChatID    int64  `json:"chat_id"`
}

func (n *NewEmployeeDTO) toSnapshot() (*generic.NewEmployee, error) {
	if n == nil {
		return nil, nil
	}
	rate, err := decimal.NewFromString(n.Rate)
	if err != nil {
		return nil, err
	}
	term, err := RangeDTO{Start: n.TermStart, End: n.TermEnd}.toRange()
	if err != nil {
		return nil, err
	}
	return &generic.NewEmployee{
		FullName:  n.FullName,
		Rate:      rate,
		Balance:   n.Balance,
		TermStart: term.Start,
		TermEnd:   term.End,
		ChatID:    n.ChatID,
	}, nil
}

type CreateDocumentRequest struct {
	StaffID     string          `json:"staff_id" validate:"required_unless=Type employment"`
	Type        string          `json:"type" validate:"required,oneof=paid_leave unpaid_leave term_extension employment"`
	Ranges      []RangeDTO      `json:"ranges" validate:"required_unless=Type employment,dive"`
	Override    bool            `json:"override"`
	NewEmployee *NewEmployeeDTO `json:"new_employee" validate:"required_if=Type employment"`
}

type UpdateDatesRequest struct {
	Ranges   []RangeDTO `json:"ranges" validate:"required,min=1,dive"`
	Override bool       `json:"override"`
}

type TransitionRequest struct {
	Target string `json:"target" validate:"required"`
}

type CorrectionRequest struct {
	Ranges []RangeDTO `json:"ranges" validate:"required,min=1,dive"`
	Reason string     `json:"reason" validate:"required"`
}

type ExplanationRequest struct {
	Text string `json:"text" validate:"required"`
}

type DocumentDTO struct {
	ID                string          `json:"id"`
	StaffID           string          `json:"staff_id,omitempty"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	Ranges            []RangeDTO      `json:"ranges"`
	DateStart         string          `json:"date_start"`
	DateEnd           string          `json:"date_end"`
	DaysCount         int             `json:"days_count"`
	StatusChangedAt   time.Time       `json:"status_changed_at"`
	IsBlocked         bool            `json:"is_blocked"`
	BalanceOverride   bool            `json:"balance_override"`
	IsCorrection      bool            `json:"is_correction"`
	CorrectsID        string          `json:"corrects_id,omitempty"`
	CorrectionMonth   int             `json:"correction_month,omitempty"`
	CorrectionYear    int             `json:"correction_year,omitempty"`
	CorrectionSeq     int             `json:"correction_sequence,omitempty"`
	CorrectionReason  string          `json:"correction_reason,omitempty"`
	NewEmployee       *NewEmployeeDTO `json:"new_employee,omitempty"`
	PriorTermEnd      string          `json:"prior_term_end,omitempty"`
	StaleExplanation  string          `json:"stale_explanation,omitempty"`
	NotificationCount int             `json:"notification_count"`
	CreatedBy         string          `json:"created_by"`
}

func toDocumentDTO(d generic.DocumentRecord) DocumentDTO {
	dto := DocumentDTO{
		ID:                string(d.ID),
		StaffID:           string(d.StaffID),
		Type:              string(d.Type),
		Status:            string(d.Status),
		Ranges:            fromRanges(d.Ranges),
		DateStart:         d.DateStart.String(),
		DateEnd:           d.DateEnd.String(),
		DaysCount:         d.DaysCount,
		StatusChangedAt:   d.StatusChangedAt.UTC(),
		IsBlocked:         d.IsBlocked,
		BalanceOverride:   d.BalanceOverride,
		IsCorrection:      d.IsCorrection,
		CorrectsID:        string(d.CorrectsID),
		CorrectionMonth:   d.CorrectionMonth,
		CorrectionYear:    d.CorrectionYear,
		CorrectionSeq:     d.CorrectionSequence,
		CorrectionReason:  d.CorrectionReason,
		StaleExplanation:  d.StaleExplanation,
		NotificationCount: d.NotificationCount,
		CreatedBy:         d.CreatedBy,
	}
	if d.NewEmployee != nil {
		dto.NewEmployee = &NewEmployeeDTO{
			FullName:  d.NewEmployee.FullName,
			Rate:      d.NewEmployee.Rate.String(),
			Balance:   d.NewEmployee.Balance,
			TermStart: d.NewEmployee.TermStart.String(),
			TermEnd:   d.NewEmployee.TermEnd.String(),
			ChatID:    d.NewEmployee.ChatID,
		}
	}
	if d.PriorTermEnd != nil {
		dto.PriorTermEnd = d.PriorTermEnd.String()
	}
	return dto
}

type FieldChangeDTO struct {
	Field    string    `json:"field"`
	OldValue string    `json:"old_value"`
	NewValue string    `json:"new_value"`
	ActorID  string    `json:"actor_id"`
	At       time.Time `json:"at"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string          `json:"error"`
	Details   string          `json:"details,omitempty"`
	Issues    []generic.Issue `json:"issues,omitempty"`
	Warnings  []generic.Issue `json:"warnings,omitempty"`
	Conflicts []BookedDTO     `json:"conflicts,omitempty"`
}
