/*
Package generic provides the primitives shared by every part of the engine.

PURPOSE:
  Staff, document and attendance records, the ordered approval chain, date
  arithmetic and the error taxonomy live here. The leave package builds
  availability, validation and allocation on top of them; the workflow
  package drives documents through the approval chain.

KEY CONCEPTS IN THIS FILE (types.go):
  - StaffRecord: the person whose balance and contract are affected
  - DocumentRecord: a leave/contract document moving through approval
  - AttendanceRecord: timesheet marks that consume availability
  - Status: the eight approval states, strictly ordered
  - BookedInterval: derived, never persisted

DESIGN PRINCIPLES:
  1. Records are plain values; repositories own persistence
  2. A non-draft document is never deleted, only corrected
  3. Dates are calendar days (see time.go), ranges are closed intervals

SEE ALSO:
  - period.go: DateRange and range-set helpers
  - errors.go: ValidationError / ConflictError / StatusError / Unsatisfiable
  - store.go: Repository interfaces
*/
package generic

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StaffID string
type DocumentID string
type AttendanceID string

func NewStaffID() StaffID           { return StaffID(uuid.NewString()) }
func NewDocumentID() DocumentID     { return DocumentID(uuid.NewString()) }
func NewAttendanceID() AttendanceID { return AttendanceID(uuid.NewString()) }

// =============================================================================
// STAFF
// =============================================================================

// StaffRecord is owned by HR. The workflow is the only writer inside this
// engine.
type StaffRecord struct {
	ID        StaffID
	FullName  string
	Rate      decimal.Decimal // fractional FTE, 0 < rate <= 1
	Balance   int             // leave balance in days
	TermStart Date
	TermEnd   Date
	Active    bool
	ChatID    int64 // notification address, 0 when unknown
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidRate reports whether the FTE rate is within (0, 1].
func ValidRate(rate decimal.Decimal) bool {
	return rate.IsPositive() && rate.LessThanOrEqual(decimal.NewFromInt(1))
}

// Term is the contract interval.
func (s StaffRecord) Term() DateRange {
	return DateRange{Start: s.TermStart, End: s.TermEnd}
}

// NewEmployee is the snapshot embedded in an employment document before the
// staff record exists.
type NewEmployee struct {
	FullName  string          `json:"full_name"`
	Rate      decimal.Decimal `json:"rate"`
	Balance   int             `json:"balance"`
	TermStart Date            `json:"term_start"`
	TermEnd   Date            `json:"term_end"`
	ChatID    int64           `json:"chat_id,omitempty"`
}

func (n NewEmployee) Term() DateRange {
	return DateRange{Start: n.TermStart, End: n.TermEnd}
}

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

type DocType string

const (
	DocPaidLeave     DocType = "paid_leave"
	DocUnpaidLeave   DocType = "unpaid_leave"
	DocTermExtension DocType = "term_extension"
	DocEmployment    DocType = "employment"
)

func (t DocType) Valid() bool {
	switch t {
	case DocPaidLeave, DocUnpaidLeave, DocTermExtension, DocEmployment:
		return true
	}
	return false
}

// IsLeave is true for the types that take the staff member off work.
func (t DocType) IsLeave() bool {
	return t == DocPaidLeave || t == DocUnpaidLeave
}

// =============================================================================
// STATUS - Ordered approval chain
// =============================================================================

type Status string

const (
	StatusDraft                Status = "draft"
	StatusSignedByApplicant    Status = "signed_by_applicant"
	StatusApprovedByDispatcher Status = "approved_by_dispatcher"
	StatusSignedDepHead        Status = "signed_dep_head"
	StatusAgreed               Status = "agreed"
	StatusSignedRector         Status = "signed_rector"
	StatusScanned              Status = "scanned"
	StatusProcessed            Status = "processed"
)

// StatusChain is the only forward path a document can take.
var StatusChain = []Status{
	StatusDraft,
	StatusSignedByApplicant,
	StatusApprovedByDispatcher,
	StatusSignedDepHead,
	StatusAgreed,
	StatusSignedRector,
	StatusScanned,
	StatusProcessed,
}

// Index returns the position in StatusChain, or -1 for unknown statuses.
func (s Status) Index() int {
	for i, st := range StatusChain {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool { return s.Index() >= 0 }

// Next returns the single successor of s.
func (s Status) Next() (Status, bool) {
	i := s.Index()
	if i < 0 || i == len(StatusChain)-1 {
		return "", false
	}
	return StatusChain[i+1], true
}

// Prev returns the single predecessor of s.
func (s Status) Prev() (Status, bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return StatusChain[i-1], true
}

// Before reports whether s comes strictly before o in the chain.
func (s Status) Before(o Status) bool {
	return s.Index() < o.Index()
}

// Blocks reports whether entering s freezes the document's dates.
func (s Status) Blocks() bool {
	return s == StatusScanned || s == StatusProcessed
}

// InApproval is true between draft and scanned (exclusive on both ends).
func (s Status) InApproval() bool {
	return StatusDraft.Before(s) && s.Before(StatusScanned)
}

// =============================================================================
// DOCUMENT
// =============================================================================

// DocumentRecord is a leave or contract document.
//
// Ranges are the assigned date ranges. DateStart/DateEnd is their envelope
// and DaysCount the number of calendar days in their union.
type DocumentRecord struct {
	ID        DocumentID
	StaffID   StaffID // empty for employment documents until processed
	Type      DocType
	Status    Status
	Ranges    []DateRange
	DateStart Date
	DateEnd   Date
	DaysCount int

	StatusChangedAt time.Time
	IsBlocked       bool
	BalanceOverride bool

	// Corrections
	IsCorrection       bool
	CorrectsID         DocumentID
	CorrectionMonth    int
	CorrectionYear     int
	CorrectionSequence int
	CorrectionReason   string

	NewEmployee  *NewEmployee // employment documents only
	PriorTermEnd *Date        // term extensions, filled when processed

	// Stale handling
	StaleExplanation  string
	NotificationCount int

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetRanges replaces the ranges and recomputes the envelope and day count.
func (d *DocumentRecord) SetRanges(ranges []DateRange) {
	d.Ranges = NormalizeRanges(ranges)
	d.DaysCount = UnionLen(d.Ranges)
	if env, ok := Envelope(d.Ranges); ok {
		d.DateStart = env.Start
		d.DateEnd = env.End
	}
}

// BookedRanges returns the ranges this document occupies on the calendar.
func (d DocumentRecord) BookedRanges() []DateRange {
	if len(d.Ranges) > 0 {
		return d.Ranges
	}
	if d.DaysCount > 0 && d.DateStart.BeforeOrEqual(d.DateEnd) && !d.DateStart.IsZero() {
		return []DateRange{{Start: d.DateStart, End: d.DateEnd}}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing stores.
func (d DocumentRecord) Clone() DocumentRecord {
	out := d
	if d.Ranges != nil {
		out.Ranges = append([]DateRange(nil), d.Ranges...)
	}
	if d.NewEmployee != nil {
		ne := *d.NewEmployee
		out.NewEmployee = &ne
	}
	if d.PriorTermEnd != nil {
		p := *d.PriorTermEnd
		out.PriorTermEnd = &p
	}
	return out
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// Attendance codes. Only AttendancePresent leaves the day available.
const (
	AttendancePresent  = "P"
	AttendanceVacation = "V"
	AttendanceSick     = "S"
	AttendanceUnpaid   = "U"
	AttendanceAbsent   = "A"
	AttendanceBusiness = "B"
)

type AttendanceRecord struct {
	ID        AttendanceID
	StaffID   StaffID
	DateStart Date
	DateEnd   Date
	Code      string
	CreatedAt time.Time
}

func (a AttendanceRecord) Range() DateRange {
	end := a.DateEnd
	if end.IsZero() {
		end = a.DateStart
	}
	return DateRange{Start: a.DateStart, End: end}
}

// ConsumesAvailability is true for every code except present.
func (a AttendanceRecord) ConsumesAvailability() bool {
	return a.Code != AttendancePresent
}

// =============================================================================
// BOOKED INTERVAL - Derived, not persisted
// =============================================================================

type OriginKind string

const (
	OriginDocument   OriginKind = "document"
	OriginAttendance OriginKind = "attendance"
)

type BookedInterval struct {
	Range      DateRange  `json:"range"`
	OriginKind OriginKind `json:"origin_kind"`
	OriginID   string     `json:"origin_id"`
	Label      string     `json:"label"` // document status or attendance code
}

// =============================================================================
// ACTOR & AUDIT
// =============================================================================

// Actor is whoever asks for a change: a person, a bot handler or the system.
type Actor struct {
	ID   string
	Name string
}

// SystemActor is used by background processes.
var SystemActor = Actor{ID: "system", Name: "system"}

// FieldChange is one audited change. Callers build them explicitly; nothing
// is diffed by reflection.
type FieldChange struct {
	DocumentID DocumentID
	StaffID    StaffID
	Field      string
	OldValue   string
	NewValue   string
	ActorID    string
	At         time.Time
}
