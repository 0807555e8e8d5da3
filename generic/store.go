/*
store.go - Persistence interfaces for staff, documents and attendance

PURPOSE:
  Defines the interface between the domain logic and the database.
  The workflow and the validator only ever see these interfaces, so
  SQLite and the in-memory store are interchangeable.

KEY INTERFACES:
  Repository:   Everything the engine reads and writes
  TxRepository: Repository plus WithTx for atomic multi-record writes
  HolidayStore: Non-working days loaded from the holiday calendar

CONDITIONAL WRITES:
  UpdateDocument takes the status the caller read. If the stored status
  differs, the write is rejected with ErrStaleWrite and nothing changes.
  Two dispatchers approving the same document at once cannot both win.

NO DELETES:
  Documents past draft are never deleted. Corrections create new documents
  that point at the one they correct.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - workflow/workflow.go: Only caller of WithTx
*/
package generic

import "context"

// =============================================================================
// REPOSITORY - Read/write access to every record the engine touches
// =============================================================================

type StaffStore interface {
	GetStaff(ctx context.Context, id StaffID) (StaffRecord, error)
	SaveStaff(ctx context.Context, s StaffRecord) error
	ListStaff(ctx context.Context) ([]StaffRecord, error)
}

type DocumentStore interface {
	GetDocument(ctx context.Context, id DocumentID) (DocumentRecord, error)
	CreateDocument(ctx context.Context, d DocumentRecord) error

	// UpdateDocument writes d only if the stored status equals expected.
	UpdateDocument(ctx context.Context, d DocumentRecord, expected Status) error

	DocumentsByStaff(ctx context.Context, staffID StaffID) ([]DocumentRecord, error)
	DocumentsByStatus(ctx context.Context, statuses ...Status) ([]DocumentRecord, error)

	// DocumentsOverlapping returns the staff member's documents whose
	// envelope intersects r, in any status.
	DocumentsOverlapping(ctx context.Context, staffID StaffID, r DateRange) ([]DocumentRecord, error)

	// MaxCorrectionSequence returns 0 when no correction exists yet.
	MaxCorrectionSequence(ctx context.Context, staffID StaffID, month, year int) (int, error)
}

type AttendanceStore interface {
	SaveAttendance(ctx context.Context, a AttendanceRecord) error
	AttendanceByStaff(ctx context.Context, staffID StaffID) ([]AttendanceRecord, error)
	AttendanceOverlapping(ctx context.Context, staffID StaffID, r DateRange) ([]AttendanceRecord, error)
}

// HistoryStore is the field-level audit trail. Append-only.
type HistoryStore interface {
	AppendChanges(ctx context.Context, changes []FieldChange) error
	ChangesByDocument(ctx context.Context, id DocumentID) ([]FieldChange, error)
}

type Repository interface {
	StaffStore
	DocumentStore
	AttendanceStore
	HistoryStore
}

// =============================================================================
// TRANSACTIONAL REPOSITORY
// =============================================================================

// TxRepository wraps Repository with transaction support.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Repository
	// is rolled back.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type Holiday struct {
	Date Date   `json:"date"`
	Name string `json:"name,omitempty"`
}

type HolidayStore interface {
	// SaveHolidays upserts by date.
	SaveHolidays(ctx context.Context, days []Holiday) error
	ListHolidays(ctx context.Context, from, to Date) ([]Holiday, error)
}
