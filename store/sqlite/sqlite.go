/*
Package sqlite provides a SQLite-backed implementation of the repository
interfaces.

PURPOSE:
  Implements generic.TxRepository and generic.HolidayStore on SQLite.
  The same SQL runs on a *sql.DB or inside a *sql.Tx, so WithTx hands the
  callback a repository bound to the open transaction.

KEY TABLES:
  staff:          Staff records (balance, contract term, FTE rate)
  documents:      Leave and contract documents, ranges stored as JSON
  attendance:     Timesheet marks
  field_changes:  Append-only audit trail
  holidays:       Non-working days

INDEXES:
  - idx_documents_staff_dates: overlap queries (hot path for validation)
  - idx_documents_status: stale scans, pending counts
  - idx_unique_correction: one sequence number per (staff, month, year)

CONDITIONAL WRITES:
  UpdateDocument runs "UPDATE ... WHERE id = ? AND status = ?". Zero rows
  affected means the status moved under us and the caller gets
  generic.ErrStaleWrite.

CONCURRENCY:
  Uses sync.RWMutex plus a single connection. SQLite has one writer
  anyway, and ":memory:" databases are per connection.

USAGE:
  store, err := sqlite.New("./data/staffdocs.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/staffdocs/generic"
)

// Store implements all repository interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  repo
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: repo{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		rate TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		term_start TEXT,
		term_end TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		chat_id INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		staff_id TEXT,
		doc_type TEXT NOT NULL,
		status TEXT NOT NULL,
		ranges_json TEXT NOT NULL DEFAULT '[]',
		date_start TEXT,
		date_end TEXT,
		days_count INTEGER NOT NULL DEFAULT 0,
		status_changed_at TEXT NOT NULL,
		is_blocked INTEGER NOT NULL DEFAULT 0,
		balance_override INTEGER NOT NULL DEFAULT 0,
		is_correction INTEGER NOT NULL DEFAULT 0,
		corrects_id TEXT,
		correction_month INTEGER,
		correction_year INTEGER,
		correction_sequence INTEGER,
		correction_reason TEXT,
		new_employee_json TEXT,
		prior_term_end TEXT,
		stale_explanation TEXT,
		notification_count INTEGER NOT NULL DEFAULT 0,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_staff_dates
		ON documents(staff_id, date_start, date_end);
	CREATE INDEX IF NOT EXISTS idx_documents_status
		ON documents(status);

	-- A correction sequence number is never reused for a staff/month/year
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_correction
		ON documents(staff_id, correction_month, correction_year, correction_sequence)
		WHERE is_correction = 1;

	CREATE TABLE IF NOT EXISTS attendance (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		date_start TEXT NOT NULL,
		date_end TEXT NOT NULL,
		code TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_staff_dates
		ON attendance(staff_id, date_start, date_end);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS field_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		staff_id TEXT,
		field TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		actor_id TEXT,
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_field_changes_document
		ON field_changes(document_id);

	CREATE TABLE IF NOT EXISTS holidays (
		date TEXT PRIMARY KEY,
		name TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REPOSITORY (generic.Repository interface)
// =============================================================================

func (s *Store) GetStaff(ctx context.Context, id generic.StaffID) (generic.StaffRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetStaff(ctx, id)
}

func (s *Store) SaveStaff(ctx context.Context, rec generic.StaffRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveStaff(ctx, rec)
}

func (s *Store) ListStaff(ctx context.Context) ([]generic.StaffRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListStaff(ctx)
}

func (s *Store) GetDocument(ctx context.Context, id generic.DocumentID) (generic.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetDocument(ctx, id)
}

func (s *Store) CreateDocument(ctx context.Context, d generic.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateDocument(ctx, d)
}

func (s *Store) UpdateDocument(ctx context.Context, d generic.DocumentRecord, expected generic.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateDocument(ctx, d, expected)
}

func (s *Store) DocumentsByStaff(ctx context.Context, staffID generic.StaffID) ([]generic.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.DocumentsByStaff(ctx, staffID)
}

func (s *Store) DocumentsByStatus(ctx context.Context, statuses ...generic.Status) ([]generic.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.DocumentsByStatus(ctx, statuses...)
}

func (s *Store) DocumentsOverlapping(ctx context.Context, staffID generic.StaffID, r generic.DateRange) ([]generic.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.DocumentsOverlapping(ctx, staffID, r)
}

func (s *Store) MaxCorrectionSequence(ctx context.Context, staffID generic.StaffID, month, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.MaxCorrectionSequence(ctx, staffID, month, year)
}

func (s *Store) SaveAttendance(ctx context.Context, a generic.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveAttendance(ctx, a)
}

func (s *Store) AttendanceByStaff(ctx context.Context, staffID generic.StaffID) ([]generic.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.AttendanceByStaff(ctx, staffID)
}

func (s *Store) AttendanceOverlapping(ctx context.Context, staffID generic.StaffID, r generic.DateRange) ([]generic.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.AttendanceOverlapping(ctx, staffID, r)
}

func (s *Store) AppendChanges(ctx context.Context, changes []generic.FieldChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendChanges(ctx, changes)
}

func (s *Store) ChangesByDocument(ctx context.Context, id generic.DocumentID) ([]generic.FieldChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ChangesByDocument(ctx, id)
}

// =============================================================================
// TRANSACTIONAL REPOSITORY (generic.TxRepository interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(repo{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - Shared by Store and the transaction-bound repo
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repo struct {
	db querier
}

// --- Staff ---

const staffColumns = `id, full_name, rate, balance, term_start, term_end, active, chat_id, created_at, updated_at`

func (r repo) GetStaff(ctx context.Context, id generic.StaffID) (generic.StaffRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+staffColumns+" FROM staff WHERE id = ?", id)
	rec, err := scanStaff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.StaffRecord{}, &generic.NotFoundError{Kind: "staff", ID: string(id)}
	}
	return rec, err
}

func (r repo) SaveStaff(ctx context.Context, rec generic.StaffRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	query := `
		INSERT INTO staff (` + staffColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			rate = excluded.rate,
			balance = excluded.balance,
			term_start = excluded.term_start,
			term_end = excluded.term_end,
			active = excluded.active,
			chat_id = excluded.chat_id,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.FullName, rec.Rate.String(), rec.Balance,
		rec.TermStart, rec.TermEnd, rec.Active, rec.ChatID,
		formatTime(rec.CreatedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save staff %s: %w", rec.ID, err)
	}
	return nil
}

func (r repo) ListStaff(ctx context.Context) ([]generic.StaffRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+staffColumns+" FROM staff ORDER BY full_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var out []generic.StaffRecord
	for rows.Next() {
		rec, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStaff(row scanner) (generic.StaffRecord, error) {
	var (
		rec                  generic.StaffRecord
		rate                 string
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.FullName, &rate, &rec.Balance,
		&rec.TermStart, &rec.TermEnd, &rec.Active, &rec.ChatID,
		&createdAt, &updatedAt)
	if err != nil {
		return rec, err
	}
	rec.Rate, err = decimal.NewFromString(rate)
	if err != nil {
		return rec, fmt.Errorf("staff %s: bad rate %q: %w", rec.ID, rate, err)
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

// --- Documents ---

const documentColumns = `id, staff_id, doc_type, status, ranges_json, date_start, date_end, days_count,
	status_changed_at, is_blocked, balance_override,
	is_correction, corrects_id, correction_month, correction_year, correction_sequence, correction_reason,
	new_employee_json, prior_term_end, stale_explanation, notification_count,
	created_by, created_at, updated_at`

func (r repo) GetDocument(ctx context.Context, id generic.DocumentID) (generic.DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.DocumentRecord{}, &generic.NotFoundError{Kind: "document", ID: string(id)}
	}
	return d, err
}

func (r repo) CreateDocument(ctx context.Context, d generic.DocumentRecord) error {
	args, err := documentArgs(d)
	if err != nil {
		return err
	}
	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("document %s: %w", d.ID, generic.ErrStaleWrite)
		}
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r repo) UpdateDocument(ctx context.Context, d generic.DocumentRecord, expected generic.Status) error {
	args, err := documentArgs(d)
	if err != nil {
		return err
	}
	query := `
		UPDATE documents SET
			staff_id = ?, doc_type = ?, status = ?, ranges_json = ?, date_start = ?, date_end = ?,
			days_count = ?, status_changed_at = ?, is_blocked = ?, balance_override = ?,
			is_correction = ?, corrects_id = ?, correction_month = ?, correction_year = ?,
			correction_sequence = ?, correction_reason = ?, new_employee_json = ?, prior_term_end = ?,
			stale_explanation = ?, notification_count = ?, created_by = ?, created_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	// documentArgs starts with the id; the UPDATE takes it in the WHERE clause.
	args = append(args[1:], d.ID, expected)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetDocument(ctx, d.ID); err != nil {
			return err
		}
		return generic.ErrStaleWrite
	}
	return nil
}

func (r repo) DocumentsByStaff(ctx context.Context, staffID generic.StaffID) ([]generic.DocumentRecord, error) {
	return r.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE staff_id = ? ORDER BY created_at, id", staffID)
}

func (r repo) DocumentsByStatus(ctx context.Context, statuses ...generic.Status) ([]generic.DocumentRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := "?"
	args := []any{statuses[0]}
	for _, st := range statuses[1:] {
		placeholders += ", ?"
		args = append(args, st)
	}
	return r.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE status IN ("+placeholders+") ORDER BY created_at, id",
		args...)
}

func (r repo) DocumentsOverlapping(ctx context.Context, staffID generic.StaffID, dr generic.DateRange) ([]generic.DocumentRecord, error) {
	return r.queryDocuments(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE staff_id = ? AND date_start <= ? AND date_end >= ?
		ORDER BY created_at, id`,
		staffID, dr.End, dr.Start)
}

func (r repo) MaxCorrectionSequence(ctx context.Context, staffID generic.StaffID, month, year int) (int, error) {
	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(correction_sequence) FROM documents
		WHERE is_correction = 1 AND staff_id = ? AND correction_month = ? AND correction_year = ?`,
		staffID, month, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read correction sequence: %w", err)
	}
	return int(seq.Int64), nil
}

func (r repo) queryDocuments(ctx context.Context, query string, args ...any) ([]generic.DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var out []generic.DocumentRecord
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func documentArgs(d generic.DocumentRecord) ([]any, error) {
	ranges := d.Ranges
	if ranges == nil {
		ranges = []generic.DateRange{}
	}
	rangesJSON, err := json.Marshal(ranges)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ranges: %w", err)
	}
	var newEmployee sql.NullString
	if d.NewEmployee != nil {
		b, err := json.Marshal(d.NewEmployee)
		if err != nil {
			return nil, fmt.Errorf("failed to encode employee snapshot: %w", err)
		}
		newEmployee = sql.NullString{String: string(b), Valid: true}
	}
	var priorTermEnd any
	if d.PriorTermEnd != nil {
		priorTermEnd = *d.PriorTermEnd
	}
	var corrMonth, corrYear, corrSeq sql.NullInt64
	if d.IsCorrection {
		corrMonth = sql.NullInt64{Int64: int64(d.CorrectionMonth), Valid: true}
		corrYear = sql.NullInt64{Int64: int64(d.CorrectionYear), Valid: true}
		corrSeq = sql.NullInt64{Int64: int64(d.CorrectionSequence), Valid: true}
	}
	updatedAt := d.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	return []any{
		d.ID, nullString(string(d.StaffID)), d.Type, d.Status, string(rangesJSON),
		d.DateStart, d.DateEnd, d.DaysCount,
		formatTime(d.StatusChangedAt), d.IsBlocked, d.BalanceOverride,
		d.IsCorrection, nullString(string(d.CorrectsID)), corrMonth, corrYear, corrSeq,
		nullString(d.CorrectionReason), newEmployee, priorTermEnd,
		nullString(d.StaleExplanation), d.NotificationCount,
		nullString(d.CreatedBy), formatTime(createdAt), formatTime(updatedAt),
	}, nil
}

func scanDocument(row scanner) (generic.DocumentRecord, error) {
	var (
		d                             generic.DocumentRecord
		staffID, correctsID           sql.NullString
		rangesJSON                    string
		statusChangedAt               string
		corrMonth, corrYear, corrSeq  sql.NullInt64
		correctionReason, newEmployee sql.NullString
		priorTermEnd                  generic.Date
		staleExplanation, createdBy   sql.NullString
		createdAt, updatedAt          string
	)
	err := row.Scan(
		&d.ID, &staffID, &d.Type, &d.Status, &rangesJSON, &d.DateStart, &d.DateEnd, &d.DaysCount,
		&statusChangedAt, &d.IsBlocked, &d.BalanceOverride,
		&d.IsCorrection, &correctsID, &corrMonth, &corrYear, &corrSeq, &correctionReason,
		&newEmployee, &priorTermEnd, &staleExplanation, &d.NotificationCount,
		&createdBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return d, err
	}

	d.StaffID = generic.StaffID(staffID.String)
	d.CorrectsID = generic.DocumentID(correctsID.String)
	d.CorrectionMonth = int(corrMonth.Int64)
	d.CorrectionYear = int(corrYear.Int64)
	d.CorrectionSequence = int(corrSeq.Int64)
	d.CorrectionReason = correctionReason.String
	d.StaleExplanation = staleExplanation.String
	d.CreatedBy = createdBy.String
	d.StatusChangedAt = parseTime(statusChangedAt)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(rangesJSON), &d.Ranges); err != nil {
		return d, fmt.Errorf("document %s: bad ranges: %w", d.ID, err)
	}
	if len(d.Ranges) == 0 {
		d.Ranges = nil
	}
	if newEmployee.Valid && newEmployee.String != "" {
		d.NewEmployee = &generic.NewEmployee{}
		if err := json.Unmarshal([]byte(newEmployee.String), d.NewEmployee); err != nil {
			return d, fmt.Errorf("document %s: bad employee snapshot: %w", d.ID, err)
		}
	}
	if !priorTermEnd.IsZero() {
		d.PriorTermEnd = &priorTermEnd
	}
	return d, nil
}

// --- Attendance ---

func (r repo) SaveAttendance(ctx context.Context, a generic.AttendanceRecord) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	rng := a.Range()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, staff_id, date_start, date_end, code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date_start = excluded.date_start,
			date_end = excluded.date_end,
			code = excluded.code`,
		a.ID, a.StaffID, rng.Start, rng.End, a.Code, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to save attendance: %w", err)
	}
	return nil
}

func (r repo) AttendanceByStaff(ctx context.Context, staffID generic.StaffID) ([]generic.AttendanceRecord, error) {
	return r.queryAttendance(ctx, `
		SELECT id, staff_id, date_start, date_end, code, created_at FROM attendance
		WHERE staff_id = ? ORDER BY date_start`, staffID)
}

func (r repo) AttendanceOverlapping(ctx context.Context, staffID generic.StaffID, dr generic.DateRange) ([]generic.AttendanceRecord, error) {
	return r.queryAttendance(ctx, `
		SELECT id, staff_id, date_start, date_end, code, created_at FROM attendance
		WHERE staff_id = ? AND date_start <= ? AND date_end >= ? ORDER BY date_start`,
		staffID, dr.End, dr.Start)
}

func (r repo) queryAttendance(ctx context.Context, query string, args ...any) ([]generic.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var out []generic.AttendanceRecord
	for rows.Next() {
		var (
			a         generic.AttendanceRecord
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.StaffID, &a.DateStart, &a.DateEnd, &a.Code, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- History ---

func (r repo) AppendChanges(ctx context.Context, changes []generic.FieldChange) error {
	for _, c := range changes {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO field_changes (document_id, staff_id, field, old_value, new_value, actor_id, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.DocumentID, nullString(string(c.StaffID)), c.Field, c.OldValue, c.NewValue,
			c.ActorID, formatTime(c.At))
		if err != nil {
			return fmt.Errorf("failed to append change %s: %w", c.Field, err)
		}
	}
	return nil
}

func (r repo) ChangesByDocument(ctx context.Context, id generic.DocumentID) ([]generic.FieldChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT document_id, staff_id, field, old_value, new_value, actor_id, changed_at
		FROM field_changes WHERE document_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []generic.FieldChange
	for rows.Next() {
		var (
			c                           generic.FieldChange
			staffID, oldValue, newValue sql.NullString
			actorID                     sql.NullString
			at                          string
		)
		if err := rows.Scan(&c.DocumentID, &staffID, &c.Field, &oldValue, &newValue, &actorID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.StaffID = generic.StaffID(staffID.String)
		c.OldValue = oldValue.String
		c.NewValue = newValue.String
		c.ActorID = actorID.String
		c.At = parseTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// SaveHolidays upserts holidays by date.
func (s *Store) SaveHolidays(ctx context.Context, days []generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range days {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO holidays (date, name) VALUES (?, ?)
			ON CONFLICT(date) DO UPDATE SET name = excluded.name`,
			h.Date, h.Name)
		if err != nil {
			return fmt.Errorf("failed to save holiday %s: %w", h.Date, err)
		}
	}
	return nil
}

// ListHolidays returns holidays in [from, to].
func (s *Store) ListHolidays(ctx context.Context, from, to generic.Date) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT date, name FROM holidays WHERE date >= ? AND date <= ? ORDER BY date", from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var out []generic.Holiday
	for rows.Next() {
		var (
			h    generic.Holiday
			name sql.NullString
		)
		if err := rows.Scan(&h.Date, &name); err != nil {
			return nil, err
		}
		h.Name = name.String
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var (
	_ generic.TxRepository = (*Store)(nil)
	_ generic.HolidayStore = (*Store)(nil)
	_ generic.Repository   = repo{}
)
