// Package store provides Repository implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/staffdocs/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st state
}

// state holds the data. Its methods assume the caller owns the lock.
type state struct {
	staff      map[generic.StaffID]generic.StaffRecord
	documents  map[generic.DocumentID]generic.DocumentRecord
	attendance map[generic.StaffID][]generic.AttendanceRecord
	history    map[generic.DocumentID][]generic.FieldChange
	holidays   map[generic.Date]generic.Holiday
}

func newState() state {
	return state{
		staff:      make(map[generic.StaffID]generic.StaffRecord),
		documents:  make(map[generic.DocumentID]generic.DocumentRecord),
		attendance: make(map[generic.StaffID][]generic.AttendanceRecord),
		history:    make(map[generic.DocumentID][]generic.FieldChange),
		holidays:   make(map[generic.Date]generic.Holiday),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// --- Staff ---

func (m *Memory) GetStaff(ctx context.Context, id generic.StaffID) (generic.StaffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetStaff(ctx, id)
}

func (m *Memory) SaveStaff(ctx context.Context, s generic.StaffRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveStaff(ctx, s)
}

func (m *Memory) ListStaff(ctx context.Context) ([]generic.StaffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListStaff(ctx)
}

// --- Documents ---

func (m *Memory) GetDocument(ctx context.Context, id generic.DocumentID) (generic.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetDocument(ctx, id)
}

func (m *Memory) CreateDocument(ctx context.Context, d generic.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateDocument(ctx, d)
}

func (m *Memory) UpdateDocument(ctx context.Context, d generic.DocumentRecord, expected generic.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateDocument(ctx, d, expected)
}

func (m *Memory) DocumentsByStaff(ctx context.Context, staffID generic.StaffID) ([]generic.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.DocumentsByStaff(ctx, staffID)
}

func (m *Memory) DocumentsByStatus(ctx context.Context, statuses ...generic.Status) ([]generic.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.DocumentsByStatus(ctx, statuses...)
}

func (m *Memory) DocumentsOverlapping(ctx context.Context, staffID generic.StaffID, r generic.DateRange) ([]generic.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.DocumentsOverlapping(ctx, staffID, r)
}

func (m *Memory) MaxCorrectionSequence(ctx context.Context, staffID generic.StaffID, month, year int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.MaxCorrectionSequence(ctx, staffID, month, year)
}

// --- Attendance ---

func (m *Memory) SaveAttendance(ctx context.Context, a generic.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveAttendance(ctx, a)
}

func (m *Memory) AttendanceByStaff(ctx context.Context, staffID generic.StaffID) ([]generic.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.AttendanceByStaff(ctx, staffID)
}

func (m *Memory) AttendanceOverlapping(ctx context.Context, staffID generic.StaffID, r generic.DateRange) ([]generic.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.AttendanceOverlapping(ctx, staffID, r)
}

// --- History ---

func (m *Memory) AppendChanges(ctx context.Context, changes []generic.FieldChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendChanges(ctx, changes)
}

func (m *Memory) ChangesByDocument(ctx context.Context, id generic.DocumentID) ([]generic.FieldChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ChangesByDocument(ctx, id)
}

// --- Holidays ---

func (m *Memory) SaveHolidays(_ context.Context, days []generic.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range days {
		m.st.holidays[h.Date] = h
	}
	return nil
}

func (m *Memory) ListHolidays(_ context.Context, from, to generic.Date) ([]generic.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.Holiday
	for d, h := range m.st.holidays {
		if d.AfterOrEqual(from) && d.BeforeOrEqual(to) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// STATE - Unlocked operations shared by Memory and the tx view
// =============================================================================

func (s *state) GetStaff(_ context.Context, id generic.StaffID) (generic.StaffRecord, error) {
	rec, ok := s.staff[id]
	if !ok {
		return generic.StaffRecord{}, &generic.NotFoundError{Kind: "staff", ID: string(id)}
	}
	return rec, nil
}

func (s *state) SaveStaff(_ context.Context, rec generic.StaffRecord) error {
	s.staff[rec.ID] = rec
	return nil
}

func (s *state) ListStaff(_ context.Context) ([]generic.StaffRecord, error) {
	out := make([]generic.StaffRecord, 0, len(s.staff))
	for _, rec := range s.staff {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *state) GetDocument(_ context.Context, id generic.DocumentID) (generic.DocumentRecord, error) {
	d, ok := s.documents[id]
	if !ok {
		return generic.DocumentRecord{}, &generic.NotFoundError{Kind: "document", ID: string(id)}
	}
	return d.Clone(), nil
}

func (s *state) CreateDocument(_ context.Context, d generic.DocumentRecord) error {
	if d.IsCorrection {
		for _, other := range s.documents {
			if other.IsCorrection && other.StaffID == d.StaffID &&
				other.CorrectionMonth == d.CorrectionMonth &&
				other.CorrectionYear == d.CorrectionYear &&
				other.CorrectionSequence == d.CorrectionSequence {
				return generic.ErrStaleWrite
			}
		}
	}
	s.documents[d.ID] = d.Clone()
	return nil
}

func (s *state) UpdateDocument(_ context.Context, d generic.DocumentRecord, expected generic.Status) error {
	cur, ok := s.documents[d.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "document", ID: string(d.ID)}
	}
	if cur.Status != expected {
		return generic.ErrStaleWrite
	}
	s.documents[d.ID] = d.Clone()
	return nil
}

func (s *state) DocumentsByStaff(_ context.Context, staffID generic.StaffID) ([]generic.DocumentRecord, error) {
	return s.filterDocuments(func(d generic.DocumentRecord) bool { return d.StaffID == staffID }), nil
}

func (s *state) DocumentsByStatus(_ context.Context, statuses ...generic.Status) ([]generic.DocumentRecord, error) {
	want := make(map[generic.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.filterDocuments(func(d generic.DocumentRecord) bool { return want[d.Status] }), nil
}

func (s *state) DocumentsOverlapping(_ context.Context, staffID generic.StaffID, r generic.DateRange) ([]generic.DocumentRecord, error) {
	return s.filterDocuments(func(d generic.DocumentRecord) bool {
		if d.StaffID != staffID {
			return false
		}
		env, ok := generic.Envelope(d.BookedRanges())
		return ok && env.Overlaps(r)
	}), nil
}

func (s *state) MaxCorrectionSequence(_ context.Context, staffID generic.StaffID, month, year int) (int, error) {
	maxSeq := 0
	for _, d := range s.documents {
		if d.IsCorrection && d.StaffID == staffID && d.CorrectionMonth == month && d.CorrectionYear == year {
			maxSeq = max(maxSeq, d.CorrectionSequence)
		}
	}
	return maxSeq, nil
}

func (s *state) filterDocuments(keep func(generic.DocumentRecord) bool) []generic.DocumentRecord {
	var out []generic.DocumentRecord
	for _, d := range s.documents {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) SaveAttendance(_ context.Context, a generic.AttendanceRecord) error {
	marks := s.attendance[a.StaffID]
	for i := range marks {
		if marks[i].ID == a.ID {
			marks[i] = a
			return nil
		}
	}
	s.attendance[a.StaffID] = append(marks, a)
	return nil
}

func (s *state) AttendanceByStaff(_ context.Context, staffID generic.StaffID) ([]generic.AttendanceRecord, error) {
	return append([]generic.AttendanceRecord(nil), s.attendance[staffID]...), nil
}

func (s *state) AttendanceOverlapping(_ context.Context, staffID generic.StaffID, r generic.DateRange) ([]generic.AttendanceRecord, error) {
	var out []generic.AttendanceRecord
	for _, a := range s.attendance[staffID] {
		if a.Range().Overlaps(r) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *state) AppendChanges(_ context.Context, changes []generic.FieldChange) error {
	for _, c := range changes {
		s.history[c.DocumentID] = append(s.history[c.DocumentID], c)
	}
	return nil
}

func (s *state) ChangesByDocument(_ context.Context, id generic.DocumentID) ([]generic.FieldChange, error) {
	return append([]generic.FieldChange(nil), s.history[id]...), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the write lock.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Repository) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.st.snapshot()
	if err := fn(&tm.st); err != nil {
		tm.st = snap
		return err
	}
	return nil
}

func (s *state) snapshot() state {
	cp := newState()
	for k, v := range s.staff {
		cp.staff[k] = v
	}
	for k, v := range s.documents {
		cp.documents[k] = v.Clone()
	}
	for k, v := range s.attendance {
		cp.attendance[k] = append([]generic.AttendanceRecord(nil), v...)
	}
	for k, v := range s.history {
		cp.history[k] = append([]generic.FieldChange(nil), v...)
	}
	for k, v := range s.holidays {
		cp.holidays[k] = v
	}
	return cp
}

var (
	_ generic.TxRepository = (*TxMemory)(nil)
	_ generic.HolidayStore = (*Memory)(nil)
	_ generic.Repository   = (*state)(nil)
)
