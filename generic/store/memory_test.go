package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/generic/store"
)

func day(s string) generic.Date { return generic.MustParseDate(s) }

func span(start, end string) generic.DateRange {
	return generic.DateRange{Start: day(start), End: day(end)}
}

func TestMemory_DocumentsAreCopied(t *testing.T) {
	// GIVEN: A stored document
	// WHEN: The caller mutates what it stored and what it read back
	// THEN: The stored copy is unaffected

	ctx := context.Background()
	m := store.NewMemory()

	d := generic.DocumentRecord{ID: "d1", StaffID: "s1", Type: generic.DocPaidLeave, Status: generic.StatusDraft}
	d.SetRanges([]generic.DateRange{span("2025-06-02", "2025-06-04")})
	require.NoError(t, m.CreateDocument(ctx, d))

	d.Ranges[0] = span("2025-07-01", "2025-07-01")
	got, err := m.GetDocument(ctx, "d1")
	require.NoError(t, err)
	got.Ranges[0] = span("2025-08-01", "2025-08-01")

	again, err := m.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, span("2025-06-02", "2025-06-04"), again.Ranges[0])
}

func TestMemory_ConditionalUpdateAndCorrections(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	d := generic.DocumentRecord{ID: "d1", StaffID: "s1", Type: generic.DocPaidLeave, Status: generic.StatusAgreed}
	require.NoError(t, m.CreateDocument(ctx, d))

	d.Status = generic.StatusSignedRector
	assert.ErrorIs(t, m.UpdateDocument(ctx, d, generic.StatusDraft), generic.ErrStaleWrite)
	require.NoError(t, m.UpdateDocument(ctx, d, generic.StatusAgreed))
	assert.True(t, generic.IsNotFound(m.UpdateDocument(ctx, generic.DocumentRecord{ID: "nope"}, generic.StatusDraft)))

	corr := generic.DocumentRecord{
		ID: "c1", StaffID: "s1", Type: generic.DocPaidLeave, Status: generic.StatusDraft,
		IsCorrection: true, CorrectsID: "d1", CorrectionMonth: 6, CorrectionYear: 2025, CorrectionSequence: 1,
	}
	require.NoError(t, m.CreateDocument(ctx, corr))
	corr.ID = "c2"
	assert.ErrorIs(t, m.CreateDocument(ctx, corr), generic.ErrStaleWrite)

	seq, err := m.MaxCorrectionSequence(ctx, "s1", 6, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
}

func TestMemory_QueriesAreOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	t0 := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []generic.DocumentID{"late", "early"} {
		d := generic.DocumentRecord{
			ID: id, StaffID: "s1", Type: generic.DocPaidLeave, Status: generic.StatusAgreed,
			CreatedAt: t0.Add(time.Duration(1-i) * time.Hour),
		}
		d.SetRanges([]generic.DateRange{span("2025-06-02", "2025-06-04")})
		require.NoError(t, m.CreateDocument(ctx, d))
	}

	got, err := m.DocumentsOverlapping(ctx, "s1", span("2025-06-04", "2025-06-04"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, generic.DocumentID("early"), got[0].ID)

	got, err = m.DocumentsOverlapping(ctx, "s1", span("2025-06-05", "2025-06-05"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_AttendanceUpsertsByID(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	a := generic.AttendanceRecord{ID: "a1", StaffID: "s1", DateStart: day("2025-06-02"), Code: generic.AttendanceSick}
	require.NoError(t, m.SaveAttendance(ctx, a))
	a.Code = generic.AttendanceBusiness
	require.NoError(t, m.SaveAttendance(ctx, a))

	all, err := m.AttendanceByStaff(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, generic.AttendanceBusiness, all[0].Code)
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()
	boom := errors.New("boom")

	err := tm.WithTx(ctx, func(tx generic.Repository) error {
		require.NoError(t, tx.SaveStaff(ctx, generic.StaffRecord{ID: "s1", FullName: "Ada"}))
		require.NoError(t, tx.AppendChanges(ctx, []generic.FieldChange{{DocumentID: "d1", Field: "status"}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = tm.GetStaff(ctx, "s1")
	assert.True(t, generic.IsNotFound(err))
	history, err := tm.ChangesByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, tm.WithTx(ctx, func(tx generic.Repository) error {
		return tx.SaveStaff(ctx, generic.StaffRecord{ID: "s1", FullName: "Ada"})
	}))
	_, err = tm.GetStaff(ctx, "s1")
	assert.NoError(t, err)
}

func TestMemory_Holidays(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveHolidays(ctx, []generic.Holiday{
		{Date: day("2025-06-12")}, {Date: day("2025-01-01")}, {Date: day("2026-01-01")},
	}))

	got, err := m.ListHolidays(ctx, day("2025-01-01"), day("2025-12-31"))
	require.NoError(t, err)
	assert.Equal(t, []generic.Holiday{{Date: day("2025-01-01")}, {Date: day("2025-06-12")}}, got)
}
