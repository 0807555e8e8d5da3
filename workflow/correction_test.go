package workflow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/notify"
)

func TestCreateCorrection_OnlyForProcessedDocuments(t *testing.T) {
	f := newFixture(t)
	s := f.addStaff(t, 20)
	doc := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-01", "2025-07-05"))
	f.advance(t, doc.ID, generic.StatusScanned)

	_, err := f.wf.CreateCorrection(f.ctx, doc.ID, []generic.DateRange{span("2025-07-01", "2025-07-03")}, "fewer days", clerk)
	requireStatusError(t, err)
}

func TestCreateCorrection_NumbersPerMonth(t *testing.T) {
	// GIVEN: Two processed documents starting in July and one in August
	// WHEN: Each is corrected
	// THEN: July corrections are numbered 1 and 2, August starts again at 1

	f := newFixture(t)
	s := f.addStaff(t, 30)
	julyA := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-01", "2025-07-03"))
	julyB := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-20", "2025-07-22"))
	august := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-08-10", "2025-08-11"))
	for _, d := range []generic.DocumentRecord{julyA, julyB, august} {
		f.advance(t, d.ID, generic.StatusProcessed)
	}

	c1, err := f.wf.CreateCorrection(f.ctx, julyA.ID, []generic.DateRange{span("2025-07-01", "2025-07-02")}, "one day less", clerk)
	require.NoError(t, err)
	c2, err := f.wf.CreateCorrection(f.ctx, julyB.ID, []generic.DateRange{span("2025-07-20", "2025-07-21")}, "one day less", clerk)
	require.NoError(t, err)
	c3, err := f.wf.CreateCorrection(f.ctx, august.ID, []generic.DateRange{span("2025-08-10", "2025-08-10")}, "one day less", clerk)
	require.NoError(t, err)

	assert.Equal(t, 1, c1.CorrectionSequence)
	assert.Equal(t, 2, c2.CorrectionSequence)
	assert.Equal(t, 1, c3.CorrectionSequence)
	assert.Equal(t, 7, c1.CorrectionMonth)
	assert.Equal(t, 2025, c1.CorrectionYear)
	assert.True(t, c1.IsCorrection)
	assert.Equal(t, julyA.ID, c1.CorrectsID)
	assert.Equal(t, generic.StatusDraft, c1.Status)
	assert.Contains(t, f.sink.templates(), notify.TemplateCorrectionCreated)
}

func TestCreateCorrection_MayReuseTheOriginalDates(t *testing.T) {
	f := newFixture(t)
	s := f.addStaff(t, 20)
	orig := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-01", "2025-07-05"))
	f.advance(t, orig.ID, generic.StatusProcessed)

	corr, err := f.wf.CreateCorrection(f.ctx, orig.ID, []generic.DateRange{span("2025-07-03", "2025-07-08")}, "shifted", clerk)
	require.NoError(t, err)

	// Submitting is checked with the original excluded as well.
	_, err = f.wf.Transition(f.ctx, corr.ID, generic.StatusSignedByApplicant, clerk)
	assert.NoError(t, err)
}

func TestCreateCorrection_RejectsConflictsWithOtherDocuments(t *testing.T) {
	f := newFixture(t)
	s := f.addStaff(t, 20)
	orig := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-01", "2025-07-05"))
	other := f.draft(t, s.ID, generic.DocUnpaidLeave, span("2025-07-10", "2025-07-12"))
	f.advance(t, orig.ID, generic.StatusProcessed)
	f.advance(t, other.ID, generic.StatusSignedByApplicant)

	_, err := f.wf.CreateCorrection(f.ctx, orig.ID, []generic.DateRange{span("2025-07-04", "2025-07-10")}, "longer", clerk)
	var ce *generic.ConflictError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, string(other.ID), ce.Conflicts[0].OriginID)
}

func TestCorrection_ProcessedAdjustsBalanceByDifference(t *testing.T) {
	// GIVEN: 5 days of paid leave processed from a balance of 7 (2 left)
	// WHEN: A correction to 6 days is processed
	// THEN: Only the extra day is charged: balance 1
	//   AND: The submission is checked against the difference, not 6 days

	f := newFixture(t)
	s := f.addStaff(t, 7)
	orig := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-01", "2025-07-05"))
	f.advance(t, orig.ID, generic.StatusProcessed)
	require.Equal(t, 2, f.staff(t, s.ID).Balance)

	corr, err := f.wf.CreateCorrection(f.ctx, orig.ID, []generic.DateRange{span("2025-07-01", "2025-07-06")}, "one more day", clerk)
	require.NoError(t, err)
	f.advance(t, corr.ID, generic.StatusProcessed)

	assert.Equal(t, 1, f.staff(t, s.ID).Balance)
}

func TestCorrection_ShorterLeaveRefundsDays(t *testing.T) {
	f := newFixture(t)
	s := f.addStaff(t, 10)
	orig := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-01", "2025-07-05"))
	f.advance(t, orig.ID, generic.StatusProcessed)

	corr, err := f.wf.CreateCorrection(f.ctx, orig.ID, []generic.DateRange{span("2025-07-01", "2025-07-02")}, "came back early", clerk)
	require.NoError(t, err)
	f.advance(t, corr.ID, generic.StatusProcessed)

	assert.Equal(t, 8, f.staff(t, s.ID).Balance)
}

func TestCorrection_TermExtensionMovesTermEnd(t *testing.T) {
	f := newFixture(t)
	s := f.addStaff(t, 10)
	ext := f.draft(t, s.ID, generic.DocTermExtension, span("2026-01-01", "2026-06-30"))
	f.advance(t, ext.ID, generic.StatusProcessed)
	require.Equal(t, day("2026-06-30"), f.staff(t, s.ID).TermEnd)

	corr, err := f.wf.CreateCorrection(f.ctx, ext.ID, []generic.DateRange{span("2026-01-01", "2026-03-31")}, "shorter extension", clerk)
	require.NoError(t, err)
	processed := f.advance(t, corr.ID, generic.StatusProcessed)

	assert.Equal(t, day("2026-03-31"), f.staff(t, s.ID).TermEnd)
	require.NotNil(t, processed.PriorTermEnd)
	assert.Equal(t, day("2026-06-30"), *processed.PriorTermEnd)
}

func TestCreateCorrection_SupersededOriginalIsRejected(t *testing.T) {
	// GIVEN: A processed document whose correction has left draft
	// WHEN: Another correction of the original is requested
	// THEN: StatusError; the correction itself has to be corrected instead

	f := newFixture(t)
	s := f.addStaff(t, 20)
	orig := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-01", "2025-07-05"))
	f.advance(t, orig.ID, generic.StatusProcessed)

	corr, err := f.wf.CreateCorrection(f.ctx, orig.ID, []generic.DateRange{span("2025-07-01", "2025-07-04")}, "first", clerk)
	require.NoError(t, err)
	f.advance(t, corr.ID, generic.StatusSignedByApplicant)

	_, err = f.wf.CreateCorrection(f.ctx, orig.ID, []generic.DateRange{span("2025-07-01", "2025-07-03")}, "second", clerk)
	requireStatusError(t, err)
}

func TestCreateCorrection_SupersededOriginalFreesItsDates(t *testing.T) {
	// GIVEN: 2025-07-01..05 processed, then corrected to 07-01..02 and submitted
	// WHEN: Another document asks for 07-04
	// THEN: No conflict: only the correction's dates are booked

	f := newFixture(t)
	s := f.addStaff(t, 20)
	orig := f.draft(t, s.ID, generic.DocPaidLeave, span("2025-07-01", "2025-07-05"))
	f.advance(t, orig.ID, generic.StatusProcessed)
	corr, err := f.wf.CreateCorrection(f.ctx, orig.ID, []generic.DateRange{span("2025-07-01", "2025-07-02")}, "shorter", clerk)
	require.NoError(t, err)
	f.advance(t, corr.ID, generic.StatusSignedByApplicant)

	other := f.draft(t, s.ID, generic.DocUnpaidLeave, span("2025-07-04", "2025-07-04"))
	_, err = f.wf.Transition(f.ctx, other.ID, generic.StatusSignedByApplicant, clerk)
	assert.NoError(t, err)
}
