package render_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/render"
)

func TestFileRenderer_WritesOneFilePerStatus(t *testing.T) {
	// GIVEN: A correction document moving through two statuses
	// WHEN: Rendering it at each status
	// THEN: One JSON artifact per status, holding the document as it was

	dir := t.TempDir()
	at := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	log, _ := test.NewNullLogger()
	r := render.NewFileRenderer(dir, generic.FixedClock(at), log)

	doc := generic.DocumentRecord{
		ID:                 "d1",
		StaffID:            "s1",
		Type:               generic.DocPaidLeave,
		Status:             generic.StatusSignedByApplicant,
		IsCorrection:       true,
		CorrectsID:         "d0",
		CorrectionSequence: 2,
		CorrectionReason:   "wrong dates",
	}
	doc.SetRanges([]generic.DateRange{{Start: generic.MustParseDate("2025-06-02"), End: generic.MustParseDate("2025-06-04")}})

	path, err := r.Render(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "d1", "signed_by_applicant.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got render.Artifact
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, generic.DocumentID("d1"), got.DocumentID)
	assert.Equal(t, generic.StatusSignedByApplicant, got.Status)
	assert.Equal(t, doc.Ranges, got.Ranges)
	assert.Equal(t, 3, got.DaysCount)
	assert.Equal(t, 2, got.Sequence)
	assert.Equal(t, "wrong dates", got.Reason)
	assert.True(t, at.Equal(got.RenderedAt))

	doc.Status = generic.StatusApprovedByDispatcher
	_, err = r.Render(context.Background(), doc)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "d1"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"approved_by_dispatcher.json", "signed_by_applicant.json"}, names, "no temp files left behind")
}

func TestFileRenderer_HonoursCancellation(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := render.NewFileRenderer(t.TempDir(), nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Render(ctx, generic.DocumentRecord{ID: "d1", Status: generic.StatusDraft})
	assert.ErrorIs(t, err, context.Canceled)
}
