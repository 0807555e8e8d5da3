// Package render writes document artifacts after a transition commits.
//
// The artifact is a JSON snapshot of the document at the status it just
// entered: the hand-off point for whatever produces the printable form.
// Layout and formatting of the printed document are not done here.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
)

// Renderer produces an artifact for a document and returns its path.
type Renderer interface {
	Render(ctx context.Context, doc generic.DocumentRecord) (string, error)
}

// Artifact is the on-disk form.
type Artifact struct {
	DocumentID   generic.DocumentID   `json:"document_id"`
	StaffID      generic.StaffID      `json:"staff_id,omitempty"`
	Type         generic.DocType      `json:"type"`
	Status       generic.Status       `json:"status"`
	Ranges       []generic.DateRange  `json:"ranges"`
	DateStart    generic.Date         `json:"date_start"`
	DateEnd      generic.Date         `json:"date_end"`
	DaysCount    int                  `json:"days_count"`
	IsCorrection bool                 `json:"is_correction,omitempty"`
	CorrectsID   generic.DocumentID   `json:"corrects_id,omitempty"`
	Sequence     int                  `json:"correction_sequence,omitempty"`
	Reason       string               `json:"correction_reason,omitempty"`
	Employee     *generic.NewEmployee `json:"new_employee,omitempty"`
	PriorTermEnd *generic.Date        `json:"prior_term_end,omitempty"`
	RenderedAt   time.Time            `json:"rendered_at"`
}

func NewArtifact(doc generic.DocumentRecord, at time.Time) Artifact {
	return Artifact{
		DocumentID:   doc.ID,
		StaffID:      doc.StaffID,
		Type:         doc.Type,
		Status:       doc.Status,
		Ranges:       doc.Ranges,
		DateStart:    doc.DateStart,
		DateEnd:      doc.DateEnd,
		DaysCount:    doc.DaysCount,
		IsCorrection: doc.IsCorrection,
		CorrectsID:   doc.CorrectsID,
		Sequence:     doc.CorrectionSequence,
		Reason:       doc.CorrectionReason,
		Employee:     doc.NewEmployee,
		PriorTermEnd: doc.PriorTermEnd,
		RenderedAt:   at.UTC(),
	}
}

// FileRenderer writes <dir>/<document id>/<status>.json.
type FileRenderer struct {
	dir   string
	clock generic.Clock
	log   logrus.FieldLogger
}

func NewFileRenderer(dir string, clock generic.Clock, log logrus.FieldLogger) *FileRenderer {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &FileRenderer{dir: dir, clock: clock, log: log}
}

func (r *FileRenderer) Render(ctx context.Context, doc generic.DocumentRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(NewArtifact(doc, r.clock()), "", "  ")
	if err != nil {
		return "", fmt.Errorf("render %s: %w", doc.ID, err)
	}

	dir := filepath.Join(r.dir, string(doc.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("render %s: %w", doc.ID, err)
	}
	path := filepath.Join(dir, string(doc.Status)+".json")

	// Write then rename so readers never see a partial file.
	tmp, err := os.CreateTemp(dir, ".render-*")
	if err != nil {
		return "", fmt.Errorf("render %s: %w", doc.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("render %s: %w", doc.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("render %s: %w", doc.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("render %s: %w", doc.ID, err)
	}

	r.log.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"status":      doc.Status,
		"path":        path,
	}).Debug("artifact written")
	return path, nil
}
