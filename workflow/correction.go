package workflow

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/notify"
)

// CreateCorrection drafts a replacement for a processed document. The
// original stays untouched; once the correction leaves draft it supersedes
// the original on the calendar, and processing it applies the difference.
//
// Corrections are numbered per staff member and affected month (the month
// the original starts in), starting at 1.
func (w *Workflow) CreateCorrection(ctx context.Context, id generic.DocumentID, ranges []generic.DateRange, reason string, actor generic.Actor) (generic.DocumentRecord, error) {
	if err := generic.ValidateRanges(ranges); err != nil {
		return generic.DocumentRecord{}, &generic.ValidationError{Issues: []generic.Issue{{Code: generic.IssueInvalidRange, Message: err.Error()}}}
	}

	var corr generic.DocumentRecord
	err := w.repo.WithTx(ctx, func(tx generic.Repository) error {
		orig, err := tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if orig.Status != generic.StatusProcessed {
			return &generic.StatusError{DocumentID: id, Current: orig.Status, Reason: "only processed documents can be corrected"}
		}
		if orig.Type == generic.DocEmployment {
			return generic.NewValidationError(generic.IssueInvalidRange, "employment documents cannot be corrected")
		}

		siblings, err := tx.DocumentsByStaff(ctx, orig.StaffID)
		if err != nil {
			return err
		}
		for _, d := range siblings {
			if d.IsCorrection && d.CorrectsID == orig.ID && d.Status != generic.StatusDraft {
				return &generic.StatusError{
					DocumentID: id, Current: orig.Status,
					Reason: "already corrected by " + string(d.ID) + "; correct that document instead",
				}
			}
		}

		if orig.Type.IsLeave() {
			conflicts, err := w.index.Bind(tx).Conflicts(ctx, orig.StaffID, ranges, orig.ID)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return &generic.ConflictError{Conflicts: conflicts}
			}
		}

		month, year := int(orig.DateStart.Month()), orig.DateStart.Year()
		seq, err := tx.MaxCorrectionSequence(ctx, orig.StaffID, month, year)
		if err != nil {
			return err
		}

		now := w.clock()
		corr = generic.DocumentRecord{
			ID:                 generic.NewDocumentID(),
			StaffID:            orig.StaffID,
			Type:               orig.Type,
			Status:             generic.StatusDraft,
			StatusChangedAt:    now,
			IsCorrection:       true,
			CorrectsID:         orig.ID,
			CorrectionMonth:    month,
			CorrectionYear:     year,
			CorrectionSequence: seq + 1,
			CorrectionReason:   reason,
			CreatedBy:          actor.ID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		corr.SetRanges(ranges)
		if err := tx.CreateDocument(ctx, corr); err != nil {
			return err
		}

		changes := newChangeSet(corr, actor, now)
		changes.add("status", "", string(corr.Status))
		changes.add("corrects_id", "", string(orig.ID))
		changes.add("ranges", formatRanges(orig.Ranges), formatRanges(corr.Ranges))
		return tx.AppendChanges(ctx, changes.list)
	})
	if err != nil {
		return generic.DocumentRecord{}, err
	}

	w.log.WithFields(logrus.Fields{
		"document_id": corr.ID,
		"corrects_id": id,
		"sequence":    corr.CorrectionSequence,
		"actor":       actor.ID,
	}).Info("correction created")

	w.notifyLater(corr, notify.TemplateCorrectionCreated, notify.Payload{
		"document_id": string(corr.ID),
		"corrects_id": string(id),
		"sequence":    strconv.Itoa(corr.CorrectionSequence),
	})
	return corr, nil
}
