/*
Package workflow moves documents through the approval chain.

PURPOSE:
  Every change to a document goes through here: creating drafts, editing
  dates, forward transitions, rollback, corrections and stale handling.
  Each operation is one repository transaction.

STATUS CHAIN:
  draft → signed_by_applicant → approved_by_dispatcher → signed_dep_head
        → agreed → signed_rector → scanned → processed

  Only the single next status is reachable. Rollback returns any status
  strictly between draft and scanned to draft. scanned and processed block
  the document: its dates can no longer change.

GATES:
  - entering signed_by_applicant runs the full validator
  - entering processed re-checks the balance and applies side effects
    (see effects.go)

CONCURRENCY:
  The document is re-read inside the transaction and its status compared
  with the expected source status. The write itself is conditional on that
  status too (UpdateDocument), so a second caller acting on a stale read
  gets a StatusError instead of applying a side effect twice.

AFTER COMMIT:
  Rendering and notifications are queued on the Dispatcher only after the
  transaction commits. Their failures never undo the transition.

SEE ALSO:
  - effects.go: processed side effects, post-commit jobs, audit entries
  - correction.go: CreateCorrection
  - stale.go: stale detection, explanation, scanner
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/leave"
	"github.com/warp/staffdocs/metrics"
	"github.com/warp/staffdocs/notify"
	"github.com/warp/staffdocs/render"
)

// Dispatcher queues post-commit jobs.
type Dispatcher interface {
	Enqueue(job notify.Job) bool
}

// Deps are the collaborators of a Workflow. Repo and Validator are
// required; the rest have defaults.
type Deps struct {
	Repo       generic.TxRepository
	Validator  *leave.Validator
	Renderer   render.Renderer
	Sink       notify.Sink
	Dispatcher Dispatcher
	Clock      generic.Clock
	Log        logrus.FieldLogger
	Metrics    *metrics.Metrics

	// StaleAfter is how long a document may sit in one approval status.
	StaleAfter time.Duration
}

type Workflow struct {
	repo       generic.TxRepository
	validator  *leave.Validator
	index      *leave.AvailabilityIndex
	renderer   render.Renderer
	sink       notify.Sink
	dispatcher Dispatcher
	clock      generic.Clock
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	staleAfter time.Duration
}

// DefaultStaleAfter is one day.
const DefaultStaleAfter = 24 * time.Hour

func New(d Deps) *Workflow {
	w := &Workflow{
		repo:       d.Repo,
		validator:  d.Validator,
		index:      leave.NewAvailabilityIndex(d.Repo),
		renderer:   d.Renderer,
		sink:       d.Sink,
		dispatcher: d.Dispatcher,
		clock:      d.Clock,
		log:        d.Log,
		metrics:    d.Metrics,
		staleAfter: d.StaleAfter,
	}
	if w.log == nil {
		w.log = logrus.StandardLogger()
	}
	if w.clock == nil {
		w.clock = generic.SystemClock
	}
	if w.sink == nil {
		w.sink = notify.NewLogSink(w.log)
	}
	if w.dispatcher == nil {
		w.dispatcher = notify.Immediate{Log: w.log, Metrics: w.metrics}
	}
	if w.staleAfter <= 0 {
		w.staleAfter = DefaultStaleAfter
	}
	return w
}

// =============================================================================
// READS
// =============================================================================

func (w *Workflow) Get(ctx context.Context, id generic.DocumentID) (generic.DocumentRecord, error) {
	return w.repo.GetDocument(ctx, id)
}

// History lists the audit entries of a document, oldest first.
func (w *Workflow) History(ctx context.Context, id generic.DocumentID) ([]generic.FieldChange, error) {
	if _, err := w.repo.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return w.repo.ChangesByDocument(ctx, id)
}

// Check validates new dates for an existing document without storing
// anything. The document itself and anything it corrects are ignored when
// looking for conflicts.
func (w *Workflow) Check(ctx context.Context, id generic.DocumentID, ranges []generic.DateRange, override bool) (generic.ValidationResult, error) {
	doc, err := w.repo.GetDocument(ctx, id)
	if err != nil {
		return generic.ValidationResult{}, err
	}
	req, err := requestFor(ctx, w.repo, doc, ranges, override)
	if err != nil {
		return generic.ValidationResult{}, err
	}
	return w.validator.Validate(ctx, req)
}

// =============================================================================
// DRAFTS & EDITS
// =============================================================================

// DraftRequest describes a new document.
type DraftRequest struct {
	StaffID     generic.StaffID
	Type        generic.DocType
	Ranges      []generic.DateRange
	Override    bool
	NewEmployee *generic.NewEmployee
}

// CreateDraft stores a new document in draft. Drafts do not occupy the
// calendar, so only the shape of the request is checked here.
func (w *Workflow) CreateDraft(ctx context.Context, req DraftRequest, actor generic.Actor) (generic.DocumentRecord, error) {
	if !req.Type.Valid() {
		return generic.DocumentRecord{}, generic.NewValidationError(generic.IssueInvalidRange, "unknown document type %q", req.Type)
	}

	ranges := req.Ranges
	if req.Type == generic.DocEmployment {
		if req.StaffID != "" {
			return generic.DocumentRecord{}, generic.NewValidationError(generic.IssueInvalidRange,
				"employment documents create their staff record; staff id must be empty")
		}
		if err := validateSnapshot(req.NewEmployee); err != nil {
			return generic.DocumentRecord{}, err
		}
		if len(ranges) == 0 {
			ranges = []generic.DateRange{req.NewEmployee.Term()}
		}
	} else if req.NewEmployee != nil {
		return generic.DocumentRecord{}, generic.NewValidationError(generic.IssueInvalidRange,
			"only employment documents carry a new employee snapshot")
	}
	if err := generic.ValidateRanges(ranges); err != nil {
		return generic.DocumentRecord{}, &generic.ValidationError{Issues: []generic.Issue{{Code: generic.IssueInvalidRange, Message: err.Error()}}}
	}

	now := w.clock()
	doc := generic.DocumentRecord{
		ID:              generic.NewDocumentID(),
		StaffID:         req.StaffID,
		Type:            req.Type,
		Status:          generic.StatusDraft,
		StatusChangedAt: now,
		BalanceOverride: req.Override,
		NewEmployee:     req.NewEmployee,
		CreatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	doc.SetRanges(ranges)

	err := w.repo.WithTx(ctx, func(tx generic.Repository) error {
		if doc.StaffID != "" {
			if _, err := tx.GetStaff(ctx, doc.StaffID); err != nil {
				return err
			}
		}
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return err
		}
		changes := newChangeSet(doc, actor, now)
		changes.add("status", "", string(doc.Status))
		changes.add("ranges", "", formatRanges(doc.Ranges))
		return tx.AppendChanges(ctx, changes.list)
	})
	if err != nil {
		return generic.DocumentRecord{}, err
	}

	w.log.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"staff_id":    doc.StaffID,
		"type":        doc.Type,
		"days":        doc.DaysCount,
	}).Info("draft created")
	return doc, nil
}

// UpdateDates replaces the ranges of a document that is not yet blocked.
// Documents past draft are re-validated with themselves excluded. The
// override flag is replaced by the one given here: an override covers only
// the dates it was given for.
func (w *Workflow) UpdateDates(ctx context.Context, id generic.DocumentID, ranges []generic.DateRange, override bool, actor generic.Actor) (generic.DocumentRecord, error) {
	if err := generic.ValidateRanges(ranges); err != nil {
		return generic.DocumentRecord{}, &generic.ValidationError{Issues: []generic.Issue{{Code: generic.IssueInvalidRange, Message: err.Error()}}}
	}

	var doc generic.DocumentRecord
	err := w.repo.WithTx(ctx, func(tx generic.Repository) error {
		var err error
		doc, err = tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if doc.IsBlocked || !doc.Status.Before(generic.StatusScanned) {
			return &generic.StatusError{DocumentID: id, Current: doc.Status, Reason: "dates are frozen once scanned"}
		}

		if doc.Status != generic.StatusDraft {
			req, err := requestFor(ctx, tx, doc, ranges, override)
			if err != nil {
				return err
			}
			res, err := w.validator.Bind(tx).Validate(ctx, req)
			if err != nil {
				return err
			}
			if err := res.Err(); err != nil {
				return err
			}
		}

		now := w.clock()
		before := doc.Clone()
		doc.SetRanges(ranges)
		doc.BalanceOverride = override
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, doc, before.Status); err != nil {
			return err
		}

		changes := newChangeSet(doc, actor, now)
		changes.add("ranges", formatRanges(before.Ranges), formatRanges(doc.Ranges))
		changes.addInt("days_count", before.DaysCount, doc.DaysCount)
		changes.addBool("balance_override", before.BalanceOverride, doc.BalanceOverride)
		return tx.AppendChanges(ctx, changes.list)
	})
	if err != nil {
		return generic.DocumentRecord{}, staleAsStatus(err, id, doc.Status, "")
	}
	return doc, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Transition moves the document to target, which must be the immediate
// successor of its current status.
func (w *Workflow) Transition(ctx context.Context, id generic.DocumentID, target generic.Status, actor generic.Actor) (generic.DocumentRecord, error) {
	var (
		doc  generic.DocumentRecord
		from generic.Status
	)
	err := w.repo.WithTx(ctx, func(tx generic.Repository) error {
		var err error
		doc, err = tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		from = doc.Status

		prev, ok := target.Prev()
		if !target.Valid() || !ok || doc.Status != prev {
			return &generic.StatusError{DocumentID: id, Current: doc.Status, Target: target, Reason: "not the next status"}
		}

		now := w.clock()
		changes := newChangeSet(doc, actor, now)

		switch target {
		case generic.StatusSignedByApplicant:
			if err := w.checkSubmission(ctx, tx, doc); err != nil {
				return err
			}
		case generic.StatusProcessed:
			if err := w.applyProcessed(ctx, tx, &doc, changes); err != nil {
				return err
			}
		}

		doc.Status = target
		doc.StatusChangedAt = now
		doc.IsBlocked = target.Blocks()
		doc.StaleExplanation = ""
		doc.NotificationCount = 0
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, doc, from); err != nil {
			return err
		}

		changes.add("status", string(from), string(target))
		if doc.IsBlocked && target == generic.StatusScanned {
			changes.addBool("is_blocked", false, true)
		}
		return tx.AppendChanges(ctx, changes.list)
	})

	entry := w.log.WithFields(logrus.Fields{
		"document_id": id,
		"from":        from,
		"to":          target,
		"actor":       actor.ID,
	})
	if err != nil {
		w.metrics.Transition(string(from), string(target), resultLabel(err))
		entry.WithError(err).Warn("transition rejected")
		return generic.DocumentRecord{}, staleAsStatus(err, id, from, target)
	}
	w.metrics.Transition(string(from), string(target), "ok")
	entry.Info("document transitioned")

	w.afterTransition(doc, from)
	return doc, nil
}

// checkSubmission runs the validator when a document leaves draft.
func (w *Workflow) checkSubmission(ctx context.Context, tx generic.Repository, doc generic.DocumentRecord) error {
	if doc.Type == generic.DocEmployment && doc.StaffID == "" {
		if err := validateSnapshot(doc.NewEmployee); err != nil {
			return err
		}
	}
	req, err := requestFor(ctx, tx, doc, doc.BookedRanges(), doc.BalanceOverride)
	if err != nil {
		return err
	}
	res, err := w.validator.Bind(tx).Validate(ctx, req)
	if err != nil {
		return err
	}
	return res.Err()
}

// Rollback returns a document that is still in approval to draft.
func (w *Workflow) Rollback(ctx context.Context, id generic.DocumentID, actor generic.Actor) (generic.DocumentRecord, error) {
	var (
		doc  generic.DocumentRecord
		from generic.Status
	)
	err := w.repo.WithTx(ctx, func(tx generic.Repository) error {
		var err error
		doc, err = tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		from = doc.Status
		if !doc.Status.InApproval() {
			return &generic.StatusError{
				DocumentID: id, Current: doc.Status, Target: generic.StatusDraft,
				Reason: "rollback is only possible after draft and before scanned",
			}
		}

		now := w.clock()
		doc.Status = generic.StatusDraft
		doc.StatusChangedAt = now
		doc.IsBlocked = false
		doc.StaleExplanation = ""
		doc.NotificationCount = 0
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, doc, from); err != nil {
			return err
		}

		changes := newChangeSet(doc, actor, now)
		changes.add("status", string(from), string(generic.StatusDraft))
		return tx.AppendChanges(ctx, changes.list)
	})

	if err != nil {
		w.metrics.Transition(string(from), string(generic.StatusDraft), resultLabel(err))
		return generic.DocumentRecord{}, staleAsStatus(err, id, from, generic.StatusDraft)
	}
	w.metrics.Transition(string(from), string(generic.StatusDraft), "ok")
	w.log.WithFields(logrus.Fields{
		"document_id": id,
		"from":        from,
		"actor":       actor.ID,
	}).Info("document rolled back")

	w.notifyLater(doc, notify.TemplateRolledBack, notify.Payload{
		"document_id": string(doc.ID),
		"from":        string(from),
	})
	return doc, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// requestFor builds the validator request for doc with the given dates.
func requestFor(ctx context.Context, tx generic.Repository, doc generic.DocumentRecord, ranges []generic.DateRange, override bool) (leave.Request, error) {
	req := leave.Request{
		StaffID:          doc.StaffID,
		Ranges:           ranges,
		DocType:          doc.Type,
		Override:         override,
		ExcludeDocuments: excludedFor(doc),
	}
	if doc.IsCorrection && doc.Type == generic.DocPaidLeave {
		corrected, err := tx.GetDocument(ctx, doc.CorrectsID)
		if err != nil {
			return leave.Request{}, err
		}
		req.Credit = corrected.DaysCount
	}
	return req, nil
}

// excludedFor lists the documents a re-check of doc must ignore: doc
// itself and, for a correction, the document it replaces.
func excludedFor(doc generic.DocumentRecord) []generic.DocumentID {
	ids := []generic.DocumentID{doc.ID}
	if doc.IsCorrection && doc.CorrectsID != "" {
		ids = append(ids, doc.CorrectsID)
	}
	return ids
}

func validateSnapshot(ne *generic.NewEmployee) error {
	if ne == nil {
		return generic.NewValidationError(generic.IssueUnknownStaff, "employment documents need a new employee snapshot")
	}
	var issues []generic.Issue
	if ne.FullName == "" {
		issues = append(issues, generic.Issue{Code: generic.IssueUnknownStaff, Message: "full name is required"})
	}
	if !generic.ValidRate(ne.Rate) {
		issues = append(issues, generic.Issue{Code: generic.IssueUnknownStaff, Message: fmt.Sprintf("rate %s is outside (0, 1]", ne.Rate)})
	}
	if ne.Balance < 0 {
		issues = append(issues, generic.Issue{Code: generic.IssueUnknownStaff, Message: "balance cannot be negative"})
	}
	if !ne.Term().Valid() {
		issues = append(issues, generic.Issue{Code: generic.IssueInvalidRange, Message: fmt.Sprintf("contract term %s is invalid", ne.Term())})
	}
	if len(issues) > 0 {
		return &generic.ValidationError{Issues: issues}
	}
	return nil
}

// staleAsStatus turns a lost conditional write into the StatusError the
// caller expects: the document is no longer where they thought it was.
func staleAsStatus(err error, id generic.DocumentID, current, target generic.Status) error {
	if errors.Is(err, generic.ErrStaleWrite) {
		return &generic.StatusError{DocumentID: id, Current: current, Target: target, Reason: "document changed concurrently"}
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, generic.ErrStatus), errors.Is(err, generic.ErrStaleWrite):
		return "status_error"
	case errors.Is(err, generic.ErrConflict):
		return "conflict"
	case errors.Is(err, generic.ErrValidation):
		return "invalid"
	case generic.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
