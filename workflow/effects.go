package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/notify"
)

// =============================================================================
// PROCESSED SIDE EFFECTS - Run inside the transition's transaction
// =============================================================================

// applyProcessed applies what a document means once it is processed:
//
//	paid leave:      balance -= days (corrections: balance += old - new)
//	unpaid leave:    nothing
//	term extension:  term_end = date_end, previous value kept on the document
//	employment:      staff record created from the snapshot
func (w *Workflow) applyProcessed(ctx context.Context, tx generic.Repository, doc *generic.DocumentRecord, changes *changeSet) error {
	if doc.Type == generic.DocEmployment {
		return w.hire(ctx, tx, doc, changes)
	}

	staff, err := tx.GetStaff(ctx, doc.StaffID)
	if err != nil {
		return err
	}

	now := w.clock()
	switch doc.Type {
	case generic.DocPaidLeave:
		charge := doc.DaysCount
		if doc.IsCorrection {
			corrected, err := tx.GetDocument(ctx, doc.CorrectsID)
			if err != nil {
				return err
			}
			charge = doc.DaysCount - corrected.DaysCount
		}
		if charge > staff.Balance && !doc.BalanceOverride {
			return &generic.ValidationError{Issues: []generic.Issue{{
				Code:        generic.IssueInsufficientBalance,
				Message:     fmt.Sprintf("processing needs %d days, balance is %d", charge, staff.Balance),
				Overridable: true,
			}}}
		}
		if charge == 0 {
			return nil
		}
		changes.addStaff("balance", strconv.Itoa(staff.Balance), strconv.Itoa(staff.Balance-charge))
		staff.Balance -= charge

	case generic.DocTermExtension:
		prior := staff.TermEnd
		doc.PriorTermEnd = &prior
		changes.addStaff("term_end", prior.String(), doc.DateEnd.String())
		staff.TermEnd = doc.DateEnd

	default:
		return nil
	}

	staff.UpdatedAt = now
	return tx.SaveStaff(ctx, staff)
}

// hire creates the staff record an employment document describes and points
// the document at it.
func (w *Workflow) hire(ctx context.Context, tx generic.Repository, doc *generic.DocumentRecord, changes *changeSet) error {
	if doc.StaffID != "" {
		// Corrections of an employment document reuse the existing record.
		return nil
	}
	ne := doc.NewEmployee
	if err := validateSnapshot(ne); err != nil {
		return err
	}

	now := w.clock()
	staff := generic.StaffRecord{
		ID:        generic.NewStaffID(),
		FullName:  ne.FullName,
		Rate:      ne.Rate,
		Balance:   ne.Balance,
		TermStart: ne.TermStart,
		TermEnd:   ne.TermEnd,
		Active:    true,
		ChatID:    ne.ChatID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.SaveStaff(ctx, staff); err != nil {
		return err
	}

	doc.StaffID = staff.ID
	doc.NewEmployee = nil
	changes.staff = staff.ID
	changes.add("staff_id", "", string(staff.ID))
	changes.add("new_employee", ne.FullName, "")

	w.log.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"staff_id":    staff.ID,
	}).Info("staff record created from employment document")
	return nil
}

// =============================================================================
// POST-COMMIT JOBS
// =============================================================================

func (w *Workflow) afterTransition(doc generic.DocumentRecord, from generic.Status) {
	if w.renderer != nil {
		rendered := doc.Clone()
		w.dispatcher.Enqueue(notify.Job{
			Kind:       notify.KindRender,
			DocumentID: string(doc.ID),
			Run: func(ctx context.Context) error {
				_, err := w.renderer.Render(ctx, rendered)
				return err
			},
		})
	}

	template := notify.TemplateStatusChanged
	if doc.Status == generic.StatusProcessed {
		template = notify.TemplateProcessed
	}
	w.notifyLater(doc, template, notify.Payload{
		"document_id": string(doc.ID),
		"from":        string(from),
		"to":          string(doc.Status),
	})
}

// notifyLater queues a message for the document's staff member. Documents
// without one (unprocessed employment) are skipped.
func (w *Workflow) notifyLater(doc generic.DocumentRecord, template string, payload notify.Payload) {
	if doc.StaffID == "" {
		return
	}
	staffID := doc.StaffID
	w.dispatcher.Enqueue(notify.Job{
		Kind:       notify.KindNotify,
		DocumentID: string(doc.ID),
		Run: func(ctx context.Context) error {
			return w.sink.Notify(ctx, staffID, template, payload)
		},
	})
}

// =============================================================================
// AUDIT
// =============================================================================

// changeSet collects the audit entries of one operation.
type changeSet struct {
	doc   generic.DocumentID
	staff generic.StaffID
	actor string
	at    time.Time
	list  []generic.FieldChange
}

func newChangeSet(doc generic.DocumentRecord, actor generic.Actor, at time.Time) *changeSet {
	return &changeSet{doc: doc.ID, staff: doc.StaffID, actor: actor.ID, at: at}
}

func (c *changeSet) add(field, oldValue, newValue string) {
	if oldValue == newValue {
		return
	}
	c.list = append(c.list, generic.FieldChange{
		DocumentID: c.doc,
		StaffID:    c.staff,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		ActorID:    c.actor,
		At:         c.at,
	})
}

// addStaff records a change to the staff record caused by the document.
func (c *changeSet) addStaff(field, oldValue, newValue string) {
	c.add("staff."+field, oldValue, newValue)
}

func (c *changeSet) addInt(field string, oldValue, newValue int) {
	c.add(field, strconv.Itoa(oldValue), strconv.Itoa(newValue))
}

func (c *changeSet) addBool(field string, oldValue, newValue bool) {
	c.add(field, strconv.FormatBool(oldValue), strconv.FormatBool(newValue))
}

func formatRanges(ranges []generic.DateRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
