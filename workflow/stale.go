/*
stale.go - Documents stuck in approval

PURPOSE:
  A document is stale when it sits in one approval status (after draft,
  before scanned) longer than the threshold. Stale documents get periodic
  reminders; someone may attach an explanation, and resolving the episode
  clears both and restarts the clock.

USAGE:
  scanner := NewStaleScanner(wf, log)
  scanner.Start()
  // ... later
  scanner.Stop()

SEE ALSO:
  - workflow.go: transitions reset the stale fields too
  - notify/notify.go: TemplateStaleReminder
*/
package workflow

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/notify"
)

// IsStale reports whether doc has been waiting in its approval status for
// longer than after.
func IsStale(doc generic.DocumentRecord, now time.Time, after time.Duration) bool {
	if !doc.Status.InApproval() {
		return false
	}
	return now.Sub(doc.StatusChangedAt) > after
}

func (w *Workflow) IsStale(doc generic.DocumentRecord) bool {
	return IsStale(doc, w.clock(), w.staleAfter)
}

// StaleDocuments lists every stale document.
func (w *Workflow) StaleDocuments(ctx context.Context) ([]generic.DocumentRecord, error) {
	docs, err := w.repo.DocumentsByStatus(ctx, approvalStatuses()...)
	if err != nil {
		return nil, err
	}
	now := w.clock()
	var out []generic.DocumentRecord
	for _, d := range docs {
		if IsStale(d, now, w.staleAfter) {
			out = append(out, d)
		}
	}
	return out, nil
}

// ExplainStale attaches an explanation to a stale document.
func (w *Workflow) ExplainStale(ctx context.Context, id generic.DocumentID, text string, actor generic.Actor) (generic.DocumentRecord, error) {
	if text == "" {
		return generic.DocumentRecord{}, generic.NewValidationError(generic.IssueInvalidRange, "explanation must not be empty")
	}
	return w.updateStale(ctx, id, actor, "document is not stale", func(doc *generic.DocumentRecord, changes *changeSet) {
		changes.add("stale_explanation", doc.StaleExplanation, text)
		doc.StaleExplanation = text
	})
}

// IncrementNotification counts one more reminder for a stale document.
func (w *Workflow) IncrementNotification(ctx context.Context, id generic.DocumentID) (generic.DocumentRecord, error) {
	return w.updateStale(ctx, id, generic.SystemActor, "document is not stale", func(doc *generic.DocumentRecord, changes *changeSet) {
		changes.addInt("notification_count", doc.NotificationCount, doc.NotificationCount+1)
		doc.NotificationCount++
	})
}

// ResolveStale ends a stale episode: the explanation and reminder count are
// cleared and the status clock restarts.
func (w *Workflow) ResolveStale(ctx context.Context, id generic.DocumentID, actor generic.Actor) (generic.DocumentRecord, error) {
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
			return &generic.StatusError{DocumentID: id, Current: doc.Status, Reason: "only documents in approval can be resolved"}
		}

		now := w.clock()
		changes := newChangeSet(doc, actor, now)
		changes.add("stale_explanation", doc.StaleExplanation, "")
		changes.addInt("notification_count", doc.NotificationCount, 0)
		changes.add("status_changed_at", doc.StatusChangedAt.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))

		doc.StaleExplanation = ""
		doc.NotificationCount = 0
		doc.StatusChangedAt = now
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, doc, from); err != nil {
			return err
		}
		return tx.AppendChanges(ctx, changes.list)
	})
	if err != nil {
		return generic.DocumentRecord{}, staleAsStatus(err, id, from, "")
	}
	return doc, nil
}

// updateStale applies fn to a document that must currently be stale.
func (w *Workflow) updateStale(ctx context.Context, id generic.DocumentID, actor generic.Actor, reason string, fn func(*generic.DocumentRecord, *changeSet)) (generic.DocumentRecord, error) {
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

		now := w.clock()
		if !IsStale(doc, now, w.staleAfter) {
			return &generic.StatusError{DocumentID: id, Current: doc.Status, Reason: reason}
		}

		changes := newChangeSet(doc, actor, now)
		fn(&doc, changes)
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, doc, from); err != nil {
			return err
		}
		return tx.AppendChanges(ctx, changes.list)
	})
	if err != nil {
		return generic.DocumentRecord{}, staleAsStatus(err, id, from, "")
	}
	return doc, nil
}

// ScanStale sends one reminder per stale document and returns how many
// were found. A document that stopped being stale between the listing and
// its update is skipped.
func (w *Workflow) ScanStale(ctx context.Context) (int, error) {
	docs, err := w.StaleDocuments(ctx)
	if err != nil {
		return 0, err
	}
	w.metrics.StaleDocuments(len(docs))

	reminded := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return reminded, err
		}
		updated, err := w.IncrementNotification(ctx, d.ID)
		if err != nil {
			w.log.WithError(err).WithField("document_id", d.ID).Warn("stale reminder skipped")
			continue
		}
		reminded++
		w.notifyLater(updated, notify.TemplateStaleReminder, notify.Payload{
			"document_id": string(updated.ID),
			"status":      string(updated.Status),
			"since":       updated.StatusChangedAt.UTC().Format(time.RFC3339),
			"count":       strconv.Itoa(updated.NotificationCount),
		})
	}
	return reminded, nil
}

func approvalStatuses() []generic.Status {
	var out []generic.Status
	for _, s := range generic.StatusChain {
		if s.InApproval() {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// STALE SCANNER - Background reminders
// =============================================================================

// StaleScanner runs ScanStale on an interval.
type StaleScanner struct {
	Workflow *Workflow
	Interval time.Duration
	Enabled  bool

	log    logrus.FieldLogger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewStaleScanner(wf *Workflow, log logrus.FieldLogger) *StaleScanner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StaleScanner{
		Workflow: wf,
		Interval: time.Hour,
		Enabled:  true,
		log:      log,
	}
}

// Start begins scanning. The first scan runs immediately.
func (s *StaleScanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("stale scanner disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.WithField("interval", s.Interval).Info("stale scanner started")
}

func (s *StaleScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("stale scanner stopped")
	}
}

// RunNow scans once on the caller's goroutine.
func (s *StaleScanner) RunNow(ctx context.Context) (int, error) {
	return s.Workflow.ScanStale(ctx)
}

func (s *StaleScanner) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.scan(ctx)
	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-stop:
			return
		}
	}
}

func (s *StaleScanner) scan(ctx context.Context) {
	n, err := s.Workflow.ScanStale(ctx)
	if err != nil {
		s.log.WithError(err).Error("stale scan failed")
		return
	}
	if n > 0 {
		s.log.WithField("reminded", n).Info("stale reminders sent")
	}
}
