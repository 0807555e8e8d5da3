/*
Package notify delivers messages about documents to staff members.

PURPOSE:
  The workflow never talks to a chat service directly. After a transaction
  commits it queues jobs on a Dispatcher, which runs them with retries. A
  failed notification is logged and counted but never undoes the state
  change that triggered it.

KEY TYPES:
  Sink:         notify(staffID, templateID, payload), fire-and-forget
  LogSink:      writes notifications to the log (default, and for tests)
  TelegramSink: sends them as chat messages
  Dispatcher:   asynchronous job queue with exponential backoff + jitter
  Immediate:    runs jobs inline, one attempt (CLI one-shots, tests)

SEE ALSO:
  - workflow/effects.go: builds the jobs
  - render/render.go: the other post-commit collaborator
*/
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
)

// Template ids
const (
	TemplateStatusChanged     = "document_status_changed"
	TemplateRolledBack        = "document_rolled_back"
	TemplateProcessed         = "document_processed"
	TemplateCorrectionCreated = "correction_created"
	TemplateStaleReminder     = "stale_reminder"
)

var templates = map[string]string{
	TemplateStatusChanged:     "Document {document_id} moved from {from} to {to}.",
	TemplateRolledBack:        "Document {document_id} was returned to draft from {from}.",
	TemplateProcessed:         "Document {document_id} has been processed.",
	TemplateCorrectionCreated: "Correction {document_id} #{sequence} was created for {corrects_id}.",
	TemplateStaleReminder:     "Document {document_id} has been waiting in {status} since {since}. Reminder #{count}.",
}

// Payload holds template values.
type Payload map[string]string

// Sink delivers one notification.
type Sink interface {
	Notify(ctx context.Context, staffID generic.StaffID, templateID string, payload Payload) error
}

// Format renders a template. Unknown templates list the payload instead.
func Format(templateID string, payload Payload) string {
	text, ok := templates[templateID]
	if !ok {
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+payload[k])
		}
		return templateID + ": " + strings.Join(parts, ", ")
	}
	for k, v := range payload {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}

// =============================================================================
// LOG SINK
// =============================================================================

type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, staffID generic.StaffID, templateID string, payload Payload) error {
	s.log.WithFields(logrus.Fields{
		"staff_id": staffID,
		"template": templateID,
	}).Info(Format(templateID, payload))
	return nil
}

// =============================================================================
// MULTI SINK
// =============================================================================

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, staffID generic.StaffID, templateID string, payload Payload) error {
	var errs []string
	for _, s := range m {
		if err := s.Notify(ctx, staffID, templateID, payload); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify %s: %s", templateID, strings.Join(errs, "; "))
	}
	return nil
}
