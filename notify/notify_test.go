package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/generic/store"
)

// =============================================================================
// FORMAT
// =============================================================================

func TestFormat(t *testing.T) {
	got := Format(TemplateStatusChanged, Payload{"document_id": "d1", "from": "draft", "to": "signed_by_applicant"})
	assert.Equal(t, "Document d1 moved from draft to signed_by_applicant.", got)

	got = Format("custom", Payload{"b": "2", "a": "1"})
	assert.Equal(t, "custom: a=1, b=2", got)
}

// =============================================================================
// DISPATCHER
// =============================================================================

func quietDispatcher(cfg DispatcherConfig) (*Dispatcher, *test.Hook) {
	log, hook := test.NewNullLogger()
	return NewDispatcher(cfg, log, nil), hook
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{7, time.Minute},
		{200, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(tt.attempt, time.Second, time.Minute), "attempt %d", tt.attempt)
	}
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	// GIVEN: A job that fails twice
	// WHEN: It is enqueued
	// THEN: The third attempt succeeds

	d, _ := quietDispatcher(DispatcherConfig{Workers: 1, MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	d.Start()
	defer d.Stop()

	var attempts atomic.Int32
	done := make(chan struct{})
	ok := d.Enqueue(Job{Kind: KindNotify, DocumentID: "d1", Run: func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("chat service unavailable")
		}
		close(done)
		return nil
	}})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDispatcher_GivesUp(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int32
	}{
		{"permanent error stops at once", Permanent(ErrNoChat), 1},
		{"transient error uses every attempt", errors.New("timeout"), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, hook := quietDispatcher(DispatcherConfig{Workers: 1, MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
			d.Start()

			var attempts atomic.Int32
			d.Enqueue(Job{Kind: KindRender, DocumentID: "d1", Run: func(context.Context) error {
				attempts.Add(1)
				return tt.err
			}})

			require.Eventually(t, func() bool {
				for _, e := range hook.AllEntries() {
					if e.Message == "job failed" {
						return true
					}
				}
				return false
			}, 5*time.Second, time.Millisecond)
			d.Stop()
			assert.Equal(t, tt.want, attempts.Load())
		})
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	// GIVEN: Jobs queued before the workers start
	// WHEN: Stopping right after Start
	// THEN: Every queued job still runs, later jobs are refused

	d, _ := quietDispatcher(DispatcherConfig{Workers: 2})

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, d.Enqueue(Job{Kind: KindNotify, Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	d.Start()
	d.Stop()

	assert.Equal(t, int32(10), ran.Load())
	assert.False(t, d.Enqueue(Job{Kind: KindNotify, Run: func(context.Context) error { return nil }}))
	d.Stop()
}

func TestDispatcher_StopWithoutStartRunsQueuedJobs(t *testing.T) {
	// GIVEN: Jobs enqueued on a dispatcher that was never started
	// WHEN: Stopping it
	// THEN: The jobs run on the caller's goroutine before Stop returns

	d, _ := quietDispatcher(DispatcherConfig{MaxAttempts: 2, BaseBackoff: time.Hour})

	var ran, flaky atomic.Int32
	for i := 0; i < 3; i++ {
		require.True(t, d.Enqueue(Job{Kind: KindRender, Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	require.True(t, d.Enqueue(Job{Kind: KindNotify, Run: func(context.Context) error {
		if flaky.Add(1) == 1 {
			return errors.New("timeout")
		}
		return nil
	}}))

	d.Stop()
	assert.Equal(t, int32(3), ran.Load())
	assert.Equal(t, int32(2), flaky.Load(), "a failed job gets its last try without waiting")
}

func TestNewDispatcher_NilLogger(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{QueueSize: 1}, nil, nil)
	assert.NotPanics(t, func() {
		d.Enqueue(Job{Kind: KindNotify, Run: func(context.Context) error { return nil }})
		d.Enqueue(Job{Kind: KindNotify, Run: func(context.Context) error { return nil }})
		d.Stop()
	})
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	d, hook := quietDispatcher(DispatcherConfig{QueueSize: 1})
	noop := func(context.Context) error { return nil }

	assert.True(t, d.Enqueue(Job{Kind: KindNotify, Run: noop}))
	assert.False(t, d.Enqueue(Job{Kind: KindNotify, DocumentID: "d2", Run: noop}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "d2", hook.LastEntry().Data["document_id"])
}

func TestImmediate_RunsInline(t *testing.T) {
	log, hook := test.NewNullLogger()
	im := Immediate{Log: log}

	ran := false
	assert.True(t, im.Enqueue(Job{Kind: KindNotify, Run: func(context.Context) error {
		ran = true
		return nil
	}}))
	assert.True(t, ran)
	assert.Empty(t, hook.AllEntries())

	im.Enqueue(Job{Kind: KindRender, Run: func(context.Context) error { return errors.New("disk full") }})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

// =============================================================================
// SINKS
// =============================================================================

type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestTelegramSink(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	require.NoError(t, repo.SaveStaff(ctx, generic.StaffRecord{ID: "s1", FullName: "Ada", ChatID: 777}))
	require.NoError(t, repo.SaveStaff(ctx, generic.StaffRecord{ID: "s2", FullName: "Alan"}))

	bot := &fakeBot{}
	log, _ := test.NewNullLogger()
	sink := &TelegramSink{bot: bot, staff: repo, log: log}

	require.NoError(t, sink.Notify(ctx, "s1", TemplateProcessed, Payload{"document_id": "d1"}))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(777), bot.sent[0].ChatID)
	assert.Equal(t, "Document d1 has been processed.", bot.sent[0].Text)

	err := sink.Notify(ctx, "s2", TemplateProcessed, Payload{})
	assert.ErrorIs(t, err, ErrNoChat)
	assert.True(t, isPermanent(err))

	err = sink.Notify(ctx, "ghost", TemplateProcessed, Payload{})
	assert.True(t, generic.IsNotFound(err))
	assert.True(t, isPermanent(err))

	bot.err = errors.New("429 too many requests")
	err = sink.Notify(ctx, "s1", TemplateProcessed, Payload{"document_id": "d1"})
	require.Error(t, err)
	assert.False(t, isPermanent(err), "send failures are retried")
}

type failingSink struct{ err error }

func (f failingSink) Notify(context.Context, generic.StaffID, string, Payload) error { return f.err }

func TestMultiSink(t *testing.T) {
	ctx := context.Background()
	log, hook := test.NewNullLogger()

	ok := MultiSink{NewLogSink(log), failingSink{}}
	require.NoError(t, ok.Notify(ctx, "s1", TemplateRolledBack, Payload{"document_id": "d1", "from": "agreed"}))
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Document d1 was returned to draft from agreed.", hook.LastEntry().Message)
	assert.Equal(t, generic.StaffID("s1"), hook.LastEntry().Data["staff_id"])

	bad := MultiSink{failingSink{err: errors.New("a")}, NewLogSink(log), failingSink{err: errors.New("b")}}
	err := bad.Notify(ctx, "s1", TemplateProcessed, Payload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a; b")
	assert.Len(t, hook.AllEntries(), 2, "the log sink still ran")
}
