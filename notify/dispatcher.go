package notify

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/metrics"
)

// Job kinds
const (
	KindRender = "render"
	KindNotify = "notify"
)

// Job is one post-commit side effect.
type Job struct {
	Kind       string
	DocumentID string
	Run        func(ctx context.Context) error
}

// =============================================================================
// PERMANENT ERRORS - Not worth retrying
// =============================================================================

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so the dispatcher gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// =============================================================================
// DISPATCHER - Async queue with retries
// =============================================================================

type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	MaxBackoff  time.Duration // cap of the exponential delay
	BaseBackoff time.Duration // delay after the first failure
	MaxJitter   time.Duration
	JobTimeout  time.Duration
	Rand        *rand.Rand
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   256,
		Workers:     2,
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
		MaxJitter:   500 * time.Millisecond,
		JobTimeout:  30 * time.Second,
	}
}

// Dispatcher runs jobs on background workers. Enqueue never blocks the
// caller; a full queue drops the job with a log line.
type Dispatcher struct {
	cfg     DispatcherConfig
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	queue chan Job
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex // guards the flags and rnd
	closed  bool
	started bool
	rnd     *rand.Rand
}

func NewDispatcher(cfg DispatcherConfig, log logrus.FieldLogger, m *metrics.Metrics) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		cfg:     cfg,
		log:     log,
		metrics: m,
		queue:   make(chan Job, cfg.QueueSize),
		stop:    make(chan struct{}),
		rnd:     rnd,
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.log.WithField("workers", d.cfg.Workers).Info("dispatcher started")
}

// Stop drains the queue and waits for the workers. Jobs still waiting on a
// backoff delay get one last attempt. A dispatcher that was never started
// drains on the caller's goroutine.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	close(d.queue)
	close(d.stop)
	d.mu.Unlock()

	if !started {
		for job := range d.queue {
			d.run(job)
		}
	}
	d.wg.Wait()
	d.log.Info("dispatcher stopped")
}

// Enqueue queues job and reports whether it was accepted.
func (d *Dispatcher) Enqueue(job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.dropped(job, "dispatcher stopped")
		return false
	}
	select {
	case d.queue <- job:
		return true
	default:
		d.dropped(job, "queue full")
		return false
	}
}

func (d *Dispatcher) dropped(job Job, reason string) {
	d.metrics.Dispatch(job.Kind, "dropped")
	d.log.WithFields(logrus.Fields{
		"kind":        job.Kind,
		"document_id": job.DocumentID,
	}).Warn("job dropped: " + reason)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	entry := d.log.WithFields(logrus.Fields{
		"kind":        job.Kind,
		"document_id": job.DocumentID,
	})

	for attempt := 1; ; attempt++ {
		err := d.attempt(job)
		if err == nil {
			d.metrics.Dispatch(job.Kind, "ok")
			return
		}

		entry = entry.WithField("attempt", attempt)
		if isPermanent(err) || attempt >= d.cfg.MaxAttempts {
			d.metrics.Dispatch(job.Kind, "failed")
			entry.WithError(err).Error("job failed")
			return
		}
		d.metrics.Dispatch(job.Kind, "retry")
		entry.WithError(err).Warn("job failed, retrying")

		select {
		case <-time.After(d.delay(attempt)):
		case <-d.stop:
			// Shutting down: one last try without waiting.
			if err := d.attempt(job); err != nil {
				d.metrics.Dispatch(job.Kind, "failed")
				entry.WithError(err).Error("job failed during shutdown")
				return
			}
			d.metrics.Dispatch(job.Kind, "ok")
			return
		}
	}
}

func (d *Dispatcher) attempt(job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.JobTimeout)
	defer cancel()
	return job.Run(ctx)
}

// delay is BaseBackoff * 2^(attempt-1), capped at MaxBackoff, plus jitter.
func (d *Dispatcher) delay(attempt int) time.Duration {
	return backoff(attempt, d.cfg.BaseBackoff, d.cfg.MaxBackoff) + d.jitter()
}

func backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	factor := math.Pow(2, float64(attempt-1))
	delay := time.Duration(factor * float64(base))
	if delay > ceiling || delay <= 0 {
		return ceiling
	}
	return delay
}

func (d *Dispatcher) jitter() time.Duration {
	if d.cfg.MaxJitter <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// [0, MaxJitter]
	return time.Duration(d.rnd.Int63n(int64(d.cfg.MaxJitter) + 1))
}

// =============================================================================
// IMMEDIATE - Synchronous, single attempt
// =============================================================================

// Immediate runs each job on the caller's goroutine and only logs failures.
type Immediate struct {
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

func (im Immediate) Enqueue(job Job) bool {
	if err := job.Run(context.Background()); err != nil {
		im.Metrics.Dispatch(job.Kind, "failed")
		im.Log.WithFields(logrus.Fields{
			"kind":        job.Kind,
			"document_id": job.DocumentID,
		}).WithError(err).Error("job failed")
		return true
	}
	im.Metrics.Dispatch(job.Kind, "ok")
	return true
}
