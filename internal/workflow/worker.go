package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bindery/internal/backend"
	"bindery/internal/conversion"
	"bindery/internal/errs"
	"bindery/internal/events"
	"bindery/internal/logging"
)

// DefaultProgressThrottle bounds how often coalesced progress events reach
// the bus.
const DefaultProgressThrottle = 50 * time.Millisecond

// indeterminatePhases are backend message fragments that mean "no measurable
// progress yet" regardless of the reported percent.
var indeterminatePhases = []string{"preparing", "loading", "initializing"}

// Worker runs one conversion attempt on its own goroutine. It owns the
// job's event stream: throttled progress, forwarded logs, and exactly one
// terminal outcome (Completed, Failed, or Canceled).
type Worker struct {
	jobID    string
	cfg      conversion.Config
	backend  backend.Backend
	bus      *events.Bus
	logger   *slog.Logger
	throttle time.Duration
	sampler  *logging.ProgressSampler

	ctx      context.Context
	cancelFn context.CancelFunc

	startOnce  sync.Once
	cancelOnce sync.Once
	cancelled  atomic.Bool
	done       chan struct{}

	mu         sync.Mutex
	lastEmit   time.Time
	pending    *events.Progress
	flushTimer *time.Timer
	terminal   bool
}

// NewWorker constructs a worker for one job attempt. A throttle of zero or
// less falls back to DefaultProgressThrottle.
func NewWorker(jobID string, cfg conversion.Config, b backend.Backend, bus *events.Bus, logger *slog.Logger, throttle time.Duration) *Worker {
	if throttle <= 0 {
		throttle = DefaultProgressThrottle
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		jobID:    jobID,
		cfg:      cfg,
		backend:  b,
		bus:      bus,
		logger:   logging.NewComponentLogger(logger, "worker").With(logging.String(logging.FieldJobID, jobID)),
		throttle: throttle,
		sampler:  logging.NewProgressSampler(0),
		ctx:      ctx,
		cancelFn: cancel,
		done:     make(chan struct{}),
	}
}

// JobID returns the identifier of the job this worker runs.
func (w *Worker) JobID() string { return w.jobID }

// Start launches the conversion goroutine. Repeated calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Cancel requests cooperative cancellation. Safe from any goroutine and
// idempotent. After Cancel returns, the job can no longer complete
// successfully; the terminal outcome will be Canceled (or Failed if the
// backend errored first).
func (w *Worker) Cancel() {
	w.cancelOnce.Do(func() {
		w.mu.Lock()
		w.cancelled.Store(true)
		w.mu.Unlock()
		w.cancelFn()
		w.logger.Info("cancellation requested")
	})
}

// Done is closed when the worker goroutine has exited and the terminal
// event is published.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker finishes or the timeout elapses.
func (w *Worker) Wait(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			err := errs.Classify(fmt.Errorf("backend panic: %v", r))
			w.logger.Error("backend panicked", logging.Error(err))
			w.finish(events.Failed{JobID: w.jobID, Err: err})
		}
	}()

	hooks := backend.Hooks{
		Progress: w.onProgress,
		Log:      w.onLog,
	}
	result, err := w.backend.Convert(w.ctx, w.cfg, hooks, w.cancelled.Load)

	switch {
	case w.cancelled.Load() || errs.Cancelled(err):
		w.logger.Info("conversion cancelled")
		w.finish(events.Canceled{JobID: w.jobID})
	case err != nil:
		details := errs.Details(err)
		w.logger.Error("conversion failed",
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorCode, string(details.Code)),
			logging.Error(err))
		w.finish(events.Failed{JobID: w.jobID, Err: details})
	case result == nil:
		details := errs.Classify(fmt.Errorf("backend returned no result"))
		w.finish(events.Failed{JobID: w.jobID, Err: details})
	default:
		w.logger.Info("conversion succeeded", logging.Int("entries", result.EntryCount))
		w.finish(events.Completed{JobID: w.jobID, Result: result})
	}
}

// onProgress applies the display contract: clamp percent to [0,100], map
// negative percents and known phase keywords to indeterminate mode, and
// coalesce bursts within the throttle window to the most recent value.
func (w *Worker) onProgress(percent int, message string) {
	indeterminate := percent < 0 || isIndeterminateMessage(message)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	ev := events.Progress{
		JobID:         w.jobID,
		Percent:       percent,
		Message:       message,
		Indeterminate: indeterminate,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal {
		return
	}
	now := time.Now()
	if now.Sub(w.lastEmit) >= w.throttle {
		w.emitLocked(ev, now)
		return
	}
	w.pending = &ev
	if w.flushTimer == nil {
		delay := w.throttle - now.Sub(w.lastEmit)
		w.flushTimer = time.AfterFunc(delay, w.flushPending)
	}
}

func (w *Worker) flushPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushTimer = nil
	if w.terminal || w.pending == nil {
		return
	}
	w.emitLocked(*w.pending, time.Now())
}

// emitLocked publishes a progress event and resets coalescing state.
// Caller holds w.mu; bus publishes never block so this is safe.
func (w *Worker) emitLocked(ev events.Progress, now time.Time) {
	w.bus.Publish(ev)
	w.lastEmit = now
	w.pending = nil
	if w.flushTimer != nil {
		w.flushTimer.Stop()
		w.flushTimer = nil
	}
	samplePercent := ev.Percent
	if ev.Indeterminate {
		samplePercent = -1
	}
	if w.sampler.ShouldLog(samplePercent, ev.Message) {
		w.logger.Info("progress",
			logging.Int("percent", ev.Percent),
			logging.Bool("indeterminate", ev.Indeterminate),
			logging.String(logging.FieldStage, ev.Message))
	}
}

func (w *Worker) onLog(level, message string) {
	w.bus.Publish(events.Log{JobID: w.jobID, Level: level, Message: message})
	switch strings.ToLower(level) {
	case "error":
		w.logger.Error(message)
	case "warn":
		w.logger.Warn(message)
	case "debug":
		w.logger.Debug(message)
	default:
		w.logger.Info(message)
	}
}

// finish publishes the terminal event exactly once. Any pending coalesced
// progress is flushed first so the last reported value is never lost. A
// Completed outcome racing a returned Cancel is demoted to Canceled; both
// paths hold w.mu, so a Cancel that returned before this point is seen.
func (w *Worker) finish(terminal events.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal {
		return
	}
	if _, ok := terminal.(events.Completed); ok && w.cancelled.Load() {
		terminal = events.Canceled{JobID: w.jobID}
	}
	if w.flushTimer != nil {
		w.flushTimer.Stop()
		w.flushTimer = nil
	}
	if w.pending != nil {
		w.bus.Publish(*w.pending)
		w.pending = nil
	}
	w.terminal = true
	w.bus.Publish(terminal)
}

func isIndeterminateMessage(message string) bool {
	lowered := strings.ToLower(message)
	for _, phase := range indeterminatePhases {
		if strings.Contains(lowered, phase) {
			return true
		}
	}
	return false
}
