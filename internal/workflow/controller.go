package workflow

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"bindery/internal/backend"
	"bindery/internal/conversion"
	"bindery/internal/events"
	"bindery/internal/logging"
)

// ErrConversionActive is returned by Start when a job is already running.
var ErrConversionActive = errors.New("a conversion is already running")

// DefaultShutdownTimeout bounds how long cleanup waits for a worker
// goroutine before giving up on it.
const DefaultShutdownTimeout = 3 * time.Second

// Controller owns at most one active Worker and guarantees lifecycle
// hygiene around it: Started exactly once per accepted job, idempotent
// cleanup on any terminal outcome, and bounded shutdown.
type Controller struct {
	bus             *events.Bus
	backend         backend.Backend
	logger          *slog.Logger
	throttle        time.Duration
	shutdownTimeout time.Duration

	mu     sync.Mutex
	active *activeJob
}

type activeJob struct {
	worker      *Worker
	sub         *events.Subscription
	cleanupOnce sync.Once
	cleaned     chan struct{}
}

// ControllerOptions tunes controller behavior; zero values use defaults.
type ControllerOptions struct {
	ProgressThrottle time.Duration
	ShutdownTimeout  time.Duration
}

// NewController constructs a controller publishing onto bus.
func NewController(b backend.Backend, bus *events.Bus, logger *slog.Logger, opts ControllerOptions) *Controller {
	if opts.ProgressThrottle <= 0 {
		opts.ProgressThrottle = DefaultProgressThrottle
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Controller{
		bus:             bus,
		backend:         b,
		logger:          logging.NewComponentLogger(logger, "controller"),
		throttle:        opts.ProgressThrottle,
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// Start begins a conversion for cfg. When a job is already active the call
// is a logged no-op returning ErrConversionActive; the running job is not
// disturbed. On acceptance the job ID is returned and Started has been
// published exactly once.
func (c *Controller) Start(cfg conversion.Config) (string, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.logger.Warn("conversion already active, ignoring start request",
			logging.String(logging.FieldJobID, c.active.worker.JobID()))
		return "", ErrConversionActive
	}

	jobID := conversion.NewJobID(cfg.ModuleID)
	worker := NewWorker(jobID, cfg, c.backend, c.bus, c.logger, c.throttle)
	job := &activeJob{
		worker:  worker,
		sub:     c.bus.Subscribe(),
		cleaned: make(chan struct{}),
	}
	c.active = job

	c.bus.Publish(events.Started{JobID: jobID, Config: cfg})
	c.logger.Info("conversion started", logging.String(logging.FieldJobID, jobID))
	worker.Start()
	go c.watch(job)
	return jobID, nil
}

// Cancel forwards cancellation to the active worker. A no-op when idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	job := c.active
	c.mu.Unlock()
	if job == nil {
		c.logger.Debug("cancel requested with no active conversion")
		return
	}
	job.worker.Cancel()
}

// Running reports whether a conversion is currently active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// ActiveJobID returns the running job's ID, or empty when idle.
func (c *Controller) ActiveJobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.worker.JobID()
}

// WaitForCompletion blocks until the active job's cleanup converges or the
// timeout elapses. Returns true when idle.
func (c *Controller) WaitForCompletion(timeout time.Duration) bool {
	c.mu.Lock()
	job := c.active
	c.mu.Unlock()
	if job == nil {
		return true
	}
	select {
	case <-job.cleaned:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown cancels any active job and waits, bounded, for cleanup. It
// never hangs; a false return means the worker goroutine outlived the
// timeout.
func (c *Controller) Shutdown(timeout time.Duration) bool {
	c.Cancel()
	return c.WaitForCompletion(timeout)
}

// watch drains the job's bus subscription until a terminal event for this
// job arrives, then runs cleanup. Worker goroutine exit also triggers
// cleanup so a lost event cannot leak the slot.
func (c *Controller) watch(job *activeJob) {
	jobID := job.worker.JobID()
	for {
		select {
		case ev, ok := <-job.sub.C():
			if !ok {
				c.cleanup(job)
				return
			}
			switch t := ev.(type) {
			case events.Completed:
				if t.JobID == jobID {
					c.cleanup(job)
					return
				}
			case events.Failed:
				if t.JobID == jobID {
					c.cleanup(job)
					return
				}
			case events.Canceled:
				if t.JobID == jobID {
					c.cleanup(job)
					return
				}
			}
		case <-job.worker.Done():
			c.cleanup(job)
			return
		}
	}
}

// cleanup releases everything associated with a finished job. Safe to call
// from multiple paths; only the first invocation does work. Unsubscribing
// tolerates an already-closed subscription, the goroutine wait is bounded,
// and Finished is published once the slot is clear.
func (c *Controller) cleanup(job *activeJob) {
	job.cleanupOnce.Do(func() {
		jobID := job.worker.JobID()
		if !job.worker.Wait(c.shutdownTimeout) {
			c.logger.Warn("worker did not stop within timeout",
				logging.String(logging.FieldJobID, jobID),
				logging.Duration("timeout", c.shutdownTimeout))
		}
		job.sub.Close()

		c.mu.Lock()
		if c.active == job {
			c.active = nil
		}
		c.mu.Unlock()

		c.bus.Publish(events.Finished{JobID: jobID})
		c.logger.Info("conversion finished", logging.String(logging.FieldJobID, jobID))
		close(job.cleaned)
	})
}
