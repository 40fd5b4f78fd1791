// Package daemon runs the unattended conversion service: a single-instance
// watcher that feeds PDFs arriving in the intake directory through the
// conversion lifecycle with automatic recovery.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"bindery/internal/backend"
	"bindery/internal/config"
	"bindery/internal/conversion"
	"bindery/internal/events"
	"bindery/internal/history"
	"bindery/internal/logging"
	"bindery/internal/notifications"
	"bindery/internal/recovery"
	"bindery/internal/workflow"
)

// Daemon wires the conversion core to an intake directory watcher.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	bus        *events.Bus
	controller *workflow.Controller
	recovery   *recovery.Manager
	store      *history.Store
	recorder   *history.Recorder
	notifier   *notifications.Notifier

	mu      sync.Mutex
	seen    map[string]struct{}
	jobCfgs map[string]conversion.Config
	// jobKeys maps a worker job ID to its recovery key. Retries run as
	// fresh workers but share the first attempt's key so the retry budget
	// survives across attempts.
	jobKeys map[string]string
	pending []conversion.Config
}

// New assembles a daemon around the given backend. The caller owns cfg
// validation; directories are created here.
func New(cfg *config.Config, logger *slog.Logger, b backend.Backend) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	bus := events.NewBus()
	store, err := history.Open(cfg)
	if err != nil {
		bus.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "daemon"),
		bus:    bus,
		controller: workflow.NewController(b, bus, logger, workflow.ControllerOptions{
			ProgressThrottle: cfg.ProgressThrottle(),
			ShutdownTimeout:  cfg.ShutdownTimeout(),
		}),
		store:    store,
		recorder: history.NewRecorder(store, bus, logger),
		notifier: notifications.NewNotifier(notifications.NewService(cfg), bus, logger),
		seen:     make(map[string]struct{}),
		jobCfgs:  make(map[string]conversion.Config),
		jobKeys:  make(map[string]string),
	}
	d.recovery = recovery.NewManager(bus, headlessDialog(), logger, recovery.Options{
		BaseBackoff: cfg.BaseBackoff(),
		MaxBackoff:  cfg.MaxBackoff(),
		MaxAttempts: cfg.Recovery.MaxAttempts,
	})
	return d, nil
}

// Bus exposes the daemon's event bus, mainly for tests and status tooling.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Run blocks until ctx is cancelled. It enforces single-instance operation
// with a lock file under the log directory.
func (d *Daemon) Run(ctx context.Context) error {
	lock := flock.New(filepath.Join(d.cfg.Paths.LogDir, "bindery.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another bindery daemon is already running")
	}
	defer func() {
		_ = lock.Unlock()
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(d.cfg.Paths.IntakeDir); err != nil {
		return fmt.Errorf("watch intake dir: %w", err)
	}

	sub := d.bus.Subscribe()
	defer sub.Close()

	d.logger.Info("daemon started",
		logging.String("intake_dir", d.cfg.Paths.IntakeDir),
		logging.String("output_dir", d.cfg.Paths.OutputDir))

	d.scanIntake()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case ev, ok := <-watcher.Events:
			if !ok {
				return d.shutdown()
			}
			d.onFileEvent(ev)
		case watchErr, ok := <-watcher.Errors:
			if ok && watchErr != nil {
				d.logger.Warn("watcher error", logging.Error(watchErr))
			}
		case busEv, ok := <-sub.C():
			if !ok {
				return d.shutdown()
			}
			d.onBusEvent(busEv)
		}
	}
}

func (d *Daemon) shutdown() error {
	d.logger.Info("daemon stopping")
	if !d.controller.Shutdown(d.cfg.ShutdownTimeout()) {
		d.logger.Warn("active conversion did not stop in time")
	}
	d.recovery.Reset()
	d.notifier.Stop()
	d.recorder.Stop()
	d.bus.Close()
	return d.store.Close()
}

// scanIntake picks up PDFs that were already present before the watch began.
func (d *Daemon) scanIntake() {
	entries, err := os.ReadDir(d.cfg.Paths.IntakeDir)
	if err != nil {
		d.logger.Warn("read intake dir", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		go d.maybeIntake(filepath.Join(d.cfg.Paths.IntakeDir, entry.Name()))
	}
}

// onFileEvent hands settling off to a goroutine so a file mid-copy does not
// stall retry and cleanup handling on the main loop.
func (d *Daemon) onFileEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	go d.maybeIntake(ev.Name)
}

// maybeIntake accepts a PDF once it has settled (its size stopped changing)
// and dispatches or queues a conversion for it.
func (d *Daemon) maybeIntake(path string) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return
	}
	d.mu.Lock()
	if _, dup := d.seen[path]; dup {
		d.mu.Unlock()
		return
	}
	d.seen[path] = struct{}{}
	d.mu.Unlock()

	if !d.waitSettled(path) {
		d.mu.Lock()
		delete(d.seen, path)
		d.mu.Unlock()
		return
	}

	cfg := conversion.Config{
		PDFPath:          path,
		OutputDir:        d.cfg.Paths.OutputDir,
		Tables:           conversion.TableMode(d.cfg.Conversion.Tables),
		OCR:              conversion.OCRMode(d.cfg.Conversion.OCR),
		Workers:          d.cfg.Conversion.Workers,
		TOC:              d.cfg.Conversion.TOC,
		DeterministicIDs: d.cfg.Conversion.DeterministicIDs,
	}.Normalize()

	d.logger.Info("intake accepted", logging.String("pdf", filepath.Base(path)))
	d.dispatch(cfg)
}

// waitSettled polls the file size until two consecutive reads agree, so a
// PDF still being copied in is not converted half-written.
func (d *Daemon) waitSettled(path string) bool {
	interval := d.cfg.IntakeSettle()
	var lastSize int64 = -1
	for i := 0; i < 50; i++ {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == lastSize && info.Size() > 0 {
			return true
		}
		lastSize = info.Size()
		time.Sleep(interval)
	}
	d.logger.Warn("file never settled", logging.String("pdf", filepath.Base(path)))
	return false
}

// dispatch starts a conversion or queues it while another is active.
func (d *Daemon) dispatch(cfg conversion.Config) {
	jobID, err := d.controller.Start(cfg)
	switch {
	case err == nil:
		d.mu.Lock()
		d.jobCfgs[jobID] = cfg
		d.jobKeys[jobID] = jobID
		d.mu.Unlock()
	case err == workflow.ErrConversionActive:
		d.mu.Lock()
		d.pending = append(d.pending, cfg)
		d.mu.Unlock()
		d.logger.Info("conversion queued", logging.String("pdf", filepath.Base(cfg.PDFPath)))
	default:
		d.logger.Error("rejected conversion request",
			logging.String("pdf", filepath.Base(cfg.PDFPath)),
			logging.Error(err))
	}
}

func (d *Daemon) onBusEvent(ev events.Event) {
	switch t := ev.(type) {
	case events.Failed:
		cfg, ok := d.jobConfig(t.JobID)
		if !ok {
			return
		}
		key := d.recoveryKey(t.JobID)
		action := d.recovery.StartRecovery(key, t.Err, cfg)
		d.logger.Info("recovery resolved",
			logging.String(logging.FieldJobID, t.JobID),
			logging.String("action", string(action)))
	case events.PerformRetry:
		d.dispatchRetry(t)
	case events.Completed:
		d.recovery.ClearJob(d.recoveryKey(t.JobID))
	case events.Finished:
		d.mu.Lock()
		delete(d.jobCfgs, t.JobID)
		delete(d.jobKeys, t.JobID)
		var next *conversion.Config
		if len(d.pending) > 0 {
			next = &d.pending[0]
			d.pending = d.pending[1:]
		}
		d.mu.Unlock()
		if next != nil {
			d.dispatch(*next)
		}
	}
}

// dispatchRetry reruns a recovered job as a fresh worker sharing the
// original attempt's recovery key.
func (d *Daemon) dispatchRetry(t events.PerformRetry) {
	jobID, err := d.controller.Start(t.Config)
	if err != nil {
		d.logger.Warn("retry could not start",
			logging.String(logging.FieldJobID, t.JobID),
			logging.Error(err))
		if err == workflow.ErrConversionActive {
			d.mu.Lock()
			d.pending = append(d.pending, t.Config)
			d.mu.Unlock()
		}
		return
	}
	d.mu.Lock()
	d.jobCfgs[jobID] = t.Config
	d.jobKeys[jobID] = t.JobID
	d.mu.Unlock()
}

func (d *Daemon) jobConfig(jobID string) (conversion.Config, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg, ok := d.jobCfgs[jobID]
	return cfg, ok
}

func (d *Daemon) recoveryKey(jobID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if key, ok := d.jobKeys[jobID]; ok {
		return key
	}
	return jobID
}
