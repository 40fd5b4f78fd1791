// Package recovery decides what happens after a conversion fails: offer
// the user (or a headless policy) a set of actions derived from the error
// taxonomy, schedule bounded-backoff retries, and keep per-job attempt
// budgets.
package recovery

import (
	"log/slog"
	"sync"
	"time"

	"bindery/internal/conversion"
	"bindery/internal/errs"
	"bindery/internal/events"
	"bindery/internal/logging"
)

// Action is one recovery option offered after a failure.
type Action string

const (
	ActionRetry                 Action = "retry"
	ActionSelectAlternativePath Action = "select_alternative_path"
	ActionOpenPermissionsHelp   Action = "open_permissions_help"
	ActionOpenSettings          Action = "open_settings"
	ActionReportIssue           Action = "report_issue"
	ActionCancel                Action = "cancel"
)

// Dialog is the decision boundary. Implementations present offered actions
// and return the chosen one. Called synchronously from StartRecovery.
type Dialog interface {
	Choose(jobID string, failure *errs.AppError, offered []Action) Action
}

// DialogFunc adapts a function to the Dialog interface.
type DialogFunc func(jobID string, failure *errs.AppError, offered []Action) Action

func (f DialogFunc) Choose(jobID string, failure *errs.AppError, offered []Action) Action {
	return f(jobID, failure, offered)
}

// Defaults per the recovery contract.
const (
	DefaultBaseBackoff = 1000 * time.Millisecond
	DefaultMaxBackoff  = 30000 * time.Millisecond
	DefaultMaxAttempts = 3
)

// Options tunes the manager; zero values use the defaults above.
type Options struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
}

// Manager runs the recovery state machine. At most one recovery flow is
// active at a time; a reentrant StartRecovery resolves to ActionCancel
// without consulting the dialog.
type Manager struct {
	bus    *events.Bus
	dialog Dialog
	logger *slog.Logger

	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxAttempts int

	mu           sync.Mutex
	recovering   bool
	attempts     map[string]int
	timers       map[string]*time.Timer
	pendingRetry map[string]conversion.Config
}

// NewManager constructs a recovery manager publishing onto bus.
func NewManager(bus *events.Bus, dialog Dialog, logger *slog.Logger, opts Options) *Manager {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Manager{
		bus:          bus,
		dialog:       dialog,
		logger:       logging.NewComponentLogger(logger, "recovery"),
		baseBackoff:  opts.BaseBackoff,
		maxBackoff:   opts.MaxBackoff,
		maxAttempts:  opts.MaxAttempts,
		attempts:     make(map[string]int),
		timers:       make(map[string]*time.Timer),
		pendingRetry: make(map[string]conversion.Config),
	}
}

// StartRecovery handles one failure. It classifies err, computes the
// offered actions, delegates the choice to the dialog, dispatches it, and
// returns the chosen action. Reentrant calls return ActionCancel
// immediately without a dialog.
func (m *Manager) StartRecovery(jobID string, err error, cfg conversion.Config) Action {
	failure := errs.Details(err)

	m.mu.Lock()
	if m.recovering {
		m.logger.Warn("recovery already in progress, cancelling new request",
			logging.String(logging.FieldJobID, jobID))
		m.mu.Unlock()
		return ActionCancel
	}
	m.recovering = true
	attempts := m.attempts[jobID]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.recovering = false
		m.mu.Unlock()
	}()

	m.bus.Publish(events.RecoveryRequested{JobID: jobID, Err: failure, Config: cfg})

	offered := m.determineActions(failure, attempts)
	choice := m.choose(jobID, failure, offered)
	if !contains(offered, choice) {
		m.logger.Warn("dialog chose an action that was not offered, cancelling",
			logging.String(logging.FieldJobID, jobID),
			logging.String("action", string(choice)))
		choice = ActionCancel
	}

	m.logger.Info("recovery decision",
		logging.String(logging.FieldJobID, jobID),
		logging.String("action", string(choice)),
		logging.String(logging.FieldErrorCode, string(failure.Code)),
		logging.Int("attempts", attempts))

	switch choice {
	case ActionRetry:
		m.scheduleRetry(jobID, cfg)
	case ActionSelectAlternativePath:
		m.bus.Publish(events.AlternativePathSelected{JobID: jobID})
	case ActionOpenPermissionsHelp, ActionOpenSettings:
		m.bus.Publish(events.SettingsRequested{JobID: jobID})
	case ActionReportIssue:
		m.bus.Publish(events.IssueReportRequested{JobID: jobID, Err: failure})
	case ActionCancel:
		m.cancelJob(jobID)
	}
	return choice
}

// choose calls the dialog, converting a panic into ActionCancel so decision
// logic never unwinds through the manager.
func (m *Manager) choose(jobID string, failure *errs.AppError, offered []Action) (choice Action) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("recovery dialog panicked",
				logging.String(logging.FieldJobID, jobID),
				logging.Any("panic", r))
			choice = ActionCancel
		}
	}()
	if m.dialog == nil {
		return ActionCancel
	}
	return m.dialog.Choose(jobID, failure, offered)
}

// determineActions builds the offered set as a union of independent rules,
// in stable order, with Cancel always present.
func (m *Manager) determineActions(failure *errs.AppError, attempts int) []Action {
	var offered []Action
	if failure.Retriable && attempts < m.maxAttempts {
		offered = append(offered, ActionRetry)
	}
	if failure.Code == errs.CodeFileNotFound {
		offered = append(offered, ActionSelectAlternativePath)
	}
	if failure.Code == errs.CodePermissionDenied {
		offered = append(offered, ActionOpenPermissionsHelp)
	}
	if failure.Kind == errs.KindValidation || failure.Kind == errs.KindConfig {
		offered = append(offered, ActionOpenSettings)
	}
	if failure.Severity == errs.SeverityHigh || failure.Severity == errs.SeverityCritical {
		offered = append(offered, ActionReportIssue)
	}
	return append(offered, ActionCancel)
}

// CanRetry reports whether a retry would be offered for this job and error.
func (m *Manager) CanRetry(jobID string, err error) bool {
	failure := errs.Details(err)
	m.mu.Lock()
	defer m.mu.Unlock()
	return failure.Retriable && m.attempts[jobID] < m.maxAttempts
}

// Attempts returns the retries already consumed for a job.
func (m *Manager) Attempts(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[jobID]
}

// Backoff computes the delay before retry attempt n (1-based):
// min(base * 2^(n-1), max).
func (m *Manager) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := m.baseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= m.maxBackoff || backoff <= 0 {
			return m.maxBackoff
		}
	}
	if backoff > m.maxBackoff {
		return m.maxBackoff
	}
	return backoff
}

// scheduleRetry consumes one attempt and arms the one-shot retry timer.
func (m *Manager) scheduleRetry(jobID string, cfg conversion.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts[jobID]++
	attempt := m.attempts[jobID]
	delay := m.Backoff(attempt)
	m.pendingRetry[jobID] = cfg
	if existing, ok := m.timers[jobID]; ok {
		existing.Stop()
	}
	m.timers[jobID] = time.AfterFunc(delay, func() { m.onRetryTimer(jobID) })

	m.logger.Info("retry scheduled",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("attempt", attempt),
		logging.Duration("delay", delay))
}

// onRetryTimer fires when a scheduled backoff elapses. A stale timer with
// no tracked job logs a warning and does nothing.
func (m *Manager) onRetryTimer(jobID string) {
	m.mu.Lock()
	cfg, ok := m.pendingRetry[jobID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("retry timer fired for untracked job",
			logging.String(logging.FieldJobID, jobID))
		return
	}
	delete(m.pendingRetry, jobID)
	delete(m.timers, jobID)
	attempt := m.attempts[jobID]
	m.mu.Unlock()

	m.bus.Publish(events.PerformRetry{JobID: jobID, Attempt: attempt, Config: cfg})
}

// cancelJob resolves a job as cancelled and forgets its recovery state.
func (m *Manager) cancelJob(jobID string) {
	m.mu.Lock()
	if timer, ok := m.timers[jobID]; ok {
		timer.Stop()
		delete(m.timers, jobID)
	}
	delete(m.pendingRetry, jobID)
	delete(m.attempts, jobID)
	m.mu.Unlock()

	m.bus.Publish(events.CancelRequested{JobID: jobID})
}

// ClearJob forgets attempt state for a job, typically after it completes.
func (m *Manager) ClearJob(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[jobID]; ok {
		timer.Stop()
		delete(m.timers, jobID)
	}
	delete(m.pendingRetry, jobID)
	delete(m.attempts, jobID)
}

// Reset returns the manager to idle: all timers stopped, all attempt
// budgets cleared. Safe to call repeatedly.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jobID, timer := range m.timers {
		timer.Stop()
		delete(m.timers, jobID)
	}
	m.pendingRetry = make(map[string]conversion.Config)
	m.attempts = make(map[string]int)
	m.recovering = false
}

func contains(actions []Action, action Action) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
