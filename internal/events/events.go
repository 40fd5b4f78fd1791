// Package events defines the typed event vocabulary of the conversion
// lifecycle and a bus that delivers events to subscribers without ever
// blocking the publisher.
package events

import (
	"bindery/internal/conversion"
	"bindery/internal/errs"
)

// Event is implemented by every lifecycle event variant.
type Event interface {
	EventName() string
}

// Started is published exactly once when a conversion job begins.
type Started struct {
	JobID  string
	Config conversion.Config
}

// Progress reports conversion progress. When Indeterminate is set the
// percent carries no meaning and displays should show an activity state.
type Progress struct {
	JobID         string
	Percent       int
	Message       string
	Indeterminate bool
}

// Log forwards a backend log line to observers.
type Log struct {
	JobID   string
	Level   string
	Message string
}

// Completed is the successful terminal outcome of a job.
type Completed struct {
	JobID  string
	Result *conversion.Result
}

// Failed is the error terminal outcome of a job.
type Failed struct {
	JobID string
	Err   *errs.AppError
}

// Canceled is the terminal outcome of a cancelled job.
type Canceled struct {
	JobID string
}

// Finished is published after controller cleanup converges, regardless of
// which terminal outcome preceded it.
type Finished struct {
	JobID string
}

// RecoveryRequested asks the recovery layer to handle a failed job.
type RecoveryRequested struct {
	JobID  string
	Err    *errs.AppError
	Config conversion.Config
}

// PerformRetry fires when a scheduled retry timer elapses.
type PerformRetry struct {
	JobID   string
	Attempt int
	Config  conversion.Config
}

// CancelRequested signals that recovery resolved a job as cancelled.
type CancelRequested struct {
	JobID string
}

// AlternativePathSelected signals that the user chose to pick a new input file.
type AlternativePathSelected struct {
	JobID string
}

// SettingsRequested signals that recovery routed the user to settings.
type SettingsRequested struct {
	JobID string
}

// IssueReportRequested signals that recovery routed the user to issue reporting.
type IssueReportRequested struct {
	JobID string
	Err   *errs.AppError
}

func (Started) EventName() string                 { return "started" }
func (Progress) EventName() string                { return "progress" }
func (Log) EventName() string                     { return "log" }
func (Completed) EventName() string               { return "completed" }
func (Failed) EventName() string                  { return "failed" }
func (Canceled) EventName() string                { return "canceled" }
func (Finished) EventName() string                { return "finished" }
func (RecoveryRequested) EventName() string       { return "recovery_requested" }
func (PerformRetry) EventName() string            { return "perform_retry" }
func (CancelRequested) EventName() string         { return "cancel_requested" }
func (AlternativePathSelected) EventName() string { return "alternative_path_selected" }
func (SettingsRequested) EventName() string       { return "settings_requested" }
func (IssueReportRequested) EventName() string    { return "issue_report_requested" }

// droppable events may be discarded under subscriber backpressure. Terminal
// outcomes and control events are never dropped.
func droppable(ev Event) bool {
	switch ev.(type) {
	case Progress, Log:
		return true
	default:
		return false
	}
}
