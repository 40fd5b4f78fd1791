package history

import "time"

// Status represents the lifecycle of a recorded job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the status is a final outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Record is one job's persisted history row.
type Record struct {
	ID              int64
	JobID           string
	ModuleID        string
	PDFPath         string
	ConfigJSON      string
	Status          Status
	ProgressPercent int
	ProgressMessage string
	Attempts        int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
