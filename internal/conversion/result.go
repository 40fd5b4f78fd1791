package conversion

import "time"

// Result is what a backend hands back for a successfully completed job.
type Result struct {
	ModuleID   string        `json:"module_id"`
	ModulePath string        `json:"module_path"`
	PageCount  int           `json:"page_count"`
	EntryCount int           `json:"entry_count"`
	Warnings   []string      `json:"warnings,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}
