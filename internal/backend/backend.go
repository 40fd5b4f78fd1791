// Package backend defines the conversion backend boundary and the pdfcpu
// implementation that turns a PDF into a module directory.
//
// Backends are untrusted with respect to timing: they may block, fail at
// any point, or report progress erratically. The workflow layer owns
// throttling and classification; a backend only needs to call its hooks
// and poll the cancel check between units of work.
package backend

import (
	"context"

	"bindery/internal/conversion"
)

// Hooks carries the callbacks a backend uses to report activity. Zero-value
// hooks are usable; Normalize fills missing callbacks with no-ops.
type Hooks struct {
	// Progress reports percent complete [0,100] with a human-readable
	// message. A negative percent means the phase has no measurable
	// progress yet.
	Progress func(percent int, message string)

	// Log forwards a backend log line. Level is one of debug/info/warn/error.
	Log func(level, message string)
}

// Normalize returns hooks with nil callbacks replaced by no-ops.
func (h Hooks) Normalize() Hooks {
	if h.Progress == nil {
		h.Progress = func(int, string) {}
	}
	if h.Log == nil {
		h.Log = func(string, string) {}
	}
	return h
}

// Backend converts one PDF into a module directory. Implementations honor
// ctx and the cancelled callback between pages and classify their own
// failures where they can; the worker classifies anything that escapes raw.
type Backend interface {
	Convert(ctx context.Context, cfg conversion.Config, hooks Hooks, cancelled func() bool) (*conversion.Result, error)
}
