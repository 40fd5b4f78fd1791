package history

import (
	"context"
	"log/slog"
	"time"

	"bindery/internal/events"
	"bindery/internal/logging"
)

// Recorder consumes lifecycle events and keeps the history store current.
// Store errors are logged and never propagate back into the workflow.
type Recorder struct {
	store  *Store
	sub    *events.Subscription
	logger *slog.Logger
	done   chan struct{}
}

// NewRecorder subscribes to bus and starts the recording loop.
func NewRecorder(store *Store, bus *events.Bus, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		sub:    bus.Subscribe(),
		logger: logging.NewComponentLogger(logger, "history"),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Stop detaches from the bus and waits for the loop to drain.
func (r *Recorder) Stop() {
	r.sub.Close()
	select {
	case <-r.done:
	case <-time.After(time.Second):
		r.logger.Warn("recorder did not drain in time")
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.sub.C() {
		r.handle(ev)
	}
}

func (r *Recorder) handle(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch t := ev.(type) {
	case events.Started:
		if _, err = r.store.NewJob(ctx, t.JobID, t.Config); err == nil {
			err = r.store.SetStatus(ctx, t.JobID, StatusRunning, "")
		}
	case events.Progress:
		if !t.Indeterminate {
			err = r.store.SetProgress(ctx, t.JobID, t.Percent, t.Message)
		} else {
			err = r.store.SetProgress(ctx, t.JobID, 0, t.Message)
		}
	case events.Completed:
		err = r.store.SetStatus(ctx, t.JobID, StatusCompleted, "")
	case events.Failed:
		message := ""
		if t.Err != nil {
			message = t.Err.Error()
		}
		err = r.store.SetStatus(ctx, t.JobID, StatusFailed, message)
	case events.Canceled:
		err = r.store.SetStatus(ctx, t.JobID, StatusCanceled, "")
	case events.PerformRetry:
		err = r.store.IncrementAttempts(ctx, t.JobID)
	default:
		return
	}
	if err != nil {
		r.logger.Warn("history update failed",
			logging.String(logging.FieldEventType, ev.EventName()),
			logging.Error(err))
	}
}
