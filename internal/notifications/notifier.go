package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bindery/internal/events"
	"bindery/internal/logging"
)

// Notifier bridges the event bus to a Service. Titles are remembered from
// Started events so terminal notifications can name the module.
type Notifier struct {
	service Service
	sub     *events.Subscription
	logger  *slog.Logger
	done    chan struct{}

	mu     sync.Mutex
	titles map[string]string
}

// NewNotifier subscribes to bus and starts forwarding events to service.
func NewNotifier(service Service, bus *events.Bus, logger *slog.Logger) *Notifier {
	n := &Notifier{
		service: service,
		sub:     bus.Subscribe(),
		logger:  logging.NewComponentLogger(logger, "notifications"),
		done:    make(chan struct{}),
		titles:  make(map[string]string),
	}
	go n.loop()
	return n
}

// Stop detaches from the bus and waits for in-flight sends to finish.
func (n *Notifier) Stop() {
	n.sub.Close()
	select {
	case <-n.done:
	case <-time.After(5 * time.Second):
		n.logger.Warn("notifier did not drain in time")
	}
}

func (n *Notifier) loop() {
	defer close(n.done)
	for ev := range n.sub.C() {
		n.handle(ev)
	}
}

func (n *Notifier) handle(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch t := ev.(type) {
	case events.Started:
		n.setTitle(t.JobID, t.Config.ModuleTitle)
		err = n.service.NotifyConversionStarted(ctx, t.JobID, t.Config.ModuleTitle)
	case events.Completed:
		err = n.service.NotifyConversionCompleted(ctx, t.JobID, t.Result)
		n.forget(t.JobID)
	case events.Failed:
		err = n.service.NotifyConversionFailed(ctx, t.JobID, n.title(t.JobID), t.Err)
		n.forget(t.JobID)
	case events.Canceled:
		err = n.service.NotifyConversionCanceled(ctx, t.JobID, n.title(t.JobID))
		n.forget(t.JobID)
	case events.PerformRetry:
		err = n.service.NotifyRetryScheduled(ctx, t.JobID, t.Attempt, 0)
	default:
		return
	}
	if err != nil {
		n.logger.Warn("notification delivery failed",
			logging.String(logging.FieldEventType, ev.EventName()),
			logging.Error(err))
	}
}

func (n *Notifier) setTitle(jobID, title string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles[jobID] = title
}

func (n *Notifier) title(jobID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.titles[jobID]
}

func (n *Notifier) forget(jobID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.titles, jobID)
}
