package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bindery/internal/backend"
	"bindery/internal/conversion"
	"bindery/internal/errs"
	"bindery/internal/events"
	"bindery/internal/logging"
	"bindery/internal/workflow"
)

// stubBackend runs an injected function as the conversion.
type stubBackend struct {
	run func(ctx context.Context, cfg conversion.Config, hooks backend.Hooks, cancelled func() bool) (*conversion.Result, error)
}

func (s *stubBackend) Convert(ctx context.Context, cfg conversion.Config, hooks backend.Hooks, cancelled func() bool) (*conversion.Result, error) {
	return s.run(ctx, cfg, hooks.Normalize(), cancelled)
}

func validConfig() conversion.Config {
	return conversion.Config{PDFPath: "/books/tome.pdf", OutputDir: "/out"}.Normalize()
}

func isTerminal(ev events.Event) bool {
	switch ev.(type) {
	case events.Completed, events.Failed, events.Canceled:
		return true
	}
	return false
}

// drainUntilTerminal collects events until the job's terminal outcome or
// the deadline.
func drainUntilTerminal(t *testing.T, sub *events.Subscription, wait time.Duration) []events.Event {
	t.Helper()
	var got []events.Event
	deadline := time.After(wait)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				t.Fatal("subscription closed before terminal event")
			}
			got = append(got, ev)
			if isTerminal(ev) {
				return got
			}
		case <-deadline:
			t.Fatalf("no terminal event within %s; got %d events", wait, len(got))
		}
	}
}

func TestWorkerCompletesWithOrderedProgress(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	b := &stubBackend{run: func(_ context.Context, _ conversion.Config, hooks backend.Hooks, _ func() bool) (*conversion.Result, error) {
		for i := 0; i <= 100; i += 10 {
			hooks.Progress(i, "Converting")
		}
		return &conversion.Result{EntryCount: 10}, nil
	}}

	w := workflow.NewWorker("tome-00000001", validConfig(), b, bus, logging.NewNop(), 10*time.Millisecond)
	w.Start()

	got := drainUntilTerminal(t, sub, 2*time.Second)
	last := got[len(got)-1]
	if _, ok := last.(events.Completed); !ok {
		t.Fatalf("expected Completed last, got %T", last)
	}

	prev := -1
	var finalPercent int
	for _, ev := range got[:len(got)-1] {
		p, ok := ev.(events.Progress)
		if !ok {
			continue
		}
		if p.Percent < prev {
			t.Fatalf("progress went backwards: %d after %d", p.Percent, prev)
		}
		prev = p.Percent
		finalPercent = p.Percent
	}
	if finalPercent != 100 {
		t.Fatalf("final reported value must survive coalescing, got %d", finalPercent)
	}
}

func TestWorkerThrottleCoalescesBursts(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	const updates = 200
	b := &stubBackend{run: func(_ context.Context, _ conversion.Config, hooks backend.Hooks, _ func() bool) (*conversion.Result, error) {
		for i := 0; i <= updates; i++ {
			hooks.Progress(i*100/updates, "Converting")
		}
		return &conversion.Result{}, nil
	}}

	w := workflow.NewWorker("tome-00000002", validConfig(), b, bus, logging.NewNop(), 50*time.Millisecond)
	w.Start()

	got := drainUntilTerminal(t, sub, 2*time.Second)
	progressCount := 0
	for _, ev := range got {
		if _, ok := ev.(events.Progress); ok {
			progressCount++
		}
	}
	if progressCount >= updates {
		t.Fatalf("expected coalescing, got %d progress events for %d updates", progressCount, updates)
	}
	if progressCount == 0 {
		t.Fatal("expected at least one progress event")
	}
}

func TestWorkerClampsAndFlagsIndeterminate(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	b := &stubBackend{run: func(_ context.Context, _ conversion.Config, hooks backend.Hooks, _ func() bool) (*conversion.Result, error) {
		hooks.Progress(-1, "working")
		time.Sleep(5 * time.Millisecond)
		hooks.Progress(42, "Preparing document")
		time.Sleep(5 * time.Millisecond)
		hooks.Progress(150, "Converting")
		return &conversion.Result{}, nil
	}}

	w := workflow.NewWorker("tome-00000003", validConfig(), b, bus, logging.NewNop(), time.Millisecond)
	w.Start()

	got := drainUntilTerminal(t, sub, 2*time.Second)
	var progress []events.Progress
	for _, ev := range got {
		if p, ok := ev.(events.Progress); ok {
			progress = append(progress, p)
		}
	}
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(progress))
	}
	if !progress[0].Indeterminate || progress[0].Percent != 0 {
		t.Fatalf("negative percent should be indeterminate and clamped: %+v", progress[0])
	}
	if !progress[1].Indeterminate {
		t.Fatalf("phase keyword should force indeterminate: %+v", progress[1])
	}
	if progress[2].Indeterminate || progress[2].Percent != 100 {
		t.Fatalf("overshoot should clamp to 100: %+v", progress[2])
	}
}

func TestWorkerCancelNeverCompleted(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	started := make(chan struct{})
	b := &stubBackend{run: func(ctx context.Context, _ conversion.Config, hooks backend.Hooks, cancelled func() bool) (*conversion.Result, error) {
		close(started)
		for !cancelled() {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
		return &conversion.Result{}, nil
	}}

	w := workflow.NewWorker("tome-00000004", validConfig(), b, bus, logging.NewNop(), time.Millisecond)
	w.Start()
	<-started
	w.Cancel()
	w.Cancel()

	got := drainUntilTerminal(t, sub, 2*time.Second)
	last := got[len(got)-1]
	if _, ok := last.(events.Canceled); !ok {
		t.Fatalf("expected Canceled, got %T", last)
	}
	for _, ev := range got {
		if _, ok := ev.(events.Completed); ok {
			t.Fatal("Completed must never follow a Cancel request")
		}
	}
}

func TestWorkerCancelAfterBackendSuccessYieldsCanceled(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	release := make(chan struct{})
	b := &stubBackend{run: func(context.Context, conversion.Config, backend.Hooks, func() bool) (*conversion.Result, error) {
		<-release
		return &conversion.Result{}, nil
	}}

	w := workflow.NewWorker("tome-00000005", validConfig(), b, bus, logging.NewNop(), time.Millisecond)
	w.Start()
	w.Cancel()
	close(release)

	got := drainUntilTerminal(t, sub, 2*time.Second)
	if _, ok := got[len(got)-1].(events.Canceled); !ok {
		t.Fatalf("expected Canceled, got %T", got[len(got)-1])
	}
}

func TestWorkerPanicBecomesFailed(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	b := &stubBackend{run: func(context.Context, conversion.Config, backend.Hooks, func() bool) (*conversion.Result, error) {
		panic("backend exploded")
	}}

	w := workflow.NewWorker("tome-00000006", validConfig(), b, bus, logging.NewNop(), time.Millisecond)
	w.Start()

	got := drainUntilTerminal(t, sub, 2*time.Second)
	failed, ok := got[len(got)-1].(events.Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", got[len(got)-1])
	}
	if failed.Err == nil || failed.Err.Code != errs.CodeBackendFailure {
		t.Fatalf("expected classified backend failure, got %+v", failed.Err)
	}
	if !w.Wait(time.Second) {
		t.Fatal("worker goroutine should exit after panic")
	}
}

func TestWorkerClassifiesBackendError(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	b := &stubBackend{run: func(context.Context, conversion.Config, backend.Hooks, func() bool) (*conversion.Result, error) {
		return nil, errors.New("file is encrypted")
	}}

	w := workflow.NewWorker("tome-00000007", validConfig(), b, bus, logging.NewNop(), time.Millisecond)
	w.Start()

	got := drainUntilTerminal(t, sub, 2*time.Second)
	failed, ok := got[len(got)-1].(events.Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", got[len(got)-1])
	}
	if failed.Err.Code != errs.CodePDFEncrypted {
		t.Fatalf("expected PDF_ENCRYPTED, got %s", failed.Err.Code)
	}
}
