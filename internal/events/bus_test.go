package events_test

import (
	"testing"
	"time"

	"bindery/internal/conversion"
	"bindery/internal/events"
)

func collect(sub *events.Subscription, max int, wait time.Duration) []events.Event {
	var got []events.Event
	deadline := time.After(wait)
	for len(got) < max {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			return got
		}
	}
	return got
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(events.Started{JobID: "tome-1a2b3c4d"})

	for _, sub := range []*events.Subscription{a, b} {
		got := collect(sub, 1, time.Second)
		if len(got) != 1 {
			t.Fatalf("expected 1 event, got %d", len(got))
		}
		if _, ok := got[0].(events.Started); !ok {
			t.Fatalf("unexpected event %T", got[0])
		}
	}
}

func TestSlowSubscriberDropsProgressNeverTerminal(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	sub := bus.SubscribeBuffered(2)

	// Nobody drains; the buffer fills with progress events.
	for i := 0; i < 10; i++ {
		bus.Publish(events.Progress{JobID: "j", Percent: i * 10})
	}
	bus.Publish(events.Completed{JobID: "j", Result: &conversion.Result{}})

	got := collect(sub, 2, time.Second)
	if len(got) != 2 {
		t.Fatalf("expected buffered events, got %d", len(got))
	}
	last := got[len(got)-1]
	if _, ok := last.(events.Completed); !ok {
		t.Fatalf("terminal event must survive backpressure, last was %T", last)
	}
}

func TestTerminalEventEvictsOldest(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	sub := bus.SubscribeBuffered(1)
	bus.Publish(events.Progress{JobID: "j", Percent: 10})
	bus.Publish(events.Canceled{JobID: "j"})

	got := collect(sub, 1, time.Second)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if _, ok := got[0].(events.Canceled); !ok {
		t.Fatalf("expected Canceled after eviction, got %T", got[0])
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	// Publishing after close must not panic or deliver.
	bus.Publish(events.Finished{JobID: "j"})
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	bus.Close()
	bus.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel after bus close")
	}
	// Subscribing after close yields an already-closed subscription.
	late := bus.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Fatal("expected closed channel for late subscriber")
	}
	bus.Publish(events.Finished{JobID: "j"})
}
