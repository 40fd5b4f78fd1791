package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bindery/internal/config"
	"bindery/internal/conversion"
)

type captured struct {
	title    string
	priority string
	body     string
}

func newTestService(t *testing.T, handler http.HandlerFunc) (*ntfyService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &ntfyService{
		endpoint: server.URL,
		client:   server.Client(),
		attempts: 3,
		dedup:    newDeduper(time.Minute),
	}, server
}

func TestNotifyCompletedSendsOnce(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []captured
	)
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, 512)
		n, _ := r.Body.Read(body)
		mu.Lock()
		sent = append(sent, captured{
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			body:     string(body[:n]),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	result := &conversion.Result{ModuleID: "tome", EntryCount: 12, Elapsed: 3 * time.Second}
	if err := svc.NotifyConversionCompleted(context.Background(), "tome-1", result); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	// Duplicate terminal outcome for the same job is suppressed.
	if err := svc.NotifyConversionCompleted(context.Background(), "tome-1", result); err != nil {
		t.Fatalf("duplicate notify errored: %v", err)
	}
	// A different job still sends.
	if err := svc.NotifyConversionCompleted(context.Background(), "tome-2", result); err != nil {
		t.Fatalf("second job notify failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sent))
	}
	if sent[0].title != "Bindery - Complete" || sent[0].priority != "high" {
		t.Fatalf("unexpected request: %+v", sent[0])
	}
}

func TestSendRetriesOnServerError(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	svc, _ := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		failing := calls < 3
		mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestSendGivesUpAfterAttempts(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	svc.attempts = 2

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected delivery failure")
	}
}

func TestDeduperWindowExpiry(t *testing.T) {
	d := newDeduper(20 * time.Millisecond)
	if !d.first("job", "failed") {
		t.Fatal("first occurrence should pass")
	}
	if d.first("job", "failed") {
		t.Fatal("duplicate inside window should be suppressed")
	}
	if !d.first("job", "canceled") {
		t.Fatal("different outcome should pass")
	}
	time.Sleep(30 * time.Millisecond)
	if !d.first("job", "failed") {
		t.Fatal("occurrence after window should pass again")
	}
}

func TestNewServiceWithoutTopicIsNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := NewService(&cfg)
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", svc)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop should never fail: %v", err)
	}
}
