// Package notifications pushes conversion lifecycle notifications over
// ntfy. Terminal outcomes are deduplicated per job so observers receive at
// most one notification per outcome within the configured window.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"bindery/internal/config"
	"bindery/internal/conversion"
)

const userAgent = "Bindery/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyConversionStarted(ctx context.Context, jobID, moduleTitle string) error
	NotifyConversionCompleted(ctx context.Context, jobID string, result *conversion.Result) error
	NotifyConversionFailed(ctx context.Context, jobID, moduleTitle string, err error) error
	NotifyConversionCanceled(ctx context.Context, jobID, moduleTitle string) error
	NotifyRetryScheduled(ctx context.Context, jobID string, attempt int, delay time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.Notifications.SendAttempts
	if attempts < 1 {
		attempts = 3
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		dedup:    newDeduper(cfg.DedupWindow()),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	attempts int
	dedup    *deduper
}

func (n *ntfyService) NotifyConversionStarted(ctx context.Context, jobID, moduleTitle string) error {
	if !n.dedup.first(jobID, "started") {
		return nil
	}
	data := payload{
		title:   "Bindery - Conversion Started",
		message: fmt.Sprintf("Converting: %s", strings.TrimSpace(moduleTitle)),
		tags:    []string{"bindery", "conversion", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyConversionCompleted(ctx context.Context, jobID string, result *conversion.Result) error {
	if !n.dedup.first(jobID, "completed") {
		return nil
	}
	message := "Conversion complete"
	if result != nil {
		message = fmt.Sprintf("Module ready: %s (%d entries in %s)",
			result.ModuleID, result.EntryCount, result.Elapsed.Round(time.Second))
	}
	data := payload{
		title:    "Bindery - Complete",
		message:  message,
		tags:     []string{"bindery", "conversion", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyConversionFailed(ctx context.Context, jobID, moduleTitle string, err error) error {
	if !n.dedup.first(jobID, "failed") {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Conversion failed")
	if moduleTitle = strings.TrimSpace(moduleTitle); moduleTitle != "" {
		builder.WriteString(": ")
		builder.WriteString(moduleTitle)
	}
	if err != nil {
		builder.WriteString("\n")
		builder.WriteString(strings.TrimSpace(err.Error()))
	}
	data := payload{
		title:    "Bindery - Failed",
		message:  builder.String(),
		tags:     []string{"bindery", "conversion", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyConversionCanceled(ctx context.Context, jobID, moduleTitle string) error {
	if !n.dedup.first(jobID, "canceled") {
		return nil
	}
	data := payload{
		title:   "Bindery - Cancelled",
		message: fmt.Sprintf("Conversion cancelled: %s", strings.TrimSpace(moduleTitle)),
		tags:    []string{"bindery", "conversion", "cancelled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRetryScheduled(ctx context.Context, jobID string, attempt int, delay time.Duration) error {
	data := payload{
		title:   "Bindery - Retry Scheduled",
		message: fmt.Sprintf("Retry %d in %s (job %s)", attempt, delay.Round(time.Millisecond), jobID),
		tags:    []string{"bindery", "recovery", "retry"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Bindery - Test",
		message:  "Notification system test",
		tags:     []string{"bindery", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	return retry.Do(
		func() error { return n.post(ctx, data) },
		retry.Context(ctx),
		retry.Attempts(uint(n.attempts)),
		retry.Delay(250*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

func (n *ntfyService) post(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// deduper remembers which (job, outcome) pairs have been sent within the
// TTL window. Best effort: entries expire, so a very old duplicate can
// send again.
type deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newDeduper(ttl time.Duration) *deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &deduper{ttl: ttl, seen: make(map[string]time.Time)}
}

// first reports whether this is the first occurrence of the key within the
// window, recording it when so.
func (d *deduper) first(jobID, outcome string) bool {
	key := jobID + ":" + outcome
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	if at, ok := d.seen[key]; ok && now.Sub(at) <= d.ttl {
		return false
	}
	d.seen[key] = now
	return true
}

type noopService struct{}

func (noopService) NotifyConversionStarted(context.Context, string, string) error { return nil }
func (noopService) NotifyConversionCompleted(context.Context, string, *conversion.Result) error {
	return nil
}
func (noopService) NotifyConversionFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyConversionCanceled(context.Context, string, string) error      { return nil }
func (noopService) NotifyRetryScheduled(context.Context, string, int, time.Duration) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
