package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"seisarchive/internal/config"
)

const userAgent = "seisarchive/0.1.0"

// Halt describes a file whose run stopped on a rejection or failure.
type Halt struct {
	File    string
	Stage   string
	Code    string
	Class   string
	Message string
}

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyHalt(ctx context.Context, halt Halt) error
	NotifyBatchCompleted(ctx context.Context, processed, halted int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy notifier. Without a topic every call is a no-op.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		topic:   topic,
		client:  &http.Client{Timeout: timeout},
		halts:   cfg.Notifications.Halts,
		batches: cfg.Notifications.Batches,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	topic   string
	client  *http.Client
	halts   bool
	batches bool
}

func (n *ntfyService) NotifyHalt(ctx context.Context, halt Halt) error {
	if !n.halts {
		return nil
	}
	body := fmt.Sprintf("%s halted at %s (%s)",
		strings.TrimSpace(halt.File), strings.TrimSpace(halt.Stage), strings.TrimSpace(halt.Code))
	if detail := strings.TrimSpace(halt.Message); detail != "" {
		body += "\n" + detail
	}
	tags := []string{"seisarchive", "halt", halt.Code}
	if halt.Class != "" {
		tags = append(tags, halt.Class)
	}
	return n.send(ctx, message{
		title:    "Archive - File Halted",
		body:     body,
		tags:     tags,
		priority: haltPriority(halt.Class),
	})
}

// haltPriority keeps routine rejections quiet and escalates store
// inconsistencies.
func haltPriority(class string) string {
	switch class {
	case "invariant":
		return "urgent"
	case "infrastructure":
		return "high"
	default:
		return ""
	}
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, processed, halted int, duration time.Duration) error {
	if !n.batches {
		return nil
	}
	duration = max(duration.Round(time.Second), 0)
	msg := message{
		title: "Archive - Batch Complete",
		body:  fmt.Sprintf("Batch complete: %d files processed in %s", processed, duration),
		tags:  []string{"seisarchive", "batch", "completed"},
	}
	if halted > 0 {
		msg.title = "Archive - Batch Complete (with halts)"
		msg.body = fmt.Sprintf("Batch complete: %d archived, %d halted in %s", processed-halted, halted, duration)
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, label string) error {
	reason := "unknown"
	if err != nil {
		reason = strings.TrimSpace(err.Error())
	}
	body := "Error: " + reason
	if label = strings.TrimSpace(label); label != "" {
		body = fmt.Sprintf("Error with %s: %s", label, reason)
	}
	return n.send(ctx, message{
		title:    "Archive - Error",
		body:     body,
		tags:     []string{"seisarchive", "error"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, message{
		title:    "Archive - Test",
		body:     "Notification system test",
		tags:     []string{"seisarchive", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topic, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	req.Header.Set("Tags", strings.Join(msg.tags, ","))
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyHalt(context.Context, Halt) error                              { return nil }
func (noopService) NotifyBatchCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
