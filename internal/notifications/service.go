// Package notifications pushes operator alerts through ntfy. With no topic
// configured every call is a silent noop; workflow components never have to
// check whether notifications are enabled.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loom/internal/config"
)

const userAgent = "Loom-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyStall(ctx context.Context, itemID int64, title, dotPath string, minutes int) error
	NotifyEscalation(ctx context.Context, itemID int64, title, reason string) error
	NotifyTransition(ctx context.Context, itemID int64, title, from, to string) error
	NotifyError(ctx context.Context, err error, context string) error
	NotifyDaemonStatus(ctx context.Context, status string) error
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

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		stalls:      cfg.Notifications.Stalls,
		escalations: cfg.Notifications.Escalations,
		transitions: cfg.Notifications.Transitions,
		errors:      cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	stalls      bool
	escalations bool
	transitions bool
	errors      bool
}

func (n *ntfyService) NotifyStall(ctx context.Context, itemID int64, title, dotPath string, minutes int) error {
	if !n.stalls {
		return nil
	}
	data := payload{
		title:   "Loom - Item Stalled",
		message: fmt.Sprintf("#%d %s has sat at %s for %d minutes", itemID, strings.TrimSpace(title), dotPath, minutes),
		tags:    []string{"loom", "stall"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyEscalation(ctx context.Context, itemID int64, title, reason string) error {
	if !n.escalations {
		return nil
	}
	data := payload{
		title:    "Loom - Escalation Required",
		message:  fmt.Sprintf("#%d %s needs a human: %s", itemID, strings.TrimSpace(title), strings.TrimSpace(reason)),
		tags:     []string{"loom", "escalation"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTransition(ctx context.Context, itemID int64, title, from, to string) error {
	if !n.transitions {
		return nil
	}
	data := payload{
		title:   "Loom - Transition",
		message: fmt.Sprintf("#%d %s moved %s -> %s", itemID, strings.TrimSpace(title), from, to),
		tags:    []string{"loom", "transition"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Loom - Error",
		message:  builder.String(),
		tags:     []string{"loom", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonStatus(ctx context.Context, status string) error {
	data := payload{
		title:    "Loom - Daemon",
		message:  fmt.Sprintf("loomd %s", strings.TrimSpace(status)),
		tags:     []string{"loom", "daemon"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Loom - Test",
		message:  "Notification system test",
		tags:     []string{"loom", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

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

type noopService struct{}

func (noopService) NotifyStall(context.Context, int64, string, string, int) error     { return nil }
func (noopService) NotifyEscalation(context.Context, int64, string, string) error     { return nil }
func (noopService) NotifyTransition(context.Context, int64, string, string, string) error {
	return nil
}
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) NotifyDaemonStatus(context.Context, string) error { return nil }
func (noopService) TestNotification(context.Context) error           { return nil }
