package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sigilla/internal/config"
)

const userAgent = "sigilla/0.1"

// Event names a notification kind.
type Event string

const (
	EventDaemonStarted Event = "daemon_started"
	EventBackendExited Event = "backend_exited"
	EventError         Event = "error"
	EventTest          Event = "test"
)

// Payload carries event fields by name.
type Payload map[string]string

// Service publishes events. Implementations are safe for concurrent use.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: cfg.NotifyTimeout()},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }

	switch event {
	case EventDaemonStarted:
		body := fmt.Sprintf("Session %s ready", shortID(get("session_id")))
		if get("resumed") == "true" {
			body += " (resumed)"
		}
		return message{
			title: "Sigilla - Started",
			body:  body,
			tags:  []string{"sigilla", "daemon", "started"},
		}, true
	case EventBackendExited:
		body := fmt.Sprintf("claude exited for session %s", shortID(get("session_id")))
		if reason := get("error"); reason != "" {
			body += ": " + reason
		}
		body += "\nRestart with: sigilla restart"
		return message{
			title:    "Sigilla - Backend Exited",
			body:     body,
			tags:     []string{"sigilla", "backend", "alert"},
			priority: "high",
		}, true
	case EventError:
		var b strings.Builder
		b.WriteString("Error")
		if label := get("context"); label != "" {
			b.WriteString(" with ")
			b.WriteString(label)
		}
		b.WriteString(": ")
		if reason := get("error"); reason != "" {
			b.WriteString(reason)
		} else {
			b.WriteString("unknown")
		}
		return message{
			title:    "Sigilla - Error",
			body:     b.String(),
			tags:     []string{"sigilla", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Sigilla - Test",
			body:     "Notification system test",
			tags:     []string{"sigilla", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func shortID(id string) string {
	if id == "" {
		return "(unknown)"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Enabled reports whether svc delivers anywhere.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}
