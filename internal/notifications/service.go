package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autorec/internal/config"
)

const userAgent = "autorec/0.1"

// Event identifies a notification type.
type Event string

const (
	EventRecordingSaved Event = "recording_saved"
	EventSourceLost     Event = "source_lost"
	EventError          Event = "error"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys are documented per event on Publish.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRecordingSaved: cfg.Notifications.Saved,
			EventSourceLost:     cfg.Notifications.SourceLost,
			EventError:          cfg.Notifications.Errors,
			EventTest:           true,
		},
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
	enabled  map[Event]bool
}

// Publish formats and sends event. Recognized payload keys:
//
//	recording_saved: duration (string), separate (bool), summarized (bool), error (string)
//	source_lost:     source (string), action (string)
//	error:           context (string), error (string or error)
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventRecordingSaved:
		body := "🎙️ Recording saved"
		if duration := payload.text("duration"); duration != "" {
			body += " (" + duration + ")"
		}
		var details []string
		if payload.flag("separate") {
			details = append(details, "separate tracks")
		}
		if payload.flag("summarized") {
			details = append(details, "summary ready")
		}
		if len(details) > 0 {
			body += ": " + strings.Join(details, ", ")
		}
		if problem := payload.text("error"); problem != "" {
			body += "\n⚠️ " + problem
		}
		return message{
			title: "autorec - Recording Saved",
			body:  body,
			tags:  []string{"autorec", "recording", "saved"},
		}, true
	case EventSourceLost:
		source := payload.text("source")
		if source == "" {
			source = "shared source"
		}
		body := fmt.Sprintf("📺 Lost %s", source)
		if action := payload.text("action"); action != "" {
			body += ": " + action
		}
		return message{
			title:    "autorec - Source Lost",
			body:     body,
			tags:     []string{"autorec", "source", "lost"},
			priority: "high",
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := payload.text("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := payload.text("error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "autorec - Error",
			body:     builder.String(),
			tags:     []string{"autorec", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "autorec - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"autorec", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	}
	return ""
}

func (p Payload) flag(key string) bool {
	v, _ := p[key].(bool)
	return v
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
