package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scribe/internal/config"
)

const userAgent = "scribe/1"

// maxReasonRunes bounds the failure text included in a message.
const maxReasonRunes = 300

// Service is the notification surface used by the pipeline coordinator and CLI.
type Service interface {
	NotifyPipelineCompleted(ctx context.Context, pipelineID, userID string) error
	NotifyPipelineFailed(ctx context.Context, pipelineID, userID, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
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
}

func (n *ntfyService) NotifyPipelineCompleted(ctx context.Context, pipelineID, userID string) error {
	return n.send(ctx, payload{
		title:   "Scribe - Pipeline Done",
		message: fmt.Sprintf("✅ Pipeline %s finished%s", strings.TrimSpace(pipelineID), forUser(userID)),
		tags:    []string{"scribe", "pipeline", "done"},
	})
}

func (n *ntfyService) NotifyPipelineFailed(ctx context.Context, pipelineID, userID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	if r := []rune(reason); len(r) > maxReasonRunes {
		reason = string(r[:maxReasonRunes]) + "..."
	}
	return n.send(ctx, payload{
		title:    "Scribe - Pipeline Failed",
		message:  fmt.Sprintf("❌ Pipeline %s failed%s: %s", strings.TrimSpace(pipelineID), forUser(userID), reason),
		tags:     []string{"scribe", "pipeline", "error"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Scribe - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"scribe", "test"},
		priority: "low",
	})
}

func forUser(userID string) string {
	if userID = strings.TrimSpace(userID); userID != "" {
		return " for " + userID
	}
	return ""
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
	if data.priority != "" {
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

func (noopService) NotifyPipelineCompleted(context.Context, string, string) error { return nil }

func (noopService) NotifyPipelineFailed(context.Context, string, string, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
