// Package notify delivers best-effort notifications to the sinks named
// in disasterRecovery.notifications: a generic webhook, a Slack
// channel, and an email recipient list (logged, not sent — no SMTP
// client is wired up).
//
// Notification failures never propagate to the caller: Notifier.Send
// logs and discards the error each sink returns.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/aegis-dr/aegis/internal/config"
)

// Event is the payload delivered to every configured sink: a failover
// commit/rollback, a repeated health-check failure, or a conflict
// detected under manual resolution policy.
type Event struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"` // "failover" | "health" | "conflict"
	Regions  []string      `json:"regions"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message"`
}

// Sink delivers a notification Event. Implementations must not block
// indefinitely; ctx carries the caller's timeout.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Notifier fans an Event out to every configured sink, logging and
// discarding individual sink failures.
type Notifier struct {
	sinks  []Sink
	logger zerolog.Logger
}

// New builds a Notifier from the notifications section of the loaded
// configuration. Sinks with no configuration present are omitted.
func New(cfg config.NotificationsConfig, logger zerolog.Logger) *Notifier {
	n := &Notifier{logger: logger}
	if cfg.WebhookURL != "" {
		n.sinks = append(n.sinks, &webhookSink{url: cfg.WebhookURL, client: &http.Client{Timeout: 10 * time.Second}})
	}
	if cfg.SlackChannel != "" {
		n.sinks = append(n.sinks, &slackSink{channel: cfg.SlackChannel, webhookURL: cfg.WebhookURL})
	}
	if len(cfg.EmailRecipients) > 0 {
		n.sinks = append(n.sinks, &emailSink{recipients: cfg.EmailRecipients, logger: logger})
	}
	return n
}

// Send delivers ev to every configured sink in turn and returns
// once all sinks have been attempted. Sink failures are logged, never
// returned.
func (n *Notifier) Send(ctx context.Context, ev Event) {
	for _, s := range n.sinks {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.Warn().Err(err).Str("event_id", ev.ID).Str("kind", ev.Kind).Msg("notification sink failed")
		}
	}
}

type webhookSink struct {
	url    string
	client *http.Client
}

func (w *webhookSink) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type slackSink struct {
	channel string
	// webhookURL is the incoming-webhook URL Slack delivery posts to.
	// disasterRecovery.notifications carries one webhookUrl shared by
	// the generic webhook sink and this one. Empty is a configuration
	// error surfaced at Send time rather than at construction, matching
	// this sink's best-effort contract.
	webhookURL string
}

func (s *slackSink) Send(ctx context.Context, ev Event) error {
	if s.webhookURL == "" {
		return fmt.Errorf("notify: slack sink has no webhook url configured for channel %s", s.channel)
	}
	msg := &slack.WebhookMessage{
		Channel: s.channel,
		Text: fmt.Sprintf("[%s] %s — regions=%v outcome=%s duration=%s",
			ev.Kind, ev.Message, ev.Regions, ev.Outcome, ev.Duration),
	}
	return slack.PostWebhookContext(ctx, s.webhookURL, msg)
}

type emailSink struct {
	recipients []string
	logger     zerolog.Logger
}

// Send logs the notification rather than sending real email: no SMTP
// client is wired anywhere in this codebase's lineage, and the config
// schema gives no server/credentials to connect to one.
func (e *emailSink) Send(ctx context.Context, ev Event) error {
	e.logger.Info().
		Strs("recipients", e.recipients).
		Str("event_id", ev.ID).
		Str("kind", ev.Kind).
		Str("message", ev.Message).
		Msg("email notification (delivery not configured, logged only)")
	return nil
}
