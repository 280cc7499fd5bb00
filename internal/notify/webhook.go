// Package notify posts operator alerts to a Discord-compatible webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/events"
)

// ErrDisabled is returned by NewNotifier when no webhook is configured.
var ErrDisabled = errors.New("webhook notifications are disabled")

// Embed colors by level.
const (
	colorCritical = 0xFF0000
	colorWarning  = 0xFFAA00
	colorInfo     = 0x00AAFF
)

// Notifier forwards health warnings and unexpected disconnects.
type Notifier struct {
	cfg      config.NotifyConfig
	eventBus *events.EventBus
	client   *http.Client
}

// NewNotifier subscribes a notifier to bus.
func NewNotifier(cfg config.NotifyConfig, bus *events.EventBus) (*Notifier, error) {
	if cfg.WebhookURL == "" {
		return nil, ErrDisabled
	}
	n := &Notifier{
		cfg:      cfg,
		eventBus: bus,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.OnHealth {
		bus.Subscribe(events.EventHealthWarning, "notify.health", n.onHealthWarning)
	}
	if cfg.OnDisconnect {
		bus.Subscribe(events.EventDisconnected, "notify.disconnect", n.onDisconnected)
	}
	return n, nil
}

// Close unsubscribes the notifier.
func (n *Notifier) Close() {
	n.eventBus.Unsubscribe(events.EventHealthWarning, "notify.health")
	n.eventBus.Unsubscribe(events.EventDisconnected, "notify.disconnect")
}

func (n *Notifier) onHealthWarning(ctx context.Context, ev events.Event) error {
	p, ok := ev.Payload.(events.HealthWarningPayload)
	if !ok {
		return nil
	}
	title := "Health: " + p.Check
	if ev.Source != "" {
		title += " (" + ev.Source + ")"
	}
	return n.Send(ctx, title, p.Message, p.Level)
}

func (n *Notifier) onDisconnected(ctx context.Context, ev events.Event) error {
	p, ok := ev.Payload.(events.DisconnectedPayload)
	if !ok || p.Redirecting {
		return nil
	}
	reason := p.Reason
	if reason == "" {
		reason = "connection closed"
	}
	return n.Send(ctx, "Bot disconnected", fmt.Sprintf("%s: %s", ev.Source, reason), "warning")
}

// Send posts one embed to the webhook.
func (n *Notifier) Send(ctx context.Context, title, message, level string) error {
	color := colorInfo
	switch level {
	case "critical", "error":
		color = colorCritical
	case "warning":
		color = colorWarning
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
				"footer":      map[string]string{"text": "Mori"},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
	}

	log.Debug().Str("title", title).Msg("webhook notification sent")
	return nil
}
