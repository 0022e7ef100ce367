// Package pager implements a notifier.Notifier for Events-API style paging
// services. Incidents are triggered with the incident id as dedup key so a
// re-sent notification updates the same page.
package pager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

const providerName = "pager"

// Notifier triggers pages.
type Notifier struct {
	url        string
	routingKey string
	httpClient *http.Client
}

// NewNotifier creates a pager notifier posting events to url.
func NewNotifier(url, routingKey string) *Notifier {
	return &Notifier{url: url, routingKey: routingKey, httpClient: http.DefaultClient}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{Paging: true}
}

type event struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key,omitempty"`
	Payload     eventPayload `json:"payload"`
}

type eventPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	CustomDetails map[string]string `json:"custom_details,omitempty"`
}

// severity maps notification levels onto the paging service's four levels.
func severity(level string) string {
	switch level {
	case "critical", "error", "warning":
		return level
	default:
		return "info"
	}
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.url == "" || n.routingKey == "" {
		return notifier.ErrNotConfigured
	}

	source := notification.Source
	if source == "" {
		source = "theragate"
	}
	summary := notification.Title
	if notification.Message != "" {
		summary += ": " + notification.Message
	}
	if len(summary) > 1024 {
		summary = summary[:1024]
	}

	body, err := json.Marshal(event{
		RoutingKey:  n.routingKey,
		EventAction: "trigger",
		DedupKey:    notification.IncidentID,
		Payload: eventPayload{
			Summary:       summary,
			Source:        source,
			Severity:      severity(notification.Level),
			CustomDetails: notification.Fields,
		},
	})
	if err != nil {
		return fmt.Errorf("pager marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pager request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // URL from trusted config
	if err != nil {
		return fmt.Errorf("pager send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pager API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
