package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

// Event type constants for WebSocket messages.
const (
	EventAuditAlert       = "audit.alert"
	EventIncidentNotify   = "incident.notify"
	EventIncidentReported = "incident.reported"
	EventIncidentStatus   = "incident.status"
)

// AlertEvent is broadcast for every high or critical audit entry.
type AlertEvent struct {
	ID        string         `json:"id"`
	Kind      string         `json:"event"`
	Severity  string         `json:"severity"`
	SubjectID string         `json:"subject_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// IncidentStatusEvent is broadcast when an incident changes status.
type IncidentStatusEvent struct {
	IncidentID string `json:"incident_id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Resolution string `json:"resolution,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// Name identifies the hub as the "ws" notification channel.
func (h *Hub) Name() string { return "ws" }

func (h *Hub) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true}
}

// Send pushes an incident notification to every connected operator.
func (h *Hub) Send(ctx context.Context, n notifier.Notification) error {
	if h.ConnectionCount() == 0 {
		slog.Debug("no operators connected for local alert", "incident_id", n.IncidentID)
	}
	h.BroadcastEvent(ctx, EventIncidentNotify, n)
	return nil
}
