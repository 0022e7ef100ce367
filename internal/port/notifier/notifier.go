// Package notifier defines the notification channel port (interface) and capabilities.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Level      string            `json:"level"`  // "info", "warning", "error", "critical"
	Source     string            `json:"source"` // e.g. "incident.reported", "webhook.dispute"
	IncidentID string            `json:"incident_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Paging         bool `json:"paging"`
}

// Notifier is the port interface for one notification channel.
type Notifier interface {
	// Name returns the unique identifier for this channel (e.g. "slack", "pager").
	Name() string

	// Capabilities returns what this channel supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
