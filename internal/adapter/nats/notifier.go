package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/TheraGate/internal/port/messagequeue"
	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

// Notifier publishes incident notifications on the message bus so other
// services can react to them.
type Notifier struct {
	queue messagequeue.Queue
}

// NewNotifier wraps a queue as the "nats" notification channel.
func NewNotifier(q messagequeue.Queue) *Notifier {
	return &Notifier{queue: q}
}

func (n *Notifier) Name() string { return "nats" }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

// Send publishes the notification on incidents.notify.
func (n *Notifier) Send(ctx context.Context, msg notifier.Notification) error {
	data, err := json.Marshal(messagequeue.IncidentNotifyPayload{
		IncidentID: msg.IncidentID,
		Title:      msg.Title,
		Message:    msg.Message,
		Level:      msg.Level,
		Source:     msg.Source,
		Fields:     msg.Fields,
	})
	if err != nil {
		return fmt.Errorf("nats notifier: marshal: %w", err)
	}
	return n.queue.Publish(ctx, messagequeue.SubjectIncidentNotify, data)
}
