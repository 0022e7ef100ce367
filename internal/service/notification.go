// Package service contains application services.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/TheraGate/internal/metrics"
	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

// defaultChannelTimeout bounds one channel delivery when none is configured.
const defaultChannelTimeout = 10 * time.Second

// NotificationService fans notifications out to every configured channel.
// Each channel runs in its own goroutine with its own timeout, on a context
// detached from the caller, so a slow or failing channel never delays the
// caller or the other channels.
type NotificationService struct {
	notifiers []notifier.Notifier
	authority notifier.Notifier
	timeout   time.Duration
	metrics   *metrics.Metrics

	wg sync.WaitGroup
}

// NewNotificationService creates a NotificationService. authority may be nil
// when no authority reporting channel is configured.
func NewNotificationService(notifiers []notifier.Notifier, authority notifier.Notifier, timeout time.Duration) *NotificationService {
	if timeout <= 0 {
		timeout = defaultChannelTimeout
	}
	return &NotificationService{
		notifiers: notifiers,
		authority: authority,
		timeout:   timeout,
	}
}

// SetMetrics enables per-channel delivery counters.
func (s *NotificationService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Notify starts delivery on every channel and returns immediately.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	base := context.WithoutCancel(ctx)
	for _, provider := range s.notifiers {
		s.deliver(base, provider, n)
	}
}

// NotifyAuthorities starts delivery on the authority channel. It reports
// false when no authority channel is configured.
func (s *NotificationService) NotifyAuthorities(ctx context.Context, n notifier.Notification) bool {
	if s.authority == nil {
		slog.Error("authority notification required but no authority channel configured",
			"incident_id", n.IncidentID, "title", n.Title)
		return false
	}
	s.deliver(context.WithoutCancel(ctx), s.authority, n)
	return true
}

func (s *NotificationService) deliver(ctx context.Context, provider notifier.Notifier, n notifier.Notification) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		err := provider.Send(cctx, n)
		s.metrics.Notification(provider.Name(), err)
		if err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"incident_id", n.IncidentID,
				"error", err,
			)
			return
		}
		slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}()
}

// Wait blocks until every in-flight delivery has finished.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

// Channels returns the names of the configured channels.
func (s *NotificationService) Channels() []string {
	names := make([]string, 0, len(s.notifiers))
	for _, n := range s.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
