package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	tgotel "github.com/Strob0t/TheraGate/internal/adapter/otel"
	"github.com/Strob0t/TheraGate/internal/config"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/webhook"
	"github.com/Strob0t/TheraGate/internal/metrics"
)

// EventHandler is the part of the Dispatcher the retry coordinator drives.
type EventHandler interface {
	Attempt(ctx context.Context, ev *webhook.Event) webhook.Result
	Record(ctx context.Context, ev *webhook.Event, res webhook.Result) audit.Entry
}

// RetryCoordinator re-runs transient handler failures with exponential
// backoff and records one audit entry for the final outcome.
type RetryCoordinator struct {
	handler  EventHandler
	cfg      config.Retry
	metrics  *metrics.Metrics
	otelMets *tgotel.Metrics
}

// NewRetryCoordinator creates a RetryCoordinator.
func NewRetryCoordinator(handler EventHandler, cfg config.Retry) *RetryCoordinator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryCoordinator{handler: handler, cfg: cfg}
}

// SetMetrics enables the retry counter.
func (r *RetryCoordinator) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// SetOTelMetrics enables the OTLP dispatch instruments.
func (r *RetryCoordinator) SetOTelMetrics(m *tgotel.Metrics) { r.otelMets = m }

func (r *RetryCoordinator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.Multiplier > 0 {
		b.Multiplier = r.cfg.Multiplier
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	return b
}

// ProcessWithRetry dispatches ev, retrying only failures that wrap
// webhook.ErrTransient, within the configured attempt budget and deadline.
func (r *RetryCoordinator) ProcessWithRetry(ctx context.Context, ev *webhook.Event) webhook.Result {
	ctx, span := tgotel.StartDispatchSpan(ctx, ev.ID, string(ev.Type))
	start := time.Now()

	attemptCtx := ctx
	if r.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Deadline)
		defer cancel()
	}

	var (
		last     webhook.Result
		attempts int
	)
	op := func() (webhook.Result, error) {
		attempts++
		if attempts > 1 {
			r.metrics.Retry()
		}
		last = r.handler.Attempt(attemptCtx, ev)
		if last.Status != webhook.StatusFailure {
			return last, nil
		}
		if errors.Is(last.Err, webhook.ErrTransient) {
			return last, last.Err
		}
		return last, backoff.Permanent(last.Err)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("webhook handler failed, retrying",
				"event_id", ev.ID, "event_type", ev.Type, "attempt", attempts, "wait", wait, "error", err)
		}),
	}
	if r.cfg.Deadline > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(r.cfg.Deadline))
	}
	_, _ = backoff.Retry(attemptCtx, op, opts...)

	// Retry can stop on the deadline before the first attempt runs.
	if attempts == 0 {
		err := attemptCtx.Err()
		if err == nil {
			err = errors.New("no attempt made")
		}
		last = webhook.Failure(webhook.Transient(err))
	}
	last.Attempts = attempts
	if last.Status == webhook.StatusFailure && errors.Is(last.Err, webhook.ErrTransient) {
		last.Severity = string(audit.SeverityHigh)
		last.Message = fmt.Sprintf("retries exhausted after %d attempts: %s", attempts, last.Message)
		slog.Error("webhook retries exhausted", "event_id", ev.ID, "event_type", ev.Type, "attempts", attempts, "error", last.Err)
	}

	r.handler.Record(ctx, ev, last)
	r.otelMets.RecordDispatch(ctx, string(ev.Type), string(last.Status), time.Since(start).Seconds())
	tgotel.EndSpan(span, last.Err)
	return last
}
