package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	tgotel "github.com/Strob0t/TheraGate/internal/adapter/otel"
	"github.com/Strob0t/TheraGate/internal/config"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/keys"
	"github.com/Strob0t/TheraGate/internal/domain/webhook"
	"github.com/Strob0t/TheraGate/internal/logger"
	"github.com/Strob0t/TheraGate/internal/metrics"
	"github.com/Strob0t/TheraGate/internal/resilience"
)

// Outcome classifies what happened to one inbound delivery.
type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"  // queued for asynchronous dispatch
	OutcomeProcessed         Outcome = "processed" // dispatched inline and succeeded
	OutcomeIgnored           Outcome = "ignored"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeFailed            Outcome = "failed"
	OutcomeMalformed         Outcome = "malformed"
	OutcomeMissingSignature  Outcome = "missing_signature"
	OutcomeInvalidSignature  Outcome = "invalid_signature"
	OutcomeStale             Outcome = "stale"
	OutcomeSecretUnavailable Outcome = "secret_unavailable"
	OutcomeQueueFull         Outcome = "queue_full"
)

// AcceptResult is returned by Accept.
type AcceptResult struct {
	Outcome Outcome
	EventID string
	Result  webhook.Result // set when the event was dispatched inline or was a duplicate
	Err     error
}

type queuedEvent struct {
	event     *webhook.Event
	requestID string
}

// WebhookService is the ingestion pipeline: verify, decode, deduplicate and
// hand the event to the retry coordinator, inline or through a bounded queue
// drained by a worker pool.
type WebhookService struct {
	cfg        config.Webhook
	env        keys.Environment
	verifier   *webhook.Verifier
	ledger     *webhook.Ledger
	keys       *KeyService
	dispatcher *Dispatcher
	retry      *RetryCoordinator
	audit      *AuditService
	bulkhead   *resilience.Bulkhead
	metrics    *metrics.Metrics
	otelMets   *tgotel.Metrics

	mu     sync.RWMutex
	queue  chan queuedEvent
	closed bool
	wg     sync.WaitGroup
}

// NewWebhookService creates the ingestion pipeline. Call Start to launch the
// workers when cfg.Async is set.
func NewWebhookService(cfg config.Webhook, keySvc *KeyService, dispatcher *Dispatcher, retry *RetryCoordinator, auditSvc *AuditService) *WebhookService {
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	return &WebhookService{
		cfg:        cfg,
		env:        keys.Environment(cfg.Environment),
		verifier:   webhook.NewVerifier(cfg.Tolerance),
		ledger:     webhook.NewLedger(cfg.LedgerCapacity),
		keys:       keySvc,
		dispatcher: dispatcher,
		retry:      retry,
		audit:      auditSvc,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrent),
		queue:      make(chan queuedEvent, size),
	}
}

// SetMetrics enables ingestion counters.
func (s *WebhookService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetOTelMetrics enables the OTLP verification counter.
func (s *WebhookService) SetOTelMetrics(m *tgotel.Metrics) { s.otelMets = m }

// SetVerifier replaces the signature verifier, e.g. to inject a clock.
func (s *WebhookService) SetVerifier(v *webhook.Verifier) { s.verifier = v }

// Ledger exposes the dedup ledger for health reporting.
func (s *WebhookService) Ledger() *webhook.Ledger { return s.ledger }

// Start launches the dispatch workers. ctx bounds the workers' lifetime;
// Close drains the queue first.
func (s *WebhookService) Start(ctx context.Context) {
	if !s.cfg.Async {
		return
	}
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := range workers {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	slog.Info("webhook workers started", "workers", workers, "queue_size", cap(s.queue), "max_concurrent", s.bulkhead.Limit())
}

func (s *WebhookService) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for item := range s.queue {
		s.metrics.QueueDepth(len(s.queue))
		evCtx := logger.WithEventID(ctx, item.event.ID)
		if item.requestID != "" {
			evCtx = logger.WithRequestID(evCtx, item.requestID)
		}
		err := s.bulkhead.Do(evCtx, func() {
			s.dispatch(evCtx, item.event)
		})
		if err != nil {
			// The event never ran; let a redelivery through.
			s.ledger.Forget(item.event.ID)
			slog.Error("webhook worker stopped before dispatch", "worker", id, "event_id", item.event.ID, "error", err)
		}
	}
}

// Accept runs the synchronous part of ingestion for one delivery. Every
// outcome, including rejections, is audited before Accept returns.
func (s *WebhookService) Accept(ctx context.Context, payload []byte, signatureHeader string) AcceptResult {
	if signatureHeader == "" {
		s.reject(ctx, audit.KindWebhookSignatureInvalid, audit.SeverityWarning, "missing signature header", nil)
		return s.outcome(AcceptResult{Outcome: OutcomeMissingSignature, Err: webhook.ErrMalformedHeader})
	}

	secret, err := s.keys.WebhookSecret(ctx, s.env)
	if err != nil {
		slog.Error("webhook secret unavailable", "environment", s.env, "error", err)
		return s.outcome(AcceptResult{Outcome: OutcomeSecretUnavailable, Err: err})
	}

	vctx, span := tgotel.StartVerifySpan(ctx, len(payload))
	err = s.verifier.VerifyDetailed(payload, signatureHeader, secret)
	tgotel.EndSpan(span, err)
	if err != nil {
		return s.outcome(s.rejectSignature(vctx, err))
	}

	ev, err := webhook.ParseEvent(payload)
	if err != nil {
		s.reject(ctx, audit.KindWebhookMalformed, audit.SeverityWarning, "malformed payload", err)
		return s.outcome(AcceptResult{Outcome: OutcomeMalformed, Err: err})
	}
	ctx = logger.WithEventID(ctx, ev.ID)

	if !s.cfg.Async {
		res := s.Process(ctx, ev)
		return s.outcome(AcceptResult{Outcome: outcomeFor(res), EventID: ev.ID, Result: res, Err: res.Err})
	}

	if !s.ledger.MarkSeen(ev.ID) {
		res := webhook.Ignored(webhook.ReasonDuplicate)
		s.dispatcher.Record(ctx, ev, res)
		return s.outcome(AcceptResult{Outcome: OutcomeDuplicate, EventID: ev.ID, Result: res})
	}
	if !s.enqueue(queuedEvent{event: ev, requestID: logger.RequestID(ctx)}) {
		s.ledger.Forget(ev.ID)
		s.audit.Log(ctx, audit.KindWebhookQueueFull, map[string]any{
			"event_id":   ev.ID,
			"event_type": string(ev.Type),
			"queue_size": cap(s.queue),
		}, audit.SeverityHigh)
		return s.outcome(AcceptResult{Outcome: OutcomeQueueFull, EventID: ev.ID})
	}
	s.metrics.QueueDepth(len(s.queue))
	// The dispatch entry follows from the worker; this one precedes the 200.
	s.audit.Log(ctx, audit.KindWebhookAccepted, map[string]any{
		"event_id":   ev.ID,
		"event_type": string(ev.Type),
	}, audit.SeverityInfo)
	return s.outcome(AcceptResult{Outcome: OutcomeAccepted, EventID: ev.ID})
}

func (s *WebhookService) enqueue(item queuedEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- item:
		return true
	default:
		return false
	}
}

func (s *WebhookService) rejectSignature(ctx context.Context, err error) AcceptResult {
	switch {
	case errors.Is(err, webhook.ErrTimestampOutsideTolerance):
		s.otelMets.RecordVerifyFailure(ctx, "timestamp")
		s.reject(ctx, audit.KindWebhookTimestampRejected, audit.SeverityWarning, "timestamp outside tolerance", err)
		return AcceptResult{Outcome: OutcomeStale, Err: err}
	case errors.Is(err, webhook.ErrMalformedHeader):
		s.otelMets.RecordVerifyFailure(ctx, "header")
		s.reject(ctx, audit.KindWebhookSignatureInvalid, audit.SeverityWarning, "malformed signature header", err)
		return AcceptResult{Outcome: OutcomeMissingSignature, Err: err}
	case errors.Is(err, webhook.ErrEmptySecret):
		s.otelMets.RecordVerifyFailure(ctx, "secret")
		s.reject(ctx, audit.KindWebhookSecretUnavailable, audit.SeverityHigh, "signing secret is empty", err)
		return AcceptResult{Outcome: OutcomeSecretUnavailable, Err: err}
	default:
		s.otelMets.RecordVerifyFailure(ctx, "signature")
		s.reject(ctx, audit.KindWebhookSignatureInvalid, audit.SeverityHigh, "signature mismatch", err)
		return AcceptResult{Outcome: OutcomeInvalidSignature, Err: err}
	}
}

func (s *WebhookService) reject(ctx context.Context, kind audit.Kind, sev audit.Severity, reason string, err error) {
	details := map[string]any{"reason": reason}
	if err != nil {
		details["error"] = err.Error()
	}
	s.audit.Log(ctx, kind, details, sev)
}

func (s *WebhookService) outcome(r AcceptResult) AcceptResult {
	s.metrics.WebhookRequest(string(r.Outcome))
	return r
}

func outcomeFor(res webhook.Result) Outcome {
	switch {
	case res.IsDuplicate():
		return OutcomeDuplicate
	case res.Status == webhook.StatusIgnored:
		return OutcomeIgnored
	case res.Status == webhook.StatusFailure:
		return OutcomeFailed
	default:
		return OutcomeProcessed
	}
}

// Process deduplicates ev and dispatches it through the retry coordinator.
func (s *WebhookService) Process(ctx context.Context, ev *webhook.Event) webhook.Result {
	if !s.ledger.MarkSeen(ev.ID) {
		res := webhook.Ignored(webhook.ReasonDuplicate)
		s.dispatcher.Record(ctx, ev, res)
		return res
	}
	return s.dispatch(ctx, ev)
}

// dispatch runs an already-marked event. An event whose transient failure
// outlived the retry budget is forgotten so a provider redelivery can run it.
func (s *WebhookService) dispatch(ctx context.Context, ev *webhook.Event) webhook.Result {
	res := s.retry.ProcessWithRetry(ctx, ev)
	if res.Status == webhook.StatusFailure && errors.Is(res.Err, webhook.ErrTransient) {
		s.ledger.Forget(ev.ID)
	}
	return res
}

// Close stops accepting events and waits until the queue is drained.
func (s *WebhookService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}
