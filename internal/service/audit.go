package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TheraGate/internal/adapter/ws"
	"github.com/Strob0t/TheraGate/internal/config"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/logger"
	"github.com/Strob0t/TheraGate/internal/metrics"
	"github.com/Strob0t/TheraGate/internal/port/auditsink"
	"github.com/Strob0t/TheraGate/internal/port/broadcast"
	"github.com/Strob0t/TheraGate/internal/port/database"
)

// Escalator opens an incident for a critical audit entry.
type Escalator interface {
	Escalate(ctx context.Context, entry audit.Entry)
}

type logOptions struct {
	subjectID  string
	escalation bool
}

// AuditOption customizes one Log call.
type AuditOption func(*logOptions)

// WithSubject attaches the id of the user or account the entry is about.
func WithSubject(id string) AuditOption {
	return func(o *logOptions) { o.subjectID = id }
}

// WithoutEscalation suppresses incident escalation for a critical entry.
// The incident manager uses it for its own entries.
func WithoutEscalation() AuditOption {
	return func(o *logOptions) { o.escalation = false }
}

// AuditService records security and business audit entries. Entries at
// high or critical severity go to the high-assurance store and raise a
// real-time alert; critical entries are escalated to an incident. Every
// entry is mirrored best-effort to the remote collector.
type AuditService struct {
	cfg         config.Audit
	secure      database.AuditStore
	local       *audit.Buffer
	history     *audit.Buffer
	broadcaster broadcast.Broadcaster
	sink        auditsink.Sink
	metrics     *metrics.Metrics

	mu        sync.RWMutex
	escalator Escalator
	redact    func(string) string

	queueMu   sync.RWMutex // guards sends on queue against Close
	queue     chan auditsink.Record
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// NewAuditService creates the audit logger. secure, b and sink may be nil.
// A non-nil sink starts the mirror worker; call Close to drain it.
func NewAuditService(cfg config.Audit, secure database.AuditStore, b broadcast.Broadcaster, sink auditsink.Sink) *AuditService {
	s := &AuditService{
		cfg:         cfg,
		secure:      secure,
		local:       audit.NewBuffer(cfg.LocalCapacity),
		history:     audit.NewBuffer(cfg.HistoryCapacity),
		broadcaster: b,
		sink:        sink,
		done:        make(chan struct{}),
		now:         time.Now,
	}
	if sink != nil {
		size := cfg.RemoteQueueSize
		if size < 1 {
			size = 512
		}
		s.queue = make(chan auditsink.Record, size)
		go s.mirrorWorker()
	} else {
		close(s.done)
	}
	return s
}

// SetEscalator wires the incident manager. It is set after construction
// because the incident manager itself writes audit entries.
func (s *AuditService) SetEscalator(e Escalator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalator = e
}

// SetRedactor installs a scrubber applied to every string detail value.
func (s *AuditService) SetRedactor(fn func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redact = fn
}

// SetMetrics enables audit counters.
func (s *AuditService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Log records one entry and returns it. It never fails: persistence and
// delivery errors are logged.
func (s *AuditService) Log(ctx context.Context, kind audit.Kind, details map[string]any, sev audit.Severity, opts ...AuditOption) audit.Entry {
	o := logOptions{escalation: true}
	for _, opt := range opts {
		opt(&o)
	}
	if !sev.Valid() {
		slog.Warn("audit entry with unknown severity, recording as warning", "kind", kind, "severity", sev)
		sev = audit.SeverityWarning
	}

	s.mu.RLock()
	redact, escalator := s.redact, s.escalator
	s.mu.RUnlock()

	entry := audit.Entry{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Kind:      kind,
		Severity:  sev,
		Details:   s.enrich(ctx, details, o.subjectID, redact),
		SubjectID: o.subjectID,
	}

	tier := sev.Tier()
	switch tier {
	case audit.TierHighAssurance:
		s.persistSecure(ctx, &entry)
	default:
		s.local.Append(entry)
	}
	s.history.Append(entry)
	s.metrics.AuditEntry(string(sev), string(tier))
	s.mirror(entry)

	if sev.Alerts() {
		s.alert(ctx, entry)
	}
	if sev.Escalates() && o.escalation && escalator != nil {
		escalator.Escalate(ctx, entry)
	}
	return entry
}

// enrich copies details and merges the standard context fields.
func (s *AuditService) enrich(ctx context.Context, details map[string]any, subjectID string, redact func(string) string) map[string]any {
	out := make(map[string]any, len(details)+5)
	for k, v := range details {
		if str, ok := v.(string); ok && redact != nil {
			v = redact(str)
		}
		out[k] = v
	}
	out["app_version"] = s.cfg.AppVersion
	out["build"] = s.cfg.Build
	out["platform"] = s.cfg.Platform
	if id := logger.RequestID(ctx); id != "" {
		out["request_id"] = id
	}
	if subjectID != "" {
		out["subject_id"] = subjectID
	}
	return out
}

func (s *AuditService) persistSecure(ctx context.Context, entry *audit.Entry) {
	if s.secure == nil {
		slog.Error("no high-assurance audit store, keeping entry locally", "audit_id", entry.ID, "kind", entry.Kind)
		s.local.Append(*entry)
		return
	}
	if err := s.secure.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("high-assurance audit write failed, keeping entry locally",
			"audit_id", entry.ID, "kind", entry.Kind, "error", err)
		s.local.Append(*entry)
	}
}

// alert makes exactly one real-time alert attempt.
func (s *AuditService) alert(ctx context.Context, entry audit.Entry) {
	s.metrics.Alert()
	if s.broadcaster == nil {
		slog.Warn("security alert", "audit_id", entry.ID, "kind", entry.Kind, "severity", entry.Severity)
		return
	}
	s.broadcaster.BroadcastEvent(ctx, ws.EventAuditAlert, ws.AlertEvent{
		ID:        entry.ID,
		Kind:      string(entry.Kind),
		Severity:  string(entry.Severity),
		SubjectID: entry.SubjectID,
		Timestamp: entry.Timestamp,
		Details:   entry.Details,
	})
}

// mirror enqueues the entry for the remote collector without blocking.
func (s *AuditService) mirror(entry audit.Entry) {
	if s.queue == nil {
		return
	}
	rec := auditsink.Record{
		Timestamp:  entry.Timestamp,
		Event:      string(entry.Kind),
		Details:    entry.Details,
		Severity:   string(entry.Severity),
		SubjectID:  entry.SubjectID,
		AppVersion: s.cfg.AppVersion,
		Platform:   s.cfg.Platform,
	}
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		s.metrics.MirrorDrop()
		return
	}
	select {
	case s.queue <- rec:
	default:
		s.metrics.MirrorDrop()
		slog.Warn("audit mirror queue full, dropping record", "kind", entry.Kind)
	}
}

func (s *AuditService) mirrorWorker() {
	defer close(s.done)
	timeout := s.cfg.RemoteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for rec := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := s.sink.Send(ctx, rec)
		cancel()
		if err != nil {
			s.metrics.MirrorDrop()
			slog.Warn("audit mirror delivery failed", "event", rec.Event, "error", err)
		}
	}
}

// Recent returns at most n history entries, newest first.
func (s *AuditService) Recent(n int) []audit.Entry {
	return s.history.Recent(n)
}

// Local returns the general-tier store, oldest first.
func (s *AuditService) Local() []audit.Entry {
	return s.local.Snapshot()
}

// HighAssurance lists persisted entries at or above minSeverity.
func (s *AuditService) HighAssurance(ctx context.Context, minSeverity audit.Severity, limit int) ([]audit.Entry, error) {
	if s.secure == nil {
		return []audit.Entry{}, nil
	}
	return s.secure.ListAudit(ctx, minSeverity, limit)
}

// Close stops accepting mirror records and waits for the worker to drain.
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		s.queueMu.Lock()
		s.closed = true
		if s.queue != nil {
			close(s.queue)
		}
		s.queueMu.Unlock()
	})
	<-s.done
}
