package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	tgotel "github.com/Strob0t/TheraGate/internal/adapter/otel"
	"github.com/Strob0t/TheraGate/internal/adapter/ws"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/incident"
	"github.com/Strob0t/TheraGate/internal/metrics"
	"github.com/Strob0t/TheraGate/internal/port/broadcast"
	"github.com/Strob0t/TheraGate/internal/port/database"
	"github.com/Strob0t/TheraGate/internal/port/messagequeue"
	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

// defaultIncidentHost is used when a report names no host.
const defaultIncidentHost = "theragate"

// IncidentService tracks security incidents. Every report is written to the
// incident store and audited at critical severity before the notification
// fan-out starts.
type IncidentService struct {
	store    database.IncidentStore
	audit    *AuditService
	notify   *NotificationService
	hub      broadcast.Broadcaster
	queue    messagequeue.Queue
	metrics  *metrics.Metrics
	otelMets *tgotel.Metrics
	now      func() time.Time
}

// NewIncidentService creates the incident manager. hub may be nil.
func NewIncidentService(store database.IncidentStore, auditSvc *AuditService, notify *NotificationService, hub broadcast.Broadcaster) *IncidentService {
	return &IncidentService{
		store:  store,
		audit:  auditSvc,
		notify: notify,
		hub:    hub,
		now:    time.Now,
	}
}

// SetQueue enables publishing status changes to the message bus.
func (s *IncidentService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetMetrics enables incident counters.
func (s *IncidentService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetOTelMetrics enables the OTLP incident counter.
func (s *IncidentService) SetOTelMetrics(m *tgotel.Metrics) { s.otelMets = m }

// ReportIncident records a new incident and notifies every channel. The
// audit entry is always critical; sev is kept on the incident itself.
func (s *IncidentService) ReportIncident(ctx context.Context, typ incident.Type, host string, sev audit.Severity, details map[string]any) (*incident.Incident, error) {
	if _, err := incident.ParseType(string(typ)); err != nil {
		return nil, err
	}
	if !sev.Valid() {
		return nil, fmt.Errorf("report incident: unknown severity %q", sev)
	}
	inc := s.open(ctx, typ, host, sev, details, audit.KindIncidentReported)
	s.notify.Notify(ctx, s.notification(inc, "incident.reported"))
	return inc, nil
}

// ReportEmergency records an emergency at critical severity. The second
// return value reports whether authorities were notified, which happens only
// for types whose policy requires it.
func (s *IncidentService) ReportEmergency(ctx context.Context, typ incident.Type, host, reason, emergencyCode string) (*incident.Incident, bool, error) {
	if _, err := incident.ParseType(string(typ)); err != nil {
		return nil, false, err
	}
	details := map[string]any{
		"reason":         reason,
		"emergency_code": emergencyCode,
	}
	inc := s.open(ctx, typ, host, audit.SeverityCritical, details, audit.KindIncidentEmergency)

	n := s.notification(inc, "incident.emergency")
	s.notify.Notify(ctx, n)

	if !incident.NotifiesAuthorities(typ) {
		return inc, false, nil
	}
	notified := s.notify.NotifyAuthorities(ctx, n)
	slog.Info("authority notification", "incident_id", inc.ID, "type", typ, "dispatched", notified)
	return inc, notified, nil
}

// open creates, persists and audits an incident. A failed store write is
// logged and flagged on the audit entry; the notification fan-out still runs.
func (s *IncidentService) open(ctx context.Context, typ incident.Type, host string, sev audit.Severity, details map[string]any, kind audit.Kind) *incident.Incident {
	if host == "" {
		host = defaultIncidentHost
	}
	ctx, span := tgotel.StartEscalationSpan(ctx, string(typ), host)

	inc := incident.New(uuid.NewString(), typ, host, sev, details, s.now().UTC())
	persisted := true
	var err error
	if s.store != nil {
		err = s.store.CreateIncident(ctx, inc)
	}
	if err != nil {
		persisted = false
		slog.Error("incident ticket write failed", "incident_id", inc.ID, "type", typ, "error", err)
	}
	tgotel.EndSpan(span, err)

	auditDetails := map[string]any{
		"incident_id": inc.ID,
		"type":        string(typ),
		"host":        host,
		"severity":    string(sev),
		"persisted":   persisted,
	}
	for k, v := range details {
		if _, taken := auditDetails[k]; !taken {
			auditDetails[k] = v
		}
	}
	s.audit.Log(ctx, kind, auditDetails, audit.SeverityCritical, WithoutEscalation())

	s.metrics.Incident(string(typ))
	s.otelMets.RecordIncident(ctx, string(typ))
	slog.Warn("incident reported", "incident_id", inc.ID, "type", typ, "host", host, "severity", sev)
	return inc
}

func (s *IncidentService) notification(inc *incident.Incident, source string) notifier.Notification {
	msg := fmt.Sprintf("%s incident on %s (severity %s)", inc.Type, inc.Host, inc.Severity)
	if reason, ok := inc.Details["reason"].(string); ok && reason != "" {
		msg += ": " + reason
	}
	return notifier.Notification{
		Title:      "Security incident: " + string(inc.Type),
		Message:    msg,
		Level:      "critical",
		Source:     source,
		IncidentID: inc.ID,
		Fields: map[string]string{
			"type":     string(inc.Type),
			"host":     inc.Host,
			"severity": string(inc.Severity),
		},
	}
}

// UpdateIncidentStatus applies a lifecycle transition and appends it to the
// incident's history.
func (s *IncidentService) UpdateIncidentStatus(ctx context.Context, id string, status incident.Status, resolution string) (*incident.Incident, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	from := inc.Status
	change, err := inc.Transition(status, resolution, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendIncidentStatus(ctx, id, change); err != nil {
		return nil, fmt.Errorf("append incident status %s: %w", id, err)
	}

	s.audit.Log(ctx, audit.KindIncidentUpdated, map[string]any{
		"incident_id": id,
		"from":        string(from),
		"to":          string(status),
		"resolution":  resolution,
	}, audit.SeverityHigh, WithoutEscalation())

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventIncidentStatus, ws.IncidentStatusEvent{
			IncidentID: id,
			Type:       string(inc.Type),
			Status:     string(status),
			Resolution: resolution,
		})
	}
	s.publishStatus(ctx, id, change)
	return inc, nil
}

func (s *IncidentService) publishStatus(ctx context.Context, id string, change incident.StatusChange) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.IncidentStatusPayload{
		IncidentID: id,
		Status:     string(change.Status),
		Resolution: change.Resolution,
		ChangedAt:  change.ChangedAt.Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("marshal incident status", "incident_id", id, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectIncidentStatus, data); err != nil {
		slog.Warn("publish incident status failed", "incident_id", id, "error", err)
	}
}

// Get returns one incident with its full history.
func (s *IncidentService) Get(ctx context.Context, id string) (*incident.Incident, error) {
	return s.store.GetIncident(ctx, id)
}

// List returns the most recent incidents.
func (s *IncidentService) List(ctx context.Context, limit int) ([]incident.Incident, error) {
	return s.store.ListIncidents(ctx, limit)
}

// Escalate opens an incident for a critical audit entry. It implements
// Escalator for the audit logger.
func (s *IncidentService) Escalate(ctx context.Context, entry audit.Entry) {
	typ := incident.TypeForAuditKind(entry.Kind)
	host, _ := entry.Details["host"].(string)
	details := map[string]any{
		"audit_id":   entry.ID,
		"audit_kind": string(entry.Kind),
	}
	if entry.SubjectID != "" {
		details["subject_id"] = entry.SubjectID
	}
	if _, err := s.ReportIncident(ctx, typ, host, entry.Severity, details); err != nil {
		slog.Error("escalate audit entry", "audit_id", entry.ID, "kind", entry.Kind, "error", err)
	}
}

// HandleFinding consumes security.findings messages from the bus. Findings
// with an unknown type are logged and acknowledged.
func (s *IncidentService) HandleFinding(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.SecurityFindingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode security finding: %w", err)
	}
	typ, err := incident.ParseType(p.Type)
	if err != nil {
		slog.Warn("dropping security finding", "type", p.Type, "host", p.Host, "error", err)
		return nil
	}
	sev := audit.SeverityHigh
	if p.Severity != "" {
		if parsed, perr := audit.ParseSeverity(p.Severity); perr == nil {
			sev = parsed
		}
	}
	_, err = s.ReportIncident(ctx, typ, p.Host, sev, p.Details)
	return err
}
