package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/TheraGate/internal/adapter/ws"
	"github.com/Strob0t/TheraGate/internal/domain"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/incident"
	"github.com/Strob0t/TheraGate/internal/port/messagequeue"
	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

type publishedMsg struct {
	subject string
	data    []byte
}

type mockQueue struct {
	mu        sync.Mutex
	published []publishedMsg
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

type incidentFixture struct {
	svc       *IncidentService
	store     *mockIncidentStore
	auditLog  *AuditService
	secure    *mockAuditStore
	hub       *mockBroadcaster
	channel   *mockNotifier
	authority *mockNotifier
	notify    *NotificationService
	queue     *mockQueue
}

func newIncidentFixture(t *testing.T) *incidentFixture {
	t.Helper()
	f := &incidentFixture{
		store:     newMockIncidentStore(),
		secure:    &mockAuditStore{},
		hub:       &mockBroadcaster{},
		channel:   &mockNotifier{name: "slack"},
		authority: &mockNotifier{name: "authority"},
		queue:     &mockQueue{},
	}
	f.auditLog = NewAuditService(testAuditConfig(), f.secure, f.hub, nil)
	f.notify = NewNotificationService([]notifier.Notifier{f.channel}, f.authority, time.Second)
	f.svc = NewIncidentService(f.store, f.auditLog, f.notify, f.hub)
	f.svc.SetQueue(f.queue)
	f.auditLog.SetEscalator(f.svc)
	t.Cleanup(f.auditLog.Close)
	return f
}

func TestIncidentService_ReportAlwaysAuditsCritical(t *testing.T) {
	f := newIncidentFixture(t)

	inc, err := f.svc.ReportIncident(context.Background(), incident.TypeJailbreakDetected, "ios-1", audit.SeverityMedium, map[string]any{"os": "17.4"})
	require.NoError(t, err)
	f.notify.Wait()

	assert.Equal(t, incident.StatusReported, inc.Status)
	assert.Equal(t, audit.SeverityMedium, inc.Severity)
	assert.Equal(t, 1, f.store.count(), "fallback ticket is written")

	entries := f.secure.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.KindIncidentReported, entries[0].Kind)
	assert.Equal(t, audit.SeverityCritical, entries[0].Severity)
	assert.Equal(t, inc.ID, entries[0].Details["incident_id"])
	assert.Equal(t, "17.4", entries[0].Details["os"])

	sent := f.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, inc.ID, sent[0].IncidentID)
	assert.Equal(t, "critical", sent[0].Level)
	assert.Empty(t, f.authority.Sent())
}

func TestIncidentService_ReportDoesNotEscalateItself(t *testing.T) {
	f := newIncidentFixture(t)

	_, err := f.svc.ReportIncident(context.Background(), incident.TypeDataBreach, "db-1", audit.SeverityCritical, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.count(), "critical incident audit must not open a second incident")
}

func TestIncidentService_ReportUnknownType(t *testing.T) {
	f := newIncidentFixture(t)
	_, err := f.svc.ReportIncident(context.Background(), incident.Type("jailbreak"), "h", audit.SeverityHigh, nil)
	assert.ErrorIs(t, err, incident.ErrUnknownType)
	assert.Zero(t, f.store.count())
}

func TestIncidentService_StoreFailureStillNotifies(t *testing.T) {
	f := newIncidentFixture(t)
	f.store.createErr = errBoom

	inc, err := f.svc.ReportIncident(context.Background(), incident.TypeDataBreach, "db-1", audit.SeverityHigh, nil)
	require.NoError(t, err)
	f.notify.Wait()

	assert.Len(t, f.channel.Sent(), 1)
	entries := f.secure.all()
	require.Len(t, entries, 1)
	assert.Equal(t, false, entries[0].Details["persisted"])
	assert.Equal(t, inc.ID, entries[0].Details["incident_id"])
}

func TestIncidentService_EmergencyAuthorityPolicy(t *testing.T) {
	tests := []struct {
		typ      incident.Type
		notified bool
	}{
		{incident.TypeDataExfiltration, true},
		{incident.TypePaymentFraud, true},
		{incident.TypeJailbreakDetected, false},
		{incident.TypeCertificatePinning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			f := newIncidentFixture(t)
			inc, notified, err := f.svc.ReportEmergency(context.Background(), tt.typ, "api-1", "exfil over dns", "E-17")
			require.NoError(t, err)
			f.notify.Wait()

			assert.Equal(t, tt.notified, notified)
			assert.Equal(t, audit.SeverityCritical, inc.Severity)
			assert.Equal(t, "E-17", inc.Details["emergency_code"])
			if tt.notified {
				assert.Len(t, f.authority.Sent(), 1)
			} else {
				assert.Empty(t, f.authority.Sent())
			}
			assert.Len(t, f.channel.Sent(), 1)

			entries := f.secure.all()
			require.Len(t, entries, 1)
			assert.Equal(t, audit.KindIncidentEmergency, entries[0].Kind)
		})
	}
}

func TestIncidentService_EmergencyWithoutAuthorityChannel(t *testing.T) {
	f := newIncidentFixture(t)
	f.svc.notify = NewNotificationService(nil, nil, time.Second)

	_, notified, err := f.svc.ReportEmergency(context.Background(), incident.TypeDataBreach, "db", "leak", "E-1")
	require.NoError(t, err)
	assert.False(t, notified)
}

func TestIncidentService_UpdateStatus(t *testing.T) {
	f := newIncidentFixture(t)
	ctx := context.Background()
	inc, err := f.svc.ReportIncident(ctx, incident.TypeDataBreach, "db-1", audit.SeverityHigh, nil)
	require.NoError(t, err)

	updated, err := f.svc.UpdateIncidentStatus(ctx, inc.ID, incident.StatusInvestigating, "")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusInvestigating, updated.Status)

	updated, err = f.svc.UpdateIncidentStatus(ctx, inc.ID, incident.StatusResolved, "rotated keys")
	require.NoError(t, err)
	require.Len(t, updated.History, 3)
	assert.Equal(t, incident.StatusReported, updated.History[0].Status)
	assert.Equal(t, "rotated keys", updated.History[2].Resolution)

	stored, err := f.svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 3)

	assert.Equal(t, 2, f.hub.count(ws.EventIncidentStatus))

	f.queue.mu.Lock()
	published := append([]publishedMsg(nil), f.queue.published...)
	f.queue.mu.Unlock()
	require.Len(t, published, 2)
	assert.Equal(t, messagequeue.SubjectIncidentStatus, published[1].subject)
	var p messagequeue.IncidentStatusPayload
	require.NoError(t, json.Unmarshal(published[1].data, &p))
	assert.Equal(t, "resolved", p.Status)
	assert.NoError(t, messagequeue.Validate(published[1].subject, published[1].data))
}

func TestIncidentService_UpdateStatusInvalidTransition(t *testing.T) {
	f := newIncidentFixture(t)
	ctx := context.Background()
	inc, err := f.svc.ReportIncident(ctx, incident.TypeDataBreach, "db-1", audit.SeverityHigh, nil)
	require.NoError(t, err)

	_, err = f.svc.UpdateIncidentStatus(ctx, inc.ID, incident.StatusIgnored, "")
	require.NoError(t, err)

	_, err = f.svc.UpdateIncidentStatus(ctx, inc.ID, incident.StatusResolved, "late")
	assert.ErrorIs(t, err, incident.ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 2, "rejected transition must not touch history")
}

func TestIncidentService_UpdateFromStaleReadKeepsTerminalStatus(t *testing.T) {
	f := newIncidentFixture(t)
	ctx := context.Background()
	inc, err := f.svc.ReportIncident(ctx, incident.TypeUnauthorizedAccess, "api-1", audit.SeverityHigh, nil)
	require.NoError(t, err)

	snapshot, err := f.store.GetIncident(ctx, inc.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateIncidentStatus(ctx, inc.ID, incident.StatusResolved, "revoked session")
	require.NoError(t, err)

	// The second operator still sees the incident as reported.
	f.svc.store = &staleIncidentStore{mockIncidentStore: f.store, snapshot: *snapshot}
	_, err = f.svc.UpdateIncidentStatus(ctx, inc.ID, incident.StatusIgnored, "")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorIs(t, err, incident.ErrInvalidTransition)

	stored, err := f.store.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusResolved, stored.Status)
	assert.Len(t, stored.History, 2)
}

func TestIncidentService_UpdateStatusNotFound(t *testing.T) {
	f := newIncidentFixture(t)
	_, err := f.svc.UpdateIncidentStatus(context.Background(), "missing", incident.StatusResolved, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIncidentService_EscalateFromAudit(t *testing.T) {
	f := newIncidentFixture(t)

	f.auditLog.Log(context.Background(), audit.KindDataExfiltration, map[string]any{"host": "api-2"}, audit.SeverityCritical, WithSubject("u-1"))
	f.notify.Wait()

	list, err := f.svc.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, incident.TypeDataExfiltration, list[0].Type)
	assert.Equal(t, "api-2", list[0].Host)
	assert.Equal(t, "u-1", list[0].Details["subject_id"])
	assert.Len(t, f.channel.Sent(), 1)
}

func TestIncidentService_HandleFinding(t *testing.T) {
	f := newIncidentFixture(t)
	ctx := context.Background()

	data := []byte(`{"type":"jailbreak_detected","host":"ios-device-1","details":{"os":"17.4"}}`)
	require.NoError(t, f.svc.HandleFinding(ctx, messagequeue.SubjectSecurityFinding, data))

	list, err := f.svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, audit.SeverityHigh, list[0].Severity, "missing severity defaults to high")

	require.NoError(t, f.svc.HandleFinding(ctx, messagequeue.SubjectSecurityFinding, []byte(`{"type":"made_up","host":"x"}`)))
	assert.Equal(t, 1, f.store.count(), "unknown finding type is dropped")

	assert.Error(t, f.svc.HandleFinding(ctx, messagequeue.SubjectSecurityFinding, []byte(`{bad`)))
}
