package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfhttp "github.com/Strob0t/TheraGate/internal/adapter/http"
	"github.com/Strob0t/TheraGate/internal/adapter/ristretto"
	"github.com/Strob0t/TheraGate/internal/config"
	"github.com/Strob0t/TheraGate/internal/domain"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/incident"
	"github.com/Strob0t/TheraGate/internal/domain/keys"
	"github.com/Strob0t/TheraGate/internal/domain/webhook"
	"github.com/Strob0t/TheraGate/internal/secrets"
	"github.com/Strob0t/TheraGate/internal/service"
)

const (
	testSecret = "whsec_http_secret"
	adminToken = "op-token"
)

// --- in-memory stores ---

type memAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAuditStore) AppendAudit(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAuditStore) ListAudit(_ context.Context, minSeverity audit.Severity, limit int) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []audit.Entry{}
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.entries[i].Severity.AtLeast(minSeverity) {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

type memIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]*incident.Incident
	order     []string
}

func (m *memIncidentStore) CreateIncident(_ context.Context, inc *incident.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inc
	cp.History = append([]incident.StatusChange(nil), inc.History...)
	m.incidents[inc.ID] = &cp
	m.order = append(m.order, inc.ID)
	return nil
}

func (m *memIncidentStore) AppendIncidentStatus(_ context.Context, id string, change incident.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return fmt.Errorf("incident %s: %w", id, domain.ErrNotFound)
	}
	inc.History = append(inc.History, change)
	inc.Status = change.Status
	return nil
}

func (m *memIncidentStore) GetIncident(_ context.Context, id string) (*incident.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, domain.ErrNotFound)
	}
	cp := *inc
	cp.History = append([]incident.StatusChange(nil), inc.History...)
	return &cp, nil
}

func (m *memIncidentStore) ListIncidents(_ context.Context, limit int) ([]incident.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []incident.Incident{}
	for i := len(m.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, *m.incidents[m.order[i]])
	}
	return out, nil
}

type stubPayments struct {
	mu        sync.Mutex
	confirmed []string
}

func (s *stubPayments) ConfirmPayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = append(s.confirmed, id)
	return nil
}

func (s *stubPayments) MarkFailed(context.Context, string) error { return nil }

type stubAccounts struct{}

func (stubAccounts) RefreshAccount(_ context.Context, id string) (*webhook.Capabilities, error) {
	return &webhook.Capabilities{AccountID: id, ChargesEnabled: true, PayoutsEnabled: true, Active: true}, nil
}

func (stubAccounts) DeactivateAccount(context.Context, string) error { return nil }

// --- server fixture ---

type server struct {
	h        http.Handler
	auditLog *service.AuditService
	payments *stubPayments
	caps     *service.CapabilityCache
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()

	sealer, err := secrets.NewSealer("test-master-key")
	require.NoError(t, err)
	keyStore := secrets.NewFileStore(filepath.Join(t.TempDir(), "keys.json"), sealer)
	require.NoError(t, keyStore.Set(ctx, keys.Ref{Purpose: keys.PurposeWebhook, Environment: keys.EnvDevelopment}, []byte(testSecret)))

	newCache := func() *ristretto.Cache {
		c, err := ristretto.New(1)
		require.NoError(t, err)
		return c
	}

	cfg := config.Defaults()
	cfg.Webhook.Async = false
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 2 * time.Millisecond

	auditLog := service.NewAuditService(cfg.Audit, &memAuditStore{}, nil, nil)
	t.Cleanup(auditLog.Close)
	notify := service.NewNotificationService(nil, nil, time.Second)
	caps := service.NewCapabilityCache(newCache(), time.Minute)
	keySvc := service.NewKeyService(keyStore, newCache(), time.Minute, auditLog)
	payments := &stubPayments{}
	dispatcher := service.NewDispatcher(payments, stubAccounts{}, caps, notify, auditLog)
	retry := service.NewRetryCoordinator(dispatcher, cfg.Retry)
	webhooks := service.NewWebhookService(cfg.Webhook, keySvc, dispatcher, retry, auditLog)
	t.Cleanup(webhooks.Close)
	incidents := service.NewIncidentService(&memIncidentStore{incidents: map[string]*incident.Incident{}}, auditLog, notify, nil)
	auditLog.SetEscalator(incidents)

	h := &cfhttp.Handlers{
		Webhooks:        webhooks,
		Audit:           auditLog,
		Incidents:       incidents,
		Capabilities:    caps,
		SignatureHeader: cfg.Webhook.SignatureHeader,
	}
	r := chi.NewRouter()
	cfhttp.MountRoutes(r, h, cfhttp.RouteConfig{
		MaxBodyBytes:   1 << 10,
		AdminToken:     adminToken,
		Idempotency:    newCache(),
		IdempotencyTTL: time.Minute,
	})
	return &server{h: r, auditLog: auditLog, payments: payments, caps: caps}
}

func (s *server) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *server) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + adminToken})
}

func eventPayload(t *testing.T, id, typ string, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    typ,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return raw
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// --- webhook endpoint ---

func TestPaymentWebhook_ProcessedThenDuplicate(t *testing.T) {
	s := newServer(t)
	payload := eventPayload(t, "evt_h1", "invoice.payment_succeeded", map[string]any{"id": "in_1", "customer": "cus_1"})
	sig := map[string]string{"Payment-Signature": webhook.Sign(payload, testSecret, time.Now())}

	rec := s.do(t, http.MethodPost, "/api/v1/webhooks/payments", payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "processed", body["status"])
	assert.Equal(t, "evt_h1", body["event_id"])

	rec = s.do(t, http.MethodPost, "/api/v1/webhooks/payments", payload, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decode[map[string]string](t, rec)["status"])

	assert.Equal(t, []string{"in_1"}, s.payments.confirmed)
}

func TestPaymentWebhook_StatusMapping(t *testing.T) {
	good := eventPayload(t, "evt_m", "invoice.payment_succeeded", map[string]any{"id": "in_m", "customer": "cus_3"})
	malformed := []byte(`{"type":"invoice.payment_succeeded"}`)

	tests := []struct {
		name    string
		payload []byte
		header  string
		status  int
	}{
		{"missing signature", good, "", http.StatusUnauthorized},
		{"garbage signature", good, "nonsense", http.StatusUnauthorized},
		{"wrong secret", good, webhook.Sign(good, "whsec_other", time.Now()), http.StatusForbidden},
		{"stale", good, webhook.Sign(good, testSecret, time.Now().Add(-time.Hour)), http.StatusForbidden},
		{"malformed", malformed, webhook.Sign(malformed, testSecret, time.Now()), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			headers := map[string]string{}
			if tt.header != "" {
				headers["Payment-Signature"] = tt.header
			}
			rec := s.do(t, http.MethodPost, "/api/v1/webhooks/payments", tt.payload, headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
			assert.Empty(t, s.payments.confirmed)
		})
	}
}

func TestPaymentWebhook_UnknownTypeAcknowledged(t *testing.T) {
	s := newServer(t)
	payload := eventPayload(t, "evt_u", "charge.refund.updated", map[string]any{"id": "re_1"})
	rec := s.do(t, http.MethodPost, "/api/v1/webhooks/payments", payload,
		map[string]string{"Payment-Signature": webhook.Sign(payload, testSecret, time.Now())})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode[map[string]string](t, rec)["status"])
}

func TestPaymentWebhook_BodyTooLarge(t *testing.T) {
	s := newServer(t)
	big := []byte(`{"id":"` + strings.Repeat("x", 2<<10) + `"}`)
	rec := s.do(t, http.MethodPost, "/api/v1/webhooks/payments", big,
		map[string]string{"Payment-Signature": webhook.Sign(big, testSecret, time.Now())})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPaymentWebhook_NoAdminTokenRequired(t *testing.T) {
	s := newServer(t)
	payload := eventPayload(t, "evt_na", "invoice.payment_succeeded", map[string]any{"id": "in_na", "customer": "cus_2"})
	rec := s.do(t, http.MethodPost, "/api/v1/webhooks/payments", payload,
		map[string]string{"Payment-Signature": webhook.Sign(payload, testSecret, time.Now())})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- operator API ---

func TestOperatorAPI_RequiresToken(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/incidents", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/incidents", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.admin(t, http.MethodGet, "/api/v1/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cfhttp.Version, decode[map[string]string](t, rec)["version"])
}

func TestIncidents_ReportGetAndUpdate(t *testing.T) {
	s := newServer(t)

	rec := s.admin(t, http.MethodPost, "/api/v1/incidents", map[string]any{
		"type": "jailbreak_detected", "host": "ios-device-7", "details": map[string]any{"os": "17.4"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[incident.Incident](t, rec)
	assert.Equal(t, incident.TypeJailbreakDetected, created.Type)
	assert.Equal(t, audit.SeverityHigh, created.Severity, "severity defaults to high")
	assert.Equal(t, incident.StatusReported, created.Status)

	rec = s.admin(t, http.MethodGet, "/api/v1/incidents/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[incident.Incident](t, rec).ID)

	rec = s.admin(t, http.MethodPost, "/api/v1/incidents/"+created.ID+"/status",
		map[string]string{"status": "resolved", "resolution": "device wiped"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[incident.Incident](t, rec)
	assert.Equal(t, incident.StatusResolved, updated.Status)
	require.Len(t, updated.History, 2)
	assert.Equal(t, "device wiped", updated.History[1].Resolution)

	rec = s.admin(t, http.MethodPost, "/api/v1/incidents/"+created.ID+"/status",
		map[string]string{"status": "investigating"})
	assert.Equal(t, http.StatusConflict, rec.Code, "resolved incidents are terminal")

	rec = s.admin(t, http.MethodGet, "/api/v1/incidents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]incident.Incident](t, rec), 1)
}

func TestIncidents_Validation(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"missing type", "/api/v1/incidents", map[string]any{"host": "h"}, http.StatusBadRequest},
		{"unknown type", "/api/v1/incidents", map[string]any{"type": "alien_invasion"}, http.StatusBadRequest},
		{"bad severity", "/api/v1/incidents", map[string]any{"type": "data_breach", "severity": "urgent"}, http.StatusBadRequest},
		{"invalid json", "/api/v1/incidents", []byte(`{`), http.StatusBadRequest},
		{"emergency without reason", "/api/v1/incidents/emergency", map[string]any{"type": "data_breach"}, http.StatusBadRequest},
		{"bad status", "/api/v1/incidents/x/status", map[string]any{"status": "closed"}, http.StatusBadRequest},
		{"status on unknown incident", "/api/v1/incidents/missing/status", map[string]any{"status": "resolved"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.admin(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.admin(t, http.MethodGet, "/api/v1/incidents/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIncidents_EmergencyAuthorityFlag(t *testing.T) {
	s := newServer(t)

	rec := s.admin(t, http.MethodPost, "/api/v1/incidents/emergency", map[string]any{
		"type": "data_exfiltration", "reason": "bulk export from unknown IP", "emergency_code": "E-17",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Incident            incident.Incident `json:"incident"`
		AuthoritiesNotified bool              `json:"authorities_notified"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, audit.SeverityCritical, resp.Incident.Severity)
	assert.False(t, resp.AuthoritiesNotified, "no authority channel configured")
}

func TestIncidents_IdempotentReport(t *testing.T) {
	s := newServer(t)
	body, err := json.Marshal(map[string]any{"type": "payment_fraud", "host": "api-1"})
	require.NoError(t, err)
	headers := map[string]string{"Authorization": "Bearer " + adminToken, "Idempotency-Key": "k-1"}

	first := s.do(t, http.MethodPost, "/api/v1/incidents", body, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := s.do(t, http.MethodPost, "/api/v1/incidents", body, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	list := s.admin(t, http.MethodGet, "/api/v1/incidents", nil)
	assert.Len(t, decode[[]incident.Incident](t, list), 1)
}

func TestAudit_RecentAndSecure(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	s.auditLog.Log(ctx, audit.KindWebhookProcessed, nil, audit.SeverityInfo)
	s.auditLog.Log(ctx, audit.KindUnauthorizedAccess, map[string]any{"ip": "10.0.0.9"}, audit.SeverityHigh)

	rec := s.admin(t, http.MethodGet, "/api/v1/audit/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recent := decode[[]audit.Entry](t, rec)
	require.Len(t, recent, 1)
	assert.Equal(t, audit.KindUnauthorizedAccess, recent[0].Kind)

	rec = s.admin(t, http.MethodGet, "/api/v1/audit/secure", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	secure := decode[[]audit.Entry](t, rec)
	require.Len(t, secure, 1)
	assert.Equal(t, audit.SeverityHigh, secure[0].Severity)

	rec = s.admin(t, http.MethodGet, "/api/v1/audit/secure?min_severity=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCapabilities(t *testing.T) {
	s := newServer(t)

	rec := s.admin(t, http.MethodGet, "/api/v1/accounts/acct_1/capabilities", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	payload := eventPayload(t, "evt_acct", "account.updated", map[string]any{"id": "acct_1"})
	rec = s.do(t, http.MethodPost, "/api/v1/webhooks/payments", payload,
		map[string]string{"Payment-Signature": webhook.Sign(payload, testSecret, time.Now())})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.admin(t, http.MethodGet, "/api/v1/accounts/acct_1/capabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	caps := decode[webhook.Capabilities](t, rec)
	assert.Equal(t, "acct_1", caps.AccountID)
	assert.True(t, caps.ChargesEnabled)
}
