package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/TheraGate/internal/domain"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/incident"
	"github.com/Strob0t/TheraGate/internal/domain/keys"
	"github.com/Strob0t/TheraGate/internal/domain/webhook"
	"github.com/Strob0t/TheraGate/internal/port/auditsink"
	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

// --- notifier ---

type mockNotifier struct {
	name    string
	sendErr error
	block   bool
	delay   time.Duration

	mu   sync.Mutex
	sent []notifier.Notification
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }

func (m *mockNotifier) Send(ctx context.Context, n notifier.Notification) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockNotifier) Sent() []notifier.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifier.Notification(nil), m.sent...)
}

// --- broadcaster ---

type broadcastCall struct {
	eventType string
	payload   any
}

type mockBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, broadcastCall{eventType: eventType, payload: payload})
}

func (m *mockBroadcaster) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.eventType == eventType {
			n++
		}
	}
	return n
}

func (m *mockBroadcaster) last(eventType string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].eventType == eventType {
			return m.calls[i].payload, true
		}
	}
	return nil, false
}

// --- audit store ---

type mockAuditStore struct {
	mu        sync.Mutex
	entries   []audit.Entry
	appendErr error
}

func (m *mockAuditStore) AppendAudit(_ context.Context, e *audit.Entry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockAuditStore) ListAudit(_ context.Context, minSeverity audit.Severity, limit int) ([]audit.Entry, error) {
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

func (m *mockAuditStore) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

// --- incident store ---

type mockIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]*incident.Incident
	order     []string
	createErr error
}

func newMockIncidentStore() *mockIncidentStore {
	return &mockIncidentStore{incidents: make(map[string]*incident.Incident)}
}

func (m *mockIncidentStore) CreateIncident(_ context.Context, inc *incident.Incident) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inc
	cp.History = append([]incident.StatusChange(nil), inc.History...)
	m.incidents[inc.ID] = &cp
	m.order = append(m.order, inc.ID)
	return nil
}

func (m *mockIncidentStore) AppendIncidentStatus(_ context.Context, id string, change incident.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return fmt.Errorf("incident %s: %w", id, domain.ErrNotFound)
	}
	if !incident.CanTransition(inc.Status, change.Status) {
		return fmt.Errorf("incident %s is %s: %w: %w", id, inc.Status, domain.ErrConflict, incident.ErrInvalidTransition)
	}
	inc.History = append(inc.History, change)
	inc.Status = change.Status
	inc.UpdatedAt = change.ChangedAt
	return nil
}

func (m *mockIncidentStore) GetIncident(_ context.Context, id string) (*incident.Incident, error) {
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

func (m *mockIncidentStore) ListIncidents(_ context.Context, limit int) ([]incident.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []incident.Incident{}
	for i := len(m.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, *m.incidents[m.order[i]])
	}
	return out, nil
}

// staleIncidentStore serves a fixed snapshot from GetIncident, like an
// operator whose read raced another update.
type staleIncidentStore struct {
	*mockIncidentStore
	snapshot incident.Incident
}

func (s *staleIncidentStore) GetIncident(context.Context, string) (*incident.Incident, error) {
	cp := s.snapshot
	cp.History = append([]incident.StatusChange(nil), s.snapshot.History...)
	return &cp, nil
}

func (m *mockIncidentStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.incidents)
}

// --- billing ---

type mockPayments struct {
	mu        sync.Mutex
	confirmed []string
	failed    []string
	errs      []error // returned in order, one per call; nil entries succeed
	calls     int
}

func (m *mockPayments) next() error {
	m.calls++
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *mockPayments) ConfirmPayment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.next(); err != nil {
		return err
	}
	m.confirmed = append(m.confirmed, id)
	return nil
}

func (m *mockPayments) MarkFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.next(); err != nil {
		return err
	}
	m.failed = append(m.failed, id)
	return nil
}

func (m *mockPayments) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockAccounts struct {
	mu          sync.Mutex
	caps        webhook.Capabilities
	refreshErr  error
	refreshed   []string
	deactivated []string
}

func (m *mockAccounts) RefreshAccount(_ context.Context, id string) (*webhook.Capabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	m.refreshed = append(m.refreshed, id)
	caps := m.caps
	caps.AccountID = id
	return &caps, nil
}

func (m *mockAccounts) DeactivateAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, id)
	return nil
}

// --- remote audit sink ---

type mockSink struct {
	mu      sync.Mutex
	records []auditsink.Record
	err     error
}

func (m *mockSink) Send(_ context.Context, rec auditsink.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockSink) all() []auditsink.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auditsink.Record(nil), m.records...)
}

// --- key store ---

type mockKeyStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	getErr error
	gets   int
}

func newMockKeyStore() *mockKeyStore {
	return &mockKeyStore{blobs: make(map[string][]byte)}
}

func (m *mockKeyStore) Get(_ context.Context, ref keys.Ref) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.blobs[ref.String()]
	if !ok {
		return nil, keys.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *mockKeyStore) Set(_ context.Context, ref keys.Ref, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref.String()] = append([]byte(nil), secret...)
	return nil
}

func (m *mockKeyStore) Delete(_ context.Context, ref keys.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[ref.String()]; !ok {
		return keys.ErrNotFound
	}
	delete(m.blobs, ref.String())
	return nil
}

func (m *mockKeyStore) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// --- cache ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- escalator ---

type mockEscalator struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *mockEscalator) Escalate(_ context.Context, e audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *mockEscalator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var errBoom = errors.New("boom")
