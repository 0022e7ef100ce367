// Package incident defines tracked security incidents, their closed type
// taxonomy and the authority-notification policy.
package incident

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/TheraGate/internal/domain/audit"
)

// ErrUnknownType is returned when parsing a type outside the taxonomy.
var ErrUnknownType = errors.New("incident: unknown type")

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("incident: invalid status transition")

// Type is the single closed incident taxonomy.
type Type string

const (
	// Data-protection incidents.
	TypeDataExfiltration   Type = "data_exfiltration"
	TypeDataBreach         Type = "data_breach"
	TypeUnauthorizedAccess Type = "unauthorized_access"
	TypeKeyCompromise      Type = "key_compromise"
	TypePaymentFraud       Type = "payment_fraud"

	// Device posture findings reported by the mobile client.
	TypeJailbreakDetected  Type = "jailbreak_detected"
	TypeCertificatePinning Type = "certificate_pinning_failure"
	TypeSuspiciousNetwork  Type = "suspicious_network"
	TypeDebuggerAttached   Type = "debugger_attached"
	TypeTamperingDetected  Type = "tampering_detected"

	// Webhook trust boundary and operations.
	TypeWebhookForgery     Type = "webhook_forgery"
	TypeReplayAttack       Type = "replay_attack"
	TypeServiceDegradation Type = "service_degradation"
	TypeSecurityCritical   Type = "security_critical"
)

// policy is the authority-notification decision per type. Every Type appears
// exactly once.
var policy = map[Type]bool{
	TypeDataExfiltration:   true,
	TypeDataBreach:         true,
	TypeUnauthorizedAccess: true,
	TypeKeyCompromise:      true,
	TypePaymentFraud:       true,

	TypeJailbreakDetected:  false,
	TypeCertificatePinning: false,
	TypeSuspiciousNetwork:  false,
	TypeDebuggerAttached:   false,
	TypeTamperingDetected:  false,

	TypeWebhookForgery:     false,
	TypeReplayAttack:       false,
	TypeServiceDegradation: false,
	TypeSecurityCritical:   false,
}

// Types returns the taxonomy in a stable order.
func Types() []Type {
	return []Type{
		TypeDataExfiltration, TypeDataBreach, TypeUnauthorizedAccess, TypeKeyCompromise, TypePaymentFraud,
		TypeJailbreakDetected, TypeCertificatePinning, TypeSuspiciousNetwork, TypeDebuggerAttached, TypeTamperingDetected,
		TypeWebhookForgery, TypeReplayAttack, TypeServiceDegradation, TypeSecurityCritical,
	}
}

// ParseType validates s against the taxonomy.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := policy[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// NotifiesAuthorities reports whether an emergency of type t must be reported
// to external authorities. Types outside the taxonomy never notify.
func NotifiesAuthorities(t Type) bool {
	return policy[t]
}

// escalationTypes maps critical audit kinds to incident types. Anything not
// listed escalates as TypeSecurityCritical.
var escalationTypes = map[audit.Kind]Type{
	audit.KindDataExfiltration:        TypeDataExfiltration,
	audit.KindUnauthorizedAccess:      TypeUnauthorizedAccess,
	audit.KindKeyCompromise:           TypeKeyCompromise,
	audit.KindWebhookSignatureInvalid: TypeWebhookForgery,
	audit.KindWebhookDuplicate:        TypeReplayAttack,
}

// TypeForAuditKind picks the incident type for an escalated audit entry.
func TypeForAuditKind(k audit.Kind) Type {
	if t, ok := escalationTypes[k]; ok {
		return t
	}
	return TypeSecurityCritical
}

// Status is the incident lifecycle state.
type Status string

const (
	StatusReported      Status = "reported"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusIgnored       Status = "ignored"
)

var transitions = map[Status][]Status{
	StatusReported:      {StatusInvestigating, StatusResolved, StatusIgnored},
	StatusInvestigating: {StatusResolved, StatusIgnored},
}

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusReported, StatusInvestigating, StatusResolved, StatusIgnored:
		return st, nil
	}
	return "", fmt.Errorf("unknown incident status %q", s)
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusIgnored
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusChange is one append-only history record.
type StatusChange struct {
	Status     Status    `json:"status"`
	Resolution string    `json:"resolution,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Incident is a tracked security finding.
type Incident struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Host      string         `json:"host"`
	Severity  audit.Severity `json:"severity"`
	Status    Status         `json:"status"`
	Details   map[string]any `json:"details"`
	History   []StatusChange `json:"history"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// New creates an incident in the reported state with its first history record.
func New(id string, t Type, host string, sev audit.Severity, details map[string]any, now time.Time) *Incident {
	if details == nil {
		details = map[string]any{}
	}
	return &Incident{
		ID:        id,
		Type:      t,
		Host:      host,
		Severity:  sev,
		Status:    StatusReported,
		Details:   details,
		History:   []StatusChange{{Status: StatusReported, ChangedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition validates and applies a status change, appending to History.
// Existing history records are never modified.
func (i *Incident) Transition(to Status, resolution string, now time.Time) (StatusChange, error) {
	if !CanTransition(i.Status, to) {
		return StatusChange{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, to)
	}
	change := StatusChange{Status: to, Resolution: resolution, ChangedAt: now}
	i.History = append(i.History, change)
	i.Status = to
	i.UpdatedAt = now
	return change, nil
}

// ReportRequest is the input for reporting an incident through the API.
type ReportRequest struct {
	Type     string         `json:"type"`
	Host     string         `json:"host"`
	Severity string         `json:"severity"`
	Details  map[string]any `json:"details"`
}

// EmergencyRequest is the input for reporting an emergency through the API.
type EmergencyRequest struct {
	Type          string `json:"type"`
	Host          string `json:"host"`
	Reason        string `json:"reason"`
	EmergencyCode string `json:"emergency_code"`
}

// StatusRequest is the input for a status update through the API.
type StatusRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
}
