// Package audit defines security and business audit entries.
package audit

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies an entry and decides its persistence tier, alerting and
// escalation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Valid reports whether s is one of the five known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities from info (0) to critical (4). Unknown severities
// rank as -1.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Tier returns where entries of this severity are persisted.
func (s Severity) Tier() Tier {
	if s.AtLeast(SeverityHigh) {
		return TierHighAssurance
	}
	return TierGeneral
}

// Alerts reports whether entries of this severity raise a real-time alert.
func (s Severity) Alerts() bool {
	return s.AtLeast(SeverityHigh)
}

// Escalates reports whether entries of this severity open an incident.
func (s Severity) Escalates() bool {
	return s == SeverityCritical
}

// Tier is a persistence destination.
type Tier string

const (
	TierHighAssurance Tier = "high_assurance"
	TierGeneral       Tier = "general"
)

// Kind names what happened. Kinds are dotted like webhook event types.
type Kind string

const (
	KindWebhookAccepted          Kind = "webhook.accepted"
	KindWebhookProcessed         Kind = "webhook.processed"
	KindWebhookFailed            Kind = "webhook.failed"
	KindWebhookIgnored           Kind = "webhook.ignored"
	KindWebhookDuplicate         Kind = "webhook.duplicate"
	KindWebhookMalformed         Kind = "webhook.malformed"
	KindWebhookSignatureInvalid  Kind = "webhook.signature_invalid"
	KindWebhookTimestampRejected Kind = "webhook.timestamp_rejected"
	KindWebhookQueueFull         Kind = "webhook.queue_full"
	KindWebhookSecretUnavailable Kind = "webhook.secret_unavailable"

	KindKeyStored   Kind = "key.stored"
	KindKeyDeleted  Kind = "key.deleted"
	KindKeyFailure  Kind = "key.failure"
	KindKeyAccessed Kind = "key.accessed"

	KindIncidentReported  Kind = "incident.reported"
	KindIncidentEmergency Kind = "incident.emergency"
	KindIncidentUpdated   Kind = "incident.status_updated"

	KindDataExfiltration   Kind = "security.data_exfiltration"
	KindUnauthorizedAccess Kind = "security.unauthorized_access"
	KindKeyCompromise      Kind = "security.key_compromise"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"event"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details"`
	SubjectID string         `json:"subject_id,omitempty"`
}
