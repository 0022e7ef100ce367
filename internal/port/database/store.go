// Package database defines the persistence ports backed by PostgreSQL.
package database

import (
	"context"

	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/incident"
)

// AuditStore is the high-assurance tier for high and critical audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *audit.Entry) error
	ListAudit(ctx context.Context, minSeverity audit.Severity, limit int) ([]audit.Entry, error)
}

// IncidentStore persists incidents (the fallback ticket record) and their
// append-only status history.
type IncidentStore interface {
	CreateIncident(ctx context.Context, inc *incident.Incident) error
	AppendIncidentStatus(ctx context.Context, id string, change incident.StatusChange) error
	GetIncident(ctx context.Context, id string) (*incident.Incident, error)
	ListIncidents(ctx context.Context, limit int) ([]incident.Incident, error)
}
