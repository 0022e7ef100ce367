package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/TheraGate/internal/domain"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/incident"
)

// CreateIncident stores a new incident and its initial history.
func (s *Store) CreateIncident(ctx context.Context, inc *incident.Incident) error {
	details, err := json.Marshal(inc.Details)
	if err != nil {
		return fmt.Errorf("marshal incident details: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO incidents (id, type, host, severity, status, details, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			inc.ID, string(inc.Type), inc.Host, string(inc.Severity), string(inc.Status),
			details, inc.CreatedAt, inc.UpdatedAt); err != nil {
			return fmt.Errorf("insert incident %s: %w", inc.ID, err)
		}
		for i, h := range inc.History {
			if err := insertHistory(ctx, tx, inc.ID, i+1, h); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendIncidentStatus appends one history record and moves the incident to
// its status. Earlier history rows are never touched. The transition is
// checked against the row locked in the same transaction, so an update
// computed from a stale read cannot leave a terminal status.
func (s *Store) AppendIncidentStatus(ctx context.Context, id string, change incident.StatusChange) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx,
			`SELECT status FROM incidents WHERE id = $1 FOR UPDATE`, id,
		).Scan(&current); err != nil {
			return notFoundWrap(err, "lock incident %s", id)
		}
		if !incident.CanTransition(incident.Status(current), change.Status) {
			return fmt.Errorf("incident %s is %s, cannot move to %s: %w: %w",
				id, current, change.Status, domain.ErrConflict, incident.ErrInvalidTransition)
		}

		var seq int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM incident_history WHERE incident_id = $1`, id,
		).Scan(&seq); err != nil {
			return fmt.Errorf("next history seq %s: %w", id, err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE incidents SET status = $2, updated_at = $3 WHERE id = $1`,
			id, string(change.Status), change.ChangedAt)
		if err := execExpectOne(tag, err, "update incident %s", id); err != nil {
			return err
		}
		return insertHistory(ctx, tx, id, seq, change)
	})
}

func insertHistory(ctx context.Context, tx pgx.Tx, id string, seq int, h incident.StatusChange) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO incident_history (incident_id, seq, status, resolution, changed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, seq, string(h.Status), h.Resolution, h.ChangedAt); err != nil {
		return fmt.Errorf("insert incident history %s/%d: %w", id, seq, err)
	}
	return nil
}

// GetIncident loads an incident with its full history.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT id, type, host, severity, status, details, created_at, updated_at
		 FROM incidents WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get incident %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, resolution, changed_at FROM incident_history
		 WHERE incident_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list incident history %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			h      incident.StatusChange
			status string
		)
		if err := rows.Scan(&status, &h.Resolution, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan incident history: %w", err)
		}
		h.Status = incident.Status(status)
		inc.History = append(inc.History, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	inc.History = orEmpty(inc.History)
	return &inc, nil
}

// ListIncidents returns the newest incidents without history.
func (s *Store) ListIncidents(ctx context.Context, limit int) ([]incident.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, host, severity, status, details, created_at, updated_at
		 FROM incidents ORDER BY created_at DESC LIMIT $1`, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.History = []incident.StatusChange{}
		out = append(out, inc)
	}
	return orEmpty(out), rows.Err()
}

func scanIncident(row scannable) (incident.Incident, error) {
	var (
		inc              incident.Incident
		typ, sev, status string
		details          []byte
	)
	if err := row.Scan(&inc.ID, &typ, &inc.Host, &sev, &status, &details, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
		return incident.Incident{}, err
	}
	inc.Type = incident.Type(typ)
	inc.Severity = audit.Severity(sev)
	inc.Status = incident.Status(status)
	if err := json.Unmarshal(details, &inc.Details); err != nil {
		return incident.Incident{}, fmt.Errorf("unmarshal incident details: %w", err)
	}
	return inc, nil
}
