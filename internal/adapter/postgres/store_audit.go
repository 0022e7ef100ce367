package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/TheraGate/internal/domain/audit"
)

// auditLabel binds sealed details to their entry id.
func auditLabel(id string) string { return "audit/" + id }

// AppendAudit inserts a high-assurance entry with sealed details.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	sealed, err := s.sealer.Seal(auditLabel(e.ID), details)
	if err != nil {
		return fmt.Errorf("seal audit details: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_secure_entries (id, occurred_at, kind, severity, severity_rank, subject_id, details_sealed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Timestamp, string(e.Kind), string(e.Severity), e.Severity.Rank(), e.SubjectID, sealed)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", e.ID, err)
	}
	return nil
}

// ListAudit returns the newest entries at or above minSeverity.
func (s *Store) ListAudit(ctx context.Context, minSeverity audit.Severity, limit int) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, occurred_at, kind, severity, subject_id, details_sealed
		 FROM audit_secure_entries WHERE severity_rank >= $1
		 ORDER BY occurred_at DESC LIMIT $2`,
		minSeverity.Rank(), clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		e, err := s.scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return orEmpty(entries), rows.Err()
}

func (s *Store) scanAudit(row scannable) (audit.Entry, error) {
	var (
		e      audit.Entry
		kind   string
		sev    string
		sealed []byte
	)
	if err := row.Scan(&e.ID, &e.Timestamp, &kind, &sev, &e.SubjectID, &sealed); err != nil {
		return audit.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Kind = audit.Kind(kind)
	e.Severity = audit.Severity(sev)

	plain, err := s.sealer.Open(auditLabel(e.ID), sealed)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("open audit entry %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(plain, &e.Details); err != nil {
		return audit.Entry{}, fmt.Errorf("unmarshal audit details %s: %w", e.ID, err)
	}
	return e, nil
}
