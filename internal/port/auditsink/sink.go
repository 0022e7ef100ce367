// Package auditsink defines the remote audit collection port.
package auditsink

import (
	"context"
	"time"
)

// Record is the wire shape of one mirrored audit entry.
type Record struct {
	Timestamp  time.Time      `json:"timestamp"`
	Event      string         `json:"event"`
	Details    map[string]any `json:"details"`
	Severity   string         `json:"severity"`
	SubjectID  string         `json:"subjectId,omitempty"`
	AppVersion string         `json:"appVersion"`
	Platform   string         `json:"platform"`
}

// Sink delivers records to the remote audit collector.
type Sink interface {
	Send(ctx context.Context, rec Record) error
}
