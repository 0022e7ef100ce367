package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectIncidentNotify:
		var p IncidentNotifyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.IncidentID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("incident_id is required"))
		}
	case SubjectIncidentStatus:
		var p IncidentStatusPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	case SubjectSecurityFinding:
		var p SecurityFindingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Type == "" || p.Host == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("type and host are required"))
		}
	}
	return nil
}
