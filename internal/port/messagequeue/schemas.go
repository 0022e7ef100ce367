package messagequeue

// IncidentNotifyPayload is the schema for incidents.notify messages.
type IncidentNotifyPayload struct {
	IncidentID string            `json:"incident_id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Level      string            `json:"level"`
	Source     string            `json:"source"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// IncidentStatusPayload is the schema for incidents.status messages.
type IncidentStatusPayload struct {
	IncidentID string `json:"incident_id"`
	Status     string `json:"status"`
	Resolution string `json:"resolution,omitempty"`
	ChangedAt  string `json:"changed_at"`
}

// SecurityFindingPayload is the schema for security.findings messages.
type SecurityFindingPayload struct {
	Type     string         `json:"type"`
	Host     string         `json:"host"`
	Severity string         `json:"severity"`
	Details  map[string]any `json:"details"`
}
