package http

import (
	"net/http"

	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/incident"
)

// ListIncidents handles GET /api/v1/incidents
func (h *Handlers) ListIncidents(w http.ResponseWriter, r *http.Request) {
	list, err := h.Incidents.List(r.Context(), queryLimit(r, 50, 500))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetIncident handles GET /api/v1/incidents/{id}
func (h *Handlers) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.Incidents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// ReportIncident handles POST /api/v1/incidents
func (h *Handlers) ReportIncident(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[incident.ReportRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Type, "type") {
		return
	}
	typ, err := incident.ParseType(req.Type)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	sev := audit.SeverityHigh
	if req.Severity != "" {
		if sev, err = audit.ParseSeverity(req.Severity); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	inc, err := h.Incidents.ReportIncident(r.Context(), typ, req.Host, sev, req.Details)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

type emergencyResponse struct {
	Incident            *incident.Incident `json:"incident"`
	AuthoritiesNotified bool               `json:"authorities_notified"`
}

// ReportEmergency handles POST /api/v1/incidents/emergency
func (h *Handlers) ReportEmergency(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[incident.EmergencyRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Type, "type") || !requireField(w, req.Reason, "reason") {
		return
	}
	typ, err := incident.ParseType(req.Type)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}

	inc, notified, err := h.Incidents.ReportEmergency(r.Context(), typ, req.Host, req.Reason, req.EmergencyCode)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, emergencyResponse{Incident: inc, AuthoritiesNotified: notified})
}

// UpdateIncidentStatus handles POST /api/v1/incidents/{id}/status
func (h *Handlers) UpdateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[incident.StatusRequest](w, r)
	if !ok {
		return
	}
	status, err := incident.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inc, err := h.Incidents.UpdateIncidentStatus(r.Context(), urlParam(r, "id"), status, req.Resolution)
	if err != nil {
		writeDomainError(w, err, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
