package http

import (
	"net/http"

	"github.com/Strob0t/TheraGate/internal/domain/audit"
)

// ListRecentAudit handles GET /api/v1/audit/recent
func (h *Handlers) ListRecentAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Audit.Recent(queryLimit(r, 100, 100)))
}

// ListSecureAudit handles GET /api/v1/audit/secure?min_severity=high
func (h *Handlers) ListSecureAudit(w http.ResponseWriter, r *http.Request) {
	minSev := audit.SeverityHigh
	if s := r.URL.Query().Get("min_severity"); s != "" {
		parsed, err := audit.ParseSeverity(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		minSev = parsed
	}

	entries, err := h.Audit.HighAssurance(r.Context(), minSev, queryLimit(r, 100, 1000))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
