package http

import (
	"log/slog"
	"net/http"

	"github.com/Strob0t/TheraGate/internal/middleware"
	"github.com/Strob0t/TheraGate/internal/service"
)

// Handlers holds the HTTP handlers and their service dependencies.
type Handlers struct {
	Webhooks        *service.WebhookService
	Audit           *service.AuditService
	Incidents       *service.IncidentService
	Capabilities    *service.CapabilityCache
	SignatureHeader string
}

type webhookResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// HandlePaymentWebhook receives one payment-provider delivery. The body must
// have been captured by middleware.RawBody so the signature is checked over
// the exact bytes received.
func (h *Handlers) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := middleware.RawBodyFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "raw body unavailable")
		return
	}

	res := h.Webhooks.Accept(r.Context(), payload, r.Header.Get(h.SignatureHeader))
	status, msg := webhookStatus(res)
	if status >= http.StatusInternalServerError {
		slog.Error("webhook delivery not processed", "outcome", res.Outcome, "event_id", res.EventID, "error", res.Err)
	}
	if res.Outcome == service.OutcomeQueueFull {
		w.Header().Set("Retry-After", "5")
	}
	if status >= http.StatusBadRequest {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, status, webhookResponse{
		Status:  string(res.Outcome),
		EventID: res.EventID,
		Message: msg,
	})
}

// webhookStatus maps an ingestion outcome to the response the provider sees.
// Only 2xx stops the provider from redelivering.
func webhookStatus(res service.AcceptResult) (int, string) {
	switch res.Outcome {
	case service.OutcomeAccepted, service.OutcomeProcessed:
		return http.StatusOK, ""
	case service.OutcomeIgnored, service.OutcomeDuplicate:
		return http.StatusOK, res.Result.Message
	case service.OutcomeMalformed:
		return http.StatusBadRequest, "malformed payload"
	case service.OutcomeMissingSignature:
		return http.StatusUnauthorized, "missing or malformed signature header"
	case service.OutcomeInvalidSignature:
		return http.StatusForbidden, "signature verification failed"
	case service.OutcomeStale:
		return http.StatusForbidden, "timestamp outside tolerance"
	case service.OutcomeQueueFull:
		return http.StatusServiceUnavailable, "ingestion queue full"
	case service.OutcomeSecretUnavailable:
		return http.StatusInternalServerError, "signing secret unavailable"
	default:
		return http.StatusInternalServerError, "event processing failed"
	}
}

// GetCapabilities handles GET /api/v1/accounts/{id}/capabilities
func (h *Handlers) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	caps, ok, err := h.Capabilities.Get(r.Context(), id)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no capabilities cached for account")
		return
	}
	writeJSON(w, http.StatusOK, caps)
}
