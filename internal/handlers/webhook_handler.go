package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// maxWebhookBody caps inbound callback bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler accepts provider callbacks at POST /api/webhooks/{provider}.
// A 202 means the event is durably stored; 400 is reserved for malformed
// payloads, which are rejected without being stored.
type WebhookHandler struct {
	service interfaces.WebhookService
	logger  arbor.ILogger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(service interfaces.WebhookService, logger arbor.ILogger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		logger:  logger,
	}
}

// IngestHandler handles POST /api/webhooks/{provider}.
func (h *WebhookHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	provider := strings.TrimPrefix(r.URL.Path, "/api/webhooks/")
	provider = strings.Trim(provider, "/")
	if provider == "" || strings.Contains(provider, "/") {
		WriteError(w, http.StatusBadRequest, "provider name is required in the path")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	eventID, err := h.service.Ingest(r.Context(), provider, body)
	if err != nil {
		if models.IsMalformed(err) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("provider", provider).Msg("Webhook intake failed")
		WriteError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"event_id": eventID,
	})
}
