package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// StatusHandler serves run status queries. Lookups never 404: an unknown
// subject/kind returns a zero-value record with state "none" so clients can
// poll before a run exists.
type StatusHandler struct {
	registry interfaces.StatusRegistry
	storage  interfaces.StorageManager
	started  time.Time
	logger   arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(registry interfaces.StatusRegistry, storage interfaces.StorageManager, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		registry: registry,
		storage:  storage,
		started:  time.Now(),
		logger:   logger,
	}
}

// GetStatusHandler handles GET /api/status?subject=...&kind=...
// Without query parameters it lists every known record.
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	subject := r.URL.Query().Get("subject")
	kind := r.URL.Query().Get("kind")

	if subject == "" && kind == "" {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"records": h.registry.List(),
		})
		return
	}
	if subject == "" || kind == "" {
		WriteError(w, http.StatusBadRequest, "subject and kind must be provided together")
		return
	}

	record := h.registry.Get(subject, models.JobKind(kind))
	WriteJSON(w, http.StatusOK, record)
}

// SystemStatusHandler handles GET /api/status/system.
func (h *StatusHandler) SystemStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobCount, err := h.storage.JobStorage().Count(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count jobs for system status")
	}
	eventCount, err := h.storage.WebhookStorage().Count(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count webhook events for system status")
	}
	stuck, err := h.storage.WebhookStorage().ListStuck(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to list stuck webhook events for system status")
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        common.GetVersion(),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"jobs":           jobCount,
		"webhook_events": eventCount,
		"stuck_events":   len(stuck),
		"active_runs":    countActive(h.registry.List()),
	})
}

func countActive(records []models.StatusRecord) int {
	active := 0
	for _, rec := range records {
		if !rec.State.IsTerminal() {
			active++
		}
	}
	return active
}
