package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// MonitorHandler handles HTTP requests that attach a monitor to an
// already-submitted external job.
type MonitorHandler struct {
	monitor  interfaces.JobMonitor
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(monitor interfaces.JobMonitor, logger arbor.ILogger) *MonitorHandler {
	return &MonitorHandler{
		monitor:  monitor,
		validate: validator.New(),
		logger:   logger,
	}
}

// StartMonitorHandler handles POST /api/monitors.
func (h *MonitorHandler) StartMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.MonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, "request validation failed: "+err.Error())
		return
	}

	runID, err := h.monitor.StartMonitor(r.Context(), req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("run_id", runID).
		Str("external_id", req.ExternalJobID).
		Msg("Monitor accepted")
	WriteAccepted(w, runID)
}

// CancelMonitorHandler handles POST /api/monitors/cancel.
func (h *MonitorHandler) CancelMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req struct {
		ExternalJobID string `json:"external_job_id" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, "request validation failed: "+err.Error())
		return
	}

	if !h.monitor.CancelMonitor(req.ExternalJobID) {
		WriteError(w, http.StatusNotFound, "no active monitor for external job id")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
