package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
	"github.com/ternarybob/showreel/internal/services/providers"
)

// BatchHandler handles HTTP requests that start and cancel batch runs.
type BatchHandler struct {
	orchestrator interfaces.BatchOrchestrator
	inspector    *providers.DeckInspector
	validate     *validator.Validate
	logger       arbor.ILogger
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(orchestrator interfaces.BatchOrchestrator, inspector *providers.DeckInspector, logger arbor.ILogger) *BatchHandler {
	return &BatchHandler{
		orchestrator: orchestrator,
		inspector:    inspector,
		validate:     validator.New(),
		logger:       logger,
	}
}

// StartBatchHandler handles POST /api/batches. The batch runs in the
// background; the response carries the run id.
func (h *BatchHandler) StartBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, "request validation failed: "+err.Error())
		return
	}

	// A deck path expands to one item per slide; explicit items win when both
	// are present.
	if len(req.Items) == 0 && req.DeckPath != "" {
		items, err := h.inspector.Inspect(req.DeckPath)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to inspect deck: "+err.Error())
			return
		}
		req.Items = items
	}

	runID, err := h.orchestrator.StartBatch(r.Context(), req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("run_id", runID).
		Str("subject_id", req.SubjectID).
		Int("items", len(req.Items)).
		Msg("Batch accepted")
	WriteAccepted(w, runID)
}

// CancelBatchHandler handles POST /api/batches/cancel.
func (h *BatchHandler) CancelBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req struct {
		SubjectID string         `json:"subject_id" validate:"required"`
		Kind      models.JobKind `json:"kind" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, "request validation failed: "+err.Error())
		return
	}

	if !h.orchestrator.CancelBatch(req.SubjectID, req.Kind) {
		WriteError(w, http.StatusNotFound, "no running batch for subject and kind")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
