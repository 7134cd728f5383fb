package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
	"github.com/ternarybob/showreel/internal/services/providers"
)

// PresetHandler exposes the batch presets loaded at startup and lets a
// preset be launched by name.
type PresetHandler struct {
	presets      []models.BatchPreset
	orchestrator interfaces.BatchOrchestrator
	inspector    *providers.DeckInspector
	logger       arbor.ILogger
}

// NewPresetHandler creates a new PresetHandler.
func NewPresetHandler(presets []models.BatchPreset, orchestrator interfaces.BatchOrchestrator, inspector *providers.DeckInspector, logger arbor.ILogger) *PresetHandler {
	return &PresetHandler{
		presets:      presets,
		orchestrator: orchestrator,
		inspector:    inspector,
		logger:       logger,
	}
}

// ListPresetsHandler handles GET /api/presets.
func (h *PresetHandler) ListPresetsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"presets": h.presets,
	})
}

// RunPresetHandler handles POST /api/presets/{name}/run.
func (h *PresetHandler) RunPresetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/presets/")
	name = strings.TrimSuffix(name, "/run")
	name = strings.Trim(name, "/")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "preset name is required in the path")
		return
	}

	preset, ok := h.find(name)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown preset: "+name)
		return
	}

	// Optional body overrides the preset's subject id.
	var overrides struct {
		SubjectID string `json:"subject_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&overrides)
	}

	req := models.BatchRequest{
		SubjectID: preset.SubjectID,
		Kind:      preset.Kind,
		Items:     preset.Items,
		DeckPath:  preset.DeckPath,
	}
	if overrides.SubjectID != "" {
		req.SubjectID = overrides.SubjectID
	}

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
		h.logger.Warn().Err(err).Str("preset", name).Msg("Failed to start preset batch")
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	h.logger.Info().Str("preset", name).Str("run_id", runID).Msg("Preset batch started")
	WriteAccepted(w, runID)
}

func (h *PresetHandler) find(name string) (models.BatchPreset, bool) {
	for _, p := range h.presets {
		if p.Name == name {
			return p, true
		}
	}
	return models.BatchPreset{}, false
}
