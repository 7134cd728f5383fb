package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Batches
	mux.HandleFunc("/api/batches", s.app.BatchHandler.StartBatchHandler)        // POST - start a batch run
	mux.HandleFunc("/api/batches/cancel", s.app.BatchHandler.CancelBatchHandler) // POST - cancel a running batch

	// API routes - Monitors (adopt already-submitted external jobs)
	mux.HandleFunc("/api/monitors", s.app.MonitorHandler.StartMonitorHandler)
	mux.HandleFunc("/api/monitors/cancel", s.app.MonitorHandler.CancelMonitorHandler)

	// API routes - Status
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)           // GET - run status by subject+kind, or all
	mux.HandleFunc("/api/status/system", s.app.StatusHandler.SystemStatusHandler) // GET - service health summary

	// API routes - Presets
	mux.HandleFunc("/api/presets", s.app.PresetHandler.ListPresetsHandler)
	mux.HandleFunc("/api/presets/", s.handlePresetRoutes) // POST /{name}/run

	// Provider callbacks
	mux.HandleFunc("/api/webhooks/", s.app.WebhookHandler.IngestHandler) // POST /{provider}

	// API routes - System
	mux.HandleFunc("/api/version", s.versionHandler)
	mux.HandleFunc("/api/health", s.healthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handlePresetRoutes routes preset subpaths.
func (s *Server) handlePresetRoutes(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/run") {
		s.app.PresetHandler.RunPresetHandler(w, r)
		return
	}
	s.notFoundHandler(w, r)
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "not found: "+r.URL.Path)
}
