package api

import "net/http"

// registerRoutes wires every command in the Command/Event Surface onto the
// Go 1.22+ pattern-matching ServeMux (spec.md section 4.9, section 6).
func (s *Server) registerRoutes() {
	cors := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			h(w, r)
		}
	}

	s.mux.HandleFunc("GET /api/health", cors(s.handleHealth))

	// Groups.
	s.mux.HandleFunc("GET /api/groups", cors(s.handleGetGroups))
	s.mux.HandleFunc("POST /api/groups", cors(s.handleCreateGroup))
	s.mux.HandleFunc("PATCH /api/groups/{id}/rename", cors(s.handleRenameGroup))
	s.mux.HandleFunc("PATCH /api/groups/{id}/directory", cors(s.handleUpdateGroupDirectory))
	s.mux.HandleFunc("PATCH /api/groups/{id}/env-vars", cors(s.handleUpdateGroupEnvVars))
	s.mux.HandleFunc("DELETE /api/groups/{id}", cors(s.handleDeleteGroup))
	s.mux.HandleFunc("POST /api/groups/{id}/sync", cors(s.handleToggleGroupSync))
	s.mux.HandleFunc("POST /api/groups/{id}/reload", cors(s.handleReloadGroupFromYaml))
	s.mux.HandleFunc("POST /api/groups/{id}/export", cors(s.handleExportGroup))
	s.mux.HandleFunc("POST /api/groups/import", cors(s.handleImportGroup))

	// Projects.
	s.mux.HandleFunc("POST /api/groups/{groupId}/projects", cors(s.handleCreateProject))
	s.mux.HandleFunc("PATCH /api/projects/{id}", cors(s.handleUpdateProject))
	s.mux.HandleFunc("DELETE /api/projects/{id}", cors(s.handleDeleteProject))
	s.mux.HandleFunc("POST /api/projects/delete-multiple", cors(s.handleDeleteMultipleProjects))
	s.mux.HandleFunc("POST /api/projects/convert", cors(s.handleConvertMultipleProjects))
	s.mux.HandleFunc("GET /api/projects/{id}/working-dir", cors(s.handleResolveProjectWorkingDir))

	// Processes.
	s.mux.HandleFunc("POST /api/processes/{id}/start", cors(s.handleStartProcess))
	s.mux.HandleFunc("POST /api/processes/{id}/stop", cors(s.handleStopProcess))
	s.mux.HandleFunc("POST /api/processes/{id}/restart", cors(s.handleRestartProcess))
	s.mux.HandleFunc("GET /api/processes", cors(s.handleGetAllStatuses))
	s.mux.HandleFunc("POST /api/processes/{id}/stdin", cors(s.handleWriteStdin))
	s.mux.HandleFunc("POST /api/processes/{id}/resize", cors(s.handleResizePty))

	// Sessions / logs / metrics.
	s.mux.HandleFunc("GET /api/projects/{id}/sessions", cors(s.handleGetProjectSessions))
	s.mux.HandleFunc("GET /api/projects/{id}/sessions-with-stats", cors(s.handleGetProjectSessionsWithStats))
	s.mux.HandleFunc("GET /api/sessions/{id}", cors(s.handleGetSession))
	s.mux.HandleFunc("GET /api/sessions/{id}/logs", cors(s.handleGetSessionLogs))
	s.mux.HandleFunc("GET /api/sessions/{id}/metrics", cors(s.handleGetSessionMetrics))
	s.mux.HandleFunc("GET /api/sessions/{id}/last-metric", cors(s.handleGetLastMetric))
	s.mux.HandleFunc("GET /api/projects/{id}/last-completed-session", cors(s.handleGetLastCompletedSession))
	s.mux.HandleFunc("GET /api/projects/{id}/recent-logs", cors(s.handleGetRecentLogs))
	s.mux.HandleFunc("GET /api/projects/{id}/logs", cors(s.handleReadProjectLogs))
	s.mux.HandleFunc("DELETE /api/projects/{id}/logs", cors(s.handleClearProjectLogs))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", cors(s.handleDeleteSession))

	// Settings & misc.
	s.mux.HandleFunc("GET /api/settings", cors(s.handleGetSettings))
	s.mux.HandleFunc("PATCH /api/settings", cors(s.handleUpdateSettings))
	s.mux.HandleFunc("GET /api/system/editor", cors(s.handleDetectSystemEditor))
	s.mux.HandleFunc("GET /api/system/shell", cors(s.handleDetectSystemShell))
	s.mux.HandleFunc("GET /api/storage/stats", cors(s.handleGetStorageStats))
	s.mux.HandleFunc("POST /api/storage/cleanup", cors(s.handleCleanupStorage))
	s.mux.HandleFunc("POST /api/storage/cleanup-all", cors(s.handleCleanupAllStorage))
	s.mux.HandleFunc("GET /api/storage/database-path", cors(s.handleGetDatabasePath))

	// Event push.
	s.mux.HandleFunc("GET /api/ws", s.ws.ServeHTTP)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"})
}
