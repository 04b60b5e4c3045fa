package api

import (
	"net/http"
	"strconv"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/db"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.config.GetSettings(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := decodeJSON(r, &updates); err != nil {
		handleError(w, err)
		return
	}
	if err := s.config.UpdateSettings(r.Context(), updates); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleGetStorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sessions.GetStorageStats(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, stats)
}

func (s *Server) handleCleanupStorage(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		handleError(w, apperr.Parse("parse days", err))
		return
	}
	if err := s.sessions.CleanupOldSessions(r.Context(), days); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleCleanupAllStorage(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.CleanupAllSessions(r.Context()); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleGetDatabasePath(w http.ResponseWriter, r *http.Request) {
	path := ""
	if s.database != nil {
		path = s.database.Path()
	} else {
		p, err := db.DefaultPath()
		if err != nil {
			handleError(w, apperr.Storage("resolve database path", err))
			return
		}
		path = p
	}
	jsonResponse(w, map[string]string{"path": path})
}
