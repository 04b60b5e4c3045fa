package api

import (
	"net/http"
	"strconv"
)

func (s *Server) handleGetProjectSessions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sessions, err := s.sessions.GetProjectSessions(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, sessions)
}

func (s *Server) handleGetProjectSessionsWithStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.sessions.GetProjectSessionsWithStats(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, stats)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, sess)
}

func (s *Server) handleGetSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logs, err := s.sessions.GetSessionLogsAsString(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, map[string]string{"logs": logs})
}

func (s *Server) handleGetSessionMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	metrics, err := s.sessions.GetSessionMetrics(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, metrics)
}

func (s *Server) handleGetLastMetric(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.sessions.GetLastMetric(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, m)
}

func (s *Server) handleGetLastCompletedSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.GetLastCompletedSession(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, sess)
}

func (s *Server) handleGetRecentLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	logs, err := s.sessions.GetRecentLogs(r.Context(), id, limit)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, logs)
}

// readProjectLogsCap bounds the "entire latest session" read so a runaway
// log can't exhaust memory; it is not a spec.md-named constant, just this
// handler's own composition of GetRecentLogs.
const readProjectLogsCap = 100000

func (s *Server) handleReadProjectLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logs, err := s.sessions.GetRecentLogs(r.Context(), id, readProjectLogsCap)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, logs)
}

func (s *Server) handleClearProjectLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.ClearProjectLogs(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}
