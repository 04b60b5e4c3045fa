package api

import (
	"net/http"
	"strconv"

	"github.com/openrunner/openrunner/internal/apperr"
)

type startProcessRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (s *Server) handleStartProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req startProcessRequest
	_ = decodeJSON(r, &req) // body is optional; cols/rows default to 0

	ctx := r.Context()
	project, err := s.config.GetProject(ctx, id)
	if err != nil {
		handleError(w, err)
		return
	}
	group, err := s.config.GetGroup(ctx, project.GroupID)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := s.supervisor.Start(ctx, group, project, req.Cols, req.Rows); err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, s.supervisor.Status(id))
}

// handleStopProcess is a no-op on an already-stopped project (spec.md
// section 8 boundary case); Supervisor.Stop already implements that.
func (s *Server) handleStopProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.supervisor.Stop(id); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleRestartProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req startProcessRequest
	_ = decodeJSON(r, &req)

	ctx := r.Context()
	project, err := s.config.GetProject(ctx, id)
	if err != nil {
		handleError(w, err)
		return
	}
	group, err := s.config.GetGroup(ctx, project.GroupID)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := s.supervisor.RestartProject(ctx, group, project, req.Cols, req.Rows); err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, s.supervisor.Status(id))
}

func (s *Server) handleGetAllStatuses(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.supervisor.AllStatuses())
}

// handleWriteStdin is a no-op, not an error, when the project isn't running
// or isn't interactive (spec.md section 8 boundary case); Supervisor.WriteStdin
// returns a CodeState error in that case, which per spec.md section 7 is
// dropped rather than surfaced.
func (s *Server) handleWriteStdin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Data string `json:"data"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if err := s.supervisor.WriteStdin(id, []byte(req.Data)); err != nil {
		var appErr *apperr.Error
		if apperr.As(err, &appErr) && appErr.Code == apperr.CodeState {
			noContent(w)
			return
		}
		handleError(w, err)
		return
	}
	noContent(w)
}

// handleResizePty is a no-op on a non-interactive project (spec.md section 8
// boundary case).
func (s *Server) handleResizePty(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cols, err := strconv.Atoi(r.URL.Query().Get("cols"))
	if err != nil {
		handleError(w, apperr.Parse("parse cols", err))
		return
	}
	rows, err := strconv.Atoi(r.URL.Query().Get("rows"))
	if err != nil {
		handleError(w, apperr.Parse("parse rows", err))
		return
	}
	if err := s.supervisor.ResizePTY(id, uint16(cols), uint16(rows)); err != nil {
		var appErr *apperr.Error
		if apperr.As(err, &appErr) && appErr.Code == apperr.CodeState {
			noContent(w)
			return
		}
		handleError(w, err)
		return
	}
	noContent(w)
}
