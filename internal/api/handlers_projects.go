package api

import (
	"net/http"
	"path/filepath"

	"github.com/openrunner/openrunner/internal/domain"
	"github.com/openrunner/openrunner/internal/platform"
)

type projectRequest struct {
	Name              string             `json:"name"`
	Command           string             `json:"command"`
	Kind              domain.ProjectKind `json:"kind"`
	AutoRestart       bool               `json:"autoRestart"`
	WorkingDir        string             `json:"workingDir"`
	Interactive       bool               `json:"interactive"`
	WatchPatterns     []string           `json:"watchPatterns"`
	AutoStartOnLaunch bool               `json:"autoStartOnLaunch"`
	EnvVars           map[string]string  `json:"envVars"`
}

func (req projectRequest) toProject() domain.Project {
	kind := req.Kind
	if kind == "" {
		kind = domain.KindService
	}
	return domain.Project{
		Name:              req.Name,
		Command:           req.Command,
		Kind:              kind,
		AutoRestart:       req.AutoRestart,
		WorkingDir:        req.WorkingDir,
		Interactive:       req.Interactive,
		WatchPatterns:     req.WatchPatterns,
		AutoStartOnLaunch: req.AutoStartOnLaunch,
		EnvVars:           req.EnvVars,
	}
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("groupId")
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	p := req.toProject()
	p.GroupID = groupID
	created, err := s.config.CreateProject(r.Context(), p)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponseStatus(w, created, http.StatusCreated)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	p := req.toProject()
	p.ID = id
	if err := s.config.UpdateProject(r.Context(), p); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

// handleDeleteProject stops the project first if it is running.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.supervisor != nil {
		_ = s.supervisor.Stop(id)
	}
	if err := s.config.DeleteProject(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleDeleteMultipleProjects(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if s.supervisor != nil {
		for _, id := range req.IDs {
			_ = s.supervisor.Stop(id)
		}
	}
	if err := s.config.DeleteProjects(r.Context(), req.IDs); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleConvertMultipleProjects(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs     []string           `json:"ids"`
		NewType domain.ProjectKind `json:"newType"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if err := s.config.ConvertProjects(r.Context(), req.IDs, req.NewType); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

// handleResolveProjectWorkingDir implements both resolveProjectWorkingDir
// and resolveWorkingDirByProject, which share the same cwd-relative-to-group
// rule the supervisor applies when spawning (spec.md section 3).
func (s *Server) handleResolveProjectWorkingDir(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	p, err := s.config.GetProject(ctx, id)
	if err != nil {
		handleError(w, err)
		return
	}
	g, err := s.config.GetGroup(ctx, p.GroupID)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, map[string]string{"workingDir": resolveWorkingDir(g, p)})
}

// resolveWorkingDir applies project.WorkingDir's relative-to-group-dir /
// absolute-as-is rule (spec.md section 3), mirroring the supervisor's own
// resolution so resolveProjectWorkingDir reports exactly what Start would use.
func resolveWorkingDir(g domain.Group, p domain.Project) string {
	if p.WorkingDir == "" {
		return g.Directory
	}
	if filepath.IsAbs(p.WorkingDir) {
		return p.WorkingDir
	}
	return filepath.Join(g.Directory, p.WorkingDir)
}

func (s *Server) handleDetectSystemEditor(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"editor": platform.DetectSystemEditor()})
}

func (s *Server) handleDetectSystemShell(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"shell": platform.DetectDefaultShell()})
}
