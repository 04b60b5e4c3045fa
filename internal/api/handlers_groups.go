package api

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/domain"
	"github.com/openrunner/openrunner/internal/events"
	"github.com/openrunner/openrunner/internal/yamlmirror"
)

func (s *Server) handleGetGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.config.ListGroups(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, groups)
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Directory   string `json:"directory"`
	SyncEnabled bool   `json:"syncEnabled"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	g, err := s.config.CreateGroup(r.Context(), req.Name, req.Directory, req.SyncEnabled)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponseStatus(w, g, http.StatusCreated)
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if err := s.config.RenameGroup(r.Context(), id, req.Name); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleUpdateGroupDirectory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Directory string `json:"directory"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if err := s.config.UpdateGroupDirectory(r.Context(), id, req.Directory); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleUpdateGroupEnvVars(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		EnvVars map[string]string `json:"envVars"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if err := s.config.UpdateGroupEnvVars(r.Context(), id, req.EnvVars); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

// handleDeleteGroup stops every running project in the group before
// deleting it (spec.md section 8 boundary case).
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	g, err := s.config.GetGroup(ctx, id)
	if err != nil {
		handleError(w, err)
		return
	}
	if s.supervisor != nil {
		for _, p := range g.Projects {
			_ = s.supervisor.Stop(p.ID)
		}
	}
	s.yamlWatch.Unwatch(id)
	if err := s.config.DeleteGroup(ctx, id); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleToggleGroupSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	ctx := r.Context()
	g, err := s.config.GetGroup(ctx, id)
	if err != nil {
		handleError(w, err)
		return
	}
	path := g.YamlPath
	if path == "" {
		path = yamlmirror.DefaultPath(g.Directory)
	}
	if err := s.config.UpdateGroupSync(ctx, id, path, req.Enabled); err != nil {
		handleError(w, err)
		return
	}
	if req.Enabled {
		if err := s.mirror.Write(g, path); err != nil {
			handleError(w, err)
			return
		}
		if err := s.yamlWatch.Watch(id, path); err != nil {
			s.log.Warn("yaml watch failed", "group_id", id, "path", path, "error", err)
		}
	} else {
		s.yamlWatch.Unwatch(id)
	}
	noContent(w)
}

// handleReloadGroupFromYaml re-reads a sync-enabled group's YAML file and
// replaces its project set through ReplaceGroup, which stores every project
// under a freshly minted id.
func (s *Server) handleReloadGroupFromYaml(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	merged, err := s.reloadGroupFromYamlPath(r.Context(), id, "")
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, merged)
}

// reloadGroupFromYamlPath is the shared reload policy behind both a manual
// reloadGroupFromYaml command and an automatic yamlwatch-triggered reload
// (spec.md section 4.2: "the handling policy ... lives in the Supervisor's
// command layer"). path may be empty, in which case the group's recorded
// YamlPath (or a freshly located file) is used.
func (s *Server) reloadGroupFromYamlPath(ctx context.Context, groupID, path string) (domain.Group, error) {
	g, err := s.config.GetGroup(ctx, groupID)
	if err != nil {
		return domain.Group{}, err
	}
	if path == "" {
		path = g.YamlPath
	}
	if path == "" {
		path = s.mirror.FindFile(g.Directory)
	}
	if path == "" {
		return domain.Group{}, apperr.NotFound("yaml file", g.Directory)
	}

	cfg, err := s.mirror.Parse(path)
	if err != nil {
		return domain.Group{}, err
	}
	merged := yamlmirror.UpdateGroupFromYaml(g, cfg, g.Directory)
	if err := s.config.ReplaceGroup(ctx, merged); err != nil {
		return domain.Group{}, err
	}

	groups, err := s.config.ListGroups(ctx)
	if err != nil {
		return domain.Group{}, err
	}
	s.pub.Publish(events.NewEvent(events.EventConfigReloaded, events.GlobalTaskID, events.ConfigReloadedData{Groups: groups}))
	return merged, nil
}

func (s *Server) handleExportGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		FilePath string `json:"filePath"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	g, err := s.config.GetGroup(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := s.mirror.Write(g, req.FilePath); err != nil {
		handleError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleImportGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FilePath string `json:"filePath"`
	}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	cfg, err := s.mirror.Parse(req.FilePath)
	if err != nil {
		handleError(w, err)
		return
	}
	dir := filepath.Dir(req.FilePath)
	imported := yamlmirror.ToGroup(cfg, dir, req.FilePath)

	ctx := r.Context()
	created, err := s.config.CreateGroup(ctx, imported.Name, dir, true)
	if err != nil {
		handleError(w, err)
		return
	}
	imported.ID = created.ID
	if err := s.config.UpdateGroupSync(ctx, created.ID, req.FilePath, true); err != nil {
		handleError(w, err)
		return
	}
	if err := s.config.ReplaceGroup(ctx, imported); err != nil {
		handleError(w, err)
		return
	}
	if err := s.yamlWatch.Watch(created.ID, req.FilePath); err != nil {
		s.log.Warn("yaml watch failed", "group_id", created.ID, "path", req.FilePath, "error", err)
	}

	g, err := s.config.GetGroup(ctx, created.ID)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponseStatus(w, g, http.StatusCreated)
}
