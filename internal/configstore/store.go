// Package configstore owns the persisted Group/Project records: the single
// writer for the embedded relational store, with transactional replace
// semantics (spec.md section 4.1).
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/db"
	"github.com/openrunner/openrunner/internal/domain"
)

// Store is the sole mutator of Group/Project records.
type Store struct {
	db  *db.DB
	log *slog.Logger
}

// New wraps an open store. log defaults to slog.Default() when nil.
func New(database *db.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: database, log: log}
}

// ListGroups returns every group, fully hydrated with projects and env vars,
// ordered by sort_order then name.
func (s *Store) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, directory, sync_enabled, yaml_path, created_at, updated_at
		FROM groups ORDER BY sort_order, name`)
	if err != nil {
		return nil, apperr.Storage("list groups", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, apperr.Storage("scan group", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate groups", err)
	}

	for i := range groups {
		if err := s.hydrateGroup(ctx, &groups[i]); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// GetGroup fetches one group by id, fully hydrated.
func (s *Store) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	row := s.db.QueryRow(ctx, `SELECT id, name, directory, sync_enabled, yaml_path, created_at, updated_at
		FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, apperr.NotFound("group", id)
	}
	if err != nil {
		return domain.Group{}, apperr.Storage("get group", err)
	}
	if err := s.hydrateGroup(ctx, &g); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}

// GetProject fetches one project by id, regardless of its group.
func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := s.db.QueryRow(ctx, `SELECT id, group_id, name, command, kind, auto_restart, working_dir,
		interactive, watch_patterns, auto_start_on_launch, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, apperr.NotFound("project", id)
	}
	if err != nil {
		return domain.Project{}, apperr.Storage("get project", err)
	}
	env, err := s.projectEnvVars(ctx, p.ID)
	if err != nil {
		return domain.Project{}, err
	}
	p.EnvVars = env
	return p, nil
}

func (s *Store) hydrateGroup(ctx context.Context, g *domain.Group) error {
	env, err := s.groupEnvVars(ctx, g.ID)
	if err != nil {
		return err
	}
	g.EnvVars = env

	projects, err := s.projectsForGroup(ctx, g.ID)
	if err != nil {
		return err
	}
	g.Projects = projects
	return nil
}

func (s *Store) groupEnvVars(ctx context.Context, groupID string) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM group_env_vars WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, apperr.Storage("load group env vars", err)
	}
	defer func() { _ = rows.Close() }()

	env := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Storage("scan group env var", err)
		}
		env[k] = v
	}
	return env, rows.Err()
}

func (s *Store) projectsForGroup(ctx context.Context, groupID string) ([]domain.Project, error) {
	rows, err := s.db.Query(ctx, `SELECT id, group_id, name, command, kind, auto_restart, working_dir,
		interactive, watch_patterns, auto_start_on_launch, created_at, updated_at
		FROM projects WHERE group_id = ? ORDER BY sort_order, name`, groupID)
	if err != nil {
		return nil, apperr.Storage("list projects", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperr.Storage("scan project", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate projects", err)
	}

	for i := range projects {
		env, err := s.projectEnvVars(ctx, projects[i].ID)
		if err != nil {
			return nil, err
		}
		projects[i].EnvVars = env
	}
	return projects, nil
}

func (s *Store) projectEnvVars(ctx context.Context, projectID string) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM project_env_vars WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, apperr.Storage("load project env vars", err)
	}
	defer func() { _ = rows.Close() }()

	env := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Storage("scan project env var", err)
		}
		env[k] = v
	}
	return env, rows.Err()
}

// CreateGroup inserts a new group with no projects.
func (s *Store) CreateGroup(ctx context.Context, name, directory string, syncEnabled bool) (domain.Group, error) {
	g := domain.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Directory:   directory,
		SyncEnabled: syncEnabled,
		EnvVars:     map[string]string{},
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	err := s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		_, err := tx.Exec(`INSERT INTO groups (id, name, directory, sync_enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			g.ID, g.Name, g.Directory, boolToInt(g.SyncEnabled), g.CreatedAt.Format(time.RFC3339), g.UpdatedAt.Format(time.RFC3339))
		return err
	})
	if err != nil {
		return domain.Group{}, apperr.Storage("create group", err)
	}
	return g, nil
}

// RenameGroup updates a group's display name.
func (s *Store) RenameGroup(ctx context.Context, id, name string) error {
	return s.updateGroupField(ctx, id, "name", name)
}

// UpdateGroupDirectory updates a group's working directory.
func (s *Store) UpdateGroupDirectory(ctx context.Context, id, directory string) error {
	return s.updateGroupField(ctx, id, "directory", directory)
}

func (s *Store) updateGroupField(ctx context.Context, id, column, value string) error {
	res, err := s.db.Exec(ctx, fmt.Sprintf(`UPDATE groups SET %s = ?, updated_at = ? WHERE id = ?`, column),
		value, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return apperr.Storage("update group", err)
	}
	return requireRowAffected(res, "group", id)
}

// UpdateGroupEnvVars replaces a group's entire env-var map atomically.
func (s *Store) UpdateGroupEnvVars(ctx context.Context, id string, envVars map[string]string) error {
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		if _, err := tx.Exec(`DELETE FROM group_env_vars WHERE group_id = ?`, id); err != nil {
			return err
		}
		for k, v := range envVars {
			if _, err := tx.Exec(`INSERT INTO group_env_vars (group_id, key, value) VALUES (?, ?, ?)`, id, k, v); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`UPDATE groups SET updated_at = ? WHERE id = ?`, time.Now().UTC().Format(time.RFC3339), id)
		return err
	})
}

// UpdateGroupSync flips a group's YAML sync path and enabled flag. It does
// not check that path is set or that the file exists; handleToggleGroupSync
// writes the YAML file right after enabling sync.
func (s *Store) UpdateGroupSync(ctx context.Context, id, path string, enabled bool) error {
	_, err := s.db.Exec(ctx, `UPDATE groups SET yaml_path = ?, sync_enabled = ?, updated_at = ? WHERE id = ?`,
		nullableString(path), boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return apperr.Storage("update group sync", err)
	}
	return nil
}

// DeleteGroup removes a group and cascades to its projects and env vars.
// Callers must stop all the group's running processes first (spec.md
// section 8 boundary case); the store itself only enforces the cascade.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.Exec(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("delete group", err)
	}
	return requireRowAffected(res, "group", id)
}

// ReplaceGroup swaps a group's entire project set in one transaction,
// discarding old project identities. Used by YAML reload (spec.md section
// 4.1): it is the only mutation that does not preserve project ids.
func (s *Store) ReplaceGroup(ctx context.Context, g domain.Group) error {
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := tx.Exec(`UPDATE groups SET name = ?, directory = ?, updated_at = ? WHERE id = ?`,
			g.Name, g.Directory, now, g.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM group_env_vars WHERE group_id = ?`, g.ID); err != nil {
			return err
		}
		for k, v := range g.EnvVars {
			if _, err := tx.Exec(`INSERT INTO group_env_vars (group_id, key, value) VALUES (?, ?, ?)`, g.ID, k, v); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM projects WHERE group_id = ?`, g.ID); err != nil {
			return err
		}
		for i, p := range g.Projects {
			p.ID = uuid.NewString()
			p.GroupID = g.ID
			if err := insertProjectTx(tx, p, i, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateProject inserts a project under an existing group.
func (s *Store) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	p.ID = uuid.NewString()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Kind == "" {
		p.Kind = domain.KindService
	}
	err := s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		return insertProjectTx(tx, p, 0, now.Format(time.RFC3339))
	})
	if err != nil {
		return domain.Project{}, apperr.Storage("create project", err)
	}
	return p, nil
}

func insertProjectTx(tx *db.TxOps, p domain.Project, sortOrder int, now string) error {
	watch, err := json.Marshal(p.WatchPatterns)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO projects (id, group_id, name, command, kind, auto_restart,
		working_dir, interactive, watch_patterns, auto_start_on_launch, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GroupID, p.Name, p.Command, string(p.Kind), boolToInt(p.AutoRestart),
		nullableString(p.WorkingDir), boolToInt(p.Interactive), string(watch), boolToInt(p.AutoStartOnLaunch),
		sortOrder, now, now); err != nil {
		return err
	}
	for k, v := range p.EnvVars {
		if _, err := tx.Exec(`INSERT INTO project_env_vars (project_id, key, value) VALUES (?, ?, ?)`, p.ID, k, v); err != nil {
			return err
		}
	}
	return nil
}

// UpdateProject replaces a project's mutable fields and env vars in place,
// preserving its id.
func (s *Store) UpdateProject(ctx context.Context, p domain.Project) error {
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		watch, err := json.Marshal(p.WatchPatterns)
		if err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339)
		res, err := tx.Exec(`UPDATE projects SET name = ?, command = ?, kind = ?, auto_restart = ?,
			working_dir = ?, interactive = ?, watch_patterns = ?, auto_start_on_launch = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.Command, string(p.Kind), boolToInt(p.AutoRestart),
			nullableString(p.WorkingDir), boolToInt(p.Interactive), string(watch), boolToInt(p.AutoStartOnLaunch),
			now, p.ID)
		if err != nil {
			return err
		}
		if err := requireRowAffected(res, "project", p.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM project_env_vars WHERE project_id = ?`, p.ID); err != nil {
			return err
		}
		for k, v := range p.EnvVars {
			if _, err := tx.Exec(`INSERT INTO project_env_vars (project_id, key, value) VALUES (?, ?, ?)`, p.ID, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteProject removes a single project. Callers must stop its running
// process first (spec.md section 3 lifecycle).
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("delete project", err)
	}
	return requireRowAffected(res, "project", id)
}

// DeleteProjects removes a batch of projects in one transaction.
func (s *Store) DeleteProjects(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		_, err := tx.Exec(fmt.Sprintf(`DELETE FROM projects WHERE id IN (%s)`, placeholders), args...)
		return err
	})
}

// ConvertProjects batch-changes project kind (service <-> task). Converting
// to task clears AutoRestart semantics at the supervisor layer, not here;
// the store only records the kind.
func (s *Store) ConvertProjects(ctx context.Context, ids []string, kind domain.ProjectKind) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, 0, len(ids)+1)
		args = append(args, string(kind))
		for _, id := range ids {
			args = append(args, id)
		}
		_, err := tx.Exec(fmt.Sprintf(`UPDATE projects SET kind = ? WHERE id IN (%s)`, placeholders), args...)
		return err
	})
}

func requireRowAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("check rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound(kind, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGroup(row scannable) (domain.Group, error) {
	var g domain.Group
	var syncEnabled int
	var yamlPath sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&g.ID, &g.Name, &g.Directory, &syncEnabled, &yamlPath, &createdAt, &updatedAt); err != nil {
		return domain.Group{}, err
	}
	g.SyncEnabled = syncEnabled != 0
	g.YamlPath = yamlPath.String
	g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	g.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return g, nil
}

func scanProject(row scannable) (domain.Project, error) {
	var p domain.Project
	var autoRestart, interactive, autoStart int
	var workingDir sql.NullString
	var watchJSON string
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.GroupID, &p.Name, &p.Command, &p.Kind, &autoRestart, &workingDir,
		&interactive, &watchJSON, &autoStart, &createdAt, &updatedAt); err != nil {
		return domain.Project{}, err
	}
	p.AutoRestart = autoRestart != 0
	p.WorkingDir = workingDir.String
	p.Interactive = interactive != 0
	p.AutoStartOnLaunch = autoStart != 0
	if watchJSON != "" {
		_ = json.Unmarshal([]byte(watchJSON), &p.WatchPatterns)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, nil
}
