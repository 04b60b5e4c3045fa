package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrunner/openrunner/internal/db"
	"github.com/openrunner/openrunner/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return New(database, nil)
}

func TestCreateAndGetGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g, err := s.CreateGroup(ctx, "backend", "/home/dev/backend", false)
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "backend", got.Name)
	assert.Equal(t, "/home/dev/backend", got.Directory)
	assert.Empty(t, got.Projects)
}

func TestGetGroupNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGroup(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCreateProjectPreservesEnvVars(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g, err := s.CreateGroup(ctx, "web", "/srv/web", false)
	require.NoError(t, err)

	p, err := s.CreateProject(ctx, domain.Project{
		GroupID: g.ID,
		Name:    "api",
		Command: "npm run dev",
		Kind:    domain.KindService,
		EnvVars: map[string]string{"PORT": "3000"},
	})
	require.NoError(t, err)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, got.Projects, 1)
	assert.Equal(t, p.ID, got.Projects[0].ID)
	assert.Equal(t, "3000", got.Projects[0].EnvVars["PORT"])
}

func TestUpdateGroupEnvVarsReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g, err := s.CreateGroup(ctx, "infra", "/srv/infra", false)
	require.NoError(t, err)

	require.NoError(t, s.UpdateGroupEnvVars(ctx, g.ID, map[string]string{"A": "1", "B": "2"}))
	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, got.EnvVars)

	require.NoError(t, s.UpdateGroupEnvVars(ctx, g.ID, map[string]string{"C": "3"}))
	got, err = s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"C": "3"}, got.EnvVars)
}

func TestDeleteGroupCascadesProjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g, err := s.CreateGroup(ctx, "tmp", "/srv/tmp", false)
	require.NoError(t, err)
	_, err = s.CreateProject(ctx, domain.Project{GroupID: g.ID, Name: "worker", Command: "echo hi"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteGroup(ctx, g.ID))
	_, err = s.GetGroup(ctx, g.ID)
	assert.Error(t, err)
}

func TestReplaceGroupDiscardsProjectIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g, err := s.CreateGroup(ctx, "svc", "/srv/svc", false)
	require.NoError(t, err)
	old, err := s.CreateProject(ctx, domain.Project{GroupID: g.ID, Name: "api", Command: "go run ."})
	require.NoError(t, err)

	g.Name = "svc-renamed"
	g.Projects = []domain.Project{{Name: "api", Command: "go run . --new"}}
	require.NoError(t, s.ReplaceGroup(ctx, g))

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "svc-renamed", got.Name)
	require.Len(t, got.Projects, 1)
	assert.NotEqual(t, old.ID, got.Projects[0].ID)
	assert.Equal(t, "go run . --new", got.Projects[0].Command)
}

func TestConvertProjectsBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g, err := s.CreateGroup(ctx, "batch", "/srv/batch", false)
	require.NoError(t, err)
	p1, err := s.CreateProject(ctx, domain.Project{GroupID: g.ID, Name: "a", Command: "a", Kind: domain.KindService})
	require.NoError(t, err)
	p2, err := s.CreateProject(ctx, domain.Project{GroupID: g.ID, Name: "b", Command: "b", Kind: domain.KindService})
	require.NoError(t, err)

	require.NoError(t, s.ConvertProjects(ctx, []string{p1.ID, p2.ID}, domain.KindTask))

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	for _, p := range got.Projects {
		assert.Equal(t, domain.KindTask, p.Kind)
	}
}

func TestDeleteProjectsBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g, err := s.CreateGroup(ctx, "batch-del", "/srv/bd", false)
	require.NoError(t, err)
	p1, err := s.CreateProject(ctx, domain.Project{GroupID: g.ID, Name: "a", Command: "a"})
	require.NoError(t, err)
	p2, err := s.CreateProject(ctx, domain.Project{GroupID: g.ID, Name: "b", Command: "b"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProjects(ctx, []string{p1.ID, p2.ID}))
	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Projects)
}
