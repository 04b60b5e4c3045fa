package yamlmirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrunner/openrunner/internal/domain"
)

func sampleGroup(dir string) domain.Group {
	return domain.Group{
		ID:        "g1",
		Name:      "backend",
		Directory: dir,
		EnvVars:   map[string]string{"NODE_ENV": "development"},
		Projects: []domain.Project{
			{
				ID:          "p1",
				Name:        "api",
				Command:     "npm run dev",
				Kind:        domain.KindService,
				AutoRestart: true,
				EnvVars:     map[string]string{},
			},
		},
	}
}

func TestWriteThenParseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := DefaultPath(dir)
	m := New()

	g := sampleGroup(dir)
	require.NoError(t, m.Write(g, path))

	cfg, err := m.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "backend", cfg.Name)
	require.Len(t, cfg.Projects, 1)
	assert.Equal(t, "api", cfg.Projects[0].Name)
	assert.Equal(t, "npm run dev", cfg.Projects[0].Command)
}

func TestToGroupMintsFreshProjectIDs(t *testing.T) {
	dir := t.TempDir()
	cfg := YamlConfig{
		Version: "1.0",
		Name:    "backend",
		Projects: []YamlProject{
			{Name: "api", Command: "npm run dev"},
		},
	}
	g := ToGroup(cfg, dir, DefaultPath(dir))
	require.Len(t, g.Projects, 1)
	assert.NotEmpty(t, g.Projects[0].ID)
	assert.True(t, g.Projects[0].AutoRestart, "default autoRestart on read is true")
	assert.Equal(t, domain.KindService, g.Projects[0].Kind)
}

func TestUpdateGroupFromYamlPreservesIDsByName(t *testing.T) {
	dir := t.TempDir()
	existing := sampleGroup(dir)

	cfg := YamlConfig{
		Version: "1.0",
		Name:    "backend-renamed",
		Projects: []YamlProject{
			{Name: "api", Command: "npm run dev -- --port 4000"},
			{Name: "worker", Command: "npm run worker"},
		},
	}

	updated := UpdateGroupFromYaml(existing, cfg, dir)
	assert.Equal(t, "backend-renamed", updated.Name)
	require.Len(t, updated.Projects, 2)

	var api, worker domain.Project
	for _, p := range updated.Projects {
		switch p.Name {
		case "api":
			api = p
		case "worker":
			worker = p
		}
	}
	assert.Equal(t, "p1", api.ID, "matching by name preserves the existing project id")
	assert.NotEmpty(t, worker.ID)
	assert.NotEqual(t, "p1", worker.ID)
}

func TestUpdateGroupFromYamlDropsMissingProjects(t *testing.T) {
	dir := t.TempDir()
	existing := sampleGroup(dir)
	existing.Projects = append(existing.Projects, domain.Project{ID: "p2", Name: "gone", Command: "x"})

	cfg := YamlConfig{Version: "1.0", Name: "backend", Projects: []YamlProject{{Name: "api", Command: "npm run dev"}}}
	updated := UpdateGroupFromYaml(existing, cfg, dir)
	require.Len(t, updated.Projects, 1)
	assert.Equal(t, "api", updated.Projects[0].Name)
}

func TestShouldSuppressWithinDebounceWindow(t *testing.T) {
	dir := t.TempDir()
	path := DefaultPath(dir)
	m := New()
	require.NoError(t, m.Write(sampleGroup(dir), path))

	assert.True(t, m.ShouldSuppress(path, time.Now().Add(200*time.Millisecond)))
	assert.False(t, m.ShouldSuppress(path, time.Now().Add(600*time.Millisecond)))
}

func TestFindFilePrefersYaml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openrunner.yaml"), []byte("version: \"1.0\"\nname: x\nprojects: []\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openrunner.yml"), []byte("version: \"1.0\"\nname: y\nprojects: []\n"), 0644))
	m := New()
	assert.Equal(t, filepath.Join(dir, "openrunner.yaml"), m.FindFile(dir))
}

func TestWriteOmitsEmptyEnvVarsAndWatchPatterns(t *testing.T) {
	dir := t.TempDir()
	path := DefaultPath(dir)
	m := New()
	g := domain.Group{
		ID: "g2", Name: "tiny", Directory: dir,
		Projects: []domain.Project{{ID: "p1", Name: "a", Command: "echo hi", Kind: domain.KindTask, AutoRestart: false}},
	}
	require.NoError(t, m.Write(g, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.NotContains(t, content, "envVars")
	assert.NotContains(t, content, "watchPatterns")
	assert.NotContains(t, content, "autoStartOnLaunch")
}
