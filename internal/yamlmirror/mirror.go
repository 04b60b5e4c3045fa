// Package yamlmirror bridges the Config Store with a per-group
// openrunner.yaml file, with self-write suppression so the application's
// own writes don't bounce back as external change events (spec.md section
// 4.2).
package yamlmirror

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/google/uuid"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/domain"
)

const (
	// DefaultFileName is the canonical name written for new sync-enabled groups.
	DefaultFileName = "openrunner.yaml"
	// suppressWindow is the minimum debounce the watcher must honor before an
	// event following our own write is treated as external (spec.md section
	// 8: "≥ 500 ms").
	suppressWindow = 500 * time.Millisecond
)

// YamlProject mirrors one project entry in openrunner.yaml.
type YamlProject struct {
	Name              string            `yaml:"name"`
	Command           string            `yaml:"command"`
	Type              string            `yaml:"type,omitempty"`
	AutoRestart       *bool             `yaml:"autoRestart,omitempty"`
	Cwd               string            `yaml:"cwd,omitempty"`
	Interactive       bool              `yaml:"interactive,omitempty"`
	EnvVars           map[string]string `yaml:"envVars,omitempty"`
	WatchPatterns     []string          `yaml:"watchPatterns,omitempty"`
	AutoStartOnLaunch bool              `yaml:"autoStartOnLaunch,omitempty"`
}

// YamlConfig is the on-disk schema of openrunner.yaml (spec.md section 6).
type YamlConfig struct {
	Version  string            `yaml:"version"`
	Name     string            `yaml:"name"`
	EnvVars  map[string]string `yaml:"envVars,omitempty"`
	Projects []YamlProject     `yaml:"projects"`
}

// Mirror reads and writes openrunner.yaml files and suppresses the watcher
// events its own writes generate.
type Mirror struct {
	mu         sync.Mutex
	lastWrites map[string]time.Time // path -> time of our last write
}

// New returns a ready Mirror.
func New() *Mirror {
	return &Mirror{lastWrites: map[string]time.Time{}}
}

// FindFile locates openrunner.yaml (or .yml) directly inside dir. Returns
// empty string if neither exists.
func (m *Mirror) FindFile(dir string) string {
	for _, name := range []string{"openrunner.yaml", "openrunner.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Parse reads and decodes the YAML file at path.
func (m *Mirror) Parse(path string) (YamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return YamlConfig{}, apperr.Storage("read yaml file", err)
	}
	var cfg YamlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return YamlConfig{}, apperr.Parse("parse yaml config", err)
	}
	return cfg, nil
}

// Write serializes g to path, applying the schema's default-omission rules,
// and records a self-write timestamp so the watcher discards the filesystem
// event it's about to produce.
func (m *Mirror) Write(g domain.Group, path string) error {
	cfg := toYamlConfig(g)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return apperr.Parse("marshal yaml config", err)
	}

	m.mu.Lock()
	m.lastWrites[path] = time.Now()
	m.mu.Unlock()

	if err := os.WriteFile(path, data, 0644); err != nil {
		return apperr.Storage("write yaml file", err)
	}
	return nil
}

// ShouldSuppress reports whether a filesystem change event on path,
// observed at eventTime, should be discarded because it's an echo of our
// own recent write (spec.md section 8: self-write suppression invariant).
func (m *Mirror) ShouldSuppress(path string, eventTime time.Time) bool {
	m.mu.Lock()
	last, ok := m.lastWrites[path]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return eventTime.Sub(last) < suppressWindow
}

// ToGroup builds a fresh Group from a parsed YamlConfig, minting new project
// ids (spec.md section 4.2: used for first import, not reload).
func ToGroup(cfg YamlConfig, dir, path string) domain.Group {
	g := domain.Group{
		ID:          uuid.NewString(),
		Name:        cfg.Name,
		Directory:   dir,
		EnvVars:     cfg.EnvVars,
		YamlPath:    path,
		SyncEnabled: true,
	}
	if g.EnvVars == nil {
		g.EnvVars = map[string]string{}
	}
	for _, yp := range cfg.Projects {
		g.Projects = append(g.Projects, fromYamlProject(yp, uuid.NewString()))
	}
	return g
}

// UpdateGroupFromYaml merges a reloaded YamlConfig into an existing group,
// matching YAML entries to existing projects by name to preserve ids.
// Unmatched YAML entries get fresh ids; existing projects whose names
// disappear from YAML are dropped (spec.md section 4.2).
func UpdateGroupFromYaml(existing domain.Group, cfg YamlConfig, dir string) domain.Group {
	byName := make(map[string]domain.Project, len(existing.Projects))
	for _, p := range existing.Projects {
		byName[p.Name] = p
	}

	g := existing
	g.Name = cfg.Name
	g.Directory = dir
	g.EnvVars = cfg.EnvVars
	if g.EnvVars == nil {
		g.EnvVars = map[string]string{}
	}

	g.Projects = nil
	for _, yp := range cfg.Projects {
		id := uuid.NewString()
		groupID := g.ID
		if prior, ok := byName[yp.Name]; ok {
			id = prior.ID
			groupID = prior.GroupID
		}
		p := fromYamlProject(yp, id)
		p.GroupID = groupID
		g.Projects = append(g.Projects, p)
	}
	return g
}

func fromYamlProject(yp YamlProject, id string) domain.Project {
	kind := domain.KindService
	if yp.Type == string(domain.KindTask) {
		kind = domain.KindTask
	}
	autoRestart := true
	if yp.AutoRestart != nil {
		autoRestart = *yp.AutoRestart
	}
	env := yp.EnvVars
	if env == nil {
		env = map[string]string{}
	}
	return domain.Project{
		ID:                id,
		Name:              yp.Name,
		Command:           yp.Command,
		Kind:              kind,
		AutoRestart:       autoRestart,
		WorkingDir:        yp.Cwd,
		Interactive:       yp.Interactive,
		WatchPatterns:     yp.WatchPatterns,
		AutoStartOnLaunch: yp.AutoStartOnLaunch,
		EnvVars:           env,
	}
}

func toYamlConfig(g domain.Group) YamlConfig {
	cfg := YamlConfig{
		Version: "1.0",
		Name:    g.Name,
		EnvVars: g.EnvVars,
	}
	if len(cfg.EnvVars) == 0 {
		cfg.EnvVars = nil
	}
	for _, p := range g.Projects {
		autoRestart := p.AutoRestart
		yp := YamlProject{
			Name:              p.Name,
			Command:           p.Command,
			Type:              string(p.Kind),
			AutoRestart:       &autoRestart,
			Cwd:               p.WorkingDir,
			Interactive:       p.Interactive,
			EnvVars:           p.EnvVars,
			WatchPatterns:     p.WatchPatterns,
			AutoStartOnLaunch: p.AutoStartOnLaunch,
		}
		if len(yp.EnvVars) == 0 {
			yp.EnvVars = nil
		}
		if len(yp.WatchPatterns) == 0 {
			yp.WatchPatterns = nil
		}
		cfg.Projects = append(cfg.Projects, yp)
	}
	return cfg
}

// DefaultPath builds the canonical openrunner.yaml path inside dir.
func DefaultPath(dir string) string {
	return filepath.Join(dir, DefaultFileName)
}
