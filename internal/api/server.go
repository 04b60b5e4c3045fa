// Package api exposes the Command/Event Surface: the only legitimate way to
// reach the supervisor, config, or session stores from outside the core
// (spec.md section 4.9, section 6).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/openrunner/openrunner/internal/configstore"
	"github.com/openrunner/openrunner/internal/db"
	"github.com/openrunner/openrunner/internal/events"
	"github.com/openrunner/openrunner/internal/pidledger"
	"github.com/openrunner/openrunner/internal/sessionstore"
	"github.com/openrunner/openrunner/internal/supervisor"
	"github.com/openrunner/openrunner/internal/yamlmirror"
	"github.com/openrunner/openrunner/internal/yamlwatch"
)

// defaultMaxPortAttempts bounds how many consecutive ports Start tries
// before giving up when the requested one is busy, unless Config overrides it.
const defaultMaxPortAttempts = 10

// Server wires the config/session stores, the supervisor, and the YAML
// mirror behind one HTTP + WebSocket endpoint.
type Server struct {
	addr            string
	maxPortAttempts int
	mux             *http.ServeMux
	http            *http.Server
	log             *slog.Logger

	database   *db.DB
	config     *configstore.Store
	sessions   *sessionstore.Store
	mirror     *yamlmirror.Mirror
	supervisor *supervisor.Supervisor
	ledger     *pidledger.Ledger
	pub        events.Publisher
	ws         *WSHandler
	yamlWatch  *yamlwatch.Manager
}

// Config holds the dependencies and listen address for a Server.
type Config struct {
	Addr            string
	MaxPortAttempts int
	Logger          *slog.Logger
	Database        *db.DB
	Config          *configstore.Store
	Sessions        *sessionstore.Store
	Mirror          *yamlmirror.Mirror
	Supervisor      *supervisor.Supervisor
	Ledger          *pidledger.Ledger
	Publisher       events.Publisher
}

// New constructs a Server and registers every route. It does not start
// listening; call Start for that.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.NewNopPublisher()
	}

	maxAttempts := cfg.MaxPortAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxPortAttempts
	}

	s := &Server{
		addr:            cfg.Addr,
		maxPortAttempts: maxAttempts,
		mux:             http.NewServeMux(),
		log:             log,
		database:        cfg.Database,
		config:          cfg.Config,
		sessions:        cfg.Sessions,
		mirror:          cfg.Mirror,
		supervisor:      cfg.Supervisor,
		ledger:          cfg.Ledger,
		pub:             pub,
	}
	s.ws = NewWSHandler(pub, log)
	s.yamlWatch = yamlwatch.New(s.mirror, pub, s.onYamlChanged, log)
	s.registerRoutes()
	return s
}

// StartYamlWatchers arms a directory watcher for every currently
// sync-enabled group, so external edits to openrunner.yaml are picked up
// without an explicit reloadGroupFromYaml call (spec.md section 4.2).
func (s *Server) StartYamlWatchers(ctx context.Context) error {
	groups, err := s.config.ListGroups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if !g.SyncEnabled || g.YamlPath == "" {
			continue
		}
		if err := s.yamlWatch.Watch(g.ID, g.YamlPath); err != nil {
			s.log.Warn("yaml watch failed", "group_id", g.ID, "path", g.YamlPath, "error", err)
		}
	}
	return nil
}

// onYamlChanged is the yamlwatch reload policy: re-read the file and merge
// it into the Config Store, the same outcome handleReloadGroupFromYaml
// produces for a manual reload (spec.md section 4.2, section 4.9).
func (s *Server) onYamlChanged(ctx context.Context, groupID, path string) {
	if _, err := s.reloadGroupFromYamlPath(ctx, groupID, path); err != nil {
		s.log.Warn("yaml auto-reload failed", "group_id", groupID, "path", path, "error", err)
	}
}

// Start begins serving in the background, trying up to maxPortAttempts
// consecutive ports if the requested one is busy. Call Shutdown to stop it.
func (s *Server) Start() error {
	host, basePort, err := parseAddr(s.addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", s.addr, err)
	}

	ln, actualPort, err := findAvailablePort(host, basePort, s.maxPortAttempts)
	if err != nil {
		return err
	}
	if actualPort != basePort {
		s.log.Info("port in use, using alternative", "requested", basePort, "actual", actualPort)
	}

	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("starting command/event surface", "addr", ln.Addr().String())
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server exited", "error", err)
		}
	}()
	return nil
}

// parseAddr splits "host:port" into its parts, defaulting host to empty
// (all interfaces) when omitted.
func parseAddr(addr string) (string, int, error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	return h, port, err
}

// findAvailablePort tries basePort, then basePort+1, ... up to maxAttempts
// times, returning the first listener that binds successfully.
func findAvailablePort(host string, basePort, maxAttempts int) (net.Listener, int, error) {
	for i := 0; i < maxAttempts; i++ {
		port := basePort + i
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no available port in range %d-%d", basePort, basePort+maxAttempts-1)
}

// Shutdown gracefully stops the HTTP server and closes any live WebSocket
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ws.Close()
	s.yamlWatch.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the underlying mux, primarily for tests that drive it with
// httptest.NewServer/NewRecorder instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}
