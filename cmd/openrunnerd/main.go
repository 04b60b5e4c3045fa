// Command openrunnerd is the OpenRunner daemon: it owns the supervisor, the
// Config/Session stores, and the Command/Event Surface HTTP+WebSocket API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrunner/openrunner/internal/bootstrap"
	"github.com/openrunner/openrunner/internal/configstore"
	"github.com/openrunner/openrunner/internal/db"
	"github.com/openrunner/openrunner/internal/events"
	"github.com/openrunner/openrunner/internal/pidledger"
	"github.com/openrunner/openrunner/internal/sessionstore"
	"github.com/openrunner/openrunner/internal/stats"
	"github.com/openrunner/openrunner/internal/supervisor"
	"github.com/openrunner/openrunner/internal/yamlmirror"

	"github.com/openrunner/openrunner/internal/api"
)

// shutdownGrace bounds how long Shutdown waits for in-flight requests and
// graceful process termination before main returns anyway.
const shutdownGrace = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "openrunnerd",
		Short: "OpenRunner process supervisor daemon",
		Long: `openrunnerd supervises groups of shell commands as long-running
services or one-shot tasks, storing their sessions, logs, and metrics, and
exposing everything over a local HTTP + WebSocket API for a UI to drive.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./openrunner.toml or $HOME/.openrunner/openrunner.toml)")

	serve := newServeCmd(&cfgFile)
	root.AddCommand(serve)
	root.AddCommand(newVersionCmd())

	return root
}

func newServeCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
		Long: `Start the supervisor and Command/Event Surface.

If the requested port is in use, the server tries subsequent ports up to
max-port-attempts times (default 10).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.Load(cmd.Flags(), *cfgFile)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringP("addr", "a", ":8080", "address to listen on")
	cmd.Flags().String("data-dir", "", "directory for the database and orphan-pid ledger (default: platform user config dir)")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().Int("max-port-attempts", 10, "max ports to try if the requested one is busy")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("openrunnerd dev")
			return nil
		},
	}
}

func run(cfg bootstrap.Config) error {
	log := newLogger(cfg.LogLevel)

	dataDir := cfg.DataDir
	if dataDir == "" {
		defaultPath, err := db.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve default data directory: %w", err)
		}
		dataDir = filepath.Dir(defaultPath)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	database, err := db.Open(filepath.Join(dataDir, "runner-ui.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	ledgerPath := filepath.Join(dataDir, "openrunner.pids")
	if orphans, err := pidledger.ReapOrphans(ledgerPath); err != nil {
		log.Warn("failed to reap orphan pids from prior run", "error", err)
	} else if len(orphans) > 0 {
		log.Info("reaped orphan processes from a prior run", "pids", orphans)
	}
	ledger, err := pidledger.Open(ledgerPath)
	if err != nil {
		return fmt.Errorf("open pid ledger: %w", err)
	}
	defer ledger.Clear()

	config := configstore.New(database, log)
	sessions := sessionstore.New(database, log)
	mirror := yamlmirror.New()
	pub := events.NewMemoryPublisher()
	defer pub.Close()

	sup := supervisor.New(config, sessions, pub, ledger, log)

	collector := stats.New(sup, sessions, pub, log, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go collector.Start(ctx)
	defer collector.Stop()

	server := api.New(api.Config{
		Addr:            cfg.Addr,
		MaxPortAttempts: cfg.MaxPortAttempts,
		Logger:          log,
		Database:        database,
		Config:          config,
		Sessions:        sessions,
		Mirror:          mirror,
		Supervisor:      sup,
		Ledger:          ledger,
		Publisher:       pub,
	})

	if err := autostartProjects(ctx, log, config, sup); err != nil {
		log.Error("autostart failed", "error", err)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := server.StartYamlWatchers(ctx); err != nil {
		log.Error("yaml watcher startup failed", "error", err)
	}
	log.Info("openrunnerd ready", "addr", cfg.Addr, "data_dir", dataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := sup.ShutdownAll(shutdownCtx); err != nil {
		log.Error("supervisor shutdown error", "error", err)
	}
	return nil
}

// autostartProjects starts every project with AutoStartOnLaunch set,
// mirroring what the UI would do on first load (spec.md section 4.1).
func autostartProjects(ctx context.Context, log *slog.Logger, config *configstore.Store, sup *supervisor.Supervisor) error {
	groups, err := config.ListGroups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		for _, p := range g.Projects {
			if !p.AutoStartOnLaunch {
				continue
			}
			if err := sup.Start(ctx, g, p, 0, 0); err != nil {
				log.Error("autostart failed for project", "project_id", p.ID, "name", p.Name, "error", err)
			}
		}
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
