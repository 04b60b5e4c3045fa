// Package supervisor implements the per-project process state machine:
// start, stop (graceful -> force), restart, crash handling, auto-restart
// policy, and session linkage (spec.md section 4.4).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/configstore"
	"github.com/openrunner/openrunner/internal/domain"
	"github.com/openrunner/openrunner/internal/events"
	"github.com/openrunner/openrunner/internal/iopump"
	"github.com/openrunner/openrunner/internal/pidledger"
	"github.com/openrunner/openrunner/internal/platform"
	"github.com/openrunner/openrunner/internal/sessionstore"
	"github.com/openrunner/openrunner/internal/stats"
	"github.com/openrunner/openrunner/internal/watcher"
)

// gracefulWindow is the hard ceiling between graceful and force signals
// (spec.md section 4.4).
const gracefulWindow = 5 * time.Second

// restartBackoff is the baseline delay before an auto-restart, chosen so
// repeated crashes cannot restart faster than 3/s (spec.md section 4.4).
const restartBackoff = 500 * time.Millisecond

// handle tracks one project's live process state. All mutation happens
// under mu, giving the project its serialized logical lock.
type handle struct {
	mu sync.Mutex

	project domain.Project
	group   domain.Group

	status    domain.ProcessStatus
	sessionID string
	rootPid   int

	pipe *iopump.Pipe
	pty  *iopump.PTY

	userInitiated bool

	watcher *watcher.Watcher

	exited chan struct{}
}

// Supervisor owns every project's handle and wires the stores, event bus,
// and platform adapter together.
type Supervisor struct {
	config   *configstore.Store
	sessions *sessionstore.Store
	pub      events.Publisher
	ledger   *pidledger.Ledger
	log      *slog.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

// New constructs a Supervisor. ledger may be nil to disable orphan tracking
// (e.g. in tests).
func New(config *configstore.Store, sessions *sessionstore.Store, pub events.Publisher, ledger *pidledger.Ledger, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		config:   config,
		sessions: sessions,
		pub:      pub,
		ledger:   ledger,
		log:      log,
		handles:  make(map[string]*handle),
	}
}

// Start spawns project's command under group's environment. cols/rows only
// matter when project.Interactive is true.
func (s *Supervisor) Start(ctx context.Context, group domain.Group, project domain.Project, cols, rows uint16) error {
	h := s.handleFor(project.ID)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status == domain.StatusRunning || h.status == domain.StatusStarting {
		return apperr.State(fmt.Sprintf("project %s is already %s", project.ID, h.status))
	}

	h.project = project
	h.group = group
	h.status = domain.StatusStarting
	h.userInitiated = false
	s.publishStatus(project.ID, domain.StatusStarting, 0)

	sessionID, err := s.sessions.CreateSession(ctx, project.ID)
	if err != nil {
		h.status = domain.StatusErrored
		return apperr.Wrap(err, "create session")
	}
	h.sessionID = sessionID

	workDir := resolveWorkingDir(group, project)
	env := composeEnv(group, project)

	shell := platform.DetectDefaultShell()
	cmd, err := platform.BuildCommand(shell, project.Command, workDir, env)
	if err != nil {
		s.finalizeFailedSpawn(ctx, h, err)
		return apperr.Spawn("build command", err)
	}

	if project.Interactive {
		pty, err := iopump.StartPTY(cmd, sessionID, s.sinkFor(project.ID), s.log)
		if err != nil {
			s.finalizeFailedSpawn(ctx, h, err)
			return apperr.Spawn("start pty", err)
		}
		if cols > 0 && rows > 0 {
			_ = pty.Resize(cols, rows)
		}
		h.pty = pty
	} else {
		pipe, err := iopump.NewPipe(cmd, sessionID, s.sinkFor(project.ID), s.log)
		if err != nil {
			s.finalizeFailedSpawn(ctx, h, err)
			return apperr.Spawn("attach pipes", err)
		}
		if err := cmd.Start(); err != nil {
			s.finalizeFailedSpawn(ctx, h, err)
			return apperr.Spawn("start command", err)
		}
		h.pipe = pipe
	}

	h.rootPid = cmd.Process.Pid
	h.status = domain.StatusRunning
	h.exited = make(chan struct{})
	_ = platform.ContainProcess(h.rootPid)
	if s.ledger != nil {
		_ = s.ledger.Add(h.rootPid)
	}
	s.publishStatus(project.ID, domain.StatusRunning, h.rootPid)

	if project.Kind == domain.KindService && project.AutoRestart {
		s.armWatcher(h)
	}

	go s.awaitExit(context.Background(), h, cmd)
	return nil
}

// sinkFor returns an iopump.Sink that stores and publishes each chunk.
func (s *Supervisor) sinkFor(projectID string) iopump.SinkFunc {
	return func(chunk domain.LogChunk) {
		if err := s.sessions.InsertLog(context.Background(), chunk.SessionID, chunk.Stream, chunk.Data, chunk.Timestamp); err != nil {
			s.log.Warn("insert log failed", "project_id", projectID, "error", err)
		}
		iopump.EmitLogEvent(s.pub, projectID, chunk)
	}
}

func (s *Supervisor) finalizeFailedSpawn(ctx context.Context, h *handle, cause error) {
	h.status = domain.StatusErrored
	_ = s.sessions.EndSession(ctx, h.sessionID, domain.ExitErrored)
	s.publishStatus(h.project.ID, domain.StatusErrored, 0)
	s.log.Error("process failed to start", "project_id", h.project.ID, "error", cause)
}

// awaitExit blocks for the child to exit, then finalizes its session,
// transitions state, and applies the auto-restart policy.
func (s *Supervisor) awaitExit(ctx context.Context, h *handle, cmd interface{ Wait() error }) {
	waitErr := cmd.Wait()
	if h.pipe != nil {
		h.pipe.Wait()
	}
	if h.pty != nil {
		h.pty.Wait()
		_ = h.pty.Close()
	}

	h.mu.Lock()
	wasStopping := h.status == domain.StatusStopping
	userInitiated := h.userInitiated
	project := h.project
	sessionID := h.sessionID
	rootPid := h.rootPid

	var exitStatus domain.ExitStatus
	var nextStatus domain.ProcessStatus
	switch {
	case wasStopping:
		exitStatus = domain.ExitStopped
		nextStatus = domain.StatusStopped
	case waitErr == nil:
		exitStatus = domain.ExitStopped
		nextStatus = domain.StatusStopped
	default:
		exitStatus = domain.ExitErrored
		nextStatus = domain.StatusErrored
	}
	h.status = nextStatus
	if h.watcher != nil {
		h.watcher.Stop()
		h.watcher = nil
	}
	if h.exited != nil {
		close(h.exited)
	}
	h.mu.Unlock()

	if s.ledger != nil {
		_ = s.ledger.Remove(rootPid)
	}
	platform.ReleaseProcess(rootPid)

	if err := s.sessions.EndSession(ctx, sessionID, exitStatus); err != nil {
		s.log.Warn("end session failed", "project_id", project.ID, "error", err)
	}
	s.publishStatus(project.ID, nextStatus, 0)

	restartTriggered := !wasStopping && !userInitiated
	shouldRestart := restartTriggered &&
		project.Kind == domain.KindService &&
		project.AutoRestart &&
		nextStatus == domain.StatusErrored

	if shouldRestart {
		s.scheduleRestart(h.project.ID)
	}
}

// scheduleRestart waits the baseline backoff, then re-enters Start with the
// handle's own project/group snapshot.
func (s *Supervisor) scheduleRestart(projectID string) {
	time.AfterFunc(restartBackoff, func() {
		h := s.handleFor(projectID)
		h.mu.Lock()
		project, group := h.project, h.group
		h.mu.Unlock()

		if err := s.Start(context.Background(), group, project, 0, 0); err != nil {
			s.log.Warn("auto-restart failed", "project_id", projectID, "error", err)
		}
	})
}

// Stop requests graceful termination, escalating to force-kill after the
// 5-second ceiling. Returns once the child has exited.
func (s *Supervisor) Stop(projectID string) error {
	h := s.handleFor(projectID)
	h.mu.Lock()
	if h.status != domain.StatusRunning && h.status != domain.StatusStarting {
		h.mu.Unlock()
		return nil
	}
	h.status = domain.StatusStopping
	h.userInitiated = true
	rootPid := h.rootPid
	exited := h.exited
	h.mu.Unlock()

	s.publishStatus(projectID, domain.StatusStopping, rootPid)

	if err := platform.GracefulShutdown(rootPid); err != nil {
		s.log.Warn("graceful shutdown send failed", "project_id", projectID, "error", err)
	}

	select {
	case <-exited:
	case <-time.After(gracefulWindow):
		if err := platform.ForceKill(rootPid); err != nil {
			s.log.Warn("force kill send failed", "project_id", projectID, "error", err)
		}
		<-exited
	}
	return nil
}

// RestartProject stops the project (if running) and starts it again.
func (s *Supervisor) RestartProject(ctx context.Context, group domain.Group, project domain.Project, cols, rows uint16) error {
	if err := s.Stop(project.ID); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	return s.Start(ctx, group, project, cols, rows)
}

// ShutdownAll stops every running project in parallel, waits up to the
// grace window for each, then clears the orphan-pid ledger on a clean exit
// (spec.md section 4.4).
func (s *Supervisor) ShutdownAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id, h := range s.handles {
		h.mu.Lock()
		running := h.status == domain.StatusRunning || h.status == domain.StatusStarting
		h.mu.Unlock()
		if running {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error { return s.Stop(id) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if s.ledger != nil {
		return s.ledger.Clear()
	}
	return nil
}

// WriteStdin forwards bytes to an interactive project's PTY.
func (s *Supervisor) WriteStdin(projectID string, data []byte) error {
	h := s.handleFor(projectID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pty == nil || h.status != domain.StatusRunning {
		return apperr.State("project is not interactive or not running")
	}
	return h.pty.WriteStdin(data)
}

// ResizePTY applies a new terminal size to an interactive project.
func (s *Supervisor) ResizePTY(projectID string, cols, rows uint16) error {
	h := s.handleFor(projectID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pty == nil || h.status != domain.StatusRunning {
		return apperr.State("project is not interactive or not running")
	}
	return h.pty.Resize(cols, rows)
}

// Status returns the current ProcessInfo for a project.
func (s *Supervisor) Status(projectID string) domain.ProcessInfo {
	h := s.handleFor(projectID)
	h.mu.Lock()
	defer h.mu.Unlock()
	return domain.ProcessInfo{ProjectID: projectID, Status: h.status, Pid: h.rootPid}
}

// RunningHandles implements stats.Source over the live child-process map.
func (s *Supervisor) RunningHandles() []stats.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stats.Handle, 0, len(s.handles))
	for id, h := range s.handles {
		h.mu.Lock()
		if h.status == domain.StatusRunning && h.rootPid > 0 {
			out = append(out, stats.Handle{ProjectID: id, RootPid: h.rootPid, SessionID: h.sessionID})
		}
		h.mu.Unlock()
	}
	return out
}

// AllStatuses returns every tracked project's current status.
func (s *Supervisor) AllStatuses() []domain.ProcessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProcessInfo, 0, len(s.handles))
	for id, h := range s.handles {
		h.mu.Lock()
		out = append(out, domain.ProcessInfo{ProjectID: id, Status: h.status, Pid: h.rootPid})
		h.mu.Unlock()
	}
	return out
}

func (s *Supervisor) handleFor(projectID string) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[projectID]
	if !ok {
		h = &handle{status: domain.StatusStopped}
		s.handles[projectID] = h
	}
	return h
}

func (s *Supervisor) publishStatus(projectID string, status domain.ProcessStatus, pid int) {
	s.pub.Publish(events.NewEvent(events.EventProcessStatusChanged, projectID, domain.ProcessInfo{
		ProjectID: projectID,
		Status:    status,
		Pid:       pid,
	}))
}

func (s *Supervisor) armWatcher(h *handle) {
	w, err := watcher.New(watcher.Config{
		ProjectID:     h.project.ID,
		WorkDir:       resolveWorkingDir(h.group, h.project),
		GroupDir:      h.group.Directory,
		WatchPatterns: h.project.WatchPatterns,
		Logger:        s.log,
		OnRestart: func(projectID, path string) {
			s.log.Info("file change triggered restart", "project_id", projectID, "path", path)
			s.restartFromWatcher(projectID)
		},
	})
	if err != nil {
		s.log.Warn("watcher setup failed", "project_id", h.project.ID, "error", err)
		return
	}
	h.watcher = w
	go w.Run()
}

func (s *Supervisor) restartFromWatcher(projectID string) {
	h := s.handleFor(projectID)
	h.mu.Lock()
	group, project := h.group, h.project
	h.mu.Unlock()
	if err := s.RestartProject(context.Background(), group, project, 0, 0); err != nil {
		s.log.Warn("watcher-triggered restart failed", "project_id", projectID, "error", err)
	}
}

// resolveWorkingDir applies project.WorkingDir's relative-to-group-dir /
// absolute-as-is rule (spec.md section 3).
func resolveWorkingDir(group domain.Group, project domain.Project) string {
	if project.WorkingDir == "" {
		return group.Directory
	}
	if filepath.IsAbs(project.WorkingDir) {
		return project.WorkingDir
	}
	return filepath.Join(group.Directory, project.WorkingDir)
}

// composeEnv layers process env, then group env, then project env, later
// wins, and injects the color-forcing variables spec.md section 4.4
// mandates unless the project already overrides them.
func composeEnv(group domain.Group, project domain.Project) []string {
	merged := map[string]string{
		"FORCE_COLOR":    "1",
		"CLICOLOR_FORCE": "1",
	}
	for _, kv := range os.Environ() {
		k, v, ok := splitEnv(kv)
		if ok {
			merged[k] = v
		}
	}
	for k, v := range group.EnvVars {
		merged[k] = v
	}
	for k, v := range project.EnvVars {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
