package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/db"
	"github.com/openrunner/openrunner/internal/domain"
	"github.com/openrunner/openrunner/internal/events"
	"github.com/openrunner/openrunner/internal/sessionstore"
)

func newTestSupervisor(t *testing.T) (*Supervisor, domain.Group) {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	dir := t.TempDir()
	_, err = database.Exec(context.Background(), `INSERT INTO groups (id, name, directory) VALUES ('g1','g',?)`, dir)
	require.NoError(t, err)
	_, err = database.Exec(context.Background(), `INSERT INTO projects (id, group_id, name, command) VALUES ('p1','g1','p1','true')`)
	require.NoError(t, err)

	sessions := sessionstore.New(database, nil)
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)

	sup := New(nil, sessions, pub, nil, nil)
	group := domain.Group{ID: "g1", Name: "g", Directory: dir}
	return sup, group
}

func seedProject(t *testing.T, sup *Supervisor, projectID, command string, kind domain.ProjectKind, autoRestart bool) domain.Project {
	t.Helper()
	return domain.Project{
		ID:          projectID,
		GroupID:     "g1",
		Name:        projectID,
		Command:     command,
		Kind:        kind,
		AutoRestart: autoRestart,
	}
}

func TestStartTaskTransitionsToStoppedOnCleanExit(t *testing.T) {
	sup, group := newTestSupervisor(t)
	project := seedProject(t, sup, "p1", "true", domain.KindTask, false)

	require.NoError(t, sup.Start(context.Background(), group, project, 0, 0))

	assert.Eventually(t, func() bool {
		return sup.Status("p1").Status == domain.StatusStopped
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStartTaskTransitionsToErroredOnNonzeroExit(t *testing.T) {
	sup, group := newTestSupervisor(t)
	project := seedProject(t, sup, "p1", "exit 1", domain.KindTask, false)

	require.NoError(t, sup.Start(context.Background(), group, project, 0, 0))

	assert.Eventually(t, func() bool {
		return sup.Status("p1").Status == domain.StatusErrored
	}, 2*time.Second, 20*time.Millisecond)

	// A task must never auto-restart, regardless of how long we wait.
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, domain.StatusErrored, sup.Status("p1").Status)
}

func TestServiceAutoRestartsAfterErroredExit(t *testing.T) {
	sup, group := newTestSupervisor(t)
	project := seedProject(t, sup, "p1", "exit 1", domain.KindService, true)

	require.NoError(t, sup.Start(context.Background(), group, project, 0, 0))

	assert.Eventually(t, func() bool {
		return sup.Status("p1").Status == domain.StatusRunning || sup.Status("p1").Status == domain.StatusErrored
	}, 2*time.Second, 10*time.Millisecond)

	// Allow at least one auto-restart cycle (500ms backoff) to occur, then
	// confirm the supervisor is still cycling rather than stuck.
	time.Sleep(1200 * time.Millisecond)
	status := sup.Status("p1").Status
	assert.True(t, status == domain.StatusErrored || status == domain.StatusRunning || status == domain.StatusStarting)
	sessions, err := sup.sessions.GetProjectSessions(context.Background(), "p1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(sessions), 2, "an auto-restart opens a new session")

	require.NoError(t, sup.Stop("p1"))
}

func TestStopGracefullyTerminatesRunningProcess(t *testing.T) {
	sup, group := newTestSupervisor(t)
	project := seedProject(t, sup, "p1", "sleep 30", domain.KindService, false)

	require.NoError(t, sup.Start(context.Background(), group, project, 0, 0))
	assert.Eventually(t, func() bool {
		return sup.Status("p1").Status == domain.StatusRunning
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, sup.Stop("p1"))
	assert.Equal(t, domain.StatusStopped, sup.Status("p1").Status)
}

func TestWriteStdinRequiresInteractiveRunningProject(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	err := sup.WriteStdin("nonexistent", []byte("hi"))
	require.Error(t, err)
	var appErr *apperr.Error
	require.True(t, apperr.As(err, &appErr))
	assert.Equal(t, apperr.CodeState, appErr.Code)
}

func TestStartingAlreadyRunningProjectIsRejected(t *testing.T) {
	sup, group := newTestSupervisor(t)
	project := seedProject(t, sup, "p1", "sleep 30", domain.KindService, false)

	require.NoError(t, sup.Start(context.Background(), group, project, 0, 0))
	assert.Eventually(t, func() bool {
		return sup.Status("p1").Status == domain.StatusRunning
	}, 2*time.Second, 20*time.Millisecond)

	err := sup.Start(context.Background(), group, project, 0, 0)
	require.Error(t, err)

	require.NoError(t, sup.Stop("p1"))
}
