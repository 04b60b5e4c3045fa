package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrunner/openrunner/internal/configstore"
	"github.com/openrunner/openrunner/internal/db"
	"github.com/openrunner/openrunner/internal/domain"
	"github.com/openrunner/openrunner/internal/events"
	"github.com/openrunner/openrunner/internal/sessionstore"
	"github.com/openrunner/openrunner/internal/yamlmirror"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	config := configstore.New(database, nil)
	sessions := sessionstore.New(database, nil)

	return New(Config{
		Addr:      ":0",
		Database:  database,
		Config:    config,
		Sessions:  sessions,
		Mirror:    yamlmirror.New(),
		Publisher: events.NewNopPublisher(),
	})
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, r)
	return rr
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rr := doRequest(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCreateAndListGroups(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rr := doRequest(t, s, http.MethodPost, "/api/groups", map[string]any{
		"name":      "backend",
		"directory": "/srv/backend",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created domain.Group
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "backend", created.Name)
	assert.NotEmpty(t, created.ID)

	rr = doRequest(t, s, http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var groups []domain.Group
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, created.ID, groups[0].ID)
}

func TestCreateProjectUnderGroup(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rr := doRequest(t, s, http.MethodPost, "/api/groups", map[string]any{
		"name": "backend", "directory": "/srv/backend",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var g domain.Group
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &g))

	rr = doRequest(t, s, http.MethodPost, "/api/groups/"+g.ID+"/projects", map[string]any{
		"name":    "api",
		"command": "go run ./cmd/api",
		"kind":    "service",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var p domain.Project
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, "api", p.Name)
	assert.Equal(t, g.ID, p.GroupID)

	rr = doRequest(t, s, http.MethodGet, "/api/projects/"+p.ID+"/working-dir", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestDeleteGroupNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rr := doRequest(t, s, http.MethodDelete, "/api/groups/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rr := doRequest(t, s, http.MethodPatch, "/api/settings", map[string]string{"theme": "dark"})
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, s, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var settings map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &settings))
	assert.Equal(t, "dark", settings["theme"])
}

// TestToggleGroupSyncAutoReloadsOnExternalEdit exercises the full path from
// enabling sync through an out-of-band file edit to the group picking up
// the new project without a manual reloadGroupFromYaml call (spec.md
// section 4.2).
func TestToggleGroupSyncAutoReloadsOnExternalEdit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := newTestServer(t)

	rr := doRequest(t, s, http.MethodPost, "/api/groups", map[string]any{
		"name": "backend", "directory": dir,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var g domain.Group
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &g))

	rr = doRequest(t, s, http.MethodPost, "/api/groups/"+g.ID+"/sync", map[string]any{"enabled": true})
	require.Equal(t, http.StatusNoContent, rr.Code)

	path := filepath.Join(dir, "openrunner.yaml")
	_, err := os.Stat(path)
	require.NoError(t, err)

	// The Mirror's self-write suppression window is 500ms (spec.md section
	// 8); wait it out so this external edit isn't mistaken for an echo of
	// the sync-enable write above.
	time.Sleep(600 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(
		"version: \"1.0\"\nname: backend\nprojects:\n  - name: api\n    command: go run ./cmd/api\n",
	), 0644))

	require.Eventually(t, func() bool {
		rr := doRequest(t, s, http.MethodGet, "/api/groups", nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var groups []domain.Group
		if err := json.Unmarshal(rr.Body.Bytes(), &groups); err != nil {
			return false
		}
		return len(groups) == 1 && len(groups[0].Projects) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestParseAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{":8080", "", 8080, false},
		{"127.0.0.1:8080", "127.0.0.1", 8080, false},
		{"localhost:9000", "localhost", 9000, false},
		{"invalid", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			host, port, err := parseAddr(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestFindAvailablePortSkipsBusy(t *testing.T) {
	t.Parallel()

	ln1, err := net.Listen("tcp", ":19180")
	require.NoError(t, err)
	defer ln1.Close()

	ln2, port, err := findAvailablePort("", 19180, 10)
	require.NoError(t, err)
	defer ln2.Close()

	assert.Equal(t, 19181, port)
}

func TestFindAvailablePortAllBusy(t *testing.T) {
	t.Parallel()
	basePort := 29180
	maxAttempts := 3

	listeners := make([]net.Listener, 0, maxAttempts)
	for i := 0; i < maxAttempts; i++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", basePort+i))
		if err != nil {
			t.Skipf("could not occupy port %d: %v", basePort+i, err)
		}
		listeners = append(listeners, ln)
	}
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()

	_, _, err := findAvailablePort("", basePort, maxAttempts)
	assert.Error(t, err)
}
