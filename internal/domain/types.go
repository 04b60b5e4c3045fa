// Package domain holds the data model openrunner's stores and supervisor
// share: groups, projects, sessions, and the telemetry attached to them
// (spec.md section 3).
package domain

import "time"

// ProjectKind is the closed sum of project behaviors.
type ProjectKind string

const (
	KindService ProjectKind = "service"
	KindTask    ProjectKind = "task"
)

// ProcessStatus is the per-project state machine's observable state
// (spec.md section 4.4).
type ProcessStatus string

const (
	StatusStopped  ProcessStatus = "stopped"
	StatusStarting ProcessStatus = "starting"
	StatusRunning  ProcessStatus = "running"
	StatusStopping ProcessStatus = "stopping"
	StatusErrored  ProcessStatus = "errored"
)

// ExitStatus is the terminal state recorded on a Session.
type ExitStatus string

const (
	ExitRunning ExitStatus = "running"
	ExitStopped ExitStatus = "stopped"
	ExitErrored ExitStatus = "errored"
)

// LogStream tags which child stream a LogChunk came from.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// Group is a named collection of projects sharing a working directory and
// an env-var base (spec.md section 3).
type Group struct {
	ID          string
	Name        string
	Directory   string
	Projects    []Project
	EnvVars     map[string]string
	YamlPath    string
	SyncEnabled bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Project is one shell command to supervise.
type Project struct {
	ID                string
	GroupID           string
	Name              string
	Command           string
	Kind              ProjectKind
	AutoRestart       bool
	WorkingDir        string
	Interactive       bool
	WatchPatterns     []string
	AutoStartOnLaunch bool
	EnvVars           map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session is one run of a project's process, start to final exit.
type Session struct {
	ID         string
	ProjectID  string
	StartedAt  time.Time
	EndedAt    *time.Time
	ExitStatus ExitStatus
}

// Running reports whether the session has not yet been finalized.
func (s Session) Running() bool { return s.EndedAt == nil }

// LogChunk is one append-only slice of a session's stdout/stderr.
type LogChunk struct {
	SessionID string
	Stream    LogStream
	Data      []byte
	Timestamp time.Time
}

// MetricPoint is one CPU/RSS sample attached to a session.
type MetricPoint struct {
	SessionID  string
	Timestamp  time.Time
	CPUPercent float64
	RSSBytes   uint64
}

// SessionStats augments a Session with the aggregate counters
// getProjectSessionsWithStats needs (spec.md section 4.3).
type SessionStats struct {
	Session     Session
	LogCount    int
	LogSize     int64
	MetricCount int
}

// StorageStats summarizes the whole store for getStorageStats/cleanup
// reporting.
type StorageStats struct {
	GroupCount   int
	ProjectCount int
	SessionCount int
	LogCount     int
	LogSizeBytes int64
	MetricCount  int
}

// ProcessInfo is the UI-facing snapshot pushed by ProcessStatusChanged and
// ProcessStatsUpdated events (spec.md section 6).
type ProcessInfo struct {
	ProjectID  string
	Status     ProcessStatus
	Pid        int
	CPUPercent float64
	RSSBytes   uint64
}
