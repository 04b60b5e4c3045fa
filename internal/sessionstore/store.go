// Package sessionstore owns Session/LogChunk/MetricPoint rows: append-
// optimized storage for session lifecycles, stdout/stderr chunks, and
// periodic metric samples (spec.md section 4.3).
package sessionstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/db"
	"github.com/openrunner/openrunner/internal/domain"
)

// Store is the sole mutator of Session/LogChunk/MetricPoint rows.
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

// CreateSession opens a new session for projectID. The unique partial index
// on sessions(project_id) WHERE ended_at IS NULL enforces the "at most one
// open session per project" invariant (spec.md section 8) at the storage
// layer, so a concurrent double-start fails loudly instead of corrupting
// state.
func (s *Store) CreateSession(ctx context.Context, projectID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `INSERT INTO sessions (id, project_id, started_at, exit_status)
		VALUES (?, ?, ?, ?)`, id, projectID, time.Now().UTC().Format(time.RFC3339Nano), string(domain.ExitRunning))
	if err != nil {
		return "", apperr.Storage("create session", err)
	}
	return id, nil
}

// EndSession finalizes a session with its terminal exit status.
func (s *Store) EndSession(ctx context.Context, sessionID string, status domain.ExitStatus) error {
	res, err := s.db.Exec(ctx, `UPDATE sessions SET ended_at = ?, exit_status = ? WHERE id = ? AND ended_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), string(status), sessionID)
	if err != nil {
		return apperr.Storage("end session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("check rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound("session", sessionID)
	}
	return nil
}

// InsertLog appends one log chunk. Errors here are logged by the caller and
// must never propagate to the supervisor (spec.md section 4.4 failure
// semantics) — callers should log.Warn on error and continue.
func (s *Store) InsertLog(ctx context.Context, sessionID string, stream domain.LogStream, data []byte, ts time.Time) error {
	_, err := s.db.Exec(ctx, `INSERT INTO logs (session_id, stream, data, ts) VALUES (?, ?, ?, ?)`,
		sessionID, string(stream), data, ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return apperr.Storage("insert log", err)
	}
	return nil
}

// InsertMetric appends one CPU/RSS sample for a session.
func (s *Store) InsertMetric(ctx context.Context, sessionID string, cpuPercent float64, rssBytes uint64) error {
	_, err := s.db.Exec(ctx, `INSERT INTO metrics (session_id, ts, cpu_percent, rss_bytes) VALUES (?, ?, ?, ?)`,
		sessionID, time.Now().UTC().Format(time.RFC3339Nano), cpuPercent, rssBytes)
	if err != nil {
		return apperr.Storage("insert metric", err)
	}
	return nil
}

// GetProjectSessions lists every session for a project, most recent first.
func (s *Store) GetProjectSessions(ctx context.Context, projectID string) ([]domain.Session, error) {
	rows, err := s.db.Query(ctx, `SELECT id, project_id, started_at, ended_at, exit_status
		FROM sessions WHERE project_id = ? ORDER BY started_at DESC`, projectID)
	if err != nil {
		return nil, apperr.Storage("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Storage("scan session", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetProjectSessionsWithStats joins sessions with their log count, total
// log byte size, and metric count (spec.md section 8 testable property).
func (s *Store) GetProjectSessionsWithStats(ctx context.Context, projectID string) ([]domain.SessionStats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT s.id, s.project_id, s.started_at, s.ended_at, s.exit_status,
			COALESCE((SELECT COUNT(*) FROM logs l WHERE l.session_id = s.id), 0),
			COALESCE((SELECT SUM(LENGTH(l.data)) FROM logs l WHERE l.session_id = s.id), 0),
			COALESCE((SELECT COUNT(*) FROM metrics m WHERE m.session_id = s.id), 0)
		FROM sessions s WHERE s.project_id = ? ORDER BY s.started_at DESC`, projectID)
	if err != nil {
		return nil, apperr.Storage("list sessions with stats", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.SessionStats
	for rows.Next() {
		var stat domain.SessionStats
		var startedAt string
		var endedAt sql.NullString
		var exitStatus string
		if err := rows.Scan(&stat.Session.ID, &stat.Session.ProjectID, &startedAt, &endedAt, &exitStatus,
			&stat.LogCount, &stat.LogSize, &stat.MetricCount); err != nil {
			return nil, apperr.Storage("scan session stats", err)
		}
		stat.Session.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		stat.Session.ExitStatus = domain.ExitStatus(exitStatus)
		if endedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
			stat.Session.EndedAt = &t
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

// GetSession fetches a single session by id.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := s.db.QueryRow(ctx, `SELECT id, project_id, started_at, ended_at, exit_status FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, apperr.NotFound("session", id)
	}
	if err != nil {
		return domain.Session{}, apperr.Storage("get session", err)
	}
	return sess, nil
}

// GetLastCompletedSession returns the most recently ended session for a
// project, or apperr.NotFound if none has ever completed.
func (s *Store) GetLastCompletedSession(ctx context.Context, projectID string) (domain.Session, error) {
	row := s.db.QueryRow(ctx, `SELECT id, project_id, started_at, ended_at, exit_status
		FROM sessions WHERE project_id = ? AND ended_at IS NOT NULL
		ORDER BY ended_at DESC LIMIT 1`, projectID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, apperr.NotFound("completed session", projectID)
	}
	if err != nil {
		return domain.Session{}, apperr.Storage("get last completed session", err)
	}
	return sess, nil
}

// GetSessionLogs returns every log chunk for a session in insert order.
func (s *Store) GetSessionLogs(ctx context.Context, sessionID string) ([]domain.LogChunk, error) {
	rows, err := s.db.Query(ctx, `SELECT session_id, stream, data, ts FROM logs WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, apperr.Storage("list session logs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.LogChunk
	for rows.Next() {
		var chunk domain.LogChunk
		var stream, ts string
		if err := rows.Scan(&chunk.SessionID, &stream, &chunk.Data, &ts); err != nil {
			return nil, apperr.Storage("scan log chunk", err)
		}
		chunk.Stream = domain.LogStream(stream)
		chunk.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, chunk)
	}
	return out, rows.Err()
}

// GetSessionLogsAsString concatenates a session's log chunks in timestamp
// (insert) order.
func (s *Store) GetSessionLogsAsString(ctx context.Context, sessionID string) (string, error) {
	chunks, err := s.GetSessionLogs(ctx, sessionID)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.Data)
	}
	return buf.String(), nil
}

// GetSessionMetrics returns every metric sample for a session in insert order.
func (s *Store) GetSessionMetrics(ctx context.Context, sessionID string) ([]domain.MetricPoint, error) {
	rows, err := s.db.Query(ctx, `SELECT session_id, ts, cpu_percent, rss_bytes FROM metrics
		WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, apperr.Storage("list session metrics", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.MetricPoint
	for rows.Next() {
		var m domain.MetricPoint
		var ts string
		if err := rows.Scan(&m.SessionID, &ts, &m.CPUPercent, &m.RSSBytes); err != nil {
			return nil, apperr.Storage("scan metric point", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetRecentLogs returns the last limit log rows from the project's most
// recent session, in chronological order.
func (s *Store) GetRecentLogs(ctx context.Context, projectID string, limit int) ([]domain.LogChunk, error) {
	row := s.db.QueryRow(ctx, `SELECT id FROM sessions WHERE project_id = ? ORDER BY started_at DESC LIMIT 1`, projectID)
	var sessionID string
	if err := row.Scan(&sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage("find latest session", err)
	}

	rows, err := s.db.Query(ctx, `SELECT session_id, stream, data, ts FROM
		(SELECT session_id, stream, data, ts, id FROM logs WHERE session_id = ? ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, apperr.Storage("get recent logs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.LogChunk
	for rows.Next() {
		var chunk domain.LogChunk
		var stream, ts string
		if err := rows.Scan(&chunk.SessionID, &stream, &chunk.Data, &ts); err != nil {
			return nil, apperr.Storage("scan recent log", err)
		}
		chunk.Stream = domain.LogStream(stream)
		chunk.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, chunk)
	}
	return out, rows.Err()
}

// GetLastMetric returns the most recent metric sample for a session.
func (s *Store) GetLastMetric(ctx context.Context, sessionID string) (domain.MetricPoint, error) {
	row := s.db.QueryRow(ctx, `SELECT session_id, ts, cpu_percent, rss_bytes FROM metrics
		WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	var m domain.MetricPoint
	var ts string
	if err := row.Scan(&m.SessionID, &ts, &m.CPUPercent, &m.RSSBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MetricPoint{}, apperr.NotFound("metric", sessionID)
		}
		return domain.MetricPoint{}, apperr.Storage("get last metric", err)
	}
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return m, nil
}

// GetStorageStats summarizes session/log/metric counts across the whole
// store for the getStorageStats command.
func (s *Store) GetStorageStats(ctx context.Context) (domain.StorageStats, error) {
	var stats domain.StorageStats
	row := s.db.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM groups),
		(SELECT COUNT(*) FROM projects),
		(SELECT COUNT(*) FROM sessions),
		(SELECT COUNT(*) FROM logs),
		(SELECT COALESCE(SUM(LENGTH(data)), 0) FROM logs),
		(SELECT COUNT(*) FROM metrics)`)
	if err := row.Scan(&stats.GroupCount, &stats.ProjectCount, &stats.SessionCount,
		&stats.LogCount, &stats.LogSizeBytes, &stats.MetricCount); err != nil {
		return domain.StorageStats{}, apperr.Storage("get storage stats", err)
	}
	return stats, nil
}

// CleanupOldSessions removes completed sessions older than the given age
// in days, cascading to their logs and metrics.
func (s *Store) CleanupOldSessions(ctx context.Context, days int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff)
	if err != nil {
		return apperr.Storage("cleanup old sessions", err)
	}
	return nil
}

// CleanupAllSessions removes every completed session, leaving running
// sessions untouched (spec.md section 8 round-trip property).
func (s *Store) CleanupAllSessions(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE ended_at IS NOT NULL`)
	if err != nil {
		return apperr.Storage("cleanup all sessions", err)
	}
	return nil
}

// DeleteSession removes one session and its logs/metrics.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("delete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("check rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound("session", id)
	}
	return nil
}

// ClearProjectLogs deletes every log row belonging to any session of a
// project, leaving sessions and metrics intact.
func (s *Store) ClearProjectLogs(ctx context.Context, projectID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM logs WHERE session_id IN
		(SELECT id FROM sessions WHERE project_id = ?)`, projectID)
	if err != nil {
		return apperr.Storage("clear project logs", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (domain.Session, error) {
	var sess domain.Session
	var startedAt string
	var endedAt sql.NullString
	var exitStatus string
	if err := row.Scan(&sess.ID, &sess.ProjectID, &startedAt, &endedAt, &exitStatus); err != nil {
		return domain.Session{}, err
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sess.ExitStatus = domain.ExitStatus(exitStatus)
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		sess.EndedAt = &t
	}
	return sess, nil
}
