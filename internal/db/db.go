// Package db wraps the dialect-abstracted driver package with the single
// embedded store openrunner uses for groups, projects, sessions, logs,
// metrics, and settings (spec.md section 6).
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/openrunner/openrunner/internal/db/driver"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFiles embed.FS

const schemaType = "openrunner"

// DB is a dialect-abstracted connection to the openrunner store.
type DB struct {
	drv  driver.Driver
	path string
}

// Open opens (or creates) a SQLite-backed store at path and applies pending
// migrations. path is the on-disk file; use ":memory:" for an ephemeral
// database, the SQLite convention the teacher's tests rely on.
func Open(path string) (*DB, error) {
	return OpenWithDialect(driver.DialectSQLite, path)
}

// memSeq gives each OpenInMemory call its own shared-cache database name.
var memSeq atomic.Int64

// OpenInMemory opens a throwaway in-memory SQLite database, used by tests.
func OpenInMemory() (*DB, error) {
	dsn := fmt.Sprintf("file:openrunner-mem-%d?mode=memory&cache=shared", memSeq.Add(1))
	return OpenWithDialect(driver.DialectSQLite, dsn)
}

// DefaultPath returns the canonical on-disk location of the embedded store,
// named runner-ui.db under the platform user-data directory (spec.md
// section 6).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "openrunner", "runner-ui.db"), nil
}

// OpenWithDialect opens dsn under the given dialect (sqlite or postgres) and
// migrates it to the latest schema version.
func OpenWithDialect(dialect driver.Dialect, dsn string) (*DB, error) {
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, fmt.Errorf("select driver: %w", err)
	}
	if err := drv.Open(dsn); err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	d := &DB{drv: drv, path: dsn}
	if err := d.migrate(dialect); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate(dialect driver.Dialect) error {
	root := "schema"
	if dialect == driver.DialectPostgres {
		root = "schema/postgres"
	}
	return d.drv.Migrate(context.Background(), embedSchemaFS{fsys: schemaFiles, root: root}, schemaType)
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.drv.Close() }

// Path returns the DSN the store was opened with.
func (d *DB) Path() string { return d.path }

// Dialect reports which SQL dialect backs this store.
func (d *DB) Dialect() driver.Dialect { return d.drv.Dialect() }

// Placeholder returns the positional parameter marker for this dialect.
func (d *DB) Placeholder(index int) string { return d.drv.Placeholder(index) }

// Now returns the dialect's current-timestamp SQL expression.
func (d *DB) Now() string { return d.drv.Now() }

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.drv.Exec(ctx, query, args...)
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.drv.Query(ctx, query, args...)
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.drv.QueryRow(ctx, query, args...)
}

// RawDB exposes the underlying *sql.DB for advanced operations such as
// connection pool tuning.
func (d *DB) RawDB() *sql.DB { return d.drv.DB() }

// TxOps mirrors the transaction-scoped query surface of DB, so store code
// written against RunInTx can reuse the same query builders either way.
type TxOps struct {
	tx      driver.Tx
	dialect driver.Dialect
	ctx     context.Context
}

func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.ctx, query, args...)
}

func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.ctx, query, args...)
}

func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, query, args...)
}

func (t *TxOps) Context() context.Context { return t.ctx }
func (t *TxOps) Dialect() driver.Dialect  { return t.dialect }

// Placeholder returns the positional parameter marker for this transaction's
// dialect ("?" for SQLite, "$1"-style for Postgres).
func (t *TxOps) Placeholder(index int) string {
	if t.dialect == driver.DialectPostgres {
		return fmt.Sprintf("$%d", index)
	}
	return "?"
}

// RunInTx executes fn within a transaction, committing on nil return and
// rolling back otherwise. Multi-statement Config Store mutations go through
// this so multi-table writes stay atomic (spec.md section 4.1);
// single-statement writes use Exec directly.
func (d *DB) RunInTx(ctx context.Context, fn func(tx *TxOps) error) error {
	tx, err := d.drv.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	ops := &TxOps{tx: tx, dialect: d.drv.Dialect(), ctx: ctx}

	if err := fn(ops); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// embedSchemaFS adapts an embed.FS rooted under root to driver.SchemaFS,
// whose ReadDir signature needs driver.DirEntry rather than fs.DirEntry.
type embedSchemaFS struct {
	fsys fs.FS
	root string
}

func (e embedSchemaFS) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := fs.ReadDir(e.fsys, e.root)
	if err != nil {
		return nil, err
	}
	out := make([]driver.DirEntry, len(entries))
	for i, ent := range entries {
		out[i] = ent
	}
	return out, nil
}

func (e embedSchemaFS) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(e.fsys, name)
}
