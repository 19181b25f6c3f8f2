// Package catalog persists the durable mapping from (task, file) to the
// container a file was packed into and the worker that packed it. It is a
// thin *sql.DB wrapper over SQLite that runs idempotent
// CREATE TABLE IF NOT EXISTS migrations on Open and exposes narrow,
// purpose-built query methods instead of a general query builder.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cafworker/cafworker/internal/errors"
)

// Record is one row of the catalog table, keyed by (task_id, file_path),
// holding the container it was packed into and the worker that packed it.
type Record struct {
	FilePath   string
	TaskID     string
	BundleID   string // container name
	JSWorkerID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WorkerIdentity is the persistent row selected by worker_id that supplies
// the credentials used by the remote blob adapter.
type WorkerIdentity struct {
	ID        int64
	Address   string
	Seed      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Catalog is the durable record store, backed by SQLite.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// migrations.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "catalog: mkdir")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: sql.Open")
	}
	// Writes serialize in SQLite regardless; keep a small pool so readers
	// (the façade) don't queue behind a single connection.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalog_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path TEXT NOT NULL,
			task_id TEXT NOT NULL,
			bundle_id TEXT NOT NULL,
			js_worker_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(task_id, file_path)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_entries_lookup ON catalog_entries(task_id, file_path);`,
		`CREATE TABLE IF NOT EXISTS worker_identities (
			id INTEGER PRIMARY KEY,
			address TEXT NOT NULL,
			seed TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return errors.Wrapf(err, "catalog: migrate %q", s)
		}
	}
	return nil
}

// Insert inserts an immutable catalog record. Rows are insert-only; a
// conflicting (task_id, file_path) pair surfaces as a duplicate-insert error
// for operations to investigate rather than being silently upserted.
func (c *Catalog) Insert(taskID, filePath, containerName, workerID string) error {
	now := time.Now().Unix()
	_, err := c.db.Exec(
		`INSERT INTO catalog_entries(file_path, task_id, bundle_id, js_worker_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		filePath, taskID, containerName, workerID, now, now,
	)
	if err != nil {
		return errors.Wrapf(errors.ErrIndexInsertFailed, "task=%s path=%s: %v", taskID, filePath, err)
	}
	return nil
}

// Lookup returns the record for (taskID, filePath), or (nil, nil) if absent.
func (c *Catalog) Lookup(taskID, filePath string) (*Record, error) {
	row := c.db.QueryRow(
		`SELECT file_path, task_id, bundle_id, js_worker_id, created_at, updated_at
		 FROM catalog_entries WHERE task_id = ? AND file_path = ?`,
		taskID, filePath,
	)

	var rec Record
	var created, updated int64
	err := row.Scan(&rec.FilePath, &rec.TaskID, &rec.BundleID, &rec.JSWorkerID, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "catalog: lookup")
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	return &rec, nil
}

// WorkerIdentity fetches the persistent identity row selected by workerID,
// used at startup to seed the remote blob adapter's credentials.
func (c *Catalog) WorkerIdentity(workerID int64) (*WorkerIdentity, error) {
	row := c.db.QueryRow(
		`SELECT id, address, seed, created_at, updated_at FROM worker_identities WHERE id = ?`,
		workerID,
	)

	var w WorkerIdentity
	var created, updated int64
	err := row.Scan(&w.ID, &w.Address, &w.Seed, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("catalog: no worker identity row for worker_id %d", workerID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "catalog: worker identity lookup")
	}
	w.CreatedAt = time.Unix(created, 0).UTC()
	w.UpdatedAt = time.Unix(updated, 0).UTC()
	return &w, nil
}
