// Package catalog records batch decompilation runs in a SQLite database so
// unchanged inputs can be skipped on the next run.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("luadec.catalog")

// Status is the outcome of decompiling one file.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id       TEXT PRIMARY KEY,
	root     TEXT NOT NULL,
	started  INTEGER NOT NULL,
	finished INTEGER
);
CREATE TABLE IF NOT EXISTS results (
	run      TEXT NOT NULL REFERENCES runs(id),
	path     TEXT NOT NULL,
	hash     TEXT NOT NULL,
	status   TEXT NOT NULL,
	warnings INTEGER NOT NULL DEFAULT 0,
	bytes    INTEGER NOT NULL DEFAULT 0,
	error    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run, path)
);
CREATE INDEX IF NOT EXISTS results_hash ON results(hash, status);
`

// Catalog is an open catalog database.
type Catalog struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the catalog at path. Missing parent directories are
// created.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	// One connection keeps writes from concurrent workers ordered.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	log.Debugf("opened catalog %s", path)
	return &Catalog{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file location.
func (c *Catalog) Path() string { return c.path }

// Hash returns the content hash stored for data.
func Hash(data []byte) string {
	h := xxh3.Hash128(data)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// Run is one batch invocation.
type Run struct {
	ID      string
	Root    string
	Started time.Time
	c       *Catalog
}

// Begin starts a new run over root.
func (c *Catalog) Begin(root string) (*Run, error) {
	r := &Run{ID: uuid.NewString(), Root: root, Started: time.Now(), c: c}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec(
		"INSERT INTO runs (id, root, started) VALUES (?, ?, ?)",
		r.ID, r.Root, r.Started.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	log.Infof("run %s started for %s", r.ID, root)
	return r, nil
}

// Seen reports whether content with this hash has already decompiled
// cleanly, in any run.
func (c *Catalog) Seen(hash string) (bool, error) {
	var n int
	err := c.db.QueryRow(
		"SELECT COUNT(*) FROM results WHERE hash = ? AND status = ?",
		hash, string(StatusOK),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying hash: %w", err)
	}
	return n > 0, nil
}

// Entry is the recorded outcome for one file.
type Entry struct {
	Path     string
	Hash     string
	Status   Status
	Warnings int
	Bytes    int64
	Error    string
}

// Record stores the outcome for one file in this run. Recording the same
// path twice replaces the earlier entry.
func (r *Run) Record(e Entry) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	_, err := r.c.db.Exec(
		`INSERT OR REPLACE INTO results (run, path, hash, status, warnings, bytes, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, e.Path, e.Hash, string(e.Status), e.Warnings, e.Bytes, e.Error,
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Path, err)
	}
	return nil
}

// Finish marks the run complete.
func (r *Run) Finish() error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, err := r.c.db.Exec(
		"UPDATE runs SET finished = ? WHERE id = ?",
		time.Now().UnixNano(), r.ID,
	); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// Entries returns the recorded outcomes of a run ordered by path.
func (c *Catalog) Entries(runID string) ([]Entry, error) {
	var exists int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM runs WHERE id = ?", runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if exists == 0 {
		return nil, ErrRunNotFound
	}

	rows, err := c.db.Query(
		"SELECT path, hash, status, warnings, bytes, error FROM results WHERE run = ? ORDER BY path",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.Path, &e.Hash, &status, &e.Warnings, &e.Bytes, &e.Error); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
