package facet

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const taxonomySchema = `
CREATE TABLE IF NOT EXISTS facet_labels (
	ordinal INTEGER PRIMARY KEY AUTOINCREMENT,
	dim TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE (dim, value)
);
`

// taxonomy is the set of labels ever written, persisted in SQLite.
// Labels are held in memory and flushed on commit.
type taxonomy struct {
	mu      sync.Mutex
	db      *sql.DB
	path    string
	known   map[string]map[string]struct{}
	pending []Label
	logger  *slog.Logger
}

func openTaxonomy(path string, logger *slog.Logger) (*taxonomy, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy: %w", err)
	}
	// Single connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range append(pragmas, taxonomySchema) {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialise taxonomy: %w", err)
		}
	}

	t := &taxonomy{db: db, path: path, known: make(map[string]map[string]struct{}), logger: logger}
	if err := t.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func (t *taxonomy) load() error {
	rows, err := t.db.Query(`SELECT dim, value FROM facet_labels ORDER BY ordinal`)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.Dim, &l.Value); err != nil {
			return fmt.Errorf("scan label: %w", err)
		}
		t.remember(l)
	}
	return rows.Err()
}

func (t *taxonomy) remember(l Label) bool {
	values, ok := t.known[l.Dim]
	if !ok {
		values = make(map[string]struct{})
		t.known[l.Dim] = values
	}
	if _, seen := values[l.Value]; seen {
		return false
	}
	values[l.Value] = struct{}{}
	return true
}

func (t *taxonomy) add(l Label) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remember(l) {
		t.pending = append(t.pending, l)
	}
}

// labels returns the known labels of dim sorted by value.
func (t *taxonomy) labels(dim string) []Label {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Label, 0, len(t.known[dim]))
	for v := range t.known[dim] {
		out = append(out, Label{Dim: dim, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func (t *taxonomy) commit() error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := t.insert(pending); err != nil {
		t.mu.Lock()
		t.pending = append(pending, t.pending...)
		t.mu.Unlock()
		return err
	}
	t.logger.Debug("facet_taxonomy_committed", slog.Int("labels", len(pending)))
	return nil
}

func (t *taxonomy) insert(labels []Label) error {
	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO facet_labels (dim, value) VALUES (?, ?) ON CONFLICT(dim, value) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, l := range labels {
		if _, err := stmt.Exec(l.Dim, l.Value); err != nil {
			return fmt.Errorf("insert label: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *taxonomy) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}

// destroy closes the database and removes its files.
func (t *taxonomy) destroy() error {
	if err := t.close(); err != nil {
		return err
	}
	t.mu.Lock()
	t.known = make(map[string]map[string]struct{})
	t.pending = nil
	t.mu.Unlock()
	return Destroy(t.path)
}

// Destroy removes a taxonomy file that is not open.
func Destroy(path string) error {
	if path == "" {
		return nil
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove taxonomy: %w", err)
		}
	}
	return nil
}
