package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"rehearsal/internal/protocol"
)

// Store persists transcripts to SQLite so a recorded run can be inspected
// or replayed after the process that captured it is gone.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens (creating if needed) the transcript database at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);
	`

	entriesTable := `
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		direction TEXT NOT NULL,
		at TEXT NOT NULL,
		envelope TEXT NOT NULL,
		UNIQUE(run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_run ON entries(run_id);
	`

	for _, table := range []string{runsTable, entriesTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInfo summarizes one saved transcript.
type RunInfo struct {
	ID      int64
	Name    string
	SavedAt time.Time
	Entries int
}

// Save writes the transcript under name and returns the run ID.
func (s *Store) Save(name string, tr *Transcript) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO runs (name, saved_at) VALUES (?, ?)",
		name, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		"INSERT INTO entries (run_id, seq, direction, at, envelope) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range tr.All() {
		wire, err := json.Marshal(e.Envelope)
		if err != nil {
			return 0, fmt.Errorf("entry %d: %w", e.Seq, err)
		}
		_, err = stmt.Exec(runID, e.Seq, string(e.Direction),
			e.At.UTC().Format(time.RFC3339Nano), string(wire))
		if err != nil {
			return 0, fmt.Errorf("entry %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// Load reads a saved transcript back by run ID.
func (s *Store) Load(id int64) (*Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	err := s.db.QueryRow("SELECT name FROM runs WHERE id = ?", id).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		"SELECT direction, at, envelope FROM entries WHERE run_id = ? ORDER BY seq",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tr := New()
	for rows.Next() {
		var direction, at, wire string
		if err := rows.Scan(&direction, &at, &wire); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("run %d: bad timestamp %q: %w", id, at, err)
		}
		env, err := protocol.Decode([]byte(wire))
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", id, err)
		}
		tr.Append(Direction(direction), ts, env)
	}
	return tr, rows.Err()
}

// List returns every saved run, newest first.
func (s *Store) List() ([]RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT r.id, r.name, r.saved_at, COUNT(e.id)
		FROM runs r LEFT JOIN entries e ON e.run_id = r.id
		GROUP BY r.id ORDER BY r.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var info RunInfo
		var savedAt string
		if err := rows.Scan(&info.ID, &info.Name, &savedAt, &info.Entries); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
			info.SavedAt = ts
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
