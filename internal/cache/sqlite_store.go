package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps cache records in a SQLite database. The schema version lives in
// PRAGMA user_version; a mismatch drops and rebuilds the table.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStore opens (or creates) dataDir/cache.db.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	path := filepath.Join(dataDir, "cache.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read cache schema version: %w", err)
	}
	if version != FormatVersion {
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS entries`); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		source TEXT NOT NULL,
		exact TEXT NOT NULL DEFAULT '',
		last_used TEXT NOT NULL
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, FormatVersion))
	return err
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }

// Load returns every stored record.
func (s *SQLiteStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, command, source, exact, last_used FROM entries ORDER BY last_used`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var src, ts string
		if err := rows.Scan(&e.Key, &e.Command, &src, &e.Exact, &ts); err != nil {
			return nil, err
		}
		e.Source = Source(src)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.LastUsed = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Save replaces the stored records with the given set.
func (s *SQLiteStore) Save(records []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM entries`); err != nil {
		tx.Rollback()
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO entries (key, command, source, exact, last_used) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range records {
		if _, err := stmt.Exec(e.Key, e.Command, string(e.Source), e.Exact, e.LastUsed.UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
