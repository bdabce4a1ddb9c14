package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FormatVersion is bumped whenever the persisted record layout changes.
// Files written with another version are discarded on load.
const FormatVersion = 2

// Store persists cache records between sessions.
type Store interface {
	Load() ([]Entry, error)
	Save([]Entry) error
	Close() error
}

// OpenStore returns the store selected by kind ("file", "sqlite"). "none" or ""
// disables persistence and returns a nil store.
func OpenStore(kind, dataDir string) (Store, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "file", "json":
		return NewFileStore(dataDir), nil
	case "sqlite":
		s, err := NewSQLiteStore(dataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache store %q", kind)
	}
}

// FileStore keeps the cache as a versioned JSON document.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type fileDoc struct {
	Version int     `json:"version"`
	Records []Entry `json:"records"`
}

// NewFileStore returns a store at dataDir/cache.json.
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{path: filepath.Join(dataDir, "cache.json")}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Load reads records from disk. A missing, corrupt or differently versioned file
// yields no records and no error; it will be rewritten on the next Save.
func (s *FileStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // Fresh start
		}
		return nil, err
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil
	}
	if doc.Version != FormatVersion {
		return nil, nil
	}
	return doc.Records, nil
}

// Save writes all records, replacing the previous file atomically.
func (s *FileStore) Save(records []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fileDoc{Version: FormatVersion, Records: records}, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Close is a no-op for files.
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
