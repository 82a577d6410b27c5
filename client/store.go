package client

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Persisted keys. Reset removes every one of them, returning the sheet to a
// factory-fresh state on next load.
const (
	keyClientID      = "client_id"
	keyTitle         = "title"
	keyEditMode      = "edit_mode"
	keyChars         = "chars"
	keyUser          = "user"
	keyTable         = "table"
	keyServer        = "server"
	keyGalleryLarge  = "gallery_large"
	keyGalleryThumbs = "gallery_thumbs"
	keyTracks        = "tracks"
)

var storeKeys = []string{
	keyClientID, keyTitle, keyEditMode, keyChars, keyUser,
	keyTable, keyServer, keyGalleryLarge, keyGalleryThumbs, keyTracks,
}

// Store is the client's local key→value persistence, backed by a single
// SQLite table. Everything the sheet needs to survive a reload lives here.
type Store struct {
	db *sql.DB
}

// OpenStore prepares a SQLite database at the given path and ensures the
// schema exists.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS sheet_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the stored value for key, reporting whether it was present.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sheet_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO sheet_store (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM sheet_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// GetJSON unmarshals the stored value for key into out.
func (s *Store) GetJSON(key string, out any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON marshals v and stores it under key.
func (s *Store) PutJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(key, string(raw))
}

// Reset clears every persisted key.
func (s *Store) Reset() error {
	for _, key := range storeKeys {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}
