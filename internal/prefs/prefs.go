// Package prefs persists UI preferences between console runs.
package prefs

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Well-known preference keys.
const (
	KeyLastView     = "last_view"
	KeyStatusFilter = "status_filter"
	KeySortColumn   = "sort_column"
)

// Store is a small key/value store for console preferences, kept separate
// from the daemon database so the TUI works against a remote daemon too.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the preference database location under the user's
// home directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".gridview", "prefs.db"), nil
}

// Open creates or opens the preference store at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create prefs directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open prefs db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS prefs (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate prefs: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the preference database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value of a key, or fallback when unset.
func (s *Store) Get(key, fallback string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return fallback
	}
	return value
}

// Set stores a value under a key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set pref %s: %w", key, err)
	}
	return nil
}

// scoped builds a per-view key, e.g. "status_filter.tasks".
func scoped(key, view string) string {
	if view == "" {
		return key
	}
	return key + "." + view
}

// LastView returns the view the console should open on.
func (s *Store) LastView() string {
	return s.Get(KeyLastView, "workflows")
}

// SetLastView records the view the console was on.
func (s *Store) SetLastView(view string) error {
	return s.Set(KeyLastView, view)
}

// StatusFilter returns the saved status filter of a view.
func (s *Store) StatusFilter(view string) string {
	return s.Get(scoped(KeyStatusFilter, view), "")
}

// SetStatusFilter saves the status filter of a view.
func (s *Store) SetStatusFilter(view, filter string) error {
	return s.Set(scoped(KeyStatusFilter, view), filter)
}

// SortColumn returns the saved sort column of a view.
func (s *Store) SortColumn(view string) string {
	return s.Get(scoped(KeySortColumn, view), "")
}

// SetSortColumn saves the sort column of a view.
func (s *Store) SetSortColumn(view, column string) error {
	return s.Set(scoped(KeySortColumn, view), column)
}
