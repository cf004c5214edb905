package storage

import (
	"database/sql"
	"errors"
	"fmt"

	// sqlite driver
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots as rows of a single-file database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		saved INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: creating table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save stores the snapshot row for name.
func (s *SQLiteStore) Save(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO snapshots (name, data) VALUES (?, ?)", name, data)
	if err != nil {
		return fmt.Errorf("storage: saving %s: %w", name, err)
	}
	log.Debugf("saved snapshot %s (%d bytes) to database", name, len(data))
	return nil
}

// Load returns the snapshot row for name.
func (s *SQLiteStore) Load(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRow("SELECT data FROM snapshots WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: loading %s: %w", name, err)
	}
	return data, nil
}

// Delete removes the snapshot row for name.
func (s *SQLiteStore) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM snapshots WHERE name = ?", name); err != nil {
		return fmt.Errorf("storage: deleting %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
