package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"scoresync/internal/cloud"
	"scoresync/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements cloud.LocalStore on a single SQLite object table.
// Every table of the local store is a tbl value in that one table.
type SQLiteStore struct {
	db    *sql.DB
	clock cloud.Clock
	path  string
}

// NewSQLiteStore opens (creating if needed) the store at path and migrates it.
// path can be a file path or ":memory:" for an in-memory store.
func NewSQLiteStore(path string, clock cloud.Clock) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	if err := migrations.CheckDBMigrationStatus(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("checking schema of %s: %w", path, err)
	}

	if clock == nil {
		clock = cloud.RealClock{}
	}
	return &SQLiteStore{db: db, clock: clock, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection.
// File databases use WAL and wait up to 5s for locks.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Path returns the file the store was opened from.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(table, key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM objects WHERE tbl = ? AND key = ?", table, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting %s/%s: %w", table, key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", table, key, err)
	}
	return true, nil
}

func (s *SQLiteStore) Put(table, key, index string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", table, key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO objects (tbl, key, idx, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tbl, key) DO UPDATE SET idx = excluded.idx, value = excluded.value, updated_at = excluded.updated_at`,
		table, key, index, string(data), s.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("putting %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(table, key string) error {
	if _, err := s.db.Exec("DELETE FROM objects WHERE tbl = ? AND key = ?", table, key); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *SQLiteStore) QueryByIndex(table, index string) ([]json.RawMessage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if index == "" {
		rows, err = s.db.Query("SELECT value FROM objects WHERE tbl = ? ORDER BY rowid", table)
	} else {
		rows, err = s.db.Query("SELECT value FROM objects WHERE tbl = ? AND idx = ? ORDER BY rowid", table, index)
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		out = append(out, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", table, err)
	}
	return out, nil
}

func (s *SQLiteStore) BulkDelete(table string, keys []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("DELETE FROM objects WHERE tbl = ? AND key = ?")
	if err != nil {
		return fmt.Errorf("preparing delete: %w", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.Exec(table, key); err != nil {
			return fmt.Errorf("deleting %s/%s: %w", table, key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bulk delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time check that SQLiteStore implements cloud.LocalStore
var _ cloud.LocalStore = (*SQLiteStore)(nil)
