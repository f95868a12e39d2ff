// Package store provides the embedded SQLite database behind a
// Local-mode plantsync process.
//
// The database runs fully embedded (ncruces/go-sqlite3 with the
// compiled-in engine) with WAL for concurrent reads. There is exactly
// one database file per process, at a fixed well-known name inside the
// data directory, and exactly one open handle, owned by the Connector.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// FileName is the fixed name of the embedded database file inside the
// data directory. Peers never share this file; they converge through
// broadcast change events instead.
const FileName = "plantsync.db"

// Store wraps the embedded database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database file at path.
//
// The database is opened in embedded mode with WAL enabled, a 5s busy
// timeout, and foreign keys on. The schema is created if absent; Open
// is idempotent over an existing file.
//
// The caller must Close() the store for a clean WAL checkpoint.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path this store was opened at.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates the domain tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS equipments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		parent_id TEXT,
		type TEXT,
		system_code TEXT,
		location TEXT,
		manufacturer TEXT,
		serial_number TEXT,
		status TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS components (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT,
		description TEXT,
		equipment_id TEXT
	);

	CREATE TABLE IF NOT EXISTS alarms (
		code TEXT PRIMARY KEY,
		severity TEXT CHECK(severity IN ('INFO', 'WARNING', 'CRITICAL', 'EMERGENCY')) NOT NULL,
		description TEXT NOT NULL,
		parameter TEXT,
		reset_procedure TEXT,
		equipment_id TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS procedures (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		equipment_id TEXT,
		steps TEXT NOT NULL,  -- JSON array, order is significant
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS log_entries (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		type TEXT CHECK(type IN ('AUTO', 'MANUAL')) NOT NULL,
		source TEXT NOT NULL,
		message TEXT NOT NULL,
		equipment_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_equipments_status ON equipments(status);
	CREATE INDEX IF NOT EXISTS idx_equipments_parent ON equipments(parent_id);
	CREATE INDEX IF NOT EXISTS idx_components_equipment ON components(equipment_id);
	CREATE INDEX IF NOT EXISTS idx_alarms_equipment ON alarms(equipment_id);
	CREATE INDEX IF NOT EXISTS idx_alarms_severity ON alarms(severity);
	CREATE INDEX IF NOT EXISTS idx_procedures_equipment ON procedures(equipment_id);
	CREATE INDEX IF NOT EXISTS idx_log_entries_equipment ON log_entries(equipment_id);
	CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries(timestamp);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Counts reports row counts per table, for the status command.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"equipments", "components", "alarms", "procedures", "log_entries"} {
		var n int
		if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// timeToNullString converts an optional time to a nullable SQL string.
func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// parseTime parses an RFC 3339 timestamp, tolerating the zero value.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalSteps(steps []string) (string, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("failed to marshal steps: %w", err)
	}
	return string(data), nil
}

func unmarshalSteps(data string) ([]string, error) {
	var steps []string
	if data == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(data), &steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	return steps, nil
}
