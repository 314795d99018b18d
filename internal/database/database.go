package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Stats returns aggregate counts for the status command.
func (db *DB) Stats() (*Stats, error) {
	s := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM alerts", &s.TotalAlerts},
		{"SELECT COUNT(*) FROM alerts WHERE reviewed = 0 AND duplicate_of IS NULL", &s.UnreviewedAlerts},
		{"SELECT COUNT(*) FROM alerts WHERE duplicate_of IS NOT NULL", &s.Duplicates},
		{"SELECT COUNT(*) FROM sources", &s.Sources},
		{"SELECT COUNT(*) FROM keywords WHERE active = 1", &s.ActiveKeywords},
		{"SELECT COUNT(*) FROM pois WHERE active = 1", &s.POIs},
		{"SELECT COUNT(*) FROM alert_entities", &s.Entities},
		{"SELECT COUNT(*) FROM poi_hits", &s.POIHits},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return s, nil
}
