package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	store
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// :memory: databases are per-connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		store: store{db: db, bind: identity},
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			severity TEXT NOT NULL,
			location TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			description TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			acknowledged_by TEXT NOT NULL DEFAULT '',
			acknowledged_at INTEGER,
			resolved_by TEXT NOT NULL DEFAULT '',
			resolved_at INTEGER,
			resolution_notes TEXT NOT NULL DEFAULT '',
			escalation_level INTEGER NOT NULL DEFAULT 0,
			escalation_deadline INTEGER NOT NULL,
			notifications TEXT NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			score REAL NOT NULL,
			level TEXT NOT NULL,
			confidence REAL NOT NULL,
			sensor_score REAL,
			drone_score REAL,
			sensor_weight REAL NOT NULL,
			drone_weight REAL NOT NULL,
			agreement REAL NOT NULL,
			sources INTEGER NOT NULL,
			assessed_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_assessments_location ON assessments(location, assessed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
