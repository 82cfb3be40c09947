package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresDB mirrors SQLiteDB on PostgreSQL for deployments that share the alert store.
type PostgresDB struct {
	store
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	p := &PostgresDB{
		store: store{db: db, bind: rebindDollar},
	}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return p, nil
}

func (p *PostgresDB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			severity TEXT NOT NULL,
			location TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			description TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			timestamp BIGINT NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			acknowledged_by TEXT NOT NULL DEFAULT '',
			acknowledged_at BIGINT,
			resolved_by TEXT NOT NULL DEFAULT '',
			resolved_at BIGINT,
			resolution_notes TEXT NOT NULL DEFAULT '',
			escalation_level INTEGER NOT NULL DEFAULT 0,
			escalation_deadline BIGINT NOT NULL,
			notifications TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			level TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			sensor_score DOUBLE PRECISION,
			drone_score DOUBLE PRECISION,
			sensor_weight DOUBLE PRECISION NOT NULL,
			drone_weight DOUBLE PRECISION NOT NULL,
			agreement DOUBLE PRECISION NOT NULL,
			sources INTEGER NOT NULL,
			assessed_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_location ON assessments(location, assessed_at)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
