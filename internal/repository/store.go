package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

const alertColumns = `id, title, severity, location, latitude, longitude, description, action,
	timestamp, status, source, acknowledged_by, acknowledged_at, resolved_by, resolved_at,
	resolution_notes, escalation_level, escalation_deadline, notifications`

const assessmentColumns = `id, location, score, level, confidence, sensor_score, drone_score,
	sensor_weight, drone_weight, agreement, sources, assessed_at`

// store holds the SQL shared by every backend. Queries are written with ? placeholders
// and passed through bind before execution.
type store struct {
	db   *sql.DB
	bind func(string) string
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) SaveAlert(ctx context.Context, a *models.Alert) error {
	notifications, err := json.Marshal(a.Notifications)
	if err != nil {
		return fmt.Errorf("error encoding notifications: %w", err)
	}

	var lat, lon sql.NullFloat64
	if a.Coordinates != nil {
		lat = sql.NullFloat64{Float64: a.Coordinates.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: a.Coordinates.Longitude, Valid: true}
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			severity = excluded.severity,
			location = excluded.location,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			description = excluded.description,
			action = excluded.action,
			status = excluded.status,
			acknowledged_by = excluded.acknowledged_by,
			acknowledged_at = excluded.acknowledged_at,
			resolved_by = excluded.resolved_by,
			resolved_at = excluded.resolved_at,
			resolution_notes = excluded.resolution_notes,
			escalation_level = excluded.escalation_level,
			escalation_deadline = excluded.escalation_deadline,
			notifications = excluded.notifications`

	_, err = s.db.ExecContext(ctx, s.bind(query),
		a.ID, a.Title, string(a.Severity), a.Location, lat, lon, a.Description, a.Action,
		a.Timestamp.UnixMilli(), string(a.Status), a.Source,
		a.AcknowledgedBy, nullMillis(a.AcknowledgedAt), a.ResolvedBy, nullMillis(a.ResolvedAt),
		a.ResolutionNotes, a.EscalationLevel, a.EscalationDeadline.UnixMilli(), string(notifications),
	)
	if err != nil {
		return fmt.Errorf("error saving alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`), id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting alert %s: %w", id, err)
	}
	return a, nil
}

func (s *store) ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error) {
	var (
		where []string
		args  []any
	)

	if opts.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.Until != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, opts.Until.UnixMilli())
	}
	if len(opts.Severities) > 0 {
		where = append(where, "severity IN ("+placeholders(len(opts.Severities))+")")
		for _, sev := range opts.Severities {
			args = append(args, string(sev))
		}
	}
	if len(opts.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(opts.Statuses))+")")
		for _, st := range opts.Statuses {
			args = append(args, string(st))
		}
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *store) AddAssessment(ctx context.Context, a *models.RiskAssessment) error {
	query := `INSERT INTO assessments (` + assessmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.bind(query),
		a.ID, a.Location, a.Score, string(a.Level), a.Confidence,
		nullFloat(a.SensorScore), nullFloat(a.DroneScore),
		a.SensorWeight, a.DroneWeight, a.Agreement, a.Sources, a.AssessedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("error adding assessment %s: %w", a.ID, err)
	}
	return nil
}

func (s *store) ListAssessments(ctx context.Context, opts AssessmentFilter) ([]models.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments`
	var args []any
	if opts.Location != "" {
		query += " WHERE location = ?"
		args = append(args, opts.Location)
	}
	query += " ORDER BY assessed_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error listing assessments: %w", err)
	}
	defer rows.Close()

	var out []models.RiskAssessment
	for rows.Next() {
		var (
			a                  models.RiskAssessment
			level              string
			sensorScore, drone sql.NullFloat64
			assessedAt         int64
		)
		if err := rows.Scan(&a.ID, &a.Location, &a.Score, &level, &a.Confidence, &sensorScore, &drone,
			&a.SensorWeight, &a.DroneWeight, &a.Agreement, &a.Sources, &assessedAt); err != nil {
			return nil, fmt.Errorf("error scanning assessment: %w", err)
		}
		a.Level = models.RiskLevel(level)
		a.SensorScore = floatPtr(sensorScore)
		a.DroneScore = floatPtr(drone)
		a.AssessedAt = time.UnixMilli(assessedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *store) PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var res PurgeResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("error starting purge: %w", err)
	}
	defer tx.Rollback()

	ms := cutoff.UnixMilli()
	r, err := tx.ExecContext(ctx, s.bind(`DELETE FROM alerts WHERE status = ? AND resolved_at < ?`),
		string(models.StatusResolved), ms)
	if err != nil {
		return res, fmt.Errorf("error purging alerts: %w", err)
	}
	if res.Alerts, err = r.RowsAffected(); err != nil {
		return res, err
	}

	r, err = tx.ExecContext(ctx, s.bind(`DELETE FROM assessments WHERE assessed_at < ?`), ms)
	if err != nil {
		return res, fmt.Errorf("error purging assessments: %w", err)
	}
	if res.Assessments, err = r.RowsAffected(); err != nil {
		return res, err
	}

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("error committing purge: %w", err)
	}
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(sc scanner) (*models.Alert, error) {
	var (
		a                               models.Alert
		severity, status, notifications string
		lat, lon                        sql.NullFloat64
		timestamp, deadline             int64
		acknowledgedAt, resolvedAt      sql.NullInt64
	)
	err := sc.Scan(&a.ID, &a.Title, &severity, &a.Location, &lat, &lon, &a.Description, &a.Action,
		&timestamp, &status, &a.Source, &a.AcknowledgedBy, &acknowledgedAt, &a.ResolvedBy, &resolvedAt,
		&a.ResolutionNotes, &a.EscalationLevel, &deadline, &notifications)
	if err != nil {
		return nil, err
	}

	a.Severity = models.Severity(severity)
	a.Status = models.Status(status)
	a.Timestamp = time.UnixMilli(timestamp)
	a.EscalationDeadline = time.UnixMilli(deadline)
	a.AcknowledgedAt = timePtr(acknowledgedAt)
	a.ResolvedAt = timePtr(resolvedAt)
	if lat.Valid && lon.Valid {
		a.Coordinates = &models.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if notifications != "" {
		if err := json.Unmarshal([]byte(notifications), &a.Notifications); err != nil {
			return nil, fmt.Errorf("error decoding notifications: %w", err)
		}
	}
	return &a, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rebindDollar rewrites ? placeholders as $1, $2, ... for postgres.
func rebindDollar(query string) string {
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func identity(query string) string { return query }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
