package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

type Filter struct {
	Limit      int
	Offset     int
	Since      *time.Time
	Until      *time.Time
	Severities []models.Severity
	Statuses   []models.Status
}

type AssessmentFilter struct {
	Location string
	Limit    int
}

type AlertRepository interface {
	SaveAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error)
}

type AssessmentRepository interface {
	AddAssessment(ctx context.Context, a *models.RiskAssessment) error
	ListAssessments(ctx context.Context, opts AssessmentFilter) ([]models.RiskAssessment, error)
}

// PurgeResult counts the rows a retention pass removed.
type PurgeResult struct {
	Alerts      int64 `json:"alerts"`
	Assessments int64 `json:"assessments"`
}

// Purger removes data that has aged out of the retention window: resolved alerts
// closed before the cutoff and assessments made before it.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error)
}

// Store is the full persistence surface a database backend provides.
type Store interface {
	AlertRepository
	AssessmentRepository
	Purger
	Close() error
}

// Open returns the store for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		db, err := NewSQLiteDB(dsn)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		db, err := NewPostgresDB(dsn)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
