package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/mr1hm/go-rockfall-alerts/internal/alerting"
	"github.com/mr1hm/go-rockfall-alerts/internal/apperr"
	"github.com/mr1hm/go-rockfall-alerts/internal/config"
	"github.com/mr1hm/go-rockfall-alerts/internal/fusion"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
	"github.com/mr1hm/go-rockfall-alerts/internal/repository"
	"github.com/mr1hm/go-rockfall-alerts/internal/worker"
)

// AlertSource is the alert source recorded on alerts raised from assessments.
const AlertSource = "Risk Fusion"

// AlertCreator raises alerts for high-risk assessments.
type AlertCreator interface {
	Create(ctx context.Context, in alerting.NewAlert) (*models.Alert, error)
}

type Manager struct {
	cfg     *config.Config
	repo    repository.AssessmentRepository
	alerts  AlertCreator
	weights fusion.Weights
	cache   *ristretto.Cache
	pool    *worker.Pool[models.RiskEstimate]
	mqtt    *MQTTSubscriber
	now     func() time.Time

	// cooldown expiry per location; guarded by cooldownMu, which also
	// serializes the check-and-create in raiseAlert
	cooldownMu   sync.Mutex
	cooldowns    map[string]time.Time
	onAssessment func(*models.RiskAssessment)
}

type Option func(*Manager)

// WithAssessmentHook registers fn to be called after every stored assessment.
func WithAssessmentHook(fn func(*models.RiskAssessment)) Option {
	return func(m *Manager) {
		m.onAssessment = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(cfg *config.Config, repo repository.AssessmentRepository, alerts AlertCreator, opts ...Option) (*Manager, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1e3,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating estimate cache: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		repo:      repo,
		alerts:    alerts,
		weights:   fusion.Weights{Sensor: cfg.Fusion.SensorWeight, Drone: cfg.Fusion.DroneWeight},
		cache:     cache,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) error {
	m.pool = worker.NewPool("ingestion", m.cfg.Worker.Count, m.cfg.Worker.BufferSize, m.process)
	m.pool.Start(ctx)

	if m.cfg.MQTT.Enabled {
		m.mqtt = NewMQTTSubscriber(m.cfg.MQTT, m)
		if err := m.mqtt.Start(); err != nil {
			return err
		}
	}

	slog.Info("ingestion manager started", "workers", m.cfg.Worker.Count, "mqtt", m.cfg.MQTT.Enabled)
	return nil
}

func (m *Manager) Stop() {
	if m.mqtt != nil {
		m.mqtt.Stop()
	}
	if m.pool != nil {
		m.pool.Stop()
	}
	m.cache.Close()
	slog.Info("ingestion manager stopped")
}

// Submit validates est and queues it for processing without blocking.
func (m *Manager) Submit(est models.RiskEstimate) error {
	if err := ValidateEstimate(&est); err != nil {
		return err
	}
	if m.pool == nil {
		return apperr.ErrIngestionQueue.WithMessage("ingestion is not running")
	}
	if err := m.pool.TrySubmit(est); err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			return apperr.ErrIngestionQueue.WithMessage("ingestion queue is full").WithCause(err)
		}
		return apperr.ErrIngestionQueue.WithCause(err)
	}
	return nil
}

// ValidateEstimate checks est and normalizes its location and source in place.
func ValidateEstimate(est *models.RiskEstimate) error {
	est.Location = strings.TrimSpace(est.Location)
	if est.Location == "" {
		return apperr.ErrInvalidInput.WithMessage("location is required")
	}
	src, err := models.ParseEstimateSource(string(est.Source))
	if err != nil {
		return apperr.ErrInvalidInput.WithMessage("invalid source: %q", est.Source)
	}
	est.Source = src
	if math.IsNaN(est.Score) || math.IsInf(est.Score, 0) || est.Score < 0 {
		return apperr.ErrInvalidInput.WithMessage("score must be a non-negative number")
	}
	if est.Confidence < 0 || est.Confidence > 1 || math.IsNaN(est.Confidence) {
		return apperr.ErrInvalidInput.WithMessage("confidence must be within [0,1]")
	}
	if est.Scale != 0 && est.Scale != 1 && est.Scale != 100 {
		return apperr.ErrInvalidInput.WithMessage("scale must be 1 or 100")
	}
	if limit := math.Max(est.Scale, 1); est.Score > limit {
		return apperr.ErrInvalidInput.WithMessage("score %.2f exceeds scale %.0f", est.Score, limit)
	}
	if (est.Latitude == nil) != (est.Longitude == nil) {
		return apperr.ErrInvalidInput.WithMessage("latitude and longitude must be given together")
	}
	return nil
}

func (m *Manager) process(ctx context.Context, est models.RiskEstimate) error {
	if est.ObservedAt.IsZero() {
		est.ObservedAt = m.now()
	}

	if !m.cache.SetWithTTL(estimateKey(est.Location, est.Source), est, 1, m.cfg.Fusion.EstimateTTL) {
		slog.Warn("estimate cache rejected entry, fusing without it", "location", est.Location, "source", est.Source)
	}
	m.cache.Wait()

	assessment := m.assess(est)
	assessment.ID = uuid.NewString()

	if err := m.repo.AddAssessment(ctx, &assessment); err != nil {
		slog.Error("error storing assessment", "location", est.Location, "error", err)
		return err
	}
	if m.onAssessment != nil {
		m.onAssessment(&assessment)
	}

	slog.Debug("assessment stored",
		"location", assessment.Location,
		"score", assessment.Score,
		"level", assessment.Level,
		"sources", assessment.Sources,
	)

	if assessment.Level == models.RiskHigh || assessment.Level == models.RiskCritical {
		return m.raiseAlert(ctx, &assessment, est.Coordinates())
	}
	return nil
}

func (m *Manager) assess(est models.RiskEstimate) models.RiskAssessment {
	other := models.SourceDrone
	if est.Source == models.SourceDrone {
		other = models.SourceSensor
	}

	v, ok := m.cache.Get(estimateKey(est.Location, other))
	if !ok {
		return fusion.Single(est)
	}
	counterpart := v.(models.RiskEstimate)

	if est.Source == models.SourceSensor {
		return fusion.Fuse(est, counterpart, m.weights)
	}
	return fusion.Fuse(counterpart, est, m.weights)
}

func (m *Manager) raiseAlert(ctx context.Context, a *models.RiskAssessment, coords *models.Coordinates) error {
	m.cooldownMu.Lock()
	defer m.cooldownMu.Unlock()

	now := m.now()
	if until, ok := m.cooldowns[a.Location]; ok {
		if now.Before(until) {
			slog.Debug("alert suppressed by cooldown", "location", a.Location, "level", a.Level, "until", until)
			return nil
		}
		delete(m.cooldowns, a.Location)
	}

	alert, err := m.alerts.Create(ctx, alerting.NewAlert{
		Severity:    fusion.SeverityFor(a.Level),
		Location:    a.Location,
		Coordinates: coords,
		Description: describe(a),
		Source:      AlertSource,
		Timestamp:   a.AssessedAt,
	})
	if err != nil {
		return fmt.Errorf("error raising alert for %s: %w", a.Location, err)
	}

	if m.cfg.Fusion.AlertCooldown > 0 {
		m.cooldowns[a.Location] = now.Add(m.cfg.Fusion.AlertCooldown)
	}
	slog.Debug("alert raised from assessment", "alert_id", alert.ID, "location", a.Location)
	return nil
}

func describe(a *models.RiskAssessment) string {
	if a.Sources < 2 {
		return fmt.Sprintf("Rockfall risk %.2f (%s) from a single source, confidence %.2f",
			a.Score, a.Level, a.Confidence)
	}
	return fmt.Sprintf("Fused rockfall risk %.2f (%s), confidence %.2f, source agreement %.2f",
		a.Score, a.Level, a.Confidence, a.Agreement)
}

func estimateKey(location string, src models.EstimateSource) string {
	return "estimate|" + location + "|" + string(src)
}

