// Package alerting owns the alert lifecycle: creation, acknowledgement,
// escalation and resolution, plus the deadline-driven escalation sweep.
package alerting

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-rockfall-alerts/internal/apperr"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
	"github.com/mr1hm/go-rockfall-alerts/internal/repository"
)

const (
	DefaultActor        = "System User"
	AutoEscalationActor = "Auto-Escalation"
)

// Notifier delivers the notification fan-out for an alert and reports what was sent.
type Notifier interface {
	Notify(ctx context.Context, a *models.Alert, escalated bool) []models.Notification
}

// Publisher receives every lifecycle event.
type Publisher interface {
	Publish(e *models.AlertEvent)
}

type NewAlert struct {
	Title       string              `json:"title"`
	Severity    models.Severity     `json:"severity"`
	Location    string              `json:"location"`
	Coordinates *models.Coordinates `json:"coordinates,omitempty"`
	Description string              `json:"description"`
	Action      string              `json:"action"`
	Source      string              `json:"source"`
	Timestamp   time.Time           `json:"timestamp"`
}

type Manager struct {
	mu      sync.Mutex
	active  map[string]*models.Alert
	history []*models.Alert

	// persistMu orders store writes so the last write carries the newest state.
	persistMu sync.Mutex
	repo      repository.AlertRepository
	notifier  Notifier
	publisher Publisher
	now       func() time.Time
}

type Option func(*Manager)

func WithRepository(repo repository.AlertRepository) Option {
	return func(m *Manager) {
		m.repo = repo
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		active: make(map[string]*models.Alert),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads persisted alerts. Unresolved alerts become active again.
func (m *Manager) Restore(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}

	alerts, err := m.repo.ListAlerts(ctx, repository.Filter{})
	if err != nil {
		return apperr.ErrStoreFailure.WithCause(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = make(map[string]*models.Alert)
	m.history = m.history[:0]
	for i := range alerts {
		a := &alerts[i]
		if a.Status == models.StatusResolved {
			m.history = append(m.history, a)
		} else {
			m.active[a.ID] = a
		}
	}

	slog.Info("alerts restored", "active", len(m.active), "history", len(m.history))
	return nil
}

func (m *Manager) Create(ctx context.Context, in NewAlert) (*models.Alert, error) {
	if !in.Severity.Valid() {
		return nil, apperr.ErrInvalidInput.WithMessage("invalid severity: %q", in.Severity)
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		return nil, apperr.ErrInvalidInput.WithMessage("location is required")
	}
	// titles and locations end up in mail headers
	if strings.ContainsAny(in.Title, "\r\n") || strings.ContainsAny(location, "\r\n") {
		return nil, apperr.ErrInvalidInput.WithMessage("title and location must be a single line")
	}

	now := m.now()
	tmpl := templateFor(in.Severity)

	a := &models.Alert{
		ID:                 uuid.NewString(),
		Title:              in.Title,
		Severity:           in.Severity,
		Location:           location,
		Coordinates:        in.Coordinates,
		Description:        in.Description,
		Action:             in.Action,
		Timestamp:          in.Timestamp,
		Status:             models.StatusActive,
		Source:             in.Source,
		EscalationDeadline: now.Add(tmpl.escalationDelay),
	}
	if a.Title == "" {
		a.Title = tmpl.title(location)
	}
	if a.Action == "" {
		a.Action = tmpl.actionFor(location)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	if a.Source == "" {
		a.Source = "System"
	}

	a.Notifications = m.notify(ctx, a, false)

	m.mu.Lock()
	m.active[a.ID] = a
	snapshot := a.Clone()
	m.mu.Unlock()

	m.persist(ctx, a.ID)
	m.publish(models.EventCreated, snapshot, now)

	slog.Info("alert created", "id", a.ID, "severity", a.Severity, "location", a.Location, "source", a.Source)
	return snapshot, nil
}

func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (*models.Alert, error) {
	now := m.now()

	m.mu.Lock()
	a, err := m.activeAlert(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if a.Status != models.StatusActive {
		m.mu.Unlock()
		return nil, apperr.ErrInvalidTransition.WithMessage("alert %s is %s, only active alerts can be acknowledged", id, a.Status)
	}

	a.Status = models.StatusAcknowledged
	a.AcknowledgedBy = actorOrDefault(actor)
	a.AcknowledgedAt = &now
	snapshot := a.Clone()
	m.mu.Unlock()

	m.persist(ctx, id)
	m.publish(models.EventAcknowledged, snapshot, now)

	slog.Info("alert acknowledged", "id", id, "by", snapshot.AcknowledgedBy)
	return snapshot, nil
}

// Escalate raises the alert one severity step, re-arms its deadline from the new
// severity's template and sends the escalated notification fan-out.
func (m *Manager) Escalate(ctx context.Context, id, actor string) (*models.Alert, error) {
	now := m.now()

	m.mu.Lock()
	a, err := m.activeAlert(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if a.EscalationLevel >= models.MaxEscalationLevel {
		m.mu.Unlock()
		return nil, apperr.ErrEscalationLimit.WithMessage("alert %s is already at escalation level %d", id, a.EscalationLevel)
	}

	a.EscalationLevel++
	a.Severity = a.Severity.Next()
	tmpl := templateFor(a.Severity)
	a.Action = tmpl.actionFor(a.Location)
	a.EscalationDeadline = now.Add(tmpl.escalationDelay)
	snapshot := a.Clone()
	m.mu.Unlock()

	sent := m.notify(ctx, snapshot, true)

	m.mu.Lock()
	// the alert may have been resolved while notifications were in flight
	resolved := false
	if cur := m.lookup(id); cur != nil {
		cur.Notifications = append(cur.Notifications, sent...)
		snapshot = cur.Clone()
		resolved = cur.Status == models.StatusResolved
	}
	m.mu.Unlock()

	m.persist(ctx, id)
	if !resolved {
		m.publish(models.EventEscalated, snapshot, now)
	}

	slog.Info("alert escalated",
		"id", id,
		"by", actorOrDefault(actor),
		"severity", snapshot.Severity,
		"level", snapshot.EscalationLevel,
	)
	return snapshot, nil
}

// Resolve closes the alert and moves it from the active set into history.
func (m *Manager) Resolve(ctx context.Context, id, actor, notes string) (*models.Alert, error) {
	now := m.now()

	m.mu.Lock()
	a, err := m.activeAlert(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	a.Status = models.StatusResolved
	a.ResolvedBy = actorOrDefault(actor)
	a.ResolvedAt = &now
	a.ResolutionNotes = notes
	delete(m.active, id)
	m.history = append(m.history, a)
	snapshot := a.Clone()
	m.mu.Unlock()

	m.persist(ctx, id)
	m.publish(models.EventResolved, snapshot, now)

	slog.Info("alert resolved", "id", id, "by", snapshot.ResolvedBy)
	return snapshot, nil
}

// SweepEscalations escalates every active, unacknowledged alert whose deadline
// has passed and which is below the escalation cap. It returns the escalated ids.
func (m *Manager) SweepEscalations(ctx context.Context) ([]string, error) {
	now := m.now()

	m.mu.Lock()
	var due []string
	for id, a := range m.active {
		if a.Status == models.StatusActive && now.After(a.EscalationDeadline) && a.EscalationLevel < models.MaxEscalationLevel {
			due = append(due, id)
		}
	}
	m.mu.Unlock()
	slices.Sort(due)

	escalated := make([]string, 0, len(due))
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}
		if _, err := m.Escalate(ctx, id, AutoEscalationActor); err != nil {
			slog.Warn("auto-escalation skipped", "id", id, "error", err)
			continue
		}
		escalated = append(escalated, id)
	}

	if len(escalated) > 0 {
		slog.Info("escalation sweep complete", "escalated", len(escalated))
	}
	return escalated, nil
}

// PurgeBefore drops resolved alerts closed before cutoff from history. When the
// store is a repository.Purger, aged-out rows are removed there as well.
func (m *Manager) PurgeBefore(ctx context.Context, cutoff time.Time) (repository.PurgeResult, error) {
	m.mu.Lock()
	kept := m.history[:0]
	var dropped int64
	for _, a := range m.history {
		if a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	clear(m.history[len(kept):])
	m.history = kept
	m.mu.Unlock()

	purger, ok := m.repo.(repository.Purger)
	if !ok {
		return repository.PurgeResult{Alerts: dropped}, nil
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	res, err := purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return res, apperr.ErrStoreFailure.WithCause(err)
	}
	return res, nil
}

func (m *Manager) Get(id string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a := m.lookup(id); a != nil {
		return a.Clone(), nil
	}
	return nil, apperr.ErrAlertNotFound.WithMessage("alert not found: %s", id)
}

// Active returns unresolved alerts, most severe first and newest first within a severity.
func (m *Manager) Active() []models.Alert {
	m.mu.Lock()
	out := make([]models.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a.Clone())
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b models.Alert) int {
		if c := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); c != 0 {
			return c
		}
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

type HistoryFilter struct {
	Severities []models.Severity
	From       *time.Time
	To         *time.Time
	Status     models.Status // empty matches every status
}

// History returns resolved alerts matching f, newest first.
func (m *Manager) History(f HistoryFilter) []models.Alert {
	m.mu.Lock()
	out := make([]models.Alert, 0, len(m.history))
	for _, a := range m.history {
		if len(f.Severities) > 0 && !slices.Contains(f.Severities, a.Severity) {
			continue
		}
		if f.From != nil && a.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && a.Timestamp.After(*f.To) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a.Clone())
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b models.Alert) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

func (m *Manager) activeAlert(id string) (*models.Alert, error) {
	if a, ok := m.active[id]; ok {
		return a, nil
	}
	for _, a := range m.history {
		if a.ID == id {
			return nil, apperr.ErrInvalidTransition.WithMessage("alert %s is already %s", id, a.Status)
		}
	}
	return nil, apperr.ErrAlertNotFound.WithMessage("alert not found: %s", id)
}

func (m *Manager) lookup(id string) *models.Alert {
	if a, ok := m.active[id]; ok {
		return a
	}
	for _, a := range m.history {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, a *models.Alert, escalated bool) []models.Notification {
	if m.notifier == nil {
		return nil
	}
	return m.notifier.Notify(ctx, a, escalated)
}

// persist mirrors the alert's current state to the store. Writes are serialized
// and each one reads the state under the lock, so a slow earlier write can never
// land after a newer one. The in-memory state stays authoritative when the store
// is unavailable.
func (m *Manager) persist(ctx context.Context, id string) {
	if m.repo == nil {
		return
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	cur := m.lookup(id)
	var a *models.Alert
	if cur != nil {
		a = cur.Clone()
	}
	m.mu.Unlock()
	if a == nil {
		return
	}

	if err := m.repo.SaveAlert(ctx, a); err != nil {
		slog.Error("error persisting alert", "id", id, "error", err)
	}
}

func (m *Manager) publish(t models.EventType, a *models.Alert, at time.Time) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(&models.AlertEvent{Type: t, Alert: a, At: at})
}

func actorOrDefault(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return DefaultActor
	}
	return actor
}
