package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-rockfall-alerts/internal/apperr"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
	"github.com/mr1hm/go-rockfall-alerts/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type notifyCall struct {
	severity  models.Severity
	escalated bool
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) Notify(_ context.Context, a *models.Alert, escalated bool) []models.Notification {
	n.mu.Lock()
	n.calls = append(n.calls, notifyCall{severity: a.Severity, escalated: escalated})
	n.mu.Unlock()
	return []models.Notification{{Channel: models.ChannelEmail, Status: models.NotificationSent, Escalated: escalated}}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.EventType
}

func (p *fakePublisher) Publish(e *models.AlertEvent) {
	p.mu.Lock()
	p.events = append(p.events, e.Type)
	p.mu.Unlock()
}

var t0 = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock, *fakeNotifier, *fakePublisher) {
	t.Helper()
	clock := &fakeClock{now: t0}
	n := &fakeNotifier{}
	p := &fakePublisher{}
	base := []Option{WithClock(clock.Now), WithNotifier(n), WithPublisher(p)}
	return NewManager(append(base, opts...)...), clock, n, p
}

func TestManager_CreateAppliesTemplate(t *testing.T) {
	m, _, n, p := newTestManager(t)

	a, err := m.Create(context.Background(), NewAlert{Severity: models.SeverityHigh, Location: "North Wall"})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "HIGH RISK ALERT - North Wall", a.Title)
	assert.Equal(t, "Increase monitoring and prepare for potential evacuation of North Wall", a.Action)
	assert.Equal(t, models.StatusActive, a.Status)
	assert.Equal(t, 0, a.EscalationLevel)
	assert.Equal(t, t0, a.Timestamp)
	assert.Equal(t, t0.Add(15*time.Minute), a.EscalationDeadline)
	assert.Equal(t, "System", a.Source)
	assert.Len(t, a.Notifications, 1)
	assert.Equal(t, []notifyCall{{severity: models.SeverityHigh}}, n.calls)
	assert.Equal(t, []models.EventType{models.EventCreated}, p.events)
}

func TestManager_CreateKeepsCallerFields(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ts := t0.Add(-time.Hour)

	a, err := m.Create(context.Background(), NewAlert{
		Title:     "Custom",
		Severity:  models.SeverityLow,
		Location:  "Bench 4",
		Action:    "Walk the bench",
		Source:    "Sensor",
		Timestamp: ts,
	})
	require.NoError(t, err)
	assert.Equal(t, "Custom", a.Title)
	assert.Equal(t, "Walk the bench", a.Action)
	assert.Equal(t, "Sensor", a.Source)
	assert.Equal(t, ts, a.Timestamp)
	// deadline runs from creation, not from the reading time
	assert.Equal(t, t0.Add(time.Hour), a.EscalationDeadline)
}

func TestManager_CreateRejectsBadInput(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.Create(context.Background(), NewAlert{Severity: "Extreme", Location: "Pit"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = m.Create(context.Background(), NewAlert{Severity: models.SeverityLow, Location: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = m.Create(context.Background(), NewAlert{
		Title:    "HIGH RISK ALERT - Pit 3\r\nBcc: someone@example.com",
		Severity: models.SeverityHigh,
		Location: "Pit 3",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = m.Create(context.Background(), NewAlert{Severity: models.SeverityHigh, Location: "Pit 3\nBcc: someone@example.com"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	assert.Empty(t, m.Active())
}

func TestManager_EscalateHighToCritical(t *testing.T) {
	m, clock, n, _ := newTestManager(t)
	a, err := m.Create(context.Background(), NewAlert{Severity: models.SeverityHigh, Location: "North Wall"})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	esc, err := m.Escalate(context.Background(), a.ID, "")
	require.NoError(t, err)

	assert.Equal(t, models.SeverityCritical, esc.Severity)
	assert.Equal(t, 1, esc.EscalationLevel)
	assert.Equal(t, t0.Add(2*time.Minute+5*time.Minute), esc.EscalationDeadline)
	assert.Equal(t, "IMMEDIATE EVACUATION REQUIRED - Clear all personnel from North Wall", esc.Action)
	assert.Len(t, esc.Notifications, 2)
	assert.True(t, esc.Notifications[1].Escalated)
	assert.Equal(t, notifyCall{severity: models.SeverityCritical, escalated: true}, n.calls[1])
}

func TestManager_EscalateCapsAtLevelThree(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	a, err := m.Create(context.Background(), NewAlert{Severity: models.SeverityLow, Location: "Haul Road"})
	require.NoError(t, err)

	want := []models.Severity{models.SeverityMedium, models.SeverityHigh, models.SeverityCritical}
	for i, sev := range want {
		esc, err := m.Escalate(context.Background(), a.ID, "")
		require.NoError(t, err)
		assert.Equal(t, sev, esc.Severity)
		assert.Equal(t, i+1, esc.EscalationLevel)
	}

	_, err = m.Escalate(context.Background(), a.ID, "")
	assert.ErrorIs(t, err, apperr.ErrEscalationLimit)

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaxEscalationLevel, got.EscalationLevel)
	assert.Equal(t, models.SeverityCritical, got.Severity)
}

func TestManager_CriticalStaysCriticalOnEscalation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	a, err := m.Create(context.Background(), NewAlert{Severity: models.SeverityCritical, Location: "Pit 2"})
	require.NoError(t, err)

	esc, err := m.Escalate(context.Background(), a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, esc.Severity)
	assert.Equal(t, 1, esc.EscalationLevel)
}

func TestManager_AcknowledgeAndResolve(t *testing.T) {
	m, clock, _, p := newTestManager(t)
	a, err := m.Create(context.Background(), NewAlert{Severity: models.SeverityMedium, Location: "East Face"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	ack, err := m.Acknowledge(context.Background(), a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, ack.Status)
	assert.Equal(t, DefaultActor, ack.AcknowledgedBy)
	require.NotNil(t, ack.AcknowledgedAt)
	assert.Equal(t, t0.Add(time.Minute), *ack.AcknowledgedAt)

	_, err = m.Acknowledge(context.Background(), a.ID, "shift lead")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	clock.Advance(time.Hour)
	res, err := m.Resolve(context.Background(), a.ID, "geotech", "scaled loose rock")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, res.Status)
	assert.Equal(t, "geotech", res.ResolvedBy)
	assert.Equal(t, "scaled loose rock", res.ResolutionNotes)

	assert.Empty(t, m.Active())
	hist := m.History(HistoryFilter{})
	require.Len(t, hist, 1)
	assert.Equal(t, a.ID, hist[0].ID)

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)

	for _, op := range []func() error{
		func() error { _, err := m.Acknowledge(context.Background(), a.ID, ""); return err },
		func() error { _, err := m.Escalate(context.Background(), a.ID, ""); return err },
		func() error { _, err := m.Resolve(context.Background(), a.ID, "", ""); return err },
	} {
		assert.ErrorIs(t, op(), apperr.ErrInvalidTransition)
	}

	assert.Equal(t, []models.EventType{
		models.EventCreated, models.EventAcknowledged, models.EventResolved,
	}, p.events)
}

func TestManager_UnknownAlert(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, apperr.ErrAlertNotFound)
	_, err = m.Acknowledge(context.Background(), "missing", "")
	assert.ErrorIs(t, err, apperr.ErrAlertNotFound)
	_, err = m.Escalate(context.Background(), "missing", "")
	assert.ErrorIs(t, err, apperr.ErrAlertNotFound)
	_, err = m.Resolve(context.Background(), "missing", "", "")
	assert.ErrorIs(t, err, apperr.ErrAlertNotFound)
}

func TestManager_EscalateAcknowledgedAlert(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	a, err := m.Create(context.Background(), NewAlert{Severity: models.SeverityLow, Location: "Bench 1"})
	require.NoError(t, err)
	_, err = m.Acknowledge(context.Background(), a.ID, "")
	require.NoError(t, err)

	esc, err := m.Escalate(context.Background(), a.ID, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, esc.Status)
	assert.Equal(t, models.SeverityMedium, esc.Severity)
}

func TestManager_ActiveOrdering(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	low, _ := m.Create(ctx, NewAlert{Severity: models.SeverityLow, Location: "A"})
	clock.Advance(time.Minute)
	critOld, _ := m.Create(ctx, NewAlert{Severity: models.SeverityCritical, Location: "B"})
	clock.Advance(time.Minute)
	high, _ := m.Create(ctx, NewAlert{Severity: models.SeverityHigh, Location: "C"})
	clock.Advance(time.Minute)
	critNew, _ := m.Create(ctx, NewAlert{Severity: models.SeverityCritical, Location: "D"})

	active := m.Active()
	ids := make([]string, len(active))
	for i, a := range active {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{critNew.ID, critOld.ID, high.ID, low.ID}, ids)
}

func TestManager_SweepEscalations(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	crit, _ := m.Create(ctx, NewAlert{Severity: models.SeverityCritical, Location: "A"})
	high, _ := m.Create(ctx, NewAlert{Severity: models.SeverityHigh, Location: "B"})
	acked, _ := m.Create(ctx, NewAlert{Severity: models.SeverityCritical, Location: "C"})
	_, err := m.Acknowledge(ctx, acked.ID, "")
	require.NoError(t, err)

	// deadline must be strictly passed
	clock.Advance(5 * time.Minute)
	got, err := m.SweepEscalations(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	clock.Advance(time.Second)
	got, err = m.SweepEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{crit.ID}, got)

	escalated, _ := m.Get(crit.ID)
	assert.Equal(t, 1, escalated.EscalationLevel)
	assert.Equal(t, clock.Now().Add(5*time.Minute), escalated.EscalationDeadline)

	untouched, _ := m.Get(high.ID)
	assert.Equal(t, 0, untouched.EscalationLevel)

	// keep sweeping until the cap is reached
	for range 5 {
		clock.Advance(16 * time.Minute)
		_, err := m.SweepEscalations(ctx)
		require.NoError(t, err)
	}
	for _, id := range []string{crit.ID, high.ID} {
		a, _ := m.Get(id)
		assert.Equal(t, models.MaxEscalationLevel, a.EscalationLevel)
		assert.Equal(t, models.SeverityCritical, a.Severity)
	}
	ack, _ := m.Get(acked.ID)
	assert.Equal(t, 0, ack.EscalationLevel)
}

func TestManager_SweepHonoursCancelledContext(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	_, err := m.Create(context.Background(), NewAlert{Severity: models.SeverityCritical, Location: "A"})
	require.NoError(t, err)
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := m.SweepEscalations(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, got)
}

func TestManager_History(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for _, sev := range []models.Severity{models.SeverityLow, models.SeverityHigh, models.SeverityLow} {
		a, err := m.Create(ctx, NewAlert{Severity: sev, Location: "Pit"})
		require.NoError(t, err)
		_, err = m.Resolve(ctx, a.ID, "", "")
		require.NoError(t, err)
		ids = append(ids, a.ID)
		clock.Advance(24 * time.Hour)
	}

	all := m.History(HistoryFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)

	lows := m.History(HistoryFilter{Severities: []models.Severity{models.SeverityLow}})
	assert.Len(t, lows, 2)

	from := t0.Add(12 * time.Hour)
	to := t0.Add(36 * time.Hour)
	window := m.History(HistoryFilter{From: &from, To: &to})
	require.Len(t, window, 1)
	assert.Equal(t, ids[1], window[0].ID)

	assert.Empty(t, m.History(HistoryFilter{Status: models.StatusActive}))
}

func TestManager_PersistsAndRestores(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	m, clock, _, _ := newTestManager(t, WithRepository(db))
	ctx := context.Background()

	open, err := m.Create(ctx, NewAlert{Severity: models.SeverityHigh, Location: "North Wall"})
	require.NoError(t, err)
	closed, err := m.Create(ctx, NewAlert{Severity: models.SeverityLow, Location: "Bench 2"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = m.Escalate(ctx, open.ID, "")
	require.NoError(t, err)
	_, err = m.Resolve(ctx, closed.ID, "", "done")
	require.NoError(t, err)

	stored, err := db.GetAlert(ctx, open.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.SeverityCritical, stored.Severity)
	assert.Equal(t, 1, stored.EscalationLevel)
	assert.Len(t, stored.Notifications, 2)

	restored := NewManager(WithRepository(db), WithClock(clock.Now))
	require.NoError(t, restored.Restore(ctx))

	active := restored.Active()
	require.Len(t, active, 1)
	assert.Equal(t, open.ID, active[0].ID)

	hist := restored.History(HistoryFilter{})
	require.Len(t, hist, 1)
	assert.Equal(t, closed.ID, hist[0].ID)
	assert.Equal(t, "done", hist[0].ResolutionNotes)
}

func TestManager_ReturnsCopies(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	a, err := m.Create(context.Background(), NewAlert{Severity: models.SeverityHigh, Location: "Pit"})
	require.NoError(t, err)

	a.Severity = models.SeverityLow
	a.Notifications[0].Status = models.NotificationFailed

	got, _ := m.Get(a.ID)
	assert.Equal(t, models.SeverityHigh, got.Severity)
	assert.Equal(t, models.NotificationSent, got.Notifications[0].Status)
}

func TestEscalationDelay(t *testing.T) {
	assert.Equal(t, 5*time.Minute, EscalationDelay(models.SeverityCritical))
	assert.Equal(t, 15*time.Minute, EscalationDelay(models.SeverityHigh))
	assert.Equal(t, 30*time.Minute, EscalationDelay(models.SeverityMedium))
	assert.Equal(t, 60*time.Minute, EscalationDelay(models.SeverityLow))
	assert.Equal(t, 30*time.Minute, EscalationDelay("unknown"))
}

// gatedRepo holds the first save of an alert in the gated status until released.
type gatedRepo struct {
	repository.AlertRepository
	gate    models.Status
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepo) SaveAlert(ctx context.Context, a *models.Alert) error {
	if a.Status == r.gate {
		held := false
		r.once.Do(func() { held = true })
		if held {
			close(r.entered)
			<-r.release
		}
	}
	return r.AlertRepository.SaveAlert(ctx, a)
}

func TestManager_SlowWriteDoesNotOverwriteNewerState(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	repo := &gatedRepo{
		AlertRepository: db,
		gate:            models.StatusAcknowledged,
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	m, _, _, _ := newTestManager(t, WithRepository(repo))
	ctx := context.Background()

	a, err := m.Create(ctx, NewAlert{Severity: models.SeverityHigh, Location: "North Wall"})
	require.NoError(t, err)

	ackDone := make(chan error, 1)
	go func() {
		_, err := m.Acknowledge(ctx, a.ID, "shift boss")
		ackDone <- err
	}()
	<-repo.entered

	resolveDone := make(chan error, 1)
	go func() {
		_, err := m.Resolve(ctx, a.ID, "geotech", "slope stable")
		resolveDone <- err
	}()
	require.Eventually(t, func() bool {
		got, err := m.Get(a.ID)
		return err == nil && got.Status == models.StatusResolved
	}, time.Second, 5*time.Millisecond)

	close(repo.release)
	require.NoError(t, <-ackDone)
	require.NoError(t, <-resolveDone)

	stored, err := db.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, stored.Status)

	restored := NewManager(WithRepository(db))
	require.NoError(t, restored.Restore(ctx))
	assert.Empty(t, restored.Active())
	assert.Len(t, restored.History(HistoryFilter{}), 1)
}

// blockingNotifier parks escalated fan-outs until released.
type blockingNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func (n *blockingNotifier) Notify(_ context.Context, _ *models.Alert, escalated bool) []models.Notification {
	if escalated {
		close(n.entered)
		<-n.release
	}
	return []models.Notification{{Channel: models.ChannelSMS, Status: models.NotificationLogged, Escalated: escalated}}
}

func TestManager_EscalationResolvedInFlightPublishesNoEscalation(t *testing.T) {
	n := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	p := &fakePublisher{}
	m := NewManager(WithClock((&fakeClock{now: t0}).Now), WithNotifier(n), WithPublisher(p))
	ctx := context.Background()

	a, err := m.Create(ctx, NewAlert{Severity: models.SeverityHigh, Location: "Haul Road"})
	require.NoError(t, err)

	escalated := make(chan *models.Alert, 1)
	go func() {
		got, err := m.Escalate(ctx, a.ID, "")
		assert.NoError(t, err)
		escalated <- got
	}()
	<-n.entered

	_, err = m.Resolve(ctx, a.ID, "", "cleared")
	require.NoError(t, err)
	close(n.release)

	got := <-escalated
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Len(t, got.Notifications, 2)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []models.EventType{models.EventCreated, models.EventResolved}, p.events)
}

func TestManager_PurgeBefore(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	m, clock, _, _ := newTestManager(t, WithRepository(db))
	ctx := context.Background()

	old, err := m.Create(ctx, NewAlert{Severity: models.SeverityMedium, Location: "Bench 1"})
	require.NoError(t, err)
	_, err = m.Resolve(ctx, old.ID, "", "")
	require.NoError(t, err)

	clock.Advance(100 * 24 * time.Hour)
	recent, err := m.Create(ctx, NewAlert{Severity: models.SeverityMedium, Location: "Bench 2"})
	require.NoError(t, err)
	_, err = m.Resolve(ctx, recent.ID, "", "")
	require.NoError(t, err)
	open, err := m.Create(ctx, NewAlert{Severity: models.SeverityHigh, Location: "Bench 3"})
	require.NoError(t, err)

	res, err := m.PurgeBefore(ctx, clock.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Alerts)

	hist := m.History(HistoryFilter{})
	require.Len(t, hist, 1)
	assert.Equal(t, recent.ID, hist[0].ID)
	assert.Len(t, m.Active(), 1)

	stored, err := db.GetAlert(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
	stored, err = db.GetAlert(ctx, open.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestManager_PurgeBeforeWithoutStore(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, NewAlert{Severity: models.SeverityLow, Location: "Ramp"})
	require.NoError(t, err)
	_, err = m.Resolve(ctx, a.ID, "", "")
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	res, err := m.PurgeBefore(ctx, clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Alerts)
	assert.Empty(t, m.History(HistoryFilter{}))
}
