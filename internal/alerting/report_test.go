package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

func TestManager_StatisticsEmpty(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	stats := m.Statistics(30)
	assert.Equal(t, 0, stats.TotalAlerts)
	assert.Empty(t, stats.BySeverity)
	assert.Zero(t, stats.AvgResolutionTimeHours)
	assert.Zero(t, stats.EscalationRatePercent)

	report := m.Report(7)
	assert.Equal(t, "Last 7 days", report.Period)
	assert.Equal(t, []string{"Alert system operating within normal parameters"}, report.Recommendations)
}

func TestManager_Statistics(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, NewAlert{Severity: models.SeverityHigh, Location: "North Wall"})
	require.NoError(t, err)
	b, err := m.Create(ctx, NewAlert{Severity: models.SeverityLow, Location: "Bench 3"})
	require.NoError(t, err)
	_, err = m.Create(ctx, NewAlert{Severity: models.SeverityLow, Location: "Bench 3"})
	require.NoError(t, err)
	_, err = m.Create(ctx, NewAlert{
		Severity:  models.SeverityLow,
		Location:  "Old Pit",
		Timestamp: t0.AddDate(0, 0, -40),
	})
	require.NoError(t, err)

	_, err = m.Escalate(ctx, a.ID, "")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = m.Resolve(ctx, b.ID, "", "")
	require.NoError(t, err)

	stats := m.Statistics(30)
	assert.Equal(t, 3, stats.TotalAlerts)
	assert.Equal(t, 1, stats.BySeverity[models.SeverityCritical])
	assert.Equal(t, 2, stats.BySeverity[models.SeverityLow])
	assert.Equal(t, 2, stats.ByStatus[models.StatusActive])
	assert.Equal(t, 1, stats.ByStatus[models.StatusResolved])
	assert.InDelta(t, 2.0, stats.AvgResolutionTimeHours, 1e-9)
	assert.InDelta(t, 100.0/3, stats.EscalationRatePercent, 1e-9)

	assert.Equal(t, 4, m.Statistics(60).TotalAlerts)
}

func TestManager_ReportRecommendations(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 7; i++ {
		loc := "West Ramp"
		if i%2 == 1 {
			loc = "Crusher Face"
		}
		a, err := m.Create(ctx, NewAlert{Severity: models.SeverityCritical, Location: loc})
		require.NoError(t, err)
		ids = append(ids, a.ID)
		clock.Advance(time.Second)
	}
	for _, id := range ids[:4] {
		_, err := m.Escalate(ctx, id, "")
		require.NoError(t, err)
	}
	clock.Advance(10 * time.Hour)
	_, err := m.Resolve(ctx, ids[0], "", "")
	require.NoError(t, err)

	report := m.Report(7)
	assert.Len(t, report.Alerts, 7)
	assert.Equal(t, clock.Now(), report.GeneratedAt)
	assert.Equal(t, []string{
		"Review alert response procedures - high escalation rate indicates delayed responses",
		"Implement faster response protocols - average resolution time exceeds 8 hours",
		"Increase preventive maintenance - multiple critical alerts indicate systemic issues",
		"Focus on high-risk areas: West Ramp, Crusher Face - recurring alerts detected",
	}, report.Recommendations)
}

func TestRecommendations_HighFrequency(t *testing.T) {
	alerts := make([]models.Alert, 21)
	for i := range alerts {
		alerts[i] = models.Alert{Severity: models.SeverityLow, Status: models.StatusActive, Location: string(rune('A' + i))}
	}
	recs := recommendations(computeStatistics(alerts), alerts)
	assert.Equal(t, []string{"Consider reviewing sensor thresholds - high alert frequency detected"}, recs)
}
