package alerting

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

type Statistics struct {
	TotalAlerts            int                     `json:"total_alerts"`
	BySeverity             map[models.Severity]int `json:"by_severity"`
	ByStatus               map[models.Status]int   `json:"by_status"`
	AvgResolutionTimeHours float64                 `json:"avg_resolution_time"`
	EscalationRatePercent  float64                 `json:"escalation_rate"`
}

type Report struct {
	Period          string         `json:"report_period"`
	GeneratedAt     time.Time      `json:"generated_at"`
	Summary         Statistics     `json:"summary"`
	Alerts          []models.Alert `json:"alerts"`
	Recommendations []string       `json:"recommendations"`
}

// Recommendation thresholds.
const (
	frequentAlertCount     = 20
	highEscalationRate     = 30.0
	slowResolutionHours    = 8.0
	manyCriticalAlerts     = 5
	patternMinAlerts       = 5
	recurringLocationCount = 2
)

// Statistics summarises every alert, active or resolved, raised in the last days.
func (m *Manager) Statistics(days int) Statistics {
	return computeStatistics(m.period(days))
}

func (m *Manager) Report(days int) Report {
	alerts := m.period(days)
	stats := computeStatistics(alerts)
	return Report{
		Period:          fmt.Sprintf("Last %d days", days),
		GeneratedAt:     m.now(),
		Summary:         stats,
		Alerts:          alerts,
		Recommendations: recommendations(stats, alerts),
	}
}

func (m *Manager) period(days int) []models.Alert {
	cutoff := m.now().AddDate(0, 0, -days)

	m.mu.Lock()
	out := make([]models.Alert, 0, len(m.history)+len(m.active))
	for _, a := range m.history {
		if a.Timestamp.After(cutoff) {
			out = append(out, *a.Clone())
		}
	}
	for _, a := range m.active {
		if a.Timestamp.After(cutoff) {
			out = append(out, *a.Clone())
		}
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b models.Alert) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

func computeStatistics(alerts []models.Alert) Statistics {
	stats := Statistics{
		TotalAlerts: len(alerts),
		BySeverity:  make(map[models.Severity]int),
		ByStatus:    make(map[models.Status]int),
	}
	if len(alerts) == 0 {
		return stats
	}

	var (
		escalated     int
		resolved      int
		resolvedHours float64
	)
	for _, a := range alerts {
		stats.BySeverity[a.Severity]++
		stats.ByStatus[a.Status]++
		if a.EscalationLevel > 0 {
			escalated++
		}
		if a.Status == models.StatusResolved && a.ResolvedAt != nil {
			resolved++
			resolvedHours += a.ResolvedAt.Sub(a.Timestamp).Hours()
		}
	}

	if resolved > 0 {
		stats.AvgResolutionTimeHours = resolvedHours / float64(resolved)
	}
	stats.EscalationRatePercent = float64(escalated) / float64(len(alerts)) * 100
	return stats
}

func recommendations(stats Statistics, alerts []models.Alert) []string {
	var recs []string

	if stats.TotalAlerts > frequentAlertCount {
		recs = append(recs, "Consider reviewing sensor thresholds - high alert frequency detected")
	}
	if stats.EscalationRatePercent > highEscalationRate {
		recs = append(recs, "Review alert response procedures - high escalation rate indicates delayed responses")
	}
	if stats.AvgResolutionTimeHours > slowResolutionHours {
		recs = append(recs, "Implement faster response protocols - average resolution time exceeds 8 hours")
	}
	if stats.BySeverity[models.SeverityCritical] > manyCriticalAlerts {
		recs = append(recs, "Increase preventive maintenance - multiple critical alerts indicate systemic issues")
	}

	if len(alerts) > patternMinAlerts {
		counts := make(map[string]int)
		var order []string
		for _, a := range alerts {
			if counts[a.Location] == 0 {
				order = append(order, a.Location)
			}
			counts[a.Location]++
		}
		var frequent []string
		for _, loc := range order {
			if counts[loc] > recurringLocationCount {
				frequent = append(frequent, loc)
			}
		}
		if len(frequent) > 0 {
			recs = append(recs, fmt.Sprintf("Focus on high-risk areas: %s - recurring alerts detected", strings.Join(frequent, ", ")))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, "Alert system operating within normal parameters")
	}
	return recs
}
