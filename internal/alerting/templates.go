package alerting

import (
	"strings"
	"time"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

type template struct {
	titlePrefix     string
	action          string
	escalationDelay time.Duration
}

var templates = map[models.Severity]template{
	models.SeverityCritical: {
		titlePrefix:     "CRITICAL ALERT",
		action:          "IMMEDIATE EVACUATION REQUIRED - Clear all personnel from {location}",
		escalationDelay: 5 * time.Minute,
	},
	models.SeverityHigh: {
		titlePrefix:     "HIGH RISK ALERT",
		action:          "Increase monitoring and prepare for potential evacuation of {location}",
		escalationDelay: 15 * time.Minute,
	},
	models.SeverityMedium: {
		titlePrefix:     "MEDIUM RISK ALERT",
		action:          "Enhanced monitoring required for {location}",
		escalationDelay: 30 * time.Minute,
	},
	models.SeverityLow: {
		titlePrefix:     "LOW RISK ALERT",
		action:          "Continue routine monitoring of {location}",
		escalationDelay: 60 * time.Minute,
	},
}

func templateFor(sev models.Severity) template {
	if t, ok := templates[sev]; ok {
		return t
	}
	return templates[models.SeverityMedium]
}

func (t template) title(location string) string {
	return t.titlePrefix + " - " + location
}

func (t template) actionFor(location string) string {
	return strings.ReplaceAll(t.action, "{location}", location)
}

// EscalationDelay returns how long an alert of the given severity may stay
// unacknowledged before it is escalated automatically.
func EscalationDelay(sev models.Severity) time.Duration {
	return templateFor(sev).escalationDelay
}
