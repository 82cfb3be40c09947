// Package fusion combines independently produced sensor and drone risk
// estimates into a single assessment.
package fusion

import (
	"math"
	"time"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

// Level cut points on the [0,1] scale.
const (
	CriticalThreshold = 0.85
	HighThreshold     = 0.7
	MediumThreshold   = 0.3
)

// Weights are the base contributions of each source before confidence reweighting.
type Weights struct {
	Sensor float64
	Drone  float64
}

func DefaultWeights() Weights {
	return Weights{Sensor: 0.6, Drone: 0.4}
}

// Normalize scales w so that Sensor+Drone == 1. Non-positive input yields an even split.
func (w Weights) Normalize() Weights {
	s, d := math.Max(w.Sensor, 0), math.Max(w.Drone, 0)
	total := s + d
	if total == 0 {
		return Weights{Sensor: 0.5, Drone: 0.5}
	}
	return Weights{Sensor: s / total, Drone: d / total}
}

// Fuse blends a sensor and a drone estimate. Each side is weighted by its base
// weight times its confidence, renormalized so the weights sum to 1.
func Fuse(sensor, drone models.RiskEstimate, w Weights) models.RiskAssessment {
	s, d := sensor.Normalized(), drone.Normalized()
	cs, cd := models.Clamp01(sensor.Confidence), models.Clamp01(drone.Confidence)

	base := w.Normalize()
	effective := Weights{Sensor: base.Sensor * cs, Drone: base.Drone * cd}
	if effective.Sensor+effective.Drone == 0 {
		effective = base
	}
	effective = effective.Normalize()

	score := models.Clamp01(effective.Sensor*s + effective.Drone*d)
	// guard against float drift pushing the blend outside the inputs
	score = math.Min(math.Max(score, math.Min(s, d)), math.Max(s, d))

	return models.RiskAssessment{
		Location:     sensor.Location,
		Score:        score,
		Level:        Classify(score),
		Confidence:   models.Clamp01(effective.Sensor*cs + effective.Drone*cd),
		SensorScore:  &s,
		DroneScore:   &d,
		SensorWeight: effective.Sensor,
		DroneWeight:  effective.Drone,
		Agreement:    Agreement(s, d),
		Sources:      2,
		AssessedAt:   latest(sensor.ObservedAt, drone.ObservedAt),
	}
}

// Single builds an assessment from one estimate when its counterpart is missing.
func Single(e models.RiskEstimate) models.RiskAssessment {
	score := e.Normalized()
	a := models.RiskAssessment{
		Location:   e.Location,
		Score:      score,
		Level:      Classify(score),
		Confidence: models.Clamp01(e.Confidence),
		Agreement:  1,
		Sources:    1,
		AssessedAt: e.ObservedAt,
	}
	if e.Source == models.SourceDrone {
		a.DroneScore = &score
		a.DroneWeight = 1
	} else {
		a.SensorScore = &score
		a.SensorWeight = 1
	}
	return a
}

// Agreement is 1 when both scores match and falls linearly with their distance.
func Agreement(a, b float64) float64 {
	return models.Clamp01(1 - math.Abs(models.Clamp01(a)-models.Clamp01(b)))
}

func Classify(p float64) models.RiskLevel {
	switch {
	case p >= CriticalThreshold:
		return models.RiskCritical
	case p >= HighThreshold:
		return models.RiskHigh
	case p >= MediumThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// SeverityFor maps a risk level onto the alert severity scale.
func SeverityFor(level models.RiskLevel) models.Severity {
	switch level {
	case models.RiskCritical:
		return models.SeverityCritical
	case models.RiskHigh:
		return models.SeverityHigh
	case models.RiskMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
