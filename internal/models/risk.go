package models

import (
	"fmt"
	"strings"
	"time"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type EstimateSource string

const (
	SourceSensor EstimateSource = "sensor"
	SourceDrone  EstimateSource = "drone"
)

func ParseEstimateSource(s string) (EstimateSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sensor":
		return SourceSensor, nil
	case "drone":
		return SourceDrone, nil
	default:
		return "", fmt.Errorf("unknown estimate source: %q", s)
	}
}

// RiskEstimate is one independently produced risk score for a location.
type RiskEstimate struct {
	Location   string         `json:"location"`
	Source     EstimateSource `json:"source"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Scale      float64        `json:"scale,omitempty"` // 1 (default) or 100 for drone percent scores
	Latitude   *float64       `json:"latitude,omitempty"`
	Longitude  *float64       `json:"longitude,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Normalized returns the score mapped into [0,1].
func (e RiskEstimate) Normalized() float64 {
	s := e.Score
	if e.Scale > 1 {
		s = s / e.Scale
	}
	return Clamp01(s)
}

func (e RiskEstimate) Coordinates() *Coordinates {
	if e.Latitude == nil || e.Longitude == nil {
		return nil
	}
	return &Coordinates{Latitude: *e.Latitude, Longitude: *e.Longitude}
}

// RiskAssessment is the fused view of a location's risk.
type RiskAssessment struct {
	ID           string    `json:"id"`
	Location     string    `json:"location"`
	Score        float64   `json:"score"`
	Level        RiskLevel `json:"level"`
	Confidence   float64   `json:"confidence"`
	SensorScore  *float64  `json:"sensor_score,omitempty"`
	DroneScore   *float64  `json:"drone_score,omitempty"`
	SensorWeight float64   `json:"sensor_weight"`
	DroneWeight  float64   `json:"drone_weight"`
	Agreement    float64   `json:"agreement"`
	Sources      int       `json:"sources"`
	AssessedAt   time.Time `json:"assessed_at"`
}

func Clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
