package models

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank returns the position of s in the severity ordering, or -1 if s is unknown.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return -1
}

func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Next returns the severity one step above s. Critical stays Critical.
func (s Severity) Next() Severity {
	r := s.Rank()
	if r < 0 || r >= len(Severities)-1 {
		return s
	}
	return Severities[r+1]
}

func ParseSeverity(s string) (Severity, error) {
	for _, v := range Severities {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown severity: %q", s)
}

type Status string

const (
	StatusActive       Status = "Active"
	StatusAcknowledged Status = "Acknowledged"
	StatusResolved     Status = "Resolved"
)

func ParseStatus(s string) (Status, error) {
	for _, v := range []Status{StatusActive, StatusAcknowledged, StatusResolved} {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown status: %q", s)
}

type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelEmail    Channel = "Email"
	ChannelRadio    Channel = "Radio"
	ChannelSiren    Channel = "Siren"
	ChannelLoRaWAN  Channel = "LoRaWAN"
	ChannelTelegram Channel = "Telegram"
)

type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "Sent"
	NotificationLogged NotificationStatus = "Logged"
	NotificationFailed NotificationStatus = "Failed"
)

// Notification records one delivery attempt on one channel.
type Notification struct {
	Channel   Channel            `json:"channel"`
	Status    NotificationStatus `json:"status"`
	Escalated bool               `json:"escalated"`
	SentAt    time.Time          `json:"sent_at"`
	Error     string             `json:"error,omitempty"`
}

const MaxEscalationLevel = 3

type Alert struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Severity           Severity       `json:"severity"`
	Location           string         `json:"location"`
	Coordinates        *Coordinates   `json:"coordinates,omitempty"`
	Description        string         `json:"description"`
	Action             string         `json:"action"`
	Timestamp          time.Time      `json:"timestamp"`
	Status             Status         `json:"status"`
	Source             string         `json:"source"`
	AcknowledgedBy     string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt     *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedBy         string         `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNotes    string         `json:"resolution_notes,omitempty"`
	EscalationLevel    int            `json:"escalation_level"`
	EscalationDeadline time.Time      `json:"escalation_deadline"`
	Notifications      []Notification `json:"notifications_sent"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Clone returns a deep copy so callers can read an alert without holding its owner's lock.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.Coordinates != nil {
		coords := *a.Coordinates
		c.Coordinates = &coords
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	c.Notifications = append([]Notification(nil), a.Notifications...)
	return &c
}

type EventType string

const (
	EventCreated      EventType = "created"
	EventAcknowledged EventType = "acknowledged"
	EventEscalated    EventType = "escalated"
	EventResolved     EventType = "resolved"
)

// AlertEvent is published on every alert lifecycle change.
type AlertEvent struct {
	Type  EventType `json:"type"`
	Alert *Alert    `json:"alert"`
	At    time.Time `json:"at"`
}
