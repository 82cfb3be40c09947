// Package notify fans alert notifications out over delivery channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

// Message is the rendered content of one alert notification.
type Message struct {
	AlertID   string
	Severity  models.Severity
	Subject   string
	Body      string
	Escalated bool
}

func NewMessage(a *models.Alert, escalated bool) Message {
	subject := a.Title
	if escalated {
		subject = "[ESCALATED] " + subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Severity: %s (escalation level %d)\n", a.Severity, a.EscalationLevel)
	fmt.Fprintf(&b, "Location: %s\n", a.Location)
	if a.Coordinates != nil {
		fmt.Fprintf(&b, "Coordinates: %.6f, %.6f\n", a.Coordinates.Latitude, a.Coordinates.Longitude)
	}
	if a.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", a.Description)
	}
	fmt.Fprintf(&b, "\nAction: %s\n", a.Action)
	fmt.Fprintf(&b, "Respond by: %s\n", a.EscalationDeadline.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Alert ID: %s\n", a.ID)

	return Message{
		AlertID:   a.ID,
		Severity:  a.Severity,
		Subject:   subject,
		Body:      b.String(),
		Escalated: escalated,
	}
}

// Text renders the message as a single plain-text block.
func (m Message) Text() string {
	return m.Subject + "\n\n" + m.Body
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// runWithContext runs a blocking send and gives up when ctx ends. The send keeps
// running in the background until the transport returns.
func runWithContext(ctx context.Context, send func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- send()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogNotifier writes notifications to the structured log. It stands in for
// channels that have no delivery transport.
type LogNotifier struct {
	Channel models.Channel
}

func (l LogNotifier) Send(ctx context.Context, msg Message) error {
	slog.Info("alert notification",
		"channel", l.Channel,
		"alert_id", msg.AlertID,
		"severity", msg.Severity,
		"escalated", msg.Escalated,
		"subject", msg.Subject,
	)
	return nil
}
