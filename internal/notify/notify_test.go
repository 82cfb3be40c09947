package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func testAlert(sev models.Severity) *models.Alert {
	return &models.Alert{
		ID:                 "alert-1",
		Title:              "HIGH RISK ALERT - Zone B-7",
		Severity:           sev,
		Location:           "Zone B-7, East Slope",
		Description:        "Pore pressure approaching threshold",
		Action:             "Enhanced monitoring required for Zone B-7, East Slope",
		EscalationDeadline: time.Date(2026, 10, 1, 12, 15, 0, 0, time.UTC),
	}
}

func TestChannelsFor(t *testing.T) {
	assert.Equal(t, []models.Channel{models.ChannelEmail}, ChannelsFor(models.SeverityLow, false))
	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelRadio}, ChannelsFor(models.SeverityMedium, false))
	assert.Len(t, ChannelsFor(models.SeverityCritical, false), 6)

	escalated := ChannelsFor(models.SeverityMedium, true)
	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelRadio, models.ChannelSMS, models.ChannelTelegram}, escalated)
}

func TestChannelsFor_NoDuplicates(t *testing.T) {
	for _, sev := range models.Severities {
		for _, escalated := range []bool{false, true} {
			seen := map[models.Channel]bool{}
			for _, ch := range ChannelsFor(sev, escalated) {
				require.False(t, seen[ch], "duplicate %s for %s escalated=%v", ch, sev, escalated)
				seen[ch] = true
			}
		}
	}
}

func TestDispatcher_Notify(t *testing.T) {
	email := &recordingNotifier{}
	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	d := NewDispatcher(WithNotifier(models.ChannelEmail, email), WithClock(func() time.Time { return fixed }))

	results := d.Notify(context.Background(), testAlert(models.SeverityMedium), false)

	require.Len(t, results, 2)
	assert.Equal(t, models.ChannelEmail, results[0].Channel)
	assert.Equal(t, models.NotificationSent, results[0].Status)
	assert.Equal(t, fixed, results[0].SentAt)
	assert.Equal(t, models.ChannelRadio, results[1].Channel)
	assert.Equal(t, models.NotificationLogged, results[1].Status)
	assert.Equal(t, 1, email.count())
}

func TestDispatcher_FailureIsRecorded(t *testing.T) {
	email := &recordingNotifier{err: errors.New("connection refused")}
	d := NewDispatcher(WithNotifier(models.ChannelEmail, email))

	results := d.Notify(context.Background(), testAlert(models.SeverityLow), true)

	var emailResult models.Notification
	for _, r := range results {
		assert.True(t, r.Escalated)
		if r.Channel == models.ChannelEmail {
			emailResult = r
		}
	}
	assert.Equal(t, models.NotificationFailed, emailResult.Status)
	assert.Contains(t, emailResult.Error, "connection refused")
}

func TestDispatcher_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	email := &recordingNotifier{err: errors.New("smtp down")}
	d := NewDispatcher(WithNotifier(models.ChannelEmail, email))
	alert := testAlert(models.SeverityLow)

	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), alert, false)
	}

	// three consecutive failures trip the breaker; later sends short-circuit
	assert.Equal(t, 3, email.count())
}

func TestNewMessage(t *testing.T) {
	a := testAlert(models.SeverityHigh)
	a.Coordinates = &models.Coordinates{Latitude: -23.5, Longitude: 119.7}

	msg := NewMessage(a, true)
	assert.Equal(t, "[ESCALATED] HIGH RISK ALERT - Zone B-7", msg.Subject)
	assert.Contains(t, msg.Body, "Location: Zone B-7, East Slope")
	assert.Contains(t, msg.Body, "Coordinates: -23.500000, 119.700000")
	assert.Contains(t, msg.Text(), "Alert ID: alert-1")
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier_Send(t *testing.T) {
	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot, chatID: 42}

	err := n.Send(context.Background(), NewMessage(testAlert(models.SeverityHigh), false))
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)

	cfg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), cfg.ChatID)
	assert.Contains(t, cfg.Text, "HIGH RISK ALERT")
}

func TestTelegramNotifier_CancelledContext(t *testing.T) {
	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot, chatID: 42}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, n.Send(ctx, Message{}))
	assert.Empty(t, bot.sent)
}

func TestEmailNotifier_Send(t *testing.T) {
	n := NewEmailNotifier("smtp.mine.local:587", "alerts", "secret", "alerts@mine.local", []string{"shift@mine.local", "geotech@mine.local"})

	var (
		gotAddr string
		gotAuth sasl.Client
		gotTo   []string
		gotBody string
	)
	n.sendMail = func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		gotAddr, gotAuth, gotTo = addr, a, to
		b, err := io.ReadAll(r)
		gotBody = string(b)
		return err
	}

	err := n.Send(context.Background(), NewMessage(testAlert(models.SeverityHigh), true))
	require.NoError(t, err)

	assert.Equal(t, "smtp.mine.local:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Len(t, gotTo, 2)
	assert.True(t, strings.HasPrefix(gotBody, "From: alerts@mine.local\r\n"))
	assert.Contains(t, gotBody, "Subject: [ESCALATED] HIGH RISK ALERT - Zone B-7\r\n")
	assert.Contains(t, gotBody, "\r\n\r\nSeverity: High")
}

func TestEmailNotifier_NoRecipients(t *testing.T) {
	n := NewEmailNotifier("localhost:25", "", "", "alerts@mine.local", nil)
	assert.Error(t, n.Send(context.Background(), Message{}))
}

func TestEmailNotifier_SubjectCannotInjectHeaders(t *testing.T) {
	n := NewEmailNotifier("localhost:25", "", "", "alerts@mine.local", []string{"shift@mine.local"})

	a := testAlert(models.SeverityHigh)
	a.Title = "HIGH RISK ALERT - Pit 3\r\nBcc: someone@example.com"
	body := n.render(NewMessage(a, false), time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))

	headers, _, found := strings.Cut(body, "\r\n\r\n")
	require.True(t, found)
	for _, line := range strings.Split(headers, "\r\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), "unexpected header line %q", line)
	}
	assert.Contains(t, headers, "Subject: HIGH RISK ALERT - Pit 3 Bcc: someone@example.com\r\n")
}

func TestEmailNotifier_NonASCIISubjectIsEncoded(t *testing.T) {
	n := NewEmailNotifier("localhost:25", "", "", "alerts@mine.local", []string{"shift@mine.local"})

	a := testAlert(models.SeverityHigh)
	a.Title = "HIGH RISK ALERT - Pared Norte Ñ"
	body := n.render(NewMessage(a, false), time.Now())

	assert.Contains(t, body, "Subject: =?utf-8?q?")
}

func TestDispatcher_SendTimeoutBoundsHungTransport(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	en := NewEmailNotifier("smtp.mine.local:587", "", "", "alerts@mine.local", []string{"shift@mine.local"})
	en.sendMail = func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		<-release
		return nil
	}
	d := NewDispatcher(WithNotifier(models.ChannelEmail, en), WithSendTimeout(50*time.Millisecond))

	start := time.Now()
	records := d.Notify(context.Background(), testAlert(models.SeverityLow), false)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	require.Len(t, records, 1)
	assert.Equal(t, models.NotificationFailed, records[0].Status)
	assert.Contains(t, records[0].Error, context.DeadlineExceeded.Error())
}

type hungNotifier struct {
	release chan struct{}
}

func (h hungNotifier) Send(ctx context.Context, msg Message) error {
	<-h.release
	return nil
}

func TestDispatcher_SendTimeoutAppliesToAnyNotifier(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	d := NewDispatcher(WithNotifier(models.ChannelEmail, hungNotifier{release: release}), WithSendTimeout(20*time.Millisecond))

	records := d.Notify(context.Background(), testAlert(models.SeverityLow), false)
	require.Len(t, records, 1)
	assert.Equal(t, models.NotificationFailed, records[0].Status)
}
