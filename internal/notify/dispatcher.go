package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

const defaultSendTimeout = 10 * time.Second

type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[models.Channel]Notifier
	breakers  map[models.Channel]*gobreaker.CircuitBreaker
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*Dispatcher)

func WithNotifier(ch models.Channel, n Notifier) Option {
	return func(d *Dispatcher) {
		d.register(ch, n)
	}
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifiers: make(map[models.Channel]Notifier),
		breakers:  make(map[models.Channel]*gobreaker.CircuitBreaker),
		timeout:   defaultSendTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) register(ch models.Channel, n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.notifiers[ch] = n
	d.breakers[ch] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(ch),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("notification channel breaker changed state", "channel", name, "from", from.String(), "to", to.String())
		},
	})
}

// Notify sends the alert on every channel its severity calls for, concurrently,
// and returns one record per channel. Delivery failures are recorded and logged
// but never returned.
func (d *Dispatcher) Notify(ctx context.Context, a *models.Alert, escalated bool) []models.Notification {
	channels := ChannelsFor(a.Severity, escalated)
	msg := NewMessage(a, escalated)
	results := make([]models.Notification, len(channels))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs *multierror.Error
	)
	for i, ch := range channels {
		g.Go(func() error {
			results[i] = d.send(ctx, ch, msg)
			if results[i].Status == models.NotificationFailed {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %s", ch, results[i].Error))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		slog.Warn("notification fan-out incomplete", "alert_id", a.ID, "error", err)
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, ch models.Channel, msg Message) models.Notification {
	d.mu.RLock()
	n, ok := d.notifiers[ch]
	cb := d.breakers[ch]
	d.mu.RUnlock()

	record := models.Notification{
		Channel:   ch,
		Escalated: msg.Escalated,
	}

	if !ok {
		_ = LogNotifier{Channel: ch}.Send(ctx, msg)
		record.Status = models.NotificationLogged
		record.SentAt = d.now()
		return record
	}

	_, err := cb.Execute(func() (interface{}, error) {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		return nil, runWithContext(sendCtx, func() error {
			return n.Send(sendCtx, msg)
		})
	})
	record.SentAt = d.now()
	if err != nil {
		record.Status = models.NotificationFailed
		record.Error = err.Error()
		return record
	}
	record.Status = models.NotificationSent
	return record
}
