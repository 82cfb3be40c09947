package notify

import (
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-rockfall-alerts/internal/config"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

// FromConfig builds a dispatcher with a transport for every enabled channel.
// Channels without a transport are logged.
func FromConfig(cfg *config.Config) (*Dispatcher, error) {
	var opts []Option

	if cfg.Telegram.Enabled {
		tn, err := NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("error creating telegram notifier: %w", err)
		}
		opts = append(opts, WithNotifier(models.ChannelTelegram, tn))
	}

	if cfg.SMTP.Enabled {
		en := NewEmailNotifier(cfg.SMTP.Addr, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.To)
		opts = append(opts, WithNotifier(models.ChannelEmail, en))
	}

	slog.Info("notification channels configured", "telegram", cfg.Telegram.Enabled, "email", cfg.SMTP.Enabled)
	return NewDispatcher(opts...), nil
}
