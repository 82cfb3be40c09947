package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Server     ServerConfig
	GRPC       GRPCConfig
	Worker     WorkerConfig
	DB         DatabaseConfig
	Logging    LoggingConfig
	Escalation EscalationConfig
	Retention  RetentionConfig
	Fusion     FusionConfig
	MQTT       MQTTConfig
	Telegram   TelegramConfig
	SMTP       SMTPConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// Source returns the connection string for the configured driver.
func (d DatabaseConfig) Source() string {
	if d.Driver == "postgres" {
		return d.DSN
	}
	return d.Path
}

type LoggingConfig struct {
	Level string
}

type EscalationConfig struct {
	SweepSchedule string
}

// RetentionConfig controls the purge of resolved alerts and old assessments.
// Days == 0 disables it.
type RetentionConfig struct {
	Days     int
	Schedule string
}

func (r RetentionConfig) Window() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

type FusionConfig struct {
	SensorWeight  float64
	DroneWeight   float64
	AlertCooldown time.Duration
	EstimateTTL   time.Duration
}

type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Topic    string
}

type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
}

type SMTPConfig struct {
	Enabled  bool
	Addr     string
	Username string
	Password string
	From     string
	To       []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 5),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		DB: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite"),
			Path:   getEnv("DB_PATH", "./data/rockfall-alerts.db"),
			DSN:    getEnv("DB_DSN", ""),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Escalation: EscalationConfig{
			SweepSchedule: getEnv("ESCALATION_SWEEP_SCHEDULE", "@every 30s"),
		},
		Retention: RetentionConfig{
			Days:     getEnvInt("RETENTION_DAYS", 90),
			Schedule: getEnv("RETENTION_SCHEDULE", "@daily"),
		},
		Fusion: FusionConfig{
			SensorWeight:  getEnvFloat("FUSION_SENSOR_WEIGHT", 0.6),
			DroneWeight:   getEnvFloat("FUSION_DRONE_WEIGHT", 0.4),
			AlertCooldown: getEnvDuration("ALERT_COOLDOWN", 15*time.Minute),
			EstimateTTL:   getEnvDuration("ESTIMATE_TTL", 10*time.Minute),
		},
		MQTT: MQTTConfig{
			Enabled:  getEnvBool("MQTT_ENABLED", false),
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "rockfall-alert"),
			Topic:    getEnv("MQTT_TOPIC", "rockfall/estimates/#"),
		},
		Telegram: TelegramConfig{
			Enabled: getEnvBool("TELEGRAM_ENABLED", false),
			Token:   getEnv("TELEGRAM_TOKEN", ""),
			ChatID:  getEnvInt64("TELEGRAM_CHAT_ID", 0),
		},
		SMTP: SMTPConfig{
			Enabled:  getEnvBool("SMTP_ENABLED", false),
			Addr:     getEnv("SMTP_ADDR", "localhost:587"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "rockfall-alerts@localhost"),
			To:       getEnvList("SMTP_TO"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Server.RateLimitRPS < 1 {
		return fmt.Errorf("rate limit must be at least 1 req/s")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.DB.Driver {
	case "sqlite":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("DB_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", c.DB.Driver)
	}

	if _, err := cron.ParseStandard(c.Escalation.SweepSchedule); err != nil {
		return fmt.Errorf("invalid escalation sweep schedule %q: %w", c.Escalation.SweepSchedule, err)
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention days must not be negative")
	}
	if c.Retention.Days > 0 {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention schedule %q: %w", c.Retention.Schedule, err)
		}
	}

	if c.Fusion.SensorWeight < 0 || c.Fusion.DroneWeight < 0 {
		return fmt.Errorf("fusion weights must not be negative")
	}
	if c.Fusion.SensorWeight+c.Fusion.DroneWeight == 0 {
		return fmt.Errorf("at least one fusion weight must be positive")
	}
	if c.Fusion.EstimateTTL < time.Second {
		return fmt.Errorf("estimate TTL must be at least 1 second")
	}
	if c.Fusion.AlertCooldown < 0 {
		return fmt.Errorf("alert cooldown must not be negative")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("MQTT_BROKER is required when MQTT is enabled")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID are required when Telegram is enabled")
	}
	if c.SMTP.Enabled && len(c.SMTP.To) == 0 {
		return fmt.Errorf("SMTP_TO is required when SMTP is enabled")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
