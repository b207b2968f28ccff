// Package config loads service configuration from an optional YAML file
// followed by environment overrides, and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Lifecycle LifecycleConfig
	Operator  OperatorConfig
	Log       LogConfig
	Notify    NotifyConfig
}

type HTTPConfig struct {
	Port           int `validate:"gte=1,lte=65535"`
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Path string `validate:"required"`
}

type LifecycleConfig struct {
	HoldDays         int           `validate:"gte=0,lte=365"`
	Interval         time.Duration `validate:"gte=1s"`
	MaxRunDuration   time.Duration `validate:"gte=1s"`
	SchedulerEnabled bool
}

type OperatorConfig struct {
	Token                string
	TriggerRatePerMinute int `validate:"gte=1"`
}

type LogConfig struct {
	Level  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `validate:"oneof=json text"`
}

type NotifyConfig struct {
	SMTP  SMTPConfig
	Kafka KafkaConfig
}

type SMTPConfig struct {
	Host     string
	Port     int `validate:"omitempty,gte=1,lte=65535"`
	User     string
	Password string
	From     string `validate:"required_with=Host"`
	To       string `validate:"required_with=Host"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

type KafkaConfig struct {
	Brokers []string
	Topic   string `validate:"required_with=Brokers"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type configFile struct {
	HTTP struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Lifecycle struct {
		HoldDays         *int   `yaml:"hold_days"`
		Interval         string `yaml:"interval"`
		MaxRunDuration   string `yaml:"max_run_duration"`
		SchedulerEnabled *bool  `yaml:"scheduler_enabled"`
	} `yaml:"lifecycle"`
	Operator struct {
		Token                string `yaml:"token"`
		TriggerRatePerMinute int    `yaml:"trigger_rate_per_minute"`
	} `yaml:"operator"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Notify struct {
		SMTP struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			From     string `yaml:"from"`
			To       string `yaml:"to"`
		} `yaml:"smtp"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"notify"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "commissions.db"},
		Lifecycle: LifecycleConfig{
			HoldDays:         14,
			Interval:         time.Hour,
			MaxRunDuration:   5 * time.Minute,
			SchedulerEnabled: true,
		},
		Operator: OperatorConfig{TriggerRatePerMinute: 6},
		Log:      LogConfig{Level: "info", Format: "json"},
		Notify: NotifyConfig{
			SMTP:  SMTPConfig{Port: 587},
			Kafka: KafkaConfig{Topic: "commission.payout_created"},
		},
	}
}

// Load reads path (if it exists), applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.HTTP.Port > 0 {
		cfg.HTTP.Port = f.HTTP.Port
	}
	if len(f.HTTP.AllowedOrigins) > 0 {
		cfg.HTTP.AllowedOrigins = trimNonEmpty(f.HTTP.AllowedOrigins)
	}
	if f.Database.Path != "" {
		cfg.Database.Path = f.Database.Path
	}
	if f.Lifecycle.HoldDays != nil {
		cfg.Lifecycle.HoldDays = *f.Lifecycle.HoldDays
	}
	if f.Lifecycle.Interval != "" {
		d, err := time.ParseDuration(f.Lifecycle.Interval)
		if err != nil {
			return fmt.Errorf("parse lifecycle.interval: %w", err)
		}
		cfg.Lifecycle.Interval = d
	}
	if f.Lifecycle.MaxRunDuration != "" {
		d, err := time.ParseDuration(f.Lifecycle.MaxRunDuration)
		if err != nil {
			return fmt.Errorf("parse lifecycle.max_run_duration: %w", err)
		}
		cfg.Lifecycle.MaxRunDuration = d
	}
	if f.Lifecycle.SchedulerEnabled != nil {
		cfg.Lifecycle.SchedulerEnabled = *f.Lifecycle.SchedulerEnabled
	}
	if f.Operator.Token != "" {
		cfg.Operator.Token = f.Operator.Token
	}
	if f.Operator.TriggerRatePerMinute > 0 {
		cfg.Operator.TriggerRatePerMinute = f.Operator.TriggerRatePerMinute
	}
	if f.Log.Level != "" {
		cfg.Log.Level = f.Log.Level
	}
	if f.Log.Format != "" {
		cfg.Log.Format = f.Log.Format
	}

	smtp := f.Notify.SMTP
	if smtp.Host != "" {
		cfg.Notify.SMTP.Host = smtp.Host
	}
	if smtp.Port > 0 {
		cfg.Notify.SMTP.Port = smtp.Port
	}
	cfg.Notify.SMTP.User = orDefault(smtp.User, cfg.Notify.SMTP.User)
	cfg.Notify.SMTP.Password = orDefault(smtp.Password, cfg.Notify.SMTP.Password)
	cfg.Notify.SMTP.From = orDefault(smtp.From, cfg.Notify.SMTP.From)
	cfg.Notify.SMTP.To = orDefault(smtp.To, cfg.Notify.SMTP.To)
	if len(f.Notify.Kafka.Brokers) > 0 {
		cfg.Notify.Kafka.Brokers = trimNonEmpty(f.Notify.Kafka.Brokers)
	}
	cfg.Notify.Kafka.Topic = orDefault(f.Notify.Kafka.Topic, cfg.Notify.Kafka.Topic)
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	cfg.HTTP.Port = envInt("HTTP_PORT", cfg.HTTP.Port)
	cfg.HTTP.AllowedOrigins = envCSV("HTTP_ALLOWED_ORIGINS", cfg.HTTP.AllowedOrigins)
	cfg.Database.Path = envOrDefault("DATABASE_PATH", cfg.Database.Path)

	cfg.Lifecycle.HoldDays = envInt("HOLD_DAYS", cfg.Lifecycle.HoldDays)
	if cfg.Lifecycle.Interval, err = envDuration("LIFECYCLE_INTERVAL", cfg.Lifecycle.Interval); err != nil {
		return err
	}
	if cfg.Lifecycle.MaxRunDuration, err = envDuration("LIFECYCLE_MAX_RUN", cfg.Lifecycle.MaxRunDuration); err != nil {
		return err
	}
	cfg.Lifecycle.SchedulerEnabled = envBool("SCHEDULER_ENABLED", cfg.Lifecycle.SchedulerEnabled)

	cfg.Operator.Token = envOrDefault("OPERATOR_TOKEN", cfg.Operator.Token)
	cfg.Operator.TriggerRatePerMinute = envInt("OPERATOR_TRIGGER_RATE", cfg.Operator.TriggerRatePerMinute)

	cfg.Log.Level = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(envOrDefault("LOG_FORMAT", cfg.Log.Format))

	cfg.Notify.SMTP.Host = envOrDefault("SMTP_HOST", cfg.Notify.SMTP.Host)
	cfg.Notify.SMTP.Port = envInt("SMTP_PORT", cfg.Notify.SMTP.Port)
	cfg.Notify.SMTP.User = envOrDefault("SMTP_USER", cfg.Notify.SMTP.User)
	cfg.Notify.SMTP.Password = envOrDefault("SMTP_PASSWORD", cfg.Notify.SMTP.Password)
	cfg.Notify.SMTP.From = envOrDefault("SMTP_FROM", cfg.Notify.SMTP.From)
	cfg.Notify.SMTP.To = envOrDefault("SMTP_TO", cfg.Notify.SMTP.To)
	cfg.Notify.Kafka.Brokers = envCSV("KAFKA_BROKERS", cfg.Notify.Kafka.Brokers)
	cfg.Notify.Kafka.Topic = envOrDefault("KAFKA_TOPIC_PAYOUT_CREATED", cfg.Notify.Kafka.Topic)
	return nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
