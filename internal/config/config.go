// Package config loads service configuration from environment variables
// with sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jojees/project-genesis/internal/errs"
)

// Config is the full configuration tree. Each binary reads the subset
// that applies to it.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	HTTPPort    int    `mapstructure:"http_port"`

	NATS      NATS      `mapstructure:"nats"`
	Redis     Redis     `mapstructure:"redis"`
	Postgres  Postgres  `mapstructure:"postgres"`
	Analysis  Analysis  `mapstructure:"analysis"`
	Generator Generator `mapstructure:"generator"`
}

// NATS holds broker connection and stream topology settings.
type NATS struct {
	URL          string `mapstructure:"url"`
	EventStream  string `mapstructure:"event_stream"`
	EventSubject string `mapstructure:"event_subject"`
	AlertStream  string `mapstructure:"alert_stream"`
	AlertSubject string `mapstructure:"alert_subject"`
}

// Redis holds the sliding-window store settings.
type Redis struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Postgres holds the alert store settings.
type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       string `mapstructure:"db"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN returns a lib/pq connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.DB, p.User, p.Password, p.SSLMode)
}

// Analysis holds the detection rule parameters.
type Analysis struct {
	FailedLoginWindowSeconds int      `mapstructure:"failed_login_window_seconds"`
	FailedLoginThreshold     int      `mapstructure:"failed_login_threshold"`
	SensitiveFiles           []string `mapstructure:"sensitive_files"`
}

// Window returns the failed-login window as a duration.
func (a Analysis) Window() time.Duration {
	return time.Duration(a.FailedLoginWindowSeconds) * time.Second
}

// Generator holds the synthetic event producer settings.
type Generator struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// Interval returns the generation interval as a duration.
func (g Generator) Interval() time.Duration {
	return time.Duration(g.IntervalSeconds) * time.Second
}

// Load builds the configuration for a service. Priority order:
// environment variables, then defaults. service and defaultHTTPPort seed
// the per-binary defaults.
func Load(service string, defaultHTTPPort int) (*Config, error) {
	v := viper.New()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, service, defaultHTTPPort)
	overrideWithEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string, defaultHTTPPort int) {
	v.SetDefault("service_name", service)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", defaultHTTPPort)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.event_stream", "AUDIT_EVENTS")
	v.SetDefault("nats.event_subject", "audit.events")
	v.SetDefault("nats.alert_stream", "AUDIT_ALERTS")
	v.SetDefault("nats.alert_subject", "audit.alerts")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.db", "audit_alerts")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.ssl_mode", "disable")

	v.SetDefault("analysis.failed_login_window_seconds", 60)
	v.SetDefault("analysis.failed_login_threshold", 3)
	v.SetDefault("analysis.sensitive_files", []string{
		"/etc/sudoers",
		"/root/.ssh/authorized_keys",
		"/etc/shadow",
		"/etc/passwd",
	})

	v.SetDefault("generator.interval_seconds", 5)
}

// overrideWithEnvVars maps the flat environment variable names the
// deployment manifests use onto the nested config keys.
func overrideWithEnvVars(v *viper.Viper) {
	if name := os.Getenv("SERVICE_NAME"); name != "" {
		v.Set("service_name", name)
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		v.Set("log_level", strings.ToLower(level))
	}
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("http_port", p)
		}
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if subj := os.Getenv("NATS_EVENT_SUBJECT"); subj != "" {
		v.Set("nats.event_subject", subj)
	}
	if subj := os.Getenv("NATS_ALERT_SUBJECT"); subj != "" {
		v.Set("nats.alert_subject", subj)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("redis.port", p)
		}
	}

	if host := os.Getenv("PG_HOST"); host != "" {
		v.Set("postgres.host", host)
	}
	if port := os.Getenv("PG_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("postgres.port", p)
		}
	}
	if db := os.Getenv("PG_DB"); db != "" {
		v.Set("postgres.db", db)
	}
	if user := os.Getenv("PG_USER"); user != "" {
		v.Set("postgres.user", user)
	}
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		v.Set("postgres.password", pass)
	}

	if window := os.Getenv("FAILED_LOGIN_WINDOW_SECONDS"); window != "" {
		if w, err := strconv.Atoi(window); err == nil {
			v.Set("analysis.failed_login_window_seconds", w)
		}
	}
	if threshold := os.Getenv("FAILED_LOGIN_THRESHOLD"); threshold != "" {
		if th, err := strconv.Atoi(threshold); err == nil {
			v.Set("analysis.failed_login_threshold", th)
		}
	}
	if files := os.Getenv("SENSITIVE_FILES"); files != "" {
		parts := strings.Split(files, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		v.Set("analysis.sensitive_files", parts)
	}

	if interval := os.Getenv("EVENT_GENERATION_INTERVAL_SECONDS"); interval != "" {
		if s, err := strconv.Atoi(interval); err == nil {
			v.Set("generator.interval_seconds", s)
		}
	}
}

func validate(cfg *Config) error {
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return errs.Config("http_port", fmt.Errorf("invalid port number: %d", cfg.HTTPPort))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		return errs.Config("log_level", fmt.Errorf("invalid log level: %s", cfg.LogLevel))
	}

	if cfg.NATS.URL == "" {
		return errs.Config("nats.url", fmt.Errorf("broker URL is required"))
	}
	if cfg.NATS.EventSubject == "" || cfg.NATS.AlertSubject == "" {
		return errs.Config("nats", fmt.Errorf("event and alert subjects are required"))
	}

	if cfg.Analysis.FailedLoginWindowSeconds < 1 {
		return errs.Config("analysis.failed_login_window_seconds",
			fmt.Errorf("window must be at least 1 second, got %d", cfg.Analysis.FailedLoginWindowSeconds))
	}
	if cfg.Analysis.FailedLoginThreshold < 1 {
		return errs.Config("analysis.failed_login_threshold",
			fmt.Errorf("threshold must be at least 1, got %d", cfg.Analysis.FailedLoginThreshold))
	}
	if len(cfg.Analysis.SensitiveFiles) == 0 {
		return errs.Config("analysis.sensitive_files", fmt.Errorf("at least one path is required"))
	}

	if cfg.Generator.IntervalSeconds < 1 {
		return errs.Config("generator.interval_seconds",
			fmt.Errorf("interval must be at least 1 second, got %d", cfg.Generator.IntervalSeconds))
	}

	return nil
}
