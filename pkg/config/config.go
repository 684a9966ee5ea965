// Package config loads process configuration from config.toml and COLLECT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Scheduler    SchedulerConfig
	SMTP         SMTPConfig
	PaymentLinks PaymentLinkConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig selects the store. Driver is sqlite3, postgres or memory.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// HTTPConfig holds HTTP server timeouts.
type HTTPConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SchedulerConfig holds the cron specs for the batch jobs. Unset specs get defaults.
type SchedulerConfig struct {
	Enabled            bool
	BucketRefresh      string
	ExpirePTPs         string
	PTPReminders       string
	Reconcile          string
	ExpirePaymentLinks string
}

// SMTPConfig configures the email messenger. Without a host, messages are only logged.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// PaymentLinkConfig configures payment link tokens.
type PaymentLinkConfig struct {
	Secret          string
	BaseURL         string
	DefaultValidity time.Duration
}

// Load reads configuration. Priority, highest first: COLLECT_ environment
// variables (COLLECT_DATABASE_DSN), config.toml, built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fredcollect")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("COLLECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
		},
		Scheduler: SchedulerConfig{
			Enabled:            !v.IsSet("scheduler.enabled") || v.GetBool("scheduler.enabled"),
			BucketRefresh:      v.GetString("scheduler.bucket_refresh"),
			ExpirePTPs:         v.GetString("scheduler.expire_ptps"),
			PTPReminders:       v.GetString("scheduler.ptp_reminders"),
			Reconcile:          v.GetString("scheduler.reconcile"),
			ExpirePaymentLinks: v.GetString("scheduler.expire_payment_links"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
		},
		PaymentLinks: PaymentLinkConfig{
			Secret:          v.GetString("payment_links.secret"),
			BaseURL:         v.GetString("payment_links.base_url"),
			DefaultValidity: v.GetDuration("payment_links.default_validity"),
		},
	}

	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fredcollect"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite3" {
		cfg.Database.DSN = "fredcollect.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.Scheduler.BucketRefresh == "" {
		cfg.Scheduler.BucketRefresh = "0 1 * * *"
	}
	if cfg.Scheduler.ExpirePTPs == "" {
		cfg.Scheduler.ExpirePTPs = "15 1 * * *"
	}
	if cfg.Scheduler.PTPReminders == "" {
		cfg.Scheduler.PTPReminders = "0 9 * * *"
	}
	if cfg.Scheduler.Reconcile == "" {
		cfg.Scheduler.Reconcile = "0 * * * *"
	}
	if cfg.Scheduler.ExpirePaymentLinks == "" {
		cfg.Scheduler.ExpirePaymentLinks = "*/15 * * * *"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.PaymentLinks.BaseURL == "" {
		cfg.PaymentLinks.BaseURL = "http://localhost:8080/pay"
	}
	if cfg.PaymentLinks.DefaultValidity == 0 {
		cfg.PaymentLinks.DefaultValidity = 72 * time.Hour
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite3", "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.PaymentLinks.Secret == "" {
		if c.App.Env == "production" {
			return fmt.Errorf("payment_links.secret is required in production")
		}
		c.PaymentLinks.Secret = "development-only-secret"
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	specs := map[string]string{
		"scheduler.bucket_refresh":       c.Scheduler.BucketRefresh,
		"scheduler.expire_ptps":          c.Scheduler.ExpirePTPs,
		"scheduler.ptp_reminders":        c.Scheduler.PTPReminders,
		"scheduler.reconcile":            c.Scheduler.Reconcile,
		"scheduler.expire_payment_links": c.Scheduler.ExpirePaymentLinks,
	}
	for key, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.App.Port
}
