// Package config provides configuration management for the market observer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Observer      ObserverConfig     `mapstructure:"observer"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	UI            UIConfig           `mapstructure:"ui"`
}

// ObserverConfig holds feed polling configuration.
type ObserverConfig struct {
	URL          string        `mapstructure:"url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	SinkTimeout  time.Duration `mapstructure:"sink_timeout"`
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	// WeekdayPair is watched Monday-Friday, WeekendPair on Saturday/Sunday
	// when forex markets are closed and crypto is the better liveness signal.
	WeekdayPair string   `mapstructure:"weekday_pair"`
	WeekendPair string   `mapstructure:"weekend_pair"`
	Majors      []string `mapstructure:"majors"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
	TimeFormat   string `mapstructure:"time_format"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Email   EmailConfig `mapstructure:"email"`
	SMS     SMSConfig   `mapstructure:"sms"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SMSConfig holds SMS gateway configuration.
type SMSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	APIKey   string `mapstructure:"api_key"`
	Sender   string `mapstructure:"sender"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/market-observer"
	}
	return filepath.Join(home, ".config", "market-observer")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("observer.poll_interval", "1s")
	v.SetDefault("observer.poll_timeout", "10s")
	v.SetDefault("observer.sink_timeout", "2s")
	v.SetDefault("observer.stall_timeout", "30s")
	v.SetDefault("observer.weekday_pair", "GOLD")
	v.SetDefault("observer.weekend_pair", "BITCOIN")
	v.SetDefault("observer.majors", []string{"USD", "EUR", "GBP", "JPY", "CHF", "AUD", "CAD", "NZD"})
	v.SetDefault("storage.db_path", filepath.Join(DefaultConfigDir(), "observer.db"))
	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "02-Jan-2006")
	v.SetDefault("ui.time_format", "15:04:05")
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.email.smtp_port", 587)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OBSERVER_URL"); v != "" {
		cfg.Observer.URL = v
	}
	if v := os.Getenv("OBSERVER_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notifications.Email.Password = v
	}
	if v := os.Getenv("SMS_API_KEY"); v != "" {
		cfg.Notifications.SMS.APIKey = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Observer.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Observer.StallTimeout <= 0 {
		return fmt.Errorf("stall_timeout must be positive")
	}
	if c.Observer.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive")
	}
	if c.Notifications.Email.Enabled && c.Notifications.Email.SMTPHost == "" {
		return fmt.Errorf("email notifications enabled but smtp_host is empty")
	}
	if c.Notifications.SMS.Enabled && c.Notifications.SMS.URL == "" {
		return fmt.Errorf("sms notifications enabled but gateway url is empty")
	}
	return nil
}
