package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the service reads at startup. The webhook secret and
// WeKan credentials are required; the rest has working defaults.
type Config struct {
	ServerPort string

	WekanURL      string
	WekanUsername string
	WekanPassword string

	WebhookSecret string

	DatabasePath string

	HTTPTimeout   time.Duration
	SessionTTL    time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	BoardColor      string
	BoardPermission string
}

// Load reads config.toml (if present) and environment variables prefixed with
// WGS_, e.g. WGS_WEKAN_PASSWORD overrides wekan.password.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("wgs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("wekan.url", "http://localhost:8088")
	v.SetDefault("database.path", "deliveries.db")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", "500ms")
	v.SetDefault("board.color", "belize")
	v.SetDefault("board.permission", "private")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := Config{
		ServerPort:      v.GetString("server.port"),
		WekanURL:        strings.TrimRight(v.GetString("wekan.url"), "/"),
		WekanUsername:   v.GetString("wekan.username"),
		WekanPassword:   v.GetString("wekan.password"),
		WebhookSecret:   v.GetString("github.webhook_secret"),
		DatabasePath:    v.GetString("database.path"),
		HTTPTimeout:     v.GetDuration("http.timeout"),
		SessionTTL:      v.GetDuration("session.ttl"),
		RetryAttempts:   v.GetInt("retry.attempts"),
		RetryDelay:      v.GetDuration("retry.delay"),
		BoardColor:      v.GetString("board.color"),
		BoardPermission: v.GetString("board.permission"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on anything the service cannot run without.
func (c Config) Validate() error {
	var missing []string
	if c.WekanURL == "" {
		missing = append(missing, "wekan.url")
	}
	if c.WekanUsername == "" {
		missing = append(missing, "wekan.username")
	}
	if c.WekanPassword == "" {
		missing = append(missing, "wekan.password")
	}
	if c.WebhookSecret == "" {
		missing = append(missing, "github.webhook_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.RetryAttempts)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http.timeout must be positive, got %s", c.HTTPTimeout)
	}
	return nil
}
