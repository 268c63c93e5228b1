package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                    = "COMPASS"
	defaultHTTPAddress           = "0.0.0.0:8080"
	defaultDatabasePath          = "compass.db"
	defaultLogLevel              = "info"
	defaultAuthIssuer            = "compass-auth"
	defaultAuthAudience          = "compass-api"
	defaultTokenTTLMinutes       = 30
	defaultAwayThresholdSeconds  = 30
	defaultSweepIntervalSeconds  = 60
	defaultStreamHeartbeatSecond = 25
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	AuthIssuer      string
	AuthAudience    string
	TokenTTL        time.Duration
	AwayThreshold   time.Duration
	SweepInterval   time.Duration
	StreamHeartbeat time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("presence.away_threshold_seconds", defaultAwayThresholdSeconds)
	configViper.SetDefault("reminders.sweep_interval_seconds", defaultSweepIntervalSeconds)
	configViper.SetDefault("stream.heartbeat_seconds", defaultStreamHeartbeatSecond)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		AuthIssuer:      configViper.GetString("auth.issuer"),
		AuthAudience:    configViper.GetString("auth.audience"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AwayThreshold:   time.Duration(configViper.GetInt("presence.away_threshold_seconds")) * time.Second,
		SweepInterval:   time.Duration(configViper.GetInt("reminders.sweep_interval_seconds")) * time.Second,
		StreamHeartbeat: time.Duration(configViper.GetInt("stream.heartbeat_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.AwayThreshold <= 0 {
		return fmt.Errorf("presence.away_threshold_seconds must be positive")
	}
	return nil
}
