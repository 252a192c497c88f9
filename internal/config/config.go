package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "TWOGETHER"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultBackendDatabasePath  = "twogether-backend.db"
	defaultDeviceStorePath      = "twogether-device.db"
	defaultRemoteURL            = "http://127.0.0.1:8080"
	defaultLogLevel             = "info"
	defaultTokenTTLMinutes      = 60 * 24 * 30
	defaultSyncMaxAttempts      = 3
	defaultSyncIntervalSeconds  = 30
	defaultSyncHaltOnFirstError = false
)

// AppConfig captures runtime configuration for both the hosted backend and the device agent.
type AppConfig struct {
	HTTPAddress         string
	BackendDatabasePath string
	SigningSecret       string
	TokenTTL            time.Duration
	DeviceStorePath     string
	RemoteURL           string
	AccessToken         string
	LogLevel            string
	LogFile             string
	SyncMaxAttempts     int
	SyncInterval        time.Duration
	SyncHaltOnFailure   bool
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
	configViper.SetDefault("backend.database_path", defaultBackendDatabasePath)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("device.store_path", defaultDeviceStorePath)
	configViper.SetDefault("device.remote_url", defaultRemoteURL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("sync.max_attempts", defaultSyncMaxAttempts)
	configViper.SetDefault("sync.interval_seconds", defaultSyncIntervalSeconds)
	configViper.SetDefault("sync.halt_on_failure", defaultSyncHaltOnFirstError)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		BackendDatabasePath: configViper.GetString("backend.database_path"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		TokenTTL:            time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DeviceStorePath:     configViper.GetString("device.store_path"),
		RemoteURL:           configViper.GetString("device.remote_url"),
		AccessToken:         configViper.GetString("device.access_token"),
		LogLevel:            configViper.GetString("log.level"),
		LogFile:             configViper.GetString("log.file"),
		SyncMaxAttempts:     configViper.GetInt("sync.max_attempts"),
		SyncInterval:        time.Duration(configViper.GetInt("sync.interval_seconds")) * time.Second,
		SyncHaltOnFailure:   configViper.GetBool("sync.halt_on_failure"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.SyncMaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

// ValidateBackend reports missing settings required to serve the hosted backend.
func (c AppConfig) ValidateBackend() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.BackendDatabasePath) == "" {
		return fmt.Errorf("backend.database_path is required")
	}
	return nil
}

// ValidateDevice reports missing settings required by device-side commands.
func (c AppConfig) ValidateDevice() error {
	if strings.TrimSpace(c.DeviceStorePath) == "" {
		return fmt.Errorf("device.store_path is required")
	}
	return nil
}

// ValidateRemote reports missing settings required to reach the hosted backend.
func (c AppConfig) ValidateRemote() error {
	if strings.TrimSpace(c.RemoteURL) == "" {
		return fmt.Errorf("device.remote_url is required")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("device.access_token is required")
	}
	return nil
}
