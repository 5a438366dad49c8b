// Package config provides configuration management for splicecast using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultSCTE35PID     = 500
	defaultSCTE35NullPID = 8191

	defaultStartTimeout     = 20 * time.Second
	defaultStopTimeout      = 10 * time.Second
	defaultInjectTimeout    = 2 * time.Second
	defaultHealthInterval   = time.Second
	defaultRestartAttempts  = 5
	defaultRestartBaseDelay = time.Second
	defaultRestartMaxDelay  = 30 * time.Second
	defaultKillGracePeriod  = 5 * time.Second

	defaultSegmentDuration = 4
	defaultPlaylistLength  = 6
	defaultSRTLatencyMs    = 120
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	SCTE35   SCTE35Config   `mapstructure:"scte35"`
	Encoder  EncoderConfig  `mapstructure:"encoder"`
	Session  SessionConfig  `mapstructure:"session"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds the preset store configuration.
// Presets are the only durable state; session state is in-memory only.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds media artifact storage configuration.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// RedactURLs strips userinfo from logged source/publish URLs.
	RedactURLs bool `mapstructure:"redact_urls"`
}

// SCTE35Config holds default ad-cue signaling configuration.
type SCTE35Config struct {
	Enabled    bool `mapstructure:"enabled"`
	PID        int  `mapstructure:"pid"`
	NullPID    int  `mapstructure:"null_pid"`
	AutoInsert bool `mapstructure:"auto_insert"`
}

// EncoderConfig holds external encoder process configuration.
type EncoderConfig struct {
	BinaryPath       string        `mapstructure:"binary_path"` // path to ffmpeg (empty = $PATH lookup)
	StartTimeout     time.Duration `mapstructure:"start_timeout"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	HealthInterval   time.Duration `mapstructure:"health_interval"`
	RestartAttempts  int           `mapstructure:"restart_attempts"`
	RestartBaseDelay time.Duration `mapstructure:"restart_base_delay"`
	RestartMaxDelay  time.Duration `mapstructure:"restart_max_delay"`
	KillGracePeriod  time.Duration `mapstructure:"kill_grace_period"`
}

// SessionConfig holds session manager configuration.
type SessionConfig struct {
	InjectTimeout time.Duration `mapstructure:"inject_timeout"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	MaxSessions   int           `mapstructure:"max_sessions"`
}

// WebhookConfig holds ingest-server webhook configuration.
type WebhookConfig struct {
	// KeyPrefix is stripped from incoming stream keys before session lookup.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ScheduleConfig holds the recurring ad-break schedule configuration.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SPLICECAST_ and use underscores
// for nesting. Example: SPLICECAST_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/splicecast")
		v.AddConfigPath("$HOME/.splicecast")
	}

	v.SetEnvPrefix("SPLICECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.dsn", "splicecast.db")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.output_dir", "./data/output")
	v.SetDefault("storage.temp_dir", "./data/temp")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact_urls", true)

	v.SetDefault("scte35.enabled", true)
	v.SetDefault("scte35.pid", defaultSCTE35PID)
	v.SetDefault("scte35.null_pid", defaultSCTE35NullPID)
	v.SetDefault("scte35.auto_insert", true)

	v.SetDefault("encoder.binary_path", "")
	v.SetDefault("encoder.start_timeout", defaultStartTimeout)
	v.SetDefault("encoder.stop_timeout", defaultStopTimeout)
	v.SetDefault("encoder.health_interval", defaultHealthInterval)
	v.SetDefault("encoder.restart_attempts", defaultRestartAttempts)
	v.SetDefault("encoder.restart_base_delay", defaultRestartBaseDelay)
	v.SetDefault("encoder.restart_max_delay", defaultRestartMaxDelay)
	v.SetDefault("encoder.kill_grace_period", defaultKillGracePeriod)

	v.SetDefault("session.inject_timeout", defaultInjectTimeout)
	v.SetDefault("session.stop_timeout", 15*time.Second)
	v.SetDefault("session.max_sessions", 50)

	v.SetDefault("webhook.key_prefix", "")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.file", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.SCTE35.PID < 16 || c.SCTE35.PID > 8190 {
		return fmt.Errorf("scte35.pid must be between 16 and 8190")
	}
	if c.SCTE35.NullPID != defaultSCTE35NullPID {
		return fmt.Errorf("scte35.null_pid must be %d", defaultSCTE35NullPID)
	}

	if c.Encoder.RestartAttempts < 0 {
		return fmt.Errorf("encoder.restart_attempts must not be negative")
	}
	if c.Encoder.KillGracePeriod <= 0 {
		return fmt.Errorf("encoder.kill_grace_period must be positive")
	}

	if c.Session.InjectTimeout <= 0 {
		return fmt.Errorf("session.inject_timeout must be positive")
	}

	if c.Schedule.Enabled && c.Schedule.File == "" {
		return fmt.Errorf("schedule.file is required when schedule.enabled is true")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
