package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500, cfg.SCTE35.PID)
	assert.Equal(t, 8191, cfg.SCTE35.NullPID)
	assert.True(t, cfg.SCTE35.AutoInsert)
	assert.Equal(t, 5, cfg.Encoder.RestartAttempts)
	assert.Equal(t, time.Second, cfg.Encoder.RestartBaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Session.InjectTimeout)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
scte35:
  pid: 600
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 600, cfg.SCTE35.PID)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "reserved pid",
			mutate:  func(c *Config) { c.SCTE35.PID = 0 },
			wantErr: "scte35.pid",
		},
		{
			name:    "null pid is fixed",
			mutate:  func(c *Config) { c.SCTE35.NullPID = 100 },
			wantErr: "scte35.null_pid",
		},
		{
			name:    "schedule needs file",
			mutate:  func(c *Config) { c.Schedule.Enabled = true },
			wantErr: "schedule.file",
		},
		{
			name:    "inject timeout positive",
			mutate:  func(c *Config) { c.Session.InjectTimeout = 0 },
			wantErr: "session.inject_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8123}
	assert.Equal(t, "127.0.0.1:8123", cfg.Address())
}
