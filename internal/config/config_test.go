package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("GATEWAY_DRIVER", "")
	t.Setenv("GATEWAY_TIMEOUT", "")
	t.Setenv("TABLE_PREFIX", "")
	t.Setenv("DEBUG", "")
	t.Setenv("LOG_MAX_FILES", "")

	cfg := Load()
	assert.Equal(t, DriverMemory, cfg.GatewayDriver)
	assert.Equal(t, "dev_", cfg.TablePrefix)
	assert.Equal(t, DefaultGatewayTimeout, cfg.GatewayTimeout)
	assert.True(t, cfg.Debug)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("GATEWAY_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/tree.db")
	t.Setenv("GATEWAY_TIMEOUT", "250ms")
	t.Setenv("REFRESH_ON_CONFIRM", "true")
	t.Setenv("LOG_MAX_FILES", "3")
	t.Setenv("TABLE_PREFIX", "")
	t.Setenv("DEBUG", "")

	cfg := Load()
	assert.Equal(t, DriverSQLite, cfg.GatewayDriver)
	assert.Equal(t, "prod_", cfg.TablePrefix)
	assert.Equal(t, 250*time.Millisecond, cfg.GatewayTimeout)
	assert.True(t, cfg.RefreshOnConfirm)
	assert.Equal(t, 3, cfg.LogMaxFiles)
	assert.False(t, cfg.Debug)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "memory ok", mutate: func(c *Config) {}},
		{name: "postgres without url", mutate: func(c *Config) { c.GatewayDriver = DriverPostgres }, wantErr: true},
		{name: "postgres with url", mutate: func(c *Config) {
			c.GatewayDriver = DriverPostgres
			c.DatabaseURL = "postgres://localhost/studydesk"
		}},
		{name: "unknown driver", mutate: func(c *Config) { c.GatewayDriver = "redis" }, wantErr: true},
		{name: "zero log files", mutate: func(c *Config) { c.LogMaxFiles = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Port:           "8080",
				GatewayDriver:  DriverMemory,
				SQLitePath:     "studydesk.db",
				GatewayTimeout: time.Second,
				LogMaxFiles:    10,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"studydesk-2026-01-01T00-00-00.000.log",
		"studydesk-2026-01-02T00-00-00.000.log",
		"studydesk-2026-01-03T00-00-00.000.log",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0644))
	}

	require.NoError(t, cleanupOldLogs(dir, 2))

	left, err := filepath.Glob(filepath.Join(dir, "studydesk-*.log"))
	require.NoError(t, err)
	assert.Len(t, left, 2)
	assert.NoFileExists(t, filepath.Join(dir, names[0]))
}
