package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  port: 9090
db:
  driver: postgres
  dsn: postgres://ledger@localhost/ledger
reconcile:
  interval: 15m
  auto_repair: true
cors:
  allowed_origins: ["https://books.example.com"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval)
	assert.True(t, cfg.Reconcile.AutoRepair)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, []string{"https://books.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "http:\n  port: 9090\n")
	t.Setenv("LEDGER_HTTP_PORT", "7070")
	t.Setenv("LEDGER_DB_DRIVER", "MEMORY")
	t.Setenv("LEDGER_RECONCILE_INTERVAL", "5m")
	t.Setenv("LEDGER_CORS_ORIGINS", "http://a.test, http://b.test,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, DriverMemory, cfg.DB.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_Rejections(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "http: [\n"))
		assert.ErrorContains(t, err, "parsing config")
	})
	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("LEDGER_RECONCILE_INTERVAL", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "LEDGER_RECONCILE_INTERVAL")
	})
	t.Run("bad env bool", func(t *testing.T) {
		t.Setenv("LEDGER_RECONCILE_AUTO_REPAIR", "maybe")
		_, err := Load("")
		assert.ErrorContains(t, err, "LEDGER_RECONCILE_AUTO_REPAIR")
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"driver", func(c *Config) { c.DB.Driver = "mysql" }, "db.driver"},
		{"dsn", func(c *Config) { c.DB.DSN = "" }, "db.dsn"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"interval", func(c *Config) { c.Reconcile.Interval = 0 }, "reconcile.interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	cfg := Default()
	cfg.DB = DBConfig{Driver: DriverMemory}
	cfg.Reconcile = ReconcileConfig{Enabled: false}
	assert.NoError(t, cfg.Validate(), "memory needs no dsn; a disabled scheduler needs no interval")
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := LoggingConfig{Level: "debug", Format: format}.NewLogger()
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	}

	_, err := LoggingConfig{Level: "loud", Format: "json"}.NewLogger()
	assert.Error(t, err)
}
