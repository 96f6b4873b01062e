/*
config.go - Server configuration

SOURCES (later wins):
  1. Defaults
  2. ledger.yaml (optional; a missing file keeps the defaults)
  3. .env in the working directory (optional)
  4. LEDGER_* environment variables

ENVIRONMENT:
  LEDGER_HTTP_PORT               HTTP port
  LEDGER_DB_DRIVER               sqlite | postgres | memory
  LEDGER_DB_DSN                  SQLite path or Postgres URL
  LEDGER_LOG_LEVEL               debug | info | warn | error
  LEDGER_LOG_FORMAT              json | console
  LEDGER_RECONCILE_ENABLED       true | false
  LEDGER_RECONCILE_INTERVAL      Go duration, e.g. 30m
  LEDGER_RECONCILE_AUTO_REPAIR   true | false
  LEDGER_CORS_ORIGINS            Comma-separated origins
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the top-level ledger.yaml.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	Logging   LoggingConfig   `yaml:"logging"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	CORS      CORSConfig      `yaml:"cors"`
}

type HTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DBConfig selects the store. DSN is a file path for sqlite (":memory:" for
// a throwaway database) and a connection URL for postgres.
type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReconcileConfig drives the background orphan check.
type ReconcileConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	AutoRepair bool          `yaml:"auto_repair"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		DB: DBConfig{
			Driver: DriverSQLite,
			DSN:    "ledger.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
	}
}

// Load builds the configuration from path, .env and the environment, then
// validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	// .env is optional; values already in the environment take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LEDGER_HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEDGER_HTTP_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	if v, ok := lookup("LEDGER_DB_DRIVER"); ok {
		c.DB.Driver = strings.ToLower(v)
	}
	if v, ok := lookup("LEDGER_DB_DSN"); ok {
		c.DB.DSN = v
	}
	if v, ok := lookup("LEDGER_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := lookup("LEDGER_LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := lookup("LEDGER_RECONCILE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEDGER_RECONCILE_ENABLED: %w", err)
		}
		c.Reconcile.Enabled = b
	}
	if v, ok := lookup("LEDGER_RECONCILE_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LEDGER_RECONCILE_INTERVAL: %w", err)
		}
		c.Reconcile.Interval = d
	}
	if v, ok := lookup("LEDGER_RECONCILE_AUTO_REPAIR"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEDGER_RECONCILE_AUTO_REPAIR: %w", err)
		}
		c.Reconcile.AutoRepair = b
	}
	if v, ok := lookup("LEDGER_CORS_ORIGINS"); ok {
		c.CORS.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORS.AllowedOrigins = append(c.CORS.AllowedOrigins, o)
			}
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port: %d out of range", c.HTTP.Port)
	}
	switch c.DB.Driver {
	case DriverSQLite, DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn: required for driver %q", c.DB.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver: unknown driver %q", c.DB.Driver)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format: expected json or console, got %q", c.Logging.Format)
	}
	if c.Reconcile.Enabled && c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval: must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

// NewLogger builds the process logger from the logging section.
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
