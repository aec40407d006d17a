package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A YAML file selecting postgres and the remote holiday source
	path := filepath.Join(t.TempDir(), "estimate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
database:
  driver: postgres
  dsn: postgres://localhost/estimate
locker: advisory
holidays:
  source: brasilapi
  sync_interval: 12h
log:
  level: debug
`), 0o600))

	// AND: Environment overrides for two of the values
	t.Setenv("ESTIMATE_ADDR", ":7070")
	t.Setenv("ESTIMATE_BATCH_SIZE", "50")
	t.Setenv("ESTIMATE_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	// WHEN: Loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: Env wins over the file, the file over defaults
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, LockerAdvisory, cfg.Locker)
	assert.Equal(t, HolidaySourceBrasilAPI, cfg.Holidays.Source)
	assert.Equal(t, "https://brasilapi.com.br", cfg.Holidays.BaseURL)
	assert.Equal(t, 12*time.Hour, cfg.Holidays.SyncInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORS)
}

func TestLoad_InvalidEnvReportedTogether(t *testing.T) {
	t.Setenv("ESTIMATE_BATCH_SIZE", "zero")
	t.Setenv("ESTIMATE_HOLIDAY_SYNC_INTERVAL", "daily")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ESTIMATE_BATCH_SIZE")
	assert.Contains(t, err.Error(), "ESTIMATE_HOLIDAY_SYNC_INTERVAL")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unknown database driver"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "dsn is required"},
		{"redis locker without redis", func(c *Config) { c.Locker = LockerRedis }, "requires redis.addr"},
		{"advisory on sqlite", func(c *Config) { c.Locker = LockerAdvisory }, "requires the postgres driver"},
		{"unknown holiday source", func(c *Config) { c.Holidays.Source = "ical" }, "unknown holiday source"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch_size must be positive"},
		{"batch over sqlite params", func(c *Config) { c.BatchSize = 2341 }, "exceeds the sqlite limit of 2340"},
		{"batch over postgres params", func(c *Config) {
			c.Database.Driver = DriverPostgres
			c.BatchSize = 4682
		}, "exceeds the postgres limit of 4681"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_BatchSizeAtDriverLimit(t *testing.T) {
	// GIVEN: Batch sizes exactly at each driver's bind-parameter ceiling
	sqliteCfg := Default()
	sqliteCfg.BatchSize = 2340

	pgCfg := Default()
	pgCfg.Database.Driver = DriverPostgres
	pgCfg.Database.DSN = "postgres://localhost/estimates"
	pgCfg.BatchSize = 4681

	// THEN: Both are accepted
	assert.NoError(t, sqliteCfg.Validate())
	assert.NoError(t, pgCfg.Validate())
}
