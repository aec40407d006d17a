/*
Package config loads the estimate engine's settings.

PRECEDENCE:
  1. Defaults
  2. YAML file (optional, -config flag or ESTIMATE_CONFIG)
  3. ESTIMATE_* environment variables

  Invalid environment values are collected and reported together.

EXAMPLE FILE:
  addr: ":8080"
  database:
    driver: postgres
    dsn: postgres://estimate@localhost/estimate?sslmode=disable
  holidays:
    source: brasilapi
    sync_interval: 24h
  redis:
    addr: localhost:6379
  log:
    level: debug
    format: console
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/estimate-engine/estimate"
	"github.com/warp/estimate-engine/holidays"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	HolidaySourceStore     = "store"
	HolidaySourceBrasilAPI = "brasilapi"

	LockerLocal    = "local"
	LockerRedis    = "redis"
	LockerAdvisory = "advisory"
)

type Config struct {
	Addr      string         `yaml:"addr"`
	Database  DatabaseConfig `yaml:"database"`
	BatchSize int            `yaml:"batch_size"`
	Locker    string         `yaml:"locker"`
	Holidays  HolidayConfig  `yaml:"holidays"`
	Redis     RedisConfig    `yaml:"redis"`
	Log       LogConfig      `yaml:"log"`
	CORS      []string       `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type HolidayConfig struct {
	// Source "store" uses stored holidays only; "brasilapi" adds national
	// holidays fetched on demand.
	Source       string        `yaml:"source"`
	BaseURL      string        `yaml:"base_url"`
	SyncInterval time.Duration `yaml:"sync_interval"` // 0 disables the import scheduler
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty disables redis
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Addr:      ":8080",
		Database:  DatabaseConfig{Driver: DriverSQLite, DSN: "estimates.db"},
		BatchSize: estimate.DefaultBatchSize,
		Locker:    LockerLocal,
		Holidays: HolidayConfig{
			Source:       HolidaySourceStore,
			BaseURL:      holidays.DefaultBaseURL,
			SyncInterval: 0,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load applies the YAML file at path (if non-empty) and then the environment
// to the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("ESTIMATE_CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	invalid := make([]string, 0, 2)
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if v := env("ESTIMATE_ADDR"); v != "" {
		c.Addr = v
	}
	if v := env("ESTIMATE_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := env("ESTIMATE_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := env("ESTIMATE_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			invalid = append(invalid, "ESTIMATE_BATCH_SIZE")
		} else {
			c.BatchSize = n
		}
	}
	if v := env("ESTIMATE_LOCKER"); v != "" {
		c.Locker = v
	}
	if v := env("ESTIMATE_HOLIDAY_SOURCE"); v != "" {
		c.Holidays.Source = v
	}
	if v := env("ESTIMATE_HOLIDAY_BASE_URL"); v != "" {
		c.Holidays.BaseURL = v
	}
	if v := env("ESTIMATE_HOLIDAY_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			invalid = append(invalid, "ESTIMATE_HOLIDAY_SYNC_INTERVAL")
		} else {
			c.Holidays.SyncInterval = d
		}
	}
	if v := env("ESTIMATE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("ESTIMATE_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := env("ESTIMATE_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			invalid = append(invalid, "ESTIMATE_REDIS_DB")
		} else {
			c.Redis.DB = n
		}
	}
	if v := env("ESTIMATE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := env("ESTIMATE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := env("ESTIMATE_CORS_ORIGINS"); v != "" {
		c.CORS = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.CORS = append(c.CORS, origin)
			}
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// Validate checks option values and their combinations.
// Each inserted rule binds ruleParams values; a batch is one statement, so
// the driver's bind-parameter ceiling bounds batch_size.
const ruleParams = 14

var maxBatchSize = map[string]int{
	DriverSQLite:   32766 / ruleParams,
	DriverPostgres: 65535 / ruleParams,
}

func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be positive"))
	} else if limit, ok := maxBatchSize[c.Database.Driver]; ok && c.BatchSize > limit {
		errs = append(errs, fmt.Errorf("batch_size %d exceeds the %s limit of %d rules per insert", c.BatchSize, c.Database.Driver, limit))
	}

	switch c.Locker {
	case LockerLocal:
	case LockerRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("locker redis requires redis.addr"))
		}
	case LockerAdvisory:
		if c.Database.Driver != DriverPostgres {
			errs = append(errs, errors.New("locker advisory requires the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown locker %q", c.Locker))
	}

	switch c.Holidays.Source {
	case HolidaySourceStore:
	case HolidaySourceBrasilAPI:
		if c.Holidays.BaseURL == "" {
			errs = append(errs, errors.New("holidays.base_url is required for brasilapi"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown holiday source %q", c.Holidays.Source))
	}
	if c.Holidays.SyncInterval < 0 {
		errs = append(errs, errors.New("holidays.sync_interval must not be negative"))
	}

	return errors.Join(errs...)
}
