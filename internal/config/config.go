package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"reactally/internal/util"
)

const (
	SyncRefresh = "refresh"
	SyncCached  = "cached"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	CacheStore = "store"
	CacheRedis = "redis"
	CacheNone  = "none"
)

// Config is the application's configuration model.
type Config struct {
	Slack    SlackConfig    `yaml:"slack"`
	Engine   EngineConfig   `yaml:"engine"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
}

type SlackConfig struct {
	// Bot token. If empty, read from env SLACK_TOKEN
	Token string `yaml:"token"`
	// Alternate Web API base URL, must end with "/"
	APIURL string `yaml:"apiURL"`
}

// EngineConfig controls what is tallied and how fast the workspace is read.
type EngineConfig struct {
	ReactionMarker    string        `yaml:"reactionMarker"`
	ListLimit         int           `yaml:"listLimit"`
	SortDescending    bool          `yaml:"sortDescending"`
	RateLimitInterval time.Duration `yaml:"rateLimitInterval"`
	SyncMode          string        `yaml:"syncMode"` // "refresh" or "cached"
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DBPath string `yaml:"dbPath"`
	DSN    string `yaml:"dsn"`
}

type CacheConfig struct {
	Backend   string        `yaml:"backend"` // "store", "redis" or "none"
	RedisAddr string        `yaml:"redisAddr"`
	TTL       time.Duration `yaml:"ttl"`
}

type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

type MetricsConfig struct {
	// Listen address for /metrics; empty disables the endpoint
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			ReactionMarker:    "+1",
			ListLimit:         25,
			SortDescending:    true,
			RateLimitInterval: 2 * time.Second,
			SyncMode:          SyncRefresh,
		},
		Storage:  StorageConfig{Driver: DriverSQLite, DBPath: "./reactally.db"},
		Cache:    CacheConfig{Backend: CacheStore, TTL: 24 * time.Hour},
		Schedule: ScheduleConfig{Cron: "@daily"},
		Log:      LogConfig{Level: "info", Format: "console"},
		Server:   ServerConfig{Addr: ":8080"},
	}
}

// envOverrides lists the environment variables that take precedence over the file.
type envOverrides struct {
	SlackToken  string `envconfig:"SLACK_TOKEN"`
	DBPath      string `envconfig:"REACTALLY_DB_PATH"`
	PGDSN       string `envconfig:"PG_DSN"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// ApplyEnv overrides config fields with any environment variables that are set.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Slack.Token, env.SlackToken)
	set(&c.Storage.DBPath, env.DBPath)
	set(&c.Storage.DSN, env.PGDSN)
	set(&c.Cache.RedisAddr, env.RedisAddr)
	set(&c.Metrics.Addr, env.MetricsAddr)
	set(&c.Log.Level, env.LogLevel)
	return nil
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.ReactionMarker == "" {
		errs = append(errs, errors.New("engine.reactionMarker is empty"))
	}
	if c.Engine.ListLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.listLimit %d is negative", c.Engine.ListLimit))
	}
	if c.Engine.RateLimitInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.rateLimitInterval %s is negative", c.Engine.RateLimitInterval))
	}
	switch c.Engine.SyncMode {
	case SyncRefresh, SyncCached:
	default:
		errs = append(errs, fmt.Errorf("engine.syncMode %q is not refresh or cached", c.Engine.SyncMode))
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.DBPath == "" {
			errs = append(errs, errors.New("storage.dbPath is empty"))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres (or set PG_DSN)"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not sqlite or postgres", c.Storage.Driver))
	}
	switch c.Cache.Backend {
	case CacheStore, CacheNone:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redisAddr is required for redis (or set REDIS_ADDR)"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not store, redis or none", c.Cache.Backend))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Load reads YAML config from path over the defaults, applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.finish()
}

// FromEnv builds a config from defaults and environment alone, for runs without a file.
func FromEnv() (Config, error) {
	cfg := Default()
	return cfg, cfg.finish()
}

func (c *Config) finish() error {
	if err := c.ApplyEnv(); err != nil {
		return err
	}
	c.Engine.ReactionMarker = util.NormalizeMarker(c.Engine.ReactionMarker)
	return c.Validate()
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
