package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	HTTPAddr   string `yaml:"http_addr"`
	AdminToken string `yaml:"admin_token"`
	NodeID     string `yaml:"node_id"`

	SnapshotDir      string        `yaml:"snapshot_dir"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	DuelTimeout       time.Duration `yaml:"duel_timeout"`
	DuelSweepInterval time.Duration `yaml:"duel_sweep_interval"`
	DuelRetention     time.Duration `yaml:"duel_retention"`

	MessagesDir    string `yaml:"messages_dir"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	ToConsole bool   `yaml:"to_console"`
	ToFile    bool   `yaml:"to_file"`
	File      string `yaml:"file"`
	Caller    bool   `yaml:"caller"`
}

// Defaults: a local SQLite file and snapshots in the working directory.
func Defaults() *AppConfig {
	return &AppConfig{
		DatabaseURL:       "pvp_stats.db",
		HTTPAddr:          ":8080",
		NodeID:            "local",
		SnapshotDir:       ".",
		DuelTimeout:       5 * time.Minute,
		DuelSweepInterval: 30 * time.Second,
		DuelRetention:     time.Hour,
		MetricsEnabled:    true,
		Log: LogConfig{
			Level:     "info",
			Format:    "legacy",
			ToConsole: true,
			File:      "logs/pvp-ladder.log",
		},
	}
}

// Load applies defaults, then the YAML file at path (if any), then the
// environment, and validates the result.
func Load(path string) (*AppConfig, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("ADMIN_TOKEN", &c.AdminToken)
	str("NODE_ID", &c.NodeID)
	str("SNAPSHOT_DIR", &c.SnapshotDir)
	dur("SNAPSHOT_INTERVAL", &c.SnapshotInterval)
	dur("DUEL_TIMEOUT", &c.DuelTimeout)
	dur("DUEL_SWEEP_INTERVAL", &c.DuelSweepInterval)
	dur("DUEL_RETENTION", &c.DuelRetention)
	str("MESSAGES_DIR", &c.MessagesDir)
	boolean("METRICS_ENABLED", &c.MetricsEnabled)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	boolean("LOG_TO_CONSOLE", &c.Log.ToConsole)
	boolean("LOG_TO_FILE", &c.Log.ToFile)
	str("LOG_FILE", &c.Log.File)
	boolean("LOG_CALLER", &c.Log.Caller)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("HTTP_ADDR is required")
	}
	if c.DuelTimeout <= 0 {
		return errors.New("DUEL_TIMEOUT must be greater than 0")
	}
	if c.DuelSweepInterval <= 0 {
		return errors.New("DUEL_SWEEP_INTERVAL must be greater than 0")
	}
	if c.DuelRetention <= 0 {
		return errors.New("DUEL_RETENTION must be greater than 0")
	}
	if c.SnapshotInterval < 0 {
		return errors.New("SNAPSHOT_INTERVAL must not be negative")
	}
	return nil
}
