package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is assembled from built-in defaults, an optional YAML file
// (CONFIG_FILE) and environment variable overrides, in that order.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Risk      RiskConfig      `yaml:"risk"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RiskConfig tunables for risk history tracking and spike alerts.
type RiskConfig struct {
	// Alpha is the exponential smoothing constant in (0, 1].
	Alpha float64 `yaml:"alpha"`
	// SpikeWarnThreshold / SpikeCritThreshold are score deltas versus the
	// previous snapshot that raise a warning / critical spike alert.
	SpikeWarnThreshold int `yaml:"spike_warn_threshold"`
	SpikeCritThreshold int `yaml:"spike_crit_threshold"`
	// SpikeCooldownMinutes suppresses repeated spike alerts per dataset.
	SpikeCooldownMinutes int `yaml:"spike_cooldown_minutes"`
}

// AnomalyConfig tunables for the rolling z-score detector.
type AnomalyConfig struct {
	Window          int     `yaml:"window"`
	ZThreshold      float64 `yaml:"z_threshold"`
	CooldownMinutes int     `yaml:"cooldown_minutes"`
}

// AlertsConfig tunables for rule evaluation.
type AlertsConfig struct {
	// CooldownMinutes is the minimum gap between two events for the same rule.
	CooldownMinutes int `yaml:"cooldown_minutes"`
}

// CacheConfig latest-risk cache settings.
type CacheConfig struct {
	RiskKeyPrefix  string `yaml:"risk_key_prefix"`
	RiskTTLSeconds int    `yaml:"risk_ttl_seconds"`
}

// SchedulerConfig periodic pipeline settings.
type SchedulerConfig struct {
	Enabled               bool   `yaml:"enabled"`
	IntervalMinutes       int    `yaml:"interval_minutes"`
	DatasetTimeoutSeconds int    `yaml:"dataset_timeout_seconds"`
	LockKey               string `yaml:"lock_key"`
	// LockBackend selects the distributed lock implementation:
	// "postgres" (advisory lock) or "redis" (lease).
	LockBackend string `yaml:"lock_backend"`
}

// LogConfig zap logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds the effective configuration.
func Load() (*Config, error) {
	cfg := defaults()

	// Optional YAML file layer.
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment overrides.
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Scheduler.Enabled = getEnvBool("SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.IntervalMinutes = getEnvInt("SCHEDULER_INTERVAL_MINUTES", cfg.Scheduler.IntervalMinutes)
	cfg.Scheduler.LockBackend = getEnv("SCHEDULER_LOCK_BACKEND", cfg.Scheduler.LockBackend)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "sentinel"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0

	cfg.Risk.Alpha = 0.30
	cfg.Risk.SpikeWarnThreshold = 10
	cfg.Risk.SpikeCritThreshold = 20
	cfg.Risk.SpikeCooldownMinutes = 60

	cfg.Anomaly.Window = 20
	cfg.Anomaly.ZThreshold = 3.0
	cfg.Anomaly.CooldownMinutes = 10

	cfg.Alerts.CooldownMinutes = 10

	cfg.Cache.RiskKeyPrefix = "insight-sentinel:dataset:"
	cfg.Cache.RiskTTLSeconds = 900

	cfg.Scheduler.Enabled = true
	cfg.Scheduler.IntervalMinutes = 10
	cfg.Scheduler.DatasetTimeoutSeconds = 30
	cfg.Scheduler.LockKey = "insight-sentinel:scheduler:v1"
	cfg.Scheduler.LockBackend = "postgres"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

func (c *Config) validate() error {
	if c.Risk.Alpha <= 0 || c.Risk.Alpha > 1 {
		return fmt.Errorf("risk.alpha must be in (0, 1], got %v", c.Risk.Alpha)
	}
	if c.Risk.SpikeCritThreshold < c.Risk.SpikeWarnThreshold {
		return fmt.Errorf("risk.spike_crit_threshold must be >= spike_warn_threshold")
	}
	if c.Anomaly.Window < 5 {
		return fmt.Errorf("anomaly.window must be >= 5, got %d", c.Anomaly.Window)
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler.interval_minutes must be positive")
	}
	switch c.Scheduler.LockBackend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("scheduler.lock_backend must be postgres or redis, got %q", c.Scheduler.LockBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
