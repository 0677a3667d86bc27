// Package config provides configuration loading for the switchboard CLI
// and daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/switchboard-data/switchboard/internal/access"
	"github.com/switchboard-data/switchboard/internal/manager"
)

// Config holds the application configuration.
type Config struct {
	// Engines is the fleet definition, in registration order. The first
	// entry becomes the primary active engine.
	Engines []EngineConfig `mapstructure:"engines"`

	// Pool holds connection pool defaults, overridable per engine.
	Pool PoolConfig `mapstructure:"pool"`

	// Monitor holds health monitoring configuration.
	Monitor MonitorConfig `mapstructure:"monitor"`

	// Switch holds switch orchestration configuration.
	Switch SwitchConfig `mapstructure:"switch"`

	// Transactions holds transaction manager configuration.
	Transactions TransactionConfig `mapstructure:"transactions"`

	// Execution holds request execution configuration.
	Execution ExecutionConfig `mapstructure:"execution"`

	// Audit holds audit logging configuration.
	Audit AuditConfig `mapstructure:"audit"`

	// Access holds authorization configuration.
	Access AccessConfig `mapstructure:"access"`

	// Metrics holds metrics sink configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Policies are the standing switch policies.
	Policies []manager.SwitchPolicy `mapstructure:"policies"`
}

// EngineConfig defines one engine. Kind selects which of the per-backend
// blocks applies.
type EngineConfig struct {
	ID   string `mapstructure:"id"`
	Kind string `mapstructure:"kind"` // postgres, sqlite, duckdb, snowflake, trino, bigquery, redis, docstore

	// Pool overrides the global pool settings for this engine.
	Pool *PoolConfig `mapstructure:"pool"`

	Postgres  PostgresConfig  `mapstructure:"postgres"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	DuckDB    DuckDBConfig    `mapstructure:"duckdb"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	Trino     TrinoConfig     `mapstructure:"trino"`
	BigQuery  BigQueryConfig  `mapstructure:"bigquery"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Docstore  DocstoreConfig  `mapstructure:"docstore"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// DuckDBConfig holds DuckDB settings.
type DuckDBConfig struct {
	Database string `mapstructure:"database"`
}

// SnowflakeConfig holds Snowflake connection settings.
type SnowflakeConfig struct {
	Account   string `mapstructure:"account"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	Schema    string `mapstructure:"schema"`
	Warehouse string `mapstructure:"warehouse"`
	Role      string `mapstructure:"role"`
}

// TrinoConfig holds Trino connection settings.
type TrinoConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Catalog string `mapstructure:"catalog"`
	Schema  string `mapstructure:"schema"`
	SSLMode string `mapstructure:"sslmode"`
}

// BigQueryConfig holds BigQuery connection settings.
type BigQueryConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Location        string `mapstructure:"location"`
	Dataset         string `mapstructure:"dataset"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DocstoreConfig holds document store settings.
type DocstoreConfig struct {
	Path string `mapstructure:"path"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConnections    int    `mapstructure:"max_connections"`
	MinConnections    int    `mapstructure:"min_connections"`
	ConnectionTimeout string `mapstructure:"connection_timeout"`
	IdleTimeout       string `mapstructure:"idle_timeout"`
	MaxLifetime       string `mapstructure:"max_lifetime"`
}

// MonitorConfig holds health monitoring settings.
type MonitorConfig struct {
	Interval               string  `mapstructure:"interval"`
	ProbeTimeout           string  `mapstructure:"probe_timeout"`
	DegradedLatencyMS      float64 `mapstructure:"degraded_latency_ms"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures"`
}

// SwitchConfig holds switch orchestration settings.
type SwitchConfig struct {
	DrainTimeout string `mapstructure:"drain_timeout"`
}

// TransactionConfig holds transaction manager settings.
type TransactionConfig struct {
	MaxOpenDuration string `mapstructure:"max_open_duration"`
	SweepInterval   string `mapstructure:"sweep_interval"`
}

// ExecutionConfig holds request execution settings.
type ExecutionConfig struct {
	DefaultTimeout string `mapstructure:"default_timeout"`
	RetryAttempts  int    `mapstructure:"retry_attempts"`
}

// AuditConfig holds audit logging settings. Mode selects the backend:
// "json" writes JSON lines to Path, "postgres" persists to DSN, "noop"
// discards.
type AuditConfig struct {
	Mode string `mapstructure:"mode"`
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

// MetricsConfig holds metrics sink settings. Disabled means samples are
// discarded; enabled buffers them for an external consumer.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Buffer  int  `mapstructure:"buffer"`
}

// AccessConfig holds authorization settings. Disabled means every
// request is allowed.
type AccessConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Rules   []access.Rule `mapstructure:"rules"`
}

// Duration parses a duration string, falling back when empty or invalid.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".switchboard"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SWITCHBOARD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for i, eng := range c.Engines {
		if eng.ID == "" {
			return fmt.Errorf("engines[%d]: id is required", i)
		}
		if seen[eng.ID] {
			return fmt.Errorf("engines[%d]: duplicate engine id %q", i, eng.ID)
		}
		seen[eng.ID] = true
		switch eng.Kind {
		case "postgres", "sqlite", "duckdb", "snowflake", "trino", "bigquery", "redis", "docstore":
		case "":
			return fmt.Errorf("engine %s: kind is required", eng.ID)
		default:
			return fmt.Errorf("engine %s: unknown kind %q", eng.ID, eng.Kind)
		}
	}
	for _, policy := range c.Policies {
		if policy.Name == "" {
			return fmt.Errorf("policies: name is required")
		}
		if policy.Target != "" && !seen[policy.Target] {
			return fmt.Errorf("policy %s: target %q is not a configured engine", policy.Name, policy.Target)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.max_connections", 10)
	v.SetDefault("pool.min_connections", 0)
	v.SetDefault("pool.connection_timeout", "5s")
	v.SetDefault("pool.idle_timeout", "5m")
	v.SetDefault("pool.max_lifetime", "30m")
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.probe_timeout", "5s")
	v.SetDefault("monitor.degraded_latency_ms", 1000)
	v.SetDefault("monitor.max_consecutive_failures", 3)
	v.SetDefault("switch.drain_timeout", "30s")
	v.SetDefault("transactions.max_open_duration", "5m")
	v.SetDefault("transactions.sweep_interval", "30s")
	v.SetDefault("execution.default_timeout", "30s")
	v.SetDefault("execution.retry_attempts", 3)
	v.SetDefault("audit.mode", "json")
	v.SetDefault("audit.path", "audit.log")
	v.SetDefault("access.enabled", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.buffer", 256)
}
