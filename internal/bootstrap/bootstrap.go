// Package bootstrap assembles a running system from configuration:
// adapters, pools, the engine manager, health monitoring, transactions,
// the security gate, and the request facade.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/switchboard-data/switchboard/internal/access"
	"github.com/switchboard-data/switchboard/internal/audit"
	"github.com/switchboard-data/switchboard/internal/config"
	"github.com/switchboard-data/switchboard/internal/core"
	"github.com/switchboard-data/switchboard/internal/engine"
	"github.com/switchboard-data/switchboard/internal/engine/bigquery"
	"github.com/switchboard-data/switchboard/internal/engine/docstore"
	"github.com/switchboard-data/switchboard/internal/engine/duckdb"
	"github.com/switchboard-data/switchboard/internal/engine/postgres"
	"github.com/switchboard-data/switchboard/internal/engine/redis"
	"github.com/switchboard-data/switchboard/internal/engine/snowflake"
	"github.com/switchboard-data/switchboard/internal/engine/sqlite"
	"github.com/switchboard-data/switchboard/internal/engine/trino"
	"github.com/switchboard-data/switchboard/internal/health"
	"github.com/switchboard-data/switchboard/internal/history"
	"github.com/switchboard-data/switchboard/internal/manager"
	"github.com/switchboard-data/switchboard/internal/metrics"
	"github.com/switchboard-data/switchboard/internal/pool"
	"github.com/switchboard-data/switchboard/internal/security"
	"github.com/switchboard-data/switchboard/internal/storage"
	"github.com/switchboard-data/switchboard/internal/txn"

	_ "github.com/lib/pq" // PostgreSQL driver for audit and history persistence
)

// System is the assembled application.
type System struct {
	Config   *config.Config
	Registry *engine.Registry
	Manager  *manager.Manager
	Monitor  *health.Monitor
	Txns     *txn.Manager
	Core     *core.Core
	History  historyCloser
	Metrics  metrics.Sink

	auditClose func()
}

type historyCloser struct {
	history.Repository
	db *sql.DB
}

// Build assembles the system. Call Start to begin health monitoring and
// Close to tear everything down.
func Build(ctx context.Context, cfg *config.Config) (*System, error) {
	auditor, auditClose, err := buildAuditor(cfg.Audit)
	if err != nil {
		return nil, err
	}

	hist, histDB, err := buildHistory(cfg.Audit)
	if err != nil {
		auditClose()
		return nil, err
	}

	registry := engine.NewRegistry()
	var sink metrics.Sink = metrics.NoopSink{}
	if cfg.Metrics.Enabled {
		sink = metrics.NewChannelSink(cfg.Metrics.Buffer)
	}
	mgr := manager.New(registry, hist, sink, manager.Config{
		DrainTimeout: config.Duration(cfg.Switch.DrainTimeout, 0),
	})
	mgr.SetPolicies(cfg.Policies)

	for _, engCfg := range cfg.Engines {
		adapter, err := buildAdapter(ctx, engCfg)
		if err != nil {
			mgr.Close()
			auditClose()
			return nil, fmt.Errorf("engine %s: %w", engCfg.ID, err)
		}
		if err := mgr.Register(adapter, poolConfig(cfg.Pool, engCfg.Pool)); err != nil {
			adapter.Close()
			mgr.Close()
			auditClose()
			return nil, err
		}
	}

	monitor := health.NewMonitor(registry, mgr, health.Config{
		Interval:               config.Duration(cfg.Monitor.Interval, 0),
		ProbeTimeout:           config.Duration(cfg.Monitor.ProbeTimeout, 0),
		DegradedLatencyMS:      cfg.Monitor.DegradedLatencyMS,
		MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
	})

	txns := txn.NewManager(mgr, txn.Config{
		MaxOpenDuration: config.Duration(cfg.Transactions.MaxOpenDuration, 0),
		SweepInterval:   config.Duration(cfg.Transactions.SweepInterval, 0),
	})

	var checker access.Checker = access.AllowAll{}
	if cfg.Access.Enabled {
		checker = access.NewStaticChecker(cfg.Access.Rules)
	}

	gate := security.NewGate(auditor)
	facade := core.New(mgr, txns, gate, checker, auditor, core.Config{
		DefaultTimeout: config.Duration(cfg.Execution.DefaultTimeout, 0),
		Retry:          retryConfig(cfg.Execution),
	})

	return &System{
		Config:     cfg,
		Registry:   registry,
		Manager:    mgr,
		Monitor:    monitor,
		Txns:       txns,
		Core:       facade,
		History:    historyCloser{Repository: hist, db: histDB},
		Metrics:    sink,
		auditClose: auditClose,
	}, nil
}

// Start launches the health probe loop. The transaction janitor starts
// with the transaction manager in Build.
func (s *System) Start() {
	s.Monitor.Start()
}

// Prewarm opens connections up to an engine's configured pool minimum.
func (s *System) Prewarm(ctx context.Context, engineID string) error {
	return s.Manager.Prewarm(ctx, engineID)
}

// Close tears the system down in dependency order.
func (s *System) Close() {
	s.Monitor.Stop()
	s.Txns.Close()
	s.Manager.Close()
	if s.History.db != nil {
		s.History.db.Close()
	}
	s.auditClose()
}

func buildAdapter(ctx context.Context, engCfg config.EngineConfig) (engine.Adapter, error) {
	switch engCfg.Kind {
	case "postgres":
		return postgres.NewAdapter(engCfg.ID, postgres.Config{
			Host:     engCfg.Postgres.Host,
			Port:     engCfg.Postgres.Port,
			User:     engCfg.Postgres.User,
			Password: engCfg.Postgres.Password,
			Database: engCfg.Postgres.Database,
			SSLMode:  engCfg.Postgres.SSLMode,
		})
	case "sqlite":
		return sqlite.NewAdapter(engCfg.ID, sqlite.Config{Path: engCfg.SQLite.Path})
	case "duckdb":
		return duckdb.NewAdapter(engCfg.ID, duckdb.Config{DatabasePath: engCfg.DuckDB.Database})
	case "snowflake":
		return snowflake.NewAdapter(engCfg.ID, snowflake.Config{
			Account:   engCfg.Snowflake.Account,
			User:      engCfg.Snowflake.User,
			Password:  engCfg.Snowflake.Password,
			Database:  engCfg.Snowflake.Database,
			Schema:    engCfg.Snowflake.Schema,
			Warehouse: engCfg.Snowflake.Warehouse,
			Role:      engCfg.Snowflake.Role,
		})
	case "trino":
		return trino.NewAdapter(engCfg.ID, trino.Config{
			Host:    engCfg.Trino.Host,
			Port:    engCfg.Trino.Port,
			User:    engCfg.Trino.User,
			Catalog: engCfg.Trino.Catalog,
			Schema:  engCfg.Trino.Schema,
			SSLMode: engCfg.Trino.SSLMode,
		})
	case "bigquery":
		credentials, err := readCredentials(engCfg.BigQuery.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return bigquery.NewAdapter(ctx, engCfg.ID, bigquery.Config{
			ProjectID:       engCfg.BigQuery.ProjectID,
			CredentialsJSON: credentials,
			Location:        engCfg.BigQuery.Location,
			DefaultDataset:  engCfg.BigQuery.Dataset,
		})
	case "redis":
		return redis.NewAdapter(engCfg.ID, redis.Config{URL: engCfg.Redis.URL})
	case "docstore":
		return docstore.NewAdapter(ctx, engCfg.ID, docstore.Config{Path: engCfg.Docstore.Path})
	default:
		return nil, fmt.Errorf("unknown engine kind %q", engCfg.Kind)
	}
}

func readCredentials(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading credentials file: %w", err)
	}
	return string(data), nil
}

func poolConfig(global config.PoolConfig, override *config.PoolConfig) pool.Config {
	src := global
	if override != nil {
		src = *override
	}
	return pool.Config{
		MaxConnections:    src.MaxConnections,
		MinConnections:    src.MinConnections,
		ConnectionTimeout: config.Duration(src.ConnectionTimeout, 0),
		IdleTimeout:       config.Duration(src.IdleTimeout, 0),
		MaxLifetime:       config.Duration(src.MaxLifetime, 0),
	}
}

func retryConfig(execCfg config.ExecutionConfig) engine.RetryConfig {
	retry := engine.DefaultRetryConfig()
	if execCfg.RetryAttempts > 0 {
		retry.MaxAttempts = execCfg.RetryAttempts
	}
	return retry
}

func buildAuditor(auditCfg config.AuditConfig) (audit.Logger, func(), error) {
	switch auditCfg.Mode {
	case "", "noop":
		return audit.NewNoopLogger(), func() {}, nil
	case "json":
		f, err := os.OpenFile(auditCfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening audit log: %w", err)
		}
		return audit.NewJSONLogger(f), func() { f.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", auditCfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening audit database: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := storage.NewMigrationRunner(db).Run(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrating audit database: %w", err)
		}
		logger := audit.NewPostgresLogger(db)
		return logger, func() {
			logger.Close()
			db.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit mode %q", auditCfg.Mode)
	}
}

// buildHistory persists switch events beside the audit trail when the
// audit backend is postgres; otherwise events stay in memory.
func buildHistory(auditCfg config.AuditConfig) (history.Repository, *sql.DB, error) {
	if auditCfg.Mode != "postgres" {
		return history.NewMemoryRepository(), nil, nil
	}
	db, err := sql.Open("postgres", auditCfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}
	return history.NewPostgresRepository(db), db, nil
}
