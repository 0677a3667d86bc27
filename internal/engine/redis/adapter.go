// Package redis provides the Redis key-value engine adapter.
//
// Redis commands arrive as JSON envelopes, e.g.
//
//	{"operation":"set","key":"$1","value":"$2","ttl_seconds":60}
//	{"operation":"get","key":"$1"}
//	{"operation":"scan","pattern":"user:*","limit":100}
//
// Results are normalized into the shared row model. The adapter reports no
// transaction support, so begin() against it fails with
// UnsupportedOperation.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/value"
)

// Config configures the Redis adapter.
type Config struct {
	// URL is a redis:// connection URL.
	URL string
}

// Adapter is the Redis engine adapter.
type Adapter struct {
	mu     sync.RWMutex
	id     string
	client *redis.Client
	closed bool
}

// NewAdapter opens a Redis adapter with the given engine id.
func NewAdapter(engineID string, config Config) (*Adapter, error) {
	url := config.URL
	if url == "" {
		url = "redis://localhost:6379"
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, sberrors.NewConnectionError(engineID, "invalid redis URL", err)
	}
	return &Adapter{id: engineID, client: redis.NewClient(opt)}, nil
}

// ID returns the engine id.
func (a *Adapter) ID() string { return a.id }

// Backend returns the engine family.
func (a *Adapter) Backend() engine.BackendType { return engine.BackendKeyValue }

// Dialect returns the envelope dialect.
func (a *Adapter) Dialect() engine.Dialect { return engine.DialectEnvelope }

// SupportsTransactions reports false; MULTI/EXEC does not honor the
// savepoint protocol.
func (a *Adapter) SupportsTransactions() bool { return false }

// SupportsJSON reports JSON value support.
func (a *Adapter) SupportsJSON() bool { return true }

// Connect checks out a dedicated connection from the client.
func (a *Adapter) Connect(ctx context.Context) (engine.Conn, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, sberrors.NewConnectionError(a.id, "adapter is closed", nil)
	}
	c := a.client.Conn()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, sberrors.NewConnectionError(a.id, "failed to establish connection", err)
	}
	return &conn{engineID: a.id, conn: c}, nil
}

// HealthCheck pings on the shared client path, separate from checked-out
// connections, and reports latency.
func (a *Adapter) HealthCheck(ctx context.Context) (engine.HealthStatus, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return engine.HealthStatus{}, sberrors.NewConnectionError(a.id, "adapter is closed", nil)
	}
	client := a.client
	a.mu.RUnlock()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return engine.HealthStatus{}, sberrors.NewConnectionError(a.id, "health probe failed", err)
	}
	return engine.HealthStatus{LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0}, nil
}

// Close releases the client. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.client.Close()
}

type conn struct {
	engineID string
	conn     *redis.Conn
	closed   bool
	mu       sync.Mutex
}

// Execute translates a command envelope into native client calls.
func (c *conn) Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error) {
	env, err := engine.ParseEnvelope(command, params)
	if err != nil {
		return nil, sberrors.NewQueryFailed(c.engineID, err)
	}

	switch env.Operation {
	case "get":
		return c.get(ctx, env)
	case "set":
		return c.set(ctx, env)
	case "del":
		return c.del(ctx, env)
	case "exists":
		return c.exists(ctx, env)
	case "scan":
		return c.scan(ctx, env)
	default:
		return nil, sberrors.NewQueryFailed(c.engineID,
			fmt.Errorf("unsupported operation %q", env.Operation))
	}
}

func (c *conn) get(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	val, err := c.conn.Get(ctx, env.Key).Result()
	if err == redis.Nil {
		return &value.QueryResult{}, nil
	}
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return &value.QueryResult{Rows: []value.Row{{
		Columns: []string{"key", "value"},
		Values:  []value.Value{value.String(env.Key), value.String(val)},
	}}}, nil
}

func (c *conn) set(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	payload, err := encodeValue(env.Value)
	if err != nil {
		return nil, sberrors.NewQueryFailed(c.engineID, err)
	}
	ttl := time.Duration(env.TTLSeconds) * time.Second
	if err := c.conn.Set(ctx, env.Key, payload, ttl).Err(); err != nil {
		return nil, c.classify(ctx, err)
	}
	affected := int64(1)
	return &value.QueryResult{RowsAffected: &affected}, nil
}

func (c *conn) del(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	n, err := c.conn.Del(ctx, env.Key).Result()
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return &value.QueryResult{RowsAffected: &n}, nil
}

func (c *conn) exists(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	n, err := c.conn.Exists(ctx, env.Key).Result()
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return &value.QueryResult{Rows: []value.Row{{
		Columns: []string{"key", "exists"},
		Values:  []value.Value{value.String(env.Key), value.Bool(n > 0)},
	}}}, nil
}

func (c *conn) scan(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	pattern := env.Pattern
	if pattern == "" {
		pattern = "*"
	}
	limit := env.Limit
	if limit <= 0 {
		limit = 1000
	}

	result := &value.QueryResult{}
	var cursor uint64
	for {
		keys, next, err := c.conn.Scan(ctx, cursor, pattern, int64(limit)).Result()
		if err != nil {
			return nil, c.classify(ctx, err)
		}
		for _, k := range keys {
			result.Rows = append(result.Rows, value.Row{
				Columns: []string{"key"},
				Values:  []value.Value{value.String(k)},
			})
			if len(result.Rows) >= limit {
				return result, nil
			}
		}
		cursor = next
		if cursor == 0 {
			return result, nil
		}
	}
}

// Ping verifies the connection is still usable.
func (c *conn) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx).Err(); err != nil {
		return sberrors.NewConnectionError(c.engineID, "connection lost", err)
	}
	return nil
}

// Close releases the connection. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *conn) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return sberrors.NewTimeout(c.engineID, "execute", err)
	}
	return sberrors.NewConnectionError(c.engineID, "redis command failed", err)
}

// encodeValue renders an envelope value as the stored string. Strings pass
// through; structured values are stored as JSON.
func encodeValue(v interface{}) (string, error) {
	switch n := v.(type) {
	case nil:
		return "", nil
	case string:
		return n, nil
	default:
		buf, err := json.Marshal(n)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
