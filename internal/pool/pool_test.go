package pool

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/value"
)

// fakeConn counts closes so eviction behavior is observable.
type fakeConn struct {
	closed atomic.Int32
}

func (c *fakeConn) Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error) {
	return &value.QueryResult{}, nil
}
func (c *fakeConn) Ping(ctx context.Context) error { return nil }
func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

// fakeAdapter dials fakeConns and counts dials.
type fakeAdapter struct {
	id       string
	connects atomic.Int32
	conns    []*fakeConn
}

func (a *fakeAdapter) ID() string                  { return a.id }
func (a *fakeAdapter) Backend() engine.BackendType { return engine.BackendRelational }
func (a *fakeAdapter) Dialect() engine.Dialect     { return engine.DialectQuestion }
func (a *fakeAdapter) SupportsTransactions() bool  { return true }
func (a *fakeAdapter) SupportsJSON() bool          { return false }
func (a *fakeAdapter) Connect(ctx context.Context) (engine.Conn, error) {
	a.connects.Add(1)
	c := &fakeConn{}
	a.conns = append(a.conns, c)
	return c, nil
}
func (a *fakeAdapter) HealthCheck(ctx context.Context) (engine.HealthStatus, error) {
	return engine.HealthStatus{LatencyMS: 1}, nil
}
func (a *fakeAdapter) Close() error { return nil }

func TestPool_CheckoutReusesReleasedConnection(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-a"}
	p := New(adapter, Config{MaxConnections: 2})
	defer p.Close()

	// Arrange: one checkout/release cycle seeds the idle set.
	first, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	first.Release(false)

	// Act: the next checkout should not dial again.
	second, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer second.Release(false)

	if got := adapter.connects.Load(); got != 1 {
		t.Fatalf("connects = %d, want 1 (idle connection reused)", got)
	}
	if second.Conn != first.Conn {
		t.Fatal("second checkout returned a different connection than the released one")
	}
}

func TestPool_ExhaustionReturnsPoolExhausted(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-a"}
	p := New(adapter, Config{MaxConnections: 1, ConnectionTimeout: 30 * time.Millisecond})
	defer p.Close()

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer held.Release(false)

	_, err = p.Checkout(context.Background())
	if err == nil {
		t.Fatal("Checkout with pool at capacity succeeded, want PoolExhausted")
	}
	if got := sberrors.CategoryOf(err); got != sberrors.CategoryConnection {
		t.Fatalf("category = %q, want %q", got, sberrors.CategoryConnection)
	}
	if !strings.Contains(err.Error(), "pool exhausted") {
		t.Fatalf("error = %v, want pool exhausted message", err)
	}
}

func TestPool_CheckoutHonorsContextCancellation(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-a"}
	p := New(adapter, Config{MaxConnections: 1, ConnectionTimeout: 5 * time.Second})
	defer p.Close()

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer held.Release(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Checkout(ctx)
	if !sberrors.IsTimeout(err) {
		t.Fatalf("Checkout under cancelled context = %v, want timeout category", err)
	}
}

func TestPool_EvictedConnectionIsClosedNotReused(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-a"}
	p := New(adapter, Config{MaxConnections: 2})
	defer p.Close()

	checked, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	evicted := checked.Conn.(*fakeConn)

	// Act: eviction closes the connection instead of pooling it.
	checked.Release(true)

	if evicted.closed.Load() != 1 {
		t.Fatal("evicted connection was not closed")
	}

	next, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer next.Release(false)
	if next.Conn == evicted {
		t.Fatal("evicted connection was handed out again")
	}
	if got := adapter.connects.Load(); got != 2 {
		t.Fatalf("connects = %d, want 2 (fresh dial after eviction)", got)
	}
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-a"}
	p := New(adapter, Config{MaxConnections: 1, ConnectionTimeout: 100 * time.Millisecond})
	defer p.Close()

	checked, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	checked.Release(false)
	checked.Release(false) // second call must be a no-op, not a double-free

	if _, idle := p.Stats(); idle != 1 {
		t.Fatalf("idle = %d after double release, want 1", idle)
	}
}

func TestPool_Stats(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-a"}
	p := New(adapter, Config{MaxConnections: 3})
	defer p.Close()

	a, _ := p.Checkout(context.Background())
	b, _ := p.Checkout(context.Background())
	if active, idle := p.Stats(); active != 2 || idle != 0 {
		t.Fatalf("Stats = (%d, %d), want (2, 0)", active, idle)
	}

	b.Release(false)
	if active, idle := p.Stats(); active != 1 || idle != 1 {
		t.Fatalf("Stats = (%d, %d), want (1, 1)", active, idle)
	}
	a.Release(false)
}

func TestPool_PrewarmOpensMinConnections(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-a"}
	p := New(adapter, Config{MaxConnections: 5, MinConnections: 3})
	defer p.Close()

	if err := p.Prewarm(context.Background()); err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
	if got := adapter.connects.Load(); got != 3 {
		t.Fatalf("connects = %d, want 3", got)
	}
	if _, idle := p.Stats(); idle != 3 {
		t.Fatalf("idle = %d after prewarm, want 3", idle)
	}
}

func TestPool_CloseDrainsIdleAndRefusesCheckout(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-a"}
	p := New(adapter, Config{MaxConnections: 2})

	checked, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	pooledConn := checked.Conn.(*fakeConn)
	checked.Release(false)

	p.Close()

	if pooledConn.closed.Load() != 1 {
		t.Fatal("idle connection survived Close")
	}
	if _, err := p.Checkout(context.Background()); err == nil {
		t.Fatal("Checkout on closed pool succeeded")
	}
}
