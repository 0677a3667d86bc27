// Package pool provides the per-engine connection pool.
//
// Connections are exclusively owned for their checkout duration. A
// connection involved in a timeout is evicted rather than returned: the
// backend may hold partial server-side statement state.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
)

// Config holds the pool parameters for one engine.
type Config struct {
	// MaxConnections caps concurrently open connections. Default: 10.
	MaxConnections int

	// MinConnections is the idle floor kept warm by the reaper.
	MinConnections int

	// ConnectionTimeout bounds checkout waiting. Default: 5s.
	ConnectionTimeout time.Duration

	// IdleTimeout retires connections idle longer than this. Default: 5m.
	IdleTimeout time.Duration

	// MaxLifetime retires connections older than this. Default: 30m.
	MaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 30 * time.Minute
	}
	return c
}

// pooled is one idle connection with its age bookkeeping.
type pooled struct {
	conn      engine.Conn
	createdAt time.Time
	idleSince time.Time
}

// Pool is the connection pool for a single engine.
type Pool struct {
	adapter engine.Adapter
	config  Config

	mu     sync.Mutex
	idle   []*pooled
	closed bool

	// slots is a counting semaphore over open connections.
	slots chan struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a pool for an adapter and starts the idle reaper.
func New(adapter engine.Adapter, config Config) *Pool {
	config = config.withDefaults()
	p := &Pool{
		adapter: adapter,
		config:  config,
		slots:   make(chan struct{}, config.MaxConnections),
		stop:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.reapLoop()
	return p
}

// Checkout blocks until a connection is available, bounded by
// ConnectionTimeout. Returns PoolExhausted when the pool stays at
// capacity for the whole wait.
func (p *Pool) Checkout(ctx context.Context) (*Checked, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, sberrors.NewConnectionError(p.adapter.ID(), "pool is closed", nil)
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.config.ConnectionTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, sberrors.NewTimeout(p.adapter.ID(), "connection checkout", ctx.Err())
	case <-timer.C:
		return nil, sberrors.NewPoolExhausted(p.adapter.ID(), p.config.MaxConnections)
	}

	// Slot acquired: reuse an idle connection or dial a fresh one.
	if pc := p.takeIdle(); pc != nil {
		return &Checked{pool: p, Conn: pc.conn, createdAt: pc.createdAt}, nil
	}

	conn, err := p.adapter.Connect(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return &Checked{pool: p, Conn: conn, createdAt: time.Now()}, nil
}

// takeIdle pops a live idle connection, discarding any that aged out.
func (p *Pool) takeIdle() *pooled {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for len(p.idle) > 0 {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if now.Sub(last.createdAt) > p.config.MaxLifetime ||
			now.Sub(last.idleSince) > p.config.IdleTimeout {
			last.conn.Close()
			continue
		}
		return last
	}
	return nil
}

// release returns a connection to the pool, or closes it when evicted.
func (p *Pool) release(conn engine.Conn, createdAt time.Time, evict bool) {
	p.mu.Lock()
	if evict || p.closed {
		p.mu.Unlock()
		conn.Close()
		<-p.slots
		return
	}
	p.idle = append(p.idle, &pooled{
		conn:      conn,
		createdAt: createdAt,
		idleSince: time.Now(),
	})
	p.mu.Unlock()
	<-p.slots
}

// Prewarm opens connections up to MinConnections.
func (p *Pool) Prewarm(ctx context.Context) error {
	for i := 0; i < p.config.MinConnections; i++ {
		select {
		case p.slots <- struct{}{}:
		default:
			return nil
		}
		conn, err := p.adapter.Connect(ctx)
		if err != nil {
			<-p.slots
			return err
		}
		p.mu.Lock()
		p.idle = append(p.idle, &pooled{conn: conn, createdAt: time.Now(), idleSince: time.Now()})
		p.mu.Unlock()
		<-p.slots
	}
	return nil
}

// Stats reports the pool's current occupancy.
func (p *Pool) Stats() (active, idle int) {
	p.mu.Lock()
	idle = len(p.idle)
	p.mu.Unlock()
	// Release frees the slot when a connection goes back to idle, so
	// the slot count is exactly the checked-out count.
	active = len(p.slots)
	return active, idle
}

// Close drains the idle set and stops the reaper. Checked-out connections
// are closed by their holders on release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stop)
	for _, c := range idle {
		c.conn.Close()
	}
	p.wg.Wait()
}

// reapLoop prunes idle connections past their idle timeout or lifetime,
// keeping MinConnections warm.
func (p *Pool) reapLoop() {
	defer p.wg.Done()
	interval := p.config.IdleTimeout / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

func (p *Pool) reap() {
	now := time.Now()
	var stale []engine.Conn

	p.mu.Lock()
	kept := make([]*pooled, 0, len(p.idle))
	remaining := len(p.idle)
	for _, c := range p.idle {
		old := now.Sub(c.createdAt) > p.config.MaxLifetime ||
			now.Sub(c.idleSince) > p.config.IdleTimeout
		if old && remaining > p.config.MinConnections {
			stale = append(stale, c.conn)
			remaining--
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
}

// Checked is one checked-out connection. Release must be called exactly
// once on every exit path.
type Checked struct {
	pool      *Pool
	Conn      engine.Conn
	createdAt time.Time
	once      sync.Once
}

// Release returns the connection to the pool. Pass evict=true after a
// timeout or connection failure so the pool discards it.
func (c *Checked) Release(evict bool) {
	c.once.Do(func() {
		c.pool.release(c.Conn, c.createdAt, evict)
	})
}
