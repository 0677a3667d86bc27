package txn

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/pool"
)

// ConnSource hands out adapters and pooled connections by engine id. The
// dynamic engine manager satisfies it.
type ConnSource interface {
	Adapter(engineID string) (engine.Adapter, error)
	Checkout(ctx context.Context, engineID string) (*pool.Checked, error)
}

// Config tunes the transaction manager.
type Config struct {
	// MaxOpenDuration is how long a transaction may stay open before the
	// janitor rolls it back and reclaims its connection.
	MaxOpenDuration time.Duration

	// SweepInterval is how often the janitor scans for abandoned
	// transactions.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenDuration <= 0 {
		c.MaxOpenDuration = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// Manager opens transactions, tracks the open set, and reclaims
// abandoned ones.
type Manager struct {
	source ConnSource
	config Config

	mu   sync.Mutex
	open map[string]*Transaction

	stop chan struct{}
	wg   sync.WaitGroup

	// Warnf receives janitor and safety-net warnings. Defaults to
	// log.Printf.
	Warnf func(format string, args ...interface{})
}

// NewManager builds a transaction manager and starts its janitor.
func NewManager(source ConnSource, config Config) *Manager {
	m := &Manager{
		source: source,
		config: config.withDefaults(),
		open:   make(map[string]*Transaction),
		stop:   make(chan struct{}),
		Warnf:  log.Printf,
	}
	m.wg.Add(1)
	go m.janitor()
	return m
}

// Begin opens a transaction on the given engine at the given isolation
// level, binding one pooled connection exclusively until Commit,
// Rollback, or Close.
func (m *Manager) Begin(ctx context.Context, engineID string, level engine.IsolationLevel) (*Transaction, error) {
	adapter, err := m.source.Adapter(engineID)
	if err != nil {
		return nil, err
	}
	if !adapter.SupportsTransactions() {
		return nil, sberrors.NewUnsupportedOperation(engineID, "transactions")
	}

	checked, err := m.source.Checkout(ctx, engineID)
	if err != nil {
		return nil, err
	}
	txConn, ok := checked.Conn.(engine.TxConn)
	if !ok {
		checked.Release(false)
		return nil, sberrors.NewUnsupportedOperation(engineID, "transactions")
	}
	if err := txConn.BeginTx(ctx, level); err != nil {
		checked.Release(true)
		return nil, err
	}

	tx := newTransaction(m, engineID, level, checked, txConn)
	m.mu.Lock()
	m.open[tx.id] = tx
	m.mu.Unlock()
	return tx, nil
}

// Get returns an open transaction by id.
func (m *Manager) Get(txID string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.open[txID]
	if !ok {
		return nil, sberrors.NewTransactionAlreadyClosed(txID, "unknown or already closed")
	}
	return tx, nil
}

// OpenCount reports how many transactions are currently open.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// OpenOn reports how many transactions are open against one engine. The
// switch orchestrator consults this during drain.
func (m *Manager) OpenOn(engineID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tx := range m.open {
		if tx.engineID == engineID {
			n++
		}
	}
	return n
}

// Close rolls back every open transaction and stops the janitor.
func (m *Manager) Close() {
	close(m.stop)
	m.wg.Wait()

	m.mu.Lock()
	stale := make([]*Transaction, 0, len(m.open))
	for _, tx := range m.open {
		stale = append(stale, tx)
	}
	m.mu.Unlock()
	for _, tx := range stale {
		tx.Close()
	}
}

func (m *Manager) forget(txID string) {
	m.mu.Lock()
	delete(m.open, txID)
	m.mu.Unlock()
}

func (m *Manager) warnf(format string, args ...interface{}) {
	if m.Warnf != nil {
		m.Warnf(format, args...)
	}
}

// janitor periodically rolls back transactions abandoned past
// MaxOpenDuration so their connections return to the pool.
func (m *Manager) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	expired := make([]*Transaction, 0)
	for _, tx := range m.open {
		if tx.Age() > m.config.MaxOpenDuration {
			expired = append(expired, tx)
		}
	}
	m.mu.Unlock()

	for _, tx := range expired {
		tx.mu.Lock()
		if tx.state == StateOpen && tx.Age() > m.config.MaxOpenDuration {
			tx.abandonLocked("abandoned")
		}
		tx.mu.Unlock()
	}
}
