package pool

import (
	"container/list"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"deskwise-control/internal/config"
	"deskwise-control/internal/schema"

	"go.uber.org/zap"
)

var (
	// ErrPoolTimeout no free connection became available within the wait.
	// Transient; safe for the caller to retry.
	ErrPoolTimeout = errors.New("timed out waiting for a pooled connection")
	// ErrPoolSaturated the global connection ceiling is reached and no idle
	// pool can be evicted. Surfaced for operational alerting.
	ErrPoolSaturated = errors.New("connection pools saturated")
)

// Opener opens the per-tenant database handle for one schema. The production
// opener pins search_path to the schema; tests inject mock handles. Opening
// is lazy (database/sql dials on first use) and always runs outside the
// manager's bookkeeping lock.
type Opener func(schemaName string) (*sql.DB, error)

// NewPostgresOpener builds the production opener. Every connection in a
// tenant pool carries search_path=<tenant schema>, so feature SQL stays
// schema-qualified implicitly.
func NewPostgresOpener(dbCfg *config.DatabaseConfig, poolCfg config.PoolConfig) Opener {
	return func(schemaName string) (*sql.DB, error) {
		db, err := sql.Open("postgres", dbCfg.DSNForSchema(schemaName))
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(poolCfg.PerTenantMax)
		db.SetMaxIdleConns(poolCfg.PerTenantMax)
		db.SetConnMaxIdleTime(poolCfg.IdleTTL)
		return db, nil
	}
}

// pool bookkeeping for one tenant. All fields are guarded by Manager.mu;
// the db handle itself is used outside the lock.
type pool struct {
	tenantID string
	db       *sql.DB
	cap      int // connections this pool may open, counted against the ceiling
	inUse    int
	lastUsed time.Time
	elem     *list.Element
}

// Conn is a checked-out tenant connection. Queries run entirely outside the
// manager's lock. Release returns it to the pool.
type Conn struct {
	*sql.Conn
	mgr *Manager
	p   *pool
}

// Release hands the connection back to its pool.
func (c *Conn) Release() error {
	c.mgr.release(c.p)
	return c.Conn.Close()
}

// Manager owns the per-tenant pools. A single mutex protects only the pool
// table's bookkeeping (creation, eviction, LRU ordering); connection checkout
// and query execution never hold it.
type Manager struct {
	opener Opener
	cfg    config.PoolConfig
	logger *zap.Logger

	mu       sync.Mutex
	pools    map[string]*pool
	lru      *list.List // front = most recently used
	totalCap int
}

func NewManager(opener Opener, cfg config.PoolConfig, logger *zap.Logger) *Manager {
	return &Manager{
		opener: opener,
		cfg:    cfg,
		logger: logger,
		pools:  map[string]*pool{},
		lru:    list.New(),
	}
}

// Acquire returns a connection scoped to the tenant's schema, waiting up to
// timeout for a free one. A timeout yields ErrPoolTimeout, not a wrapped
// driver error.
func (m *Manager) Acquire(ctx context.Context, tenantID string, timeout time.Duration) (*Conn, error) {
	p, err := m.getPool(tenantID)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = m.cfg.AcquireTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.db.Conn(waitCtx)
	if err != nil {
		m.release(p)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrPoolTimeout)
		}
		return nil, fmt.Errorf("failed to acquire connection for tenant %s: %w", tenantID, err)
	}

	return &Conn{Conn: conn, mgr: m, p: p}, nil
}

// getPool returns the tenant's pool, lazily creating it under the global
// ceiling. The returned pool has its inUse count already incremented so a
// concurrent sweep cannot close it between lookup and checkout.
func (m *Manager) getPool(tenantID string) (*pool, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	m.mu.Lock()
	if p, ok := m.pools[tenantID]; ok {
		p.inUse++
		p.lastUsed = time.Now()
		m.lru.MoveToFront(p.elem)
		m.mu.Unlock()
		return p, nil
	}

	// New pool needed: evict LRU idle pools until the ceiling admits one.
	var evicted []*pool
	for m.totalCap+m.cfg.PerTenantMax > m.cfg.GlobalMax {
		victim := m.lruIdleLocked()
		if victim == nil {
			m.mu.Unlock()
			m.closeAll(evicted)
			return nil, fmt.Errorf("tenant %s needs %d connections, ceiling %d: %w",
				tenantID, m.cfg.PerTenantMax, m.cfg.GlobalMax, ErrPoolSaturated)
		}
		m.removeLocked(victim)
		evicted = append(evicted, victim)
	}
	m.totalCap += m.cfg.PerTenantMax
	m.mu.Unlock()

	// Close victims and open the new handle outside the lock.
	m.closeAll(evicted)

	db, err := m.opener(schema.Name(tenantID))
	if err != nil {
		m.mu.Lock()
		m.totalCap -= m.cfg.PerTenantMax
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to open pool for tenant %s: %w", tenantID, err)
	}

	m.mu.Lock()
	if existing, ok := m.pools[tenantID]; ok {
		// lost the race to another goroutine; keep theirs
		m.totalCap -= m.cfg.PerTenantMax
		existing.inUse++
		existing.lastUsed = time.Now()
		m.lru.MoveToFront(existing.elem)
		m.mu.Unlock()
		_ = db.Close()
		return existing, nil
	}
	p := &pool{
		tenantID: tenantID,
		db:       db,
		cap:      m.cfg.PerTenantMax,
		inUse:    1,
		lastUsed: time.Now(),
	}
	p.elem = m.lru.PushFront(p)
	m.pools[tenantID] = p
	m.mu.Unlock()

	m.logger.Debug("Tenant pool created",
		zap.String("tenant_id", tenantID),
		zap.Int("pool_cap", p.cap),
	)
	return p, nil
}

func (m *Manager) release(p *pool) {
	m.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	p.lastUsed = time.Now()
	m.mu.Unlock()
}

// lruIdleLocked finds the least-recently-used pool with no checked-out
// connections. Caller holds the lock.
func (m *Manager) lruIdleLocked() *pool {
	for e := m.lru.Back(); e != nil; e = e.Prev() {
		p := e.Value.(*pool)
		if p.inUse == 0 {
			return p
		}
	}
	return nil
}

func (m *Manager) removeLocked(p *pool) {
	m.lru.Remove(p.elem)
	delete(m.pools, p.tenantID)
	m.totalCap -= p.cap
}

func (m *Manager) closeAll(pools []*pool) {
	for _, p := range pools {
		if err := p.db.Close(); err != nil {
			m.logger.Warn("Failed to close evicted pool",
				zap.String("tenant_id", p.tenantID),
				zap.Error(err),
			)
		} else {
			m.logger.Info("Closed tenant pool", zap.String("tenant_id", p.tenantID))
		}
	}
}

// Sweep closes pools idle beyond the TTL. Most tenants are idle at any given
// moment, so this keeps the shared instance's connection count low.
func (m *Manager) Sweep() {
	cutoff := time.Now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var victims []*pool
	for e := m.lru.Back(); e != nil; {
		prev := e.Prev()
		p := e.Value.(*pool)
		if p.inUse == 0 && p.lastUsed.Before(cutoff) {
			m.removeLocked(p)
			victims = append(victims, p)
		}
		e = prev
	}
	m.mu.Unlock()

	m.closeAll(victims)
}

// Run drives the background sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Stats is a bookkeeping snapshot for health endpoints and tests.
type Stats struct {
	Pools    int
	TotalCap int
	InUse    int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Pools: len(m.pools), TotalCap: m.totalCap}
	for _, p := range m.pools {
		s.InUse += p.inUse
	}
	return s
}

// Close shuts every pool down. Used on process exit.
func (m *Manager) Close() {
	m.mu.Lock()
	var all []*pool
	for _, p := range m.pools {
		all = append(all, p)
	}
	m.pools = map[string]*pool{}
	m.lru.Init()
	m.totalCap = 0
	m.mu.Unlock()

	m.closeAll(all)
}
