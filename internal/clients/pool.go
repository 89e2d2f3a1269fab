package clients

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// Dialer creates an admin client for a cluster. Swapped for a fake in
// tests.
type Dialer func(info *domain.ConnectionInfo) (AdminClient, error)

// PoolOptions tunes the pool's capacity and background jobs.
type PoolOptions struct {
	MaxConnections      int
	MaxIdleTime         time.Duration
	HealthCheckInterval time.Duration
	CleanupInterval     time.Duration
	RequestTimeout      time.Duration
}

// DefaultPoolOptions returns the documented pool defaults.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConnections:      10,
		MaxIdleTime:         300 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		CleanupInterval:     120 * time.Second,
		RequestTimeout:      30 * time.Second,
	}
}

// EntryStats is a snapshot of one pooled connection's counters.
type EntryStats struct {
	InstanceID string    `json:"instance_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
	UseCount   int64     `json:"use_count"`
	IsHealthy  bool      `json:"is_healthy"`
}

// entry owns one admin connection plus its stats. Entry state is
// guarded by its own mutex so admin calls do not hold the pool lock.
type entry struct {
	mu        sync.Mutex
	info      *domain.ConnectionInfo
	client    AdminClient
	createdAt time.Time
	lastUsed  time.Time
	useCount  int64
	healthy   bool
}

func (e *entry) stats(instanceID string) EntryStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EntryStats{
		InstanceID: instanceID,
		CreatedAt:  e.createdAt,
		LastUsed:   e.lastUsed,
		UseCount:   e.useCount,
		IsHealthy:  e.healthy,
	}
}

func (e *entry) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
}

// Pool keeps one admin connection per registered cluster, with
// background health checking and idle eviction.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	dial    Dialer
	opts    PoolOptions
	logger  *logrus.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPool creates the pool. Call Start to run the background jobs.
func NewPool(dial Dialer, opts PoolOptions, logger *logrus.Logger) *Pool {
	if dial == nil {
		requestTimeout := opts.RequestTimeout
		dial = func(info *domain.ConnectionInfo) (AdminClient, error) {
			return NewAdminClient(info, requestTimeout)
		}
	}
	return &Pool{
		entries: make(map[string]*entry),
		dial:    dial,
		opts:    opts,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the periodic health check and idle cleanup jobs.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.runPeriodic(ctx, p.opts.HealthCheckInterval, func() { p.HealthCheckAll(ctx) })
	go p.runPeriodic(ctx, p.opts.CleanupInterval, p.evictIdle)
}

func (p *Pool) runPeriodic(ctx context.Context, interval time.Duration, job func()) {
	defer p.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			job()
		}
	}
}

// Register stores the cluster's address book entry. The connection is
// dialed lazily on first Get.
func (p *Pool) Register(instanceID string, info *domain.ConnectionInfo) error {
	if info == nil || len(info.BootstrapServers) == 0 {
		return errors.Newf(errors.CodeValidation, "connection info for %s has no bootstrap servers", instanceID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.entries[instanceID]; ok {
		existing.close()
	}
	p.entries[instanceID] = &entry{
		info:      info,
		createdAt: time.Now().UTC(),
		lastUsed:  time.Now().UTC(),
		healthy:   true,
	}
	return nil
}

// Get returns a healthy pooled connection, or nil when the instance is
// unknown, unhealthy and undialable, or the pool is at capacity.
func (p *Pool) Get(ctx context.Context, instanceID string) AdminClient {
	p.mu.Lock()
	e, ok := p.entries[instanceID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Capacity is checked outside the entry lock; the count is
	// best-effort and a full pool returns nil rather than blocking.
	e.mu.Lock()
	needDial := e.client == nil
	e.mu.Unlock()
	if needDial && !p.hasCapacityFor(instanceID) {
		p.logger.WithField("instance_id", instanceID).Warn("connection pool at capacity")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		client, err := p.dial(e.info)
		if err != nil {
			p.logger.WithError(err).WithField("instance_id", instanceID).Warn("cannot dial cluster")
			e.healthy = false
			return nil
		}
		e.client = client
		e.healthy = true
	}

	if !e.healthy {
		// Re-probe before giving up on the entry.
		if err := e.client.Ping(ctx); err != nil {
			e.client.Close()
			e.client = nil
			return nil
		}
		e.healthy = true
	}

	e.lastUsed = time.Now().UTC()
	e.useCount++
	return e.client
}

// hasCapacityFor counts live connections; at capacity it runs an
// eviction sweep of idle entries first. instanceID's own slot does not
// count against it.
func (p *Pool) hasCapacityFor(instanceID string) bool {
	if p.opts.MaxConnections <= 0 {
		return true
	}
	count := p.liveConnections(instanceID)
	if count < p.opts.MaxConnections {
		return true
	}
	p.evictIdle()
	return p.liveConnections(instanceID) < p.opts.MaxConnections
}

func (p *Pool) liveConnections(excluding string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for id, e := range p.entries {
		if id == excluding {
			continue
		}
		e.mu.Lock()
		if e.client != nil {
			count++
		}
		e.mu.Unlock()
	}
	return count
}

// Remove closes and forgets the instance's connection.
func (p *Pool) Remove(instanceID string) {
	p.mu.Lock()
	e, ok := p.entries[instanceID]
	delete(p.entries, instanceID)
	p.mu.Unlock()
	if ok {
		e.close()
	}
}

// HealthCheckAll probes every dialed entry, marking and evicting
// failures. Returns per-instance health.
func (p *Pool) HealthCheckAll(ctx context.Context) map[string]bool {
	p.mu.Lock()
	snapshot := make(map[string]*entry, len(p.entries))
	for id, e := range p.entries {
		snapshot[id] = e
	}
	p.mu.Unlock()

	results := make(map[string]bool, len(snapshot))
	for id, e := range snapshot {
		e.mu.Lock()
		if e.client == nil {
			e.mu.Unlock()
			results[id] = e.healthy
			continue
		}
		err := e.client.Ping(ctx)
		if err != nil {
			p.logger.WithError(err).WithField("instance_id", id).Warn("pooled connection unhealthy, evicting")
			e.healthy = false
			e.client.Close()
			e.client = nil
		} else {
			e.healthy = true
		}
		results[id] = e.healthy
		e.mu.Unlock()
	}
	return results
}

// evictIdle closes connections idle beyond MaxIdleTime. The address
// book entry stays so the connection can be re-dialed.
func (p *Pool) evictIdle() {
	if p.opts.MaxIdleTime <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-p.opts.MaxIdleTime)

	p.mu.Lock()
	snapshot := make(map[string]*entry, len(p.entries))
	for id, e := range p.entries {
		snapshot[id] = e
	}
	p.mu.Unlock()

	for id, e := range snapshot {
		e.mu.Lock()
		if e.client != nil && e.lastUsed.Before(cutoff) {
			p.logger.WithField("instance_id", id).Debug("evicting idle connection")
			e.client.Close()
			e.client = nil
		}
		e.mu.Unlock()
	}
}

// Stats snapshots every entry's counters.
func (p *Pool) Stats() []EntryStats {
	p.mu.Lock()
	snapshot := make(map[string]*entry, len(p.entries))
	for id, e := range p.entries {
		snapshot[id] = e
	}
	p.mu.Unlock()

	out := make([]EntryStats, 0, len(snapshot))
	for id, e := range snapshot {
		out = append(out, e.stats(id))
	}
	return out
}

// Close drains the background jobs and closes every connection.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()

	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()
	for _, e := range entries {
		e.close()
	}
}
