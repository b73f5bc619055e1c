package storage

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/statsserver/internal/util"
)

// EndpointConfig describes one database endpoint in a Pool.
type EndpointConfig struct {
	Name   string
	Path   string
	Weight int
}

// PoolConfig controls health-check cadence and failure thresholds for a Pool.
type PoolConfig struct {
	Endpoints           []EndpointConfig
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	MaxFailures         int
	RecoveryThreshold   int
}

// endpoint wraps a *sql.DB with health tracking.
type endpoint struct {
	db     *sql.DB
	name   string
	weight int

	mu           sync.RWMutex
	healthy      bool
	failCount    int32
	successCount int32
	lastCheck    time.Time
}

// Pool manages one or more database endpoints (primary plus optional read
// replicas), routing callers to the best healthy one and failing over when
// the active endpoint starts erroring.
type Pool struct {
	endpoints []*endpoint
	cfg       PoolConfig

	activeIdx int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool opens every configured endpoint and returns a Pool ready to Start.
func NewPool(cfg PoolConfig) (*Pool, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{cfg: cfg, ctx: ctx, cancel: cancel}

	for _, ec := range cfg.Endpoints {
		db, err := Open(ec.Path)
		if err != nil {
			p.Close()
			cancel()
			return nil, err
		}
		weight := ec.Weight
		if weight == 0 {
			weight = 1
		}
		name := ec.Name
		if name == "" {
			name = ec.Path
		}
		p.endpoints = append(p.endpoints, &endpoint{db: db, name: name, weight: weight, healthy: true})
	}

	sort.Slice(p.endpoints, func(i, j int) bool {
		return p.endpoints[i].weight > p.endpoints[j].weight
	})

	return p, nil
}

// Start begins the background health-check loop.
func (p *Pool) Start() {
	if len(p.endpoints) == 0 {
		util.Warn("storage: no db endpoints configured")
		return
	}

	p.checkAll()

	p.wg.Add(1)
	go p.healthLoop()
}

// Stop halts the health-check loop and waits for it to exit. It does not
// close the underlying *sql.DB handles; call Close for that.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Close stops the pool and closes every endpoint's *sql.DB handle.
func (p *Pool) Close() {
	p.Stop()
	for _, e := range p.endpoints {
		if e.db != nil {
			_ = e.db.Close()
		}
	}
}

func (p *Pool) healthLoop() {
	defer p.wg.Done()

	interval := p.cfg.HealthCheckInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkAll()
		}
	}
}

func (p *Pool) checkAll() {
	var wg sync.WaitGroup
	for _, e := range p.endpoints {
		wg.Add(1)
		go func(e *endpoint) {
			defer wg.Done()
			p.checkOne(e)
		}(e)
	}
	wg.Wait()
	p.selectBest()
}

func (p *Pool) checkOne(e *endpoint) {
	timeout := p.cfg.HealthCheckTimeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}

	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	err := e.db.PingContext(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastCheck = time.Now()

	maxFailures := p.cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	recoveryThreshold := p.cfg.RecoveryThreshold
	if recoveryThreshold == 0 {
		recoveryThreshold = 2
	}

	if err != nil {
		e.failCount++
		e.successCount = 0
		if e.failCount >= int32(maxFailures) && e.healthy {
			e.healthy = false
			util.Warnf("storage: endpoint %s marked unhealthy after %d failures: %v", e.name, e.failCount, err)
		}
		return
	}

	e.successCount++
	if !e.healthy && e.successCount >= int32(recoveryThreshold) {
		e.healthy = true
		e.failCount = 0
		util.Infof("storage: endpoint %s recovered", e.name)
	} else if e.healthy {
		e.failCount = 0
	}
}

func (p *Pool) selectBest() {
	bestIdx := -1
	bestWeight := -1

	for i, e := range p.endpoints {
		e.mu.RLock()
		healthy := e.healthy
		weight := e.weight
		e.mu.RUnlock()

		if !healthy {
			continue
		}
		if weight > bestWeight {
			bestIdx = i
			bestWeight = weight
		}
	}

	if bestIdx >= 0 {
		if int32(bestIdx) != atomic.LoadInt32(&p.activeIdx) {
			atomic.StoreInt32(&p.activeIdx, int32(bestIdx))
			util.Infof("storage: switched to endpoint %s", p.endpoints[bestIdx].name)
		}
	} else {
		util.Warn("storage: no healthy db endpoints available")
	}
}

// DB returns the current active *sql.DB. Returns nil if no endpoints are
// configured.
func (p *Pool) DB() *sql.DB {
	if len(p.endpoints) == 0 {
		return nil
	}
	idx := atomic.LoadInt32(&p.activeIdx)
	if idx >= 0 && idx < int32(len(p.endpoints)) {
		return p.endpoints[idx].db
	}
	return p.endpoints[0].db
}

// RecordSuccess marks the active endpoint healthy after a successful call
// made through DB().
func (p *Pool) RecordSuccess() {
	idx := atomic.LoadInt32(&p.activeIdx)
	if idx < 0 || idx >= int32(len(p.endpoints)) {
		return
	}
	e := p.endpoints[idx]
	e.mu.Lock()
	e.successCount++
	e.failCount = 0
	e.healthy = true
	e.mu.Unlock()
}

// RecordFailure marks a failed call on the active endpoint and triggers
// failover once it crosses MaxFailures.
func (p *Pool) RecordFailure() {
	idx := atomic.LoadInt32(&p.activeIdx)
	if idx < 0 || idx >= int32(len(p.endpoints)) {
		return
	}

	e := p.endpoints[idx]
	e.mu.Lock()
	e.failCount++
	e.successCount = 0

	maxFailures := p.cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	shouldFailover := e.failCount >= int32(maxFailures) && e.healthy
	if shouldFailover {
		e.healthy = false
	}
	e.mu.Unlock()

	if shouldFailover {
		util.Warnf("storage: endpoint %s marked unhealthy due to call failures", e.name)
		p.selectBest()
	}
}

// HealthyCount returns how many endpoints are currently healthy.
func (p *Pool) HealthyCount() int {
	count := 0
	for _, e := range p.endpoints {
		e.mu.RLock()
		if e.healthy {
			count++
		}
		e.mu.RUnlock()
	}
	return count
}

// EndpointCount returns the total number of configured endpoints.
func (p *Pool) EndpointCount() int {
	return len(p.endpoints)
}
