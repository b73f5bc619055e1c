// Package flush periodically snapshots the in-memory worker registry to the
// relational store and sweeps workers that have gone idle.
package flush

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/statsserver/internal/registry"
	"github.com/tos-network/statsserver/internal/storage"
	"github.com/tos-network/statsserver/internal/util"
)

// AlertFunc is invoked after consecutiveFailures consecutive flush attempts
// have failed, so the caller can page someone via internal/notify.
type AlertFunc func(consecutiveFailures int, lastErr error)

// Config controls the flush cadence and failure-alert threshold.
type Config struct {
	Interval        time.Duration
	IdleSeconds     int64
	AlertAfterFails int
}

// DefaultConfig returns the recommended flush cadence.
func DefaultConfig() Config {
	return Config{
		Interval:        15 * time.Second,
		IdleSeconds:     3600,
		AlertAfterFails: 3,
	}
}

// DBFlusher periodically upserts every worker's current WorkerStatus into
// mining_workers and sweeps expired workers out of the registry.
type DBFlusher struct {
	cfg      Config
	reg      *registry.Registry
	pool     *storage.Pool
	alert    AlertFunc
	inFlight atomic.Bool

	consecutiveFails int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a DBFlusher. alert may be nil to disable failure alerting.
func New(cfg Config, reg *registry.Registry, pool *storage.Pool, alert AlertFunc) *DBFlusher {
	ctx, cancel := context.WithCancel(context.Background())
	return &DBFlusher{cfg: cfg, reg: reg, pool: pool, alert: alert, ctx: ctx, cancel: cancel}
}

// Start launches the flush loop.
func (f *DBFlusher) Start() {
	f.wg.Add(1)
	go f.run()
}

// Stop halts the flush loop and waits for it to exit.
func (f *DBFlusher) Stop() {
	f.cancel()
	f.wg.Wait()
}

func (f *DBFlusher) run() {
	defer f.wg.Done()

	interval := f.cfg.Interval
	if interval == 0 {
		interval = DefaultConfig().Interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *DBFlusher) tick() {
	if !f.inFlight.CompareAndSwap(false, true) {
		util.Warn("flush: previous flush still running, skipping tick")
		return
	}
	defer f.inFlight.Store(false)

	now := time.Now().Unix()

	if err := f.flushWorkers(now); err != nil {
		f.consecutiveFails++
		util.Warnf("flush: worker snapshot flush failed: %v", err)
		if f.alert != nil && f.cfg.AlertAfterFails > 0 && f.consecutiveFails >= f.cfg.AlertAfterFails {
			f.alert(f.consecutiveFails, err)
		}
		return
	}
	f.consecutiveFails = 0

	idleSeconds := f.cfg.IdleSeconds
	if idleSeconds == 0 {
		idleSeconds = int64(DefaultConfig().IdleSeconds)
	}
	removed := f.reg.SweepExpired(now, idleSeconds)
	if removed > 0 {
		util.Infof("flush: swept %d expired workers", removed)
	}
}

// flushWorkers snapshots every worker key under a single read lock, then
// batch-upserts the resulting rows without holding the registry lock.
func (f *DBFlusher) flushWorkers(now int64) error {
	keys := f.reg.Snapshot()

	rows := make([]storage.WorkerRow, 0, len(keys))
	for _, key := range keys {
		ws := f.reg.Get(key)
		if ws == nil {
			continue
		}
		rows = append(rows, storage.WorkerRow{
			Key:    key,
			Status: ws.GetStatus(now),
			Now:    now,
		})
	}

	if len(rows) == 0 {
		return nil
	}

	db := f.pool.DB()
	if db == nil {
		return nil
	}

	if err := storage.UpsertWorkers(db, rows); err != nil {
		f.pool.RecordFailure()
		return err
	}
	f.pool.RecordSuccess()
	return nil
}
