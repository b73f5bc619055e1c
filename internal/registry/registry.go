// Package registry implements the concurrent worker map: a single
// readers-writer lock guards structural changes (insert, expire) while
// per-worker mutation goes through each WorkerShares' own mutex.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/stats"
)

// Registry is the concurrent (userId, workerId) -> WorkerShares map, plus
// the pool-wide aggregate and the distinct-user index.
type Registry struct {
	mu             sync.RWMutex
	byKey          map[share.WorkerKey]*stats.WorkerShares
	workersPerUser map[int32]int32

	totalWorkers int64
	totalUsers   int64

	pool *stats.WorkerShares
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byKey:          make(map[share.WorkerKey]*stats.WorkerShares),
		workersPerUser: make(map[int32]int32),
		pool:           stats.New(share.WorkerKey{}),
	}
}

// Pool returns the singleton aggregate across every worker ever seen.
func (r *Registry) Pool() *stats.WorkerShares {
	return r.pool
}

// TotalWorkers returns the current number of live worker entries.
func (r *Registry) TotalWorkers() int64 {
	return atomic.LoadInt64(&r.totalWorkers)
}

// TotalUsers returns the current number of distinct userIds with at least
// one live worker.
func (r *Registry) TotalUsers() int64 {
	return atomic.LoadInt64(&r.totalUsers)
}

// GetOrCreate returns the WorkerShares for key, creating it if absent.
func (r *Registry) GetOrCreate(key share.WorkerKey) *stats.WorkerShares {
	r.mu.RLock()
	ws, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		return ws
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ws, ok := r.byKey[key]; ok {
		return ws
	}

	ws = stats.New(key)
	r.byKey[key] = ws
	atomic.AddInt64(&r.totalWorkers, 1)

	if r.workersPerUser[key.UserID] == 0 {
		atomic.AddInt64(&r.totalUsers, 1)
	}
	r.workersPerUser[key.UserID]++

	return ws
}

// Get returns the WorkerShares for key, or nil if no such worker has been
// seen (the caller gets an all-zero WorkerStatus for absent keys per §4.6).
func (r *Registry) Get(key share.WorkerKey) *stats.WorkerShares {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[key]
}

// Snapshot returns every currently-registered key. Used by DBFlusher to
// release the registry lock before doing per-worker work.
func (r *Registry) Snapshot() []share.WorkerKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]share.WorkerKey, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	return keys
}

// SweepExpired removes workers idle longer than idleSeconds as of wall-clock
// second now, maintaining the workersPerUser/totalUsers/totalWorkers
// indexes. Returns the number of workers removed.
func (r *Registry) SweepExpired(now int64, idleSeconds int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, ws := range r.byKey {
		if !ws.IsExpired(now, idleSeconds) {
			continue
		}
		delete(r.byKey, key)
		atomic.AddInt64(&r.totalWorkers, -1)
		removed++

		r.workersPerUser[key.UserID]--
		if r.workersPerUser[key.UserID] <= 0 {
			delete(r.workersPerUser, key.UserID)
			atomic.AddInt64(&r.totalUsers, -1)
		}
	}
	return removed
}
