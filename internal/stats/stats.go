// Package stats implements the per-worker sliding-window accumulator
// (WorkerShares) and its query projection (WorkerStatus), including the
// merge rule used to combine multiple workers into one view.
package stats

import (
	"sync"

	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/window"
)

const (
	acceptWindowSeconds = 900
	rejectWindowMinutes = 60

	// DefaultIdleSeconds is the recommended expiration threshold: a worker
	// with no share in this many seconds is considered gone.
	DefaultIdleSeconds = 3600
)

// WorkerStatus is the query projection of a WorkerShares at a point in time.
type WorkerStatus struct {
	Accept1m      uint64 `json:"accept1m"`
	Accept5m      uint64 `json:"accept5m"`
	Accept15m     uint64 `json:"accept15m"`
	Reject15m     uint64 `json:"reject15m"`
	AcceptCount   uint32 `json:"accept_count"`
	LastShareIP   uint32 `json:"last_share_ip"`
	LastShareTime uint32 `json:"last_share_time"`
}

// WorkerShares is the thread-safe per-worker accumulator: a lifetime accept
// counter plus two sliding windows (per-second accepts, per-minute rejects).
type WorkerShares struct {
	key share.WorkerKey

	mu            sync.Mutex
	acceptCount   uint32
	lastShareIP   uint32
	lastShareTime uint32
	acceptPerSec  *window.SlidingWindow[uint64]
	rejectPerMin  *window.SlidingWindow[uint64]
}

// New creates a WorkerShares for the given key.
func New(key share.WorkerKey) *WorkerShares {
	return &WorkerShares{
		key:          key,
		acceptPerSec: window.New[uint64](acceptWindowSeconds),
		rejectPerMin: window.New[uint64](rejectWindowMinutes),
	}
}

// Key returns the worker this accumulator belongs to.
func (w *WorkerShares) Key() share.WorkerKey {
	return w.key
}

// ProcessShare folds one share into the accumulator.
func (w *WorkerShares) ProcessShare(s *share.Share) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastShareIP = s.IP
	w.lastShareTime = s.Timestamp

	if s.Result.IsAccept() {
		w.acceptCount++
		w.acceptPerSec.Insert(int64(s.Timestamp), s.ShareValue)
	} else {
		w.rejectPerMin.Insert(int64(s.Timestamp)/60, s.ShareValue)
	}
}

// GetStatus computes the query projection as of wall-clock second now.
func (w *WorkerShares) GetStatus(now int64) WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	return WorkerStatus{
		Accept1m:      w.acceptPerSec.Sum(now, 60),
		Accept5m:      w.acceptPerSec.Sum(now, 300),
		Accept15m:     w.acceptPerSec.Sum(now, 900),
		Reject15m:     w.rejectPerMin.Sum(now/60, 15),
		AcceptCount:   w.acceptCount,
		LastShareIP:   w.lastShareIP,
		LastShareTime: w.lastShareTime,
	}
}

// IsExpired reports whether this worker has been idle longer than
// idleSeconds as of wall-clock second now.
func (w *WorkerShares) IsExpired(now int64, idleSeconds int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now-int64(w.lastShareTime) > idleSeconds
}

// LastShareTime returns the last share timestamp under the instance lock.
func (w *WorkerShares) LastShareTime() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastShareTime
}

// Merge combines a list of WorkerStatus values per §4.7: window counters and
// AcceptCount sum; LastShareTime takes the max; LastShareIP is the IP whose
// LastShareTime equals that max (first encountered on ties).
func Merge(statuses []WorkerStatus) WorkerStatus {
	var merged WorkerStatus
	for _, s := range statuses {
		merged.Accept1m += s.Accept1m
		merged.Accept5m += s.Accept5m
		merged.Accept15m += s.Accept15m
		merged.Reject15m += s.Reject15m
		merged.AcceptCount += s.AcceptCount

		if s.LastShareTime > merged.LastShareTime {
			merged.LastShareTime = s.LastShareTime
			merged.LastShareIP = s.LastShareIP
		}
	}
	return merged
}
