// Package window implements a generic per-bucket ring buffer used to
// maintain sliding-window sums over a fixed number of trailing ring
// indices (seconds, minutes, or any other monotonic counter).
package window

// Number is the constraint on the additive counter type a SlidingWindow
// accumulates. All of them have a natural zero value.
type Number interface {
	~uint64 | ~int64 | ~float64
}

// SlidingWindow is a fixed-size ring buffer of additive counters keyed by a
// monotonically increasing ring index. It is not safe for concurrent use;
// callers needing concurrency guard it externally (see stats.WorkerShares).
type SlidingWindow[T Number] struct {
	maxIdx     int64
	windowSize int64
	cells      []T
}

// New creates a SlidingWindow with the given size (number of ring buckets).
func New[T Number](windowSize int) *SlidingWindow[T] {
	return &SlidingWindow[T]{
		maxIdx:     -1,
		windowSize: int64(windowSize),
		cells:      make([]T, windowSize),
	}
}

// Clear resets the window to empty.
func (w *SlidingWindow[T]) Clear() {
	w.maxIdx = -1
	for i := range w.cells {
		w.cells[i] = 0
	}
}

// Insert adds val to the bucket for ringIdx. It returns false without
// modifying state if ringIdx is too far in the past to matter (stale).
func (w *SlidingWindow[T]) Insert(ringIdx int64, val T) bool {
	if w.maxIdx > ringIdx+w.windowSize {
		return false
	}

	if w.maxIdx == -1 || ringIdx-w.maxIdx > w.windowSize {
		w.Clear()
		w.maxIdx = ringIdx
	}

	for w.maxIdx < ringIdx {
		w.maxIdx++
		w.cells[w.maxIdx%w.windowSize] = 0
	}

	w.cells[ringIdx%w.windowSize] += val
	return true
}

// Sum returns the sum of buckets in [beginRingIdx-len+1, beginRingIdx],
// clamped to the window's coverage. len is clamped to windowSize.
func (w *SlidingWindow[T]) Sum(beginRingIdx int64, length int) T {
	var sum T

	if int64(length) > w.windowSize {
		length = int(w.windowSize)
	}
	if length <= 0 || beginRingIdx-int64(length) >= w.maxIdx {
		return sum
	}

	endRingIdx := beginRingIdx - int64(length)
	if endRingIdx < -1 {
		endRingIdx = -1 // no bucket below ring index 0 is ever inserted
	}
	if beginRingIdx > w.maxIdx {
		beginRingIdx = w.maxIdx
	}

	for beginRingIdx > endRingIdx {
		sum += w.cells[beginRingIdx%w.windowSize]
		beginRingIdx--
	}
	return sum
}

// MapMultiply scales every cell by val. Retained for rate-normalization
// extensions; unused on any production path.
func (w *SlidingWindow[T]) MapMultiply(val T) {
	for i := range w.cells {
		w.cells[i] *= val
	}
}

// MapDivide scales every cell by 1/val. Retained for rate-normalization
// extensions; unused on any production path.
func (w *SlidingWindow[T]) MapDivide(val T) {
	for i := range w.cells {
		w.cells[i] /= val
	}
}

// MaxRingIdx returns the highest ring index ever inserted, or -1 if empty.
func (w *SlidingWindow[T]) MaxRingIdx() int64 {
	return w.maxIdx
}
