// Package sharelog appends every consumed share to a day-partitioned,
// append-only binary file, independently of the live in-memory path.
package sharelog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tos-network/statsserver/internal/bus"
	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/util"
)

const (
	secondsPerDay = 86400

	// DefaultFlushSize is the buffer size (in shares) that triggers a flush.
	DefaultFlushSize = 8000

	// DefaultFlushInterval is the idle timeout that triggers a flush even
	// when the buffer hasn't reached DefaultFlushSize.
	DefaultFlushInterval = time.Second

	// staleAfter is how far a handle's dayKey may lag behind today before
	// tryCloseOldHandles closes it.
	staleAfter = secondsPerDay
)

// Config controls buffering thresholds and where files are written.
type Config struct {
	DataDir       string
	FlushSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns the recommended buffering thresholds.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:       dataDir,
		FlushSize:     DefaultFlushSize,
		FlushInterval: DefaultFlushInterval,
	}
}

// Writer consumes the share topic independently of the live ingest path and
// appends every share to a day-partitioned binary file.
type Writer struct {
	cfg      Config
	consumer bus.Consumer

	mu      sync.Mutex
	buffer  []*share.Share
	ackIDs  []string
	handles map[uint32]*os.File

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Writer. Call Start to begin consuming.
func New(cfg Config, consumer bus.Consumer) *Writer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		cfg:      cfg,
		consumer: consumer,
		handles:  make(map[uint32]*os.File),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the consume loop and the periodic idle-flush ticker.
func (w *Writer) Start() {
	w.wg.Add(2)
	go w.runConsume()
	go w.runIdleFlush()
}

// Stop halts both loops, flushes any buffered shares, and closes every open
// file handle.
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		util.Warnf("sharelog: final flush failed: %v", err)
	}
	w.closeAllLocked()
}

func (w *Writer) runConsume() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		s, id, err := w.consumer.Poll(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			util.Warnf("sharelog: poll failed: %v", err)
			continue
		}

		w.mu.Lock()
		w.buffer = append(w.buffer, s)
		w.ackIDs = append(w.ackIDs, id)
		shouldFlush := len(w.buffer) >= w.flushSize()
		if shouldFlush {
			if err := w.flushLocked(); err != nil {
				util.Warnf("sharelog: flush failed, will retry: %v", err)
			} else {
				w.ackBatch(w.ackIDs)
				w.ackIDs = nil
			}
		}
		w.mu.Unlock()
	}
}

func (w *Writer) runIdleFlush() {
	defer w.wg.Done()

	interval := w.cfg.FlushInterval
	if interval == 0 {
		interval = DefaultFlushInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	closeTicker := time.NewTicker(time.Hour)
	defer closeTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			if len(w.buffer) > 0 {
				if err := w.flushLocked(); err != nil {
					util.Warnf("sharelog: idle flush failed, will retry: %v", err)
				} else {
					w.ackBatch(w.ackIDs)
					w.ackIDs = nil
				}
			}
			w.mu.Unlock()
		case <-closeTicker.C:
			w.mu.Lock()
			w.tryCloseOldHandlesLocked()
			w.mu.Unlock()
		}
	}
}

func (w *Writer) flushSize() int {
	if w.cfg.FlushSize == 0 {
		return DefaultFlushSize
	}
	return w.cfg.FlushSize
}

// flushLocked writes every buffered share to its day file. The buffer is
// only cleared after a fully successful write; a partial failure leaves it
// intact so the next flush retries the whole batch.
func (w *Writer) flushLocked() error {
	if len(w.buffer) == 0 {
		return nil
	}

	buf := make([]byte, share.RecordSize)
	for _, s := range w.buffer {
		f, err := w.fileHandlerLocked(s.Timestamp)
		if err != nil {
			return err
		}
		if err := s.Encode(buf); err != nil {
			return err
		}
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("sharelog: write: %w", err)
		}
	}

	for _, f := range w.handles {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sharelog: sync: %w", err)
		}
	}

	w.buffer = w.buffer[:0]
	return nil
}

func (w *Writer) ackBatch(ids []string) {
	for _, id := range ids {
		if err := w.consumer.Ack(w.ctx, id); err != nil {
			util.Warnf("sharelog: ack failed: %v", err)
		}
	}
}

func dayKey(timestamp uint32) uint32 {
	return timestamp - (timestamp % secondsPerDay)
}

func dayFileName(day uint32) string {
	t := time.Unix(int64(day), 0).UTC()
	return fmt.Sprintf("sharelog-%04d%02d%02d.bin", t.Year(), t.Month(), t.Day())
}

func (w *Writer) fileHandlerLocked(timestamp uint32) (*os.File, error) {
	day := dayKey(timestamp)
	if f, ok := w.handles[day]; ok {
		return f, nil
	}

	if err := os.MkdirAll(w.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("sharelog: mkdir data dir: %w", err)
	}

	path := filepath.Join(w.cfg.DataDir, dayFileName(day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sharelog: open %s: %w", path, err)
	}

	w.handles[day] = f
	return f, nil
}

// tryCloseOldHandlesLocked closes any handle whose day predates today by
// more than staleAfter seconds.
func (w *Writer) tryCloseOldHandlesLocked() {
	today := dayKey(uint32(time.Now().Unix()))
	for day, f := range w.handles {
		if today > day && today-day > staleAfter {
			if err := f.Close(); err != nil {
				util.Warnf("sharelog: close handle for day %d: %v", day, err)
			}
			delete(w.handles, day)
		}
	}
}

func (w *Writer) closeAllLocked() {
	for day, f := range w.handles {
		if err := f.Close(); err != nil {
			util.Warnf("sharelog: close handle for day %d: %v", day, err)
		}
		delete(w.handles, day)
	}
}
