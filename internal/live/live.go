// Package live implements the ingestion loop that keeps the in-memory
// worker registry current: one goroutine drains the message bus, decodes
// each share, and folds it into both its worker and the pool aggregate.
package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tos-network/statsserver/internal/bus"
	"github.com/tos-network/statsserver/internal/guard"
	"github.com/tos-network/statsserver/internal/registry"
	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/util"
)

// Ingestor consumes the share topic and updates the registry.
type Ingestor struct {
	consumer bus.Consumer
	registry *registry.Registry
	guard    *guard.Guard

	malformed int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Ingestor. g may be nil to disable malformed-rate guarding.
func New(consumer bus.Consumer, reg *registry.Registry, g *guard.Guard) *Ingestor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		consumer: consumer,
		registry: reg,
		guard:    g,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the ingest goroutine.
func (in *Ingestor) Start() {
	in.wg.Add(1)
	go in.run()
}

// Stop cancels the ingest goroutine and waits for it to exit.
func (in *Ingestor) Stop() {
	in.cancel()
	in.wg.Wait()
}

// MalformedCount returns the lifetime count of shares that failed to decode.
func (in *Ingestor) MalformedCount() int64 {
	return atomic.LoadInt64(&in.malformed)
}

// unknownIP is recorded against the guard for a malformed entry whose source
// IP cannot be recovered: the bus layer only surfaces the undecodable byte
// payload, and a record that fails to decode has no extractable IP field.
const unknownIP = "unknown"

func (in *Ingestor) run() {
	defer in.wg.Done()

	for {
		select {
		case <-in.ctx.Done():
			return
		default:
		}

		s, id, err := in.consumer.Poll(in.ctx)
		if err != nil {
			if in.ctx.Err() != nil {
				return
			}

			var decodeErr *util.DecodeError
			if errors.As(err, &decodeErr) {
				atomic.AddInt64(&in.malformed, 1)
				if in.guard != nil {
					in.guard.RecordMalformed(unknownIP)
				}
				util.Warnf("live ingestor: dropped malformed share: %v", err)
				continue
			}

			util.Warnf("live ingestor: poll failed: %v", err)
			continue
		}

		in.process(s)

		if err := in.consumer.Ack(in.ctx, id); err != nil {
			util.Warnf("live ingestor: ack failed: %v", err)
		}
	}
}

func (in *Ingestor) process(s *share.Share) {
	key := s.Key()
	in.registry.GetOrCreate(key).ProcessShare(s)
	in.registry.Pool().ProcessShare(s)
}
