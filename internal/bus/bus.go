// Package bus defines the message-bus boundary the core depends on. The
// wire protocol itself is out of scope for the core; concrete bindings
// (e.g. internal/bus/redisstream) live alongside it as adapters.
package bus

import (
	"context"

	"github.com/tos-network/statsserver/internal/share"
)

// Consumer polls a topic for Share messages under a named consumer group.
// Poll blocks until a message is available, ctx is canceled, or an error
// occurs. Ack acknowledges successful processing of a previously polled
// message, identified by the opaque id Poll returned alongside it.
type Consumer interface {
	Poll(ctx context.Context) (*share.Share, string, error)
	Ack(ctx context.Context, id string) error
	Close() error
}

// Producer publishes Share messages to a topic.
type Producer interface {
	Publish(ctx context.Context, s *share.Share) error
	Close() error
}
