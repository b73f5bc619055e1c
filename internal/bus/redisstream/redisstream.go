// Package redisstream binds internal/bus to Redis Streams via go-redis/v8,
// using XAdd for publish and XReadGroup/XAck for consumer-group delivery.
package redisstream

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tos-network/statsserver/internal/bus"
	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/util"
)

// fieldData is the single stream-entry field holding the raw 48-byte record.
const fieldData = "d"

// blockTimeout bounds how long a single XReadGroup call waits for a new
// entry before returning control to the caller's ctx check.
const blockTimeout = 5 * time.Second

// Options configures a Redis Streams bus endpoint.
type Options struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	// Consumer names this process within Group; must be unique per process.
	Consumer string
}

// Producer publishes Share records onto a Redis stream via XAdd.
type Producer struct {
	client *redis.Client
	stream string
}

// NewProducer connects to Redis and returns a Producer bound to opts.Stream.
func NewProducer(opts Options) (*Producer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, util.NewBusError(err, "redis ping failed")
	}
	return &Producer{client: client, stream: opts.Stream}, nil
}

// Publish appends s to the stream as one XAdd entry.
func (p *Producer) Publish(ctx context.Context, s *share.Share) error {
	buf := make([]byte, share.RecordSize)
	if err := s.Encode(buf); err != nil {
		return util.NewBusError(err, "encode share")
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{fieldData: buf},
	}).Err()
	if err != nil {
		return util.NewBusError(err, "xadd")
	}
	return nil
}

// Close releases the underlying Redis connection.
func (p *Producer) Close() error {
	return p.client.Close()
}

// Consumer reads Share records from a Redis stream under a consumer group,
// creating the group on first use if it doesn't already exist.
type Consumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewConsumer connects to Redis and joins opts.Group on opts.Stream,
// reading as opts.Consumer.
func NewConsumer(opts Options) (*Consumer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, util.NewBusError(err, "redis ping failed")
	}

	err := client.XGroupCreateMkStream(context.Background(), opts.Stream, opts.Group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		// BUSYGROUP means the group already exists; anything else is fatal.
		if !isBusyGroupErr(err) {
			return nil, util.NewBusError(err, "create consumer group")
		}
	}

	return &Consumer{
		client:   client,
		stream:   opts.Stream,
		group:    opts.Group,
		consumer: opts.Consumer,
	}, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Poll blocks until one new message is available on the stream, ctx is
// canceled, or a read error occurs. The returned string is the stream entry
// id, to be passed to Ack once the message is fully processed.
func (c *Consumer) Poll(ctx context.Context) (*share.Share, string, error) {
	for {
		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
				select {
				case <-ctx.Done():
					return nil, "", ctx.Err()
				default:
					continue
				}
			}
			return nil, "", util.NewBusError(err, "xreadgroup")
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				s, err := decodeEntry(msg)
				if err != nil {
					// Malformed entry: ack it so it doesn't block the group,
					// and surface the decode error to the caller.
					_ = c.Ack(ctx, msg.ID)
					return nil, msg.ID, err
				}
				return s, msg.ID, nil
			}
		}
	}
}

func decodeEntry(msg redis.XMessage) (*share.Share, error) {
	raw, ok := msg.Values[fieldData]
	if !ok {
		return nil, util.NewDecodeError(errors.New("missing field"), "stream entry has no data field")
	}

	var buf []byte
	switch v := raw.(type) {
	case string:
		buf = []byte(v)
	case []byte:
		buf = v
	default:
		return nil, util.NewDecodeError(errors.New("unexpected type"), "stream entry data field has unexpected type")
	}

	s, err := share.Decode(buf)
	if err != nil {
		return nil, util.NewDecodeError(err, "decode share record")
	}
	return s, nil
}

// Ack acknowledges successful processing of the entry with the given id.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return util.NewBusError(err, "xack")
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Consumer) Close() error {
	return c.client.Close()
}

var (
	_ bus.Producer = (*Producer)(nil)
	_ bus.Consumer = (*Consumer)(nil)
)
