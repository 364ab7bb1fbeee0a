// Package redisbridge mirrors the message stream onto Redis pub/sub: every
// decoded message is published as a compact string on an outbound channel,
// and messages published by other processes on an inbound channel are
// parsed and injected back into the hub.
package redisbridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/gsprotocol/gsp/internal/message"
	"github.com/gsprotocol/gsp/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Bridge publishes decoded messages to Redis and can subscribe for
// injected ones.
type Bridge struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to the given Redis address (addr, e.g. "localhost:6379").
func New(ctx context.Context, addr, password string, db int) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisbridge: connect: %w", err)
	}
	return &Bridge{client: client, ctx: ctx}, nil
}

// Close releases the underlying connection.
func (b *Bridge) Close() error { return b.client.Close() }

// Publish serializes msg as "tag:hex-payload" and publishes it on channel.
func (b *Bridge) Publish(channel string, msg message.Message) error {
	tag, payload := msg.Encode()
	wire := fmt.Sprintf("%d:%x", tag, payload)
	if err := b.client.Publish(b.ctx, channel, wire).Err(); err != nil {
		metrics.IncError(metrics.ErrRedis)
		return fmt.Errorf("redisbridge: publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded messages received on the given
// Redis channel, and a function to stop the subscription. Malformed
// payloads are dropped with a metrics.ErrRedis increment rather than
// surfaced to the caller, since a single bad publisher should not wedge the
// whole bridge.
func (b *Bridge) Subscribe(channel string) (<-chan message.Message, func()) {
	pubsub := b.client.Subscribe(b.ctx, channel)
	raw := pubsub.Channel()
	out := make(chan message.Message)
	go func() {
		defer close(out)
		for m := range raw {
			msg, err := parseWire(m.Payload)
			if err != nil {
				metrics.IncError(metrics.ErrRedis)
				continue
			}
			out <- msg
		}
	}()
	return out, func() { _ = pubsub.Close() }
}

func parseWire(s string) (message.Message, error) {
	tagStr, payloadHex, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("redisbridge: malformed wire string %q", s)
	}
	tag, err := strconv.ParseUint(tagStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("redisbridge: bad tag: %w", err)
	}
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return nil, fmt.Errorf("redisbridge: bad payload: %w", err)
	}
	return message.Decode(message.Tag(tag), payload)
}
