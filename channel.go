// Package gsp implements the generic serial protocol: a framed, typed
// message exchange over an unreliable byte-oriented link. A Channel binds
// the wire codec (internal/frame, internal/message) to a duplex transport
// and exposes blocking Send/Receive operations; see internal/frame and
// internal/message for the wire format and message catalog respectively.
package gsp

import (
	"errors"
	"fmt"
	"io"

	"github.com/gsprotocol/gsp/internal/frame"
	"github.com/gsprotocol/gsp/internal/message"
)

// Re-export the message catalog so callers of this package don't need a
// second import for the types they send and receive.
type (
	Message      = message.Message
	Bytes        = message.Bytes
	U8           = message.U8
	MyString     = message.MyString
	Multi        = message.Multi
	NoOp         = message.NoOp
	U16          = message.U16
	Status       = message.Status
	StatusCode   = message.StatusCode
)

const (
	StatusOk      = message.StatusOk
	StatusError   = message.StatusError
	StatusPending = message.StatusPending
)

// ErrReadLimitExceeded is returned by Receive when a frame's declared
// payload length exceeds a configured read limit. It classifies as an
// IoError-equivalent: the transport is not corrupted, but the caller's
// limit rejects the frame before decoding is attempted.
var ErrReadLimitExceeded = errors.New("gsp: frame payload exceeds read limit")

// Channel couples a Frame Codec to a duplex byte transport. No partial-frame
// state persists across Receive calls: each Receive starts by seeking a fresh
// Start, so an interrupted Receive never corrupts a later one. Raw bytes are
// read through a buffered reader, and bytes read ahead of the frame just
// returned stay in that buffer for the next Receive call. A Channel is not safe for concurrent Send or concurrent
// Receive calls from multiple goroutines, though one goroutine may Send
// while another Receives (they use disjoint halves of the transport).
type Channel struct {
	r         *frame.Reader
	w         *frame.Writer
	readLimit int
}

// Option configures a Channel.
type Option func(*channelConfig)

type channelConfig struct {
	stats     frame.Stats
	readLimit int
}

// WithStats wires a frame.Stats sink (e.g. Prometheus counters) so the
// caller can observe frames, resyncs, and skipped garbage bytes.
func WithStats(s frame.Stats) Option {
	return func(c *channelConfig) { c.stats = s }
}

// WithReadLimit caps the accepted payload length below the protocol's u16
// ceiling (65533 bytes). Zero (the default) means no extra limit.
func WithReadLimit(n int) Option {
	return func(c *channelConfig) { c.readLimit = n }
}

// NewChannel takes ownership of transport for the lifetime of the Channel.
func NewChannel(transport io.ReadWriter, opts ...Option) *Channel {
	cfg := channelConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	var frameOpts []frame.Option
	if cfg.stats != nil {
		frameOpts = append(frameOpts, frame.WithStats(cfg.stats))
	}
	return &Channel{
		r:         frame.NewReader(transport, frameOpts...),
		w:         frame.NewWriter(transport, frameOpts...),
		readLimit: cfg.readLimit,
	}
}

// Send serializes msg through the Catalog and writes one frame to the
// transport. It blocks until the frame is fully written and flushed, or
// the transport's write/flush error is returned.
func (c *Channel) Send(msg Message) error {
	tag, payload := msg.Encode()
	return c.w.WriteFrame(uint16(tag), payload)
}

// Receive blocks until exactly one message is produced or a
// non-recoverable error occurs. A DecodeError is returned after a complete
// frame was received; it is not automatically resynced — a caller that
// wants that behavior should call Receive again (see ReceiveLoop).
func (c *Channel) Receive() (Message, error) {
	tag, payload, err := c.r.ReadFrame()
	if err != nil {
		return nil, err
	}
	if c.readLimit > 0 && len(payload) > c.readLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrReadLimitExceeded, len(payload), c.readLimit)
	}
	return message.Decode(message.Tag(tag), payload)
}

// ReceiveLoop calls Receive repeatedly, skipping DecodeErrors (logging them
// via onDecodeError if non-nil) until a message is produced or a transport
// error terminates the loop. This is the external-loop pattern spec.md §9(c)
// describes for callers who want Receive to resync past malformed frames.
func (c *Channel) ReceiveLoop(onDecodeError func(error)) (Message, error) {
	for {
		msg, err := c.Receive()
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, message.ErrDecode) {
			return nil, err
		}
		if onDecodeError != nil {
			onDecodeError(err)
		}
	}
}
