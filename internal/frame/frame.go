// Package frame implements the wire framing and resynchronization protocol
// that sits under the message catalog: a start sentinel, a length-prefixed
// type+payload section, and a byte-stuffing escape scheme that guarantees
// the sentinel never reappears inside a frame's body.
//
// Wire format (all multi-byte fields little-endian, pre-stuffing):
//
//	start(1) = 0x58 | length(2) = 2+len(payload) | type(2) | payload(length-2)
//
// Everything after the leading start byte is byte-stuffed (appendStuffed on
// write, readLogicalByte on read):
// a sensitive byte (0x58 or 0x42) is transmitted as the two-byte sequence
// ESCAPE, b^XOR. The transformed bytes (0x31, 0x2B) are never themselves
// sensitive, so the escape never cascades and the sentinel is recognizable
// on the wire only as the first raw byte of a fresh frame.
package frame

import (
	"bufio"
	"errors"
	"io"
)

const (
	// Start is the frame-start sentinel. Its raw presence on the wire
	// always begins a new frame, even mid-parse.
	Start byte = 0x58
	// Escape prefixes a byte that has been XOR-masked with xorMask.
	Escape byte = 0x42
	xorMask byte = 0x69
)

// MaxPayloadLen is the largest payload a frame can carry: the type tag
// occupies 2 of the u16 length field's 65535 possible logical bytes.
const MaxPayloadLen = 1<<16 - 1 - 2

// ErrPayloadTooLong is returned by Writer.WriteFrame when the payload does
// not fit in the u16 length field. Per spec this is a programmer error,
// not a recoverable wire condition.
var ErrPayloadTooLong = errors.New("frame: payload too long")

func sensitive(b byte) bool { return b == Start || b == Escape }

func appendStuffed(dst []byte, b byte) []byte {
	if sensitive(b) {
		return append(dst, Escape, b^xorMask)
	}
	return append(dst, b)
}

// Stats receives frame-codec events. All methods must be safe to call
// without additional synchronization from the codec's perspective (a
// single Reader/Writer is never used concurrently, but a Stats
// implementation may be shared across many of them).
type Stats interface {
	IncFrame()
	IncResync()
	IncGarbage(n int)
	IncDecodeError()
}

type noopStats struct{}

func (noopStats) IncFrame()       {}
func (noopStats) IncResync()      {}
func (noopStats) IncGarbage(int)  {}
func (noopStats) IncDecodeError() {}

// Writer serializes (tag, payload) pairs into stuffed on-wire frames.
type Writer struct {
	w       io.Writer
	scratch []byte
	stats   Stats
}

// NewWriter returns a Writer that writes stuffed frames to w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	fw := &Writer{w: w, stats: noopStats{}}
	for _, o := range opts {
		o.applyWriter(fw)
	}
	return fw
}

type flusher interface{ Flush() error }

// WriteFrame writes one frame for (tag, payload). The write is atomic from
// the codec's perspective: either the whole stuffed frame (and any
// transport flush) succeeds, or the transport's error is returned verbatim.
func (fw *Writer) WriteFrame(tag uint16, payload []byte) error {
	length := 2 + len(payload)
	if length > 1<<16-1 {
		return ErrPayloadTooLong
	}

	buf := fw.scratch[:0]
	buf = append(buf, Start)
	buf = appendStuffed(buf, byte(length))
	buf = appendStuffed(buf, byte(length>>8))
	buf = appendStuffed(buf, byte(tag))
	buf = appendStuffed(buf, byte(tag>>8))
	for _, b := range payload {
		buf = appendStuffed(buf, b)
	}
	fw.scratch = buf

	n, err := fw.w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	if f, ok := fw.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Reader recovers frames from a byte stream, transparently skipping garbage
// and resynchronizing on any interruption. A single Reader is not safe for
// concurrent use.
type Reader struct {
	br    *bufio.Reader
	stats Stats
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	fr := &Reader{br: bufio.NewReader(r), stats: noopStats{}}
	for _, o := range opts {
		o.applyReader(fr)
	}
	return fr
}

// readLogicalByte reads one raw byte and applies unstuffing. A raw Start —
// whether encountered directly or as the byte following an Escape — means
// "abandon the current frame and restart here"; resync reports that case
// without consuming any further input.
func (fr *Reader) readLogicalByte() (b byte, resync bool, err error) {
	raw, err := fr.br.ReadByte()
	if err != nil {
		return 0, false, err
	}
	if raw == Start {
		return 0, true, nil
	}
	if raw == Escape {
		raw2, err := fr.br.ReadByte()
		if err != nil {
			return 0, false, err
		}
		if raw2 == Start {
			return 0, true, nil
		}
		return raw2 ^ xorMask, false, nil
	}
	return raw, false, nil
}

// readLogicalInto fills buf with logical bytes, reporting resync as soon as
// a Start interrupts the sequence (buf's partial contents are discarded by
// the caller).
func (fr *Reader) readLogicalInto(buf []byte) (resync bool, err error) {
	for i := range buf {
		b, rsc, err := fr.readLogicalByte()
		if err != nil {
			return false, err
		}
		if rsc {
			return true, nil
		}
		buf[i] = b
	}
	return false, nil
}

// seekStart discards raw bytes until a Start is read.
func (fr *Reader) seekStart() error {
	garbage := 0
	defer func() {
		if garbage > 0 {
			fr.stats.IncGarbage(garbage)
		}
	}()
	for {
		b, err := fr.br.ReadByte()
		if err != nil {
			return err
		}
		if b == Start {
			return nil
		}
		garbage++
	}
}

// ReadFrame blocks until exactly one frame's (tag, payload) is recovered or
// a non-recoverable transport error occurs. It implements the framing state
// machine as two labeled loops rather than nested calls: the outer seek loop
// scans for a Start, the inner readLen loop reads length, type and payload
// in turn, and any mid-parse Start continues readLen.
func (fr *Reader) ReadFrame() (tag uint16, payload []byte, err error) {
seek:
	for {
		if err := fr.seekStart(); err != nil {
			return 0, nil, err
		}

	readLen:
		for {
			var lenBytes [2]byte
			resync, err := fr.readLogicalInto(lenBytes[:])
			if err != nil {
				return 0, nil, err
			}
			if resync {
				fr.stats.IncResync()
				continue readLen
			}
			length := uint16(lenBytes[0]) | uint16(lenBytes[1])<<8
			if length < 2 {
				// Nominally impossible (the type tag alone is 2 bytes);
				// the simplest correct recovery is to await the next Start.
				fr.stats.IncResync()
				continue seek
			}

			var typeBytes [2]byte
			resync, err = fr.readLogicalInto(typeBytes[:])
			if err != nil {
				return 0, nil, err
			}
			if resync {
				fr.stats.IncResync()
				continue readLen
			}
			tag := uint16(typeBytes[0]) | uint16(typeBytes[1])<<8

			payload := make([]byte, length-2)
			resync, err = fr.readLogicalInto(payload)
			if err != nil {
				return 0, nil, err
			}
			if resync {
				fr.stats.IncResync()
				continue readLen
			}

			fr.stats.IncFrame()
			return tag, payload, nil
		}
	}
}
