package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func encodeFrame(t *testing.T, tag uint16, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteFrame(tag, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	return buf.Bytes()
}

func TestSeedScenarios(t *testing.T) {
	cases := []struct {
		name    string
		tag     uint16
		payload []byte
		want    []byte
	}{
		{"NoOp", 4, nil, []byte{0x58, 0x02, 0x00, 0x04, 0x00}},
		{"U8", 1, []byte{0x57}, []byte{0x58, 0x03, 0x00, 0x01, 0x00, 0x57}},
		{"Bytes", 0, []byte{1, 2, 3, 4, 5}, []byte{0x58, 0x07, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05}},
		{"U16", 5, []byte{0x34, 0x12}, []byte{0x58, 0x04, 0x00, 0x05, 0x00, 0x34, 0x12}},
		{"Bytes with sensitive payload byte", 0, []byte{0x58}, []byte{0x58, 0x03, 0x00, 0x00, 0x00, 0x42, 0x31}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := encodeFrame(t, tc.tag, tc.payload)
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("wire mismatch:\n got  % x\n want % x", got, tc.want)
			}
		})
	}
}

func TestSixtyFourZeroBytesEscapesLengthLowByte(t *testing.T) {
	payload := make([]byte, 64)
	got := encodeFrame(t, 0, payload)
	want := append([]byte{0x58, 0x42, 0x2B, 0x00, 0x00, 0x00, 0x00}, payload...)
	if !bytes.Equal(got, want) {
		t.Fatalf("wire mismatch:\n got  % x\n want % x", got, want)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		tag     uint16
		payload []byte
	}{
		{4, nil},
		{1, []byte{0x57}},
		{0, []byte{1, 2, 3, 4, 5}},
		{5, []byte{0x34, 0x12}},
		{0, []byte{0x58, 0x42, 0x58, 0x42, 0x58}},
		{2, []byte("hello, gsp")},
	}
	for _, tc := range cases {
		wire := encodeFrame(t, tc.tag, tc.payload)
		tag, payload, err := NewReader(bytes.NewReader(wire)).ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if tag != tc.tag || !bytes.Equal(payload, tc.payload) {
			t.Fatalf("got (%d, % x), want (%d, % x)", tag, payload, tc.tag, tc.payload)
		}
	}
}

func TestGarbagePrefixDiscarded(t *testing.T) {
	wire := append([]byte{0x00, 0xFF, 0x42, 0x13}, encodeFrame(t, 4, nil)...)
	tag, payload, err := NewReader(bytes.NewReader(wire)).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if tag != 4 || len(payload) != 0 {
		t.Fatalf("got (%d, % x), want NoOp", tag, payload)
	}
}

func TestMidFrameResync(t *testing.T) {
	frame1 := encodeFrame(t, 0, bytes.Repeat([]byte{0xAA}, 20))
	frame2 := encodeFrame(t, 4, nil)
	for cut := 1; cut < len(frame1); cut++ {
		wire := append(append([]byte{}, frame1[:cut]...), frame2...)
		tag, payload, err := NewReader(bytes.NewReader(wire)).ReadFrame()
		if err != nil {
			t.Fatalf("cut=%d: ReadFrame: %v", cut, err)
		}
		if tag != 4 || len(payload) != 0 {
			t.Fatalf("cut=%d: got (%d, % x), want NoOp", cut, tag, payload)
		}
	}
}

func TestInterruptedFrameThenFullFrame(t *testing.T) {
	bytesFrame := encodeFrame(t, 0, []byte{1, 2, 3, 4, 5})
	noop := encodeFrame(t, 4, nil)
	wire := append(append([]byte{}, bytesFrame[:4]...), noop...)
	tag, payload, err := NewReader(bytes.NewReader(wire)).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if tag != 4 || len(payload) != 0 {
		t.Fatalf("got (%d, % x), want NoOp", tag, payload)
	}
}

func TestBackToBackFramesNoGap(t *testing.T) {
	var wire []byte
	wire = append(wire, encodeFrame(t, 4, nil)...)
	wire = append(wire, encodeFrame(t, 1, []byte{0x99})...)
	r := NewReader(bytes.NewReader(wire))

	tag, payload, err := r.ReadFrame()
	if err != nil || tag != 4 || len(payload) != 0 {
		t.Fatalf("first frame: tag=%d payload=% x err=%v", tag, payload, err)
	}
	tag, payload, err = r.ReadFrame()
	if err != nil || tag != 1 || !bytes.Equal(payload, []byte{0x99}) {
		t.Fatalf("second frame: tag=%d payload=% x err=%v", tag, payload, err)
	}
}

func TestChunkedFeedDoesNotLoseFrames(t *testing.T) {
	var want [][2]any
	var wire []byte
	for i, p := range [][]byte{
		{1, 2, 3},
		nil,
		{0x58, 0x42, 0x58},
		{9},
	} {
		wire = append(wire, encodeFrame(t, uint16(i), p)...)
		want = append(want, [2]any{uint16(i), p})
	}

	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		chunkSizes := []int{1, 2, 3, 5, 7}
		cs := 0
		for pos := 0; pos < len(wire); {
			n := chunkSizes[cs%len(chunkSizes)]
			cs++
			if pos+n > len(wire) {
				n = len(wire) - pos
			}
			_, _ = pw.Write(wire[pos : pos+n])
			pos += n
		}
	}()

	r := NewReader(pr)
	for _, w := range want {
		tag, payload, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if tag != w[0].(uint16) || !bytes.Equal(payload, w[1].([]byte)) {
			t.Fatalf("got (%d, % x), want (%d, % x)", tag, payload, w[0], w[1])
		}
	}
}

func TestTransportEOFSurfaced(t *testing.T) {
	_, _, err := NewReader(bytes.NewReader(nil)).ReadFrame()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameAfterEmptyEscapeThenStartAbandonsFrame(t *testing.T) {
	// A bare ESCAPE immediately followed by START means the first frame is
	// abandoned and a new one starts at the START byte.
	noop := encodeFrame(t, 4, nil)
	wire := append([]byte{0x58, 0x02, 0x00, Escape, Start}, noop...)
	tag, payload, err := NewReader(bytes.NewReader(wire)).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if tag != 4 || len(payload) != 0 {
		t.Fatalf("got (%d, % x), want NoOp", tag, payload)
	}
}

func TestWriteFramePayloadTooLong(t *testing.T) {
	var buf bytes.Buffer
	err := NewWriter(&buf).WriteFrame(0, make([]byte, 1<<16))
	if !errors.Is(err, ErrPayloadTooLong) {
		t.Fatalf("expected ErrPayloadTooLong, got %v", err)
	}
}

func TestLengthFidelityNoTrailingBytes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(4, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	n := buf.Len()
	if err := w.WriteFrame(1, []byte{1}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	second := buf.Bytes()[n:]
	if second[0] != Start {
		t.Fatalf("second frame does not start immediately after first: % x", second)
	}
}

type countingStats struct {
	frames, resyncs, garbage, decodeErrors int
}

func (c *countingStats) IncFrame()       { c.frames++ }
func (c *countingStats) IncResync()      { c.resyncs++ }
func (c *countingStats) IncGarbage(n int) { c.garbage += n }
func (c *countingStats) IncDecodeError() { c.decodeErrors++ }

func TestStatsHookCountsResyncAndGarbage(t *testing.T) {
	stats := &countingStats{}
	frame1 := encodeFrame(t, 0, bytes.Repeat([]byte{0xBB}, 10))
	frame2 := encodeFrame(t, 4, nil)
	wire := append([]byte{0xFF, 0xFF}, append(frame1[:3], frame2...)...)

	r := NewReader(bytes.NewReader(wire), WithStats(stats))
	tag, _, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if tag != 4 {
		t.Fatalf("expected NoOp, got tag %d", tag)
	}
	if stats.garbage == 0 {
		t.Fatalf("expected garbage bytes to be counted")
	}
	if stats.resyncs == 0 {
		t.Fatalf("expected at least one resync to be counted")
	}
	if stats.frames != 1 {
		t.Fatalf("expected exactly one frame counted, got %d", stats.frames)
	}
}
