package hub

import (
	"testing"
	"time"

	"github.com/gsprotocol/gsp/internal/message"
)

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan message.Message, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate a slow subscriber.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(message.NoOp{})
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan message.Message, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan message.Message, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	// Fill slow's buffer.
	h.Broadcast(message.U8{Value: 1})
	select {
	case <-slow.Out:
		// drains the queued message; the bursts below refill slow's
		// buffer and the rest drop
	default:
	}

	// Bursts that would drop on slow must still reach fast.
	for i := 0; i < 10; i++ {
		h.Broadcast(message.U8{Value: 2})
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast client did not receive any messages while slow was backpressured")
	}
}

func TestHub_Broadcast_KickPolicyClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := &Client{Out: make(chan message.Message, 1), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	h.Broadcast(message.NoOp{}) // fills the buffer
	h.Broadcast(message.NoOp{}) // buffer full -> kick

	select {
	case <-cl.Closed:
	default:
		t.Fatal("expected client to be closed under PolicyKick")
	}
}
