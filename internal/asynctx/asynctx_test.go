package asynctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gsprotocol/gsp/internal/message"
)

func TestAsyncTxDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []message.Message
	done := make(chan struct{})

	a := NewAsyncTx(context.Background(), 8, func(m message.Message) error {
		mu.Lock()
		got = append(got, m)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	}, Hooks{})
	defer a.Close()

	want := []message.Message{message.NoOp{}, message.U8{Value: 1}, message.U16{Value: 2}}
	for _, m := range want {
		if err := a.SendMessage(m); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: got %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestAsyncTxDropHookOnFullBuffer(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	errDropped := errors.New("dropped")

	a := NewAsyncTx(context.Background(), 1, func(m message.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Hooks{OnDrop: func() error { return errDropped }})
	defer func() {
		close(block)
		a.Close()
	}()

	// First send starts the blocked worker; second fills the buffer;
	// third should be dropped.
	if err := a.SendMessage(message.NoOp{}); err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker did not pick up the first message")
	}
	if err := a.SendMessage(message.NoOp{}); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}
	if err := a.SendMessage(message.NoOp{}); !errors.Is(err, errDropped) {
		t.Fatalf("expected drop error, got %v", err)
	}
}

func TestAsyncTxSendAfterCloseReturnsErrAsyncTxClosed(t *testing.T) {
	a := NewAsyncTx(context.Background(), 1, func(m message.Message) error { return nil }, Hooks{})
	a.Close()
	if err := a.SendMessage(message.NoOp{}); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("expected ErrAsyncTxClosed, got %v", err)
	}
}
