// Package asynctx funnels message writes through a single goroutine
// (fan-in), giving producers non-blocking enqueue semantics: if the
// internal buffer is full, SendMessage invokes the configured OnDrop hook
// and returns its error instead of blocking behind a slow or wedged
// transport.
package asynctx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gsprotocol/gsp/internal/message"
)

// AsyncTx is a reusable asynchronous message transmitter.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.SendMessage(msg)
//	a.Close()
//
// After Close returns no more messages are processed: the internal channel
// is closed and further SendMessage calls return ErrAsyncTxClosed.
//
// Hooks let each backend keep distinct metrics/logging without duplicating
// the goroutine + buffer plumbing.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan message.Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(message.Message) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (message not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is
	// returned from SendMessage. If nil, the overflow is silent.
	OnDrop func() error
}

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(message.Message) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan message.Message, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case msg, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(msg); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// ErrAsyncTxClosed is returned by SendMessage after Close.
var ErrAsyncTxClosed = errors.New("asynctx: closed")

// ErrOverflow is the sentinel a backend's OnDrop hook should wrap into the
// error it returns, so callers that only care about "the buffer overflowed"
// (as opposed to the transport-specific error text) can classify it with
// errors.Is regardless of which backend produced it.
var ErrOverflow = errors.New("asynctx: send buffer full")

// SendMessage queues a message for asynchronous transmission, or returns
// the drop hook's error if the buffer is full.
func (a *AsyncTx) SendMessage(msg message.Message) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- msg:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit. A send already in
// progress completes; messages still queued may be discarded. Calls after
// the first are no-ops.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
