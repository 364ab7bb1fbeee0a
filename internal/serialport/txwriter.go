package serialport

import (
	"context"
	"fmt"

	"github.com/gsprotocol/gsp"
	"github.com/gsprotocol/gsp/internal/asynctx"
	"github.com/gsprotocol/gsp/internal/logging"
	"github.com/gsprotocol/gsp/internal/message"
	"github.com/gsprotocol/gsp/internal/metrics"
)

// ErrTxOverflow is returned by SendMessage when the serial port can't keep
// up and the asynchronous buffer is full. It wraps asynctx.ErrOverflow so
// callers can classify it generically.
var ErrTxOverflow = fmt.Errorf("serialport: tx overflow: %w", asynctx.ErrOverflow)

// TXWriter funnels messages destined for the serial port through one
// goroutine, so a slow or wedged device never blocks the TCP distribution
// server's reader loop.
type TXWriter struct{ base *asynctx.AsyncTx }

// NewTXWriter wires ch.Send behind an AsyncTx with buf slots.
func NewTXWriter(parent context.Context, ch *gsp.Channel, buf int) *TXWriter {
	hooks := asynctx.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialIO)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncSerialTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialIO)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: asynctx.NewAsyncTx(parent, buf, ch.Send, hooks)}
}

// SendMessage queues a message for asynchronous transmission.
func (w *TXWriter) SendMessage(msg message.Message) error { return w.base.SendMessage(msg) }

// Close stops the writer and waits for the worker goroutine to exit.
func (w *TXWriter) Close() { w.base.Close() }
