package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/gsprotocol/gsp"
	"github.com/gsprotocol/gsp/internal/asynctx"
	"github.com/gsprotocol/gsp/internal/hub"
	"github.com/gsprotocol/gsp/internal/message"
	"github.com/gsprotocol/gsp/internal/metrics"
	"github.com/gsprotocol/gsp/internal/unixtransport"
)

// dialUnixBackend is a hook for tests.
var dialUnixBackend = unixtransport.Dial

// initUnixBackend dials a Unix domain socket speaking gsp and wires it up
// as the backend transport: messages received on it are broadcast to the
// hub, and messages from distribution clients are funneled back to it
// through an async writer so a wedged peer never blocks a client reader.
func initUnixBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(message.Message) error, func(), error) {
	conn, err := dialUnixBackend(cfg.unixSocket)
	if err != nil {
		return nil, func() {}, fmt.Errorf("dial unix socket: %w", err)
	}
	l.Info("unix_open", "path", cfg.unixSocket)

	ch := gsp.NewChannel(conn, gsp.WithStats(metrics.FrameStats{}))
	hooks := asynctx.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrUnixIO)
			l.Error("unix_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncUnixTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrUnixIO)
			return errUnixTxOverflow
		},
	}
	tx := asynctx.NewAsyncTx(ctx, txQueueSize, ch.Send, hooks)

	backoff := rxBackoffMin
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("unix_rx_end")
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msg, err := ch.ReceiveLoop(func(derr error) {
				metrics.IncError(metrics.ErrUnixIO)
				l.Debug("unix_decode_error", "error", derr)
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return // peer hung up; nothing more to read
				}
				metrics.IncError(metrics.ErrUnixIO)
				l.Warn("unix_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			metrics.IncUnixRx()
			h.Broadcast(msg)
			backoff = rxBackoffMin
		}
	}()
	return tx.SendMessage, func() { tx.Close(); _ = conn.Close() }, nil
}

var errUnixTxOverflow = fmt.Errorf("gsp-gateway: unix backend tx overflow: %w", asynctx.ErrOverflow)
