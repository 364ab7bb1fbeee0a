package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gsprotocol/gsp"
	"github.com/gsprotocol/gsp/internal/hub"
	"github.com/gsprotocol/gsp/internal/message"
	"github.com/gsprotocol/gsp/internal/metrics"
	"github.com/gsprotocol/gsp/internal/serialport"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests.
var openSerialPort = serialport.Open

// initSerialBackend sets up the serial backend, launching the RX loop.
func initSerialBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(message.Message) error, func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)

	ch := gsp.NewChannel(sp, gsp.WithStats(metrics.FrameStats{}))
	w := serialport.NewTXWriter(ctx, ch, txQueueSize)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msg, err := ch.ReceiveLoop(func(derr error) {
				metrics.IncError(metrics.ErrSerialIO)
				l.Debug("serial_decode_error", "error", derr)
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					return // device removed or fatal
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // ignore transient EOF from a read timeout
				}
				metrics.IncError(metrics.ErrSerialIO)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			metrics.IncSerialRx()
			h.Broadcast(msg)
			backoff = rxBackoffMin
		}
	}()
	return w.SendMessage, func() { _ = sp.Close(); w.Close() }, nil
}
