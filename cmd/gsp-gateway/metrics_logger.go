package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gsprotocol/gsp/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRx,
					"serial_tx", snap.SerialTx,
					"unix_rx", snap.UnixRx,
					"unix_tx", snap.UnixTx,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"hub_drops", snap.HubDrops,
					"hub_kicks", snap.HubKicks,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
