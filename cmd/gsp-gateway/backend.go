package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gsprotocol/gsp/internal/hub"
	"github.com/gsprotocol/gsp/internal/message"
)

// initBackend selects the backend, starts its RX loop and returns a message
// sender and cleanup. It returns an error instead of exiting the process to
// allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(message.Message) error, func(), error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, h, l, wg)
	case "unix":
		return initUnixBackend(ctx, cfg, h, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use serial|unix)", cfg.backend)
	}
}
