package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/gsprotocol/gsp"
	"github.com/gsprotocol/gsp/internal/asynctx"
	"github.com/gsprotocol/gsp/internal/hub"
	"github.com/gsprotocol/gsp/internal/message"
	"github.com/gsprotocol/gsp/internal/metrics"
)

// startReader pulls messages a subscriber sends upstream (e.g. a control
// command) and forwards each to the backend transport via s.Send.
func (s *Server) startReader(ctxDone <-chan struct{}, ch *gsp.Channel, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			msg, err := ch.Receive()
			if err != nil {
				if errors.Is(err, message.ErrDecode) {
					metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrConnRead, err)))
					continue
				}
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			if s.messageFilter != nil && !s.messageFilter(msg) {
				continue
			}
			metrics.IncTCPRx()
			if s.Send == nil {
				continue
			}
			if err := s.Send(msg); err != nil {
				if errors.Is(err, asynctx.ErrOverflow) || errors.Is(err, asynctx.ErrAsyncTxClosed) {
					s.totalBackendOverflow.Add(1)
					logger.Debug("backend_overflow_drop", "error", err)
				} else {
					wrap := fmt.Errorf("%w: %v", ErrBackendTx, err)
					s.setError(wrap)
					s.totalBackendErrors.Add(1)
					logger.Error("backend_tx_error", "error", wrap)
				}
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
