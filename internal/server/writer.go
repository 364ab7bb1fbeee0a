package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gsprotocol/gsp"
	"github.com/gsprotocol/gsp/internal/hub"
	"github.com/gsprotocol/gsp/internal/message"
	"github.com/gsprotocol/gsp/internal/metrics"
)

// startWriter launches the goroutine pushing hub messages to a single
// client connection, batching at most batchSize messages between ticks of
// flushInterval.
func (s *Server) startWriter(ctxDone <-chan struct{}, ch *gsp.Channel, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]message.Message, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n := len(batch)
			for _, msg := range batch {
				if err := ch.Send(msg); err != nil {
					batch = batch[:0]
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return wrap
				}
			}
			batch = batch[:0]
			metrics.AddTCPTx(n)
			return nil
		}
		for {
			select {
			case msg := <-cl.Out:
				batch = append(batch, msg)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
