package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const hello = "GSPv1"

// Handshake runs the short hello exchange a distribution client must
// complete before subscribing: both sides write and read the literal hello
// string, bounded by timeout.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if deadlineErr := c.SetDeadline(time.Now().Add(timeout)); deadlineErr != nil {
		return fmt.Errorf("set deadline: %w", deadlineErr)
	}
	defer c.SetDeadline(time.Time{})

	errCh := make(chan error, 2)

	go func() {
		_, err := io.WriteString(c, hello)
		errCh <- err
	}()

	go func() {
		buf := make([]byte, len(hello))
		_, err := io.ReadFull(c, buf)
		if err == nil && string(buf) != hello {
			err = errors.New("bad hello")
		}
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
	return nil
}
