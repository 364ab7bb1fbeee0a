// Package serialport opens a serial device as the duplex byte transport a
// Channel reads and writes frames over.
package serialport

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability; it satisfies io.ReadWriteCloser
// and can be handed directly to gsp.NewChannel.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the named serial device at the given baud rate. readTimeout
// bounds each Read call the way tarm/serial expects; it is not a protocol
// timeout, since the Channel's Receive has no notion of one.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
