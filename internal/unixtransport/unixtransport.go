// Package unixtransport provides a Unix domain stream socket as the duplex
// byte transport a Channel reads and writes frames over — useful when the
// gateway and a co-located process exchange messages without a TCP port.
package unixtransport

import (
	"fmt"
	"net"
	"os"
)

// Dial connects to a Unix domain socket at path.
func Dial(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("unixtransport: dial %s: %w", path, err)
	}
	return conn, nil
}

// Listener wraps a Unix domain socket listener, removing any stale socket
// file left behind by a previous run before binding.
type Listener struct {
	ln   net.Listener
	path string
}

// Listen binds a Unix domain socket at path, replacing any leftover socket
// file from an unclean shutdown.
func Listen(path string) (*Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("unixtransport: remove stale socket %s: %w", path, err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("unixtransport: listen %s: %w", path, err)
	}
	return &Listener{ln: ln, path: path}, nil
}

// Accept blocks until a peer connects.
func (l *Listener) Accept() (net.Conn, error) { return l.ln.Accept() }

// Addr returns the socket path this listener is bound to.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close closes the listener and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	_ = os.Remove(l.path)
	return err
}
