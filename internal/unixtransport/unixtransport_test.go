package unixtransport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gsprotocol/gsp"
)

func TestDialListenRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "gsp.sock")
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverConnCh <- err
			return
		}
		defer conn.Close()
		ch := gsp.NewChannel(conn)
		msg, err := ch.Receive()
		if err != nil {
			serverConnCh <- err
			return
		}
		if err := ch.Send(msg); err != nil {
			serverConnCh <- err
			return
		}
		serverConnCh <- nil
	}()

	conn, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	ch := gsp.NewChannel(conn)
	if err := ch.Send(gsp.U8{Value: 0x7}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := ch.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got != (gsp.Message(gsp.U8{Value: 0x7})) {
		t.Fatalf("got %#v, want U8(7)", got)
	}

	select {
	case err := <-serverConnCh:
		if err != nil {
			t.Fatalf("server goroutine: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server goroutine")
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "gsp.sock")
	if err := os.WriteFile(sockPath, []byte("stale"), 0o600); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen over stale socket: %v", err)
	}
	defer ln.Close()
}
