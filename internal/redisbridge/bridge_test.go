package redisbridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gsprotocol/gsp/internal/message"
)

func TestParseWireRoundTrip(t *testing.T) {
	msg := message.Multi{Number: 7, Text: "hi"}
	tag, payload := msg.Encode()
	wire := fmt.Sprintf("%d:%x", tag, payload)

	got, err := parseWire(wire)
	if err != nil {
		t.Fatalf("parseWire: %v", err)
	}
	if got != message.Message(msg) {
		t.Fatalf("got %#v, want %#v", got, msg)
	}
}

func TestParseWireMalformed(t *testing.T) {
	cases := []string{"", "notanint:aa", "4:zz", "4"}
	for _, c := range cases {
		if _, err := parseWire(c); err == nil {
			t.Fatalf("parseWire(%q): expected error", c)
		}
	}
}

func TestParseWireUnknownTag(t *testing.T) {
	_, err := parseWire(fmt.Sprintf("%d:", 99))
	if err == nil {
		t.Fatalf("expected decode error for unknown tag")
	}
	var invalidType *message.InvalidMessageTypeError
	if !errors.As(err, &invalidType) {
		t.Fatalf("expected InvalidMessageTypeError, got %v", err)
	}
}
