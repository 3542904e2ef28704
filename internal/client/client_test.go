package client_test

import (
	"testing"

	"github.com/omochice/socket-relay/internal/client"
)

func TestNew(t *testing.T) {
	for _, transport := range []string{client.TransportTCP, client.TransportWebSocket} {
		c, err := client.New(transport, "127.0.0.1:1")
		if err != nil {
			t.Errorf("New(%q) error = %v", transport, err)
			continue
		}
		if c.IsConnected() {
			t.Errorf("New(%q) returned a connected client", transport)
		}
	}
	if _, err := client.New("carrier-pigeon", "x"); err == nil {
		t.Error("New() accepted an unknown transport")
	}
}
