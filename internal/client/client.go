// Package client provides chat clients for the relay's TCP and WebSocket
// transports.
package client

import (
	"fmt"

	"github.com/omochice/socket-relay/internal/client/tcp"
	"github.com/omochice/socket-relay/internal/client/ws"
	"github.com/omochice/socket-relay/pkg/protocol"
)

// Client defines the interface for chat clients.
// Both TCP and WebSocket implementations satisfy this interface.
type Client interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	SendMessage(content string) error
	Messages() <-chan protocol.Message
}

// Transport names accepted by New.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// New returns an unconnected client. For "tcp" address is host:port; for
// "ws" it is a ws:// URL, or host:port to which "/chat" is appended.
func New(transport, address string) (Client, error) {
	switch transport {
	case TransportTCP:
		return tcp.New(address), nil
	case TransportWebSocket:
		return ws.New(ws.URL(address, "/chat")), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}
