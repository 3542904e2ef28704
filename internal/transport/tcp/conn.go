// Package tcp serves relay handlers over raw TCP byte streams.
package tcp

import (
	"context"
	"log"
	"net"

	"github.com/omochice/socket-relay/internal/relay"
	"github.com/omochice/socket-relay/internal/stream"
)

// Transport is the label shown to TCP peers.
const Transport = "TCP"

// NewConn wraps nc as a relay connection labelled "TCP". nc may be a
// connection whose first bytes were already peeked, as long as its Read
// returns them again.
func NewConn(nc net.Conn, opts stream.Options) *relay.Conn {
	return relay.WrapConn(nc, relay.Info{
		Transport:  Transport,
		RemoteAddr: nc.RemoteAddr().String(),
	}, opts)
}

// Serve runs h on nc and closes the connection when h returns.
func Serve(ctx context.Context, nc net.Conn, h relay.Handler, opts stream.Options) error {
	conn := NewConn(nc, opts)
	defer conn.Close()

	err := h.ServeConn(ctx, conn)
	if err != nil && !relay.IsClosed(err) {
		log.Printf("TCP connection %s: %v", conn.RemoteAddr(), err)
		return err
	}
	return nil
}
