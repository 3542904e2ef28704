package relay

import (
	"context"
	"fmt"
	"log"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/omochice/socket-relay/internal/textenc"
)

// Echo writes a welcome line and then relays every inbound byte back to the
// same connection.
type Echo struct {
	enc     *textenc.Encoder
	metrics metrics
}

// NewEcho creates an Echo handler. A nil encoder means UTF-8; a nil
// registry gets a private one.
func NewEcho(enc *textenc.Encoder, reg gometrics.Registry) *Echo {
	if enc == nil {
		enc = textenc.UTF8
	}
	return &Echo{enc: enc, metrics: newMetrics(reg)}
}

// Welcome returns the greeting sent when a connection is established.
func Welcome(transport string) string {
	if transport == "" {
		transport = UnknownTransport
	}
	return fmt.Sprintf("Welcome. A connection has been established with the '%s' transport.\n\n", transport)
}

// ServeConn implements Handler. It returns nil when the peer ends the
// stream and the first read or write error otherwise.
func (e *Echo) ServeConn(ctx context.Context, conn *Conn) error {
	e.metrics.incr(MetricConnections, 1)
	defer e.metrics.decr(MetricConnections, 1)

	if err := conn.WriteText(ctx, e.enc, Welcome(conn.Transport())); err != nil {
		return fmt.Errorf("write welcome: %w", err)
	}
	log.Printf("Echo connection from %s (%s)", conn.RemoteAddr(), conn.Transport())

	for {
		done, err := e.relayOnce(ctx, conn)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (e *Echo) relayOnce(ctx context.Context, conn *Conn) (bool, error) {
	chunk, err := conn.ReadChunk(ctx)
	if err != nil {
		return false, fmt.Errorf("read: %w", err)
	}
	defer conn.Acknowledge(chunk)

	if !chunk.IsEmpty() {
		e.metrics.incr(MetricRecvBytes, int64(chunk.Len()))
		if err := conn.SendSegments(ctx, chunk.Segments()); err != nil {
			return false, fmt.Errorf("echo: %w", err)
		}
		e.metrics.incr(MetricEchoBytes, int64(chunk.Len()))
	}
	return chunk.IsEnd(), nil
}
