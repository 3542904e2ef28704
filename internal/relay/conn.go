// Package relay provides the echo relay and the broadcast hub shared by all
// transports.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/omochice/socket-relay/internal/stream"
	"github.com/omochice/socket-relay/internal/textenc"
)

// UnknownTransport is displayed when a connection carries no transport label.
const UnknownTransport = "Unknown"

// Info describes a connection for display purposes.
type Info struct {
	Transport  string
	RemoteAddr string
}

// Handler serves a single established connection until it ends.
type Handler interface {
	ServeConn(ctx context.Context, conn *Conn) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn *Conn) error

// ServeConn implements Handler.
func (f HandlerFunc) ServeConn(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}

// Conn is a transport-agnostic duplex connection. All writes go through a
// per-connection lock, so broadcasts and echo never interleave.
type Conn struct {
	in     stream.Reader
	info   Info
	closer io.Closer

	mu  sync.Mutex
	out stream.Writer

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConn assembles a Conn from an inbound reader, an outbound writer and
// the closer that tears down the underlying transport.
func NewConn(in stream.Reader, out stream.Writer, closer io.Closer, info Info) *Conn {
	return &Conn{
		in:     in,
		out:    out,
		closer: closer,
		info:   info,
		done:   make(chan struct{}),
	}
}

// WrapConn builds a Conn over a raw byte stream such as a net.Conn.
func WrapConn(rwc io.ReadWriteCloser, info Info, opts stream.Options) *Conn {
	r := stream.NewSegmentReader(rwc, opts)
	w := stream.NewSegmentWriter(rwc, opts)
	return NewConn(r, w, closers{r, rwc}, info)
}

// Transport returns the transport label, or UnknownTransport.
func (c *Conn) Transport() string {
	if c.info.Transport == "" {
		return UnknownTransport
	}
	return c.info.Transport
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string { return c.info.RemoteAddr }

// ReadChunk reads the next inbound chunk.
func (c *Conn) ReadChunk(ctx context.Context) (stream.Chunk, error) {
	return c.in.ReadChunk(ctx)
}

// Acknowledge releases a chunk returned by ReadChunk.
func (c *Conn) Acknowledge(chunk stream.Chunk) {
	c.in.Acknowledge(chunk)
}

// Send writes p as a single pass-through write.
func (c *Conn) Send(ctx context.Context, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.WriteChunk(ctx, p)
}

// SendSegments writes every segment in order without joining them.
func (c *Conn) SendSegments(ctx context.Context, segments [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range segments {
		if err := c.out.WriteChunk(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// WriteText encodes text into the outbound buffer and flushes it.
func (c *Conn) WriteText(ctx context.Context, enc *textenc.Encoder, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := enc.Write(c.out, text); err != nil {
		return err
	}
	return c.out.Flush(ctx)
}

// Close tears down the transport. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.closer != nil {
			c.closeErr = c.closer.Close()
		}
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

type closers []io.Closer

func (cs closers) Close() error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// IsClosed reports whether err only means the connection went away, either
// because the peer hung up or because it was closed locally.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, stream.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
