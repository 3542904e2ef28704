// Package stream provides the chunked byte-stream primitive the relay core
// reads from and writes to. Transports wrap their raw connection with a
// SegmentReader and a SegmentWriter.
package stream

import (
	"context"
	"errors"
	"io"
	"net"
)

var (
	// ErrNotAcknowledged is returned by ReadChunk when the previous chunk has
	// not been acknowledged yet.
	ErrNotAcknowledged = errors.New("stream: previous chunk not acknowledged")

	// ErrClosed is returned when reading from or writing to a closed stream.
	ErrClosed = errors.New("stream: closed")
)

// Chunk is a read-only view over one or more segments of inbound bytes.
// Segments belong to the reader and must not be used after the chunk is
// acknowledged.
type Chunk struct {
	segments [][]byte
	size     int
	end      bool
	seq      uint64
}

// NewChunk builds a chunk over the given segments. It is mostly useful for
// tests and for Reader implementations outside this package.
func NewChunk(end bool, segments ...[]byte) Chunk {
	c := Chunk{end: end}
	for _, s := range segments {
		if len(s) == 0 {
			continue
		}
		c.segments = append(c.segments, s)
		c.size += len(s)
	}
	return c
}

// Len returns the total number of bytes in the chunk.
func (c Chunk) Len() int { return c.size }

// IsEmpty reports whether the chunk carries no bytes.
func (c Chunk) IsEmpty() bool { return c.size == 0 }

// IsEnd reports whether this is the last chunk of the stream.
func (c Chunk) IsEnd() bool { return c.end }

// IsSingleSegment reports whether the chunk is backed by at most one segment.
func (c Chunk) IsSingleSegment() bool { return len(c.segments) <= 1 }

// Segments returns the segments in stream order.
func (c Chunk) Segments() [][]byte { return c.segments }

// Bytes returns a contiguous copy of the chunk.
func (c Chunk) Bytes() []byte {
	out := make([]byte, 0, c.size)
	for _, s := range c.segments {
		out = append(out, s...)
	}
	return out
}

// AppendTo appends the chunk's bytes to dst.
func (c Chunk) AppendTo(dst []byte) []byte {
	for _, s := range c.segments {
		dst = append(dst, s...)
	}
	return dst
}

// WriteTo writes every segment to w in order.
func (c Chunk) WriteTo(w io.Writer) (int64, error) {
	bufs := make(net.Buffers, len(c.segments))
	copy(bufs, c.segments)
	return bufs.WriteTo(w)
}

// Reader is the inbound half of a connection.
type Reader interface {
	// ReadChunk blocks until data is available or the stream ends.
	ReadChunk(ctx context.Context) (Chunk, error)

	// Acknowledge marks the chunk as consumed. It is safe to call more
	// than once for the same chunk.
	Acknowledge(c Chunk)
}

// Writer is the outbound half of a connection. It is not safe for
// concurrent use; callers serialize access.
type Writer interface {
	// Buffer returns writable space of at least minSize bytes when the
	// writer can provide it. The slice is valid until the next call.
	Buffer(minSize int) []byte

	// Commit marks n bytes of the last returned buffer as written.
	Commit(n int)

	// Flush sends all committed bytes.
	Flush(ctx context.Context) error

	// WriteChunk flushes committed bytes and then writes p unbuffered.
	WriteChunk(ctx context.Context, p []byte) error
}
