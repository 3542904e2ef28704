package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/gobwas/pool/pbytes"
)

const (
	// DefaultSegmentSize is the size of pooled read and write segments.
	DefaultSegmentSize = 4096

	// DefaultMaxBuffered bounds unacknowledged inbound bytes per connection.
	DefaultMaxBuffered = 64 * 1024
)

// Options configures segment sizing and inbound flow control.
type Options struct {
	SegmentSize int
	MaxBuffered int
}

func (o Options) withDefaults() Options {
	if o.SegmentSize <= 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.MaxBuffered < o.SegmentSize {
		o.MaxBuffered = max(DefaultMaxBuffered, o.SegmentSize)
	}
	return o
}

// SegmentReader turns an io.Reader into a Reader. A pump goroutine reads
// into pooled segments until MaxBuffered bytes are pending, then waits for
// the consumer to acknowledge.
type SegmentReader struct {
	src  io.Reader
	opts Options

	mu       sync.Mutex
	pending  [][]byte
	buffered int
	inflight *Chunk
	seq      uint64
	err      error
	closed   bool

	data  chan struct{}
	space chan struct{}
	once  sync.Once
}

// NewSegmentReader wraps src. The pump starts on the first ReadChunk.
func NewSegmentReader(src io.Reader, opts Options) *SegmentReader {
	return &SegmentReader{
		src:   src,
		opts:  opts.withDefaults(),
		data:  make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

// ReadChunk implements Reader. Every segment read since the last call is
// returned as one chunk. io.EOF from the source is reported as a chunk with
// IsEnd set; any other source error is returned once pending data has been
// delivered.
func (r *SegmentReader) ReadChunk(ctx context.Context) (Chunk, error) {
	r.once.Do(func() { go r.pump() })

	for {
		r.mu.Lock()
		if r.inflight != nil {
			r.mu.Unlock()
			return Chunk{}, ErrNotAcknowledged
		}
		if r.closed {
			r.mu.Unlock()
			return Chunk{}, ErrClosed
		}
		if len(r.pending) > 0 || r.err != nil {
			c, err := r.take(), r.err
			r.mu.Unlock()
			if c.IsEmpty() && !c.end {
				return Chunk{}, err
			}
			return c, nil
		}
		r.mu.Unlock()

		select {
		case <-r.data:
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

// take moves pending segments into a new in-flight chunk. Callers hold mu.
func (r *SegmentReader) take() Chunk {
	r.seq++
	c := Chunk{
		segments: r.pending,
		size:     r.buffered,
		end:      errors.Is(r.err, io.EOF),
		seq:      r.seq,
	}
	r.pending = nil
	if c.size > 0 {
		r.inflight = &c
	}
	return c
}

// Acknowledge implements Reader. Segments of the chunk return to the pool.
func (r *SegmentReader) Acknowledge(c Chunk) {
	r.mu.Lock()
	if r.inflight == nil || r.inflight.seq != c.seq {
		r.mu.Unlock()
		return
	}
	r.inflight = nil
	r.buffered -= c.size
	r.mu.Unlock()

	for _, s := range c.segments {
		pbytes.Put(s)
	}
	notify(r.space)
}

// Close stops the pump once its current read returns. The source itself is
// closed by its owner.
func (r *SegmentReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	notify(r.space)
	notify(r.data)
	return nil
}

// Buffered returns the number of bytes read but not yet acknowledged.
func (r *SegmentReader) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered
}

func (r *SegmentReader) pump() {
	for {
		r.mu.Lock()
		for r.buffered >= r.opts.MaxBuffered && !r.closed {
			r.mu.Unlock()
			<-r.space
			r.mu.Lock()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		seg := pbytes.GetLen(r.opts.SegmentSize)
		n, err := r.src.Read(seg)

		r.mu.Lock()
		if n > 0 {
			r.pending = append(r.pending, seg[:n])
			r.buffered += n
		} else {
			pbytes.Put(seg)
		}
		if err != nil {
			r.err = err
		}
		r.mu.Unlock()

		if n > 0 || err != nil {
			notify(r.data)
		}
		if err != nil {
			return
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
