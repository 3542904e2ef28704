package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/pool/pbytes"
)

// writeDeadliner is implemented by net.Conn and by transport adapters that
// can bound a blocking write.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// SegmentWriter implements Writer over an io.Writer. Committed bytes live in
// pooled segments until Flush hands them to the destination as one
// vectored write.
type SegmentWriter struct {
	dst     io.Writer
	size    int
	full    [][]byte
	cur     []byte
	pending int
}

// NewSegmentWriter wraps dst.
func NewSegmentWriter(dst io.Writer, opts Options) *SegmentWriter {
	return &SegmentWriter{
		dst:  dst,
		size: opts.withDefaults().SegmentSize,
	}
}

// Buffer implements Writer. A new segment of max(minSize, SegmentSize) is
// started when the current one has less than minSize bytes left.
func (w *SegmentWriter) Buffer(minSize int) []byte {
	if minSize <= 0 {
		minSize = 1
	}
	if w.cur != nil && cap(w.cur)-len(w.cur) >= minSize {
		return w.cur[len(w.cur):cap(w.cur)]
	}
	if w.cur != nil {
		if len(w.cur) > 0 {
			w.full = append(w.full, w.cur)
		} else {
			pbytes.Put(w.cur)
		}
	}
	w.cur = pbytes.GetCap(max(minSize, w.size))
	return w.cur[:cap(w.cur)]
}

// Commit implements Writer.
func (w *SegmentWriter) Commit(n int) {
	if n < 0 || w.cur == nil || len(w.cur)+n > cap(w.cur) {
		panic(fmt.Sprintf("stream: commit of %d bytes exceeds buffer", n))
	}
	w.cur = w.cur[:len(w.cur)+n]
	w.pending += n
}

// Buffered returns the number of committed bytes not yet flushed.
func (w *SegmentWriter) Buffered() int { return w.pending }

// Flush implements Writer.
func (w *SegmentWriter) Flush(ctx context.Context) error {
	if w.pending == 0 {
		return nil
	}
	segs := w.full
	if len(w.cur) > 0 {
		segs = append(segs, w.cur)
	} else if w.cur != nil {
		pbytes.Put(w.cur)
	}
	w.full, w.cur, w.pending = nil, nil, 0

	defer func() {
		for _, s := range segs {
			pbytes.Put(s)
		}
	}()

	if err := w.arm(ctx); err != nil {
		return err
	}
	bufs := make(net.Buffers, len(segs))
	copy(bufs, segs)
	if _, err := bufs.WriteTo(w.dst); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// WriteChunk implements Writer.
func (w *SegmentWriter) WriteChunk(ctx context.Context, p []byte) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	if err := w.arm(ctx); err != nil {
		return err
	}
	if _, err := w.dst.Write(p); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// arm checks ctx and maps its deadline onto the destination.
func (w *SegmentWriter) arm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, ok := w.dst.(writeDeadliner)
	if !ok {
		return nil
	}
	deadline, _ := ctx.Deadline()
	return d.SetWriteDeadline(deadline)
}
