// Package ws serves relay handlers over WebSocket connections.
package ws

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/socket-relay/internal/relay"
	"github.com/omochice/socket-relay/internal/stream"
)

// Transport is the label shown to WebSocket peers.
const Transport = "WebSockets"

// frameConn presents the data frames of a server-side WebSocket as one
// ordered byte stream. Each Write becomes a single binary frame.
type frameConn struct {
	conn net.Conn
	rw   io.ReadWriter

	// pending holds the unread tail of the last data frame. Only the
	// stream pump reads, so it needs no lock.
	pending []byte

	// mu serializes frame writes: data from the relay and control replies
	// sent while reading.
	mu sync.Mutex

	// closing is set before Close waits for mu. Later writes fail and the
	// forced write deadline is no longer overridden.
	closing atomic.Bool
}

// closeTimeout bounds a write that is stuck when Close is called, and the
// closure frame itself.
const closeTimeout = time.Second

func newFrameConn(conn net.Conn, br *bufio.Reader) *frameConn {
	fc := &frameConn{conn: conn}
	var r io.Reader = conn
	if br != nil && br.Buffered() > 0 {
		r = br
	}
	fc.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{fc}}
	return fc
}

func (fc *frameConn) Read(p []byte) (int, error) {
	for len(fc.pending) == 0 {
		data, _, err := wsutil.ReadClientData(fc.rw)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return 0, io.EOF
			}
			return 0, err
		}
		fc.pending = data
	}
	n := copy(p, fc.pending)
	fc.pending = fc.pending[n:]
	return n, nil
}

func (fc *frameConn) Write(p []byte) (int, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.closing.Load() {
		return 0, net.ErrClosed
	}
	if err := wsutil.WriteServerBinary(fc.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (fc *frameConn) SetWriteDeadline(t time.Time) error {
	if fc.closing.Load() {
		return net.ErrClosed
	}
	return fc.conn.SetWriteDeadline(t)
}

// Close sends a normal closure frame on a best-effort basis and closes the
// socket. A write blocked on a peer that stopped reading fails within
// closeTimeout instead of holding Close up.
func (fc *frameConn) Close() error {
	fc.closing.Store(true)
	fc.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	fc.mu.Lock()
	fc.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	_ = ws.WriteFrame(fc.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	fc.mu.Unlock()
	return fc.conn.Close()
}

type lockedWriter struct{ fc *frameConn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.fc.mu.Lock()
	defer w.fc.mu.Unlock()
	if w.fc.closing.Load() {
		return 0, net.ErrClosed
	}
	return w.fc.conn.Write(p)
}

// Upgrade completes the WebSocket handshake on r and returns the resulting
// relay connection, labelled "WebSockets".
func Upgrade(w http.ResponseWriter, r *http.Request, opts stream.Options) (*relay.Conn, error) {
	conn, brw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		// The rejection response has been written to the hijacked socket.
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}
	var br *bufio.Reader
	if brw != nil {
		br = brw.Reader
	}
	fc := newFrameConn(conn, br)
	return relay.WrapConn(fc, relay.Info{
		Transport:  Transport,
		RemoteAddr: r.RemoteAddr,
	}, opts), nil
}
