package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

func (p protocolType) String() string {
	if p == protocolHTTP {
		return "http"
	}
	return "tcp"
}

const sniffLen = 4

// httpPrefixes are the first sniffLen bytes of every HTTP request method.
var httpPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"),
	[]byte("PATC"),
	[]byte("DELE"),
	[]byte("CONN"),
	[]byte("TRAC"),
}

// detectProtocol reads the first bytes of conn to tell HTTP from raw TCP.
// The returned reader replays them. TCP echo clients wait for the welcome
// line before sending, so a peer that stays silent for timeout, or hangs
// up early, is raw TCP.
func detectProtocol(conn net.Conn, timeout time.Duration) (protocolType, io.Reader, error) {
	buf := make([]byte, sniffLen)
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}
	n, err := io.ReadFull(conn, buf)
	conn.SetReadDeadline(time.Time{})

	r := io.MultiReader(bytes.NewReader(buf[:n]), conn)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return protocolTCP, r, nil
		}
		return protocolTCP, r, err
	}

	for _, p := range httpPrefixes {
		if bytes.Equal(buf, p) {
			return protocolHTTP, r, nil
		}
	}
	return protocolTCP, r, nil
}
