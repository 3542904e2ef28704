package server

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestDetectProtocol(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  protocolType
	}{
		{"get request", "GET /chat HTTP/1.1\r\n", protocolHTTP},
		{"post request", "POST /x HTTP/1.1\r\n", protocolHTTP},
		{"options request", "OPTIONS * HTTP/1.1\r\n", protocolHTTP},
		{"plain text", "hello there", protocolTCP},
		{"lowercase method", "get / HTTP/1.1", protocolTCP},
		{"binary", "\x00\x01\x02\x03\x04", protocolTCP},
		{"short then close", "GE", protocolTCP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := net.Pipe()
			defer server.Close()
			go func() {
				client.Write([]byte(tt.input))
				client.Close()
			}()

			got, r, err := detectProtocol(server, time.Second)
			if err != nil {
				t.Fatalf("detectProtocol() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("detectProtocol() = %v, want %v", got, tt.want)
			}
			replay, _ := io.ReadAll(r)
			if string(replay) != tt.input {
				t.Errorf("replayed %q, want %q", replay, tt.input)
			}
		})
	}
}

func TestDetectProtocol_SilentPeerIsTCP(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	start := time.Now()
	got, r, err := detectProtocol(server, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("detectProtocol() error = %v", err)
	}
	if got != protocolTCP {
		t.Errorf("detectProtocol() = %v, want tcp", got)
	}
	if time.Since(start) > time.Second {
		t.Error("detection did not honour the timeout")
	}

	// The deadline must be cleared so later reads can block.
	go client.Write([]byte("late"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || string(buf) != "late" {
		t.Errorf("read after timeout = %q, %v", buf, err)
	}
}

func TestConnListener(t *testing.T) {
	l := newConnListener(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go l.push(a)
	c, err := l.Accept()
	if err != nil || c != a {
		t.Fatalf("Accept() = %v, %v", c, err)
	}

	l.Close()
	l.Close()
	if _, err := l.Accept(); err != net.ErrClosed {
		t.Errorf("Accept() after Close error = %v, want net.ErrClosed", err)
	}
	if l.push(b) {
		t.Error("push() after Close reported success")
	}
	if l.Addr().String() != "127.0.0.1:1" {
		t.Errorf("Addr() = %v", l.Addr())
	}
}
