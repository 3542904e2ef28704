package tcp_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/omochice/socket-relay/internal/relay"
	"github.com/omochice/socket-relay/internal/stream"
	"github.com/omochice/socket-relay/internal/transport/tcp"
)

func TestNewConn_Labels(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	conn := tcp.NewConn(server, stream.Options{})
	defer conn.Close()

	if conn.Transport() != tcp.Transport {
		t.Errorf("Transport() = %q, want %q", conn.Transport(), tcp.Transport)
	}
	if conn.RemoteAddr() == "" {
		t.Error("RemoteAddr() is empty")
	}
}

func TestServe_Echo(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- tcp.Serve(context.Background(), server, relay.NewEcho(nil, nil), stream.Options{})
	}()

	client.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(client)
	welcome := relay.Welcome(tcp.Transport)
	got := make([]byte, len(welcome))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if string(got) != welcome {
		t.Errorf("welcome = %q, want %q", got, welcome)
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	echo := make([]byte, 4)
	if _, err := io.ReadFull(r, echo); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echo) != "ping" {
		t.Errorf("echo = %q, want %q", echo, "ping")
	}

	client.Close()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil after peer close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after the peer closed")
	}
}

func TestServe_ReportsHandlerError(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	boom := errors.New("handler failed")
	h := relay.HandlerFunc(func(context.Context, *relay.Conn) error { return boom })

	if err := tcp.Serve(context.Background(), server, h, stream.Options{}); !errors.Is(err, boom) {
		t.Errorf("Serve() error = %v, want %v", err, boom)
	}
	// Serve closes the connection on return.
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Error("connection still open after Serve returned")
	}
}
