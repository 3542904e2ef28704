package ws_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	ws "github.com/omochice/socket-relay/internal/client/ws"
	"github.com/omochice/socket-relay/pkg/protocol"
)

var upgrader = websocket.Upgrader{}

// newMockServer upgrades every request and runs serve on the connection.
func newMockServer(t *testing.T, serve func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer c.Close()
		serve(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echo(c *websocket.Conn) {
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if err := c.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

func TestURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"localhost:8080", "ws://localhost:8080/chat"},
		{"ws://example.com/echo", "ws://example.com/echo"},
		{"wss://example.com/chat", "wss://example.com/chat"},
	}
	for _, tt := range tests {
		if got := ws.URL(tt.in, "/chat"); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClient_ConnectAndDisconnect(t *testing.T) {
	client := ws.New(newMockServer(t, echo))

	if client.IsConnected() {
		t.Error("expected IsConnected() to be false before Connect()")
	}
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected IsConnected() to be true after Connect()")
	}

	client.Disconnect()
	client.Disconnect()
	if client.IsConnected() {
		t.Error("expected IsConnected() to be false after Disconnect()")
	}
	if _, ok := <-client.Messages(); ok {
		t.Error("Messages() still open after Disconnect()")
	}
}

func TestClient_SendAndReceive(t *testing.T) {
	client := ws.New(newMockServer(t, echo))
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	if err := client.SendMessage("id-1: hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	select {
	case msg := <-client.Messages():
		if msg.Type != protocol.MessageTypeText || msg.Sender != "id-1" || string(msg.Content) != "hello" {
			t.Errorf("received %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestClient_ReceivesAnnouncements(t *testing.T) {
	client := ws.New(newMockServer(t, func(c *websocket.Conn) {
		c.WriteMessage(websocket.BinaryMessage, []byte("x connected (WebSockets)"))
		c.WriteMessage(websocket.BinaryMessage, []byte("x disconnected (WebSockets)"))
		c.ReadMessage()
	}))
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	for _, want := range []protocol.MessageType{protocol.MessageTypeJoin, protocol.MessageTypeLeave} {
		select {
		case msg := <-client.Messages():
			if msg.Type != want || msg.Sender != "x" || msg.Transport != "WebSockets" {
				t.Errorf("received %+v, want %v", msg, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
}

func TestClient_SendWithoutConnect(t *testing.T) {
	client := ws.New("ws://127.0.0.1:1/chat")
	if err := client.SendMessage("x"); !errors.Is(err, ws.ErrNotConnected) {
		t.Errorf("SendMessage() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	client := ws.New("ws://127.0.0.1:1/chat")
	if err := client.Connect(); err == nil {
		client.Disconnect()
		t.Fatal("Connect() to a closed port succeeded")
	}
}

func TestClient_ServerClose(t *testing.T) {
	client := ws.New(newMockServer(t, func(c *websocket.Conn) {
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	select {
	case _, ok := <-client.Messages():
		if ok {
			t.Error("unexpected message")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Messages() not closed after server close")
	}
	if client.IsConnected() {
		t.Error("client still connected after server close")
	}
}
