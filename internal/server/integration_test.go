package server_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/omochice/socket-relay/internal/client"
	"github.com/omochice/socket-relay/pkg/protocol"
)

// awaitMessage drains c until a rendered message contains want. Raw TCP
// reads may carry several messages at once, so it matches by substring.
func awaitMessage(t *testing.T, c client.Client, want string) protocol.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-c.Messages():
			if !ok {
				t.Fatalf("connection closed while waiting for %q", want)
			}
			if strings.Contains(msg.String(), want) {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func connect(t *testing.T, transport, addr string) client.Client {
	t.Helper()
	c, err := client.New(transport, addr)
	if err != nil {
		t.Fatalf("New(%q) error = %v", transport, err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("%s client failed to connect: %v", transport, err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestIntegration_ServerClientCommunication(t *testing.T) {
	srv := newServer(t, nil)

	ws := connect(t, client.TransportWebSocket, srv.Addr())
	self := awaitMessage(t, ws, " connected (WebSockets)")
	if self.Type != protocol.MessageTypeJoin {
		t.Fatalf("first message = %+v, want own join", self)
	}

	tcp := connect(t, client.TransportTCP, srv.Addr())
	tcpJoin := awaitMessage(t, ws, " connected (TCP)")
	waitFor(t, "two clients", func() bool { return srv.ClientCount() == 2 })

	if err := ws.SendMessage("Hello from ws"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	awaitMessage(t, tcp, self.Sender+": Hello from ws")
	if got := awaitMessage(t, ws, "Hello from ws"); got.Sender != self.Sender {
		t.Errorf("sender = %q, want %q", got.Sender, self.Sender)
	}

	if err := tcp.SendMessage("Hello from tcp"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	got := awaitMessage(t, ws, "Hello from tcp")
	if got.Type != protocol.MessageTypeText || got.Sender != tcpJoin.Sender || string(got.Content) != "Hello from tcp" {
		t.Errorf("ws client received %+v", got)
	}

	tcp.Disconnect()
	if left := awaitMessage(t, ws, " disconnected (TCP)"); left.Sender != tcpJoin.Sender {
		t.Errorf("leave sender = %q, want %q", left.Sender, tcpJoin.Sender)
	}
}

func TestIntegration_MultipleClients(t *testing.T) {
	srv := newServer(t, dualPort)

	const n = 5
	clients := make([]client.Client, n)
	for i := range clients {
		if i%2 == 0 {
			clients[i] = connect(t, client.TransportWebSocket, srv.WSAddr())
		} else {
			clients[i] = connect(t, client.TransportTCP, srv.TCPAddr())
		}
	}
	waitFor(t, "all clients", func() bool { return srv.Hub().ClientCount() == n })

	for i, c := range clients {
		text := fmt.Sprintf("broadcast %d", i)
		if err := c.SendMessage(text); err != nil {
			t.Fatalf("client %d failed to send: %v", i, err)
		}
		for _, other := range clients {
			awaitMessage(t, other, text)
		}
	}
}
