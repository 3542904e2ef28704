// Package tcp provides a TCP client for the chat server.
package tcp

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/omochice/socket-relay/pkg/protocol"
)

// ErrNotConnected is returned when sending without a connection.
var ErrNotConnected = errors.New("not connected to server")

// Client represents a TCP chat client. Raw TCP carries no message framing,
// so every read from the server is delivered as one message. Delivery is
// best-effort display: broadcasts that arrive in the same read come out as
// a single Text message.
type Client struct {
	address  string
	conn     net.Conn
	messages chan protocol.Message
	mu       sync.RWMutex
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Client instance
func New(address string) *Client {
	return &Client{
		address:  address,
		messages: make(chan protocol.Message, 10),
		done:     make(chan struct{}),
	}
}

// Connect establishes a connection to the server
func (c *Client) Connect() error {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiveMessages(conn)

	return nil
}

// Disconnect closes the connection and waits for the receiver to stop.
// The Messages channel is closed afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// SendMessage sends raw text to the server.
func (c *Client) SendMessage(content string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	if _, err := io.WriteString(conn, content); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Messages returns the channel for receiving messages
func (c *Client) Messages() <-chan protocol.Message {
	return c.messages
}

func (c *Client) receiveMessages(conn net.Conn) {
	defer c.wg.Done()
	defer close(c.messages)

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			select {
			case c.messages <- protocol.Parse(buf[:n]):
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				if !errors.Is(err, io.EOF) {
					log.Printf("Error reading from server: %v", err)
				}
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
			}
			return
		}
	}
}
