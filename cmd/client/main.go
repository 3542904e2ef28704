package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/omochice/socket-relay/internal/client"
	"github.com/omochice/socket-relay/pkg/protocol"
)

func main() {
	serverAddr := flag.String("server", "localhost:8080", "Server address (host:port, or a ws:// URL)")
	transport := flag.String("transport", client.TransportTCP, "Transport to use: tcp or ws")
	flag.Parse()

	c, err := client.New(*transport, *serverAddr)
	if err != nil {
		log.Fatal(err)
	}

	if err := c.Connect(); err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer c.Disconnect()

	log.Printf("Connected to %s over %s", *serverAddr, *transport)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.Messages() {
			switch msg.Type {
			case protocol.MessageTypeJoin:
				fmt.Printf("*** %s joined the chat (%s) ***\n", msg.Sender, msg.Transport)
			case protocol.MessageTypeLeave:
				fmt.Printf("*** %s left the chat (%s) ***\n", msg.Sender, msg.Transport)
			default:
				if msg.Sender == "" {
					fmt.Print(string(msg.Content))
					continue
				}
				fmt.Printf("[%s]: %s\n", msg.Sender, msg.Content)
			}
		}
	}()

	fmt.Println("Type your messages (or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			break
		}
		if err := c.SendMessage(text); err != nil {
			log.Printf("Failed to send message: %v", err)
			select {
			case <-done:
				log.Println("Connection closed by server")
				return
			default:
			}
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}
