package tcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/omochice/socket-relay/internal/relay"
	"github.com/omochice/socket-relay/internal/stream"
)

// Server accepts TCP connections and runs a relay handler on each.
type Server struct {
	address string
	handler relay.Handler
	opts    stream.Options

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a TCP server for address that hands connections to h.
func New(address string, h relay.Handler, opts stream.Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		handler: h,
		opts:    opts,
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Listen binds the listening socket without accepting yet.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	log.Printf("TCP server started on %s", l.Addr().String())
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("tcp: Serve called before Listen")
	}

	for {
		nc, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			log.Printf("Failed to accept TCP connection: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handle(nc)
	}
}

// Start listens and accepts connections until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handle(nc net.Conn) {
	defer s.wg.Done()

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.conns[nc] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, nc)
		s.mu.Unlock()
	}()

	Serve(s.ctx, nc, s.handler, s.opts)
}
