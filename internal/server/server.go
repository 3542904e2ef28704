// Package server runs the relay over raw TCP and WebSocket, either on one
// port with protocol detection or on two separate ports.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/omochice/socket-relay/internal/config"
	"github.com/omochice/socket-relay/internal/relay"
	"github.com/omochice/socket-relay/internal/stream"
	"github.com/omochice/socket-relay/internal/textenc"
	"github.com/omochice/socket-relay/internal/transport/tcp"
	"github.com/omochice/socket-relay/internal/transport/ws"
	"github.com/omochice/socket-relay/pkg/protocol"
)

// ErrServerStopped is returned by Start once Stop has been called.
var ErrServerStopped = errors.New("server stopped")

// Server owns the listeners, the shared hub and every live connection.
type Server struct {
	cfg     config.Config
	opts    stream.Options
	metrics gometrics.Registry

	hub    *relay.Hub
	echo   *relay.Echo
	router http.Handler

	mu       sync.Mutex
	listener net.Listener
	httpLn   *connListener
	http     *http.Server
	tcp      *tcp.Server
	web      *ws.Server
	conns    map[*relay.Conn]struct{}
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and builds a server. A nil registry gets a private one.
func New(cfg config.Config, reg gometrics.Registry) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	enc, err := textenc.Lookup(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = gometrics.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		opts:    cfg.StreamOptions(),
		metrics: reg,
		hub:     relay.NewHub(relay.HubOptions{SendTimeout: cfg.SendTimeout, Metrics: reg}),
		echo:    relay.NewEcho(enc, reg),
		conns:   make(map[*relay.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.router = ws.NewRouter(ws.Routes{
		Echo:    s.echo,
		Chat:    s.hub,
		Status:  s.Status,
		Options: s.opts,
		Track:   s.track,
	})
	return s, nil
}

// Hub returns the broadcast hub shared by every transport.
func (s *Server) Hub() *relay.Hub { return s.hub }

// Start opens the listeners and blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	<-s.ctx.Done()
	return ErrServerStopped
}

// Listen opens the listeners and starts serving in the background.
func (s *Server) Listen() error {
	if s.cfg.DualPort() {
		return s.listenDual()
	}
	return s.listenSingle()
}

func (s *Server) listenSingle() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	httpLn := newConnListener(l.Addr())
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.listener, s.httpLn, s.http = l, httpLn, srv
	s.mu.Unlock()
	log.Printf("Unified server started on %s (TCP and WebSocket)", l.Addr().String())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	go s.acceptConnections(l)
	return nil
}

func (s *Server) listenDual() error {
	tcpSrv := tcp.New(s.cfg.TCPAddr, s.track(s.tcpHandler()), s.opts)
	if err := tcpSrv.Listen(); err != nil {
		return err
	}
	webSrv := ws.New(s.cfg.WSAddr, s.router)
	if err := webSrv.Listen(); err != nil {
		tcpSrv.Stop()
		return err
	}

	s.mu.Lock()
	s.tcp, s.web = tcpSrv, webSrv
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		tcpSrv.Serve()
	}()
	go func() {
		defer s.wg.Done()
		if err := webSrv.Serve(); err != nil {
			log.Printf("WebSocket server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every listener and connection and waits for all handlers.
// Departures are still announced to whoever remains during teardown.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	if s.httpLn != nil {
		s.httpLn.Close()
	}
	if s.http != nil {
		s.http.Close()
	}
	if s.web != nil {
		s.web.Stop()
	}
	tcpSrv := s.tcp
	conns := make([]*relay.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	// Closing may wait for a write to a peer that stopped reading, so it
	// runs without s.mu.
	for _, c := range conns {
		c.Close()
	}
	if tcpSrv != nil {
		tcpSrv.Stop()
	}
	s.wg.Wait()
}

// Addr returns the single-port listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// TCPAddr returns the raw TCP address in dual-port mode.
func (s *Server) TCPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp != nil {
		return s.tcp.Addr()
	}
	return ""
}

// WSAddr returns the WebSocket address in dual-port mode.
func (s *Server) WSAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.web != nil {
		return s.web.Addr()
	}
	return ""
}

// ClientCount returns the number of live connections on any transport.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Status reports the chat participants and the relay counters.
func (s *Server) Status() protocol.Status {
	st := protocol.Status{Counters: make(map[string]int64)}
	for _, e := range s.hub.Registry().Snapshot() {
		st.Connections = append(st.Connections, protocol.ConnStatus{
			ID:         e.ID,
			Transport:  e.Conn.Transport(),
			RemoteAddr: e.Conn.RemoteAddr(),
		})
	}
	s.metrics.Each(func(name string, m interface{}) {
		if c, ok := m.(gometrics.Counter); ok {
			st.Counters[name] = c.Count()
		}
	})
	return st
}

func (s *Server) tcpHandler() relay.Handler {
	if s.cfg.TCPMode == config.ModeEcho {
		return s.echo
	}
	return s.hub
}

// track wraps h so the server knows every live connection and can close
// it on Stop.
func (s *Server) track(h relay.Handler) relay.Handler {
	return relay.HandlerFunc(func(ctx context.Context, conn *relay.Conn) error {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return stream.ErrClosed
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			s.wg.Done()
		}()
		return h.ServeConn(ctx, conn)
	})
}

func (s *Server) acceptConnections(l net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("Failed to accept connection: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection routes a single-port connection by its first bytes.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	proto, r, err := detectProtocol(conn, s.cfg.SniffTimeout)
	if err != nil {
		log.Printf("Failed to detect protocol from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	bc := &bufferedConn{Conn: conn, reader: r}

	if proto == protocolHTTP {
		if !s.httpLn.push(bc) {
			conn.Close()
		}
		return
	}
	tcp.Serve(s.ctx, bc, s.track(s.tcpHandler()), s.opts)
}
