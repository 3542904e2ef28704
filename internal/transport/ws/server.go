package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/omochice/socket-relay/internal/relay"
	"github.com/omochice/socket-relay/internal/stream"
	"github.com/omochice/socket-relay/pkg/protocol"
)

// Handler upgrades HTTP requests and runs a relay handler on the resulting
// WebSocket connection.
type Handler struct {
	Relay   relay.Handler
	Options stream.Options

	// Track, when set, wraps Relay for every connection. Servers use it to
	// close upgraded connections on shutdown.
	Track func(relay.Handler) relay.Handler
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrade(w, r, h.Options)
	if err != nil {
		log.Printf("Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	rh := h.Relay
	if h.Track != nil {
		rh = h.Track(rh)
	}
	// Hijacked connections are ended by Close, not by the request context.
	ctx := context.WithoutCancel(r.Context())
	if err := rh.ServeConn(ctx, conn); err != nil && !relay.IsClosed(err) {
		log.Printf("WebSocket connection %s: %v", conn.RemoteAddr(), err)
	}
}

// Routes lists what the router serves.
type Routes struct {
	Echo    relay.Handler
	Chat    relay.Handler
	Status  func() protocol.Status
	Options stream.Options
	Track   func(relay.Handler) relay.Handler
}

// NewRouter returns the HTTP surface: /echo and /chat upgrade to
// WebSocket, /status reports connected clients and counters.
func NewRouter(rt Routes) *mux.Router {
	m := mux.NewRouter()
	if rt.Echo != nil {
		m.Handle("/echo", Handler{Relay: rt.Echo, Options: rt.Options, Track: rt.Track}).Methods(http.MethodGet)
	}
	if rt.Chat != nil {
		chat := Handler{Relay: rt.Chat, Options: rt.Options, Track: rt.Track}
		m.Handle("/chat", chat).Methods(http.MethodGet)
		m.Handle("/ws", chat).Methods(http.MethodGet)
	}
	if rt.Status != nil {
		m.Handle("/status", statusHandler(rt.Status)).Methods(http.MethodGet)
	}
	return m
}

// statusHandler writes the status document as protobuf, or as JSON when
// the client asks for it.
func statusHandler(status func() protocol.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := status()
		var (
			body []byte
			err  error
		)
		if strings.Contains(r.Header.Get("Accept"), "json") {
			w.Header().Set("Content-Type", "application/json")
			body, err = s.MarshalJSON()
		} else {
			w.Header().Set("Content-Type", "application/x-protobuf")
			body, err = s.MarshalProto()
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(body)
	}
}

// Server serves the router on its own listener.
type Server struct {
	address string
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// New creates a WebSocket/HTTP server for address.
func New(address string, h http.Handler) *Server {
	return &Server{address: address, handler: h}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.server = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()
	log.Printf("WebSocket server started on %s", l.Addr().String())
	return nil
}

// Serve handles HTTP requests until Stop is called.
func (s *Server) Serve() error {
	s.mu.Lock()
	l, srv := s.listener, s.server
	s.mu.Unlock()
	if l == nil {
		return errors.New("ws: Serve called before Listen")
	}
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and idle HTTP connections. Upgraded connections
// are hijacked and must be closed by whoever tracks them.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		srv.Close()
	}
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
