package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/omochice/socket-relay/internal/stream"
	"github.com/omochice/socket-relay/pkg/protocol"
)

// maxJoinAttempts bounds identity regeneration after a collision.
const maxJoinAttempts = 3

// HubOptions configures a Hub.
type HubOptions struct {
	// SendTimeout bounds each per-connection write of a broadcast. Zero
	// means no bound beyond the stream's own flow control.
	SendTimeout time.Duration

	// NewID generates connection identities. Defaults to random UUIDs.
	NewID func() string

	// Metrics receives relay counters. Defaults to a private registry.
	Metrics gometrics.Registry
}

// Hub broadcasts every inbound message to all registered connections,
// including the sender, and announces joins and leaves the same way.
type Hub struct {
	registry *Registry
	opts     HubOptions
	metrics  metrics
}

// NewHub creates a Hub with an empty registry.
func NewHub(opts HubOptions) *Hub {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Hub{
		registry: NewRegistry(),
		opts:     opts,
		metrics:  newMetrics(opts.Metrics),
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int { return h.registry.Len() }

// Result summarizes one broadcast.
type Result struct {
	Targets int
	Failed  []string
}

// Join registers conn under a fresh identity and announces it to every
// registered connection, conn included.
func (h *Hub) Join(ctx context.Context, conn *Conn) (string, error) {
	var id string
	for attempt := 0; ; attempt++ {
		id = h.opts.NewID()
		err := h.registry.Add(id, conn)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateID) || attempt+1 >= maxJoinAttempts {
			return "", fmt.Errorf("join: %w", err)
		}
	}
	h.metrics.incr(MetricConnections, 1)
	log.Printf("%s connected from %s (%s)", id, conn.RemoteAddr(), conn.Transport())

	h.Broadcast(ctx, protocol.Joined(id, conn.Transport()).Bytes())
	return id, nil
}

// Message broadcasts "<id>: <text>" to every connection registered when it
// is called.
func (h *Hub) Message(ctx context.Context, id string, chunk stream.Chunk) Result {
	h.metrics.incr(MetricRecvBytes, int64(chunk.Len()))

	payload := make([]byte, 0, len(id)+2+chunk.Len())
	payload = append(payload, id...)
	payload = append(payload, ": "...)
	payload = chunk.AppendTo(payload)
	return h.Broadcast(ctx, payload)
}

// Leave unregisters id and then announces the departure to the remaining
// connections. Leaving an unknown id does nothing.
func (h *Hub) Leave(ctx context.Context, id string) {
	conn, ok := h.registry.Remove(id)
	if !ok {
		return
	}
	h.metrics.decr(MetricConnections, 1)
	log.Printf("%s disconnected (%s)", id, conn.Transport())

	h.Broadcast(ctx, protocol.Left(id, conn.Transport()).Bytes())
}

// Broadcast writes payload to a snapshot of the registry. Each write runs
// independently; a failing connection is closed so its own loop ends, and
// Broadcast returns once every write has finished.
func (h *Hub) Broadcast(ctx context.Context, payload []byte) Result {
	targets := h.registry.Snapshot()
	res := Result{Targets: len(targets)}
	h.metrics.incr(MetricBroadcastMessages, 1)
	h.metrics.fanout(len(targets))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, e := range targets {
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			if err := h.send(ctx, e.Conn, payload); err != nil {
				log.Printf("Failed to send to %s: %v", e.ID, err)
				h.metrics.incr(MetricBroadcastFailed, 1)
				e.Conn.Close()
				mu.Lock()
				res.Failed = append(res.Failed, e.ID)
				mu.Unlock()
				return
			}
			h.metrics.incr(MetricBroadcastSent, 1)
		}(e)
	}
	wg.Wait()
	return res
}

func (h *Hub) send(ctx context.Context, conn *Conn, payload []byte) error {
	if h.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.SendTimeout)
		defer cancel()
	}
	return conn.Send(ctx, payload)
}

// ServeConn implements Handler: join, relay every inbound chunk to the
// registry, and leave on every exit path.
func (h *Hub) ServeConn(ctx context.Context, conn *Conn) error {
	id, err := h.Join(ctx, conn)
	if err != nil {
		return err
	}
	defer h.Leave(context.WithoutCancel(ctx), id)

	for {
		done, err := h.readOnce(ctx, conn, id)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (h *Hub) readOnce(ctx context.Context, conn *Conn, id string) (bool, error) {
	chunk, err := conn.ReadChunk(ctx)
	if err != nil {
		return false, fmt.Errorf("read: %w", err)
	}
	defer conn.Acknowledge(chunk)

	if !chunk.IsEmpty() {
		h.Message(ctx, id, chunk)
	}
	return chunk.IsEnd(), nil
}
