package relay

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrDuplicateID is returned by Registry.Add when the identity is already
// registered. The existing entry is left untouched.
var ErrDuplicateID = errors.New("relay: duplicate connection id")

// Entry is one registered connection.
type Entry struct {
	ID   string
	Conn *Conn
	seq  uint64
}

// Registry maps connection identities to connections. It is safe for
// concurrent use; Snapshot copies the entries so callers never hold the lock
// during I/O.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	seq     uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add registers conn under id.
func (r *Registry) Add(id string, conn *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.seq++
	r.entries[id] = Entry{ID: id, Conn: conn, seq: r.seq}
	return nil
}

// Remove unregisters id and returns the connection it pointed to. Removing
// an unknown id is a no-op.
func (r *Registry) Remove(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	return e.Conn, true
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.Conn, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns the registered entries in join order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.seq, b.seq) })
	return out
}
