package relay_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/omochice/socket-relay/internal/relay"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := relay.NewRegistry()
	a, b := newTestConn("TCP"), newTestConn("TCP")

	if err := r.Add("a", a.Conn); err != nil {
		t.Fatalf("Add(a) error = %v", err)
	}
	if err := r.Add("b", b.Conn); err != nil {
		t.Fatalf("Add(b) error = %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	conn, ok := r.Remove("a")
	if !ok || conn != a.Conn {
		t.Errorf("Remove(a) = %v, %v, want a's connection", conn, ok)
	}
	if _, ok := r.Get("a"); ok {
		t.Error("a still registered after Remove")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r := relay.NewRegistry()
	if conn, ok := r.Remove("missing"); ok || conn != nil {
		t.Errorf("Remove(missing) = %v, %v, want nil, false", conn, ok)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := relay.NewRegistry()
	first, second := newTestConn("TCP"), newTestConn("TCP")

	if err := r.Add("same", first.Conn); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	err := r.Add("same", second.Conn)
	if !errors.Is(err, relay.ErrDuplicateID) {
		t.Fatalf("Add(duplicate) error = %v, want ErrDuplicateID", err)
	}
	if conn, _ := r.Get("same"); conn != first.Conn {
		t.Error("duplicate Add replaced the existing connection")
	}
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	r := relay.NewRegistry()
	ids := []string{"z", "m", "a", "q"}
	for _, id := range ids {
		if err := r.Add(id, newTestConn("TCP").Conn); err != nil {
			t.Fatalf("Add(%s) error = %v", id, err)
		}
	}
	r.Remove("m")
	r.Add("m", newTestConn("TCP").Conn)

	var got []string
	for _, e := range r.Snapshot() {
		got = append(got, e.ID)
	}
	want := []string{"z", "a", "q", "m"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Snapshot() order = %v, want %v", got, want)
	}
}

func TestRegistry_SnapshotIsStable(t *testing.T) {
	r := relay.NewRegistry()
	r.Add("a", newTestConn("TCP").Conn)

	snap := r.Snapshot()
	r.Add("b", newTestConn("TCP").Conn)
	r.Remove("a")

	if len(snap) != 1 || snap[0].ID != "a" {
		t.Errorf("snapshot changed after registry mutation: %+v", snap)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := relay.NewRegistry()
	const workers, rounds = 16, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			conn := newTestConn("TCP").Conn
			for i := 0; i < rounds; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := r.Add(id, conn); err != nil {
					t.Errorf("Add(%s) error = %v", id, err)
				}
				_ = r.Snapshot()
				if i%2 == 0 {
					r.Remove(id)
				}
			}
		}(w)
	}
	wg.Wait()

	if got, want := r.Len(), workers*rounds/2; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
	for _, e := range r.Snapshot() {
		var w, i int
		fmt.Sscanf(e.ID, "w%d-%d", &w, &i)
		if i%2 == 0 {
			t.Errorf("removed id %s still registered", e.ID)
		}
	}
}
