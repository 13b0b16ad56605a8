package replies

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestDeliverReachesOnlyTheNamedClient(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Register("a", &fakeConn{})
	b := r.Register("b", &fakeConn{})

	if !r.Deliver("a", "for a") {
		t.Fatal("Deliver(a) = false, want true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := a.Next(ctx)
	if !ok || got != "for a" {
		t.Fatalf("a.Next = %q, %v", got, ok)
	}
	if n := b.Mailbox().Len(); n != 0 {
		t.Fatalf("b mailbox len = %d, want 0", n)
	}
}

func TestDeliverUnknownClientIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	if r.Deliver("ghost", "hello") {
		t.Fatal("Deliver(ghost) = true, want false")
	}
	if _, ok := r.ReplyChannel("ghost"); ok {
		t.Fatal("ReplyChannel(ghost) found a mailbox")
	}
}

func TestRepliesKeepDeliveryOrder(t *testing.T) {
	r := NewRegistry(nil)
	s := r.Register("c", &fakeConn{})

	for i := range 5 {
		r.Deliver("c", fmt.Sprintf("reply-%d", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := range 5 {
		got, ok := s.Next(ctx)
		if want := fmt.Sprintf("reply-%d", i); !ok || got != want {
			t.Fatalf("Next = %q, %v; want %q", got, ok, want)
		}
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	s := r.Register("c", &fakeConn{})

	r.Unregister("c")
	r.Unregister("c")
	r.Unregister("never-registered")

	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
	if r.Deliver("c", "late") {
		t.Fatal("Deliver after unregister = true")
	}
	if _, ok := s.Next(context.Background()); ok {
		t.Fatal("Next on unregistered session returned an item")
	}
}

func TestDuplicateRegistrationEvictsOlder(t *testing.T) {
	r := NewRegistry(nil)
	oldConn := &fakeConn{}
	old := r.Register("dup", oldConn)
	newer := r.Register("dup", &fakeConn{})

	if !oldConn.closed.Load() {
		t.Fatal("evicted connection was not closed")
	}
	if _, ok := old.Next(context.Background()); ok {
		t.Fatal("evicted session still yields replies")
	}

	// The evicted endpoint's cleanup must not remove its successor.
	old.Close()
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	if !r.Deliver("dup", "to newer") {
		t.Fatal("Deliver to newer session = false")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if got, ok := newer.Next(ctx); !ok || got != "to newer" {
		t.Fatalf("newer.Next = %q, %v", got, ok)
	}

	newer.Close()
	newer.Close()
	if r.Len() != 0 {
		t.Fatalf("Len after close = %d, want 0", r.Len())
	}
}

func TestConcurrentClientsStayIsolated(t *testing.T) {
	r := NewRegistry(nil)
	const clients = 20
	const perClient = 10

	sessions := make([]*Session, clients)
	for i := range clients {
		sessions[i] = r.Register(fmt.Sprintf("client-%d", i), &fakeConn{})
	}

	var wg sync.WaitGroup
	for i := range clients {
		wg.Go(func() {
			for j := range perClient {
				r.Deliver(fmt.Sprintf("client-%d", i), fmt.Sprintf("%d:%d", i, j))
			}
		})
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, s := range sessions {
		for j := range perClient {
			got, ok := s.Next(ctx)
			if want := fmt.Sprintf("%d:%d", i, j); !ok || got != want {
				t.Fatalf("client %d reply %d = %q, want %q", i, j, got, want)
			}
		}
	}
}
