package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"switchboard/pkg/bus"
	"switchboard/pkg/store"
)

func inbound(tenant, userID string) bus.InboundMessage {
	return bus.InboundMessage{
		Platform:       bus.PlatformWeb,
		PlatformUserID: userID,
		TenantID:       tenant,
		Content:        "hola",
		UserName:       "Ana",
	}
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	var first, second store.User
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		first, err = tx.GetOrCreateUser(ctx, inbound("t1", "u1"))
		if err != nil {
			return err
		}
		second, err = tx.GetOrCreateUser(ctx, inbound("t1", "u1"))
		return err
	})
	if err != nil {
		t.Fatalf("WithTx error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("user ids differ within tx: %d vs %d", first.ID, second.ID)
	}
	if first.FullName != "Ana" {
		t.Fatalf("full name = %q, want Ana", first.FullName)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		again, err := tx.GetOrCreateUser(ctx, inbound("t1", "u1"))
		if err != nil {
			return err
		}
		if again.ID != first.ID {
			t.Fatalf("committed user not found: got %d want %d", again.ID, first.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx error: %v", err)
	}

	if got := len(s.Users("t1")); got != 1 {
		t.Fatalf("users = %d, want 1", got)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()

	ids := map[string]int64{}
	for _, tenant := range []string{"t1", "t2"} {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			user, err := tx.GetOrCreateUser(ctx, inbound(tenant, "same-user"))
			if err != nil {
				return err
			}
			conv, err := tx.GetOrCreateActiveConversation(ctx, user.ID, tenant)
			if err != nil {
				return err
			}
			ids[tenant] = conv.ID
			_, err = tx.SaveMessage(ctx, conv.ID, tenant, bus.RoleUser, "from "+tenant)
			return err
		})
		if err != nil {
			t.Fatalf("WithTx(%s) error: %v", tenant, err)
		}
	}

	if ids["t1"] == ids["t2"] {
		t.Fatalf("tenants share conversation %d", ids["t1"])
	}

	err := s.WithTx(ctx, func(tx store.Tx) error {
		turns, err := tx.GetHistory(ctx, ids["t1"], "t2", 10)
		if err != nil {
			return err
		}
		if len(turns) != 0 {
			t.Fatalf("cross-tenant history = %+v, want empty", turns)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx error: %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetOrCreateUser(ctx, inbound("t1", "u1"))
		if err != nil {
			return err
		}
		conv, err := tx.GetOrCreateActiveConversation(ctx, user.ID, "t1")
		if err != nil {
			return err
		}
		if _, err := tx.SaveMessage(ctx, conv.ID, "t1", bus.RoleUser, "lost"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	if got := len(s.Messages("t1")); got != 0 {
		t.Fatalf("messages after rollback = %d, want 0", got)
	}
	if got := len(s.Users("t1")); got != 0 {
		t.Fatalf("users after rollback = %d, want 0", got)
	}
}

func TestPanicDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = s.WithTx(ctx, func(tx store.Tx) error {
			if _, err := tx.GetOrCreateUser(ctx, inbound("t1", "u1")); err != nil {
				return err
			}
			panic("worker blew up")
		})
	}()

	if got := len(s.Users("t1")); got != 0 {
		t.Fatalf("users after panic = %d, want 0", got)
	}
}

func TestHistoryReturnsLastTurnsOldestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	var convID int64
	err := s.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetOrCreateUser(ctx, inbound("t1", "u1"))
		if err != nil {
			return err
		}
		conv, err := tx.GetOrCreateActiveConversation(ctx, user.ID, "t1")
		if err != nil {
			return err
		}
		convID = conv.ID
		for _, text := range []string{"a", "b", "c", "d"} {
			if _, err := tx.SaveMessage(ctx, conv.ID, "t1", bus.RoleUser, text); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx error: %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.SaveMessage(ctx, convID, "t1", bus.RoleAssistant, "e"); err != nil {
			return err
		}
		turns, err := tx.GetHistory(ctx, convID, "t1", 3)
		if err != nil {
			return err
		}
		want := []string{"c", "d", "e"}
		if len(turns) != len(want) {
			t.Fatalf("turns = %+v, want %v", turns, want)
		}
		for i, turn := range turns {
			if turn.Content != want[i] {
				t.Fatalf("turn[%d] = %q, want %q", i, turn.Content, want[i])
			}
		}
		if turns[2].Role != bus.RoleAssistant {
			t.Fatalf("last role = %q, want assistant", turns[2].Role)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx error: %v", err)
	}
}

func TestConcurrentTransactions(t *testing.T) {
	s := New()
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for range n {
		wg.Go(func() {
			_ = s.WithTx(ctx, func(tx store.Tx) error {
				_, err := tx.SaveMessage(ctx, 1, "t1", bus.RoleUser, "hello")
				return err
			})
		})
	}
	wg.Wait()

	if got := len(s.Messages("t1")); got != n {
		t.Fatalf("messages = %d, want %d", got, n)
	}
}

func TestClosedStoreRejects(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error after close")
	}
	err := s.WithTx(context.Background(), func(store.Tx) error { return nil })
	if err == nil {
		t.Fatal("expected WithTx error after close")
	}
}

func TestFindActiveConversationDoesNotCreate(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.FindActiveConversation(ctx, inbound("t1", "u1"))
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindActiveConversation error = %v, want ErrNotFound", err)
	}
	if len(s.Users("t1")) != 0 || len(s.Conversations("t1")) != 0 {
		t.Fatal("lookup created records")
	}

	var created store.Conversation
	err = s.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetOrCreateUser(ctx, inbound("t1", "u1"))
		if err != nil {
			return err
		}
		created, err = tx.GetOrCreateActiveConversation(ctx, user.ID, "t1")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx error: %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		found, err := tx.FindActiveConversation(ctx, inbound("t1", "u1"))
		if err != nil {
			return err
		}
		if found.ID != created.ID {
			t.Fatalf("found conversation %d, want %d", found.ID, created.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx error: %v", err)
	}
}
