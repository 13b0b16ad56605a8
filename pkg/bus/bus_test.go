package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInboundFIFO(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	for _, content := range []string{"m1", "m2", "m3"} {
		msg := InboundMessage{Platform: PlatformWeb, PlatformUserID: "c1", TenantID: "t1", Content: content}
		if ok := mb.PublishInbound(ctx, msg); !ok {
			t.Fatalf("publish %q failed", content)
		}
	}

	if got := mb.Pending(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}

	for _, want := range []string{"m1", "m2", "m3"} {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok {
			t.Fatal("expected inbound consume to succeed")
		}
		if msg.Content != want {
			t.Fatalf("content = %q, want %q", msg.Content, want)
		}
	}
}

func TestAckTracksUnfinished(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	mb.PublishInbound(ctx, InboundMessage{TenantID: "t", Content: "a"})
	mb.PublishInbound(ctx, InboundMessage{TenantID: "t", Content: "b"})

	if _, ok := mb.ConsumeInbound(ctx); !ok {
		t.Fatal("expected consume")
	}
	if got := mb.Unfinished(); got != 2 {
		t.Fatalf("unfinished = %d, want 2 before ack", got)
	}

	mb.Ack()
	if got := mb.Unfinished(); got != 1 {
		t.Fatalf("unfinished = %d, want 1", got)
	}

	mb.Ack()
	mb.Ack()
	if got := mb.Unfinished(); got != 0 {
		t.Fatalf("unfinished = %d, want 0 after extra ack", got)
	}
}

func TestBoundedBusRejectsPastCapacity(t *testing.T) {
	mb := NewMessageBus(WithCapacity(1))
	t.Cleanup(mb.Close)

	ctx := context.Background()
	if !mb.PublishInbound(ctx, InboundMessage{TenantID: "t", Content: "a"}) {
		t.Fatal("expected first publish to succeed")
	}
	if mb.PublishInbound(ctx, InboundMessage{TenantID: "t", Content: "b"}) {
		t.Fatal("expected publish past capacity to fail")
	}
	if got := mb.Unfinished(); got != 1 {
		t.Fatalf("unfinished = %d, want 1", got)
	}
}

func TestCloseStopsBusOperations(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if ok := mb.PublishInbound(context.Background(), InboundMessage{Content: "hello"}); ok {
		t.Fatal("expected inbound publish to fail after close")
	}
	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatal("expected inbound consume to stop after close")
	}
}

func TestContextCancellation(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishInbound(ctx, InboundMessage{Content: "hello"}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeInbound(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want error
	}{
		{name: "valid", msg: InboundMessage{TenantID: "t", Content: "hi"}},
		{name: "missing tenant", msg: InboundMessage{Content: "hi"}, want: ErrMissingTenant},
		{name: "blank content", msg: InboundMessage{TenantID: "t", Content: "  "}, want: ErrEmptyContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := EventFor(EventMessageReceived, InboundMessage{ID: "1", TenantID: "t"})
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventMessageReceived || got.MessageID != "1" {
				t.Fatalf("subscriber %s got %+v", name, got)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s got event without timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageReceived}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageCompleted}); !ok {
		t.Fatal("expected second event publish to succeed")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}
