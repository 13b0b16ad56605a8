package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

// Worker lifecycle milestones published on the bus.
const (
	EventMessageReceived  EventType = "message_received"
	EventMessageCompleted EventType = "message_completed"
	EventMessageFailed    EventType = "message_failed"
	EventReplyUndelivered EventType = "reply_undelivered"
)

type Event struct {
	Type           EventType         `json:"type"`
	At             time.Time         `json:"at"`
	MessageID      string            `json:"message_id,omitempty"`
	TenantID       string            `json:"tenant_id,omitempty"`
	Platform       Platform          `json:"platform,omitempty"`
	PlatformUserID string            `json:"platform_user_id,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// EventFor starts an event describing msg.
func EventFor(eventType EventType, msg InboundMessage) Event {
	return Event{
		Type:           eventType,
		MessageID:      msg.ID,
		TenantID:       msg.TenantID,
		Platform:       msg.Platform,
		PlatformUserID: msg.PlatformUserID,
	}
}

// PublishEvent fans event out to every subscriber without blocking.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	subs := make([]chan Event, 0, len(mb.eventSubscribers))
	for _, ch := range mb.eventSubscribers {
		subs = append(subs, ch)
	}
	mb.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
