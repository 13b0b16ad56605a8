package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"switchboard/pkg/queue"
)

const defaultBufferSize = 100

// MessageBus is the process-wide inbound queue plus the event fan-out.
//
// Producers are the only writers of the inbound queue and the dispatcher is
// its only reader.
type MessageBus struct {
	inbound    *queue.FIFO[InboundMessage]
	unfinished atomic.Int64

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

// Option configures a MessageBus.
type Option func(*busOptions)

type busOptions struct {
	capacity int
}

// WithCapacity bounds the inbound queue. Publishing past it is rejected.
func WithCapacity(n int) Option {
	return func(o *busOptions) {
		o.capacity = n
	}
}

func NewMessageBus(opts ...Option) *MessageBus {
	var o busOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &MessageBus{
		inbound:          queue.NewFIFO[InboundMessage](queue.WithCapacity(o.capacity)),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// PublishInbound appends msg to the queue without blocking. It returns false
// only when the bus is closed, the context is done, or a bounded queue is full.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	if !mb.inbound.Push(msg) {
		return false
	}
	mb.unfinished.Add(1)
	return true
}

// ConsumeInbound waits for the next message in arrival order.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-mb.done:
		return InboundMessage{}, false
	default:
	}

	return mb.inbound.Pop(ctx)
}

// Ack marks one consumed message as fully handled. It is bookkeeping only and
// never causes redelivery.
func (mb *MessageBus) Ack() {
	if mb.unfinished.Add(-1) < 0 {
		mb.unfinished.Store(0)
	}
}

// Pending reports how many messages wait in the queue.
func (mb *MessageBus) Pending() int {
	return mb.inbound.Len()
}

// Unfinished reports messages published but not yet acknowledged.
func (mb *MessageBus) Unfinished() int64 {
	return mb.unfinished.Load()
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)
		mb.inbound.Close()

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
