package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"switchboard/pkg/bus"
)

// Queue is the read side of the inbound queue.
type Queue interface {
	ConsumeInbound(ctx context.Context) (bus.InboundMessage, bool)
	Ack()
}

// Handler processes one message to completion.
type Handler interface {
	Handle(ctx context.Context, msg bus.InboundMessage)
}

// Dispatcher pops messages in arrival order and hands each one to its own
// goroutine. It never waits for a handler before popping the next message.
// Messages from the same user run one at a time, in the order they were
// popped; different users run concurrently.
type Dispatcher struct {
	queue   Queue
	handler Handler
	sem     *semaphore.Weighted
	order   *sequencer
	log     *slog.Logger

	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// NewDispatcher builds a dispatcher. maxWorkers <= 0 leaves concurrency
// unbounded.
func NewDispatcher(queue Queue, handler Handler, maxWorkers int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	d := &Dispatcher{
		queue:   queue,
		handler: handler,
		order:   newSequencer(),
		log:     log.With("component", "agent.dispatcher"),
	}
	if maxWorkers > 0 {
		d.sem = semaphore.NewWeighted(int64(maxWorkers))
	}
	return d
}

// Run drains the queue until ctx is done or the queue is closed. Handlers
// already started keep running on a context that ignores ctx's cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	workerCtx := context.WithoutCancel(ctx)
	d.log.Info("Dispatcher started")

	for {
		if d.sem != nil {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				d.log.Info("Dispatcher stopping", "in_flight", d.inFlight.Load())
				return nil
			}
		}

		msg, ok := d.queue.ConsumeInbound(ctx)
		if !ok {
			if d.sem != nil {
				d.sem.Release(1)
			}
			d.log.Info("Dispatcher stopping", "in_flight", d.inFlight.Load())
			return nil
		}

		d.spawn(workerCtx, msg, d.order.Reserve(msg.UserKey()))
	}
}

func (d *Dispatcher) spawn(ctx context.Context, msg bus.InboundMessage, turn *ticket) {
	d.wg.Add(1)
	d.inFlight.Add(1)

	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)
		defer d.queue.Ack()
		if d.sem != nil {
			defer d.sem.Release(1)
		}
		defer turn.Finish()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("Worker panicked",
					"message_id", msg.ID,
					"tenant_id", msg.TenantID,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()

		turn.Wait()
		d.handler.Handle(ctx, msg)
	}()
}

// Wait blocks until every started handler has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// InFlight reports handlers currently running.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}
