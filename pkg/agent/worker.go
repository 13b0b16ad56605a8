package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"switchboard/pkg/bus"
	"switchboard/pkg/config"
	"switchboard/pkg/logger"
	"switchboard/pkg/store"
)

// Generator produces the assistant reply for a transcript. It never fails;
// provider errors surface as a fallback text.
type Generator interface {
	Generate(ctx context.Context, turns []bus.Turn, tenantID string) string
}

// Router delivers a finished reply back to its channel.
type Router interface {
	Route(ctx context.Context, resp bus.AgentResponse) bool
}

// EventPublisher receives worker lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Worker runs one message from storage through the model to the router.
type Worker struct {
	store        store.Store
	generator    Generator
	router       Router
	events       EventPublisher
	historyLimit int
	log          *slog.Logger
}

type WorkerOption func(*Worker)

// WithEvents publishes lifecycle events to events.
func WithEvents(events EventPublisher) WorkerOption {
	return func(w *Worker) {
		w.events = events
	}
}

// WithHistoryLimit sets how many turns are sent to the model.
func WithHistoryLimit(limit int) WorkerOption {
	return func(w *Worker) {
		if limit > 0 {
			w.historyLimit = limit
		}
	}
}

func NewWorker(st store.Store, generator Generator, router Router, log *slog.Logger, opts ...WorkerOption) *Worker {
	if log == nil {
		log = slog.Default()
	}

	w := &Worker{
		store:        st,
		generator:    generator,
		router:       router,
		historyLimit: config.DefaultHistoryLimit,
		log:          log.With("component", "agent.worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle generates a reply, persists the user and assistant turns together,
// then routes the reply. Nothing is persisted or routed when storage fails.
func (w *Worker) Handle(ctx context.Context, msg bus.InboundMessage) {
	started := time.Now()
	log := w.log.With(
		"message_id", msg.ID,
		"tenant_id", msg.TenantID,
		"platform", msg.Platform,
		"platform_user_id", msg.PlatformUserID,
	)
	w.publish(ctx, bus.EventFor(bus.EventMessageReceived, msg))
	log.Debug("Processing message", "content_preview", logger.Preview(msg.Content))

	reply, err := w.converse(ctx, msg)
	if err != nil {
		log.Error("Message processing failed", "error", err, "duration", time.Since(started))
		event := bus.EventFor(bus.EventMessageFailed, msg)
		event.Error = err.Error()
		w.publish(ctx, event)
		return
	}

	resp := bus.AgentResponse{
		Platform:    msg.Platform,
		RecipientID: msg.PlatformUserID,
		TenantID:    msg.TenantID,
		Content:     reply,
	}
	delivered := w.router != nil && w.router.Route(ctx, resp)
	if !delivered {
		log.Warn("Reply not delivered")
		w.publish(ctx, bus.EventFor(bus.EventReplyUndelivered, msg))
	}

	completed := bus.EventFor(bus.EventMessageCompleted, msg)
	completed.Payload = map[string]string{
		"delivered":   strconv.FormatBool(delivered),
		"duration_ms": strconv.FormatInt(time.Since(started).Milliseconds(), 10),
	}
	w.publish(ctx, completed)
	log.Info("Message processed", "delivered", delivered, "duration", time.Since(started))
}

// converse loads the transcript, asks the model, then stores both turns in one
// transaction. No transaction is open while the model runs. Callers must not
// run two messages with the same UserKey at once; Dispatcher guarantees it.
func (w *Worker) converse(ctx context.Context, msg bus.InboundMessage) (string, error) {
	if w.store == nil {
		return "", fmt.Errorf("worker has no store")
	}

	history, err := w.recall(ctx, msg)
	if err != nil {
		return "", err
	}

	reply := w.generator.Generate(ctx, history, msg.TenantID)

	err = w.store.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetOrCreateUser(ctx, msg)
		if err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}

		conversation, err := tx.GetOrCreateActiveConversation(ctx, user.ID, msg.TenantID)
		if err != nil {
			return fmt.Errorf("resolve conversation: %w", err)
		}

		if _, err := tx.SaveMessage(ctx, conversation.ID, msg.TenantID, bus.RoleUser, msg.Content); err != nil {
			return fmt.Errorf("save user turn: %w", err)
		}
		if _, err := tx.SaveMessage(ctx, conversation.ID, msg.TenantID, bus.RoleAssistant, reply); err != nil {
			return fmt.Errorf("save assistant turn: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// recall returns the last historyLimit turns the model sees, ending with msg.
func (w *Worker) recall(ctx context.Context, msg bus.InboundMessage) ([]bus.Turn, error) {
	var history []bus.Turn
	err := w.store.WithTx(ctx, func(tx store.Tx) error {
		conversation, err := tx.FindActiveConversation(ctx, msg)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("resolve conversation: %w", err)
		}

		history, err = tx.GetHistory(ctx, conversation.ID, msg.TenantID, w.historyLimit-1)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append(history, bus.Turn{Role: bus.RoleUser, Content: msg.Content}), nil
}

func (w *Worker) publish(ctx context.Context, event bus.Event) {
	if w.events == nil {
		return
	}
	w.events.PublishEvent(ctx, event)
}
