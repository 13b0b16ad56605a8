package agent

import (
	"context"
	"log/slog"
	"time"

	"switchboard/pkg/bus"
)

// EventSource is the subscribe side of the event stream.
type EventSource interface {
	SubscribeEvents(ctx context.Context, buffer int) (<-chan bus.Event, func())
}

// ObserveEvents logs worker lifecycle events until ctx is done or the source
// closes. Slow observers drop events instead of stalling workers.
func ObserveEvents(ctx context.Context, source EventSource, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := source.SubscribeEvents(ctx, 64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"message_id", event.MessageID,
		"tenant_id", event.TenantID,
		"platform", event.Platform,
		"platform_user_id", event.PlatformUserID,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventMessageFailed:
		log.Error("Message event", append(attrs, "error", event.Error)...)
	case bus.EventReplyUndelivered:
		log.Warn("Message event", attrs...)
	case bus.EventMessageReceived, bus.EventMessageCompleted:
		log.Info("Message event", attrs...)
	default:
		log.Debug("Message event", attrs...)
	}
}
