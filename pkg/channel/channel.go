// Package channel holds the enqueue path shared by every ingress: normalize a
// platform payload, stamp the server-side tenant, validate, publish.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"switchboard/pkg/bus"
	"switchboard/pkg/logger"
)

var (
	// ErrMalformedPayload marks payloads that carry nothing to answer.
	// Callers acknowledge and drop them.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrQueueRejected is returned when the inbound queue refused the message.
	ErrQueueRejected = errors.New("inbound queue rejected message")
)

// Normalizer maps one platform payload into the shared message shape.
// Normalizers never decide the tenant.
type Normalizer[T any] interface {
	Platform() bus.Platform
	Normalize(raw T) (bus.InboundMessage, error)
}

// Publisher is the write side of the inbound queue.
type Publisher interface {
	PublishInbound(ctx context.Context, msg bus.InboundMessage) bool
}

// Producer binds a normalizer to the tenant configured for its ingress.
type Producer[T any] struct {
	tenantID   string
	normalizer Normalizer[T]
	queue      Publisher
	log        *slog.Logger
	now        func() time.Time
}

func NewProducer[T any](tenantID string, normalizer Normalizer[T], queue Publisher, log *slog.Logger) (*Producer[T], error) {
	if normalizer == nil {
		return nil, errors.New("normalizer is required")
	}
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Producer[T]{
		tenantID:   strings.TrimSpace(tenantID),
		normalizer: normalizer,
		queue:      queue,
		log:        log.With("component", "channel."+string(normalizer.Platform())),
		now:        time.Now,
	}, nil
}

// TenantID reports the tenant stamped on messages that arrive without one.
func (p *Producer[T]) TenantID() string {
	return p.tenantID
}

// Enqueue normalizes raw and publishes it exactly once on success. Nothing is
// published when any step fails.
func (p *Producer[T]) Enqueue(ctx context.Context, raw T) (bus.InboundMessage, error) {
	msg, err := p.normalizer.Normalize(raw)
	if err != nil {
		return bus.InboundMessage{}, err
	}

	if strings.TrimSpace(msg.TenantID) == "" {
		msg.TenantID = p.tenantID
	}
	if msg.Platform == "" {
		msg.Platform = p.normalizer.Platform()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = p.now().UTC()
	}

	if err := msg.Validate(); err != nil {
		return bus.InboundMessage{}, fmt.Errorf("validate message: %w", err)
	}

	if !p.queue.PublishInbound(ctx, msg) {
		return bus.InboundMessage{}, ErrQueueRejected
	}

	p.log.Info("Message enqueued",
		"message_id", msg.ID,
		"tenant_id", msg.TenantID,
		"platform_user_id", msg.PlatformUserID,
		"content", logger.Preview(msg.Content),
	)
	return msg, nil
}

// Malformed wraps a reason into ErrMalformedPayload.
func Malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, reason)
}

// Adapter is an ingress that owns its receive loop, such as long polling.
type Adapter interface {
	Name() string
	Run(ctx context.Context) error
}

// Route mounts an HTTP ingress on the gateway mux.
type Route struct {
	Name    string
	Pattern string
	Handler http.Handler
}

// WriteJSON writes payload with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(payload)
}
