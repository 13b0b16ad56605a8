// Package router hands finished replies to the egress of the platform the
// triggering message came from.
package router

import (
	"context"
	"log/slog"

	"switchboard/pkg/bus"
	"switchboard/pkg/logger"
)

// Sender delivers one reply to one recipient on one platform. It reports
// whether the reply was handed off.
type Sender interface {
	Send(ctx context.Context, recipientID string, text string) bool
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipientID string, text string) bool

func (f SenderFunc) Send(ctx context.Context, recipientID string, text string) bool {
	return f(ctx, recipientID, text)
}

// Mailboxes adapts a per-client delivery function, such as the web reply
// registry, to Sender.
func Mailboxes(deliver func(clientID string, text string) bool) Sender {
	return SenderFunc(func(_ context.Context, clientID string, text string) bool {
		return deliver(clientID, text)
	})
}

// Router dispatches by platform. The table is fixed after construction.
type Router struct {
	senders map[bus.Platform]Sender
	log     *slog.Logger
}

func New(senders map[bus.Platform]Sender, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	table := make(map[bus.Platform]Sender, len(senders))
	for platform, sender := range senders {
		if sender != nil {
			table[platform] = sender
		}
	}

	return &Router{
		senders: table,
		log:     log.With("component", "router"),
	}
}

// Route makes exactly one delivery attempt. Platforms without a sender and
// recipients that are not live are dropped silently.
func (r *Router) Route(ctx context.Context, resp bus.AgentResponse) bool {
	sender, ok := r.senders[resp.Platform]
	if !ok {
		r.log.Debug("No egress for platform, reply dropped",
			"platform", resp.Platform,
			"recipient_id", resp.RecipientID,
			"tenant_id", resp.TenantID,
		)
		return false
	}

	if !sender.Send(ctx, resp.RecipientID, resp.Content) {
		r.log.Debug("Reply not delivered",
			"platform", resp.Platform,
			"recipient_id", resp.RecipientID,
			"tenant_id", resp.TenantID,
		)
		return false
	}

	r.log.Debug("Reply routed",
		"platform", resp.Platform,
		"recipient_id", resp.RecipientID,
		"tenant_id", resp.TenantID,
		"content", logger.Preview(resp.Content),
	)
	return true
}

// Platforms lists the platforms that have an egress.
func (r *Router) Platforms() []bus.Platform {
	out := make([]bus.Platform, 0, len(r.senders))
	for platform := range r.senders {
		out = append(out, platform)
	}
	return out
}
