// Package simulate exposes a trusted HTTP ingress that accepts already
// normalized messages. It exists for load tests and local development.
package simulate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"switchboard/pkg/bus"
	"switchboard/pkg/channel"
)

const maxBody = 1 << 20

// Normalizer passes messages through, defaulting the platform.
type Normalizer struct{}

func (Normalizer) Platform() bus.Platform {
	return bus.PlatformSimulator
}

func (Normalizer) Normalize(msg bus.InboundMessage) (bus.InboundMessage, error) {
	if strings.TrimSpace(msg.PlatformUserID) == "" {
		return bus.InboundMessage{}, channel.Malformed("missing platform_user_id")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return bus.InboundMessage{}, channel.Malformed("missing content")
	}
	if msg.Platform == "" {
		msg.Platform = bus.PlatformSimulator
	}
	return msg, nil
}

// Depth reports the approximate number of queued messages.
type Depth interface {
	Pending() int
}

type acceptedResponse struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	QueueSizeApprox int    `json:"queue_size_approx"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type Handler struct {
	producer *channel.Producer[bus.InboundMessage]
	depth    Depth
	log      *slog.Logger
}

func NewHandler(producer *channel.Producer[bus.InboundMessage], depth Depth, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		producer: producer,
		depth:    depth,
		log:      log.With("component", "channel.simulate"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg bus.InboundMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&msg); err != nil {
		_ = channel.WriteJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid JSON body"})
		return
	}

	queued, err := h.producer.Enqueue(r.Context(), msg)
	switch {
	case err == nil:
	case errors.Is(err, channel.ErrQueueRejected):
		h.log.Warn("Queue rejected simulated message", "error", err)
		_ = channel.WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "Queue is full"})
		return
	default:
		_ = channel.WriteJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	depth := 0
	if h.depth != nil {
		depth = h.depth.Pending()
	}

	_ = channel.WriteJSON(w, http.StatusOK, acceptedResponse{
		Status:          "success",
		Message:         fmt.Sprintf("Message from %s added to the background queue.", queued.PlatformUserID),
		QueueSizeApprox: depth,
	})
}
