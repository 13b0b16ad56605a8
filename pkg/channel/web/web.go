// Package web is the bidirectional browser channel: a websocket per client
// id, with replies read from the client's private mailbox.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"switchboard/pkg/bus"
	"switchboard/pkg/channel"
	"switchboard/pkg/logger"
	"switchboard/pkg/replies"
)

const (
	// ReplyRole tags every server frame.
	ReplyRole = "agent"

	maxFrameBytes = 64 << 10
	writeTimeout  = 10 * time.Second
)

// Payload is one client frame. ClientID comes from the URL path, never from
// the frame body.
type Payload struct {
	ClientID string `json:"-"`
	Text     string `json:"text"`
	UserName string `json:"user_name,omitempty"`
}

// Reply is one server frame.
type Reply struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Normalizer struct{}

func (Normalizer) Platform() bus.Platform {
	return bus.PlatformWeb
}

func (Normalizer) Normalize(payload Payload) (bus.InboundMessage, error) {
	clientID := strings.TrimSpace(payload.ClientID)
	if clientID == "" {
		return bus.InboundMessage{}, channel.Malformed("missing client id")
	}

	content := strings.TrimSpace(payload.Text)
	if content == "" {
		return bus.InboundMessage{}, channel.Malformed("frame has no text")
	}

	return bus.InboundMessage{
		Platform:       bus.PlatformWeb,
		PlatformUserID: clientID,
		Content:        content,
		UserName:       strings.TrimSpace(payload.UserName),
	}, nil
}

// Endpoint upgrades GET /ws/chat/{client_id} and runs the client's session.
type Endpoint struct {
	producer *channel.Producer[Payload]
	registry *replies.Registry
	upgrader websocket.Upgrader
	allowed  []string
	log      *slog.Logger
}

func NewEndpoint(producer *channel.Producer[Payload], registry *replies.Registry, allowedOrigins []string, log *slog.Logger) *Endpoint {
	if log == nil {
		log = slog.Default()
	}

	e := &Endpoint{
		producer: producer,
		registry: registry,
		allowed:  allowedOrigins,
		log:      log.With("component", "channel.web"),
	}
	e.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     e.checkOrigin,
	}
	return e
}

// checkOrigin allows everything when no origins are configured. Requests
// without an Origin header come from non-browser clients and are allowed.
func (e *Endpoint) checkOrigin(r *http.Request) bool {
	if len(e.allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range e.allowed {
		if origin == allowed || allowed == "*" {
			return true
		}
	}
	e.log.Warn("Rejected websocket origin", "origin", origin)
	return false
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.PathValue("client_id"))
	if clientID == "" {
		http.Error(w, "client id is required", http.StatusBadRequest)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Debug("Websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	session := e.registry.Register(clientID, conn)
	defer func() {
		session.Close()
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		e.writeLoop(ctx, conn, session)
	}()

	e.readLoop(ctx, conn, clientID)
	cancel()
	<-writerDone
}

// readLoop enqueues each text frame until the socket fails or closes.
func (e *Endpoint) readLoop(ctx context.Context, conn *websocket.Conn, clientID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				e.log.Info("Client disconnected", "client_id", clientID)
			} else {
				e.log.Debug("Websocket read ended", "client_id", clientID, "error", err)
			}
			return
		}

		var payload Payload
		if err := json.Unmarshal(data, &payload); err != nil {
			e.log.Warn("Ignoring non-JSON frame", "client_id", clientID, "error", err)
			continue
		}
		payload.ClientID = clientID

		if _, err := e.producer.Enqueue(ctx, payload); err != nil {
			if errors.Is(err, channel.ErrMalformedPayload) {
				e.log.Debug("Ignoring frame", "client_id", clientID, "reason", err)
				continue
			}
			e.log.Error("Failed to enqueue frame", "client_id", clientID, "error", err)
		}
	}
}

// writeLoop forwards mailbox replies in order until the session ends.
func (e *Endpoint) writeLoop(ctx context.Context, conn *websocket.Conn, session *replies.Session) {
	for {
		text, ok := session.Next(ctx)
		if !ok {
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(Reply{Role: ReplyRole, Content: text}); err != nil {
			e.log.Warn("Failed to write reply", "client_id", session.ClientID, "error", err)
			return
		}
		e.log.Info("Reply sent", "client_id", session.ClientID, "content", logger.Preview(text))
	}
}
