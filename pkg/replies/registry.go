// Package replies tracks live web clients and the private mailbox each one
// reads its agent replies from.
package replies

import (
	"context"
	"log/slog"
	"sync"

	"switchboard/pkg/queue"
)

// Conn is the transport handle behind a registration. It is closed when a
// newer connection takes over the same client id.
type Conn interface {
	Close() error
}

// Session is one live registration. Replies for its client id land in its
// mailbox in delivery order.
type Session struct {
	ClientID string

	conn     Conn
	mailbox  *queue.FIFO[string]
	registry *Registry
}

// Next waits for the next reply. It returns false once the session is closed
// or evicted and its mailbox is drained, or when ctx is done.
func (s *Session) Next(ctx context.Context) (string, bool) {
	return s.mailbox.Pop(ctx)
}

// Mailbox exposes the session's private reply queue.
func (s *Session) Mailbox() *queue.FIFO[string] {
	return s.mailbox
}

// Close unregisters the session if it is still the current one for its
// client id. Safe to call more than once.
func (s *Session) Close() {
	s.registry.release(s)
}

// Registry maps client ids to live sessions. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		sessions: make(map[string]*Session),
		log:      log.With("component", "replies.registry"),
	}
}

// Register binds clientID to a fresh mailbox. An existing registration for
// the same id is evicted: its mailbox is closed and its connection closed.
func (r *Registry) Register(clientID string, conn Conn) *Session {
	session := &Session{
		ClientID: clientID,
		conn:     conn,
		mailbox:  queue.NewFIFO[string](),
		registry: r,
	}

	r.mu.Lock()
	previous := r.sessions[clientID]
	r.sessions[clientID] = session
	active := len(r.sessions)
	r.mu.Unlock()

	if previous != nil {
		r.log.Warn("Evicting previous connection", "client_id", clientID)
		previous.shutdown()
	}

	r.log.Info("Client registered", "client_id", clientID, "active", active)
	return session
}

// Unregister drops whatever is registered under clientID. Unknown ids are a
// no-op.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	session, ok := r.sessions[clientID]
	if ok {
		delete(r.sessions, clientID)
	}
	active := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	session.mailbox.Close()
	r.log.Info("Client unregistered", "client_id", clientID, "active", active)
}

// Deliver appends text to the mailbox registered under clientID. It reports
// false, and does nothing, when no client is registered under that id.
func (r *Registry) Deliver(clientID string, text string) bool {
	r.mu.Lock()
	session, ok := r.sessions[clientID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if !session.mailbox.Push(text) {
		return false
	}
	r.log.Debug("Reply queued", "client_id", clientID)
	return true
}

// ReplyChannel returns the mailbox registered under clientID.
func (r *Registry) ReplyChannel(clientID string) (*queue.FIFO[string], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[clientID]
	if !ok {
		return nil, false
	}
	return session.mailbox, true
}

// Len reports the number of live registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) release(session *Session) {
	r.mu.Lock()
	current, ok := r.sessions[session.ClientID]
	owned := ok && current == session
	if owned {
		delete(r.sessions, session.ClientID)
	}
	active := len(r.sessions)
	r.mu.Unlock()

	session.mailbox.Close()
	if owned {
		r.log.Info("Client disconnected", "client_id", session.ClientID, "active", active)
	}
}

func (s *Session) shutdown() {
	s.mailbox.Close()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.registry.log.Debug("Failed to close evicted connection", "client_id", s.ClientID, "error", err)
		}
	}
}
