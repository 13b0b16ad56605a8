// Package store defines the conversation persistence contract used by the
// message worker. Every query is scoped by tenant.
package store

import (
	"context"
	"errors"
	"time"

	"switchboard/pkg/bus"
)

const (
	ConversationActive = "active"
	ConversationClosed = "closed"

	// DefaultIntent is recorded on new conversations until classification runs.
	DefaultIntent = "unknown"
)

var ErrNotFound = errors.New("record not found")

// User is one person reached through one platform within one tenant.
type User struct {
	ID             int64
	TenantID       string
	Platform       bus.Platform
	PlatformUserID string
	FullName       string
	CreatedAt      time.Time
}

// Conversation is a thread of turns. At most one is active per user per tenant.
type Conversation struct {
	ID             int64
	TenantID       string
	UserID         int64
	Status         string
	IntentCategory string
	CreatedAt      time.Time
}

// Message is one persisted turn.
type Message struct {
	ID             int64
	TenantID       string
	ConversationID int64
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Tx is the transactional scope handed to a worker. Nothing written through it
// is visible to other scopes until the enclosing WithTx commits.
type Tx interface {
	GetOrCreateUser(ctx context.Context, msg bus.InboundMessage) (User, error)
	GetOrCreateActiveConversation(ctx context.Context, userID int64, tenantID string) (Conversation, error)
	// FindActiveConversation looks up the sender's active conversation without
	// creating anything. It returns ErrNotFound for unknown senders.
	FindActiveConversation(ctx context.Context, msg bus.InboundMessage) (Conversation, error)
	SaveMessage(ctx context.Context, conversationID int64, tenantID string, role string, content string) (Message, error)
	// GetHistory returns the last limit turns, oldest first.
	GetHistory(ctx context.Context, conversationID int64, tenantID string, limit int) ([]bus.Turn, error)
}

// Store opens transactional scopes.
//
// WithTx commits when fn returns nil and rolls back otherwise. The scope is
// released on every path, including panics inside fn.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
