// Package memstore is an in-process Store used for development and tests.
// Writes are staged per transaction and appended on commit.
package memstore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"switchboard/pkg/bus"
	"switchboard/pkg/store"
)

var errClosed = errors.New("memstore is closed")

type Store struct {
	nextID atomic.Int64

	mu            sync.RWMutex
	closed        bool
	users         []store.User
	conversations []store.Conversation
	messages      []store.Message
}

func New() *Store {
	return &Store{}
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return errClosed
	}

	t := &tx{s: s}
	if err := fn(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.users = append(s.users, t.users...)
	s.conversations = append(s.conversations, t.conversations...)
	s.messages = append(s.messages, t.messages...)
	return nil
}

func (s *Store) Ping(context.Context) error {
	if s.isClosed() {
		return errClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Messages returns a copy of every committed message for tenantID, in commit order.
func (s *Store) Messages(tenantID string) []store.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.TenantID == tenantID {
			out = append(out, msg)
		}
	}
	return out
}

// Users returns a copy of every committed user for tenantID.
func (s *Store) Users(tenantID string) []store.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.User, 0, len(s.users))
	for _, user := range s.users {
		if user.TenantID == tenantID {
			out = append(out, user)
		}
	}
	return out
}

// Conversations returns a copy of every committed conversation for tenantID.
func (s *Store) Conversations(tenantID string) []store.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Conversation, 0, len(s.conversations))
	for _, conversation := range s.conversations {
		if conversation.TenantID == tenantID {
			out = append(out, conversation)
		}
	}
	return out
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// tx stages writes and reads through to committed state.
type tx struct {
	s *Store

	users         []store.User
	conversations []store.Conversation
	messages      []store.Message
}

func (t *tx) GetOrCreateUser(ctx context.Context, msg bus.InboundMessage) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}

	match := func(u store.User) bool {
		return u.TenantID == msg.TenantID && u.Platform == msg.Platform && u.PlatformUserID == msg.PlatformUserID
	}

	t.s.mu.RLock()
	idx := slices.IndexFunc(t.s.users, match)
	var found store.User
	if idx >= 0 {
		found = t.s.users[idx]
	}
	t.s.mu.RUnlock()
	if idx >= 0 {
		return found, nil
	}

	if idx := slices.IndexFunc(t.users, match); idx >= 0 {
		return t.users[idx], nil
	}

	user := store.User{
		ID:             t.s.nextID.Add(1),
		TenantID:       msg.TenantID,
		Platform:       msg.Platform,
		PlatformUserID: msg.PlatformUserID,
		FullName:       strings.TrimSpace(msg.UserName),
		CreatedAt:      time.Now().UTC(),
	}
	t.users = append(t.users, user)
	return user, nil
}

func (t *tx) GetOrCreateActiveConversation(ctx context.Context, userID int64, tenantID string) (store.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return store.Conversation{}, err
	}

	match := func(c store.Conversation) bool {
		return c.UserID == userID && c.TenantID == tenantID && c.Status == store.ConversationActive
	}

	t.s.mu.RLock()
	idx := slices.IndexFunc(t.s.conversations, match)
	var found store.Conversation
	if idx >= 0 {
		found = t.s.conversations[idx]
	}
	t.s.mu.RUnlock()
	if idx >= 0 {
		return found, nil
	}

	if idx := slices.IndexFunc(t.conversations, match); idx >= 0 {
		return t.conversations[idx], nil
	}

	conversation := store.Conversation{
		ID:             t.s.nextID.Add(1),
		TenantID:       tenantID,
		UserID:         userID,
		Status:         store.ConversationActive,
		IntentCategory: store.DefaultIntent,
		CreatedAt:      time.Now().UTC(),
	}
	t.conversations = append(t.conversations, conversation)
	return conversation, nil
}

func (t *tx) FindActiveConversation(ctx context.Context, msg bus.InboundMessage) (store.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return store.Conversation{}, err
	}

	isUser := func(u store.User) bool {
		return u.TenantID == msg.TenantID && u.Platform == msg.Platform && u.PlatformUserID == msg.PlatformUserID
	}

	t.s.mu.RLock()
	users := append(slices.Clone(t.s.users), t.users...)
	conversations := append(slices.Clone(t.s.conversations), t.conversations...)
	t.s.mu.RUnlock()

	idx := slices.IndexFunc(users, isUser)
	if idx < 0 {
		return store.Conversation{}, store.ErrNotFound
	}
	userID := users[idx].ID

	idx = slices.IndexFunc(conversations, func(c store.Conversation) bool {
		return c.UserID == userID && c.TenantID == msg.TenantID && c.Status == store.ConversationActive
	})
	if idx < 0 {
		return store.Conversation{}, store.ErrNotFound
	}
	return conversations[idx], nil
}

func (t *tx) SaveMessage(ctx context.Context, conversationID int64, tenantID string, role string, content string) (store.Message, error) {
	if err := ctx.Err(); err != nil {
		return store.Message{}, err
	}

	msg := store.Message{
		ID:             t.s.nextID.Add(1),
		TenantID:       tenantID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	t.messages = append(t.messages, msg)
	return msg, nil
}

func (t *tx) GetHistory(ctx context.Context, conversationID int64, tenantID string, limit int) ([]bus.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	match := func(m store.Message) bool {
		return m.ConversationID == conversationID && m.TenantID == tenantID
	}

	var selected []store.Message
	t.s.mu.RLock()
	for _, msg := range t.s.messages {
		if match(msg) {
			selected = append(selected, msg)
		}
	}
	t.s.mu.RUnlock()
	for _, msg := range t.messages {
		if match(msg) {
			selected = append(selected, msg)
		}
	}

	slices.SortFunc(selected, func(a, b store.Message) int {
		return int(a.ID - b.ID)
	})
	if len(selected) > limit {
		selected = selected[len(selected)-limit:]
	}

	turns := make([]bus.Turn, 0, len(selected))
	for _, msg := range selected {
		turns = append(turns, bus.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns, nil
}
