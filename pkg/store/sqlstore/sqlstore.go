// Package sqlstore persists users, conversations and messages through
// database/sql. SQLite (modernc) and PostgreSQL (pgx) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"switchboard/pkg/bus"
	"switchboard/pkg/store"
)

const activeFilter = "deleted_at IS NULL"

type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects using the named dialect and bootstraps the schema.
func Open(ctx context.Context, dialectName string, dsn string) (*Store, error) {
	dialect, err := DialectFor(dialectName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened handle and bootstraps the schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if dialect.maxConns > 0 {
		db.SetMaxOpenConns(dialect.maxConns)
	}

	s := &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(&tx{tx: sqlTx, dialect: s.dialect, now: s.now}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type tx struct {
	tx      *sql.Tx
	dialect Dialect
	now     func() time.Time
}

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *tx) GetOrCreateUser(ctx context.Context, msg bus.InboundMessage) (store.User, error) {
	user := store.User{
		TenantID:       msg.TenantID,
		Platform:       msg.Platform,
		PlatformUserID: msg.PlatformUserID,
	}

	err := t.queryRow(ctx,
		`SELECT id, full_name, created_at FROM users
		 WHERE tenant_id = ? AND platform = ? AND platform_user_id = ? AND `+activeFilter,
		msg.TenantID, string(msg.Platform), msg.PlatformUserID,
	).Scan(&user.ID, &user.FullName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("select user: %w", err)
	}

	now := t.now()
	user.FullName = strings.TrimSpace(msg.UserName)
	user.CreatedAt = now
	err = t.queryRow(ctx,
		`INSERT INTO users (tenant_id, platform, platform_user_id, full_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		msg.TenantID, string(msg.Platform), msg.PlatformUserID, user.FullName, now, now,
	).Scan(&user.ID)
	if err != nil {
		return store.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (t *tx) GetOrCreateActiveConversation(ctx context.Context, userID int64, tenantID string) (store.Conversation, error) {
	conversation := store.Conversation{
		TenantID: tenantID,
		UserID:   userID,
		Status:   store.ConversationActive,
	}

	err := t.queryRow(ctx,
		`SELECT id, intent_category, created_at FROM conversations
		 WHERE user_id = ? AND tenant_id = ? AND status = ? AND `+activeFilter+`
		 ORDER BY id DESC LIMIT 1`,
		userID, tenantID, store.ConversationActive,
	).Scan(&conversation.ID, &conversation.IntentCategory, &conversation.CreatedAt)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, fmt.Errorf("select conversation: %w", err)
	}

	now := t.now()
	conversation.IntentCategory = store.DefaultIntent
	conversation.CreatedAt = now
	err = t.queryRow(ctx,
		`INSERT INTO conversations (tenant_id, user_id, status, intent_category, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		tenantID, userID, store.ConversationActive, store.DefaultIntent, now, now,
	).Scan(&conversation.ID)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conversation, nil
}

func (t *tx) FindActiveConversation(ctx context.Context, msg bus.InboundMessage) (store.Conversation, error) {
	conversation := store.Conversation{
		TenantID: msg.TenantID,
		Status:   store.ConversationActive,
	}

	err := t.queryRow(ctx,
		`SELECT c.id, c.user_id, c.intent_category, c.created_at
		 FROM conversations c JOIN users u ON u.id = c.user_id
		 WHERE u.tenant_id = ? AND u.platform = ? AND u.platform_user_id = ? AND u.deleted_at IS NULL
		   AND c.tenant_id = ? AND c.status = ? AND c.deleted_at IS NULL
		 ORDER BY c.id DESC LIMIT 1`,
		msg.TenantID, string(msg.Platform), msg.PlatformUserID, msg.TenantID, store.ConversationActive,
	).Scan(&conversation.ID, &conversation.UserID, &conversation.IntentCategory, &conversation.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("select active conversation: %w", err)
	}
	return conversation, nil
}

func (t *tx) SaveMessage(ctx context.Context, conversationID int64, tenantID string, role string, content string) (store.Message, error) {
	msg := store.Message{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      t.now(),
	}

	err := t.queryRow(ctx,
		`INSERT INTO messages (tenant_id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		tenantID, conversationID, role, content, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (t *tx) GetHistory(ctx context.Context, conversationID int64, tenantID string, limit int) ([]bus.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := t.tx.QueryContext(ctx, t.dialect.Rebind(
		`SELECT role, content FROM messages
		 WHERE conversation_id = ? AND tenant_id = ? AND `+activeFilter+`
		 ORDER BY id DESC LIMIT ?`),
		conversationID, tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	turns := make([]bus.Turn, 0, limit)
	for rows.Next() {
		var turn bus.Turn
		if err := rows.Scan(&turn.Role, &turn.Content); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	slices.Reverse(turns)
	return turns, nil
}
