package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect carries the per-engine differences: driver name, schema and
// placeholder style. Queries are written with '?' and rebound when needed.
type Dialect struct {
	Name     string
	Driver   string
	Schema   []string
	numbered bool
	maxConns int
}

var SQLite = Dialect{
	Name:     "sqlite",
	Driver:   "sqlite",
	maxConns: 1,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			platform_user_id TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_identity ON users(tenant_id, platform, platform_user_id)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			user_id INTEGER NOT NULL REFERENCES users(id),
			status TEXT NOT NULL DEFAULT 'active',
			intent_category TEXT NOT NULL DEFAULT 'unknown',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(tenant_id, user_id, status)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(tenant_id, conversation_id, id)`,
	},
}

var Postgres = Dialect{
	Name:     "postgres",
	Driver:   "pgx",
	numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			platform VARCHAR(32) NOT NULL,
			platform_user_id VARCHAR(128) NOT NULL,
			full_name VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_identity ON users(tenant_id, platform, platform_user_id)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			user_id BIGINT NOT NULL REFERENCES users(id),
			status VARCHAR(32) NOT NULL DEFAULT 'active',
			intent_category VARCHAR(64) NOT NULL DEFAULT 'unknown',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(tenant_id, user_id, status)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			role VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(tenant_id, conversation_id, id)`,
	},
}

// DialectFor maps a storage driver name from config to its dialect.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SQLite.Name:
		return SQLite, nil
	case Postgres.Name, "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// Rebind rewrites '?' placeholders to $1..$n for engines that need it.
// Placeholders inside quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
