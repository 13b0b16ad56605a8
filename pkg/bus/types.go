package bus

import (
	"errors"
	"strings"
	"time"
)

// Platform names the channel family a message arrived on.
type Platform string

const (
	PlatformTelegram  Platform = "telegram"
	PlatformWeb       Platform = "web"
	PlatformSimulator Platform = "simulator"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

var (
	ErrMissingTenant = errors.New("message has no tenant")
	ErrEmptyContent  = errors.New("message has no content")
)

// InboundMessage is the normalized form every channel maps into before it
// reaches the queue. It travels by value and is not mutated once published.
type InboundMessage struct {
	ID             string            `json:"id,omitempty"`
	Platform       Platform          `json:"platform"`
	PlatformUserID string            `json:"platform_user_id"`
	TenantID       string            `json:"tenant_id"`
	Content        string            `json:"content"`
	UserName       string            `json:"user_name,omitempty"`
	ReceivedAt     time.Time         `json:"received_at,omitzero"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate reports whether the message may enter the queue.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return ErrMissingTenant
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// UserKey identifies the sender across tenants and platforms. Messages that
// share a key belong to the same conversation line.
func (m InboundMessage) UserKey() string {
	return m.TenantID + "\x00" + string(m.Platform) + "\x00" + m.PlatformUserID
}

// AgentResponse carries a worker's reply to the router. It is never stored as
// its own record.
type AgentResponse struct {
	Platform    Platform `json:"platform"`
	RecipientID string   `json:"recipient_id"`
	TenantID    string   `json:"tenant_id"`
	Content     string   `json:"content"`
}

// Turn is one entry of a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
