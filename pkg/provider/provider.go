package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"switchboard/pkg/bus"
	"switchboard/pkg/config"
	providerfantasy "switchboard/pkg/provider/fantasy"
	provideropenai "switchboard/pkg/provider/openai"
	providertypes "switchboard/pkg/provider/types"
)

const (
	TypeOpenAI  = "openai"
	TypeFantasy = "fantasy"
)

// Client completes one transcript. Implementations are safe for concurrent use.
type Client interface {
	Health(ctx context.Context) error
	Complete(ctx context.Context, turns []bus.Turn) (providertypes.Completion, error)
}

func New(cfg config.ProviderConfig) (Client, error) {
	providerType := strings.TrimSpace(cfg.Type)
	if providerType == "" {
		providerType = TypeOpenAI
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerType)

	switch providerType {
	case TypeOpenAI:
		return provideropenai.New(cfg)
	case TypeFantasy:
		return providerfantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerType)
	}
}
