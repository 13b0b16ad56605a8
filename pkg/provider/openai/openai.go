// Package openai completes transcripts through any OpenAI-compatible Chat
// Completions endpoint, DeepSeek included.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"switchboard/pkg/bus"
	"switchboard/pkg/config"
	providertypes "switchboard/pkg/provider/types"
)

const providerName = "openai"

// fallbackKeyEnvs are consulted when the configured api_key_env is unset.
var fallbackKeyEnvs = []string{"LLM_API_KEY", "OPENAI_API_KEY"}

type Client struct {
	client         osdk.Client
	model          string
	temperature    float64
	maxTokens      int64
	requestTimeout time.Duration
}

// New builds a client from provider config. extra options are appended
// after the configured ones.
func New(cfg config.ProviderConfig, extra ...option.RequestOption) (*Client, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("provider.api_key_env is required or LLM_API_KEY / OPENAI_API_KEY must be set")
	}

	model, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}
	opts = append(opts, extra...)

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		temperature:    cfg.Temperature,
		maxTokens:      int64(cfg.MaxTokens),
		requestTimeout: requestTimeout,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

// Complete sends the transcript as chat messages and returns the first choice.
func (c *Client) Complete(ctx context.Context, turns []bus.Turn) (providertypes.Completion, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "complete")
	startedAt := time.Now()

	messages, err := toMessages(turns)
	if err != nil {
		return providertypes.Completion{}, err
	}

	params := osdk.ChatCompletionNewParams{
		Model:       osdk.ChatModel(c.model),
		Messages:    messages,
		Temperature: osdk.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = osdk.Int(c.maxTokens)
	}

	log.Debug("provider request started", "model", c.model, "messages", len(messages))

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return providertypes.Completion{}, errors.New("chat completion returned no choices")
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return providertypes.Completion{}, errors.New("chat completion returned no text")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	usage := providertypes.TokenUsage{
		InputTokens:     completion.Usage.PromptTokens,
		OutputTokens:    completion.Usage.CompletionTokens,
		TotalTokens:     completion.Usage.TotalTokens,
		ReasoningTokens: completion.Usage.CompletionTokensDetails.ReasoningTokens,
		CacheReadTokens: completion.Usage.PromptTokensDetails.CachedTokens,
	}

	result := providertypes.Completion{
		Text:     text,
		Provider: providerName,
		Model:    completion.Model,
	}
	if result.Model == "" {
		result.Model = c.model
	}
	if !usage.IsZero() {
		result.Usage = &usage
	}
	return result, nil
}

func toMessages(turns []bus.Turn) ([]osdk.ChatCompletionMessageParamUnion, error) {
	if len(turns) == 0 {
		return nil, errors.New("at least one turn is required")
	}

	messages := make([]osdk.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case bus.RoleSystem:
			messages = append(messages, osdk.SystemMessage(turn.Content))
		case bus.RoleUser:
			messages = append(messages, osdk.UserMessage(turn.Content))
		case bus.RoleAssistant:
			messages = append(messages, osdk.AssistantMessage(turn.Content))
		default:
			return nil, fmt.Errorf("unsupported turn role %q", turn.Role)
		}
	}
	return messages, nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.ProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	for _, key := range fallbackKeyEnvs {
		if apiKey := strings.TrimSpace(os.Getenv(key)); apiKey != "" {
			return apiKey
		}
	}
	return ""
}

// normalizeModel accepts "model" or "provider/model" and returns the model id.
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}

	return modelID, nil
}
