// Package fantasy completes transcripts through the charm fantasy agent
// runtime on top of its OpenAI-compatible provider.
package fantasy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"switchboard/pkg/bus"
	"switchboard/pkg/config"
	providertypes "switchboard/pkg/provider/types"
)

const providerName = "fantasy"

var fallbackKeyEnvs = []string{"LLM_API_KEY", "OPENAI_API_KEY"}

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type Client struct {
	provider        languageModelProvider
	requestTimeout  time.Duration
	modelID         string
	maxOutputTokens *int64
	temperature     *float64
	generate        func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

func New(cfg config.ProviderConfig) (*Client, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("provider.api_key_env is required or LLM_API_KEY / OPENAI_API_KEY must be set")
	}

	modelID, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	client := &Client{
		provider:       fantasyProvider,
		requestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		modelID:        modelID,
		generate:       generateWithFantasyAgent,
	}

	if cfg.MaxTokens > 0 {
		maxTokens := int64(cfg.MaxTokens)
		client.maxOutputTokens = &maxTokens
	}
	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		client.temperature = &temp
	}

	return client, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

// Complete sends every turn but the last as history and the last user turn
// as the prompt.
func (c *Client) Complete(ctx context.Context, turns []bus.Turn) (providertypes.Completion, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if len(turns) == 0 {
		return providertypes.Completion{}, errors.New("at least one turn is required")
	}

	last := turns[len(turns)-1]
	if last.Role != bus.RoleUser {
		return providertypes.Completion{}, fmt.Errorf("last turn must come from the user, got %q", last.Role)
	}
	prompt := strings.TrimSpace(last.Content)
	if prompt == "" {
		return providertypes.Completion{}, errors.New("prompt is required")
	}

	history, err := toMessages(turns[:len(turns)-1])
	if err != nil {
		return providertypes.Completion{}, err
	}

	languageModel, err := c.provider.LanguageModel(ctx, c.modelID)
	if err != nil {
		return providertypes.Completion{}, fmt.Errorf("resolve language model: %w", err)
	}

	call := core.AgentCall{
		Prompt:   prompt,
		Messages: history,
	}
	if c.maxOutputTokens != nil {
		call.MaxOutputTokens = c.maxOutputTokens
	}
	if c.temperature != nil {
		call.Temperature = c.temperature
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	result, err := generate(ctx, languageModel, call)
	if err != nil {
		return providertypes.Completion{}, fmt.Errorf("prompt failed: %w", err)
	}

	response := extractText(result.Response.Content)
	if response == "" {
		return providertypes.Completion{}, errors.New("prompt succeeded but returned no text")
	}

	usage := providertypes.TokenUsage{
		InputTokens:     result.TotalUsage.InputTokens,
		OutputTokens:    result.TotalUsage.OutputTokens,
		TotalTokens:     result.TotalUsage.TotalTokens,
		ReasoningTokens: result.TotalUsage.ReasoningTokens,
		CacheReadTokens: result.TotalUsage.CacheReadTokens,
	}

	completion := providertypes.Completion{
		Text:     response,
		Provider: providerName,
		Model:    c.modelID,
	}
	if !usage.IsZero() {
		completion.Usage = &usage
	}
	return completion, nil
}

func toMessages(turns []bus.Turn) ([]core.Message, error) {
	messages := make([]core.Message, 0, len(turns))
	for _, turn := range turns {
		var role core.MessageRole
		switch turn.Role {
		case bus.RoleSystem:
			role = core.MessageRoleSystem
		case bus.RoleUser:
			role = core.MessageRoleUser
		case bus.RoleAssistant:
			role = core.MessageRoleAssistant
		default:
			return nil, fmt.Errorf("unsupported turn role %q", turn.Role)
		}

		messages = append(messages, core.Message{
			Role:    role,
			Content: []core.MessagePart{core.TextPart{Text: turn.Content}},
		})
	}
	return messages, nil
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

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	runtime := core.NewAgent(model)
	return runtime.Generate(ctx, call)
}
