package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envConfigPath            = "SWITCHBOARD_CONFIG"
	envTelegramBotToken      = "TELEGRAM_BOT_TOKEN"
	envTelegramWebhookSecret = "TELEGRAM_WEBHOOK_SECRET"
	envTelegramTenantID      = "TELEGRAM_CHANNEL_TENANT_ID"
	envWebTenantID           = "WEB_CHANNEL_TENANT_ID"
	envWebAllowedOrigins     = "WEB_ALLOWED_ORIGINS"
	envDatabaseDSN           = "DATABASE_DSN"
	envAppStatus             = "APP_STATUS"
)

const (
	DefaultTelegramTenantID = "inasc_telegram"
	DefaultWebTenantID      = "inasc_web"
	DefaultSimulatorTenant  = "simulator"
	DefaultHistoryLimit     = 10
	DefaultModel            = "deepseek-chat"
	DefaultBaseURL          = "https://api.deepseek.com"
	DefaultTemperature      = 0.3

	TelegramModeWebhook = "webhook"
	TelegramModePolling = "polling"

	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Environment string                  `json:"environment,omitempty"`
	Gateway     GatewayConfig           `json:"gateway"`
	Channels    ChannelsConfig          `json:"channels"`
	Provider    ProviderConfig          `json:"provider"`
	Tenants     map[string]TenantConfig `json:"tenants,omitempty"`
	Storage     StorageConfig           `json:"storage"`
	Dispatch    DispatchConfig          `json:"dispatch"`
	Logging     LoggingConfig           `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// GatewayConfig configures the HTTP bind address shared by every ingress.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ChannelsConfig stores per-channel ingress settings.
type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Web       WebConfig       `json:"web"`
	Simulator SimulatorConfig `json:"simulator"`
}

// TelegramConfig configures the push-style Telegram channel.
//
// TenantID is the only source of tenant identity for Telegram traffic.
// An empty WebhookSecret disables the secret header check.
type TelegramConfig struct {
	Enabled       bool   `json:"enabled"`
	Mode          string `json:"mode,omitempty"`
	Token         string `json:"token"`
	TenantID      string `json:"tenant_id"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	APIServer     string `json:"api_server,omitempty"`
}

// WebConfig configures the bidirectional websocket channel.
type WebConfig struct {
	Enabled        bool     `json:"enabled"`
	TenantID       string   `json:"tenant_id"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// SimulatorConfig configures the synthetic-load ingress.
type SimulatorConfig struct {
	Enabled  bool   `json:"enabled"`
	TenantID string `json:"tenant_id,omitempty"`
}

// ProviderConfig configures the language-model client.
type ProviderConfig struct {
	Type                  string  `json:"type"`
	BaseURL               string  `json:"base_url"`
	APIKeyEnv             string  `json:"api_key_env,omitempty"`
	Model                 string  `json:"model"`
	Temperature           float64 `json:"temperature"`
	MaxTokens             int     `json:"max_tokens,omitempty"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds,omitempty"`
	SystemPrompt          string  `json:"system_prompt,omitempty"`
	FallbackMessage       string  `json:"fallback_message,omitempty"`
}

// TenantConfig holds per-tenant overrides.
type TenantConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn,omitempty"`
}

// DispatchConfig tunes the queue and worker fan-out.
//
// Zero values mean unbounded for QueueCapacity and MaxWorkers.
type DispatchConfig struct {
	QueueCapacity int `json:"queue_capacity,omitempty"`
	MaxWorkers    int `json:"max_workers,omitempty"`
	HistoryLimit  int `json:"history_limit,omitempty"`
}

// Default returns a configuration usable without any config file: web and
// simulator ingress on, in-memory storage, DeepSeek via the OpenAI protocol.
func Default() *Config {
	return &Config{
		Environment: "unknown",
		Gateway:     GatewayConfig{Host: "0.0.0.0", Port: 8000},
		Channels: ChannelsConfig{
			Telegram:  TelegramConfig{Mode: TelegramModeWebhook, TenantID: DefaultTelegramTenantID},
			Web:       WebConfig{Enabled: true, TenantID: DefaultWebTenantID},
			Simulator: SimulatorConfig{Enabled: true, TenantID: DefaultSimulatorTenant},
		},
		Provider: ProviderConfig{
			Type:        "openai",
			BaseURL:     DefaultBaseURL,
			APIKeyEnv:   "DEEPSEEK_API_KEY",
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
		},
		Storage:  StorageConfig{Driver: StorageMemory},
		Dispatch: DispatchConfig{HistoryLimit: DefaultHistoryLimit},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and
// applies environment overrides. A missing file is not an error unless
// SWITCHBOARD_CONFIG names one explicitly.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil && !errors.Is(err, errConfigNotFound) {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the gateway cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite, StoragePostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Channels.Telegram.Mode {
	case TelegramModeWebhook, TelegramModePolling:
	default:
		return fmt.Errorf("unsupported telegram mode %q", c.Channels.Telegram.Mode)
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Mode == TelegramModePolling && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return errors.New("channels.telegram.token is required in polling mode")
	}

	if c.Dispatch.QueueCapacity < 0 || c.Dispatch.MaxWorkers < 0 {
		return errors.New("dispatch limits must not be negative")
	}

	return nil
}

// SystemPromptFor returns the tenant's prompt, falling back to the provider default.
func (c *Config) SystemPromptFor(tenantID string) string {
	if tenant, ok := c.Tenants[tenantID]; ok {
		if prompt := strings.TrimSpace(tenant.SystemPrompt); prompt != "" {
			return prompt
		}
	}

	return strings.TrimSpace(c.Provider.SystemPrompt)
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if secret := strings.TrimSpace(os.Getenv(envTelegramWebhookSecret)); secret != "" {
		cfg.Channels.Telegram.WebhookSecret = secret
	}
	if tenant := strings.TrimSpace(os.Getenv(envTelegramTenantID)); tenant != "" {
		cfg.Channels.Telegram.TenantID = tenant
	}
	if tenant := strings.TrimSpace(os.Getenv(envWebTenantID)); tenant != "" {
		cfg.Channels.Web.TenantID = tenant
	}
	if rawOrigins := strings.TrimSpace(os.Getenv(envWebAllowedOrigins)); rawOrigins != "" {
		cfg.Channels.Web.AllowedOrigins = parseCSV(rawOrigins)
	}
	if status := strings.TrimSpace(os.Getenv(envAppStatus)); status != "" {
		cfg.Environment = status
	}

	if dsn := strings.TrimSpace(os.Getenv(envDatabaseDSN)); dsn != "" {
		cfg.Storage.DSN = dsn
	} else if dsn := mysqlStyleDSN(); dsn != "" {
		cfg.Storage.DSN = dsn
	}
}

// mysqlStyleDSN builds a Postgres URL from the DB_* variables of the legacy
// .env layout. It returns "" unless DB_NAME is set.
func mysqlStyleDSN() string {
	name := strings.TrimSpace(os.Getenv("DB_NAME"))
	if name == "" {
		return ""
	}

	host := strings.TrimSpace(os.Getenv("DB_HOST"))
	if host == "" {
		host = "127.0.0.1"
	}
	port := strings.TrimSpace(os.Getenv("DB_PORT"))
	if port == "" {
		port = "5432"
	}

	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + name,
	}
	return dsn.String()
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Channels.Telegram.Mode) == "" {
		cfg.Channels.Telegram.Mode = TelegramModeWebhook
	}
	if strings.TrimSpace(cfg.Channels.Telegram.TenantID) == "" {
		cfg.Channels.Telegram.TenantID = DefaultTelegramTenantID
	}
	if strings.TrimSpace(cfg.Channels.Web.TenantID) == "" {
		cfg.Channels.Web.TenantID = DefaultWebTenantID
	}
	if strings.TrimSpace(cfg.Channels.Simulator.TenantID) == "" {
		cfg.Channels.Simulator.TenantID = DefaultSimulatorTenant
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = StorageMemory
	}
	if cfg.Dispatch.HistoryLimit <= 0 {
		cfg.Dispatch.HistoryLimit = DefaultHistoryLimit
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

var errConfigNotFound = errors.New("config.json not found")

// findConfigPath resolves the active config file location.
//
// Precedence is SWITCHBOARD_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errConfigNotFound
}
