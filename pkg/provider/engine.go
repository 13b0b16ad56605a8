package provider

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"switchboard/pkg/bus"
)

// DefaultSystemPrompt is used for tenants without a configured prompt.
const DefaultSystemPrompt = `Eres un asistente IA útil, profesional y respetuoso, que trabaja como Asesor Comercial y Soporte Técnico para la empresa Instruments & Applied Sciences S.A.S.- INASC SAS.

REGLAS ESTRICTAS DE COMPORTAMIENTO:
1. Tu conocimiento se limita a la información técnica de los productos que encuentres en el sitio web www.inasc.com.co.
2. Si el usuario te pregunta por temas fuera de contexto (ej. política, historia, cómo programar en Python, etc.), debes declinar educadamente y reconducir la conversación a los productos de INASC.
3. ESTÁ ESTRICTAMENTE PROHIBIDO dar precios. Bajo ninguna circunstancia debes proveer cotizaciones. Informa que para precios deben ser contactados por un especialista a través de ventas@inasc.com.co.
4. Mantén un tono sumamente técnico y conversacional. No seas agresivamente vendedor.
5. Sé conciso: tus respuestas no deberían sobrepasar 2 párrafos cortos (optimizado para móviles). Usa emojis de vez en cuando.`

// DefaultFallback is returned to the user whenever generation fails.
const DefaultFallback = "Lo lamento, en este momento me encuentro experimentando interferencia en mis sistemas centrales. ¿Podría intentarlo de nuevo en unos minutos?"

// Engine turns a transcript into reply text. It never fails: any provider
// fault yields the fallback text.
type Engine struct {
	client   Client
	prompts  func(tenantID string) string
	fallback string
	log      *slog.Logger
}

// NewEngine builds an engine. prompts may be nil, and may return "" for
// tenants that should get DefaultSystemPrompt.
func NewEngine(client Client, prompts func(tenantID string) string, fallback string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultFallback
	}

	return &Engine{
		client:   client,
		prompts:  prompts,
		fallback: fallback,
		log:      log.With("component", "provider.engine"),
	}
}

// Fallback returns the text used when generation fails.
func (e *Engine) Fallback() string {
	return e.fallback
}

// Generate prepends the tenant's system prompt to turns and asks the client
// for a completion.
func (e *Engine) Generate(ctx context.Context, turns []bus.Turn, tenantID string) string {
	if e.client == nil {
		e.log.Error("No provider client configured", "tenant_id", tenantID)
		return e.fallback
	}

	messages := make([]bus.Turn, 0, len(turns)+1)
	messages = append(messages, bus.Turn{Role: bus.RoleSystem, Content: e.systemPrompt(tenantID)})
	messages = append(messages, turns...)

	startedAt := time.Now()
	completion, err := e.client.Complete(ctx, messages)
	if err != nil {
		e.log.Error("Completion failed",
			"tenant_id", tenantID,
			"turns", len(turns),
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"error", err,
		)
		return e.fallback
	}

	text := strings.TrimSpace(completion.Text)
	if text == "" {
		e.log.Error("Completion returned no text", "tenant_id", tenantID, "model", completion.Model)
		return e.fallback
	}

	attrs := []any{
		"tenant_id", tenantID,
		"model", completion.Model,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	}
	if completion.Usage != nil {
		attrs = append(attrs, "input_tokens", completion.Usage.InputTokens, "output_tokens", completion.Usage.OutputTokens)
	}
	e.log.Debug("Completion finished", attrs...)

	return text
}

func (e *Engine) systemPrompt(tenantID string) string {
	if e.prompts != nil {
		if prompt := strings.TrimSpace(e.prompts(tenantID)); prompt != "" {
			return prompt
		}
	}
	return DefaultSystemPrompt
}
