package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"switchboard/pkg/logger"
)

// MessageSender is the part of the Bot API the responder needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Responder pushes agent replies to Telegram chats.
type Responder struct {
	sender MessageSender
	log    *slog.Logger
}

// NewResponder returns a responder. A nil sender means no bot token is
// configured; Send then logs a warning and drops the reply.
func NewResponder(sender MessageSender, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}

	return &Responder{
		sender: sender,
		log:    log.With("component", "channel.telegram.responder"),
	}
}

// Send escapes and chunks text, then sends each chunk in order. Failures are
// logged per chunk and never returned. It reports whether every chunk went out.
func (r *Responder) Send(ctx context.Context, chatID string, text string) bool {
	if r.sender == nil {
		r.log.Warn("Telegram bot token not configured, reply dropped", "chat_id", chatID)
		return false
	}

	chunks := Chunk(EscapeHTML(text), MaxMessageLength)
	target := chatTarget(chatID)

	delivered := true
	for i, chunk := range chunks {
		params := tu.Message(target, chunk).WithParseMode(telego.ModeHTML)
		if _, err := r.sender.SendMessage(ctx, params); err != nil {
			delivered = false
			r.log.Error("Failed to send telegram chunk",
				"chat_id", chatID,
				"chunk", i+1,
				"chunks", len(chunks),
				"error", err,
			)
			continue
		}
		r.log.Info("Sent telegram chunk",
			"chat_id", chatID,
			"chunk", i+1,
			"chunks", len(chunks),
			"content", logger.Preview(chunk),
		)
	}
	return delivered && len(chunks) > 0
}

func chatTarget(chatID string) telego.ChatID {
	trimmed := strings.TrimSpace(chatID)
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return tu.ID(id)
	}
	return tu.Username(trimmed)
}
