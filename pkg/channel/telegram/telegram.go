// Package telegram is the push-channel ingress and egress for Telegram bots:
// webhook or long-polling intake, and chunked HTML replies.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"switchboard/pkg/bus"
	"switchboard/pkg/channel"
	"switchboard/pkg/config"
)

const channelName = "telegram"

// NewBot builds the Bot API client shared by the poller and the responder.
func NewBot(cfg config.TelegramConfig) (*telego.Bot, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	var opts []telego.BotOption
	if server := strings.TrimSpace(cfg.APIServer); server != "" {
		opts = append(opts, telego.WithAPIServer(server))
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	return bot, nil
}

// Normalizer maps Telegram updates. The chat id becomes the platform user id
// so replies go back to the same chat.
type Normalizer struct{}

func (Normalizer) Platform() bus.Platform {
	return bus.PlatformTelegram
}

func (Normalizer) Normalize(update telego.Update) (bus.InboundMessage, error) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, channel.Malformed("update has no message")
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		return bus.InboundMessage{}, channel.Malformed("message has no text")
	}

	userName := ""
	if message.From != nil {
		userName = message.From.Username
		if userName == "" {
			userName = message.From.FirstName
		}
	}

	return bus.InboundMessage{
		Platform:       bus.PlatformTelegram,
		PlatformUserID: strconv.FormatInt(message.Chat.ID, 10),
		Content:        content,
		UserName:       userName,
		Metadata: map[string]string{
			"update_id":  strconv.Itoa(update.UpdateID),
			"message_id": strconv.Itoa(message.MessageID),
		},
	}, nil
}

// UpdateSource yields updates through long polling. *telego.Bot satisfies it.
type UpdateSource interface {
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
}

// Adapter feeds long-polled updates into the same producer the webhook uses.
type Adapter struct {
	source   UpdateSource
	producer *channel.Producer[telego.Update]
	log      *slog.Logger
}

func NewAdapter(source UpdateSource, producer *channel.Producer[telego.Update], log *slog.Logger) (*Adapter, error) {
	if source == nil {
		return nil, errors.New("update source is required")
	}
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		source:   source,
		producer: producer,
		log:      log.With("component", "channel.telegram.polling"),
	}, nil
}

// Name returns the channel identifier used in status output and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run polls until ctx is done. Malformed updates are skipped.
func (a *Adapter) Run(ctx context.Context) error {
	updates, err := a.source.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram polling started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			if _, err := a.producer.Enqueue(ctx, update); err != nil {
				if errors.Is(err, channel.ErrMalformedPayload) {
					a.log.Debug("Ignoring update", "update_id", update.UpdateID, "reason", err)
					continue
				}
				a.log.Error("Failed to enqueue update", "update_id", update.UpdateID, "error", err)
			}
		}
	}
}
