package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mymmrac/telego"

	"switchboard/pkg/channel"
)

// SecretHeader carries the secret Telegram echoes back on every webhook call.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxWebhookBody = 1 << 20

type detailResponse struct {
	Detail string `json:"detail"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// Webhook receives updates pushed by Telegram. An empty secret disables the
// header check.
type Webhook struct {
	producer *channel.Producer[telego.Update]
	secret   string
	log      *slog.Logger
}

func NewWebhook(producer *channel.Producer[telego.Update], secret string, log *slog.Logger) *Webhook {
	if log == nil {
		log = slog.Default()
	}

	return &Webhook{
		producer: producer,
		secret:   secret,
		log:      log.With("component", "channel.telegram.webhook"),
	}
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		_ = channel.WriteJSON(w, http.StatusMethodNotAllowed, detailResponse{Detail: "Method not allowed"})
		return
	}

	if h.secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.log.Warn("Rejected webhook call with invalid secret", "remote_addr", r.RemoteAddr)
			_ = channel.WriteJSON(w, http.StatusForbidden, detailResponse{Detail: "Invalid secret token"})
			return
		}
	}

	var update telego.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&update); err != nil {
		_ = channel.WriteJSON(w, http.StatusBadRequest, detailResponse{Detail: "Invalid JSON body"})
		return
	}

	if _, err := h.producer.Enqueue(r.Context(), update); err != nil {
		switch {
		case errors.Is(err, channel.ErrMalformedPayload):
			h.log.Debug("Ignoring update", "update_id", update.UpdateID, "reason", err)
		default:
			h.log.Error("Failed to enqueue update", "update_id", update.UpdateID, "error", err)
		}
	}

	// Telegram retries anything but 200, so ignored updates are acknowledged too.
	_ = channel.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}
