package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"switchboard/pkg/bus"
	"switchboard/pkg/channel"
)

type recordingQueue struct {
	mu  sync.Mutex
	got []bus.InboundMessage
}

func (q *recordingQueue) PublishInbound(_ context.Context, msg bus.InboundMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.got = append(q.got, msg)
	return true
}

func (q *recordingQueue) messages() []bus.InboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]bus.InboundMessage(nil), q.got...)
}

func newProducer(t *testing.T, q *recordingQueue) *channel.Producer[telego.Update] {
	t.Helper()
	p, err := channel.NewProducer[telego.Update]("inasc_telegram", Normalizer{}, q, nil)
	if err != nil {
		t.Fatalf("NewProducer error: %v", err)
	}
	return p
}

func TestNormalizer(t *testing.T) {
	update := telego.Update{
		UpdateID: 7,
		Message: &telego.Message{
			MessageID: 3,
			Chat:      telego.Chat{ID: 12345},
			From:      &telego.User{ID: 99, FirstName: "Ana"},
			Text:      "  hola  ",
		},
	}

	msg, err := Normalizer{}.Normalize(update)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if msg.PlatformUserID != "12345" || msg.Content != "hola" || msg.UserName != "Ana" {
		t.Fatalf("normalized = %+v", msg)
	}
	if msg.TenantID != "" {
		t.Fatalf("normalizer must not set tenant, got %q", msg.TenantID)
	}

	update.Message.From.Username = "ana_g"
	msg, err = Normalizer{}.Normalize(update)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if msg.UserName != "ana_g" {
		t.Fatalf("user name = %q, want username preferred", msg.UserName)
	}
}

func TestNormalizerRejectsNonText(t *testing.T) {
	for name, update := range map[string]telego.Update{
		"no message": {UpdateID: 1},
		"no text":    {UpdateID: 2, Message: &telego.Message{Chat: telego.Chat{ID: 1}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalizer{}.Normalize(update)
			if !errors.Is(err, channel.ErrMalformedPayload) {
				t.Fatalf("Normalize error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestWebhook(t *testing.T) {
	const validBody = `{"update_id":1,"message":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"Bo"},"text":"precio?"}}`

	tests := []struct {
		name      string
		secret    string
		header    string
		body      string
		wantCode  int
		wantBody  string
		published int
	}{
		{name: "valid", secret: "s", header: "s", body: validBody, wantCode: http.StatusOK, wantBody: `{"ok":true}`, published: 1},
		{name: "dev mode skips secret", body: validBody, wantCode: http.StatusOK, wantBody: `{"ok":true}`, published: 1},
		{name: "bad secret", secret: "s", header: "x", body: validBody, wantCode: http.StatusForbidden, wantBody: `{"detail":"Invalid secret token"}`},
		{name: "missing secret", secret: "s", body: validBody, wantCode: http.StatusForbidden, wantBody: `{"detail":"Invalid secret token"}`},
		{name: "invalid json", body: `{nope`, wantCode: http.StatusBadRequest, wantBody: `{"detail":"Invalid JSON body"}`},
		{name: "non text update acknowledged", body: `{"update_id":2}`, wantCode: http.StatusOK, wantBody: `{"ok":true}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := &recordingQueue{}
			handler := NewWebhook(newProducer(t, q), tc.secret, nil)

			req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(tc.body))
			if tc.header != "" {
				req.Header.Set(SecretHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.wantCode, rec.Code)
			require.JSONEq(t, tc.wantBody, rec.Body.String())

			got := q.messages()
			require.Len(t, got, tc.published)
			if tc.published > 0 {
				require.Equal(t, "inasc_telegram", got[0].TenantID)
				require.Equal(t, bus.PlatformTelegram, got[0].Platform)
				require.Equal(t, "42", got[0].PlatformUserID)
				require.Equal(t, "Bo", got[0].UserName)
			}
		})
	}
}

type fakeSource struct {
	updates chan telego.Update
}

func (f *fakeSource) UpdatesViaLongPolling(context.Context, *telego.GetUpdatesParams, ...telego.LongPollingOption) (<-chan telego.Update, error) {
	return f.updates, nil
}

func TestAdapterRunEnqueuesTextUpdates(t *testing.T) {
	q := &recordingQueue{}
	source := &fakeSource{updates: make(chan telego.Update, 3)}
	adapter, err := NewAdapter(source, newProducer(t, q), nil)
	require.NoError(t, err)
	require.Equal(t, "telegram", adapter.Name())

	source.updates <- telego.Update{UpdateID: 1, Message: &telego.Message{Chat: telego.Chat{ID: 1}, Text: "uno"}}
	source.updates <- telego.Update{UpdateID: 2}
	source.updates <- telego.Update{UpdateID: 3, Message: &telego.Message{Chat: telego.Chat{ID: 2}, Text: "dos"}}
	close(source.updates)

	err = adapter.Run(context.Background())
	require.Error(t, err)

	got := q.messages()
	require.Len(t, got, 2)
	require.Equal(t, "uno", got[0].Content)
	require.Equal(t, "dos", got[1].Content)
}

func TestAdapterRunStopsOnCancel(t *testing.T) {
	source := &fakeSource{updates: make(chan telego.Update)}
	adapter, err := NewAdapter(source, newProducer(t, &recordingQueue{}), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- adapter.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type fakeSender struct {
	failOn int
	sent   []*telego.SendMessageParams
}

func (f *fakeSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.sent = append(f.sent, params)
	if f.failOn > 0 && len(f.sent) == f.failOn {
		return nil, errors.New("telegram down")
	}
	return &telego.Message{}, nil
}

func TestResponderSendsEscapedChunksInOrder(t *testing.T) {
	sender := &fakeSender{}
	responder := NewResponder(sender, nil)

	long := strings.Repeat("palabra ", 1000) + "<tag> <b>fin</b>"
	require.True(t, responder.Send(context.Background(), "555", long))
	require.Greater(t, len(sender.sent), 1)

	for _, params := range sender.sent {
		require.Equal(t, telego.ModeHTML, params.ParseMode)
		require.Equal(t, int64(555), params.ChatID.ID)
	}
	last := sender.sent[len(sender.sent)-1].Text
	require.True(t, strings.HasSuffix(last, "&lt;tag&gt; <b>fin</b>"), last)
}

func TestResponderContinuesAfterChunkFailure(t *testing.T) {
	sender := &fakeSender{failOn: 1}
	responder := NewResponder(sender, nil)

	delivered := responder.Send(context.Background(), "1", strings.Repeat("a ", 3000))
	require.False(t, delivered)
	require.Equal(t, 2, len(sender.sent))
}

func TestResponderWithoutTokenSkips(t *testing.T) {
	responder := NewResponder(nil, nil)
	require.False(t, responder.Send(context.Background(), "1", "hola"))
}
