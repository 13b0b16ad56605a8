package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"switchboard/pkg/bus"
	"switchboard/pkg/channel"
	"switchboard/pkg/replies"
)

// echoQueue answers every published message through the registry, the way
// the worker and router would.
type echoQueue struct {
	registry *replies.Registry

	mu  sync.Mutex
	got []bus.InboundMessage
}

func (q *echoQueue) PublishInbound(_ context.Context, msg bus.InboundMessage) bool {
	q.mu.Lock()
	q.got = append(q.got, msg)
	q.mu.Unlock()

	go q.registry.Deliver(msg.PlatformUserID, "echo: "+msg.Content)
	return true
}

func (q *echoQueue) messages() []bus.InboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]bus.InboundMessage(nil), q.got...)
}

func newServer(t *testing.T, allowed []string) (*httptest.Server, *echoQueue, *replies.Registry) {
	t.Helper()

	registry := replies.NewRegistry(nil)
	q := &echoQueue{registry: registry}
	producer, err := channel.NewProducer[Payload]("inasc_web", Normalizer{}, q, nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/chat/{client_id}", NewEndpoint(producer, registry, allowed, nil))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, q, registry
}

func dial(t *testing.T, server *httptest.Server, clientID string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) Reply {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestNormalizer(t *testing.T) {
	msg, err := Normalizer{}.Normalize(Payload{ClientID: "c1", Text: " hola ", UserName: "Juan"})
	require.NoError(t, err)
	require.Equal(t, bus.PlatformWeb, msg.Platform)
	require.Equal(t, "c1", msg.PlatformUserID)
	require.Equal(t, "hola", msg.Content)
	require.Equal(t, "Juan", msg.UserName)
	require.Empty(t, msg.TenantID)

	_, err = Normalizer{}.Normalize(Payload{ClientID: "c1"})
	require.True(t, errors.Is(err, channel.ErrMalformedPayload))
}

func TestEndpointRoundTrip(t *testing.T) {
	server, q, _ := newServer(t, nil)
	conn := dial(t, server, "client-1", nil)

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "hola", "user_name": "Juan", "client_id": "spoofed"}))
	reply := readReply(t, conn)
	require.Equal(t, Reply{Role: ReplyRole, Content: "echo: hola"}, reply)

	got := q.messages()
	require.Len(t, got, 1)
	require.Equal(t, "client-1", got[0].PlatformUserID)
	require.Equal(t, "inasc_web", got[0].TenantID)
}

func TestEndpointRepliesInOrderAndSkipsEmptyFrames(t *testing.T) {
	server, q, _ := newServer(t, nil)
	conn := dial(t, server, "client-2", nil)

	require.NoError(t, conn.WriteJSON(map[string]string{"text": ""}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"text": "uno"}))
	require.Equal(t, "echo: uno", readReply(t, conn).Content)
	require.NoError(t, conn.WriteJSON(map[string]string{"text": "dos"}))
	require.Equal(t, "echo: dos", readReply(t, conn).Content)

	require.Len(t, q.messages(), 2)
}

func TestEndpointIsolatesClients(t *testing.T) {
	server, _, _ := newServer(t, nil)
	a := dial(t, server, "a", nil)
	b := dial(t, server, "b", nil)

	require.NoError(t, a.WriteJSON(map[string]string{"text": "from a"}))
	require.NoError(t, b.WriteJSON(map[string]string{"text": "from b"}))

	require.Equal(t, "echo: from a", readReply(t, a).Content)
	require.Equal(t, "echo: from b", readReply(t, b).Content)
}

func TestEndpointUnregistersOnDisconnect(t *testing.T) {
	server, _, registry := newServer(t, nil)
	conn := dial(t, server, "gone", nil)

	require.Eventually(t, func() bool { return registry.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.False(t, registry.Deliver("gone", "late reply"))
}

func TestEndpointDuplicateClientEvictsOlder(t *testing.T) {
	server, _, registry := newServer(t, nil)
	old := dial(t, server, "dup", nil)
	require.Eventually(t, func() bool { return registry.Len() == 1 }, time.Second, 10*time.Millisecond)

	newer := dial(t, server, "dup", nil)

	require.NoError(t, old.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := old.ReadMessage()
	require.Error(t, err)

	require.NoError(t, newer.WriteJSON(map[string]string{"text": "still here"}))
	require.Equal(t, "echo: still here", readReply(t, newer).Content)
	require.Equal(t, 1, registry.Len())
}

func TestEndpointRejectsUnknownOrigin(t *testing.T) {
	server, _, _ := newServer(t, []string{"https://inasc.example"})
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/x"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	ok := dial(t, server, "y", http.Header{"Origin": []string{"https://inasc.example"}})
	require.NotNil(t, ok)
}

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{base: "http://localhost:8000", want: "ws://localhost:8000/ws/chat/c1"},
		{base: "https://bot.example/", want: "wss://bot.example/ws/chat/c1"},
		{base: "ws://10.0.0.1:9000/api", want: "ws://10.0.0.1:9000/api/ws/chat/c1"},
	}
	for _, tc := range cases {
		got, err := ChatURL(tc.base, "c1")
		if err != nil {
			t.Fatalf("ChatURL(%q) error: %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("ChatURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}

	if _, err := ChatURL("ftp://x", "c1"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestClientRoundTrip(t *testing.T) {
	server, q, _ := newServer(t, nil)

	client, err := Dial(context.Background(), server.URL, "", "Ana", nil)
	require.NoError(t, err)
	defer client.Close()
	require.NotEmpty(t, client.ID)

	require.NoError(t, client.Send(context.Background(), "hola"))
	require.NoError(t, client.Send(context.Background(), "adios"))

	for _, want := range []string{"echo: hola", "echo: adios"} {
		select {
		case got := <-client.Replies():
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	msgs := q.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, client.ID, msgs[0].PlatformUserID)
	require.Equal(t, "Ana", msgs[0].UserName)

	require.NoError(t, client.Close())
	select {
	case _, ok := <-client.Replies():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("reply stream did not close")
	}
}
