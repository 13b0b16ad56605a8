package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is a websocket chat client for the web channel. Replies arrive on
// Replies in server order; the channel closes when the connection ends.
type Client struct {
	ID       string
	UserName string

	conn    *websocket.Conn
	replies chan string
	done    chan struct{}
	writeMu sync.Mutex

	closeOnce sync.Once
	err       error
	errMu     sync.Mutex
}

// ChatURL joins a gateway base URL with the chat path for clientID.
func ChatURL(base string, clientID string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}

	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", parsed.Scheme)
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/ws/chat/" + url.PathEscape(clientID)
	return parsed.String(), nil
}

// Dial connects to the gateway at base. An empty clientID gets a random one.
func Dial(ctx context.Context, base string, clientID string, userName string, header http.Header) (*Client, error) {
	if strings.TrimSpace(clientID) == "" {
		clientID = uuid.NewString()
	}

	target, err := ChatURL(base, clientID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	c := &Client{
		ID:       clientID,
		UserName: userName,
		conn:     conn,
		replies:  make(chan string, 16),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send writes one chat frame.
func (c *Client) Send(_ context.Context, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(Payload{Text: text, UserName: c.UserName}); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (c *Client) Replies() <-chan string {
	return c.replies
}

// Err reports why the reply stream ended, if it ended abnormally.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.replies)

	for {
		var reply Reply
		if err := c.conn.ReadJSON(&reply); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			return
		}
		select {
		case c.replies <- reply.Content:
		case <-c.done:
			return
		}
	}
}
