package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ugobenoist/quiz/game/quiz"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the quiz server.
	maxServerMessageSize = 64 * 1024

	// Outbound envelopes queued before Emit starts failing.
	sendQueueSize = 64

	// Path used when the server address has none.
	defaultPath = "/ws"
)

var (
	ErrClosed            = errors.New("connection closed")
	ErrSendQueueFull     = errors.New("send queue full")
	ErrUnsupportedScheme = errors.New("unsupported server URL scheme")
)

// Envelope is one named event on the wire
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is the event channel to the quiz server. It implements
// quiz.Channel; handlers run on the client's read goroutine.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	send chan []byte

	mu       sync.RWMutex
	handlers map[string]quiz.Handler

	quit       chan struct{}
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

var _ quiz.Channel = (*Client)(nil)

type dialOptions struct {
	logger           *zap.Logger
	header           http.Header
	handshakeTimeout time.Duration
}

// Option configures Dial
type Option func(*dialOptions)

// WithLogger sets the client's logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *dialOptions) { o.logger = logger }
}

// WithHeader adds HTTP headers to the handshake request
func WithHeader(header http.Header) Option {
	return func(o *dialOptions) { o.header = header }
}

// WithHandshakeTimeout bounds the opening handshake
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *dialOptions) { o.handshakeTimeout = d }
}

// Dial connects to the quiz server at serverURL
func Dial(ctx context.Context, serverURL string, opts ...Option) (*Client, error) {
	o := dialOptions{
		logger:           zap.NewNop(),
		handshakeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	endpoint, err := EndpointURL(serverURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, o.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	o.logger.Info("connected to quiz server", zap.String("url", endpoint))
	return newClient(conn, o.logger), nil
}

func newClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	c := &Client{
		conn:       conn,
		logger:     logger,
		send:       make(chan []byte, sendQueueSize),
		handlers:   make(map[string]quiz.Handler),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()
	return c
}

// EndpointURL turns a server address into a WebSocket URL. http and https
// map to ws and wss; an empty path becomes /ws.
func EndpointURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultPath
	}
	return u.String(), nil
}

// On registers h for event, replacing any previous handler
func (c *Client) On(event string, h quiz.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for event
func (c *Client) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Emit queues an event for the server. It never blocks.
func (c *Client) Emit(event string, payload any) error {
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}

	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = data
	}

	message, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event, err)
	}

	select {
	case c.send <- message:
		return nil
	case <-c.quit:
		return ErrClosed
	default:
		return ErrSendQueueFull
	}
}

// Done is closed once the connection stops reading
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears the connection down
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.writerDone
		c.conn.Close()
		<-c.done
	})
	return nil
}

// readPump pumps envelopes from the server to the registered handlers
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.Close()
	}()

	c.conn.SetReadLimit(maxServerMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.quit:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn("quiz server connection error", zap.Error(err))
				} else {
					c.logger.Info("quiz server closed the connection", zap.Error(err))
				}
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.route(message)
	}
}

// route decodes every envelope in a frame. Frames may carry several
// newline-separated envelopes.
func (c *Client) route(message []byte) {
	dec := json.NewDecoder(bytes.NewReader(message))
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("malformed envelope", zap.Error(err))
			}
			return
		}
		if env.Event == "" {
			c.logger.Warn("envelope without event name")
			continue
		}

		c.mu.RLock()
		h, ok := c.handlers[env.Event]
		c.mu.RUnlock()

		if !ok {
			c.logger.Debug("no handler for event", zap.String("event", env.Event))
			continue
		}
		h(env.Data)
	}
}

// writePump pumps queued envelopes to the server, one per frame
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("write to quiz server failed", zap.Error(err))
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}

		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.done:
			return
		}
	}
}
