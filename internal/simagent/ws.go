package simagent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/rs/zerolog"
)

const (
	pingInterval     = 30 * time.Second
	pongWait         = 45 * time.Second
	writeWait        = 10 * time.Second
	closeGracePeriod = 5 * time.Second
)

// ConnectionHandler is notified of connect/disconnect transitions, mirroring
// the teacher's agent.ConnectionHandler.
type ConnectionHandler interface {
	OnConnected()
	OnDisconnected()
}

// newReconnectBackoff builds the same 1s->60s exponential policy leapmux's
// worker/hub.Client uses for its hub reconnect loop.
func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// WebSocketClient manages the persistent connection to the hub, reconnecting
// with backoff on every disconnect (§4.1's "agent" side of the wire
// contract).
type WebSocketClient struct {
	hubURL    string
	authToken string
	log       zerolog.Logger
	handler   ConnectionHandler

	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	messages  chan *protocol.Message
}

func NewWebSocketClient(hubURL, authToken string, log zerolog.Logger, handler ConnectionHandler) *WebSocketClient {
	return &WebSocketClient{
		hubURL:    hubURL,
		authToken: authToken,
		log:       log.With().Str("component", "simagent_ws").Logger(),
		handler:   handler,
		messages:  make(chan *protocol.Message, 100),
	}
}

// Run connects and maintains the connection until ctx is cancelled,
// reconnecting with exponential backoff on every drop — resetting the
// backoff once a connection has lasted past resetThreshold.
func (c *WebSocketClient) Run(ctx context.Context) {
	const resetThreshold = 30 * time.Second
	bo := newReconnectBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		if err := c.connect(ctx); err != nil {
			interval, _ := bo.NextBackOff()
			c.log.Error().Err(err).Dur("backoff", interval).Msg("connection failed, retrying")
			c.wait(ctx, interval)
			continue
		}

		c.readLoop(ctx)
		if time.Since(start) >= resetThreshold {
			bo.Reset()
		}
		interval, _ := bo.NextBackOff()
		c.wait(ctx, interval)
	}
}

func (c *WebSocketClient) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (c *WebSocketClient) connect(ctx context.Context) error {
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.hubURL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.pingLoop(ctx)
	c.handler.OnConnected()
	return nil
}

func (c *WebSocketClient) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
		c.handler.OnDisconnected()
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("failed to parse hub message")
			continue
		}

		select {
		case c.messages <- &msg:
		case <-ctx.Done():
			return
		default:
			c.log.Warn().Msg("message queue full, dropping")
		}
	}
}

func (c *WebSocketClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			connected := c.connected
			c.mu.Unlock()
			if !connected || conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// SendMessage encodes and writes a frame to the hub.
func (c *WebSocketClient) SendMessage(msgType string, payload any) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketClient) Messages() <-chan *protocol.Message { return c.messages }

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	deadline := time.Now().Add(closeGracePeriod)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), deadline)
	time.Sleep(100 * time.Millisecond)
	return c.conn.Close()
}

func (c *WebSocketClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
