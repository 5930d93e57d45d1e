package session

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/manlab-io/manlab/internal/registry"
)

// Peer kind, mirroring the teacher's "agent"/"browser" clientType.
const (
	KindAgent     = "agent"
	KindDashboard = "dashboard"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB: larger than the teacher's 512KB since
	// stream chunks can ride this same connection before a dedicated
	// streaming channel takes over (§4.3).
	clientSendBuffer = 256
)

// Client wraps one WebSocket connection, agent or dashboard. SafeSend/Close
// follow the teacher's panic-recovering, close-once pattern so a race
// between Close and a concurrent send can never panic the caller.
type Client struct {
	conn    *websocket.Conn
	kind    string
	hub     *Hub
	session *registry.AgentSession // nil for dashboard clients

	send      chan []byte
	closeOnce sync.Once
	closed    atomic.Bool
}

func newClient(conn *websocket.Conn, kind string, hub *Hub) *Client {
	return &Client{
		conn: conn,
		kind: kind,
		hub:  hub,
		send: make(chan []byte, clientSendBuffer),
	}
}

// SafeSend pushes data to the client's outbound queue without blocking and
// without panicking if Close raced it.
func (c *Client) SafeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// ServeAgent upgrades an HTTP request to a WebSocket and runs it as an agent
// connection until it disconnects. The router mounts it at "/ws/agent";
// no "/hubs/agent" route exists.
func (h *Hub) ServeAgent(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) {
	h.serve(w, r, upgrader, KindAgent)
}

// ServeDashboard upgrades an HTTP request to a WebSocket and runs it as a
// dashboard subscriber until it disconnects.
func (h *Hub) ServeDashboard(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) {
	h.serve(w, r, upgrader, KindDashboard)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader, kind string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, kind, h)
	h.registerCh <- c

	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterCh <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if c.kind != KindAgent {
			// Dashboard connections are receive-only fan-out subscribers;
			// any inbound frame (e.g. a future subscribe/unsubscribe
			// control message) is ignored rather than routed.
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Warn().Err(err).Msg("failed to parse agent message")
			continue
		}
		c.hub.agentMsgs <- &agentEnvelope{client: c, message: &msg}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
