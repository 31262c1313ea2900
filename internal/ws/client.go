package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 15 * time.Second
	pingPeriod     = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Client pairs one websocket connection with its outbound sink. A browser
// that reconnects keeps its client id but gets a fresh Client and session.
type Client struct {
	registry  *Registry
	conn      *websocket.Conn
	sink      *Sink
	cid       string
	sessionID string
	log       *slog.Logger
}

func NewClient(registry *Registry, conn *websocket.Conn, sink *Sink, cid string) *Client {
	sessionID := uuid.NewString()
	return &Client{
		registry:  registry,
		conn:      conn,
		sink:      sink,
		cid:       cid,
		sessionID: sessionID,
		log:       slog.With("component", "ws", "cid", cid, "session", sessionID, "remote", conn.RemoteAddr().String()),
	}
}

// ReadPump reads frames until the connection drops, dispatching each event in
// order. It owns teardown: on exit the client leaves its channel and the sink
// closes, which in turn stops WritePump.
func (c *Client) ReadPump() {
	defer func() {
		c.registry.Disconnect(c.cid)
		c.registry.RemoveSender(c.cid, c.sink)
		c.sink.Close()
		c.conn.Close()
		c.registry.metrics.ConnectionsActive.Dec()
		c.log.Info("connection closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var events []json.RawMessage
		if err := json.Unmarshal(payload, &events); err != nil {
			c.log.Warn("discarding non-array frame", "error", err)
			c.registry.metrics.EventsDropped.WithLabelValues("malformed").Inc()
			continue
		}
		for _, event := range events {
			c.handleEvent(event)
		}
	}
}

// handleEvent contains a handler panic to this connection instead of taking
// the process down.
func (c *Client) handleEvent(event json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("panic handling event", "panic", rec)
		}
	}()
	c.registry.HandleEvent(c.cid, event)
}

// WritePump drains the sink to the connection and keeps the peer alive with
// pings. It exits once the sink is closed and the backlog is flushed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		for {
			frame, ok := c.sink.TryNext()
			if !ok {
				break
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		if c.sink.IsClosed() {
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		select {
		case <-c.sink.Ready():
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
