package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bowerhall/parley/internal/logger"
	"github.com/bowerhall/parley/internal/status"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 65536
)

// client is one websocket connection bound to an engine session.
type client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan outboundMessage
}

// readPump pumps inbound messages from the connection into the engine.
func (c *client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("websocket read", "connection", c.id, "error", err)
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("bad inbound message", "connection", c.id, "error", err)
			continue
		}

		c.handleMessage(msg)
	}
}

// writePump pumps outbound messages from the engine to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("marshal outbound message", "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Error("websocket write", "connection", c.id, "error", err)
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

func (c *client) handleMessage(msg inboundMessage) {
	switch msg.Type {
	case msgNewDiscussion:
		if err := c.server.engine.NewDiscussion(c.id, msg.Title); err != nil {
			logger.Error("new discussion", "connection", c.id, "error", err)
		}

	case msgLoadDiscussion:
		if err := c.server.engine.LoadDiscussion(c.id, msg.ID); err != nil {
			logger.Error("load discussion", "connection", c.id, "error", err)
		}

	case msgGenerate:
		if err := c.server.engine.GenerateMessage(c.id, msg.Prompt); err != nil {
			logger.Error("generate", "connection", c.id, "error", err)
		}

	case msgGenerateFrom:
		if err := c.server.engine.GenerateMessageFrom(c.id, msg.ID); err != nil {
			logger.Error("generate from", "connection", c.id, "error", err)
		}

	case msgContinueFrom:
		if err := c.server.engine.ContinueGenerateFrom(c.id, msg.ID); err != nil {
			logger.Error("continue from", "connection", c.id, "error", err)
		}

	case msgCancelGeneration:
		c.server.engine.CancelGeneration(c.id)

	case msgStatus:
		c.enqueue(outboundMessage{Type: msgStatus, Data: status.Collect(0)})

	default:
		logger.Warn("unknown message type", "connection", c.id, "type", msg.Type)
	}
}

// enqueue is only called from readPump, which owns the connection until its
// deferred unregister, so the channel cannot be closed underneath it.
func (c *client) enqueue(msg outboundMessage) {
	select {
	case c.send <- msg:
	default:
		logger.Warn("client too slow, closing connection", "connection", c.id, "type", msg.Type)
		c.conn.Close()
	}
}
