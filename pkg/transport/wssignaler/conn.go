package wssignaler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/internal/metrics"
	"github.com/livesync/core/pkg/signaling"
)

const writeWait = 10 * time.Second

// wireFrame is the JSON shape exchanged over the physical socket: the
// envelope's msgType, the attributed sender (set by the Hub, never by the
// peer itself), and the opaque payload the core already serialized.
type wireFrame struct {
	Type     signaling.MessageType `json:"type"`
	ClientID string                `json:"clientId,omitempty"`
	Content  json.RawMessage       `json:"content"`
}

// wsConnection narrows *websocket.Conn to what Conn needs, a seam for
// substituting a fake in tests.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Conn is one peer's physical connection to the Hub: a buffered outbound
// channel drained by a dedicated writePump, and a readPump that decodes
// frames and routes them into the Hub.
type Conn struct {
	id   signaling.ClientID
	conn wsConnection
	hub  *Hub

	send      chan []byte
	closeOnce chan struct{}
}

func newConn(id signaling.ClientID, conn wsConnection, hub *Hub) *Conn {
	return &Conn{
		id:        id,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, 256),
		closeOnce: make(chan struct{}),
	}
}

// ID returns the clientId the Hub assigned this connection at upgrade.
func (c *Conn) ID() signaling.ClientID { return c.id }

// writePump drains c.send to the socket until the channel is closed.
func (c *Conn) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Warn(context.Background(), "wssignaler: write failed", zap.String("clientId", string(c.id)), zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump decodes inbound frames and hands them to the Hub for
// attribution and fan-out. It never trusts a clientId embedded in the
// frame itself — the Hub stamps c.id, never what arrived on the wire.
func (c *Conn) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(context.Background(), "wssignaler: failed to decode frame", zap.String("clientId", string(c.id)), zap.Error(err))
			continue
		}
		c.hub.route(c, frame.Type, frame.Content)
	}
}

// deliver enqueues msgType/content for this connection, attributed to
// senderID, on its outbound channel. A full channel drops the message
// rather than blocking the Hub's fan-out loop.
func (c *Conn) deliver(msgType signaling.MessageType, senderID signaling.ClientID, content []byte) {
	frame := wireFrame{Type: msgType, ClientID: string(senderID), Content: content}
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "wssignaler: failed to encode frame", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		metrics.HandlerFailures.WithLabelValues("wssignaler_send_full").Inc()
		logging.Warn(context.Background(), "wssignaler: send channel full, dropping", zap.String("clientId", string(c.id)))
	}
}

func (c *Conn) close() {
	select {
	case <-c.closeOnce:
	default:
		close(c.closeOnce)
		close(c.send)
	}
}
