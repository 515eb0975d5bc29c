package main

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/runlet/engine/common/logger"
)

const (
	// Time allowed to write a snapshot to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the peer counts as gone.
	pongWait = 30 * time.Second

	// Ping interval. Must be shorter than pongWait.
	pingPeriod = 25 * time.Second

	// Peers only ever send control frames; anything larger is a misbehaving
	// client.
	maxMessageSize = 512

	// sendBuffer absorbs snapshot bursts from busy executions.
	sendBuffer = 512
)

// Client is one WebSocket subscriber watching one execution.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	log         *logger.Logger
	executionID string
	send        chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, executionID string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		log:         hub.log,
		executionID: executionID,
		send:        make(chan []byte, sendBuffer),
	}
}

// readPump discards inbound data but keeps the pong handler alive and
// notices disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read failed", "execution_id", c.executionID, "error", err)
			}
			return
		}
	}
}

// writePump delivers snapshots and pings until the hub closes the send
// channel or the connection dies. Each snapshot goes out as its own text
// frame so clients can parse every JSON document on its own.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case snapshot, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
				return
			}

			// Drain whatever queued up behind this frame.
			queued := len(c.send)
			for i := 0; i < queued; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
