package web

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"questweaver/server/internal/session"
)

const (
	sendBufferSize = 256
	pingInterval   = 30 * time.Second
	readDeadline   = 60 * time.Second
	writeDeadline  = 10 * time.Second
	maxFrameBytes  = 64 * 1024
)

// Client wraps one WebSocket connection and pumps frames between the
// socket and the adventure's session controller. It implements
// session.Conn.
type Client struct {
	ID   string
	Conn *websocket.Conn
	out  chan []byte

	ctrl    *session.Controller
	release func()

	mu     sync.Mutex
	closed bool
}

// Send enqueues one outbound frame. It reports false when the
// connection is closed or the buffer is full.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// Close tears the socket down. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.Conn.Close()
}

// writePump drains the send buffer to the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.out:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[Client] Error writing to %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[Client] Error sending ping to %s: %v", c.ID, err)
				return
			}
		}
	}
}

// readPump relays inbound frames to the controller until the socket
// dies, then reports the detach and releases the connection slot.
func (c *Client) readPump() {
	defer func() {
		c.ctrl.Detach(c)
		c.Close()
		c.release()
	}()

	c.Conn.SetReadLimit(maxFrameBytes)
	c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[Client] Unexpected close from %s: %v", c.ID, err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
		c.ctrl.HandleFrame(c, data)
	}
}
