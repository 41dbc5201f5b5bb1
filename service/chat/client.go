package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"SocialGW/logger"
)

// Sender is the transport half the coordination core sees. Tests swap in
// channel-backed fakes; production uses *Client.
type Sender interface {
	// Send enqueues a frame without blocking. False means the client is too
	// slow (queue full) or already closed.
	Send(payload []byte) bool
	Close()
}

const (
	writeWait    = 5 * time.Second
	pingInterval = 10 * time.Second
	pongWait     = 35 * time.Second
)

// Client owns one websocket connection. A single writer goroutine consumes the
// send queue; the read loop lives in the server.
type Client struct {
	ConnID    string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(connID string, ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID: connID,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) Send(payload []byte) bool {
	if payload == nil {
		return true
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close makes the write pump send a close frame and tear the socket down.
// Safe to call from any goroutine, any number of times.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WritePump is the only goroutine allowed to write to the socket. It also owns
// the ping ticker; pong handling refreshes the read deadline in the server's
// read loop setup.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload := <-c.send:
			if err := c.writeText(payload); err != nil {
				logger.Debugf("[client] write failed conn=%s err=%v", c.ConnID, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeText(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}
