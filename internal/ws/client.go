package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents one WebSocket client connection. Each connected UI
// surface (side panel, popout, canvas) is its own Client, and the router
// treats each as an independent owner.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps a WebSocket connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Send queues a message for the write pump. It never blocks; a client too
// slow to drain its buffer is closed rather than allowed to stall a
// terminal's fan-out.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// SendMessage marshals and queues a wire message.
func (c *Client) SendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal %s message: %v", msg.Type, err)
		return
	}
	c.Send(data)
}

// SendOutput implements router.Conn.
func (c *Client) SendOutput(terminalID string, data []byte, offset uint64) {
	c.SendMessage(&Message{
		Type:       MessageTypeOutput,
		TerminalID: terminalID,
		Data:       string(data),
		Offset:     offset,
	})
}

// SendClosed implements router.Conn.
func (c *Client) SendClosed(terminalID string) {
	c.SendMessage(&Message{
		Type:       MessageTypeClosed,
		TerminalID: terminalID,
	})
}

// SendError reports a failed request back to this client, scoped to the
// request id that caused it when one is known.
func (c *Client) SendError(requestID, reason string) {
	c.SendMessage(&Message{
		Type:      MessageTypeError,
		RequestID: requestID,
		Reason:    reason,
	})
}

// Close closes the client's send channel. Safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the queued outbound messages.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}
