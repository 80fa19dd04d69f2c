package collab

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Capability is the immutable access context attached to a connection at
// handshake time.
type Capability struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	IsOwner     bool
	CanEdit     bool
}

func (c Capability) User() UserPayload {
	return UserPayload{
		ID:          c.UserID,
		DisplayName: c.DisplayName,
		AvatarURL:   c.AvatarURL,
		IsOwner:     c.IsOwner,
	}
}

// Client is one websocket connection. Outbound messages go through a
// buffered channel drained by writePump; a client that cannot keep up is
// dropped rather than allowed to stall a room.
type Client struct {
	ID      string
	VaultID string
	Cap     Capability

	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	subs      map[string]bool
	closed    bool
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, vaultID string, capability Capability) *Client {
	return &Client{
		ID:      uuid.NewString(),
		VaultID: vaultID,
		Cap:     capability,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		subs:    make(map[string]bool),
	}
}

// Send queues msg for delivery. Returns false when the client is closed or
// its buffer is full; the caller treats both as a dead client.
func (c *Client) Send(msg []byte) bool {
	// The lock spans the channel send so close() cannot close the channel
	// underneath a concurrent sender.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// addSub records a document subscription; returns false if already present.
func (c *Client) addSub(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[docID] {
		return false
	}
	c.subs[docID] = true
	return true
}

func (c *Client) hasSub(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[docID]
}

func (c *Client) removeSub(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.subs[docID] {
		return false
	}
	delete(c.subs, docID)
	return true
}

func (c *Client) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	return out
}

// readPump delivers inbound frames to handle until the connection dies,
// then calls done exactly once.
func (c *Client) readPump(handle func(Frame), done func()) {
	defer func() {
		done()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("collab: client %s read error: %v", c.ID, err)
			}
			return
		}
		handle(frame)
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *Client) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
