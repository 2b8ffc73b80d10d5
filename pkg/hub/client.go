package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-proctor/pkg/protocol"
)

// Dashboard connection timing
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4 * 1024            // dashboards only send pings
	sendBuffer     = 256
	replyBuffer    = 8
)

// Client is one dashboard watching a room.
// Only writePump writes to conn once Run has been called.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message // broadcasts; closed by the hub

	// Replies to this dashboard alone. Never closed, so readPump can
	// write to it after the hub has let go of the client.
	replies chan Message
}

// NewClient joins conn to hub. The connection may be written to directly
// until Run is called, e.g. to send the current session state.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, sendBuffer),
		replies: make(chan Message, replyBuffer),
	}
	hub.join(c)
	return c
}

// Run pumps messages until the dashboard disconnects or the hub stops
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// reply queues msg for this client only. It never blocks.
func (c *Client) reply(msg Message) bool {
	select {
	case c.replies <- msg:
		return true
	default:
		return false
	}
}

// readPump detects disconnects and answers protocol pings
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.hub.logger.Debug("ignoring dashboard message", "error", err)
		return
	}
	if msg.Type != protocol.TypePing {
		return
	}

	ping, err := msg.GetPingData()
	if err != nil {
		return
	}
	pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return
	}
	pong.Room = c.hub.Name()
	env, err := NewEnvelope(pong)
	if err != nil {
		return
	}
	if !c.reply(env) {
		c.hub.logger.Debug("pong dropped, reply buffer full")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub stopped or dropped us
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(frameType(msg), msg.Data); err != nil {
				return
			}

		case msg := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType(msg), msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func frameType(msg Message) int {
	if msg.Type == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
