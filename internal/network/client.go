package network

import (
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/lifesupport/colony/server/internal/engine"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Command is an incoming request from a WebSocket client.
type Command struct {
	Type       string `json:"type"` // BUILD, TICK, SPEED, RESET, SNAPSHOT
	ID         string `json:"id,omitempty"`
	Building   string `json:"building,omitempty"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	IntervalMs int64  `json:"intervalMs,omitempty"`
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	remote  string
	limiter *rate.Limiter
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, conn *websocket.Conn, remote string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, hub.opts.ClientSendBuffer),
		remote:  remote,
		limiter: rate.NewLimiter(rate.Limit(hub.opts.ActionsPerSecond), hub.opts.ActionBurst),
	}
}

// Register adds the client to the hub. It returns false if the hub has
// already stopped.
func (c *Client) Register() bool {
	select {
	case c.hub.register <- c:
		return true
	case <-c.hub.done:
		return false
	}
}

// ReadPump pumps commands from the websocket connection to the engine.
// Replies go back to this client only; tick reports reach everyone through
// the hub.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.metrics.RecordWSError()
				c.hub.logger.Warn("websocket read failed", "remote", c.remote, "error", err)
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		var cmd Command
		if err := decodeValidated(commandValidator, message, &cmd); err != nil {
			c.hub.metrics.RecordWSError()
			c.hub.reply(c, Message{Type: MsgTypeError, Timestamp: time.Now().Unix(), Error: err.Error()})
			continue
		}

		c.handleCommand(cmd)
	}
}

func (c *Client) handleCommand(cmd Command) {
	now := time.Now().Unix()

	if !c.limiter.Allow() {
		c.hub.metrics.RecordRateLimited()
		c.hub.logger.Debug("websocket command rate limited", "remote", c.remote, "type", cmd.Type)
		c.hub.reply(c, Message{Type: MsgTypeError, ID: cmd.ID, Timestamp: now, Error: "rate limit exceeded"})
		return
	}

	eng := c.hub.engine
	switch cmd.Type {
	case "BUILD":
		report := eng.BuildFrom(engine.SourceWS, cmd.Building, cmd.X, cmd.Y)
		c.hub.reply(c, Message{Type: MsgTypeBuildResult, ID: cmd.ID, Timestamp: now, Payload: report})
	case "TICK":
		// The report itself reaches this client through the broadcast.
		report := eng.TickFrom(engine.SourceWS)
		c.hub.reply(c, Message{Type: MsgTypeAck, ID: cmd.ID, Timestamp: now, Payload: map[string]int{"tick": report.Tick}})
	case "SPEED":
		if c.hub.ticker == nil {
			c.hub.reply(c, Message{Type: MsgTypeError, ID: cmd.ID, Timestamp: now, Error: "tick scheduler not running"})
			return
		}
		effective := c.hub.ticker.SetSpeedFrom(engine.SourceWS, cmd.IntervalMs)
		c.hub.reply(c, Message{Type: MsgTypeSpeed, ID: cmd.ID, Timestamp: now, Payload: SpeedResponse{IntervalMs: effective, RequestedMs: &cmd.IntervalMs}})
	case "RESET":
		c.hub.reply(c, Message{Type: MsgTypeSnapshot, ID: cmd.ID, Timestamp: now, Payload: eng.ResetFrom(engine.SourceWS)})
	case "SNAPSHOT":
		c.hub.reply(c, Message{Type: MsgTypeSnapshot, ID: cmd.ID, Timestamp: now, Payload: eng.Snapshot()})
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.hub.metrics.RecordWSError()
				return
			}
			w.Write(message)
			c.hub.metrics.RecordWSMessage(false)

			// Add queued messages to the current websocket message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
				c.hub.metrics.RecordWSMessage(false)
			}

			if err := w.Close(); err != nil {
				c.hub.metrics.RecordWSError()
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
