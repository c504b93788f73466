package network

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/platform/logger"
	"github.com/lifesupport/colony/server/internal/platform/metrics"
)

// Message types sent to WebSocket clients.
const (
	MsgTypeTick        = "TICK"
	MsgTypeBuildResult = "BUILD_RESULT"
	MsgTypeSnapshot    = "SNAPSHOT"
	MsgTypeSpeed       = "SPEED"
	MsgTypeAck         = "ACK"
	MsgTypeError       = "ERROR"
)

// Message is the envelope for every server-to-client frame.
type Message struct {
	Type      string      `json:"type"`
	ID        string      `json:"id,omitempty"` // Echoes the command id
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// HubOptions tunes a Hub. Zero values fall back to defaults.
type HubOptions struct {
	MaxClients       int
	ClientSendBuffer int
	ActionsPerSecond float64
	ActionBurst      int
	// TickBuffer is how many tick reports the hub may lag behind the
	// engine before its subscription is dropped.
	TickBuffer int
}

type reply struct {
	client  *Client
	payload []byte
}

// Hub maintains the set of active clients and fans tick reports out to
// them. Only Run writes to or closes a client's send channel.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	replies    chan reply
	done       chan struct{}
	mu         sync.Mutex

	engine  *engine.Engine
	ticker  *engine.Ticker
	opts    HubOptions
	logger  *logger.Logger
	metrics *metrics.Collector
}

// NewHub initializes a new WebSocket Hub for the engine. t may be nil, in
// which case SPEED commands are rejected.
func NewHub(e *engine.Engine, t *engine.Ticker, opts HubOptions, log *logger.Logger, m *metrics.Collector) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	if m == nil {
		m = metrics.New()
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = 200
	}
	if opts.ClientSendBuffer <= 0 {
		opts.ClientSendBuffer = 256
	}
	if opts.ActionsPerSecond <= 0 {
		opts.ActionsPerSecond = 10
	}
	if opts.ActionBurst <= 0 {
		opts.ActionBurst = 20
	}
	if opts.TickBuffer <= 0 {
		opts.TickBuffer = 1024
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replies:    make(chan reply, 64),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		engine:     e,
		ticker:     t,
		opts:       opts,
		logger:     log,
		metrics:    m,
	}
}

// Run starts the Hub's main loop. It subscribes to the engine's tick
// reports and returns when ctx is cancelled, disconnecting every client.
// If the hub falls so far behind that the engine drops its subscription,
// every client is disconnected and the hub subscribes again, so clients
// that reconnect see ticks without a gap in the middle of their stream.
func (h *Hub) Run(ctx context.Context) {
	sub := h.engine.SubscribeBuffered(h.opts.TickBuffer)
	defer func() { sub.Cancel() }()
	ticks := sub.C

	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub shutting down", "clients", h.ClientCount())
			return
		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.opts.MaxClients {
				h.mu.Unlock()
				close(client.send)
				h.metrics.RecordWSError()
				h.logger.Warn("websocket client rejected: hub full", "max_clients", h.opts.MaxClients)
				continue
			}
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Info("websocket client connected", "remote", client.remote)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWSConnection(-1)
				h.logger.Info("websocket client disconnected", "remote", client.remote)
			}
			h.mu.Unlock()
		case report, ok := <-ticks:
			if !ok {
				if !sub.Dropped() || ctx.Err() != nil {
					h.logger.Warn("tick stream closed; hub keeps serving commands")
					ticks = nil
					continue
				}
				h.logger.Warn("tick relay fell behind; disconnecting clients and resubscribing",
					"clients", h.ClientCount(), "tick_buffer", h.opts.TickBuffer)
				h.closeAll()
				sub = h.engine.SubscribeBuffered(h.opts.TickBuffer)
				ticks = sub.C
				continue
			}
			h.fanOut(h.encode(Message{Type: MsgTypeTick, Timestamp: report.Timestamp.Unix(), Payload: report}))
		case r := <-h.replies:
			h.mu.Lock()
			if _, ok := h.clients[r.client]; ok {
				h.sendLocked(r.client, r.payload)
			}
			h.mu.Unlock()
		}
	}
}

// fanOut queues message for every client; a client whose queue is full is
// disconnected.
func (h *Hub) fanOut(message []byte) {
	if message == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.sendLocked(client, message)
	}
}

func (h *Hub) sendLocked(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		close(client.send)
		delete(h.clients, client)
		h.metrics.RecordWSConnection(-1)
		h.metrics.RecordWSError()
		h.logger.Warn("websocket client dropped: send buffer full", "remote", client.remote)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		h.metrics.RecordWSConnection(-1)
	}
}

func (h *Hub) encode(m Message) []byte {
	payload, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("failed to encode websocket message", "type", m.Type, "error", err)
		return nil
	}
	return payload
}

// reply queues a message for one client only.
func (h *Hub) reply(c *Client, m Message) {
	payload := h.encode(m)
	if payload == nil {
		return
	}
	select {
	case h.replies <- reply{client: c, payload: payload}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser dashboards are served from other origins
	},
}

// ServeWS handles websocket requests from the peer.
// GET /ws
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordWSError()
		h.logger.Error("failed to upgrade websocket connection", "error", err)
		return
	}

	client := NewClient(h, conn, remoteIP(r))
	if !client.Register() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.WritePump()
	go client.ReadPump()
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.ServeWS)
}
