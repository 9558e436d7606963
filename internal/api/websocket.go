package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terminail/autodroid-sub001/internal/device"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/config"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/logging"
	"github.com/terminail/autodroid-sub001/internal/results"
)

// Feed channels.
const (
	ChannelResults = results.ChannelResults
	ChannelDevices = "devices"
)

// feedChannels lists every channel a client may follow.
var feedChannels = []string{ChannelResults, ChannelDevices}

// wsSendBufferSize is the per-client outbound queue length. A client that
// falls this far behind loses events; the gap shows up in Seq.
const wsSendBufferSize = 256

// FeedEvent is one frame on the live feed.
type FeedEvent struct {
	Seq     uint64 `json:"seq"`
	Channel string `json:"channel"`
	At      string `json:"at"`
	Payload any    `json:"payload"`
}

// feedControl is the only frame a client sends: it replaces the set of
// channels the client follows.
type feedControl struct {
	Channels []string `json:"channels"`
}

// Hub fans fleet events out to WebSocket clients. The feed is one-way;
// clients only choose which channels they follow.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	seq    atomic.Uint64

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one feed subscriber.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	dropped atomic.Uint64

	mu       sync.RWMutex
	channels map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a feed hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// newClient builds a client following the given channels. Unknown channel
// names are skipped.
func (h *Hub) newClient(conn *websocket.Conn, channels []string) *WSClient {
	c := &WSClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	c.follow(channels)
	return c
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.drop(c)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("feed client connected", "clients", n)
}

// Unregister removes a client. Safe to call more than once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		h.drop(c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("feed client disconnected", "clients", n, "dropped_events", c.dropped.Load())
	}
}

// drop closes the client's queue; its writeLoop then closes the
// connection. Callers hold h.mu.
func (h *Hub) drop(c *WSClient) {
	delete(h.clients, c)
	close(c.send)
}

// Broadcast queues payload for every client following channel. Queues are
// only closed under the write lock, so offering under the read lock never
// hits a closed channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(FeedEvent{
		Seq:     h.seq.Add(1),
		Channel: channel,
		At:      time.Now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	})
	if err != nil {
		h.logger.Error("encoding feed event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.follows(channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			c.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DeviceEvent publishes a registry transition on the devices channel.
// Register it with device.Registry.OnChange.
func (h *Hub) DeviceEvent(ev device.Event) {
	h.Broadcast(ChannelDevices, map[string]any{
		"type":   ev.Type,
		"device": ev.Device,
		"at":     ev.At.UTC().Format(time.RFC3339Nano),
	})
}

// follow replaces the followed channels with the known ones in names.
func (c *WSClient) follow(names []string) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if slices.Contains(feedChannels, n) {
			set[n] = struct{}{}
		}
	}
	c.mu.Lock()
	c.channels = set
	c.mu.Unlock()
}

func (c *WSClient) follows(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// handleWebSocket upgrades to the live feed. ?channels=results,devices
// picks the initial channels; a {"channels": [...]} frame replaces them.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	var channels []string
	for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}

	hub := s.Hub()
	c := hub.newClient(conn, channels)
	hub.Register(c)

	t := newFeedTimings(s.wsCfg)
	go c.writeLoop(t)
	go c.readLoop(t)
}

// feedTimings holds the keepalive durations derived from config.
type feedTimings struct {
	ping      time.Duration
	readWait  time.Duration
	writeWait time.Duration
	maxFrame  int64
}

func newFeedTimings(cfg config.WebSocketConfig) feedTimings {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	return feedTimings{
		ping:      ping,
		readWait:  ping + pong,
		writeWait: pong,
		maxFrame:  int64(cfg.MaxMessageSize),
	}
}

// readLoop applies control frames until the connection fails.
func (c *WSClient) readLoop(t feedTimings) {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(t.maxFrame)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(t.readWait)) }
	//nolint:errcheck // Best-effort deadline
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("feed read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline
		extend("")

		var ctl feedControl
		if err := json.Unmarshal(data, &ctl); err != nil {
			c.hub.logger.Debug("ignoring malformed feed control frame", "error", err)
			continue
		}
		c.follow(ctl.Channels)
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (c *WSClient) writeLoop(t feedTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}
