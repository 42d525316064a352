package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"utp-reporta/core/metrics"
	"utp-reporta/core/utils"

	"github.com/gorilla/websocket"
)

var ErrSlowConsumer = errors.New("push buffer full")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type wsClient struct {
	conn     *websocket.Conn
	username string
	topics   []string
	send     chan []byte
	once     sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub keeps websocket subscribers indexed by user and by topic.
type Hub struct {
	mu       sync.RWMutex
	users    map[string]map[*wsClient]struct{}
	topics   map[string]map[*wsClient]struct{}
	upgrader websocket.Upgrader
	buffer   int
	metrics  *metrics.Metrics
	logger   *utils.Logger
}

func NewHub(buffer int, m *metrics.Metrics, logger *utils.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		users:  map[string]map[*wsClient]struct{}{},
		topics: map[string]map[*wsClient]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		metrics: m,
		logger:  logger,
	}
}

// Serve upgrades the request and subscribes the connection to the user channel,
// the user's mirror topic and any extra topics. It returns once the socket closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, username string, topics []string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	if username != "" {
		topics = append([]string{UserTopic(username)}, topics...)
	}
	c := &wsClient{
		conn:     conn,
		username: username,
		topics:   normalizeTopics(topics),
		send:     make(chan []byte, h.buffer),
	}
	h.register(c)
	go h.writeLoop(c)
	h.readLoop(c)
	return nil
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	if c.username != "" {
		if h.users[c.username] == nil {
			h.users[c.username] = map[*wsClient]struct{}{}
		}
		h.users[c.username][c] = struct{}{}
	}
	for _, t := range c.topics {
		if h.topics[t] == nil {
			h.topics[t] = map[*wsClient]struct{}{}
		}
		h.topics[t][c] = struct{}{}
	}
	h.mu.Unlock()
	h.metrics.PushClientsChanged(1)
	if h.logger != nil {
		h.logger.Printf("push: %s connected (%d topics)", c.username, len(c.topics))
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	removed := false
	if set, ok := h.users[c.username]; ok {
		if _, ok := set[c]; ok {
			removed = true
			delete(set, c)
			if len(set) == 0 {
				delete(h.users, c.username)
			}
		}
	}
	for _, t := range c.topics {
		if set, ok := h.topics[t]; ok {
			if _, ok := set[c]; ok {
				removed = true
				delete(set, c)
			}
			if len(set) == 0 {
				delete(h.topics, t)
			}
		}
	}
	h.mu.Unlock()
	c.close()
	if removed {
		h.metrics.PushClientsChanged(-1)
	}
}

func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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

// PushToUser queues env on every connection of username. Offline users are not an error.
func (h *Hub) PushToUser(ctx context.Context, username string, env Envelope) error {
	h.mu.RLock()
	targets := snapshot(h.users[username])
	h.mu.RUnlock()
	return h.deliver(ctx, ChannelPush, username, targets, env)
}

func (h *Hub) PushBroadcast(ctx context.Context, topic string, env Envelope) error {
	env.Topic = topic
	h.mu.RLock()
	targets := snapshot(h.topics[topic])
	h.mu.RUnlock()
	return h.deliver(ctx, ChannelBroadcast, topic, targets, env)
}

func (h *Hub) deliver(ctx context.Context, channel, recipient string, targets []*wsClient, env Envelope) error {
	if len(targets) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Channel: channel, Recipient: recipient, Err: err}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return &DeliveryError{Channel: channel, Recipient: recipient, Err: err}
	}
	var dropped int
	for _, c := range targets {
		if !h.enqueue(c, raw) {
			dropped++
		}
	}
	if dropped == len(targets) {
		return &DeliveryError{Channel: channel, Recipient: recipient, Err: ErrSlowConsumer}
	}
	return nil
}

func (h *Hub) enqueue(c *wsClient, raw []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// Subscribers counts the live connections of a user channel or topic.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if set, ok := h.users[key]; ok {
		return len(set)
	}
	return len(h.topics[key])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*wsClient
	for _, set := range h.users {
		all = append(all, snapshot(set)...)
	}
	for _, set := range h.topics {
		all = append(all, snapshot(set)...)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func snapshot(set map[*wsClient]struct{}) []*wsClient {
	out := make([]*wsClient, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func normalizeTopics(topics []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
