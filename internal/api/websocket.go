package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/foldwatch/internal/events"
	"grimm.is/foldwatch/internal/logging"
)

// TopicAll subscribes a feed client to every target.
const TopicAll = "*"

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin only, with localhost allowed for development proxies.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		if rest, ok := strings.CutPrefix(origin, "http://"); ok {
			return rest == r.Host
		}
		if rest, ok := strings.CutPrefix(origin, "https://"); ok {
			return rest == r.Host
		}
		return false
	},
}

// WSMessage is a topic-based message sent to clients. The topic is the
// target id the event concerns.
type WSMessage struct {
	Topic string       `json:"topic"`
	Event events.Event `json:"event"`
}

// wsClient represents a connected WebSocket client with subscriptions
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
}

func (c *wsClient) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[TopicAll] || c.topics[topic]
}

// WSManager forwards hub events to websocket clients by topic.
type WSManager struct {
	hub        *events.Hub
	logger     *logging.Logger
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mutex      sync.RWMutex
}

// NewWSManager creates a manager fed by hub. Run must be called to start
// forwarding.
func NewWSManager(hub *events.Hub, logger *logging.Logger) *WSManager {
	return &WSManager{
		hub:        hub,
		logger:     logger,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run forwards events until ctx is cancelled, then disconnects every client.
func (m *WSManager) Run(ctx context.Context) {
	feed := m.hub.Subscribe(512)
	defer m.hub.Unsubscribe(feed)
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			m.mutex.Lock()
			for client := range m.clients {
				delete(m.clients, client)
				close(client.send)
			}
			m.mutex.Unlock()
			return
		case client := <-m.register:
			m.mutex.Lock()
			m.clients[client] = true
			m.mutex.Unlock()
		case client := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
			}
			m.mutex.Unlock()
		case e, ok := <-feed:
			if !ok {
				return
			}
			m.Publish(e.Target, e)
		}
	}
}

// Publish sends e to every client subscribed to topic.
func (m *WSManager) Publish(topic string, e events.Event) {
	msgBytes, err := json.Marshal(WSMessage{Topic: topic, Event: e})
	if err != nil {
		m.logger.Warn("failed to encode feed event", "type", e.Type, "error", err)
		return
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for client := range m.clients {
		if !client.subscribed(topic) {
			continue
		}
		select {
		case client.send <- msgBytes:
		default:
			// Client buffer full, skip
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *WSManager) ClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// readPump handles subscription messages from a client:
// {"action":"subscribe","topics":["desktop"]}.
func (c *wsClient) readPump(m *WSManager) {
	defer func() {
		select {
		case m.unregister <- c:
		case <-m.done:
		}
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Action string   `json:"action"`
			Topics []string `json:"topics"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		c.mu.Lock()
		switch msg.Action {
		case "subscribe":
			for _, topic := range msg.Topics {
				c.topics[topic] = true
			}
		case "unsubscribe":
			for _, topic := range msg.Topics {
				delete(c.topics, topic)
			}
		}
		c.mu.Unlock()
	}
}

// writePump sends messages to the client
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(time.Second))
}

// handleWS upgrades to the live event feed. Initial topics may be given as
// ?topic=a&topic=b.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		topics: make(map[string]bool),
		send:   make(chan []byte, 256),
	}
	for _, topic := range r.URL.Query()["topic"] {
		client.topics[topic] = true
	}

	select {
	case s.wsManager.register <- client:
	case <-s.wsManager.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s.wsManager)
}
