// Package websocket fans committed monitoring events out to authorized
// guardian connections.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DaveCybr/couple-guard/pkg/auth"
	"github.com/DaveCybr/couple-guard/pkg/kafka"
	"github.com/DaveCybr/couple-guard/pkg/logging"
)

// AuthorizeFunc reports whether the viewer may observe the subject
type AuthorizeFunc func(ctx context.Context, viewerID, subjectID string) (bool, error)

// Hub maintains the set of active clients and routes monitoring events to
// the clients subscribed to each subject
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	jwtSecret  string
	authorize  AuthorizeFunc
	logger     logging.Logger
	mutex      sync.RWMutex
}

// Client represents one viewer WebSocket connection. The watch list is
// mutated by the read pump and read by the hub loop, so it sits behind its
// own mutex.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	viewerID string // set after a successful subscribe
	logger   logging.Logger

	mu       sync.Mutex
	subjects []string // subject IDs this viewer watches
}

// Message is a realtime frame sent to clients
type Message struct {
	Type      string                 `json:"type"`
	SubjectID string                 `json:"subject_id"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// SubscriptionMessage is a subscribe/unsubscribe request from a client. The
// token is validated and each subject checked against the pairing relation
// before any events flow.
type SubscriptionMessage struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Token    string   `json:"token"`
	Subjects []string `json:"subjects"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a WebSocket hub. The authorize func gates every subject
// subscription.
func NewHub(jwtSecret string, authorize AuthorizeFunc, logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		jwtSecret:  jwtSecret,
		authorize:  authorize,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_count": count,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_count": count,
			}).Info("Client disconnected")

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// broadcastMessage sends a frame to every client watching its subject
func (h *Hub) broadcastMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		h.logger.WithError(err).Error("Failed to unmarshal broadcast message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		if !client.watches(msg.SubjectID) {
			continue
		}

		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// PublishMonitoringEvent dispatches a committed pipeline event straight to
// connected viewers. In direct mode this is the event publisher; with Kafka
// in between, the consumer calls it for each record.
func (h *Hub) PublishMonitoringEvent(event *kafka.MonitoringEvent) error {
	message := Message{
		Type:      event.EventType,
		SubjectID: event.SubjectID,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}

	messageJSON, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- messageJSON:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
	return nil
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	subjectStats := make(map[string]int)
	for client := range h.clients {
		for _, subject := range client.watchedSubjects() {
			subjectStats[subject]++
		}
	}

	return map[string]interface{}{
		"total_clients":         len(h.clients),
		"subject_subscriptions": subjectStats,
	}
}

// ServeWS handles WebSocket upgrade requests from viewers
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: h.logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// readPump pumps subscription messages from the connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
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
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.logger.WithError(err).Warn("Invalid subscription message")
			continue
		}

		c.handleSubscription(&subMsg)
	}
}

// writePump pumps frames from the hub to the connection
func (c *Client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

func (c *Client) watches(subjectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, subject := range c.subjects {
		if subject == subjectID {
			return true
		}
	}
	return false
}

// addSubject appends the subject unless already watched
func (c *Client) addSubject(subjectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, subject := range c.subjects {
		if subject == subjectID {
			return
		}
	}
	c.subjects = append(c.subjects, subjectID)
}

func (c *Client) removeSubject(subjectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, subject := range c.subjects {
		if subject == subjectID {
			c.subjects = append(c.subjects[:i], c.subjects[i+1:]...)
			return
		}
	}
}

// watchedSubjects returns a snapshot of the watch list
func (c *Client) watchedSubjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subjects...)
}

// handleSubscription validates the token, authorizes each requested subject,
// and updates the client's watch list. Unauthorized subjects are rejected
// individually; the rest of the request still applies.
func (c *Client) handleSubscription(msg *SubscriptionMessage) {
	switch msg.Action {
	case "subscribe":
		claims, err := auth.ValidateJWT(msg.Token, []byte(c.hub.jwtSecret))
		if err != nil {
			c.sendMessage(map[string]interface{}{
				"type":    "subscription_rejected",
				"message": "invalid token",
			})
			return
		}
		c.viewerID = claims.UserID

		var granted, denied []string
		for _, subjectID := range msg.Subjects {
			ok, err := c.hub.authorize(context.Background(), c.viewerID, subjectID)
			if err != nil {
				c.logger.WithError(err).WithFields(logging.Fields{
					"viewer_id":  c.viewerID,
					"subject_id": subjectID,
				}).Error("Subscription authorization check failed")
				denied = append(denied, subjectID)
				continue
			}
			if !ok {
				denied = append(denied, subjectID)
				continue
			}
			c.addSubject(subjectID)
			granted = append(granted, subjectID)
		}

		c.logger.WithFields(logging.Fields{
			"viewer_id": c.viewerID,
			"granted":   granted,
			"denied":    denied,
		}).Info("Client subscribed to subjects")

		c.sendMessage(map[string]interface{}{
			"type":     "subscription_confirmed",
			"subjects": c.watchedSubjects(),
			"denied":   denied,
		})

	case "unsubscribe":
		for _, subjectID := range msg.Subjects {
			c.removeSubject(subjectID)
		}

		c.sendMessage(map[string]interface{}{
			"type":     "unsubscription_confirmed",
			"subjects": c.watchedSubjects(),
		})
	}
}

// sendMessage sends a control frame to the client
func (c *Client) sendMessage(data map[string]interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client message")
		return
	}

	select {
	case c.send <- message:
	default:
		close(c.send)
	}
}
