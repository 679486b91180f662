package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/flightfusion/internal/correlation"
	"github.com/yegors/flightfusion/internal/enrichment"
	"github.com/yegors/flightfusion/pkg/logger"
)

// Message types
const (
	MessageTypeSnapshot        = "snapshot"
	MessageTypeSnapshotRequest = "snapshot_request" // Client asks for the latest snapshot
	MessageTypeFilterUpdate    = "filter_update"    // Client sends filter preferences
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// ClientFilters narrows which flights a client receives
type ClientFilters struct {
	Statuses      map[correlation.Status]bool `json:"statuses"`
	MaxDistanceKm float64                     `json:"max_distance_km"`
}

// Client represents a WebSocket client
type Client struct {
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	filters   *ClientFilters
}

// Server fans snapshots out to connected WebSocket clients
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
	latest     func() *enrichment.Snapshot
}

// NewServer creates a new WebSocket server. latest supplies the snapshot returned on
// request; it may be nil.
func NewServer(latest func() *enrichment.Snapshot, log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.Named("web-socket"),
		latest: latest,
	}
}

// ClientCount returns the number of registered clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run serves the hub until ctx is cancelled, then disconnects every client
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket server")
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				client.markClosed()
			}
			s.mu.Unlock()
			s.logger.Info("WebSocket server stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.markClosed()
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.mu.RLock()
			clientsToRemove := make([]*Client, 0)
			for client := range s.clients {
				if !client.SendMessage(client.filterMessage(message)) {
					clientsToRemove = append(clientsToRemove, client)
				}
			}
			s.mu.RUnlock()

			if len(clientsToRemove) > 0 {
				s.mu.Lock()
				for _, client := range clientsToRemove {
					if _, ok := s.clients[client]; ok {
						delete(s.clients, client)
						client.markClosed()
					}
				}
				s.mu.Unlock()
				s.logger.Warn("Dropped slow clients", logger.Int("count", len(clientsToRemove)))
			}
		}
	}
}

// HandleConnection upgrades the request and starts the client's pumps
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan *Message, sendBuffer),
		server:    s,
		closeChan: make(chan struct{}),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast sends a message to every connected client. It returns without sending
// once the hub has stopped.
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
	case <-s.done:
	}
}

// PublishSnapshot broadcasts a snapshot; it has the signature of an enrichment listener
func (s *Server) PublishSnapshot(snap *enrichment.Snapshot) {
	if snap == nil {
		return
	}
	s.Broadcast(SnapshotMessage(snap))
}

// SnapshotMessage builds the wire message for a snapshot
func SnapshotMessage(snap *enrichment.Snapshot) *Message {
	return &Message{
		Type: MessageTypeSnapshot,
		Data: map[string]any{
			"id":           snap.ID,
			"generated_at": snap.GeneratedAt,
			"flight_count": len(snap.Flights),
			"demo":         snap.Demo,
			"flights":      snap.Flights,
			"board":        snap.Board,
		},
	}
}

// handleMessage dispatches one incoming message
func (s *Server) handleMessage(c *Client, messageType string, data map[string]any) error {
	switch messageType {
	case MessageTypeFilterUpdate:
		filters, err := parseFilters(data)
		if err != nil {
			return err
		}
		c.UpdateFilters(filters)
		return nil

	case MessageTypeSnapshotRequest:
		if s.latest == nil {
			return nil
		}
		snap := s.latest()
		if snap == nil {
			return nil
		}
		c.SendMessage(c.filterMessage(SnapshotMessage(snap)))
		return nil

	default:
		return fmt.Errorf("unsupported message type: %s", messageType)
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Error("Failed to parse WebSocket message", logger.Error(err))
			continue
		}

		if err := c.server.handleMessage(c, message.Type, message.Data); err != nil {
			c.server.logger.Error("Failed to handle WebSocket message",
				logger.Error(err),
				logger.String("type", message.Type))
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
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
			if err := c.conn.WriteJSON(message); err != nil {
				c.server.logger.Debug("Failed to write message", logger.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// markClosed closes the send channel once; the write pump then sends a close frame
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeChan:
	default:
		close(c.closeChan)
	}
	c.conn.Close()
}

// SendMessage queues a message for this client without blocking. It returns false when
// the client is closed or its buffer is full.
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// UpdateFilters replaces the client's filters; nil clears them
func (c *Client) UpdateFilters(filters *ClientFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = filters
}

// GetFilters returns a copy of the client's current filters
func (c *Client) GetFilters() *ClientFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filters == nil {
		return nil
	}
	filtersCopy := &ClientFilters{
		Statuses:      make(map[correlation.Status]bool, len(c.filters.Statuses)),
		MaxDistanceKm: c.filters.MaxDistanceKm,
	}
	for status, enabled := range c.filters.Statuses {
		filtersCopy.Statuses[status] = enabled
	}
	return filtersCopy
}

// MatchesFilters reports whether a flight passes the client's filters
func (c *Client) MatchesFilters(f enrichment.Flight) bool {
	filters := c.GetFilters()
	if filters == nil {
		return true
	}
	if len(filters.Statuses) > 0 && !filters.Statuses[f.Status] {
		return false
	}
	if filters.MaxDistanceKm > 0 && f.DistanceKm != nil && *f.DistanceKm > filters.MaxDistanceKm {
		return false
	}
	return true
}

// filterMessage returns the message as this client should see it. Only snapshot
// messages are filtered; the original is never modified.
func (c *Client) filterMessage(message *Message) *Message {
	if message.Type != MessageTypeSnapshot || c.GetFilters() == nil {
		return message
	}
	flights, ok := message.Data["flights"].([]enrichment.Flight)
	if !ok {
		return message
	}

	kept := make([]enrichment.Flight, 0, len(flights))
	for _, f := range flights {
		if c.MatchesFilters(f) {
			kept = append(kept, f)
		}
	}

	data := make(map[string]any, len(message.Data))
	for k, v := range message.Data {
		data[k] = v
	}
	data["flights"] = kept
	data["flight_count"] = len(kept)
	return &Message{Type: message.Type, Data: data}
}

// parseFilters reads {"statuses": [...], "max_distance_km": n}. Unknown statuses are
// rejected; an empty payload clears the filters.
func parseFilters(data map[string]any) (*ClientFilters, error) {
	if len(data) == 0 {
		return nil, nil
	}

	filters := &ClientFilters{Statuses: make(map[correlation.Status]bool)}

	if raw, ok := data["statuses"].([]any); ok {
		for _, v := range raw {
			name, _ := v.(string)
			status := correlation.Status(strings.ToUpper(strings.TrimSpace(name)))
			if !status.Valid() {
				return nil, fmt.Errorf("unknown status filter: %v", v)
			}
			filters.Statuses[status] = true
		}
	}

	if d, ok := data["max_distance_km"].(float64); ok {
		if d < 0 {
			return nil, fmt.Errorf("max_distance_km must not be negative: %v", d)
		}
		filters.MaxDistanceKm = d
	}

	return filters, nil
}
