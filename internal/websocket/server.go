package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Message is one event broadcast to connected clients
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Server broadcasts core events to websocket clients. External
// collaborators (the UI layer) consume the event surface through it.
type Server struct {
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client is one connected websocket consumer
type client struct {
	conn *websocket.Conn
	send chan *Message
}

// NewServer creates a new broadcast server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  log.Named("websocket"),
		clients: make(map[*client]struct{}),
	}
}

// HandleWS upgrades an HTTP request and registers the client
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade websocket connection", logger.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan *Message, 64),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug("Websocket client connected",
		logger.String("remote_addr", r.RemoteAddr),
		logger.Int("clients", count))

	go s.writePump(c)
	go s.readPump(c)
}

// Broadcast sends one message to every connected client. Slow clients
// are dropped rather than blocking the broadcaster.
func (s *Server) Broadcast(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Warn("Dropping slow websocket client")
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// writePump drains the client's send queue onto the wire
func (s *Server) writePump(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
		if err := c.conn.WriteJSON(msg); err != nil {
			s.logger.Debug("Websocket write failed", logger.Error(err))
			s.remove(c)
			return
		}
	}
}

// readPump discards inbound messages and detects disconnects
func (s *Server) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.remove(c)
			return
		}
	}
}

// remove unregisters a client if still present
func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Close disconnects every client
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		close(c.send)
		c.conn.Close()
		delete(s.clients, c)
	}
}
