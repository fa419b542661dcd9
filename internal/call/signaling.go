package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/pkg/logger"
)

// SignalMessage is one message exchanged with the rendezvous service
type SignalMessage struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Signal message types
const (
	SignalRegister   = "register"
	SignalRegistered = "registered"
	SignalCall       = "call"
	SignalAccept     = "accept"
	SignalStream     = "stream"
	SignalEnd        = "end"
	SignalError      = "error"
)

// Signaler exchanges connection setup messages with the rendezvous
// service. A closed Messages channel means the service connection is
// gone, which call sessions treat identically to an explicit end.
type Signaler interface {
	// Connect registers the given peer identity with the service and
	// blocks until the registration is acknowledged or fails
	Connect(ctx context.Context, peerID string) error
	Send(msg SignalMessage) error
	Messages() <-chan SignalMessage
	Close() error
}

// WSSignaler is a Signaler over a websocket connection to the
// rendezvous service
type WSSignaler struct {
	cfg    config.CallConfig
	logger *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	msgs   chan SignalMessage
	closed bool
}

// NewWSSignaler creates a websocket signaler for the configured
// rendezvous service
func NewWSSignaler(cfg config.CallConfig, log *logger.Logger) *WSSignaler {
	return &WSSignaler{
		cfg:    cfg,
		logger: log.Named("signaling"),
	}
}

// Connect dials the rendezvous service, registers the peer identity and
// waits for the acknowledgement
func (s *WSSignaler) Connect(ctx context.Context, peerID string) error {
	timeout := time.Duration(s.cfg.RegisterTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.SignalingURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial signaling service: %w", err)
	}

	if err := conn.WriteJSON(SignalMessage{Type: SignalRegister, From: peerID}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send registration: %w", err)
	}

	// Wait for the registration acknowledgement before handing the
	// connection over to the read pump
	conn.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
	var ack SignalMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read registration ack: %w", err)
	}
	if ack.Type != SignalRegistered {
		conn.Close()
		return fmt.Errorf("unexpected registration response: %s", ack.Type)
	}
	conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	s.mu.Lock()
	s.conn = conn
	s.msgs = make(chan SignalMessage, 16)
	s.closed = false
	s.mu.Unlock()

	go s.readPump(conn)
	go s.pingLoop(conn)

	s.logger.Info("Registered with signaling service",
		logger.String("peer_id", peerID))

	return nil
}

// readPump reads signal messages until the connection drops
func (s *WSSignaler) readPump(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		msgs := s.msgs
		s.msgs = nil
		s.mu.Unlock()
		if msgs != nil {
			close(msgs)
		}
	}()

	for {
		var msg SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("Signaling connection closed", logger.Error(err))
			return
		}

		s.mu.Lock()
		msgs := s.msgs
		s.mu.Unlock()
		if msgs == nil {
			return
		}
		msgs <- msg
	}
}

// pingLoop keeps the connection alive
func (s *WSSignaler) pingLoop(conn *websocket.Conn) {
	interval := time.Duration(s.cfg.PingIntervalSec) * time.Second
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		closed := s.closed || s.conn != conn
		s.mu.Unlock()
		if closed {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}

// Send sends one signal message
func (s *WSSignaler) Send(msg SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.closed {
		return fmt.Errorf("signaling connection not established")
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send signal message: %w", err)
	}
	return nil
}

// Messages returns the inbound message channel for the current
// connection
func (s *WSSignaler) Messages() <-chan SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs
}

// Close tears down the connection. Idempotent and best-effort.
func (s *WSSignaler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
	return nil
}
