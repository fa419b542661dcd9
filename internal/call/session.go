package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/voxdesk/internal/capture"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/pkg/logger"
)

// ErrRegistration indicates signaling identity setup failed
var ErrRegistration = errors.New("registration fault")

// State represents the call session state
type State int

const (
	StateIdle State = iota
	StateRegistering
	StateReady
	StateDialing
	StateRinging
	StateConnected
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistering:
		return "registering"
	case StateReady:
		return "ready"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// IncomingCall describes a call offer from a remote peer, held until
// answered or ended
type IncomingCall struct {
	From string
	Kind string // "audio" or "video"
}

// Events holds the callbacks the call session raises
type Events struct {
	PeerReady    func(peerID string)
	CallStart    func(remotePeerID string, stream MediaStream)
	IncomingCall func(call *IncomingCall)
	// CallEnded fires only if the call actually reached Connected; a
	// failed or aborted dial produces no duration and no event
	CallEnded func(duration time.Duration)
	Error     func(err error)
}

// Session is the peer-to-peer voice call state machine:
// Idle -> Registering -> Ready -> (Dialing|Ringing) -> Connected -> Idle.
// The session is Connected only once the remote stream is actually
// received, not when the call request is accepted, and duration
// accounting starts at that instant.
type Session struct {
	cfg      config.CallConfig
	signaler Signaler
	owner    *capture.DeviceOwner
	events   Events
	logger   *logger.Logger

	mu          sync.Mutex
	state       State
	peerID      string
	remoteID    string
	local       MediaStream
	remote      MediaStream
	pending     *IncomingCall
	connectedAt time.Time
	loopDone    chan struct{}
}

// NewSession creates a call session over the given signaler and device
// owner
func NewSession(cfg config.CallConfig, signaler Signaler, owner *capture.DeviceOwner, events Events, log *logger.Logger) *Session {
	return &Session{
		cfg:      cfg,
		signaler: signaler,
		owner:    owner,
		events:   events,
		logger:   log.Named("call"),
	}
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerID returns the locally generated peer identity, empty before
// registration
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Register establishes identity with the rendezvous service. On failure
// the session raises the error event and stays idle.
func (s *Session) Register(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("cannot register from state %s", s.state)
	}
	s.state = StateRegistering
	peerID := uuid.NewString()
	s.peerID = peerID
	s.mu.Unlock()

	if err := s.signaler.Connect(ctx, peerID); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.peerID = ""
		s.mu.Unlock()
		wrapped := fmt.Errorf("%w: %v", ErrRegistration, err)
		s.logger.Error("Signaling registration failed", logger.Error(err))
		s.emitError(wrapped)
		return wrapped
	}

	s.mu.Lock()
	s.state = StateReady
	s.loopDone = make(chan struct{})
	msgs := s.signaler.Messages()
	s.mu.Unlock()

	go s.messageLoop(msgs)

	s.logger.Info("Call session ready", logger.String("peer_id", peerID))

	if s.events.PeerReady != nil {
		s.events.PeerReady(peerID)
	}
	return nil
}

// StartCall places an outbound call to the remote peer. The local
// audio-only stream is acquired first; DeviceUnavailable surfaces if
// the capture session already holds the device.
func (s *Session) StartCall(remotePeerID string) error {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start call from state %s", state)
	}
	peerID := s.peerID
	s.mu.Unlock()

	local, err := s.acquireLocalStream(peerID)
	if err != nil {
		s.emitError(err)
		return err
	}

	if err := s.signaler.Send(SignalMessage{Type: SignalCall, From: peerID, To: remotePeerID}); err != nil {
		local.StopTracks()
		err = fmt.Errorf("failed to signal call: %w", err)
		s.emitError(err)
		return err
	}

	s.mu.Lock()
	s.state = StateDialing
	s.remoteID = remotePeerID
	s.local = local
	s.mu.Unlock()

	s.logger.Info("Dialing remote peer", logger.String("remote_peer_id", remotePeerID))
	return nil
}

// AnswerCall answers the pending incoming call, mirroring the outbound
// path: acquire the local stream, accept, then wait for the remote
// stream before the session counts as connected
func (s *Session) AnswerCall() error {
	s.mu.Lock()
	if s.state != StateRinging || s.pending == nil {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("no incoming call to answer in state %s", state)
	}
	peerID := s.peerID
	from := s.pending.From
	s.mu.Unlock()

	local, err := s.acquireLocalStream(peerID)
	if err != nil {
		s.emitError(err)
		return err
	}

	if err := s.signaler.Send(SignalMessage{Type: SignalAccept, From: peerID, To: from}); err != nil {
		local.StopTracks()
		err = fmt.Errorf("failed to signal accept: %w", err)
		s.emitError(err)
		return err
	}

	s.mu.Lock()
	s.remoteID = from
	s.local = local
	s.pending = nil
	s.mu.Unlock()

	s.logger.Info("Answered incoming call", logger.String("remote_peer_id", from))
	return nil
}

// acquireLocalStream acquires the shared audio input as the audio-only
// local stream
func (s *Session) acquireLocalStream(peerID string) (MediaStream, error) {
	handle, err := s.owner.Acquire(capture.DeviceConfig{
		SampleRate:       44100,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire local media stream: %w", err)
	}
	return &localStream{peerID: peerID, handle: handle}, nil
}

// messageLoop dispatches inbound signal messages until the service
// connection drops. A dropped connection ends any in-flight call like
// an explicit EndCall and then returns the session to idle, so a new
// Register can establish a fresh identity.
func (s *Session) messageLoop(msgs <-chan SignalMessage) {
	defer close(s.loopDone)

	for msg := range msgs {
		switch msg.Type {
		case SignalCall:
			s.handleIncomingCall(msg)
		case SignalStream:
			s.handleRemoteStream(msg)
		case SignalEnd:
			s.logger.Info("Remote peer ended call")
			s.teardown()
		case SignalError:
			s.logger.Warn("Signaling error", logger.String("from", msg.From))
		}
	}

	s.logger.Info("Signaling connection lost")
	s.teardown()

	s.mu.Lock()
	s.state = StateIdle
	s.peerID = ""
	s.loopDone = nil
	s.mu.Unlock()
}

func (s *Session) handleIncomingCall(msg SignalMessage) {
	s.mu.Lock()
	if s.state != StateReady {
		peerID := s.peerID
		s.mu.Unlock()
		// Busy: decline so the remote peer does not ring forever
		_ = s.signaler.Send(SignalMessage{Type: SignalEnd, From: peerID, To: msg.From})
		return
	}
	incoming := &IncomingCall{From: msg.From, Kind: "audio"}
	s.pending = incoming
	s.state = StateRinging
	s.mu.Unlock()

	s.logger.Info("Incoming call", logger.String("from", msg.From))

	if s.events.IncomingCall != nil {
		s.events.IncomingCall(incoming)
	}
}

// handleRemoteStream marks the call connected once the remote stream is
// actually received
func (s *Session) handleRemoteStream(msg SignalMessage) {
	s.mu.Lock()
	if s.state != StateDialing && s.state != StateRinging {
		s.mu.Unlock()
		return
	}
	if s.remoteID == "" || msg.From != s.remoteID {
		s.mu.Unlock()
		return
	}
	remote := &remoteStream{peerID: msg.From}
	s.remote = remote
	s.connectedAt = time.Now().UTC()
	s.state = StateConnected
	remoteID := s.remoteID
	s.mu.Unlock()

	s.logger.Info("Call connected", logger.String("remote_peer_id", remoteID))

	if s.events.CallStart != nil {
		s.events.CallStart(remoteID, remote)
	}
}

// EndCall ends the active call. Teardown is uniform regardless of
// cause: close the call, stop all tracks, clear device handles, and
// raise callEnded with the duration only if the session had actually
// reached Connected.
func (s *Session) EndCall() {
	s.mu.Lock()
	peerID := s.peerID
	remoteID := s.remoteID
	s.mu.Unlock()

	if remoteID != "" {
		// Best-effort notify; teardown proceeds regardless
		_ = s.signaler.Send(SignalMessage{Type: SignalEnd, From: peerID, To: remoteID})
	}

	s.teardown()
}

// teardown performs the uniform call teardown path
func (s *Session) teardown() {
	s.mu.Lock()
	local := s.local
	remote := s.remote
	connectedAt := s.connectedAt
	wasConnected := s.state == StateConnected
	hadCall := s.state == StateDialing || s.state == StateRinging || s.state == StateConnected

	s.local = nil
	s.remote = nil
	s.remoteID = ""
	s.pending = nil
	s.connectedAt = time.Time{}
	if hadCall {
		s.state = StateReady
	}
	s.mu.Unlock()

	if local != nil {
		local.StopTracks()
	}
	if remote != nil {
		remote.StopTracks()
	}

	if wasConnected {
		duration := time.Since(connectedAt)
		s.logger.Info("Call ended", logger.Duration("duration", duration))
		if s.events.CallEnded != nil {
			s.events.CallEnded(duration)
		}
	}
}

// Close disconnects from the rendezvous service and returns the session
// to idle. An in-flight call is torn down first.
func (s *Session) Close() {
	s.teardown()

	_ = s.signaler.Close()

	s.mu.Lock()
	loopDone := s.loopDone
	s.mu.Unlock()
	if loopDone != nil {
		<-loopDone
	}

	s.mu.Lock()
	s.state = StateIdle
	s.peerID = ""
	s.loopDone = nil
	s.mu.Unlock()
}

func (s *Session) emitError(err error) {
	if s.events.Error != nil {
		s.events.Error(err)
	}
}
