package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/voxdesk/internal/capture"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/pkg/logger"
)

// fakeSignaler records sent messages and lets the test inject inbound
// ones
type fakeSignaler struct {
	mu         sync.Mutex
	connectErr error
	peerID     string
	sent       []SignalMessage
	msgs       chan SignalMessage
	closed     bool
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{msgs: make(chan SignalMessage, 8)}
}

func (f *fakeSignaler) Connect(ctx context.Context, peerID string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.peerID = peerID
	if f.closed {
		f.msgs = make(chan SignalMessage, 8)
		f.closed = false
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) Send(msg SignalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignaler) Messages() <-chan SignalMessage {
	return f.msgs
}

func (f *fakeSignaler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.msgs)
	}
	return nil
}

func (f *fakeSignaler) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		types = append(types, m.Type)
	}
	return types
}

type fakeCallDevice struct{}

func (fakeCallDevice) Start(func(pcm []byte)) error { return nil }
func (fakeCallDevice) Stop() error                  { return nil }

type fakeCallOpener struct{}

func (fakeCallOpener) Open(capture.DeviceConfig) (capture.Device, error) {
	return fakeCallDevice{}, nil
}

func (fakeCallOpener) SupportedCodecs() []string { return []string{"audio/wav"} }

type callEvents struct {
	ready    chan string
	started  chan string
	incoming chan *IncomingCall
	ended    chan time.Duration
	errs     chan error
}

func newCallEvents() (*callEvents, Events) {
	ev := &callEvents{
		ready:    make(chan string, 1),
		started:  make(chan string, 1),
		incoming: make(chan *IncomingCall, 1),
		ended:    make(chan time.Duration, 1),
		errs:     make(chan error, 4),
	}
	return ev, Events{
		PeerReady:    func(peerID string) { ev.ready <- peerID },
		CallStart:    func(remotePeerID string, _ MediaStream) { ev.started <- remotePeerID },
		IncomingCall: func(call *IncomingCall) { ev.incoming <- call },
		CallEnded:    func(d time.Duration) { ev.ended <- d },
		Error:        func(err error) { ev.errs <- err },
	}
}

func newTestCallSession(t *testing.T, signaler Signaler) (*Session, *callEvents) {
	t.Helper()
	ev, events := newCallEvents()
	owner := capture.NewDeviceOwner(fakeCallOpener{})
	s := NewSession(config.CallConfig{Platform: "voxdesk"}, signaler, owner, events, logger.Nop())
	return s, ev
}

func waitEvent[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func expectNoEvent[T any](t *testing.T, ch chan T, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterEstablishesIdentity(t *testing.T) {
	sig := newFakeSignaler()
	s, ev := newTestCallSession(t, sig)
	defer s.Close()

	require.NoError(t, s.Register(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.NotEmpty(t, s.PeerID())
	assert.Equal(t, s.PeerID(), waitEvent(t, ev.ready, "peer ready"))
	assert.Equal(t, s.PeerID(), sig.peerID)
}

func TestRegisterFailure(t *testing.T) {
	sig := newFakeSignaler()
	sig.connectErr = errors.New("service unreachable")
	s, ev := newTestCallSession(t, sig)

	err := s.Register(context.Background())
	assert.ErrorIs(t, err, ErrRegistration)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.PeerID())
	waitEvent(t, ev.errs, "registration error")
}

func TestOutboundCallConnectsOnRemoteStream(t *testing.T) {
	sig := newFakeSignaler()
	s, ev := newTestCallSession(t, sig)
	defer s.Close()

	require.NoError(t, s.Register(context.Background()))
	waitEvent(t, ev.ready, "peer ready")

	require.NoError(t, s.StartCall("remote-1"))
	assert.Equal(t, StateDialing, s.State())
	assert.Equal(t, []string{"call"}, sig.sentTypes())

	// Acceptance alone does not connect: a stream from some other peer
	// is ignored
	sig.msgs <- SignalMessage{Type: SignalStream, From: "intruder"}
	expectNoEvent(t, ev.started, "call start from wrong peer")
	assert.NotEqual(t, StateConnected, s.State())

	// The expected remote's stream arrival is the connection point
	sig.msgs <- SignalMessage{Type: SignalStream, From: "remote-1"}
	assert.Equal(t, "remote-1", waitEvent(t, ev.started, "call start"))
	assert.Equal(t, StateConnected, s.State())

	s.EndCall()
	d := waitEvent(t, ev.ended, "call ended")
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, StateReady, s.State())
	assert.Contains(t, sig.sentTypes(), "end")
}

func TestAbortedDialProducesNoCallEnded(t *testing.T) {
	sig := newFakeSignaler()
	s, ev := newTestCallSession(t, sig)
	defer s.Close()

	require.NoError(t, s.Register(context.Background()))
	waitEvent(t, ev.ready, "peer ready")

	require.NoError(t, s.StartCall("remote-1"))
	s.EndCall()

	// The dial never reached Connected, so there is no duration to report
	expectNoEvent(t, ev.ended, "call ended")
	assert.Equal(t, StateReady, s.State())
}

func TestIncomingCallAnswerFlow(t *testing.T) {
	sig := newFakeSignaler()
	s, ev := newTestCallSession(t, sig)
	defer s.Close()

	require.NoError(t, s.Register(context.Background()))
	waitEvent(t, ev.ready, "peer ready")

	sig.msgs <- SignalMessage{Type: SignalCall, From: "caller-9"}
	incoming := waitEvent(t, ev.incoming, "incoming call")
	assert.Equal(t, "caller-9", incoming.From)
	assert.Equal(t, "audio", incoming.Kind)
	assert.Equal(t, StateRinging, s.State())

	require.NoError(t, s.AnswerCall())
	assert.Contains(t, sig.sentTypes(), "accept")
	assert.NotEqual(t, StateConnected, s.State(), "accepting is not connecting")

	sig.msgs <- SignalMessage{Type: SignalStream, From: "caller-9"}
	assert.Equal(t, "caller-9", waitEvent(t, ev.started, "call start"))
	assert.Equal(t, StateConnected, s.State())
}

func TestBusyDeclinesSecondCall(t *testing.T) {
	sig := newFakeSignaler()
	s, ev := newTestCallSession(t, sig)
	defer s.Close()

	require.NoError(t, s.Register(context.Background()))
	waitEvent(t, ev.ready, "peer ready")

	require.NoError(t, s.StartCall("remote-1"))

	sig.msgs <- SignalMessage{Type: SignalCall, From: "caller-9"}
	expectNoEvent(t, ev.incoming, "incoming call while busy")

	// The second caller gets an end so they do not ring forever
	require.Eventually(t, func() bool {
		sig.mu.Lock()
		defer sig.mu.Unlock()
		for _, m := range sig.sent {
			if m.Type == SignalEnd && m.To == "caller-9" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteEndTearsDown(t *testing.T) {
	sig := newFakeSignaler()
	s, ev := newTestCallSession(t, sig)
	defer s.Close()

	require.NoError(t, s.Register(context.Background()))
	waitEvent(t, ev.ready, "peer ready")

	require.NoError(t, s.StartCall("remote-1"))
	sig.msgs <- SignalMessage{Type: SignalStream, From: "remote-1"}
	waitEvent(t, ev.started, "call start")

	sig.msgs <- SignalMessage{Type: SignalEnd, From: "remote-1"}
	waitEvent(t, ev.ended, "call ended")
	assert.Equal(t, StateReady, s.State())
}

func TestDroppedConnectionEndsCall(t *testing.T) {
	sig := newFakeSignaler()
	s, ev := newTestCallSession(t, sig)

	require.NoError(t, s.Register(context.Background()))
	waitEvent(t, ev.ready, "peer ready")

	require.NoError(t, s.StartCall("remote-1"))
	sig.msgs <- SignalMessage{Type: SignalStream, From: "remote-1"}
	waitEvent(t, ev.started, "call start")

	// Losing the rendezvous connection behaves like an explicit end
	sig.Close()
	waitEvent(t, ev.ended, "call ended")

	s.Close()
	assert.Equal(t, StateIdle, s.State())
}

func TestSignalingDisconnectAllowsReregister(t *testing.T) {
	sig := newFakeSignaler()
	s, ev := newTestCallSession(t, sig)
	defer s.Close()

	require.NoError(t, s.Register(context.Background()))
	waitEvent(t, ev.ready, "peer ready")
	firstID := s.PeerID()

	// Losing the rendezvous connection with no call in flight must
	// return the session to idle, not strand it in ready with a dead
	// signaler
	sig.Close()
	require.Eventually(t, func() bool {
		return s.State() == StateIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.PeerID())

	// A fresh registration establishes a new identity
	require.NoError(t, s.Register(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.NotEmpty(t, s.PeerID())
	assert.NotEqual(t, firstID, s.PeerID())
	waitEvent(t, ev.ready, "peer ready after reconnect")
}

func TestCallReleasesSharedDevice(t *testing.T) {
	sig := newFakeSignaler()
	ev, events := newCallEvents()
	owner := capture.NewDeviceOwner(fakeCallOpener{})
	s := NewSession(config.CallConfig{Platform: "voxdesk"}, sig, owner, events, logger.Nop())
	defer s.Close()

	require.NoError(t, s.Register(context.Background()))
	waitEvent(t, ev.ready, "peer ready")

	require.NoError(t, s.StartCall("remote-1"))

	// The call holds the shared input device while active
	_, err := owner.Acquire(capture.DeviceConfig{SampleRate: 8000, Channels: 1})
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)

	s.EndCall()

	handle, err := owner.Acquire(capture.DeviceConfig{SampleRate: 8000, Channels: 1})
	require.NoError(t, err)
	handle.Release()
}

func TestStartCallRequiresReady(t *testing.T) {
	sig := newFakeSignaler()
	s, _ := newTestCallSession(t, sig)

	assert.Error(t, s.StartCall("remote-1"), "unregistered session cannot dial")
	assert.Error(t, s.AnswerCall(), "nothing to answer")
}
