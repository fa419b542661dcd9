package callcenter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/voxdesk/internal/call"
	"github.com/yegors/voxdesk/internal/capture"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/internal/transcription"
	"github.com/yegors/voxdesk/pkg/logger"
)

// recordingSink captures published events in order and runs an optional
// probe at publish time, which is how the tests pin down sequencing
// guarantees
type recordingSink struct {
	mu     sync.Mutex
	events []string
	data   map[string]map[string]any
	probe  func(event string)
	wake   chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		data: make(map[string]map[string]any),
		wake: make(chan string, 32),
	}
}

func (s *recordingSink) Publish(event string, data map[string]any) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.data[event] = data
	probe := s.probe
	s.mu.Unlock()
	if probe != nil {
		probe(event)
	}
	s.wake <- event
}

func (s *recordingSink) waitFor(t *testing.T, event string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		for _, e := range s.events {
			if e == event {
				data := s.data[event]
				s.mu.Unlock()
				return data
			}
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", event)
		}
	}
}

func (s *recordingSink) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.events...)
}

// fakeInputDevice feeds PCM pushed by the test
type fakeInputDevice struct {
	mu     sync.Mutex
	onData func(pcm []byte)
}

func (d *fakeInputDevice) Start(onData func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onData = onData
	return nil
}

func (d *fakeInputDevice) Stop() error { return nil }

func (d *fakeInputDevice) push(pcm []byte) {
	d.mu.Lock()
	onData := d.onData
	d.mu.Unlock()
	if onData != nil {
		onData(pcm)
	}
}

type fakeInputOpener struct {
	device *fakeInputDevice
}

func (o *fakeInputOpener) Open(capture.DeviceConfig) (capture.Device, error) {
	return o.device, nil
}

func (o *fakeInputOpener) SupportedCodecs() []string { return []string{"audio/wav"} }

// scriptedRecognizer emits one fixed final segment per run and holds
// the run open until the session cancels it
type scriptedRecognizer struct {
	segment string
}

func (r *scriptedRecognizer) Listen(ctx context.Context) (<-chan transcription.Result, func(), error) {
	out := make(chan transcription.Result, 1)
	out <- transcription.Result{Text: r.segment, Final: true}
	stop := func() {}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, stop, nil
}

func (r *scriptedRecognizer) WriteAudio([]byte) error { return nil }

type serviceSignaler struct {
	mu   sync.Mutex
	sent []call.SignalMessage
	msgs chan call.SignalMessage
}

func newServiceSignaler() *serviceSignaler {
	return &serviceSignaler{msgs: make(chan call.SignalMessage, 8)}
}

func (f *serviceSignaler) Connect(ctx context.Context, peerID string) error { return nil }

func (f *serviceSignaler) Send(msg call.SignalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *serviceSignaler) Messages() <-chan call.SignalMessage { return f.msgs }

func (f *serviceSignaler) Close() error {
	close(f.msgs)
	return nil
}

func testServiceConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Capture.SampleRate = 8000
	cfg.Capture.Channels = 1
	cfg.Capture.TickIntervalMs = 10
	cfg.Capture.CodecPreferences = []string{"audio/wav"}
	cfg.Transcription.RestartDelayMs = 1
	return cfg
}

type serviceFixture struct {
	service  *Service
	store    *sqlite.Store
	sink     *recordingSink
	device   *fakeInputDevice
	signaler *serviceSignaler
}

func newServiceFixture(t *testing.T, cfg *config.Config) *serviceFixture {
	t.Helper()

	store, err := sqlite.NewStore(":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	device := &fakeInputDevice{}
	sink := newRecordingSink()
	signaler := newServiceSignaler()

	service := NewService(cfg, Deps{
		Store:       store,
		DeviceOwner: capture.NewDeviceOwner(&fakeInputOpener{device: device}),
		Recognizer:  &scriptedRecognizer{segment: "hello world"},
		Signaler:    signaler,
		Sink:        sink,
	}, logger.Nop())
	t.Cleanup(service.Close)

	return &serviceFixture{
		service:  service,
		store:    store,
		sink:     sink,
		device:   device,
		signaler: signaler,
	}
}

func TestRecordingLifecycleAttachesTranscriptBeforeNotify(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())

	// Probe the store at the instant recordingStop is published: the
	// transcript must already be attached by then
	transcriptAtStop := make(chan string, 1)
	f.sink.probe = func(event string) {
		if event != EventRecordingStop {
			return
		}
		records, err := f.store.ListRecordings()
		if err == nil && len(records) == 1 {
			transcriptAtStop <- records[0].LiveTranscript
		} else {
			transcriptAtStop <- ""
		}
	}

	require.True(t, f.service.StartRecording("Acme Corp"))
	f.sink.waitFor(t, EventRecordingStart)

	// Wait until the live strategy has consumed the scripted segment
	f.sink.waitFor(t, EventTranscriptionUpdate)

	// Two seconds of 8kHz mono PCM16
	f.device.push(make([]byte, 16000))
	f.device.push(make([]byte, 16000))

	require.True(t, f.service.StopRecording())
	stopData := f.sink.waitFor(t, EventRecordingStop)

	assert.Equal(t, "Acme Corp", stopData["contactName"])
	assert.Equal(t, 2.0, stopData["duration"])

	select {
	case text := <-transcriptAtStop:
		assert.Equal(t, "hello world", text)
	case <-time.After(time.Second):
		t.Fatal("recordingStop published without the store probe firing")
	}

	records, err := f.service.GetAllAudioRecordings()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hello world", records[0].LiveTranscript)
	assert.Equal(t, "Acme Corp", records[0].ContactName)
}

func TestCallEndAppendsOneHistoryEntryBeforeNotify(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())

	// Probe the history log at the instant callEnd is published
	historyAtEnd := make(chan int, 1)
	f.sink.probe = func(event string) {
		if event != EventCallEnd {
			return
		}
		entries, err := f.service.CallHistory()
		if err != nil {
			historyAtEnd <- -1
			return
		}
		historyAtEnd <- len(entries)
	}

	f.service.SetCurrentContact("Acme Corp")

	require.NoError(t, f.service.RegisterCallSession(context.Background()))
	f.sink.waitFor(t, EventPeerReady)

	require.NoError(t, f.service.StartCall("remote-1"))
	f.signaler.msgs <- call.SignalMessage{Type: call.SignalStream, From: "remote-1"}
	f.sink.waitFor(t, EventCallStart)

	f.service.EndCall()
	f.sink.waitFor(t, EventCallEnd)

	select {
	case n := <-historyAtEnd:
		assert.Equal(t, 1, n, "history entry must exist when callEnd is published")
	case <-time.After(time.Second):
		t.Fatal("callEnd published without the history probe firing")
	}

	entries, err := f.service.CallHistory()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Acme Corp", entries[0].ContactName)
	assert.Equal(t, "audio", entries[0].CallType)
	assert.Equal(t, "voxdesk", entries[0].Platform)

	// A second EndCall is a no-op: still exactly one entry
	f.service.EndCall()
	entries, err = f.service.CallHistory()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAbortedDialLeavesNoHistory(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())

	require.NoError(t, f.service.RegisterCallSession(context.Background()))
	f.sink.waitFor(t, EventPeerReady)

	require.NoError(t, f.service.StartCall("remote-1"))
	f.service.EndCall()

	// Give any stray event a moment to surface
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, f.sink.seen(), EventCallEnd)

	entries, err := f.service.CallHistory()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordingWhileCallHoldsDevice(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())

	require.NoError(t, f.service.RegisterCallSession(context.Background()))
	f.sink.waitFor(t, EventPeerReady)
	require.NoError(t, f.service.StartCall("remote-1"))

	// The call holds the single shared input device; capture acquisition
	// fails asynchronously
	require.True(t, f.service.StartRecording("Acme Corp"))
	errData := f.sink.waitFor(t, EventRecordingError)
	assert.Contains(t, errData["error"], "unavailable")
}

func TestCurrentContactDefaultsToUnknown(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())

	assert.Equal(t, UnknownContact, f.service.CurrentContact())
	f.service.SetCurrentContact("Acme Corp")
	assert.Equal(t, "Acme Corp", f.service.CurrentContact())
	f.service.SetCurrentContact("")
	assert.Equal(t, UnknownContact, f.service.CurrentContact())
}
