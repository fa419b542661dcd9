package capture

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/pkg/logger"
)

// fakeDevice delivers PCM frames pushed by the test
type fakeDevice struct {
	mu      sync.Mutex
	onData  func(pcm []byte)
	stopped bool
}

func (d *fakeDevice) Start(onData func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onData = onData
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *fakeDevice) push(pcm []byte) {
	d.mu.Lock()
	onData := d.onData
	d.mu.Unlock()
	if onData != nil {
		onData(pcm)
	}
}

type fakeOpener struct {
	device  *fakeDevice
	openErr error
}

func (o *fakeOpener) Open(cfg DeviceConfig) (Device, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	return o.device, nil
}

func (o *fakeOpener) SupportedCodecs() []string {
	return []string{"audio/wav"}
}

type fakeStore struct {
	mu      sync.Mutex
	records []*sqlite.AudioRecording
	err     error
}

func (s *fakeStore) PutRecording(rec *sqlite.AudioRecording) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.records = append(s.records, rec)
	rec.ID = int64(len(s.records))
	return rec.ID, nil
}

// testCaptureConfig keeps test payloads small: 8kHz mono PCM16 means
// 16000 bytes per one-second chunk
func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		SampleRate:       8000,
		Channels:         1,
		ChunkIntervalMs:  1000,
		TickIntervalMs:   10,
		CodecPreferences: []string{"audio/wav"},
		DefaultCodec:     "audio/wav",
	}
}

type sessionEvents struct {
	started  chan string
	chunks   chan []byte
	finished chan *sqlite.AudioRecording
	errs     chan error
	errRecs  chan *sqlite.AudioRecording
}

func newSessionEvents() (*sessionEvents, Events) {
	ev := &sessionEvents{
		started:  make(chan string, 1),
		chunks:   make(chan []byte, 16),
		finished: make(chan *sqlite.AudioRecording, 1),
		errs:     make(chan error, 4),
		errRecs:  make(chan *sqlite.AudioRecording, 4),
	}
	return ev, Events{
		RecordingStart:    func(contactName string, _ time.Time) { ev.started <- contactName },
		ChunkReceived:     func(chunk []byte) { ev.chunks <- chunk },
		RecordingFinished: func(rec *sqlite.AudioRecording) { ev.finished <- rec },
		Error: func(err error, rec *sqlite.AudioRecording) {
			ev.errs <- err
			ev.errRecs <- rec
		},
	}
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestCaptureSessionFullCycle(t *testing.T) {
	dev := &fakeDevice{}
	owner := NewDeviceOwner(&fakeOpener{device: dev})
	store := &fakeStore{}
	ev, events := newSessionEvents()

	s := NewSession(testCaptureConfig(), owner, store, events, logger.Nop())

	require.True(t, s.Start("Acme Corp"))
	assert.Equal(t, "Acme Corp", waitFor(t, ev.started, "recording start"))
	assert.False(t, s.Start("Other"), "second start while busy must be rejected")

	// Two seconds of audio delivered in uneven frames
	dev.push(make([]byte, 10000))
	dev.push(make([]byte, 10000))
	dev.push(make([]byte, 12000))

	first := waitFor(t, ev.chunks, "first chunk")
	assert.Len(t, first, 16000)
	second := waitFor(t, ev.chunks, "second chunk")
	assert.Len(t, second, 16000)

	require.True(t, s.Stop())
	rec := waitFor(t, ev.finished, "recording finished")

	assert.Equal(t, "Acme Corp", rec.ContactName)
	assert.True(t, strings.HasPrefix(rec.FileName, "Acme_Corp_"))
	assert.True(t, strings.HasSuffix(rec.FileName, ".wav"))
	assert.Equal(t, "audio/wav", rec.MimeType)
	assert.Equal(t, 2.0, rec.DurationSeconds)
	assert.Equal(t, int64(len(rec.Audio)), rec.SizeBytes)
	assert.Greater(t, len(rec.Audio), 32000, "artifact must carry the WAV header")

	assert.Equal(t, StateIdle, s.State())
	require.Len(t, store.records, 1)

	dev.mu.Lock()
	assert.True(t, dev.stopped)
	dev.mu.Unlock()

	// A new capture may begin once the previous one finished
	require.True(t, s.Start("Acme Corp"))
	waitFor(t, ev.started, "second recording start")
	require.True(t, s.Stop())
	waitFor(t, ev.finished, "second recording finished")
}

func TestCaptureSessionPauseDropsFrames(t *testing.T) {
	dev := &fakeDevice{}
	owner := NewDeviceOwner(&fakeOpener{device: dev})
	store := &fakeStore{}
	ev, events := newSessionEvents()

	s := NewSession(testCaptureConfig(), owner, store, events, logger.Nop())

	require.True(t, s.Start("Acme Corp"))
	waitFor(t, ev.started, "recording start")

	dev.push(make([]byte, 16000))
	waitFor(t, ev.chunks, "chunk before pause")

	require.True(t, s.Pause())
	assert.False(t, s.Pause(), "pause is only valid while recording")
	assert.Equal(t, StatePaused, s.State())

	// Frames during pause are not part of the recording
	dev.push(make([]byte, 16000))
	select {
	case <-ev.chunks:
		t.Fatal("chunk delivered while paused")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, s.Resume())
	assert.False(t, s.Resume(), "resume is only valid while paused")

	dev.push(make([]byte, 16000))
	waitFor(t, ev.chunks, "chunk after resume")

	require.True(t, s.Stop())
	rec := waitFor(t, ev.finished, "recording finished")
	assert.Equal(t, 2.0, rec.DurationSeconds, "paused frames must not count")
}

func TestCaptureSessionElapsedExcludesPauses(t *testing.T) {
	dev := &fakeDevice{}
	owner := NewDeviceOwner(&fakeOpener{device: dev})
	store := &fakeStore{}
	ev, events := newSessionEvents()

	s := NewSession(testCaptureConfig(), owner, store, events, logger.Nop())

	require.True(t, s.Start("Acme Corp"))
	waitFor(t, ev.started, "recording start")

	time.Sleep(100 * time.Millisecond)
	require.True(t, s.Pause())
	time.Sleep(30 * time.Millisecond) // let any in-flight tick settle
	atPause := s.Elapsed()
	assert.Greater(t, atPause, time.Duration(0))

	time.Sleep(150 * time.Millisecond)
	duringPause := s.Elapsed()
	assert.GreaterOrEqual(t, duringPause, atPause, "elapsed never moves backwards")
	assert.Less(t, duringPause-atPause, 50*time.Millisecond, "elapsed must not advance while paused")

	require.True(t, s.Resume())
	time.Sleep(100 * time.Millisecond)
	afterResume := s.Elapsed()
	assert.Greater(t, afterResume, duringPause, "elapsed advances again after resume")

	require.True(t, s.Stop())
	waitFor(t, ev.finished, "recording finished")
}

func TestCaptureSessionElapsedAcrossThreePauseCycles(t *testing.T) {
	dev := &fakeDevice{}
	owner := NewDeviceOwner(&fakeOpener{device: dev})
	store := &fakeStore{}
	ev, events := newSessionEvents()

	s := NewSession(testCaptureConfig(), owner, store, events, logger.Nop())

	require.True(t, s.Start("Acme Corp"))
	waitFor(t, ev.started, "recording start")
	start := time.Now()

	// Three pause/resume cycles with measured wall-clock gaps
	var pausedSum time.Duration
	for i := 0; i < 3; i++ {
		time.Sleep(60 * time.Millisecond)

		require.True(t, s.Pause())
		pausedAt := time.Now()
		time.Sleep(40 * time.Millisecond)
		require.True(t, s.Resume())
		pausedSum += time.Since(pausedAt)
	}
	time.Sleep(60 * time.Millisecond)

	expected := time.Since(start) - pausedSum
	assert.InDelta(t, expected.Seconds(), s.Elapsed().Seconds(), 0.06,
		"elapsed must equal wall clock minus the paused gaps")

	require.True(t, s.Stop())
	waitFor(t, ev.finished, "recording finished")
}

func TestCaptureSessionAcquireFailure(t *testing.T) {
	owner := NewDeviceOwner(&fakeOpener{openErr: errors.New("no input device")})
	store := &fakeStore{}
	ev, events := newSessionEvents()

	s := NewSession(testCaptureConfig(), owner, store, events, logger.Nop())

	require.True(t, s.Start("Acme Corp"))
	err := waitFor(t, ev.errs, "acquisition error")
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Nil(t, waitFor(t, ev.errRecs, "error recording"))
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, store.records)
}

func TestCaptureSessionPersistFailureKeepsArtifact(t *testing.T) {
	dev := &fakeDevice{}
	owner := NewDeviceOwner(&fakeOpener{device: dev})
	store := &fakeStore{err: errors.New("disk full")}
	ev, events := newSessionEvents()

	s := NewSession(testCaptureConfig(), owner, store, events, logger.Nop())

	require.True(t, s.Start("Acme Corp"))
	waitFor(t, ev.started, "recording start")
	dev.push(make([]byte, 16000))
	waitFor(t, ev.chunks, "chunk")

	require.True(t, s.Stop())

	err := waitFor(t, ev.errs, "persistence error")
	assert.ErrorContains(t, err, "disk full")

	// The unsaved artifact travels with the error so the caller can retry
	rec := waitFor(t, ev.errRecs, "error recording")
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.Audio)
	assert.Equal(t, "Acme Corp", rec.ContactName)
	assert.Equal(t, StateIdle, s.State())
}

func TestDeviceOwnerExclusive(t *testing.T) {
	owner := NewDeviceOwner(&fakeOpener{device: &fakeDevice{}})

	cfg := DeviceConfig{SampleRate: 8000, Channels: 1}
	handle, err := owner.Acquire(cfg)
	require.NoError(t, err)

	_, err = owner.Acquire(cfg)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	handle.Release()
	handle.Release() // idempotent

	again, err := owner.Acquire(cfg)
	require.NoError(t, err)
	again.Release()
}

func TestSelectCodec(t *testing.T) {
	supported := []string{"audio/webm", "audio/wav"}

	assert.Equal(t, "audio/webm",
		SelectCodec([]string{"audio/ogg", "audio/webm", "audio/wav"}, supported, "audio/wav"))
	assert.Equal(t, "audio/wav",
		SelectCodec([]string{"audio/ogg"}, supported, "audio/wav"))
	assert.Equal(t, "audio/wav",
		SelectCodec(nil, nil, "audio/wav"))
}
