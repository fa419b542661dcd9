package capture

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/pkg/logger"
)

// State represents the capture session state
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StatePaused
	StateStopping
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// RecordingStore is the slice of the recording store the session needs
type RecordingStore interface {
	PutRecording(rec *sqlite.AudioRecording) (int64, error)
}

// Events holds the callbacks the session raises. Nil callbacks are
// skipped. Acquisition and persistence failures surface here rather
// than as return values, since both complete asynchronously from the
// caller's perspective.
type Events struct {
	RecordingStart    func(contactName string, startTime time.Time)
	ChunkReceived     func(chunk []byte)
	RecordingFinished func(rec *sqlite.AudioRecording)
	// Error receives every session fault. For persistence failures the
	// unsaved recording is passed along so the caller can retry or fall
	// back; for all other faults rec is nil.
	Error func(err error, rec *sqlite.AudioRecording)
}

// Session owns one hardware audio input at a time and runs the capture
// state machine: Idle -> Acquiring -> Recording <-> Paused -> Stopping -> Idle.
// Only finished artifacts ever reach the store; in-progress state lives
// in session memory only.
type Session struct {
	cfg    config.CaptureConfig
	owner  *DeviceOwner
	store  RecordingStore
	events Events
	logger *logger.Logger

	mu          sync.Mutex
	state       State
	handle      *DeviceHandle
	chunker     *Chunker
	codec       string
	contactName string
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	pcm         bytes.Buffer
	quit        chan struct{}
	wg          sync.WaitGroup

	elapsedNs atomic.Int64
}

// NewSession creates a capture session bound to the given device owner
// and store
func NewSession(cfg config.CaptureConfig, owner *DeviceOwner, store RecordingStore, events Events, log *logger.Logger) *Session {
	return &Session{
		cfg:    cfg,
		owner:  owner,
		store:  store,
		events: events,
		logger: log.Named("capture"),
	}
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a capture for the given contact. It returns false if the
// session is not idle; device acquisition happens asynchronously and
// failures are raised through the error event, returning the session to
// idle.
func (s *Session) Start(contactName string) bool {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.logger.Warn("Start requested while not idle", logger.String("state", s.state.String()))
		return false
	}
	s.state = StateAcquiring
	s.contactName = contactName
	s.mu.Unlock()

	go s.acquireAndRecord(contactName)
	return true
}

func (s *Session) acquireAndRecord(contactName string) {
	handle, err := s.owner.Acquire(DeviceConfig{
		DeviceName:       s.cfg.DeviceName,
		SampleRate:       s.cfg.SampleRate,
		Channels:         s.cfg.Channels,
		EchoCancellation: true,
		NoiseSuppression: true,
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.logger.Error("Failed to acquire audio input device", logger.Error(err))
		s.emitError(fmt.Errorf("failed to acquire audio input: %w", err), nil)
		return
	}

	codec := SelectCodec(s.cfg.CodecPreferences, s.owner.SupportedCodecs(), s.cfg.DefaultCodec)

	s.mu.Lock()
	s.handle = handle
	s.codec = codec
	s.chunker = NewChunker(s.cfg.SampleRate, s.cfg.Channels, s.cfg.ChunkIntervalMs)
	s.pcm.Reset()
	s.pausedTotal = 0
	s.quit = make(chan struct{})
	s.mu.Unlock()

	if err := handle.Start(s.onData); err != nil {
		handle.Release()
		s.mu.Lock()
		s.state = StateIdle
		s.handle = nil
		s.mu.Unlock()
		s.logger.Error("Failed to start capture device", logger.Error(err))
		s.emitError(fmt.Errorf("failed to start capture device: %w", err), nil)
		return
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = now
	s.state = StateRecording
	quit := s.quit
	s.mu.Unlock()

	s.elapsedNs.Store(0)
	s.wg.Add(1)
	go s.elapsedTicker(quit)

	s.logger.Info("Recording started",
		logger.String("contact", contactName),
		logger.String("codec", codec))

	if s.events.RecordingStart != nil {
		s.events.RecordingStart(contactName, now)
	}
}

// onData receives PCM frames from the device. Frames arriving while
// paused or stopping are dropped.
func (s *Session) onData(pcm []byte) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	chunks, err := s.chunker.Write(pcm)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to buffer audio frame", logger.Error(err))
		return
	}
	for _, chunk := range chunks {
		s.pcm.Write(chunk)
	}
	s.mu.Unlock()

	if s.events.ChunkReceived != nil {
		for _, chunk := range chunks {
			s.events.ChunkReceived(chunk)
		}
	}
}

// Pause suspends chunk collection. Valid only while recording; returns
// false otherwise.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return false
	}
	s.state = StatePaused
	s.pausedAt = time.Now().UTC()
	return true
}

// Resume continues a paused capture. Valid only while paused; returns
// false otherwise.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return false
	}
	s.pausedTotal += time.Since(s.pausedAt)
	s.state = StateRecording
	return true
}

// Elapsed returns recording time net of paused intervals. The value is
// recomputed on a fixed tick and is monotonically non-decreasing.
func (s *Session) Elapsed() time.Duration {
	return time.Duration(s.elapsedNs.Load())
}

// elapsedTicker recomputes elapsed time until the session stops
func (s *Session) elapsedTicker(quit chan struct{}) {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.TickIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			s.mu.Lock()
			e := s.computeElapsedLocked(time.Now().UTC())
			s.mu.Unlock()
			// Never move backwards
			if e.Nanoseconds() > s.elapsedNs.Load() {
				s.elapsedNs.Store(e.Nanoseconds())
			}
		}
	}
}

func (s *Session) computeElapsedLocked(now time.Time) time.Duration {
	switch s.state {
	case StateRecording:
		return now.Sub(s.startedAt) - s.pausedTotal
	case StatePaused:
		return s.pausedAt.Sub(s.startedAt) - s.pausedTotal
	default:
		return time.Duration(s.elapsedNs.Load())
	}
}

// Stop finalizes the chunk sequence into one artifact, releases the
// device and persists the recording. Returns false if the session is
// neither recording nor paused. On success the recordingFinished event
// fires before the session returns to idle; if persistence fails the
// error event carries the unsaved recording instead.
func (s *Session) Stop() bool {
	s.mu.Lock()
	if s.state != StateRecording && s.state != StatePaused {
		s.mu.Unlock()
		return false
	}
	if s.state == StatePaused {
		s.pausedTotal += time.Since(s.pausedAt)
	}
	s.state = StateStopping

	// Cancel timers before releasing resources so no stale tick fires
	// after teardown
	close(s.quit)
	s.quit = nil

	handle := s.handle
	s.handle = nil
	contactName := s.contactName
	capturedAt := s.startedAt
	codec := s.codec
	chunker := s.chunker
	s.mu.Unlock()

	s.wg.Wait()
	handle.Release()

	s.mu.Lock()
	if remainder := chunker.Flush(); len(remainder) > 0 {
		s.pcm.Write(remainder)
	}
	pcmData := make([]byte, s.pcm.Len())
	copy(pcmData, s.pcm.Bytes())
	s.pcm.Reset()
	s.mu.Unlock()

	// Duration from the sample count is exact; the wall-clock elapsed
	// value only drives live display
	duration := float64(len(pcmData)) / float64(chunker.BytesPerSecond())

	artifact, err := s.finalizeArtifact(pcmData, codec)
	if err != nil {
		s.toIdle()
		s.logger.Error("Failed to finalize artifact", logger.Error(err))
		s.emitError(fmt.Errorf("failed to finalize artifact: %w", err), nil)
		return true
	}

	rec := &sqlite.AudioRecording{
		ContactName:     contactName,
		FileName:        sqlite.RecordingFileName(contactName, capturedAt, codec),
		CapturedAt:      capturedAt,
		MimeType:        codec,
		DurationSeconds: duration,
		SizeBytes:       int64(len(artifact)),
		Audio:           artifact,
	}

	if _, err := s.store.PutRecording(rec); err != nil {
		s.toIdle()
		s.logger.Error("Failed to persist recording",
			logger.String("file_name", rec.FileName),
			logger.Error(err))
		s.emitError(fmt.Errorf("failed to persist recording: %w", err), rec)
		return true
	}

	s.toIdle()

	s.logger.Info("Recording finished",
		logger.Int64("id", rec.ID),
		logger.String("file_name", rec.FileName),
		logger.Float64("duration_seconds", rec.DurationSeconds),
		logger.Int64("size_bytes", rec.SizeBytes))

	if s.events.RecordingFinished != nil {
		s.events.RecordingFinished(rec)
	}
	return true
}

// finalizeArtifact wraps the raw PCM into the selected container. Codecs
// the backend cannot actually produce degrade to raw PCM under the
// requested label.
func (s *Session) finalizeArtifact(pcmData []byte, codec string) ([]byte, error) {
	base := codec
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	if base == "audio/wav" || base == "audio/wave" || base == "audio/x-wav" {
		return EncodeWAV(pcmData, s.cfg.SampleRate, s.cfg.Channels)
	}
	return pcmData, nil
}

func (s *Session) toIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.contactName = ""
	s.chunker = nil
	s.mu.Unlock()
}

func (s *Session) emitError(err error, rec *sqlite.AudioRecording) {
	if s.events.Error != nil {
		s.events.Error(err, rec)
	}
}
