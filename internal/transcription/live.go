package transcription

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yegors/voxdesk/pkg/logger"
)

// LiveEvents holds the callbacks the live session raises
type LiveEvents struct {
	// Update fires on each result batch with the accumulated final text
	// and the current interim preview
	Update func(finalText, interimText string)
}

// LiveSession runs the live transcription strategy alongside a capture
// session. It accumulates final recognition segments into a running
// transcript and supervises the underlying capability with an unbounded
// fixed-backoff restart policy: spontaneous termination, no-speech and
// aborted faults all restart the capability quietly for as long as the
// session is active.
type LiveSession struct {
	recognizer Recognizer
	retry      RetryPolicy
	events     LiveEvents
	logger     *logger.Logger

	mu       sync.Mutex
	active   bool
	finalAcc strings.Builder
	cancel   context.CancelFunc
	stopRun  func()
	wg       sync.WaitGroup

	restarts atomic.Int64
}

// NewLiveSession creates a live transcription session. A nil recognizer
// means the host offers no capability; Start then reports ErrUnsupported
// and the session stays idle.
func NewLiveSession(recognizer Recognizer, retry RetryPolicy, events LiveEvents, log *logger.Logger) *LiveSession {
	return &LiveSession{
		recognizer: recognizer,
		retry:      retry,
		events:     events,
		logger:     log.Named("live-stt"),
	}
}

// IsActive reports whether the session is logically on
func (s *LiveSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Restarts returns how many times the capability has been restarted
// since Start
func (s *LiveSession) Restarts() int64 {
	return s.restarts.Load()
}

// Start begins live transcription. Returns ErrUnsupported if the host
// has no speech-to-text capability; this is not fatal for the caller.
func (s *LiveSession) Start() error {
	if s.recognizer == nil {
		return ErrUnsupported
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	s.finalAcc.Reset()
	s.restarts.Store(0)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.supervise(ctx)

	s.logger.Info("Live transcription started")
	return nil
}

// supervise runs recognition runs back to back until the session stops
func (s *LiveSession) supervise(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil || !s.IsActive() {
			return
		}

		results, stop, err := s.recognizer.Listen(ctx)
		if err != nil {
			s.logger.Warn("Failed to start recognition run", logger.Error(err))
		} else {
			s.mu.Lock()
			s.stopRun = stop
			s.mu.Unlock()

			s.consume(results)

			s.mu.Lock()
			s.stopRun = nil
			s.mu.Unlock()
			stop()
		}

		if ctx.Err() != nil || !s.IsActive() {
			return
		}

		// The run ended while the session is still on: recoverable,
		// restart after the fixed delay
		s.restarts.Add(1)
		if err := s.retry.Wait(ctx); err != nil {
			return
		}
	}
}

// consume drains one recognition run
func (s *LiveSession) consume(results <-chan Result) {
	var interim string
	for r := range results {
		if r.Err != nil {
			// no-speech and aborted are routine; anything else is worth
			// a log line but still restarts quietly
			s.logger.Debug("Recognition run terminated", logger.Error(r.Err))
			continue
		}

		if r.Final {
			s.mu.Lock()
			if s.finalAcc.Len() > 0 {
				s.finalAcc.WriteByte(' ')
			}
			s.finalAcc.WriteString(strings.TrimSpace(r.Text))
			final := s.finalAcc.String()
			s.mu.Unlock()
			interim = ""
			if s.events.Update != nil {
				s.events.Update(final, interim)
			}
		} else {
			interim = r.Text
			s.mu.Lock()
			final := s.finalAcc.String()
			s.mu.Unlock()
			if s.events.Update != nil {
				s.events.Update(final, interim)
			}
		}
	}
}

// Feed forwards captured audio to the current recognition run if the
// capability consumes pushed audio
func (s *LiveSession) Feed(pcm []byte) {
	sink, ok := s.recognizer.(AudioSink)
	if !ok || !s.IsActive() {
		return
	}
	if err := sink.WriteAudio(pcm); err != nil {
		s.logger.Debug("Failed to feed audio to recognizer", logger.Error(err))
	}
}

// Stop tears the capability down and returns the trimmed accumulated
// transcript
func (s *LiveSession) Stop() string {
	s.mu.Lock()
	if !s.active {
		text := strings.TrimSpace(s.finalAcc.String())
		s.mu.Unlock()
		return text
	}
	s.active = false
	cancel := s.cancel
	stopRun := s.stopRun
	s.cancel = nil
	s.stopRun = nil
	s.mu.Unlock()

	if stopRun != nil {
		stopRun()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	text := strings.TrimSpace(s.finalAcc.String())
	s.mu.Unlock()

	s.logger.Info("Live transcription stopped",
		logger.Int("transcript_chars", len(text)),
		logger.Int64("restarts", s.restarts.Load()))

	return text
}
