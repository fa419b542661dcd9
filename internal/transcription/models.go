package transcription

import (
	"context"
	"errors"
)

// Typed transcription faults
var (
	// ErrUnsupported indicates the host offers no speech-to-text capability
	ErrUnsupported = errors.New("speech-to-text capability unsupported")
	// ErrNoSpeech indicates a recognition run ended without hearing speech.
	// Recoverable: the live session auto-restarts on it.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrAborted indicates a recognition run was terminated by the
	// capability itself. Recoverable like ErrNoSpeech.
	ErrAborted = errors.New("recognition aborted")
)

// Result is one batch of recognition output. Final results accumulate
// into the running transcript; interim results only update the preview.
// A terminal fault is delivered as the last item before the channel
// closes.
type Result struct {
	Text  string
	Final bool
	Err   error
}

// Recognizer runs one continuous speech-to-text session at a time. The
// capability is expected to terminate spontaneously after silence or
// transient faults; callers restart it as needed.
type Recognizer interface {
	// Listen starts one recognition run. Results arrive on the returned
	// channel, which is closed when the run terminates. The stop
	// function tears the run down; it is idempotent.
	Listen(ctx context.Context) (<-chan Result, func(), error)
}

// AudioSink is implemented by recognizers that consume audio pushed
// from a capture session rather than listening on their own
type AudioSink interface {
	WriteAudio(pcm []byte) error
}

// Transcriber produces a transcript directly from a stored audio
// artifact
type Transcriber interface {
	TranscribeAudio(ctx context.Context, fileName string, data []byte) (string, error)
}

// Fixed placeholder texts used when post-hoc transcription produces
// nothing
const (
	PlaceholderNoSpeech    = "No speech detected."
	PlaceholderUnavailable = "Transcription capability unavailable."
)
