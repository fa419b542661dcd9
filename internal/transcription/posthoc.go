package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Store is the slice of the recording store the post-hoc strategy needs
type Store interface {
	GetRecording(id int64) (*sqlite.AudioRecording, error)
	PutTranscription(audioID int64, contactName, text string) (int64, error)
}

// PostHocEvents holds the callbacks the post-hoc strategy raises
type PostHocEvents struct {
	TranscriptionStart    func(audioID int64, fileName string)
	TranscriptionComplete func(id int64, fileName, text string, audioID int64)
	TranscriptionError    func(err error)
}

// PostHoc produces a persisted transcription for a stored recording
// after the fact. A recording that already carries an inline live
// transcript is formatted and persisted directly; otherwise the stored
// artifact is transcribed through the speech-to-text capability. A nil
// transcriber means the host has no capability, which yields the fixed
// placeholder rather than an error.
type PostHoc struct {
	store       Store
	transcriber Transcriber
	events      PostHocEvents
	logger      *logger.Logger
}

// NewPostHoc creates the post-hoc transcription strategy
func NewPostHoc(store Store, transcriber Transcriber, events PostHocEvents, log *logger.Logger) *PostHoc {
	return &PostHoc{
		store:       store,
		transcriber: transcriber,
		events:      events,
		logger:      log.Named("posthoc-stt"),
	}
}

// TranscribeRecording transcribes one stored recording and persists the
// result. Returns the new transcription id. Faults during lookup,
// transcription or persistence raise the transcriptionError event and
// are returned to the caller.
func (p *PostHoc) TranscribeRecording(ctx context.Context, audioID int64) (int64, error) {
	rec, err := p.store.GetRecording(audioID)
	if err != nil {
		err = fmt.Errorf("failed to look up recording %d: %w", audioID, err)
		p.emitError(err)
		return 0, err
	}

	if p.events.TranscriptionStart != nil {
		p.events.TranscriptionStart(rec.ID, rec.FileName)
	}

	body, err := p.transcriptBody(ctx, rec)
	if err != nil {
		p.emitError(err)
		return 0, err
	}

	text := FormatTranscript(rec, body)

	id, err := p.store.PutTranscription(rec.ID, rec.ContactName, text)
	if err != nil {
		err = fmt.Errorf("failed to persist transcription for recording %d: %w", rec.ID, err)
		p.emitError(err)
		return 0, err
	}

	p.logger.Info("Transcription complete",
		logger.Int64("id", id),
		logger.Int64("audio_id", rec.ID),
		logger.String("file_name", rec.FileName))

	if p.events.TranscriptionComplete != nil {
		p.events.TranscriptionComplete(id, rec.FileName, text, rec.ID)
	}

	return id, nil
}

// transcriptBody resolves the transcript text for a recording: inline
// live transcript first, then the capability, then placeholders
func (p *PostHoc) transcriptBody(ctx context.Context, rec *sqlite.AudioRecording) (string, error) {
	if strings.TrimSpace(rec.LiveTranscript) != "" {
		p.logger.Debug("Using inline live transcript",
			logger.Int64("audio_id", rec.ID))
		return rec.LiveTranscript, nil
	}

	if p.transcriber == nil {
		return PlaceholderUnavailable, nil
	}

	text, err := p.transcriber.TranscribeAudio(ctx, rec.FileName, rec.Audio)
	if errors.Is(err, ErrNoSpeech) {
		return PlaceholderNoSpeech, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to transcribe recording %d: %w", rec.ID, err)
	}
	if strings.TrimSpace(text) == "" {
		return PlaceholderNoSpeech, nil
	}

	return text, nil
}

func (p *PostHoc) emitError(err error) {
	p.logger.Error("Post-hoc transcription failed", logger.Error(err))
	if p.events.TranscriptionError != nil {
		p.events.TranscriptionError(err)
	}
}
