package callcenter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yegors/voxdesk/internal/call"
	"github.com/yegors/voxdesk/internal/capture"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/contacts"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/internal/transcription"
	"github.com/yegors/voxdesk/pkg/logger"
)

// UnknownContact is the history label used when no contact is selected
const UnknownContact = "Unknown"

// Service is the orchestrator: the only component that knows capture,
// transcription, calls and the store together. It carries no state
// machine of its own beyond the currently selected contact context; it
// sequences the components and re-raises their events outward.
type Service struct {
	cfg      *config.Config
	store    *sqlite.Store
	capture  *capture.Session
	live     *transcription.LiveSession
	posthoc  *transcription.PostHoc
	call     *call.Session
	contacts *contacts.Client
	sink     EventSink
	logger   *logger.Logger

	mu             sync.Mutex
	currentContact string
}

// Deps bundles the externally owned resources handed to the service.
// Device and signaling handles are passed in by reference so tests can
// substitute fakes.
type Deps struct {
	Store       *sqlite.Store
	DeviceOwner *capture.DeviceOwner
	Recognizer  transcription.Recognizer // nil: no live capability
	Transcriber transcription.Transcriber // nil: no post-hoc capability
	Signaler    call.Signaler
	Contacts    *contacts.Client // nil: no remote sync source
	Sink        EventSink
}

// NewService wires the call-center core together
func NewService(cfg *config.Config, deps Deps, log *logger.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		contacts: deps.Contacts,
		sink:     deps.Sink,
		logger:   log.Named("callcenter"),
	}
	if s.sink == nil {
		s.sink = NopSink{}
	}

	s.live = transcription.NewLiveSession(
		deps.Recognizer,
		transcription.RetryPolicy{Delay: time.Duration(cfg.Transcription.RestartDelayMs) * time.Millisecond},
		transcription.LiveEvents{
			Update: s.onLiveUpdate,
		},
		log,
	)

	s.capture = capture.NewSession(cfg.Capture, deps.DeviceOwner, deps.Store, capture.Events{
		RecordingStart:    s.onRecordingStart,
		ChunkReceived:     s.onChunk,
		RecordingFinished: s.onRecordingFinished,
		Error:             s.onRecordingError,
	}, log)

	s.posthoc = transcription.NewPostHoc(deps.Store, deps.Transcriber, transcription.PostHocEvents{
		TranscriptionStart:    s.onTranscriptionStart,
		TranscriptionComplete: s.onTranscriptionComplete,
		TranscriptionError:    s.onTranscriptionError,
	}, log)

	s.call = call.NewSession(cfg.Call, deps.Signaler, deps.DeviceOwner, call.Events{
		PeerReady:    s.onPeerReady,
		CallStart:    s.onCallStart,
		IncomingCall: s.onIncomingCall,
		CallEnded:    s.onCallEnded,
		Error:        s.onCallError,
	}, log)

	return s
}

// SetCurrentContact sets the contact context stamped onto call history
// entries
func (s *Service) SetCurrentContact(name string) {
	s.mu.Lock()
	s.currentContact = name
	s.mu.Unlock()
}

// CurrentContact returns the selected contact context, or the fixed
// unknown label if none is set
func (s *Service) CurrentContact() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentContact == "" {
		return UnknownContact
	}
	return s.currentContact
}

// --- inbound operations -------------------------------------------------

// StartRecording begins a capture session for the given contact.
// Returns false if a capture is already in progress.
func (s *Service) StartRecording(contactName string) bool {
	return s.capture.Start(contactName)
}

// StopRecording finalizes and persists the in-progress capture
func (s *Service) StopRecording() bool {
	return s.capture.Stop()
}

// PauseRecording pauses the in-progress capture
func (s *Service) PauseRecording() bool {
	return s.capture.Pause()
}

// ResumeRecording resumes a paused capture
func (s *Service) ResumeRecording() bool {
	return s.capture.Resume()
}

// RegisterCallSession establishes identity with the rendezvous service
func (s *Service) RegisterCallSession(ctx context.Context) error {
	return s.call.Register(ctx)
}

// StartCall places an outbound call
func (s *Service) StartCall(remotePeerID string) error {
	return s.call.StartCall(remotePeerID)
}

// AnswerCall answers the pending incoming call
func (s *Service) AnswerCall() error {
	return s.call.AnswerCall()
}

// EndCall ends the active call
func (s *Service) EndCall() {
	s.call.EndCall()
}

// TranscribeAudioFile produces and persists a post-hoc transcription
// for a stored recording
func (s *Service) TranscribeAudioFile(ctx context.Context, audioID int64) (int64, error) {
	return s.posthoc.TranscribeRecording(ctx, audioID)
}

// GetAllAudioRecordings lists every stored recording
func (s *Service) GetAllAudioRecordings() ([]*sqlite.AudioRecording, error) {
	return s.store.ListRecordings()
}

// GetAllTranscriptions lists every stored transcription
func (s *Service) GetAllTranscriptions() ([]*sqlite.Transcription, error) {
	return s.store.ListTranscriptions()
}

// DeleteRecording deletes a recording and every transcription that
// references it
func (s *Service) DeleteRecording(id int64) error {
	return s.store.DeleteRecording(id)
}

// SyncContacts replaces the stored contact set wholesale
func (s *Service) SyncContacts(externalContacts []*contacts.ExternalContact) error {
	return s.store.ReplaceAllContacts(contacts.ToRecords(externalContacts))
}

// SyncContactsFromRemote fetches the external contact list and replaces
// the stored set
func (s *Service) SyncContactsFromRemote(ctx context.Context) error {
	if s.contacts == nil {
		return fmt.Errorf("no contact sync source configured")
	}
	external, err := s.contacts.Fetch(ctx)
	if err != nil {
		return err
	}
	return s.SyncContacts(external)
}

// CallHistory lists the call history log
func (s *Service) CallHistory() ([]*sqlite.CallHistoryEntry, error) {
	return s.store.ListCallHistory()
}

// Contacts lists the stored contact set
func (s *Service) Contacts() ([]*sqlite.Contact, error) {
	return s.store.ListContacts()
}

// Close tears down the call session
func (s *Service) Close() {
	s.call.Close()
}

// --- capture events -----------------------------------------------------

func (s *Service) onRecordingStart(contactName string, startTime time.Time) {
	if s.cfg.Transcription.Enabled {
		if err := s.live.Start(); err != nil {
			if errors.Is(err, transcription.ErrUnsupported) {
				s.logger.Info("Live transcription unavailable, recording without it")
			} else {
				s.logger.Error("Failed to start live transcription", logger.Error(err))
			}
		}
	}

	s.sink.Publish(EventRecordingStart, map[string]any{
		"contactName": contactName,
		"startTime":   startTime,
	})
}

func (s *Service) onChunk(chunk []byte) {
	s.live.Feed(chunk)
}

// onRecordingFinished runs the fixed sequence: stop live transcription,
// attach any transcript to the recording, then notify outward. External
// code may query the recording as soon as it sees the event, expecting
// the transcript to already be present, so this ordering must hold.
func (s *Service) onRecordingFinished(rec *sqlite.AudioRecording) {
	text := s.live.Stop()
	if text != "" {
		if err := s.store.AttachTranscript(rec.ID, text); err != nil {
			s.logger.Error("Failed to attach live transcript",
				logger.Int64("id", rec.ID),
				logger.Error(err))
		} else {
			rec.LiveTranscript = text
		}
	}

	s.sink.Publish(EventRecordingStop, map[string]any{
		"id":          rec.ID,
		"fileName":    rec.FileName,
		"contactName": rec.ContactName,
		"duration":    rec.DurationSeconds,
		"size":        rec.SizeBytes,
		"artifact":    rec.Audio,
	})
}

func (s *Service) onRecordingError(err error, rec *sqlite.AudioRecording) {
	// Stop the live strategy too; a dead capture session has nothing to
	// transcribe
	s.live.Stop()

	data := map[string]any{"error": err.Error()}
	if rec != nil {
		// Persistence failed: hand the unsaved artifact outward so the
		// collaborator can retry or fall back to file storage
		data["fileName"] = rec.FileName
		data["artifact"] = rec.Audio
	}
	s.sink.Publish(EventRecordingError, data)
}

func (s *Service) onLiveUpdate(finalText, interimText string) {
	s.sink.Publish(EventTranscriptionUpdate, map[string]any{
		"finalTextSoFar": finalText,
		"interimText":    interimText,
	})
}

// --- transcription events ----------------------------------------------

func (s *Service) onTranscriptionStart(audioID int64, fileName string) {
	s.sink.Publish(EventTranscriptionStart, map[string]any{
		"audioId":  audioID,
		"fileName": fileName,
	})
}

func (s *Service) onTranscriptionComplete(id int64, fileName, text string, audioID int64) {
	s.sink.Publish(EventTranscriptionComplete, map[string]any{
		"id":       id,
		"fileName": fileName,
		"text":     text,
		"audioId":  audioID,
	})
}

func (s *Service) onTranscriptionError(err error) {
	s.sink.Publish(EventTranscriptionError, map[string]any{
		"error": err.Error(),
	})
}

// --- call events --------------------------------------------------------

func (s *Service) onPeerReady(peerID string) {
	s.sink.Publish(EventPeerReady, map[string]any{
		"peerId": peerID,
	})
}

func (s *Service) onCallStart(remotePeerID string, stream call.MediaStream) {
	s.sink.Publish(EventCallStart, map[string]any{
		"remotePeerId": remotePeerID,
		"stream":       stream.PeerID(),
	})
}

func (s *Service) onIncomingCall(incoming *call.IncomingCall) {
	s.sink.Publish(EventIncomingCall, map[string]any{
		"from": incoming.From,
		"kind": incoming.Kind,
	})
}

// onCallEnded appends exactly one history entry before re-raising the
// event outward
func (s *Service) onCallEnded(duration time.Duration) {
	entry := &sqlite.CallHistoryEntry{
		ContactName:     s.CurrentContact(),
		CallType:        "audio",
		DurationSeconds: duration.Seconds(),
		Platform:        s.cfg.Call.Platform,
		Timestamp:       time.Now().UTC(),
	}

	if _, err := s.store.AppendCallHistory(entry); err != nil {
		s.logger.Error("Failed to append call history entry", logger.Error(err))
	}

	s.sink.Publish(EventCallEnd, map[string]any{
		"duration": duration.Seconds(),
	})
}

func (s *Service) onCallError(err error) {
	s.sink.Publish(EventCallError, map[string]any{
		"error": err.Error(),
	})
}
