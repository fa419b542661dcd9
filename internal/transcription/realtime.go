package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/pkg/logger"
)

// RealtimeRecognizer streams pushed PCM16 audio to the OpenAI realtime
// transcription API over a websocket and yields interim deltas and
// final segments. One Listen call corresponds to one realtime session;
// the API terminates sessions on its own after prolonged silence, which
// the live session treats as a recoverable fault.
type RealtimeRecognizer struct {
	cfg    config.TranscriptionConfig
	logger *logger.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRealtimeRecognizer creates a realtime recognizer. Returns nil if
// no API key is configured, which callers treat as capability
// unsupported.
func NewRealtimeRecognizer(cfg config.TranscriptionConfig, log *logger.Logger) *RealtimeRecognizer {
	if cfg.OpenAIAPIKey == "" {
		return nil
	}
	return &RealtimeRecognizer{
		cfg:    cfg,
		logger: log.Named("realtime-stt"),
	}
}

// realtimeEvent is the subset of server events we care about
type realtimeEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// sessionUpdate configures the realtime session for continuous
// transcription of pushed audio
type sessionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		InputAudioFormat        string `json:"input_audio_format"`
		InputAudioTranscription struct {
			Model    string `json:"model"`
			Language string `json:"language,omitempty"`
		} `json:"input_audio_transcription"`
		TurnDetection struct {
			Type      string   `json:"type"`
			Threshold *float64 `json:"threshold,omitempty"`
		} `json:"turn_detection"`
	} `json:"session"`
}

// Listen opens one realtime session and reads transcription events
// until the session terminates
func (r *RealtimeRecognizer) Listen(ctx context.Context) (<-chan Result, func(), error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.cfg.OpenAIAPIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	endpoint := r.cfg.RealtimeEndpoint + "?intent=transcription"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("failed to open realtime session (status %d): %w", resp.StatusCode, err)
		}
		return nil, nil, fmt.Errorf("failed to open realtime session: %w", err)
	}

	update := sessionUpdate{Type: "transcription_session.update"}
	update.Session.InputAudioFormat = "pcm16"
	update.Session.InputAudioTranscription.Model = r.cfg.Model
	update.Session.InputAudioTranscription.Language = r.cfg.Language
	update.Session.TurnDetection.Type = "server_vad"
	if r.cfg.VADThreshold > 0 {
		update.Session.TurnDetection.Threshold = &r.cfg.VADThreshold
	}

	if err := conn.WriteJSON(update); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to configure realtime session: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	out := make(chan Result, 16)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			r.mu.Lock()
			r.conn = nil
			r.mu.Unlock()
			// Best-effort close during teardown
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		})
	}

	go r.readLoop(ctx, conn, out, stop)

	return out, stop, nil
}

// readLoop pumps server events into the result channel until the
// session ends
func (r *RealtimeRecognizer) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Result, stop func()) {
	defer close(out)
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			out <- Result{Err: fmt.Errorf("%w: %v", ErrAborted, err)}
			return
		}

		var event realtimeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			r.logger.Debug("Failed to decode realtime event", logger.Error(err))
			continue
		}

		switch event.Type {
		case "conversation.item.input_audio_transcription.delta":
			out <- Result{Text: event.Delta, Final: false}
		case "conversation.item.input_audio_transcription.completed":
			out <- Result{Text: event.Transcript, Final: true}
		case "error":
			out <- Result{Err: r.classifyRealtimeError(event)}
			return
		}
	}
}

// classifyRealtimeError maps realtime API errors onto the recoverable
// fault sentinels where appropriate
func (r *RealtimeRecognizer) classifyRealtimeError(event realtimeEvent) error {
	if event.Error == nil {
		return ErrAborted
	}
	code := event.Error.Code
	switch {
	case strings.Contains(code, "no_speech"):
		return fmt.Errorf("%w: %s", ErrNoSpeech, event.Error.Message)
	case strings.Contains(code, "aborted"), strings.Contains(code, "session_expired"):
		return fmt.Errorf("%w: %s", ErrAborted, event.Error.Message)
	default:
		return fmt.Errorf("realtime session error %s: %s", code, event.Error.Message)
	}
}

// WriteAudio pushes one PCM16 chunk into the current session. A nil
// connection (no run in flight) is not an error; the chunk is simply
// dropped.
func (r *RealtimeRecognizer) WriteAudio(pcm []byte) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to append audio buffer: %w", err)
	}
	return nil
}
