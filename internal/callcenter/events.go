package callcenter

import (
	"github.com/yegors/voxdesk/internal/websocket"
)

// Event types raised outward to external collaborators
const (
	EventRecordingStart        = "recordingStart"
	EventRecordingStop         = "recordingStop"
	EventRecordingError        = "recordingError"
	EventTranscriptionStart    = "transcriptionStart"
	EventTranscriptionUpdate   = "transcriptionUpdate"
	EventTranscriptionComplete = "transcriptionComplete"
	EventTranscriptionError    = "transcriptionError"
	EventCallStart             = "callStart"
	EventCallEnd               = "callEnd"
	EventCallError             = "callError"
	EventIncomingCall          = "incomingCall"
	EventPeerReady             = "peerReady"
)

// EventSink receives the outward event surface. The UI layer consumes
// it through the websocket broadcast server; tests substitute their
// own sink.
type EventSink interface {
	Publish(event string, data map[string]any)
}

// BroadcastSink publishes events to websocket clients
type BroadcastSink struct {
	server *websocket.Server
}

// NewBroadcastSink wraps the websocket server as an event sink
func NewBroadcastSink(server *websocket.Server) *BroadcastSink {
	return &BroadcastSink{server: server}
}

// Publish broadcasts one event
func (b *BroadcastSink) Publish(event string, data map[string]any) {
	b.server.Broadcast(&websocket.Message{Type: event, Data: data})
}

// NopSink discards all events
type NopSink struct{}

func (NopSink) Publish(string, map[string]any) {}
