package call

import (
	"github.com/yegors/voxdesk/internal/capture"
)

// MediaStream is one directional media stream in a call. The core does
// not implement a media transport; streams are handles whose tracks can
// be stopped during teardown.
type MediaStream interface {
	// StopTracks stops every track on the stream. Idempotent and
	// best-effort: teardown must be non-fatal.
	StopTracks()
	// PeerID identifies the stream's owning peer
	PeerID() string
}

// localStream wraps the acquired audio input device as the local
// audio-only stream
type localStream struct {
	peerID string
	handle *capture.DeviceHandle
}

func (l *localStream) StopTracks() {
	l.handle.Release()
}

func (l *localStream) PeerID() string {
	return l.peerID
}

// remoteStream represents the remote peer's stream as negotiated
// through signaling
type remoteStream struct {
	peerID string
}

func (r *remoteStream) StopTracks() {}

func (r *remoteStream) PeerID() string {
	return r.peerID
}
