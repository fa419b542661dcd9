package sqlite

import (
	"strings"
	"time"
)

// AudioRecording represents a finished capture artifact
type AudioRecording struct {
	ID              int64     `json:"id"`
	ContactName     string    `json:"contact_name"`
	FileName        string    `json:"file_name"`
	CapturedAt      time.Time `json:"captured_at"`
	MimeType        string    `json:"mime_type"`
	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       int64     `json:"size_bytes"`
	Transcribed     bool      `json:"transcribed"`
	LiveTranscript  string    `json:"live_transcript,omitempty"`
	TranscriptionID int64     `json:"transcription_id,omitempty"`
	Audio           []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Transcription represents one transcription attempt for a recording.
// Records are immutable once written; re-running transcription for the
// same recording produces a new row.
type Transcription struct {
	ID          int64     `json:"id"`
	AudioID     int64     `json:"audio_id"`
	ContactName string    `json:"contact_name"`
	CapturedAt  time.Time `json:"captured_at"`
	FileName    string    `json:"file_name"`
	Content     string    `json:"content"`
	WordCount   int       `json:"word_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Contact represents a synced external contact
type Contact struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id,omitempty"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	Company    string    `json:"company,omitempty"`
	PhotoURL   string    `json:"photo_url,omitempty"`
	SyncedAt   time.Time `json:"synced_at"`
}

// CallHistoryEntry represents one completed call. Entries are
// append-only; the core has no update or delete path for them.
type CallHistoryEntry struct {
	ID              int64     `json:"id"`
	ContactName     string    `json:"contact_name"`
	CallType        string    `json:"call_type"` // "audio" or "video"
	DurationSeconds float64   `json:"duration_seconds"`
	Platform        string    `json:"platform"`
	Timestamp       time.Time `json:"timestamp"`
}

// CountWords returns the word count of a transcript body
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// RecordingFileName derives the stored file name from the contact name,
// capture time and payload kind, e.g. "Acme_Corp_2026-09-01_14-30-05.wav".
func RecordingFileName(contactName string, capturedAt time.Time, mimeType string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, contactName)

	return safe + "_" + capturedAt.Format("2006-01-02_15-04-05") + extensionForMime(mimeType)
}

// extensionForMime maps a payload MIME label to a file extension
func extensionForMime(mimeType string) string {
	base := mimeType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}
