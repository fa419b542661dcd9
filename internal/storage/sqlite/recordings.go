package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/voxdesk/pkg/logger"
)

// RecordingStorage handles storage of audio recording records
type RecordingStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewRecordingStorage creates a new SQLite recording storage
func NewRecordingStorage(db *sql.DB, log *logger.Logger) *RecordingStorage {
	return &RecordingStorage{
		db:     db,
		logger: log.Named("sqlite-recordings"),
	}
}

// initDB initializes the recordings table
func (s *RecordingStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_name TEXT NOT NULL,
			file_name TEXT NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			mime_type TEXT NOT NULL,
			duration_seconds REAL NOT NULL,
			size_bytes INTEGER NOT NULL,
			transcribed INTEGER NOT NULL DEFAULT 0,
			live_transcript TEXT,
			transcription_id INTEGER,
			audio BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create recordings table: %w", err)
	}

	// Create indexes for performance, plus the file name uniqueness constraint
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_recordings_file_name ON recordings(file_name)`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_contact_name ON recordings(contact_name)`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_captured_at ON recordings(captured_at)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create recording index: %w", err)
		}
	}

	return nil
}

// Insert stores a finished recording artifact. A file name collision
// fails with ErrDuplicateKey.
func (s *RecordingStorage) Insert(rec *AudioRecording) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.Exec(
		`INSERT INTO recordings
		(contact_name, file_name, captured_at, mime_type, duration_seconds, size_bytes, transcribed, live_transcript, transcription_id, audio, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ContactName,
		rec.FileName,
		rec.CapturedAt.Format(time.RFC3339Nano),
		rec.MimeType,
		rec.DurationSeconds,
		rec.SizeBytes,
		boolToInt(rec.Transcribed),
		nullableString(rec.LiveTranscript),
		nullableInt64(rec.TranscriptionID),
		rec.Audio,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert recording %q: %v", classifyError(err), rec.FileName, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get last insert ID: %v", ErrStorage, err)
	}

	rec.ID = id
	return id, nil
}

// GetByID returns one recording by id, including the audio payload
func (s *RecordingStorage) GetByID(id int64) (*AudioRecording, error) {
	row := s.db.QueryRow(
		`SELECT id, contact_name, file_name, captured_at, mime_type, duration_seconds, size_bytes, transcribed, live_transcript, transcription_id, audio, created_at
		FROM recordings
		WHERE id = ?`,
		id,
	)

	rec, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: recording %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get recording %d: %v", ErrStorage, id, err)
	}

	return rec, nil
}

// List returns all recordings without their audio payloads, newest first
func (s *RecordingStorage) List() ([]*AudioRecording, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_name, file_name, captured_at, mime_type, duration_seconds, size_bytes, transcribed, live_transcript, transcription_id, created_at
		FROM recordings
		ORDER BY captured_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query recordings: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanRecordingRows(rows)
}

// GetByContact returns recordings for a specific contact, newest first
func (s *RecordingStorage) GetByContact(contactName string) ([]*AudioRecording, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_name, file_name, captured_at, mime_type, duration_seconds, size_bytes, transcribed, live_transcript, transcription_id, created_at
		FROM recordings
		WHERE contact_name = ?
		ORDER BY captured_at DESC`,
		contactName,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query recordings by contact: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanRecordingRows(rows)
}

// GetByTimeRange returns recordings captured within a time range
func (s *RecordingStorage) GetByTimeRange(startTime, endTime time.Time) ([]*AudioRecording, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_name, file_name, captured_at, mime_type, duration_seconds, size_bytes, transcribed, live_transcript, transcription_id, created_at
		FROM recordings
		WHERE captured_at BETWEEN ? AND ?
		ORDER BY captured_at DESC`,
		startTime.Format(time.RFC3339Nano), endTime.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query recordings by time range: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanRecordingRows(rows)
}

// AttachTranscript sets the inline live-transcript field of a recording
func (s *RecordingStorage) AttachTranscript(id int64, text string) error {
	result, err := s.db.Exec(
		`UPDATE recordings SET live_transcript = ? WHERE id = ?`,
		text, id,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to attach transcript to recording %d: %v", ErrStorage, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: recording %d", ErrNotFound, id)
	}

	return nil
}

// markTranscribedTx flips the transcribed flag and back-reference of a
// recording inside an existing transaction
func (s *RecordingStorage) markTranscribedTx(tx *sql.Tx, id, transcriptionID int64) error {
	result, err := tx.Exec(
		`UPDATE recordings SET transcribed = 1, transcription_id = ? WHERE id = ?`,
		transcriptionID, id,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to mark recording %d transcribed: %v", ErrStorage, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: recording %d", ErrNotFound, id)
	}

	return nil
}

// deleteTx deletes one recording inside an existing transaction
func (s *RecordingStorage) deleteTx(tx *sql.Tx, id int64) error {
	result, err := tx.Exec(`DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete recording %d: %v", ErrStorage, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: recording %d", ErrNotFound, id)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecording scans a full recording row including the audio payload
func scanRecording(row rowScanner) (*AudioRecording, error) {
	var rec AudioRecording
	var capturedAt, createdAt string
	var transcribed int
	var liveTranscript sql.NullString
	var transcriptionID sql.NullInt64

	if err := row.Scan(
		&rec.ID,
		&rec.ContactName,
		&rec.FileName,
		&capturedAt,
		&rec.MimeType,
		&rec.DurationSeconds,
		&rec.SizeBytes,
		&transcribed,
		&liveTranscript,
		&transcriptionID,
		&rec.Audio,
		&createdAt,
	); err != nil {
		return nil, err
	}

	if err := parseRecordingTimes(&rec, capturedAt, createdAt); err != nil {
		return nil, err
	}

	rec.Transcribed = transcribed != 0
	if liveTranscript.Valid {
		rec.LiveTranscript = liveTranscript.String
	}
	if transcriptionID.Valid {
		rec.TranscriptionID = transcriptionID.Int64
	}

	return &rec, nil
}

// scanRecordingRows scans list rows (no audio payload column)
func (s *RecordingStorage) scanRecordingRows(rows *sql.Rows) ([]*AudioRecording, error) {
	var records []*AudioRecording
	for rows.Next() {
		var rec AudioRecording
		var capturedAt, createdAt string
		var transcribed int
		var liveTranscript sql.NullString
		var transcriptionID sql.NullInt64

		if err := rows.Scan(
			&rec.ID,
			&rec.ContactName,
			&rec.FileName,
			&capturedAt,
			&rec.MimeType,
			&rec.DurationSeconds,
			&rec.SizeBytes,
			&transcribed,
			&liveTranscript,
			&transcriptionID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan recording: %v", ErrStorage, err)
		}

		if err := parseRecordingTimes(&rec, capturedAt, createdAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		rec.Transcribed = transcribed != 0
		if liveTranscript.Valid {
			rec.LiveTranscript = liveTranscript.String
		}
		if transcriptionID.Valid {
			rec.TranscriptionID = transcriptionID.Int64
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

func parseRecordingTimes(rec *AudioRecording, capturedAt, createdAt string) error {
	var err error
	rec.CapturedAt, err = time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return fmt.Errorf("failed to parse captured_at: %w", err)
	}
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return fmt.Errorf("failed to parse created_at: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
