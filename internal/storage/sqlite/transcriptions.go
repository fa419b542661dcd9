package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/voxdesk/pkg/logger"
)

// TranscriptionStorage handles storage of transcription records
type TranscriptionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTranscriptionStorage creates a new SQLite transcription storage
func NewTranscriptionStorage(db *sql.DB, log *logger.Logger) *TranscriptionStorage {
	return &TranscriptionStorage{
		db:     db,
		logger: log.Named("sqlite-transcripts"),
	}
}

// initDB initializes the transcriptions table
func (s *TranscriptionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			audio_id INTEGER NOT NULL,
			contact_name TEXT NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			file_name TEXT NOT NULL,
			content TEXT NOT NULL,
			word_count INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (audio_id) REFERENCES recordings(id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcriptions table: %w", err)
	}

	// Create indexes for performance
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_transcriptions_audio_id ON transcriptions(audio_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transcriptions_contact_name ON transcriptions(contact_name)`,
		`CREATE INDEX IF NOT EXISTS idx_transcriptions_captured_at ON transcriptions(captured_at)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create transcription index: %w", err)
		}
	}

	return nil
}

// insertTx inserts a transcription record inside an existing transaction
func (s *TranscriptionStorage) insertTx(tx *sql.Tx, record *Transcription) (int64, error) {
	result, err := tx.Exec(
		`INSERT INTO transcriptions
		(audio_id, contact_name, captured_at, file_name, content, word_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.AudioID,
		record.ContactName,
		record.CapturedAt.Format(time.RFC3339Nano),
		record.FileName,
		record.Content,
		record.WordCount,
		record.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert transcription: %v", classifyError(err), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get last insert ID: %v", ErrStorage, err)
	}

	record.ID = id
	return id, nil
}

// GetByID returns one transcription by id
func (s *TranscriptionStorage) GetByID(id int64) (*Transcription, error) {
	row := s.db.QueryRow(
		`SELECT id, audio_id, contact_name, captured_at, file_name, content, word_count, created_at
		FROM transcriptions
		WHERE id = ?`,
		id,
	)

	record, err := scanTranscription(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transcription %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get transcription %d: %v", ErrStorage, id, err)
	}

	return record, nil
}

// List returns all transcriptions, newest first
func (s *TranscriptionStorage) List() ([]*Transcription, error) {
	rows, err := s.db.Query(
		`SELECT id, audio_id, contact_name, captured_at, file_name, content, word_count, created_at
		FROM transcriptions
		ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query transcriptions: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanTranscriptionRows(rows)
}

// GetByAudioID returns all transcriptions for a recording
func (s *TranscriptionStorage) GetByAudioID(audioID int64) ([]*Transcription, error) {
	rows, err := s.db.Query(
		`SELECT id, audio_id, contact_name, captured_at, file_name, content, word_count, created_at
		FROM transcriptions
		WHERE audio_id = ?
		ORDER BY created_at DESC`,
		audioID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query transcriptions by audio id: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanTranscriptionRows(rows)
}

// GetByContact returns transcriptions for a specific contact, newest first
func (s *TranscriptionStorage) GetByContact(contactName string) ([]*Transcription, error) {
	rows, err := s.db.Query(
		`SELECT id, audio_id, contact_name, captured_at, file_name, content, word_count, created_at
		FROM transcriptions
		WHERE contact_name = ?
		ORDER BY created_at DESC`,
		contactName,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query transcriptions by contact: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanTranscriptionRows(rows)
}

// Delete deletes a single transcription
func (s *TranscriptionStorage) Delete(id int64) error {
	result, err := s.db.Exec(`DELETE FROM transcriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete transcription %d: %v", ErrStorage, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: transcription %d", ErrNotFound, id)
	}

	return nil
}

// deleteByAudioIDTx deletes every transcription referencing a recording
// inside an existing transaction
func (s *TranscriptionStorage) deleteByAudioIDTx(tx *sql.Tx, audioID int64) error {
	if _, err := tx.Exec(`DELETE FROM transcriptions WHERE audio_id = ?`, audioID); err != nil {
		return fmt.Errorf("%w: failed to delete transcriptions for recording %d: %v", ErrStorage, audioID, err)
	}
	return nil
}

// scanTranscription scans a single transcription row
func scanTranscription(row rowScanner) (*Transcription, error) {
	var record Transcription
	var capturedAt, createdAt string

	if err := row.Scan(
		&record.ID,
		&record.AudioID,
		&record.ContactName,
		&capturedAt,
		&record.FileName,
		&record.Content,
		&record.WordCount,
		&createdAt,
	); err != nil {
		return nil, err
	}

	var err error
	record.CapturedAt, err = time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse captured_at: %w", err)
	}
	record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &record, nil
}

// scanTranscriptionRows scans database rows into Transcription structs
func (s *TranscriptionStorage) scanTranscriptionRows(rows *sql.Rows) ([]*Transcription, error) {
	var records []*Transcription
	for rows.Next() {
		record, err := scanTranscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan transcription: %v", ErrStorage, err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
