package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/voxdesk/pkg/logger"

	_ "modernc.org/sqlite"
)

// Store is the recording store facade. It owns the database handle and
// the per-entity storages, and implements every operation that spans
// more than one entity inside a single transaction so readers never
// observe partial writes.
type Store struct {
	db             *sql.DB
	logger         *logger.Logger
	Recordings     *RecordingStorage
	Transcriptions *TranscriptionStorage
	Contacts       *ContactStorage
	CallHistory    *CallHistoryStorage
}

// NewStore opens (or creates) the SQLite database at the given path and
// initializes all entity storages
func NewStore(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The modernc driver does not support concurrent writers on one
	// connection pool; serialize access through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{
		db:     db,
		logger: log.Named("store"),
	}

	store.Recordings = NewRecordingStorage(db, log)
	store.Transcriptions = NewTranscriptionStorage(db, log)
	store.Contacts = NewContactStorage(db, log)
	store.CallHistory = NewCallHistoryStorage(db, log)

	for name, init := range map[string]func() error{
		"recordings":     store.Recordings.initDB,
		"transcriptions": store.Transcriptions.initDB,
		"contacts":       store.Contacts.initDB,
		"call_history":   store.CallHistory.initDB,
	} {
		if err := init(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize %s table: %w", name, err)
		}
	}

	return store, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil and rolling
// back on error
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrStorage, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", logger.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrStorage, err)
	}

	return nil
}

// PutRecording stores a finished audio artifact. The derived file name
// is a uniqueness constraint; a collision fails with ErrDuplicateKey.
func (s *Store) PutRecording(rec *AudioRecording) (int64, error) {
	return s.Recordings.Insert(rec)
}

// GetRecording returns one recording by id
func (s *Store) GetRecording(id int64) (*AudioRecording, error) {
	return s.Recordings.GetByID(id)
}

// ListRecordings returns all recordings, newest first
func (s *Store) ListRecordings() ([]*AudioRecording, error) {
	return s.Recordings.List()
}

// AttachTranscript atomically sets the inline live-transcript field of
// a recording. Fails with ErrNotFound if the recording does not exist.
func (s *Store) AttachTranscript(audioID int64, text string) error {
	return s.Recordings.AttachTranscript(audioID, text)
}

// PutTranscription inserts a transcription record for the given
// recording and flips the recording's transcribed flag plus
// back-reference in the same transaction. Both succeed or both are
// rolled back.
func (s *Store) PutTranscription(audioID int64, contactName, text string) (int64, error) {
	rec, err := s.Recordings.GetByID(audioID)
	if err != nil {
		return 0, err
	}

	record := &Transcription{
		AudioID:     audioID,
		ContactName: contactName,
		CapturedAt:  rec.CapturedAt,
		FileName:    rec.FileName,
		Content:     text,
		WordCount:   CountWords(text),
		CreatedAt:   time.Now().UTC(),
	}

	var id int64
	err = s.withTx(func(tx *sql.Tx) error {
		var err error
		id, err = s.Transcriptions.insertTx(tx, record)
		if err != nil {
			return err
		}
		return s.Recordings.markTranscribedTx(tx, audioID, id)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("Stored transcription",
		logger.Int64("id", id),
		logger.Int64("audio_id", audioID),
		logger.Int("word_count", record.WordCount))

	return id, nil
}

// GetTranscription returns one transcription by id
func (s *Store) GetTranscription(id int64) (*Transcription, error) {
	return s.Transcriptions.GetByID(id)
}

// ListTranscriptions returns all transcriptions, newest first
func (s *Store) ListTranscriptions() ([]*Transcription, error) {
	return s.Transcriptions.List()
}

// DeleteTranscription deletes a single transcription
func (s *Store) DeleteTranscription(id int64) error {
	return s.Transcriptions.Delete(id)
}

// DeleteRecording deletes a recording together with every transcription
// that references it. The deletions are transactionally linked so a
// reader never observes a transcription whose recording is gone.
func (s *Store) DeleteRecording(id int64) error {
	if _, err := s.Recordings.GetByID(id); err != nil {
		return err
	}

	return s.withTx(func(tx *sql.Tx) error {
		if err := s.Transcriptions.deleteByAudioIDTx(tx, id); err != nil {
			return err
		}
		return s.Recordings.deleteTx(tx, id)
	})
}

// ReplaceAllContacts clears the contact set and bulk-inserts the new
// one as a single transaction. A failure mid-insert leaves the previous
// set fully intact.
func (s *Store) ReplaceAllContacts(contacts []*Contact) error {
	err := s.withTx(func(tx *sql.Tx) error {
		if err := s.Contacts.clearTx(tx); err != nil {
			return err
		}
		for _, c := range contacts {
			if err := s.Contacts.insertTx(tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Replaced contact set", logger.Int("count", len(contacts)))
	return nil
}

// ListContacts returns all contacts ordered by name
func (s *Store) ListContacts() ([]*Contact, error) {
	return s.Contacts.List()
}

// AppendCallHistory appends one call history entry
func (s *Store) AppendCallHistory(entry *CallHistoryEntry) (int64, error) {
	return s.CallHistory.Append(entry)
}

// ListCallHistory returns all call history entries, newest first
func (s *Store) ListCallHistory() ([]*CallHistoryEntry, error) {
	return s.CallHistory.List()
}
