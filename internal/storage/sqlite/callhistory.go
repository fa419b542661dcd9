package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/voxdesk/pkg/logger"
)

// CallHistoryStorage handles the append-only call history log
type CallHistoryStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewCallHistoryStorage creates a new SQLite call history storage
func NewCallHistoryStorage(db *sql.DB, log *logger.Logger) *CallHistoryStorage {
	return &CallHistoryStorage{
		db:     db,
		logger: log.Named("sqlite-calls"),
	}
}

// initDB initializes the call_history table
func (s *CallHistoryStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS call_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_name TEXT NOT NULL,
			call_type TEXT NOT NULL,
			duration_seconds REAL NOT NULL,
			platform TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create call_history table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_call_history_contact_name ON call_history(contact_name)`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_timestamp ON call_history(timestamp)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create call history index: %w", err)
		}
	}

	return nil
}

// Append appends one call history entry
func (s *CallHistoryStorage) Append(entry *CallHistoryEntry) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	result, err := s.db.Exec(
		`INSERT INTO call_history (contact_name, call_type, duration_seconds, platform, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ContactName,
		entry.CallType,
		entry.DurationSeconds,
		entry.Platform,
		entry.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert call history entry: %v", ErrStorage, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get last insert ID: %v", ErrStorage, err)
	}

	entry.ID = id
	return id, nil
}

// List returns all call history entries, newest first
func (s *CallHistoryStorage) List() ([]*CallHistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_name, call_type, duration_seconds, platform, timestamp
		FROM call_history
		ORDER BY timestamp DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query call history: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanCallHistoryRows(rows)
}

// GetByContact returns call history entries for a specific contact
func (s *CallHistoryStorage) GetByContact(contactName string) ([]*CallHistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_name, call_type, duration_seconds, platform, timestamp
		FROM call_history
		WHERE contact_name = ?
		ORDER BY timestamp DESC`,
		contactName,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query call history by contact: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanCallHistoryRows(rows)
}

// GetByTimeRange returns call history entries within a time range
func (s *CallHistoryStorage) GetByTimeRange(startTime, endTime time.Time) ([]*CallHistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_name, call_type, duration_seconds, platform, timestamp
		FROM call_history
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp DESC`,
		startTime.Format(time.RFC3339Nano), endTime.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query call history by time range: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanCallHistoryRows(rows)
}

// scanCallHistoryRows scans database rows into CallHistoryEntry structs
func (s *CallHistoryStorage) scanCallHistoryRows(rows *sql.Rows) ([]*CallHistoryEntry, error) {
	var records []*CallHistoryEntry
	for rows.Next() {
		var entry CallHistoryEntry
		var timestamp string

		if err := rows.Scan(
			&entry.ID,
			&entry.ContactName,
			&entry.CallType,
			&entry.DurationSeconds,
			&entry.Platform,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan call history entry: %v", ErrStorage, err)
		}

		var err error
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse timestamp: %v", ErrStorage, err)
		}

		records = append(records, &entry)
	}

	return records, rows.Err()
}
