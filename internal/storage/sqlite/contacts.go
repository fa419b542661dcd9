package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/voxdesk/pkg/logger"
)

// ContactStorage handles storage of synced contact records. The whole
// set is replaced wholesale on each sync via Store.ReplaceAllContacts;
// there is no incremental merge path.
type ContactStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewContactStorage creates a new SQLite contact storage
func NewContactStorage(db *sql.DB, log *logger.Logger) *ContactStorage {
	return &ContactStorage{
		db:     db,
		logger: log.Named("sqlite-contacts"),
	}
}

// initDB initializes the contacts table
func (s *ContactStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT,
			name TEXT NOT NULL,
			phone TEXT,
			email TEXT,
			company TEXT,
			photo_url TEXT,
			synced_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create contacts table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_contacts_name ON contacts(name)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_synced_at ON contacts(synced_at)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create contact index: %w", err)
		}
	}

	return nil
}

// clearTx deletes all contacts inside an existing transaction
func (s *ContactStorage) clearTx(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
		return fmt.Errorf("%w: failed to clear contacts: %v", ErrStorage, err)
	}
	return nil
}

// insertTx inserts one contact inside an existing transaction
func (s *ContactStorage) insertTx(tx *sql.Tx, c *Contact) error {
	if c.SyncedAt.IsZero() {
		c.SyncedAt = time.Now().UTC()
	}

	result, err := tx.Exec(
		`INSERT INTO contacts (external_id, name, phone, email, company, photo_url, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullableString(c.ExternalID),
		c.Name,
		nullableString(c.Phone),
		nullableString(c.Email),
		nullableString(c.Company),
		nullableString(c.PhotoURL),
		c.SyncedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert contact %q: %v", classifyError(err), c.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: failed to get last insert ID: %v", ErrStorage, err)
	}

	c.ID = id
	return nil
}

// List returns all contacts ordered by name
func (s *ContactStorage) List() ([]*Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, external_id, name, phone, email, company, photo_url, synced_at
		FROM contacts
		ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query contacts: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanContactRows(rows)
}

// GetByName returns contacts matching the given name
func (s *ContactStorage) GetByName(name string) ([]*Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, external_id, name, phone, email, company, photo_url, synced_at
		FROM contacts
		WHERE name = ?
		ORDER BY synced_at DESC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query contacts by name: %v", ErrStorage, err)
	}
	defer rows.Close()

	return s.scanContactRows(rows)
}

// scanContactRows scans database rows into Contact structs
func (s *ContactStorage) scanContactRows(rows *sql.Rows) ([]*Contact, error) {
	var records []*Contact
	for rows.Next() {
		var c Contact
		var externalID, phone, email, company, photoURL sql.NullString
		var syncedAt string

		if err := rows.Scan(
			&c.ID,
			&externalID,
			&c.Name,
			&phone,
			&email,
			&company,
			&photoURL,
			&syncedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan contact: %v", ErrStorage, err)
		}

		var err error
		c.SyncedAt, err = time.Parse(time.RFC3339Nano, syncedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse synced_at: %v", ErrStorage, err)
		}

		c.ExternalID = externalID.String
		c.Phone = phone.String
		c.Email = email.String
		c.Company = company.String
		c.PhotoURL = photoURL.String

		records = append(records, &c)
	}

	return records, rows.Err()
}
