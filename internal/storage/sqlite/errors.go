package sqlite

import (
	"errors"
	"strings"
)

// Typed storage faults. Every store operation reports either success or
// one of these, wrapped with context via fmt.Errorf and %w.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey indicates a uniqueness constraint was violated
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStorage indicates a non-specific storage failure
	ErrStorage = errors.New("storage fault")
)

// classifyError maps a raw driver error onto the typed fault taxonomy.
// The modernc.org/sqlite driver reports constraint violations in the
// error text rather than as typed values.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateKey
	}
	return ErrStorage
}
