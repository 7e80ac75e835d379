package store

import (
	"fmt"
	"time"
)

// ValidationStore persists the validate() audit trail: one row per
// validate call, so confidence swings can be traced back to the
// evidence that produced them.
type ValidationStore struct {
	db *DB
}

func NewValidationStore(db *DB) *ValidationStore { return &ValidationStore{db: db} }

// Record appends one validation event for a Record.
func (s *ValidationStore) Record(recordID int64, isValid bool) error {
	_, err := s.db.Exec(`INSERT INTO validations (record_id, is_valid, created_at) VALUES (?, ?, ?)`,
		recordID, boolToInt(isValid), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("record validation: %w", err)
	}
	return nil
}

// CountForRecord returns how many validation events exist for id.
func (s *ValidationStore) CountForRecord(recordID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM validations WHERE record_id = ?`, recordID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count validations: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
