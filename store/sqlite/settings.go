package sqlite

import (
	"database/sql"
	"fmt"
)

// GetSetting reads a single string-valued application setting (e.g. the
// global system prompt override agentstore's canonical chat graph
// builder folds in), returning ok=false if the key was never set.
func (s *Store) GetSetting(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get setting: %w", err)
	}
	return value, true, nil
}

// PutSetting writes or replaces key's value.
func (s *Store) PutSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put setting: %w", err)
	}
	return nil
}
