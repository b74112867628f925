package sqlite

import (
	"fmt"

	"github.com/covalt-run/flowruntime/broadcaster"
)

var _ broadcaster.Store = (*Store)(nil)

// Upsert writes or replaces chatID's active-stream row.
func (s *Store) Upsert(record broadcaster.ActiveStreamRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO active_streams (chat_id, message_id, run_id, status, error_message)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   message_id = excluded.message_id,
		   run_id = excluded.run_id,
		   status = excluded.status,
		   error_message = excluded.error_message`,
		record.ChatID, record.MessageID, record.RunID, string(record.Status), record.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert active stream: %w", err)
	}
	return nil
}

// Delete removes chatID's active-stream row, if any.
func (s *Store) Delete(chatID string) error {
	if _, err := s.db.Exec(`DELETE FROM active_streams WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("sqlite: delete active stream: %w", err)
	}
	return nil
}

// List returns every persisted active-stream row, for the reaper's
// startup reconciliation pass and orphan sweep.
func (s *Store) List() ([]broadcaster.ActiveStreamRecord, error) {
	rows, err := s.db.Query(`SELECT chat_id, message_id, run_id, status, error_message FROM active_streams`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active streams: %w", err)
	}
	defer rows.Close()

	var records []broadcaster.ActiveStreamRecord
	for rows.Next() {
		var r broadcaster.ActiveStreamRecord
		var status string
		if err := rows.Scan(&r.ChatID, &r.MessageID, &r.RunID, &status, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("sqlite: scan active stream: %w", err)
		}
		r.Status = broadcaster.Status(status)
		records = append(records, r)
	}
	return records, rows.Err()
}
