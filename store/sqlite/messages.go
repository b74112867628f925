package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/covalt-run/flowruntime/convtree"
)

var _ convtree.Store = (*Store)(nil)

// InsertMessage assigns a fresh id when msg has none and writes msg,
// matching convtree.Tree's contract that the Store owns id assignment;
// msg.Sequence, computed by convtree.Tree, is written as given.
func (s *Store) InsertMessage(msg convtree.Message) (convtree.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	content, err := json.Marshal(msg.Content)
	if err != nil {
		return convtree.Message{}, fmt.Errorf("sqlite: marshal message content: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (id, chat_id, parent_message_id, role, content, is_complete, sequence, manifest_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.ParentMessageID, string(msg.Role), string(content),
		boolToInt(msg.IsComplete), msg.Sequence, msg.ManifestID, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return convtree.Message{}, fmt.Errorf("sqlite: insert message: %w", err)
	}
	s.logger.Debug("sqlite: insert message", "id", msg.ID, "chat_id", msg.ChatID, "parent", msg.ParentMessageID)
	return msg, nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(chatID, messageID string) (convtree.Message, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, chat_id, parent_message_id, role, content, is_complete, sequence, manifest_id, created_at
		 FROM messages WHERE chat_id = ? AND id = ?`,
		chatID, messageID,
	)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return convtree.Message{}, false, nil
	}
	if err != nil {
		return convtree.Message{}, false, fmt.Errorf("sqlite: get message: %w", err)
	}
	return msg, true, nil
}

// GetChildren returns parentMessageID's direct children, in no particular
// order — convtree.Tree re-sorts by sequence itself.
func (s *Store) GetChildren(chatID, parentMessageID string) ([]convtree.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, chat_id, parent_message_id, role, content, is_complete, sequence, manifest_id, created_at
		 FROM messages WHERE chat_id = ? AND parent_message_id = ?`,
		chatID, parentMessageID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get children: %w", err)
	}
	defer rows.Close()

	var children []convtree.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		children = append(children, msg)
	}
	return children, rows.Err()
}

// GetActiveLeaf returns chatID's active-leaf message id, or "" if the
// chat has no row (a brand-new chat).
func (s *Store) GetActiveLeaf(chatID string) (string, error) {
	var leaf sql.NullString
	err := s.db.QueryRow(`SELECT active_leaf_id FROM chats WHERE id = ?`, chatID).Scan(&leaf)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get active leaf: %w", err)
	}
	return leaf.String, nil
}

// SetActiveLeaf repoints chatID's active-leaf pointer, creating the chat
// row first if it doesn't exist yet.
func (s *Store) SetActiveLeaf(chatID, messageID string) error {
	now := time.Now().Unix()
	res, err := s.db.Exec(
		`UPDATE chats SET active_leaf_id = ?, updated_at = ? WHERE id = ?`,
		messageID, now, chatID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set active leaf: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.Exec(
		`INSERT INTO chats (id, active_leaf_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chatID, messageID, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create chat on set active leaf: %w", err)
	}
	return nil
}

// SetMessageManifest pins an attachment manifest on an existing message.
func (s *Store) SetMessageManifest(chatID, messageID, manifestID string) error {
	res, err := s.db.Exec(
		`UPDATE messages SET manifest_id = ? WHERE chat_id = ? AND id = ?`,
		manifestID, chatID, messageID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set message manifest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: set message manifest: no message %s in chat %s", messageID, chatID)
	}
	s.logger.Debug("sqlite: set message manifest", "id", messageID, "chat_id", chatID, "manifest_id", manifestID)
	return nil
}

// rowScanner is the common subset of *sql.Row and *sql.Rows scanMessage
// needs.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (convtree.Message, error) {
	var msg convtree.Message
	var role string
	var content sql.NullString
	var isComplete int
	var createdAt int64
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.ParentMessageID, &role, &content,
		&isComplete, &msg.Sequence, &msg.ManifestID, &createdAt); err != nil {
		return convtree.Message{}, err
	}
	msg.Role = convtree.Role(role)
	msg.IsComplete = isComplete != 0
	msg.CreatedAt = time.Unix(createdAt, 0)
	if content.Valid {
		_ = json.Unmarshal([]byte(content.String), &msg.Content)
	}
	return msg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
