package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/covalt-run/flowruntime/workspace"
)

var _ workspace.ManifestRepository = (*Store)(nil)

// GetManifest loads a manifest by its content-addressed id.
func (s *Store) GetManifest(manifestID string) (workspace.Manifest, bool, error) {
	var files string
	err := s.db.QueryRow(`SELECT files FROM manifests WHERE id = ?`, manifestID).Scan(&files)
	if err == sql.ErrNoRows {
		return workspace.Manifest{}, false, nil
	}
	if err != nil {
		return workspace.Manifest{}, false, fmt.Errorf("sqlite: get manifest: %w", err)
	}
	var m workspace.Manifest
	if err := json.Unmarshal([]byte(files), &m.Files); err != nil {
		return workspace.Manifest{}, false, fmt.Errorf("sqlite: unmarshal manifest: %w", err)
	}
	return m, true, nil
}

// PutManifest stores manifest under its own content hash, returning the
// hash. Writing the same content twice is a no-op beyond recomputing the
// hash, matching a manifest's immutability.
func (s *Store) PutManifest(manifest workspace.Manifest) (string, error) {
	hash, err := manifest.Hash()
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(manifest.Files)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal manifest: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO manifests (id, files) VALUES (?, ?)`,
		hash, string(encoded),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: put manifest: %w", err)
	}
	return hash, nil
}

// GetActiveManifestID returns the manifest id pinned to chatID's active
// leaf message, or "" if the leaf has none (an empty workspace).
func (s *Store) GetActiveManifestID(chatID string) (string, error) {
	var manifestID sql.NullString
	err := s.db.QueryRow(
		`SELECT m.manifest_id FROM messages m
		 JOIN chats c ON c.active_leaf_id = m.id
		 WHERE c.id = ? AND m.chat_id = ?`,
		chatID, chatID,
	).Scan(&manifestID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get active manifest id: %w", err)
	}
	return manifestID.String, nil
}
