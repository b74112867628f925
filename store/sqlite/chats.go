package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/covalt-run/flowruntime/agentstore"
)

var _ agentstore.ChatConfigReader = ChatStore{}
var _ agentstore.SettingsReader = (*Store)(nil)

// ChatAgentConfig is a chat's persisted model/agent selection: either a
// bare provider/model pair (with an optional system-prompt override and
// extra instructions) for the canonical single-agent chat graph, or a
// reference to a saved agent graph (AgentID) that replaces it entirely.
type ChatAgentConfig struct {
	Provider     string   `json:"provider,omitempty"`
	ModelID      string   `json:"model_id,omitempty"`
	Instructions []string `json:"instructions,omitempty"`
	Name         string   `json:"name,omitempty"`
	Description  string   `json:"description,omitempty"`
	AgentID      string   `json:"agent_id,omitempty"`
}

// ChatStore satisfies orchestrator.ChatInitializer: lazily creating a
// chat row the first time a client streams into it, and recording which
// model a chat is pinned to.
type ChatStore struct {
	*Store
}

// Chats wraps s as a ChatStore.
func Chats(s *Store) ChatStore { return ChatStore{Store: s} }

// EnsureChatInitialized creates chatID's row if it doesn't exist yet (or
// allocates a fresh id if chatID is empty), recording modelID as its
// initial model selection, and returns the resolved chat id.
func (c ChatStore) EnsureChatInitialized(chatID, modelID string) (string, error) {
	if chatID == "" {
		chatID = uuid.NewString()
	}

	var existing int
	err := c.db.QueryRow(`SELECT 1 FROM chats WHERE id = ?`, chatID).Scan(&existing)
	if err == nil {
		return chatID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("sqlite: ensure chat initialized: %w", err)
	}

	now := time.Now().Unix()
	_, err = c.db.Exec(
		`INSERT INTO chats (id, model_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chatID, modelID, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: create chat: %w", err)
	}
	return chatID, nil
}

// UpdateChatModelSelection repoints chatID's persisted model selection.
// A modelID of the form "agent:<id>" switches the chat onto that saved
// agent's own graph, clearing any bare provider/model pair; anything else
// is parsed as "provider:model_id" and clears a prior agent selection,
// matching update_chat_model_selection's agent-vs-bare-model branch.
func (c ChatStore) UpdateChatModelSelection(chatID, modelID string) error {
	cfg, err := c.ChatAgentConfig(chatID)
	if err != nil {
		return err
	}
	if rest, ok := strings.CutPrefix(modelID, "agent:"); ok {
		cfg.AgentID = rest
	} else {
		cfg.AgentID = ""
		if provider, model, ok := strings.Cut(modelID, ":"); ok {
			cfg.Provider = provider
			cfg.ModelID = model
		} else {
			cfg.ModelID = modelID
		}
	}
	if err := c.SetChatAgentConfig(chatID, cfg); err != nil {
		return err
	}

	_, err = c.db.Exec(
		`UPDATE chats SET model_id = ?, updated_at = ? WHERE id = ?`,
		modelID, time.Now().Unix(), chatID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update chat model selection: %w", err)
	}
	return nil
}

// ChatModelID returns chatID's currently persisted model selection, used
// by ModelValidator to resolve a request that doesn't specify one.
func (c ChatStore) ChatModelID(chatID string) (string, error) {
	var modelID sql.NullString
	err := c.db.QueryRow(`SELECT model_id FROM chats WHERE id = ?`, chatID).Scan(&modelID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: chat model id: %w", err)
	}
	return modelID.String, nil
}

// ChatAgentConfig returns chatID's persisted agent/model configuration, or
// the zero value if the chat has none yet.
func (c ChatStore) ChatAgentConfig(chatID string) (ChatAgentConfig, error) {
	var raw sql.NullString
	err := c.db.QueryRow(`SELECT agent_config FROM chats WHERE id = ?`, chatID).Scan(&raw)
	if err == sql.ErrNoRows || !raw.Valid || raw.String == "" {
		return ChatAgentConfig{}, nil
	}
	if err != nil {
		return ChatAgentConfig{}, fmt.Errorf("sqlite: chat agent config: %w", err)
	}
	var cfg ChatAgentConfig
	if err := json.Unmarshal([]byte(raw.String), &cfg); err != nil {
		return ChatAgentConfig{}, fmt.Errorf("sqlite: unmarshal chat agent config: %w", err)
	}
	return cfg, nil
}

// ChatAgentSelection adapts ChatAgentConfig into agentstore's own
// ChatModelConfig shape, satisfying agentstore.ChatConfigReader without
// that package needing to know this store's persisted representation.
func (c ChatStore) ChatAgentSelection(chatID string) (string, agentstore.ChatModelConfig, error) {
	cfg, err := c.ChatAgentConfig(chatID)
	if err != nil {
		return "", agentstore.ChatModelConfig{}, err
	}
	return cfg.AgentID, agentstore.ChatModelConfig{
		Provider:     cfg.Provider,
		ModelID:      cfg.ModelID,
		Instructions: cfg.Instructions,
		Name:         cfg.Name,
		Description:  cfg.Description,
	}, nil
}

// SetChatAgentConfig persists cfg as chatID's agent/model configuration,
// creating the chat row first if it doesn't exist yet.
func (c ChatStore) SetChatAgentConfig(chatID string, cfg ChatAgentConfig) error {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("sqlite: marshal chat agent config: %w", err)
	}
	now := time.Now().Unix()
	res, err := c.db.Exec(
		`UPDATE chats SET agent_config = ?, updated_at = ? WHERE id = ?`,
		string(encoded), now, chatID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set chat agent config: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = c.db.Exec(
		`INSERT INTO chats (id, agent_config, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chatID, string(encoded), now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create chat on set agent config: %w", err)
	}
	return nil
}
