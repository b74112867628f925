package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/covalt-run/flowruntime/mcpadapter"
)

var _ mcpadapter.ConfigStore = (*Store)(nil)

// ListServers returns every configured MCP server, for mcpadapter.Registry
// to connect to at startup.
func (s *Store) ListServers() ([]mcpadapter.ServerConfig, error) {
	rows, err := s.db.Query(
		`SELECT id, name, toolset_id, transport, command, args, env, url, requires_approval FROM mcp_servers`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list mcp servers: %w", err)
	}
	defer rows.Close()

	var out []mcpadapter.ServerConfig
	for rows.Next() {
		var (
			cfg                mcpadapter.ServerConfig
			argsRaw, envRaw    string
			requiresApprovalN  int
		)
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.ToolsetID, &cfg.Transport, &cfg.Command, &argsRaw, &envRaw, &cfg.URL, &requiresApprovalN); err != nil {
			return nil, fmt.Errorf("sqlite: scan mcp server: %w", err)
		}
		if err := json.Unmarshal([]byte(argsRaw), &cfg.Args); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal mcp server args: %w", err)
		}
		if err := json.Unmarshal([]byte(envRaw), &cfg.Env); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal mcp server env: %w", err)
		}
		cfg.RequiresApproval = requiresApprovalN != 0
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// GetServer loads a single configured server by id, or ok=false if none
// is registered under it.
func (s *Store) GetServer(id string) (mcpadapter.ServerConfig, bool, error) {
	var (
		cfg               mcpadapter.ServerConfig
		argsRaw, envRaw   string
		requiresApprovalN int
	)
	err := s.db.QueryRow(
		`SELECT id, name, toolset_id, transport, command, args, env, url, requires_approval FROM mcp_servers WHERE id = ?`,
		id,
	).Scan(&cfg.ID, &cfg.Name, &cfg.ToolsetID, &cfg.Transport, &cfg.Command, &argsRaw, &envRaw, &cfg.URL, &requiresApprovalN)
	if err == sql.ErrNoRows {
		return mcpadapter.ServerConfig{}, false, nil
	}
	if err != nil {
		return mcpadapter.ServerConfig{}, false, fmt.Errorf("sqlite: get mcp server: %w", err)
	}
	if err := json.Unmarshal([]byte(argsRaw), &cfg.Args); err != nil {
		return mcpadapter.ServerConfig{}, false, fmt.Errorf("sqlite: unmarshal mcp server args: %w", err)
	}
	if err := json.Unmarshal([]byte(envRaw), &cfg.Env); err != nil {
		return mcpadapter.ServerConfig{}, false, fmt.Errorf("sqlite: unmarshal mcp server env: %w", err)
	}
	cfg.RequiresApproval = requiresApprovalN != 0
	return cfg, true, nil
}

// PutServer creates or updates a configured MCP server, assigning a fresh
// id when cfg.ID is empty, and returns the persisted id.
func (s *Store) PutServer(cfg mcpadapter.ServerConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	args, err := json.Marshal(cfg.Args)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal mcp server args: %w", err)
	}
	env, err := json.Marshal(cfg.Env)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal mcp server env: %w", err)
	}
	requiresApprovalN := 0
	if cfg.RequiresApproval {
		requiresApprovalN = 1
	}
	now := time.Now().Unix()
	_, err = s.db.Exec(
		`INSERT INTO mcp_servers (id, name, toolset_id, transport, command, args, env, url, requires_approval, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, toolset_id = excluded.toolset_id, transport = excluded.transport,
			command = excluded.command, args = excluded.args, env = excluded.env, url = excluded.url,
			requires_approval = excluded.requires_approval, updated_at = excluded.updated_at`,
		cfg.ID, cfg.Name, cfg.ToolsetID, cfg.Transport, cfg.Command, string(args), string(env), cfg.URL, requiresApprovalN, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: put mcp server: %w", err)
	}
	return cfg.ID, nil
}

// DeleteServer removes a configured MCP server.
func (s *Store) DeleteServer(id string) error {
	if _, err := s.db.Exec(`DELETE FROM mcp_servers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete mcp server: %w", err)
	}
	return nil
}
