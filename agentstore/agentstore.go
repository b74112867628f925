// Package agentstore implements agent graph persistence:
// create/save/delete a named agent graph, keep the Node Route Index
// current as graphs change, and resolve the two graph sources the
// orchestrator runs against — a chat's own canonical single-agent graph,
// or an explicitly saved multi-node agent graph.
package agentstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/routeindex"
)

// DB is the subset of *sql.DB (or *sqlite.Store via its DB() accessor)
// this package needs; kept narrow so it doesn't import store/sqlite
// directly and create a dependency cycle with any future caller that
// wires both packages together.
type DB interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Summary is an agent's listing-view metadata (full graph_data omitted),
// matching list_agents' trimmed projection.
type Summary struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatConfigReader supplies a chat's persisted agent/model selection,
// letting GraphForChat resolve a chat's graph without this package
// depending on store/sqlite's own ChatAgentConfig representation.
type ChatConfigReader interface {
	ChatAgentSelection(chatID string) (agentID string, cfg ChatModelConfig, err error)
}

// SettingsReader supplies the global system-prompt override baked into
// every canonical chat graph.
type SettingsReader interface {
	GetSetting(key string) (value string, ok bool, err error)
}

// systemPromptSettingKey is the settings table key holding the
// operator-configured system prompt prepended to every canonical chat
// graph's agent instructions.
const systemPromptSettingKey = "system_prompt"

// Store persists agent graphs and keeps routes current in an Index as
// graphs are saved or removed.
type Store struct {
	db       DB
	norm     *graph.Normalizer
	routes   *routeindex.Index
	chats    ChatConfigReader
	settings SettingsReader
}

// New constructs a Store over db, normalizing every graph through norm
// (or a fresh graph.Normalizer if nil) and indexing routes into routes
// (or a fresh routeindex.Index if nil). chats and settings back
// GraphForChat; either may be nil if the caller never resolves chat
// graphs through this Store (e.g. a process that only manages saved
// agents directly).
func New(db DB, norm *graph.Normalizer, routes *routeindex.Index, chats ChatConfigReader, settings SettingsReader) *Store {
	if norm == nil {
		norm = graph.NewNormalizer()
	}
	if routes == nil {
		routes = routeindex.New(nil)
	}
	return &Store{db: db, norm: norm, routes: routes, chats: chats, settings: settings}
}

// GraphForChat resolves chatID's effective graph, satisfying
// orchestrator.GraphProvider: an explicit "agent:<id>" or bare
// "provider:model_id" modelID overrides the chat's persisted selection
// for this run only (it is not itself persisted — UpdateChatModelSelection
// is the write path for that); otherwise the chat's own persisted
// agent_id wins, falling back to its persisted provider/model pair.
func (s *Store) GraphForChat(chatID, modelID string, modelOptions map[string]any) (graph.Graph, error) {
	var (
		agentID string
		cfg     ChatModelConfig
		err     error
	)
	if s.chats != nil {
		agentID, cfg, err = s.chats.ChatAgentSelection(chatID)
		if err != nil {
			return graph.Graph{}, err
		}
	}

	if modelID != "" {
		if rest, ok := strings.CutPrefix(modelID, "agent:"); ok {
			agentID = rest
		} else {
			provider, model := cfg.Provider, modelID
			if p, m, ok := strings.Cut(modelID, ":"); ok {
				provider, model = p, m
			}
			return s.buildCanonicalGraph(ChatModelConfig{
				Provider: provider, ModelID: model,
				Instructions: cfg.Instructions, Name: cfg.Name, Description: cfg.Description,
			}, modelOptions)
		}
	}

	if agentID != "" {
		g, ok, err := s.GraphForAgent(agentID)
		if err != nil {
			return graph.Graph{}, err
		}
		if !ok {
			return graph.Graph{}, errkind.Newf(errkind.Resolution, "agent %q not found", agentID)
		}
		return g, nil
	}

	return s.buildCanonicalGraph(cfg, modelOptions)
}

func (s *Store) buildCanonicalGraph(cfg ChatModelConfig, modelOptions map[string]any) (graph.Graph, error) {
	systemPrompt := ""
	if s.settings != nil {
		if v, ok, err := s.settings.GetSetting(systemPromptSettingKey); err != nil {
			return graph.Graph{}, err
		} else if ok {
			systemPrompt = v
		}
	}
	return BuildCanonicalChatGraph(cfg, systemPrompt, modelOptions)
}

// List returns every saved agent's summary metadata, most recently
// updated first.
func (s *Store) List() ([]Summary, error) {
	rows, err := s.db.Query(`SELECT id, name, description, created_at, updated_at FROM agents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("agentstore: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var createdAt, updatedAt int64
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.Description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("agentstore: scan: %w", err)
		}
		sm.CreatedAt = time.Unix(createdAt, 0)
		sm.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// GraphForAgent loads agentID's saved graph, satisfying
// orchestrator.GraphProvider.
func (s *Store) GraphForAgent(agentID string) (graph.Graph, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT graph_data FROM agents WHERE id = ?`, agentID).Scan(&raw)
	if err == sql.ErrNoRows {
		return graph.Graph{}, false, nil
	}
	if err != nil {
		return graph.Graph{}, false, fmt.Errorf("agentstore: get agent: %w", err)
	}
	var g graph.Graph
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return graph.Graph{}, false, fmt.Errorf("agentstore: unmarshal graph: %w", err)
	}
	return g, true, nil
}

// Create persists a brand-new agent with the default Chat Start -> Agent
// graph, returning its id.
func (s *Store) Create(name, description string) (string, error) {
	agentID := uuid.NewString()
	g, err := s.norm.Normalize(defaultAgentNodes(), defaultAgentEdges())
	if err != nil {
		return "", err
	}
	if err := s.persist(agentID, name, description, g, true); err != nil {
		return "", err
	}
	return agentID, nil
}

// SaveGraph normalizes nodes/edges and overwrites agentID's graph,
// re-indexing its routes. Returns errkind.Resolution if agentID doesn't
// exist yet — callers create an agent first via Create.
func (s *Store) SaveGraph(agentID string, nodes []graph.Node, edges []graph.Edge) (graph.Graph, error) {
	g, err := s.norm.Normalize(nodes, edges)
	if err != nil {
		return graph.Graph{}, err
	}

	encoded, err := json.Marshal(g)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("agentstore: marshal graph: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE agents SET graph_data = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().Unix(), agentID,
	)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("agentstore: save graph: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return graph.Graph{}, errkind.Newf(errkind.Resolution, "agent %q not found", agentID)
	}

	s.routes.UpdateAgentRoutes(agentID, g)
	return g, nil
}

// Delete removes agentID's row and its routes.
func (s *Store) Delete(agentID string) error {
	if _, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, agentID); err != nil {
		return fmt.Errorf("agentstore: delete: %w", err)
	}
	s.routes.RemoveAgentRoutes(agentID)
	return nil
}

// Rebuild reloads every saved agent's graph and rebuilds the route
// index from scratch, for process startup and the reaper's periodic
// consistency sweep.
func (s *Store) Rebuild() error {
	rows, err := s.db.Query(`SELECT id, graph_data FROM agents`)
	if err != nil {
		return fmt.Errorf("agentstore: rebuild: %w", err)
	}
	defer rows.Close()

	agents := make(map[string]graph.Graph)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("agentstore: scan: %w", err)
		}
		var g graph.Graph
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return fmt.Errorf("agentstore: unmarshal graph %q: %w", id, err)
		}
		agents[id] = g
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.routes.Rebuild(agents)
	return nil
}

func (s *Store) persist(agentID, name, description string, g graph.Graph, isNew bool) error {
	encoded, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("agentstore: marshal graph: %w", err)
	}
	now := time.Now().Unix()
	if isNew {
		_, err = s.db.Exec(
			`INSERT INTO agents (id, name, description, graph_data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			agentID, name, description, string(encoded), now, now,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE agents SET name = ?, description = ?, graph_data = ?, updated_at = ? WHERE id = ?`,
			name, description, string(encoded), now, agentID,
		)
	}
	if err != nil {
		return fmt.Errorf("agentstore: persist: %w", err)
	}
	s.routes.UpdateAgentRoutes(agentID, g)
	return nil
}
