package agentstore

import (
	"strings"

	"github.com/covalt-run/flowruntime/graph"
)

func flowEdge(id, source, target string) graph.Edge {
	return graph.Edge{
		ID:           id,
		Source:       source,
		SourceHandle: graph.DefaultSourceHandle,
		Target:       target,
		TargetHandle: graph.DefaultTargetHandle,
		Data:         map[string]any{"channel": string(graph.ChannelFlow)},
	}
}

// defaultAgentNodes/defaultAgentEdges are the Chat Start -> Agent graph a
// brand-new saved agent starts with, matching agent_manager.py's
// DEFAULT_GRAPH.
func defaultAgentNodes() []graph.Node {
	return []graph.Node{
		{ID: "chat-start-1", Type: "chat-start", Position: graph.Position{X: 100, Y: 200}, Data: map[string]any{}},
		{ID: "agent-1", Type: "agent", Position: graph.Position{X: 400, Y: 200}, Data: map[string]any{}},
	}
}

func defaultAgentEdges() []graph.Edge {
	return []graph.Edge{flowEdge("e1", "chat-start-1", "agent-1")}
}

// ChatModelConfig is the minimal per-chat canonical-graph input
// agentstore needs from a chat's persisted ChatAgentConfig, kept as its
// own small struct here so this package doesn't import store/sqlite.
type ChatModelConfig struct {
	Provider     string
	ModelID      string
	Instructions []string
	Name         string
	Description  string
}

// resolveModelRef joins provider/modelID into the "provider:model_id"
// reference the agent node's "model" field expects. A non-empty provider
// is used as given; only when provider is empty is a "provider:model"
// pair embedded in modelID split apart and used instead.
func resolveModelRef(provider, modelID string) string {
	provider = strings.TrimSpace(provider)
	modelID = strings.TrimSpace(modelID)
	if provider == "" {
		if before, after, ok := strings.Cut(modelID, ":"); ok {
			provider, modelID = before, after
		}
	}
	if provider == "" || modelID == "" {
		return ""
	}
	return provider + ":" + modelID
}

// BuildCanonicalChatGraph builds the single Chat Start -> Agent graph a
// chat with no saved agent selection runs against: cfg's provider/model
// and instructions baked directly into the agent node's data, with
// systemPrompt prepended ahead of any per-chat instructions.
func BuildCanonicalChatGraph(cfg ChatModelConfig, systemPrompt string, modelOptions map[string]any) (graph.Graph, error) {
	modelRef := resolveModelRef(cfg.Provider, cfg.ModelID)

	sections := make([]string, 0, len(cfg.Instructions)+1)
	if s := strings.TrimSpace(systemPrompt); s != "" {
		sections = append(sections, s)
	}
	for _, instr := range cfg.Instructions {
		if s := strings.TrimSpace(instr); s != "" {
			sections = append(sections, s)
		}
	}

	name := cfg.Name
	if name == "" {
		name = "Assistant"
	}
	description := cfg.Description
	if description == "" {
		description = "You are a helpful AI assistant."
	}

	agentData := map[string]any{
		"name":        name,
		"description": description,
		"model":       modelRef,
	}
	if len(sections) > 0 {
		agentData["instructions"] = strings.Join(sections, "\n\n")
	}
	for _, key := range []string{"temperature", "max_tokens", "top_p", "frequency_penalty", "presence_penalty", "stop"} {
		if v, ok := modelOptions[key]; ok && v != nil {
			agentData[key] = v
		}
	}

	nodes := []graph.Node{
		{ID: "chat-start-1", Type: "chat-start", Position: graph.Position{X: 120, Y: 160}, Data: map[string]any{"includeUserTools": true}},
		{ID: "agent-1", Type: "agent", Position: graph.Position{X: 420, Y: 160}, Data: agentData},
	}
	edges := []graph.Edge{flowEdge("e-chat-start-1-agent-1", "chat-start-1", "agent-1")}

	norm := graph.NewNormalizer()
	return norm.Normalize(nodes, edges)
}
