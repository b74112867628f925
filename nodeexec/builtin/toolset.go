package builtin

import (
	"context"

	"github.com/covalt-run/flowruntime/nodeexec"
)

// Toolset resolves tools registered under a named toolset into the
// owning agent's tool list.
type Toolset struct {
	Tools nodeexec.ToolRegistry
}

func (Toolset) NodeType() string { return "toolset" }

func (t Toolset) BuildTools(ctx context.Context, data map[string]any, bctx nodeexec.BuildContext) (nodeexec.ToolsResult, error) {
	toolsetID, _ := data["toolset"].(string)
	if toolsetID == "" {
		return nodeexec.ToolsResult{}, nil
	}
	id := "toolset:" + toolsetID
	if t.Tools != nil {
		if _, ok := t.Tools.Lookup(id); !ok {
			return nodeexec.ToolsResult{}, nil
		}
	}
	return nodeexec.ToolsResult{Tools: []string{id}}, nil
}

// Materialize resolves the same toolset id BuildTools does, as a link
// artifact an agent node pulls via resolve_links(self, "tools") at
// runtime rather than at structural compile time.
func (t Toolset) Materialize(ctx context.Context, data map[string]any, outputHandle string, fctx nodeexec.FlowContext) (any, error) {
	toolsetID, _ := data["toolset"].(string)
	if toolsetID == "" {
		return nil, nil
	}
	id := "toolset:" + toolsetID
	if t.Tools != nil {
		if _, ok := t.Tools.Lookup(id); !ok {
			return nil, nil
		}
	}
	return nodeexec.AgentToolRef{ID: id, NodeID: fctx.NodeID, NodeType: t.NodeType()}, nil
}

// MCPServer resolves the tool batch exposed by a named MCP server.
type MCPServer struct {
	Tools nodeexec.ToolRegistry
}

func (MCPServer) NodeType() string { return "mcp-server" }

func (m MCPServer) BuildTools(ctx context.Context, data map[string]any, bctx nodeexec.BuildContext) (nodeexec.ToolsResult, error) {
	serverID, _ := data["server"].(string)
	if serverID == "" {
		return nodeexec.ToolsResult{}, nil
	}
	id := "mcp:" + serverID
	if m.Tools != nil {
		if _, ok := m.Tools.Lookup(id); !ok {
			return nodeexec.ToolsResult{}, nil
		}
	}
	return nodeexec.ToolsResult{Tools: []string{id}}, nil
}

// Materialize resolves the same MCP server id BuildTools does, as a link
// artifact an agent node pulls via resolve_links(self, "tools") at
// runtime rather than at structural compile time.
func (m MCPServer) Materialize(ctx context.Context, data map[string]any, outputHandle string, fctx nodeexec.FlowContext) (any, error) {
	serverID, _ := data["server"].(string)
	if serverID == "" {
		return nil, nil
	}
	id := "mcp:" + serverID
	if m.Tools != nil {
		if _, ok := m.Tools.Lookup(id); !ok {
			return nil, nil
		}
	}
	return nodeexec.AgentToolRef{ID: id, NodeID: fctx.NodeID, NodeType: m.NodeType()}, nil
}
