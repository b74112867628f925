// Package mcpadapter backs the "mcp-server" node: connecting to operator-
// configured MCP servers, exposing the tools each one advertises as
// call-ready AgentToolRef targets, and dispatching the provider's actual
// tool-call requests over the session.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	gosdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/covalt-run/flowruntime/nodeexec"
)

// discardHandler discards everything, used when no logger is configured;
// mirrors store/sqlite's own nopLogger shim.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// idPrefix is the AgentToolRef.ID namespace a configured server's tools
// are exposed under, matching the "mcp:{server_id}" id the original's
// executor builds.
const idPrefix = "mcp:"

// ServerConfig is one operator-configured MCP server: either a stdio
// subprocess (Command/Args/Env) or a streamable-HTTP endpoint (URL).
type ServerConfig struct {
	ID               string
	Name             string
	ToolsetID        string
	Transport        string // "stdio" or "http"
	Command          string
	Args             []string
	Env              map[string]string
	URL              string
	RequiresApproval bool
}

// ConfigStore supplies the configured server list at startup; store/sqlite
// implements it.
type ConfigStore interface {
	ListServers() ([]ServerConfig, error)
}

// Session is the subset of an MCP client session this package drives,
// satisfied by *mcp.ClientSession; exported so tests can substitute a fake
// transport without a real subprocess or HTTP endpoint.
type Session interface {
	ListTools(ctx context.Context, params *gosdkmcp.ListToolsParams) (*gosdkmcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *gosdkmcp.CallToolParams) (*gosdkmcp.CallToolResult, error)
	Close() error
}

// Dialer establishes a Session for a configured server. defaultDialer
// does this for real over the SDK's stdio/streamable-HTTP transports;
// tests inject a fake.
type Dialer func(ctx context.Context, cfg ServerConfig) (Session, error)

// Registry connects to every configured MCP server and satisfies
// nodeexec.ToolRegistry, nodeexec.ToolExpander, and nodeexec.ToolCaller
// over those connections: Lookup/Expand see tools named in the
// "mcp:<server>" and "mcp:<server>:<tool>" namespace, Call dispatches the
// second form to the owning session.
type Registry struct {
	dial   Dialer
	logger *slog.Logger

	mu       sync.RWMutex
	configs  map[string]ServerConfig
	sessions map[string]Session
}

var (
	_ nodeexec.ToolRegistry = (*Registry)(nil)
	_ nodeexec.ToolExpander = (*Registry)(nil)
	_ nodeexec.ToolCaller   = (*Registry)(nil)
)

// New constructs a Registry with the real stdio/streamable-HTTP dialer. A
// nil logger discards every log line.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Registry{
		dial:     defaultDialer,
		logger:   logger,
		configs:  make(map[string]ServerConfig),
		sessions: make(map[string]Session),
	}
}

// NewWithDialer constructs a Registry using dial instead of the real MCP
// transports, for tests and alternate transport implementations.
func NewWithDialer(dial Dialer, logger *slog.Logger) *Registry {
	r := New(logger)
	r.dial = dial
	return r
}

// Connect loads every server in cfgs, adding it or replacing the entry
// with the same id; servers already loaded but absent from cfgs are left
// in place. A server that fails to connect is logged and skipped rather than
// failing the whole load, so one misconfigured server doesn't take every
// other tool offline.
func (r *Registry) Connect(ctx context.Context, cfgs []ServerConfig) {
	for _, cfg := range cfgs {
		r.connectOne(ctx, cfg)
	}
}

// ConnectFrom loads the servers store currently has configured.
func (r *Registry) ConnectFrom(ctx context.Context, store ConfigStore) error {
	cfgs, err := store.ListServers()
	if err != nil {
		return fmt.Errorf("mcpadapter: list servers: %w", err)
	}
	r.Connect(ctx, cfgs)
	return nil
}

func (r *Registry) connectOne(ctx context.Context, cfg ServerConfig) {
	session, err := r.dial(ctx, cfg)
	if err != nil {
		r.logger.Error("mcp server connect failed", "server", cfg.ID, "name", cfg.Name, "err", err)
		return
	}
	r.mu.Lock()
	if old, ok := r.sessions[cfg.ID]; ok {
		_ = old.Close()
	}
	r.configs[cfg.ID] = cfg
	r.sessions[cfg.ID] = session
	r.mu.Unlock()
	r.logger.Info("mcp server connected", "server", cfg.ID, "name", cfg.Name)
}

// Disconnect closes serverID's session and forgets its configuration.
func (r *Registry) Disconnect(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[serverID]; ok {
		_ = session.Close()
	}
	delete(r.sessions, serverID)
	delete(r.configs, serverID)
}

// Close disconnects every server, for process shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, session := range r.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcpadapter: close %q: %w", id, err)
		}
	}
	r.sessions = make(map[string]Session)
	r.configs = make(map[string]ServerConfig)
	return firstErr
}

// Lookup satisfies nodeexec.ToolRegistry for both the coarse
// "mcp:<server>" id (the graph-level tool reference the mcp-server node
// materializes) and a fully-qualified "mcp:<server>:<tool>" call id.
func (r *Registry) Lookup(id string) (nodeexec.ToolHandle, bool) {
	serverID, _, ok := r.splitID(id)
	if !ok {
		return nodeexec.ToolHandle{}, false
	}
	r.mu.RLock()
	cfg, connected := r.configs[serverID]
	r.mu.RUnlock()
	if !connected {
		return nodeexec.ToolHandle{}, false
	}
	return nodeexec.ToolHandle{ID: id, RequiresApproval: cfg.RequiresApproval}, true
}

// Expand lists the concrete tools server id (in "mcp:<server>" form)
// currently advertises, satisfying nodeexec.ToolExpander so an AgentModel
// can build one provider-facing tool definition per underlying MCP tool
// instead of treating the whole server as a single opaque callable.
func (r *Registry) Expand(ctx context.Context, id string) ([]nodeexec.ToolDescriptor, error) {
	serverID, _, ok := r.splitID(id)
	if !ok {
		return nil, fmt.Errorf("mcpadapter: not an mcp tool id: %q", id)
	}
	session, err := r.session(serverID)
	if err != nil {
		return nil, err
	}
	result, err := session.ListTools(ctx, &gosdkmcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("mcpadapter: list tools on %q: %w", serverID, err)
	}
	out := make([]nodeexec.ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		out = append(out, nodeexec.ToolDescriptor{
			CallID:      idPrefix + serverID + ":" + tool.Name,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		})
	}
	return out, nil
}

// Call dispatches a "mcp:<server>:<tool>" id to its owning session,
// satisfying nodeexec.ToolCaller. The result's text content blocks are
// joined with newlines; a server returning IsError renders as a Go error
// so the agent node can surface it as a failed tool call.
func (r *Registry) Call(ctx context.Context, id string, args map[string]any) (string, error) {
	serverID, toolName, ok := r.splitID(id)
	if !ok || toolName == "" {
		return "", fmt.Errorf("mcpadapter: call id %q is not a fully-qualified tool id", id)
	}
	session, err := r.session(serverID)
	if err != nil {
		return "", err
	}
	result, err := session.CallTool(ctx, &gosdkmcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcpadapter: call %q on %q: %w", toolName, serverID, err)
	}
	text := renderContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("mcpadapter: %s: %s", toolName, text)
	}
	return text, nil
}

func (r *Registry) session(serverID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[serverID]
	if !ok {
		return nil, fmt.Errorf("mcpadapter: server %q not connected", serverID)
	}
	return session, nil
}

// splitID parses an AgentToolRef/call id into its server id and, for a
// fully-qualified call id, the tool name within it.
func (r *Registry) splitID(id string) (serverID, toolName string, ok bool) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok || rest == "" {
		return "", "", false
	}
	if server, tool, found := strings.Cut(rest, ":"); found {
		return server, tool, true
	}
	return rest, "", true
}

func renderContent(blocks []gosdkmcp.Content) string {
	var sb strings.Builder
	for i, block := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		if text, ok := block.(*gosdkmcp.TextContent); ok {
			sb.WriteString(text.Text)
			continue
		}
		fmt.Fprintf(&sb, "%v", block)
	}
	return sb.String()
}

func schemaToMap(raw any) map[string]any {
	if raw == nil {
		return nil
	}
	schema, ok := raw.(*jsonschema.Schema)
	if !ok {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil
		}
		schema = &jsonschema.Schema{}
		if err := json.Unmarshal(data, schema); err != nil {
			return nil
		}
	}
	if schema == nil {
		return nil
	}
	out := map[string]any{"type": schema.Type}
	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// defaultDialer connects cfg over the real MCP transport: a managed
// subprocess speaking stdio for "stdio" (the default), or a streamable-HTTP
// client for "http".
func defaultDialer(ctx context.Context, cfg ServerConfig) (Session, error) {
	client := gosdkmcp.NewClient(&gosdkmcp.Implementation{Name: "flowruntime", Version: "0.1.0"}, nil)

	var transport gosdkmcp.Transport
	switch cfg.Transport {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcpadapter: server %q: http transport needs a url", cfg.ID)
		}
		transport = &gosdkmcp.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcpadapter: server %q: stdio transport needs a command", cfg.ID)
		}
		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &gosdkmcp.CommandTransport{Command: cmd}
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpadapter: connect %q: %w", cfg.ID, err)
	}
	return session, nil
}
