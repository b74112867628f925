package nodeexec

import "context"

// MetadataResult is what a StructuralBuilder-less, build-only node (like
// chat-start) returns from its build phase: passthrough metadata with no
// compiled Agent/Tools artifact.
type MetadataResult struct {
	Metadata map[string]any
}

// ToolsResult is what a tool-resolving build-phase node (toolset,
// mcp-server) returns: a batch of tool ids to merge into the owning
// agent/team.
type ToolsResult struct {
	Tools []string
}

// ModelHandle is the abstract streaming model handle the agent and
// llm-completion executors call into. Defined here (consumer side) so
// nodeexec never imports a concrete provider SDK package; modelhandle's
// adapters implement this.
type ModelHandle interface {
	// Stream sends prompt and yields response tokens over the returned
	// channel, closing it when the provider signals completion. The
	// channel is also closed (with err set) on context cancellation.
	Stream(ctx context.Context, prompt string, opts ModelCallOptions) (<-chan ModelToken, error)
}

// ModelCallOptions carries the subset of call parameters the built-in
// executors resolve from node data/inputs, mirroring
// option_validation.py's allowlist.
type ModelCallOptions struct {
	Temperature *float64
	MaxTokens   *int
}

// ModelToken is one increment of a ModelHandle stream: either a text
// delta or a terminal error.
type ModelToken struct {
	Text string
	Err  error
	Done bool
}

// ModelResolver resolves a "provider:model_id" string into a ModelHandle.
type ModelResolver interface {
	Resolve(modelStr string) (ModelHandle, error)
}

// CodeSandbox runs the code node's user-authored JavaScript in isolation,
// injecting input/trigger/upstream-output bindings and returning a
// JSON-safe result. sandbox/docker provides the concrete implementation.
type CodeSandbox interface {
	Eval(ctx context.Context, code string, input, trigger any, upstreamOutputs map[string]any) (any, error)
}
