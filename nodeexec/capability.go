// Package nodeexec defines the capability interfaces a node executor may
// implement, the per-run contexts passed to them, and the registry/catalog
// that looks executors up by node type. Node executors are looked up
// structurally: the Flow Executor and Graph Runtime check which interfaces
// a registered executor satisfies rather than branching on node type.
package nodeexec

import (
	"context"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/hooks"
)

// RuntimeAPI is the graph lookup and link/materialization surface exposed
// to node executors. graphruntime.Runtime implements this; it is defined
// here (the consumer side) rather than in graphruntime so this package
// never needs to import graphruntime.
type RuntimeAPI interface {
	GetNode(nodeID string) (graph.Node, error)
	IncomingEdges(nodeID string, opts ...EdgeFilterOption) []graph.Edge
	OutgoingEdges(nodeID string, opts ...EdgeFilterOption) []graph.Edge
	ResolveLinks(ctx context.Context, nodeID, targetHandle string) ([]any, error)
	MaterializeOutput(ctx context.Context, nodeID, outputHandle string) (any, error)
	CacheGet(namespace, key string) (any, bool)
	CacheSet(namespace, key string, value any)
}

// EdgeFilterOption narrows an edge lookup by channel and/or handle. See
// graphruntime.WithChannel / WithTargetHandle / WithSourceHandle.
type EdgeFilterOption func(*EdgeFilter)

// EdgeFilter is the resolved filter state an EdgeFilterOption mutates.
// Exported so graphruntime (which implements the filtering) and nodeexec
// (which only needs to describe the option shape) share one definition
// without an import cycle.
type EdgeFilter struct {
	Channel *graph.Channel
	Handle  *string
}

// FlowContext is provided to a FlowExecutor/LinkMaterializer invocation: the
// node's identity, the owning run and chat, shared run state, and the
// RuntimeAPI handle for link resolution and materialization.
//
// Bus lets an executor publish canonical wire events directly instead of
// through the generic NodeEvent translation: the agent node is the
// motivating case (tool calls, reasoning steps, member runs) since those
// events carry typed fields NodeEvent's Data map cannot hold safely. Bus
// is nil outside a run (e.g. build-time RuntimeConfigurator/StructuralBuilder
// calls never populate FlowContext.Bus since those run before any Handle or
// stream exists).
type FlowContext struct {
	NodeID  string
	ChatID  string
	RunID   string
	State   any
	Runtime RuntimeAPI
	Tools   ToolRegistry
	Bus     hooks.Bus
}

// BuildContext is provided to a RuntimeConfigurator hook at agent
// build/compile time, before any run exists.
type BuildContext struct {
	Mode      string
	GraphData graph.Graph
	NodeID    string
}

// ToolRegistry looks up tool callables and approval metadata by id. Kept
// deliberately small and defined here (rather than a dedicated package)
// since the concrete tool registry lives outside the runtime core.
type ToolRegistry interface {
	Lookup(id string) (ToolHandle, bool)
}

// ToolHandle is what the registry returns for a known tool id.
type ToolHandle struct {
	ID                 string
	RequiresApproval   bool
	ApprovalConditions map[string]any
}

// ToolDescriptor is one concrete, model-callable tool a coarse tool id
// (a toolset, an MCP server) expands into. AgentModel implementations use
// this to build the provider-facing tool definitions for every
// AgentToolRef in a run; ToolCaller.Call is later invoked with the same
// CallID a descriptor advertises.
type ToolDescriptor struct {
	CallID      string
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolExpander lists the concrete callable tools a coarse id (an
// AgentToolRef.ID such as "mcp:<server>") resolves to. A ToolRegistry that
// doesn't implement this is assumed to already be call-ready under its own
// id (a single toolset function, for instance).
type ToolExpander interface {
	Expand(ctx context.Context, id string) ([]ToolDescriptor, error)
}

// ToolCaller executes a concrete tool call id (as advertised by Lookup or
// ToolExpander.Expand) with the provider-supplied arguments, returning the
// tool's result rendered as a string for the model to read back.
type ToolCaller interface {
	Call(ctx context.Context, id string, args map[string]any) (string, error)
}

// NodeStep is the single sum type a streaming FlowExecutor yields, combining
// the original's two async-generator element types (NodeEvent |
// ExecutionResult) into one tagged union so Go code can range over a
// channel of NodeStep without a type switch at every call site.
type NodeStep struct {
	Event  *datamodel.NodeEvent
	Result *datamodel.ExecutionResult
}

type (
	// FlowExecutor runs a node's execute phase as a stream: given its
	// config data and gathered inputs, it yields a sequence of NodeSteps
	// (events and, at most once, a terminal ExecutionResult) over the
	// returned channel. The Flow Executor forwards every step verbatim.
	FlowExecutor interface {
		NodeType() string
		Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx FlowContext) (<-chan NodeStep, error)
	}

	// SingleShotExecutor runs a node's execute phase synchronously,
	// returning one ExecutionResult. The Flow Executor wraps the call in
	// started -> completed NodeEvents automatically; a node registered
	// with both this and FlowExecutor is dispatched as a FlowExecutor.
	SingleShotExecutor interface {
		NodeType() string
		Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx FlowContext) (datamodel.ExecutionResult, error)
	}

	// LinkMaterializer resolves a node's structural (link-channel) output
	// into an artifact — a tool, sub-agent, or model handle — on demand.
	LinkMaterializer interface {
		NodeType() string
		Materialize(ctx context.Context, data map[string]any, outputHandle string, fctx FlowContext) (any, error)
	}

	// RuntimeConfigurator runs at build time, before any run exists, to
	// let a node type influence how the compiled graph is wired (e.g.
	// registering a webhook route).
	RuntimeConfigurator interface {
		NodeType() string
		ConfigureRuntime(ctx context.Context, data map[string]any, bctx BuildContext) error
	}

	// StructuralBuilder participates in building the compiled graph
	// itself, ahead of RuntimeConfigurator, for node types that need to
	// inject additional nodes or edges (e.g. a sub-agent's nested graph).
	StructuralBuilder interface {
		NodeType() string
		BuildStructure(ctx context.Context, data map[string]any, bctx BuildContext) (*graph.Graph, error)
	}

	// RouteInitializer registers a node's HTTP-facing route at startup
	// (webhook triggers, node-owned routes), independent of any one run.
	RouteInitializer interface {
		NodeType() string
		InitRoutes(ctx context.Context, nodeID string, data map[string]any) error
	}

	// MetadataBuilder runs at Phase-1 structural compile time for nodes
	// that contribute passthrough metadata to the owning agent rather
	// than an Agent/Tools artifact (chat-start's includeUserTools flag).
	MetadataBuilder interface {
		NodeType() string
		BuildMetadata(ctx context.Context, data map[string]any, bctx BuildContext) (MetadataResult, error)
	}

	// ToolsBuilder runs at Phase-1 structural compile time for nodes that
	// resolve a batch of tool ids into the owning agent (toolset,
	// mcp-server).
	ToolsBuilder interface {
		NodeType() string
		BuildTools(ctx context.Context, data map[string]any, bctx BuildContext) (ToolsResult, error)
	}
)
