package nodeexec

import "context"

// AgentToolRef is one tool or sub-agent artifact resolved onto an agent
// node's "tools" link handle, returned by a LinkMaterializer (toolset,
// mcp-server, or another agent node materializing itself as a Team
// member). The materializer tags the tools-vs-sub-agents partition
// explicitly rather than leaving consumers to type-switch on the
// artifact.
type AgentToolRef struct {
	ID         string
	NodeID     string
	NodeType   string
	IsSubAgent bool
	SubAgent   *AgentSpec
}

// AgentSpec is a sub-agent's resolved configuration, built recursively by
// the agent node's own Materialize so a Team's member is fully specified
// without a back-reference into the graph.
type AgentSpec struct {
	Name         string
	Model        string
	Temperature  *float64
	Instructions string
	Tools        []AgentToolRef
}

// AgentRunRequest is what the agent node executor hands to an AgentModel
// to start a run, gathered from resolved node data/inputs/links.
type AgentRunRequest struct {
	Name         string
	Model        string
	Temperature  *float64
	Instructions string
	Message      string
	History      []AgentHistoryMessage
	Tools        []AgentToolRef
}

// AgentHistoryMessage is one prior turn folded into an agent run's
// context, mirroring _coerce_messages' Message shape.
type AgentHistoryMessage struct {
	Role    string
	Content string
}

// AgentChunkKind tags the shape of one AgentChunk, mirroring the
// original's event_name switch (RunContent, ReasoningStarted/Step/
// Completed, ToolCallStarted/Completed, RunPaused, MemberRun*,
// RunCompleted/Error/Cancelled) collapsed into one Go sum type, the same
// NodeStep-style generalization FlowExecutor already uses.
type AgentChunkKind string

const (
	AgentChunkText             AgentChunkKind = "text"
	AgentChunkReasoningStarted AgentChunkKind = "reasoning_started"
	AgentChunkReasoningStep    AgentChunkKind = "reasoning_step"
	AgentChunkReasoningDone    AgentChunkKind = "reasoning_completed"
	AgentChunkToolCallStarted  AgentChunkKind = "tool_call_started"
	AgentChunkToolCallDone     AgentChunkKind = "tool_call_completed"
	AgentChunkToolCallFailed   AgentChunkKind = "tool_call_failed"
	AgentChunkApprovalRequired AgentChunkKind = "approval_required"
	AgentChunkMemberStarted    AgentChunkKind = "member_started"
	AgentChunkMemberDone       AgentChunkKind = "member_completed"
	AgentChunkMemberError      AgentChunkKind = "member_error"
	AgentChunkDone             AgentChunkKind = "done"
	AgentChunkCancelled        AgentChunkKind = "cancelled"
	AgentChunkError            AgentChunkKind = "error"
)

// AgentPendingApproval is one tool call awaiting an approval decision,
// carried on an AgentChunkApprovalRequired chunk.
type AgentPendingApproval struct {
	ToolCallID   string
	ToolName     string
	Args         map[string]any
	EditableArgs []string
}

// AgentToolCall describes a tool invocation's started/completed/failed
// state, carried on the matching AgentChunk kinds.
type AgentToolCall struct {
	ID       string
	ToolName string
	Args     map[string]any
	Result   string
	Error    string
}

// AgentMember identifies the sub-agent a Member* chunk belongs to.
type AgentMember struct {
	RunID  string
	Name   string
	NodeID string
}

// AgentChunk is the single value an AgentModel stream yields.
type AgentChunk struct {
	Kind       AgentChunkKind
	RunID      string // provider-issued run id, bound for cancellation/approval correlation
	Text       string
	Reasoning  string
	Tool       *AgentToolCall
	Pending    []AgentPendingApproval
	Member     *AgentMember
	FinalText  string
	Err        error
}

// AgentToolDecision resolves one pending approval, built from a
// runctl.ApprovalResponse.
type AgentToolDecision struct {
	ToolCallID string
	Approved   bool
	EditedArgs map[string]any
}

// AgentModel runs one agent/team turn as a stream, suspending at an
// approval-required chunk until Resume is called with the caller's
// decisions. modelhandle's adapters provide the concrete
// provider-backed implementation.
type AgentModel interface {
	Run(ctx context.Context, req AgentRunRequest) (<-chan AgentChunk, error)
	Resume(ctx context.Context, runID string, decisions []AgentToolDecision) (<-chan AgentChunk, error)
}

// AgentResolver resolves a "provider:model_id" string into an AgentModel,
// the agent-node counterpart to ModelResolver.
type AgentResolver interface {
	Resolve(modelStr string) (AgentModel, error)
}
