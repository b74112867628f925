package hooks

import (
	"time"

	"github.com/covalt-run/flowruntime/events"
)

type (
	// Event is the interface every hook event implements. The Flow
	// Executor and orchestrator publish events through the Bus; the
	// Broadcaster and persistence sink receive them via HandleEvent and
	// type-switch on the concrete struct to read event-specific fields.
	Event interface {
		// Key identifies the event in the Runtime Events Contract; Name
		// resolves the canonical wire name actually placed on the stream.
		Key() events.Key
		RunID() string
		ChatID() string
		Timestamp() int64
	}

	// RunStartedEvent fires when the orchestrator begins a new turn.
	RunStartedEvent struct {
		baseEvent
		MessageID string
	}

	// AssistantMessageIDEvent fires once the assistant message row exists,
	// letting clients correlate subsequent content with it before the run
	// completes.
	AssistantMessageIDEvent struct {
		baseEvent
		MessageID string
	}

	// RunContentEvent carries one content delta (a token chunk, a
	// complete block) emitted by the active node.
	RunContentEvent struct {
		baseEvent
		NodeID  string
		Content any
	}

	// SeedBlocksEvent fires for continue_run, carrying the prior content
	// blocks a new sibling message is seeded with (trailing errors
	// already stripped).
	SeedBlocksEvent struct {
		baseEvent
		Blocks []any
	}

	// FlowNodeStartedEvent fires when the Flow Executor begins a node.
	FlowNodeStartedEvent struct {
		baseEvent
		NodeID   string
		NodeType string
	}

	// FlowNodeCompletedEvent fires when a node's execute hook returns
	// without error.
	FlowNodeCompletedEvent struct {
		baseEvent
		NodeID   string
		NodeType string
		Duration time.Duration
	}

	// FlowNodeResultEvent carries a node's final ExecutionResult payload,
	// separate from FlowNodeCompleted so subscribers that only care about
	// lifecycle can ignore result payloads entirely.
	FlowNodeResultEvent struct {
		baseEvent
		NodeID string
		Result any
	}

	// FlowNodeErrorEvent fires when a node's execute hook returns an
	// error. Whether the run continues depends on the node's on_error
	// policy; this event always fires regardless.
	FlowNodeErrorEvent struct {
		baseEvent
		NodeID  string
		Message string
	}

	// ToolCallStartedEvent fires when a tool invocation begins.
	ToolCallStartedEvent struct {
		baseEvent
		ToolCallID string
		ToolName   string
		Arguments  any
	}

	// ToolCallCompletedEvent fires when a tool invocation succeeds.
	ToolCallCompletedEvent struct {
		baseEvent
		ToolCallID string
		ToolName   string
		Result     any
	}

	// ToolCallFailedEvent fires when a tool invocation fails in a way the
	// executor treats as recoverable (the run may retry or continue).
	ToolCallFailedEvent struct {
		baseEvent
		ToolCallID string
		ToolName   string
		Message    string
	}

	// ToolCallErrorEvent fires when a tool invocation fails in a way the
	// executor treats as fatal for the turn.
	ToolCallErrorEvent struct {
		baseEvent
		ToolCallID string
		ToolName   string
		Message    string
	}

	// ToolApprovalRequiredEvent fires when a tool call must pause for
	// human approval before dispatch.
	ToolApprovalRequiredEvent struct {
		baseEvent
		ApprovalID string
		ToolCallID string
		ToolName   string
		Arguments  any
	}

	// ToolApprovalResolvedEvent fires once an approval waiter is released,
	// whether by response or timeout. Status is one of "approved",
	// "denied", or "timeout".
	ToolApprovalResolvedEvent struct {
		baseEvent
		ApprovalID string
		Status     string
		EditedArgs any
	}

	// MemberRunStartedEvent fires when a sub-agent node begins its own
	// nested run.
	MemberRunStartedEvent struct {
		baseEvent
		NodeID      string
		MemberAgent string
	}

	// MemberRunCompletedEvent fires when a sub-agent run finishes
	// successfully.
	MemberRunCompletedEvent struct {
		baseEvent
		NodeID      string
		MemberAgent string
	}

	// MemberRunErrorEvent fires when a sub-agent run fails.
	MemberRunErrorEvent struct {
		baseEvent
		NodeID      string
		MemberAgent string
		Message     string
	}

	// ReasoningStartedEvent fires when a model begins emitting a
	// reasoning (chain-of-thought) segment.
	ReasoningStartedEvent struct {
		baseEvent
		NodeID string
	}

	// ReasoningStepEvent carries one reasoning delta.
	ReasoningStepEvent struct {
		baseEvent
		NodeID string
		Delta  string
	}

	// ReasoningCompletedEvent fires when a reasoning segment ends.
	ReasoningCompletedEvent struct {
		baseEvent
		NodeID string
	}

	// RunCompletedEvent fires when a turn finishes successfully.
	RunCompletedEvent struct {
		baseEvent
		Response any
	}

	// RunCancelledEvent fires when a turn is stopped by cooperative
	// cancellation rather than an error.
	RunCancelledEvent struct {
		baseEvent
	}

	// RunErrorEvent fires when a turn is stopped by an unrecovered error.
	// Message is the cleaned error text (provider JSON errors unwrapped
	// to their message field).
	RunErrorEvent struct {
		baseEvent
		Message string
	}

	// StreamNotActiveEvent fires when a client asks to subscribe to a
	// chat with no registered active stream.
	StreamNotActiveEvent struct {
		baseEvent
	}

	// StreamSubscribedEvent fires once a subscriber's replay buffer has
	// been delivered and it has joined the live fan-out.
	StreamSubscribedEvent struct {
		baseEvent
		ReplayedCount int
	}

	// baseEvent holds the fields common to every event type. Embedded
	// anonymously so each concrete struct gets RunID/ChatID/Timestamp for
	// free; Key is supplied per type by its own Key method.
	baseEvent struct {
		runID     string
		chatID    string
		timestamp int64
	}
)

func newBaseEvent(runID, chatID string) baseEvent {
	return baseEvent{runID: runID, chatID: chatID, timestamp: time.Now().UnixMilli()}
}

// RunID returns the owning run's identifier.
func (e baseEvent) RunID() string { return e.runID }

// ChatID returns the owning chat's identifier.
func (e baseEvent) ChatID() string { return e.chatID }

// Timestamp returns the Unix timestamp in milliseconds when the event was
// constructed.
func (e baseEvent) Timestamp() int64 { return e.timestamp }

// Constructors. Each mirrors the shape of the event it builds; all stamp
// the current time via newBaseEvent.

func NewRunStartedEvent(runID, chatID, messageID string) *RunStartedEvent {
	return &RunStartedEvent{baseEvent: newBaseEvent(runID, chatID), MessageID: messageID}
}

func NewAssistantMessageIDEvent(runID, chatID, messageID string) *AssistantMessageIDEvent {
	return &AssistantMessageIDEvent{baseEvent: newBaseEvent(runID, chatID), MessageID: messageID}
}

func NewRunContentEvent(runID, chatID, nodeID string, content any) *RunContentEvent {
	return &RunContentEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID, Content: content}
}

func NewSeedBlocksEvent(runID, chatID string, blocks []any) *SeedBlocksEvent {
	return &SeedBlocksEvent{baseEvent: newBaseEvent(runID, chatID), Blocks: blocks}
}

func NewFlowNodeStartedEvent(runID, chatID, nodeID, nodeType string) *FlowNodeStartedEvent {
	return &FlowNodeStartedEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID, NodeType: nodeType}
}

func NewFlowNodeCompletedEvent(runID, chatID, nodeID, nodeType string, duration time.Duration) *FlowNodeCompletedEvent {
	return &FlowNodeCompletedEvent{
		baseEvent: newBaseEvent(runID, chatID),
		NodeID:    nodeID,
		NodeType:  nodeType,
		Duration:  duration,
	}
}

func NewFlowNodeResultEvent(runID, chatID, nodeID string, result any) *FlowNodeResultEvent {
	return &FlowNodeResultEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID, Result: result}
}

func NewFlowNodeErrorEvent(runID, chatID, nodeID, message string) *FlowNodeErrorEvent {
	return &FlowNodeErrorEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID, Message: message}
}

func NewToolCallStartedEvent(runID, chatID, toolCallID, toolName string, args any) *ToolCallStartedEvent {
	return &ToolCallStartedEvent{
		baseEvent:  newBaseEvent(runID, chatID),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Arguments:  args,
	}
}

func NewToolCallCompletedEvent(runID, chatID, toolCallID, toolName string, result any) *ToolCallCompletedEvent {
	return &ToolCallCompletedEvent{
		baseEvent:  newBaseEvent(runID, chatID),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Result:     result,
	}
}

func NewToolCallFailedEvent(runID, chatID, toolCallID, toolName, message string) *ToolCallFailedEvent {
	return &ToolCallFailedEvent{
		baseEvent:  newBaseEvent(runID, chatID),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Message:    message,
	}
}

func NewToolCallErrorEvent(runID, chatID, toolCallID, toolName, message string) *ToolCallErrorEvent {
	return &ToolCallErrorEvent{
		baseEvent:  newBaseEvent(runID, chatID),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Message:    message,
	}
}

func NewToolApprovalRequiredEvent(runID, chatID, approvalID, toolCallID, toolName string, args any) *ToolApprovalRequiredEvent {
	return &ToolApprovalRequiredEvent{
		baseEvent:  newBaseEvent(runID, chatID),
		ApprovalID: approvalID,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Arguments:  args,
	}
}

func NewToolApprovalResolvedEvent(runID, chatID, approvalID, status string, editedArgs any) *ToolApprovalResolvedEvent {
	return &ToolApprovalResolvedEvent{
		baseEvent:  newBaseEvent(runID, chatID),
		ApprovalID: approvalID,
		Status:     status,
		EditedArgs: editedArgs,
	}
}

func NewMemberRunStartedEvent(runID, chatID, nodeID, memberAgent string) *MemberRunStartedEvent {
	return &MemberRunStartedEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID, MemberAgent: memberAgent}
}

func NewMemberRunCompletedEvent(runID, chatID, nodeID, memberAgent string) *MemberRunCompletedEvent {
	return &MemberRunCompletedEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID, MemberAgent: memberAgent}
}

func NewMemberRunErrorEvent(runID, chatID, nodeID, memberAgent, message string) *MemberRunErrorEvent {
	return &MemberRunErrorEvent{
		baseEvent:   newBaseEvent(runID, chatID),
		NodeID:      nodeID,
		MemberAgent: memberAgent,
		Message:     message,
	}
}

func NewReasoningStartedEvent(runID, chatID, nodeID string) *ReasoningStartedEvent {
	return &ReasoningStartedEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID}
}

func NewReasoningStepEvent(runID, chatID, nodeID, delta string) *ReasoningStepEvent {
	return &ReasoningStepEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID, Delta: delta}
}

func NewReasoningCompletedEvent(runID, chatID, nodeID string) *ReasoningCompletedEvent {
	return &ReasoningCompletedEvent{baseEvent: newBaseEvent(runID, chatID), NodeID: nodeID}
}

func NewRunCompletedEvent(runID, chatID string, response any) *RunCompletedEvent {
	return &RunCompletedEvent{baseEvent: newBaseEvent(runID, chatID), Response: response}
}

func NewRunCancelledEvent(runID, chatID string) *RunCancelledEvent {
	return &RunCancelledEvent{baseEvent: newBaseEvent(runID, chatID)}
}

func NewRunErrorEvent(runID, chatID, message string) *RunErrorEvent {
	return &RunErrorEvent{baseEvent: newBaseEvent(runID, chatID), Message: message}
}

func NewStreamNotActiveEvent(chatID string) *StreamNotActiveEvent {
	return &StreamNotActiveEvent{baseEvent: newBaseEvent("", chatID)}
}

func NewStreamSubscribedEvent(chatID string, replayedCount int) *StreamSubscribedEvent {
	return &StreamSubscribedEvent{baseEvent: newBaseEvent("", chatID), ReplayedCount: replayedCount}
}

// Key method implementations, one per concrete event type.

func (e *RunStartedEvent) Key() events.Key             { return events.KeyRunStarted }
func (e *AssistantMessageIDEvent) Key() events.Key     { return events.KeyAssistantMessageID }
func (e *RunContentEvent) Key() events.Key             { return events.KeyRunContent }
func (e *SeedBlocksEvent) Key() events.Key             { return events.KeySeedBlocks }
func (e *FlowNodeStartedEvent) Key() events.Key        { return events.KeyFlowNodeStarted }
func (e *FlowNodeCompletedEvent) Key() events.Key      { return events.KeyFlowNodeCompleted }
func (e *FlowNodeResultEvent) Key() events.Key         { return events.KeyFlowNodeResult }
func (e *FlowNodeErrorEvent) Key() events.Key          { return events.KeyFlowNodeError }
func (e *ToolCallStartedEvent) Key() events.Key        { return events.KeyToolCallStarted }
func (e *ToolCallCompletedEvent) Key() events.Key      { return events.KeyToolCallCompleted }
func (e *ToolCallFailedEvent) Key() events.Key         { return events.KeyToolCallFailed }
func (e *ToolCallErrorEvent) Key() events.Key          { return events.KeyToolCallError }
func (e *ToolApprovalRequiredEvent) Key() events.Key   { return events.KeyToolApprovalRequired }
func (e *ToolApprovalResolvedEvent) Key() events.Key   { return events.KeyToolApprovalResolved }
func (e *MemberRunStartedEvent) Key() events.Key       { return events.KeyMemberRunStarted }
func (e *MemberRunCompletedEvent) Key() events.Key     { return events.KeyMemberRunCompleted }
func (e *MemberRunErrorEvent) Key() events.Key         { return events.KeyMemberRunError }
func (e *ReasoningStartedEvent) Key() events.Key       { return events.KeyReasoningStarted }
func (e *ReasoningStepEvent) Key() events.Key          { return events.KeyReasoningStep }
func (e *ReasoningCompletedEvent) Key() events.Key     { return events.KeyReasoningCompleted }
func (e *RunCompletedEvent) Key() events.Key           { return events.KeyRunCompleted }
func (e *RunCancelledEvent) Key() events.Key           { return events.KeyRunCancelled }
func (e *RunErrorEvent) Key() events.Key               { return events.KeyRunError }
func (e *StreamNotActiveEvent) Key() events.Key        { return events.KeyStreamNotActive }
func (e *StreamSubscribedEvent) Key() events.Key       { return events.KeyStreamSubscribed }
